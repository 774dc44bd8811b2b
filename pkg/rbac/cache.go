package rbac

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DecisionCache memoizes permission decisions per (user, permission, IP)
// for a short TTL. Entries for a user are dropped eagerly when their
// roles, assignments, or applicable policies change.
type DecisionCache struct {
	lru *expirable.LRU[string, Decision]

	// keysByUser tracks live keys per user so InvalidateUser does not
	// have to scan the whole LRU
	mu         sync.Mutex
	keysByUser map[int64]map[string]struct{}
}

// NewDecisionCache creates a decision cache holding up to size entries
// expiring after ttl
func NewDecisionCache(size int, ttl time.Duration) *DecisionCache {
	c := &DecisionCache{
		keysByUser: make(map[int64]map[string]struct{}),
	}
	c.lru = expirable.NewLRU[string, Decision](size, func(key string, _ Decision) {
		c.forget(key)
	}, ttl)
	return c
}

// Get returns a cached decision for the tuple, if present and fresh
func (c *DecisionCache) Get(userID int64, permission, ip string) (Decision, bool) {
	return c.lru.Get(cacheKey(userID, permission, ip))
}

// Put stores a decision for the tuple
func (c *DecisionCache) Put(userID int64, permission, ip string, decision Decision) {
	key := cacheKey(userID, permission, ip)
	c.mu.Lock()
	keys, ok := c.keysByUser[userID]
	if !ok {
		keys = make(map[string]struct{})
		c.keysByUser[userID] = keys
	}
	keys[key] = struct{}{}
	c.mu.Unlock()
	c.lru.Add(key, decision)
}

// InvalidateUser drops every cached decision for the user
func (c *DecisionCache) InvalidateUser(userID int64) {
	c.mu.Lock()
	keys := c.keysByUser[userID]
	delete(c.keysByUser, userID)
	c.mu.Unlock()
	for key := range keys {
		c.lru.Remove(key)
	}
}

// Purge drops all cached decisions. Used after policy or role changes
// whose affected user set is unknown.
func (c *DecisionCache) Purge() {
	c.mu.Lock()
	c.keysByUser = make(map[int64]map[string]struct{})
	c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of live entries
func (c *DecisionCache) Len() int {
	return c.lru.Len()
}

// forget is the LRU eviction callback; it unindexes the evicted key
func (c *DecisionCache) forget(key string) {
	userID, ok := userIDFromKey(key)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if keys, ok := c.keysByUser[userID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.keysByUser, userID)
		}
	}
}

func cacheKey(userID int64, permission, ip string) string {
	return fmt.Sprintf("%d|%s|%s", userID, permission, ip)
}

func userIDFromKey(key string) (int64, bool) {
	idx := strings.IndexByte(key, '|')
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(key[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
