package rbac

import (
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/veilnet/warden/pkg/observability"
)

// ConditionSet is the decoded form of a policy's conditions document.
// Unknown keys in the document are ignored so condition vocabulary can
// grow without breaking older policies.
type ConditionSet struct {
	TimeRange         *TimeRange `json:"time_range,omitempty"`
	IPWhitelist       []string   `json:"ip_whitelist,omitempty"`
	MaxActionsPerHour int        `json:"max_actions_per_hour,omitempty"`
}

// TimeRange restricts a policy to a daily window. Start and End are
// "HH:MM" wall-clock times; a window with End before Start spans
// midnight ("22:00"–"06:00").
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ConditionInput carries the request attributes conditions evaluate
// against
type ConditionInput struct {
	IP  string
	Now time.Time
}

// ParseConditions decodes a conditions document. A nil or empty document
// yields a zero ConditionSet that is satisfied by anything.
func ParseConditions(raw json.RawMessage) (*ConditionSet, error) {
	set := &ConditionSet{}
	if len(raw) == 0 {
		return set, nil
	}
	if err := json.Unmarshal(raw, set); err != nil {
		return nil, err
	}
	return set, nil
}

// Satisfied reports whether every condition in the set holds for the
// input. Conditions fail closed: an unparseable time, a missing or
// invalid client IP against a whitelist, all evaluate to false.
func (c *ConditionSet) Satisfied(input ConditionInput, logger *observability.Logger) bool {
	if c.TimeRange != nil && !c.TimeRange.contains(input.Now, logger) {
		return false
	}
	if len(c.IPWhitelist) > 0 && !ipWhitelisted(c.IPWhitelist, input.IP, logger) {
		return false
	}
	// max_actions_per_hour needs a per-user action counter that the
	// engine does not keep yet; the condition is accepted but not
	// enforced. TODO: back this with the redis rate limiter counters.
	return true
}

func (t *TimeRange) contains(now time.Time, logger *observability.Logger) bool {
	start, err := time.Parse("15:04", t.Start)
	if err != nil {
		logger.WithError(err).WithField("start", t.Start).Warn("Unparseable time_range start, failing closed")
		return false
	}
	end, err := time.Parse("15:04", t.End)
	if err != nil {
		logger.WithError(err).WithField("end", t.End).Warn("Unparseable time_range end, failing closed")
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin <= endMin {
		return minutes >= startMin && minutes < endMin
	}
	// Overnight window
	return minutes >= startMin || minutes < endMin
}

// ipWhitelisted matches the client IP against whitelist entries, each
// either a CIDR block ("10.0.0.0/8") or a single address
func ipWhitelisted(whitelist []string, clientIP string, logger *observability.Logger) bool {
	ip := net.ParseIP(strings.TrimSpace(clientIP))
	if ip == nil {
		logger.WithField("ip", clientIP).Warn("Missing or invalid client IP against ip_whitelist, failing closed")
		return false
	}

	for _, entry := range whitelist {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				logger.WithField("entry", entry).Warn("Invalid ip_whitelist CIDR entry, skipping")
				continue
			}
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}
	return false
}
