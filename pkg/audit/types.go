package audit

import (
	"encoding/json"
	"time"
)

// Status represents the outcome of an audited operation
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Well-known action names. Free-form actions are allowed; these cover
// the engine's own operations.
const (
	ActionRoleCreate   = "role.create"
	ActionRoleUpdate   = "role.update"
	ActionRoleDelete   = "role.delete"
	ActionRoleAssign   = "role.assign"
	ActionRoleRevoke   = "role.revoke"
	ActionPolicyCreate = "policy.create"
	ActionPolicyUpdate = "policy.update"
	ActionPolicyDelete = "policy.delete"
	ActionAccessDenied = "access.denied"
)

// Entry represents a single audit log record
type Entry struct {
	ID            int64                  `json:"id"`
	UserID        int64                  `json:"user_id"`
	Action        string                 `json:"action"`
	ResourceType  string                 `json:"resource_type,omitempty"`
	ResourceID    string                 `json:"resource_id,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	IPAddress     string                 `json:"ip_address,omitempty"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	Status        Status                 `json:"status"`
	RequestMethod string                 `json:"request_method,omitempty"`
	RequestPath   string                 `json:"request_path,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ToJSON converts the entry to JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Filter narrows audit log queries. Zero values mean "any".
type Filter struct {
	UserID       *int64
	Action       string // case-insensitive substring match
	ResourceType string
	Status       *Status

	StartTime *time.Time
	EndTime   *time.Time

	Limit  int
	Offset int
}
