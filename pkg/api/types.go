package api

import (
	"encoding/json"
	"time"
)

// createRoleRequest is the body for POST /api/v1/roles
type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Level       int      `json:"level"`
	Permissions []string `json:"permissions"`
	Color       string   `json:"color"`
	Icon        string   `json:"icon"`
}

// assignRoleRequest is the body for POST /api/v1/assignments
type assignRoleRequest struct {
	UserID    int64      `json:"user_id"`
	RoleID    int64      `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// createPolicyRequest is the body for POST /api/v1/policies
type createPolicyRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	RoleID      *int64          `json:"role_id,omitempty"`
	Priority    int             `json:"priority"`
	Effect      string          `json:"effect"`
	Resource    string          `json:"resource"`
	Actions     []string        `json:"actions"`
	Conditions  json.RawMessage `json:"conditions,omitempty"`
}

// checkPermissionRequest is the body for POST /api/v1/permissions/check
type checkPermissionRequest struct {
	Permission string `json:"permission"`
}

// listResponse wraps paginated collections
type listResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

// deleteResponse reports whether a delete/revoke touched a row
type deleteResponse struct {
	Deleted bool `json:"deleted"`
}
