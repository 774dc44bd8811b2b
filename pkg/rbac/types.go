package rbac

import (
	"encoding/json"
	"time"
)

// SuperadminLevel is the role level that designates superadmins
const SuperadminLevel = 999

// LegacyAdminLevel is reported for config-based admins with no role rows,
// one above superadmin so they can manage level-999 roles
const LegacyAdminLevel = SuperadminLevel + 1

// MaxRoleLevel bounds the role level range [0, MaxRoleLevel]
const MaxRoleLevel = 999

// MaxPolicyPriority bounds the policy priority range [0, MaxPolicyPriority]
const MaxPolicyPriority = 1000

// Role is a named bundle of wildcard-capable permissions with an
// authority level. Higher level means more powerful.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Level       int       `json:"level"`
	Permissions []string  `json:"permissions"`
	Color       string    `json:"color,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	IsSystem    bool      `json:"is_system"`
	IsActive    bool      `json:"is_active"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleAssignment binds a user to a role. A revoked assignment keeps its
// row with IsActive=false and is reactivated in place on re-grant.
type RoleAssignment struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	AssignedBy *int64     `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`

	// Role is eager-loaded by queries that join admin_roles
	Role *Role `json:"role,omitempty"`
}

// Expired reports whether the assignment has an expiry in the past
func (a *RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// PolicyEffect is the outcome a matching policy produces
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

// Valid reports whether the effect is one of the known values
func (e PolicyEffect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// AccessPolicy is an attribute-based rule evaluated on top of RBAC
// grants. A nil RoleID makes the policy global (applies to all roles).
type AccessPolicy struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	RoleID      *int64          `json:"role_id,omitempty"`
	Priority    int             `json:"priority"`
	Effect      PolicyEffect    `json:"effect"`
	Resource    string          `json:"resource"`
	Actions     []string        `json:"actions"`
	Conditions  json.RawMessage `json:"conditions,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedBy   *int64          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PermissionSummary is the aggregated RBAC view of one user
type PermissionSummary struct {
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
	Level       int      `json:"role_level"`
}

// AdminEntry is one row of the admin listing: a user holding at least
// one active role
type AdminEntry struct {
	UserID    int64    `json:"user_id"`
	RoleNames []string `json:"role_names"`
}

// Decision is the outcome of a permission check. Reason is a
// human-readable explanation suitable for a 403 detail message.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}
