package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/veilnet/warden/pkg/observability"
)

// systemRoleProtectedFields cannot be changed on system roles; cosmetic
// fields (description, color, icon) remain editable
var systemRoleProtectedFields = map[string]struct{}{
	"name":        {},
	"level":       {},
	"permissions": {},
	"is_active":   {},
}

// Actor identifies who performs a management operation, with the
// authority level already resolved (legacy admins carry
// LegacyAdminLevel)
type Actor struct {
	UserID int64
	Level  int
}

// Manager wraps the stores with the hierarchy rules: an actor only
// manages roles strictly below their own level, system roles keep their
// identity fields, and the last superadmin cannot be revoked. It also
// keeps the decision cache coherent across mutations.
type Manager struct {
	roles       *RoleStore
	assignments *AssignmentStore
	policies    *PolicyStore
	cache       *DecisionCache
	logger      *observability.Logger
}

// NewManager creates a manager over the three stores. cache may be nil.
func NewManager(roles *RoleStore, assignments *AssignmentStore, policies *PolicyStore, cache *DecisionCache, logger *observability.Logger) *Manager {
	return &Manager{
		roles:       roles,
		assignments: assignments,
		policies:    policies,
		cache:       cache,
		logger:      logger,
	}
}

// Roles exposes the underlying role store for read paths
func (m *Manager) Roles() *RoleStore { return m.roles }

// Assignments exposes the underlying assignment store for read paths
func (m *Manager) Assignments() *AssignmentStore { return m.assignments }

// Policies exposes the underlying policy store for read paths
func (m *Manager) Policies() *PolicyStore { return m.policies }

// CreateRole creates a role after validating its level, its permission
// strings, and that the actor outranks it
func (m *Manager) CreateRole(ctx context.Context, actor Actor, role *Role) error {
	if role.Level < 0 || role.Level > MaxRoleLevel {
		return fmt.Errorf("role level %d out of range [0, %d]: %w", role.Level, MaxRoleLevel, ErrInvalid)
	}
	if role.Level >= actor.Level {
		return fmt.Errorf("cannot create role at level %d: %w", role.Level, ErrForbidden)
	}
	if err := ValidatePermissions(role.Permissions); err != nil {
		return err
	}
	role.IsSystem = false
	role.CreatedBy = &actor.UserID
	return m.roles.CreateRole(ctx, role)
}

// UpdateRole updates a role the actor outranks. Protected fields of
// system roles are rejected with ErrForbidden rather than silently
// skipped.
func (m *Manager) UpdateRole(ctx context.Context, actor Actor, roleID int64, fields map[string]interface{}) (*Role, error) {
	role, err := m.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.Level >= actor.Level {
		return nil, fmt.Errorf("cannot manage role %q at level %d: %w", role.Name, role.Level, ErrForbidden)
	}
	if role.IsSystem {
		for key := range fields {
			if _, protected := systemRoleProtectedFields[key]; protected {
				return nil, fmt.Errorf("field %q of system role %q is immutable: %w", key, role.Name, ErrForbidden)
			}
		}
	}
	if raw, ok := fields["level"]; ok {
		level, err := intField(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid level: %v: %w", err, ErrInvalid)
		}
		if level < 0 || level > MaxRoleLevel {
			return nil, fmt.Errorf("role level %d out of range [0, %d]: %w", level, MaxRoleLevel, ErrInvalid)
		}
		if level >= actor.Level {
			return nil, fmt.Errorf("cannot raise role to level %d: %w", level, ErrForbidden)
		}
	}
	if raw, ok := fields["permissions"]; ok {
		perms, err := stringSliceField(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid permissions: %v: %w", err, ErrInvalid)
		}
		if err := ValidatePermissions(perms); err != nil {
			return nil, err
		}
		fields["permissions"] = perms
	}

	updated, err := m.roles.UpdateRole(ctx, roleID, fields)
	if err != nil {
		return nil, err
	}
	m.purgeCache()
	return updated, nil
}

// DeleteRole deletes a role the actor outranks, with its assignments
// and policies
func (m *Manager) DeleteRole(ctx context.Context, actor Actor, roleID int64) (bool, error) {
	role, err := m.roles.GetRole(ctx, roleID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if role.Level >= actor.Level {
		return false, fmt.Errorf("cannot manage role %q at level %d: %w", role.Name, role.Level, ErrForbidden)
	}

	deleted, err := m.roles.DeleteRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	if deleted {
		m.purgeCache()
	}
	return deleted, nil
}

// AssignRole grants a role the actor outranks to a user
func (m *Manager) AssignRole(ctx context.Context, actor Actor, params AssignParams) (*RoleAssignment, error) {
	role, err := m.roles.GetRole(ctx, params.RoleID)
	if err != nil {
		return nil, err
	}
	if role.Level >= actor.Level {
		return nil, fmt.Errorf("cannot assign role %q at level %d: %w", role.Name, role.Level, ErrForbidden)
	}
	if params.ExpiresAt != nil && !params.ExpiresAt.After(time.Now().UTC()) {
		return nil, fmt.Errorf("expires_at must be in the future: %w", ErrInvalid)
	}
	params.AssignedBy = &actor.UserID

	assignment, err := m.assignments.AssignRole(ctx, params)
	if err != nil {
		return nil, err
	}
	assignment.Role = role
	if m.cache != nil {
		m.cache.InvalidateUser(params.UserID)
	}
	return assignment, nil
}

// RevokeRole revokes an assignment whose role the actor outranks. The
// last active superadmin assignment cannot be revoked; the platform
// must always keep at least one.
func (m *Manager) RevokeRole(ctx context.Context, actor Actor, assignmentID int64) (bool, error) {
	assignment, err := m.assignments.GetAssignment(ctx, assignmentID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if assignment.Role.Level >= actor.Level {
		return false, fmt.Errorf("cannot revoke role %q at level %d: %w", assignment.Role.Name, assignment.Role.Level, ErrForbidden)
	}
	if assignment.IsActive && assignment.Role.Level == SuperadminLevel && assignment.Role.IsActive {
		count, err := m.assignments.SuperadminCount(ctx)
		if err != nil {
			return false, err
		}
		if count <= 1 {
			return false, fmt.Errorf("cannot revoke the last superadmin: %w", ErrForbidden)
		}
	}

	revoked, err := m.assignments.RevokeRole(ctx, assignmentID)
	if err != nil {
		return false, err
	}
	if revoked && m.cache != nil {
		m.cache.InvalidateUser(assignment.UserID)
	}
	return revoked, nil
}

// CreatePolicy creates a policy after validating priority, effect, and
// that any scoped role is one the actor outranks
func (m *Manager) CreatePolicy(ctx context.Context, actor Actor, policy *AccessPolicy) error {
	if err := m.validatePolicy(ctx, actor, policy.Priority, policy.Effect, policy.RoleID); err != nil {
		return err
	}
	policy.CreatedBy = &actor.UserID
	if err := m.policies.CreatePolicy(ctx, policy); err != nil {
		return err
	}
	m.purgeCache()
	return nil
}

// UpdatePolicy updates a policy with the same validations as create
func (m *Manager) UpdatePolicy(ctx context.Context, actor Actor, policyID int64, fields map[string]interface{}) (*AccessPolicy, error) {
	if raw, ok := fields["priority"]; ok {
		priority, err := intField(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid priority: %v: %w", err, ErrInvalid)
		}
		if priority < 0 || priority > MaxPolicyPriority {
			return nil, fmt.Errorf("policy priority %d out of range [0, %d]: %w", priority, MaxPolicyPriority, ErrInvalid)
		}
	}
	if raw, ok := fields["role_id"]; ok && raw != nil {
		roleID, err := int64Field(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid role_id: %v: %w", err, ErrInvalid)
		}
		if err := m.checkScopedRole(ctx, actor, roleID); err != nil {
			return nil, err
		}
	}

	updated, err := m.policies.UpdatePolicy(ctx, policyID, fields)
	if err != nil {
		return nil, err
	}
	m.purgeCache()
	return updated, nil
}

// DeletePolicy removes a policy
func (m *Manager) DeletePolicy(ctx context.Context, actor Actor, policyID int64) (bool, error) {
	deleted, err := m.policies.DeletePolicy(ctx, policyID)
	if err != nil {
		return false, err
	}
	if deleted {
		m.purgeCache()
	}
	return deleted, nil
}

func (m *Manager) validatePolicy(ctx context.Context, actor Actor, priority int, effect PolicyEffect, roleID *int64) error {
	if priority < 0 || priority > MaxPolicyPriority {
		return fmt.Errorf("policy priority %d out of range [0, %d]: %w", priority, MaxPolicyPriority, ErrInvalid)
	}
	if !effect.Valid() {
		return fmt.Errorf("invalid policy effect %q: %w", effect, ErrInvalid)
	}
	if roleID != nil {
		return m.checkScopedRole(ctx, actor, *roleID)
	}
	return nil
}

func (m *Manager) checkScopedRole(ctx context.Context, actor Actor, roleID int64) error {
	role, err := m.roles.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Level >= actor.Level {
		return fmt.Errorf("cannot scope policy to role %q at level %d: %w", role.Name, role.Level, ErrForbidden)
	}
	return nil
}

// purgeCache drops all cached decisions; role and policy changes can
// affect any user
func (m *Manager) purgeCache() {
	if m.cache != nil {
		m.cache.Purge()
	}
}

// ValidatePermissions checks every permission string against the
// registry. "*:*" and "section:*" wildcards are accepted; anything else
// must name a registered section and action.
func ValidatePermissions(permissions []string) error {
	for _, perm := range permissions {
		section, action, ok := splitPermission(perm)
		if !ok {
			return fmt.Errorf("malformed permission %q: expected section:action: %w", perm, ErrInvalid)
		}
		if section == "*" {
			if action != "*" {
				return fmt.Errorf("invalid permission %q: a wildcard section requires a wildcard action: %w", perm, ErrInvalid)
			}
			continue
		}
		actions, known := PermissionRegistry[section]
		if !known {
			return fmt.Errorf("unknown permission section %q: %w", section, ErrInvalid)
		}
		if action == "*" {
			continue
		}
		found := false
		for _, a := range actions {
			if a == action {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown action %q for section %q: %w", action, section, ErrInvalid)
		}
	}
	return nil
}

func intField(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

func int64Field(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

func stringSliceField(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a string list, got %T", raw)
}
