package rbac

import (
	"context"
	"fmt"

	"github.com/veilnet/warden/pkg/observability"
)

// SuperadminRoleName is the preset role granted to bootstrap users
const SuperadminRoleName = "Superadmin"

// presetRoles are seeded on first run. They are system roles: their
// name, level, permissions, and active flag are immutable afterwards.
var presetRoles = []Role{
	{
		Name:        "Superadmin",
		Description: "Full system access",
		Level:       SuperadminLevel,
		Permissions: []string{"*:*"},
		Color:       "#EF4444",
		Icon:        "shield",
	},
	{
		Name:        "Admin",
		Description: "Administrative access",
		Level:       100,
		Permissions: []string{
			"users:*", "tickets:*", "stats:*", "broadcasts:*", "tariffs:*",
			"promocodes:*", "promo_groups:*", "promo_offers:*", "campaigns:*",
			"partners:*", "withdrawals:*", "payments:*", "payment_methods:*",
			"servers:*", "traffic:*", "settings:*",
			"roles:read", "roles:create", "roles:edit", "roles:assign",
			"audit_log:*", "channels:*", "ban_system:*", "apps:*",
			"email_templates:*", "pinned_messages:*", "updates:*",
		},
		Color: "#F59E0B",
		Icon:  "crown",
	},
	{
		Name:        "Moderator",
		Description: "User and ticket management",
		Level:       50,
		Permissions: []string{"users:read", "users:edit", "users:block", "tickets:*", "ban_system:*"},
		Color:       "#3B82F6",
		Icon:        "user-shield",
	},
	{
		Name:        "Marketer",
		Description: "Marketing tools access",
		Level:       30,
		Permissions: []string{
			"campaigns:*", "broadcasts:*", "promocodes:*", "promo_offers:*",
			"promo_groups:*", "stats:read", "pinned_messages:*",
		},
		Color: "#8B5CF6",
		Icon:  "megaphone",
	},
	{
		Name:        "Support",
		Description: "Ticket support access",
		Level:       20,
		Permissions: []string{"tickets:read", "tickets:reply", "users:read"},
		Color:       "#10B981",
		Icon:        "headset",
	},
}

// Bootstrapper seeds the preset roles and grants Superadmin to the
// configured bootstrap users. Runs once during startup and is
// idempotent.
type Bootstrapper struct {
	roles       *RoleStore
	assignments *AssignmentStore
	logger      *observability.Logger
}

// NewBootstrapper creates a bootstrapper over the stores
func NewBootstrapper(roles *RoleStore, assignments *AssignmentStore, logger *observability.Logger) *Bootstrapper {
	return &Bootstrapper{roles: roles, assignments: assignments, logger: logger}
}

// Bootstrap ensures preset roles exist and every listed user holds an
// active Superadmin assignment. Users with an active assignment are
// left untouched so assigned_at survives restarts.
func (b *Bootstrapper) Bootstrap(ctx context.Context, superadminUserIDs []int64) error {
	superadmin, err := b.ensurePresetRoles(ctx)
	if err != nil {
		return err
	}

	if len(superadminUserIDs) == 0 {
		b.logger.Debug("No bootstrap superadmins configured, skipping assignment")
		return nil
	}

	assigned := 0
	for _, userID := range superadminUserIDs {
		changed, err := b.ensureSuperadmin(ctx, userID, superadmin.ID)
		if err != nil {
			return err
		}
		if changed {
			assigned++
		}
	}

	if assigned > 0 {
		b.logger.WithFields(map[string]interface{}{
			"assigned_count": assigned,
			"role_id":        superadmin.ID,
		}).Info("Superadmin bootstrap completed")
	} else {
		b.logger.Debug("Superadmin bootstrap: no new assignments needed")
	}
	return nil
}

// ensurePresetRoles seeds missing preset roles and returns the
// Superadmin role
func (b *Bootstrapper) ensurePresetRoles(ctx context.Context) (*Role, error) {
	var superadmin *Role

	for _, preset := range presetRoles {
		existing, err := b.roles.GetRoleByName(ctx, preset.Name)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		if existing != nil {
			if existing.Name == SuperadminRoleName {
				superadmin = existing
			}
			continue
		}

		role := preset
		role.IsSystem = true
		if err := b.roles.CreateRole(ctx, &role); err != nil {
			return nil, fmt.Errorf("failed to seed preset role %q: %w", role.Name, err)
		}
		b.logger.WithFields(map[string]interface{}{
			"role":    role.Name,
			"role_id": role.ID,
		}).Info("Seeded preset role")

		if role.Name == SuperadminRoleName {
			superadmin = &role
		}
	}

	if superadmin == nil {
		return nil, fmt.Errorf("failed to resolve %s role after seeding", SuperadminRoleName)
	}
	return superadmin, nil
}

// ensureSuperadmin grants the role unless the user already holds it
// actively. Reports whether anything changed.
func (b *Bootstrapper) ensureSuperadmin(ctx context.Context, userID, roleID int64) (bool, error) {
	current, err := b.assignments.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for i := range current {
		if current[i].RoleID == roleID && current[i].IsActive {
			return false, nil
		}
	}

	if _, err := b.assignments.AssignRole(ctx, AssignParams{UserID: userID, RoleID: roleID}); err != nil {
		return false, fmt.Errorf("failed to bootstrap superadmin %d: %w", userID, err)
	}
	return true, nil
}
