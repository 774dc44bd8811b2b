package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*Manager, *RoleStore, *AssignmentStore, *PolicyStore) {
	t.Helper()
	db := NewTestDB(t)
	logger := NewTestLogger()
	roles := NewRoleStore(db, logger)
	assignments := NewAssignmentStore(db, logger)
	policies := NewPolicyStore(db, logger)
	m := NewManager(roles, assignments, policies, NewDecisionCache(64, time.Minute), logger)
	return m, roles, assignments, policies
}

var superActor = Actor{UserID: 1, Level: LegacyAdminLevel}

func TestManager_CreateRoleHierarchy(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	actor := Actor{UserID: 1, Level: 100}
	if err := m.CreateRole(ctx, actor, &Role{Name: "Junior", Level: 10, Permissions: []string{"tickets:read"}}); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	// At or above the actor's level is forbidden
	err := m.CreateRole(ctx, actor, &Role{Name: "Peer", Level: 100})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for peer level, got %v", err)
	}
	err = m.CreateRole(ctx, actor, &Role{Name: "Boss", Level: 500})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for higher level, got %v", err)
	}

	if err := m.CreateRole(ctx, actor, &Role{Name: "OutOfRange", Level: 1500}); err == nil {
		t.Error("expected out-of-range level to fail")
	}
	if err := m.CreateRole(ctx, actor, &Role{Name: "BadPerms", Level: 10, Permissions: []string{"nope"}}); err == nil {
		t.Error("expected invalid permissions to fail")
	}
}

func TestManager_CreateRoleNeverSystem(t *testing.T) {
	m, roles, _, _ := newTestManager(t)
	ctx := context.Background()

	role := &Role{Name: "Sneaky", Level: 10, IsSystem: true}
	if err := m.CreateRole(ctx, superActor, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	got, err := roles.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRole failed: %v", err)
	}
	if got.IsSystem {
		t.Error("manager-created roles must never be system roles")
	}
	if got.CreatedBy == nil || *got.CreatedBy != superActor.UserID {
		t.Errorf("expected created_by %d, got %v", superActor.UserID, got.CreatedBy)
	}
}

func TestManager_UpdateRoleSystemProtection(t *testing.T) {
	m, roles, _, _ := newTestManager(t)
	ctx := context.Background()

	system := &Role{Name: "Superadmin", Level: SuperadminLevel, Permissions: []string{"*:*"}, IsSystem: true}
	if err := roles.CreateRole(ctx, system); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	for _, fields := range []map[string]interface{}{
		{"name": "Renamed"},
		{"level": 500},
		{"permissions": []string{"users:read"}},
		{"is_active": false},
	} {
		if _, err := m.UpdateRole(ctx, superActor, system.ID, fields); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden for %v, got %v", fields, err)
		}
	}

	// Cosmetic fields stay editable
	updated, err := m.UpdateRole(ctx, superActor, system.ID, map[string]interface{}{"color": "#000000", "description": "root"})
	if err != nil {
		t.Fatalf("cosmetic update failed: %v", err)
	}
	if updated.Color != "#000000" {
		t.Errorf("expected color update, got %q", updated.Color)
	}
}

func TestManager_UpdateRoleHierarchy(t *testing.T) {
	m, roles, _, _ := newTestManager(t)
	ctx := context.Background()

	role := &Role{Name: "Moderator", Level: 50}
	if err := roles.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	actor := Actor{UserID: 1, Level: 100}
	if _, err := m.UpdateRole(ctx, actor, role.ID, map[string]interface{}{"level": 60}); err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}

	// Cannot raise a role to or above the actor's level
	if _, err := m.UpdateRole(ctx, actor, role.ID, map[string]interface{}{"level": 100}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	// Cannot touch a role at or above the actor's level at all
	peer := &Role{Name: "Peer", Level: 100}
	if err := roles.CreateRole(ctx, peer); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if _, err := m.UpdateRole(ctx, actor, peer.ID, map[string]interface{}{"description": "x"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestManager_AssignAndRevoke(t *testing.T) {
	m, roles, _, _ := newTestManager(t)
	ctx := context.Background()

	role := &Role{Name: "Support", Level: 20}
	if err := roles.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	actor := Actor{UserID: 1, Level: 100}
	assignment, err := m.AssignRole(ctx, actor, AssignParams{UserID: 7, RoleID: role.ID})
	if err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	if assignment.AssignedBy == nil || *assignment.AssignedBy != actor.UserID {
		t.Errorf("expected assigned_by %d, got %v", actor.UserID, assignment.AssignedBy)
	}

	// Low-level actor cannot assign it
	if _, err := m.AssignRole(ctx, Actor{UserID: 2, Level: 20}, AssignParams{UserID: 8, RoleID: role.ID}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := m.AssignRole(ctx, actor, AssignParams{UserID: 9, RoleID: role.ID, ExpiresAt: &past}); err == nil {
		t.Error("expected past expiry to fail")
	}

	revoked, err := m.RevokeRole(ctx, actor, assignment.ID)
	if err != nil {
		t.Fatalf("RevokeRole failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected revoke to succeed")
	}
	if revoked, err := m.RevokeRole(ctx, actor, 9999); err != nil || revoked {
		t.Errorf("missing assignment should report false, nil; got %v, %v", revoked, err)
	}
}

func TestManager_LastSuperadminGuard(t *testing.T) {
	m, roles, assignments, _ := newTestManager(t)
	ctx := context.Background()

	superadmin := &Role{Name: "Superadmin", Level: SuperadminLevel, Permissions: []string{"*:*"}, IsSystem: true}
	if err := roles.CreateRole(ctx, superadmin); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	only, err := assignments.AssignRole(ctx, AssignParams{UserID: 1, RoleID: superadmin.ID})
	if err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	if _, err := m.RevokeRole(ctx, superActor, only.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected last-superadmin guard, got %v", err)
	}

	// With a second superadmin the revoke goes through
	second, err := assignments.AssignRole(ctx, AssignParams{UserID: 2, RoleID: superadmin.ID})
	if err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	revoked, err := m.RevokeRole(ctx, superActor, only.ID)
	if err != nil {
		t.Fatalf("RevokeRole failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected revoke to succeed with another superadmin present")
	}

	// And now the remaining one is protected again
	if _, err := m.RevokeRole(ctx, superActor, second.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected last-superadmin guard, got %v", err)
	}
}

func TestManager_DeleteRoleHierarchy(t *testing.T) {
	m, roles, _, _ := newTestManager(t)
	ctx := context.Background()

	role := &Role{Name: "Moderator", Level: 50}
	if err := roles.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	if _, err := m.DeleteRole(ctx, Actor{UserID: 1, Level: 50}, role.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	deleted, err := m.DeleteRole(ctx, Actor{UserID: 1, Level: 100}, role.ID)
	if err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to succeed")
	}
	if deleted, err := m.DeleteRole(ctx, superActor, 9999); err != nil || deleted {
		t.Errorf("missing role should report false, nil; got %v, %v", deleted, err)
	}
}

func TestManager_PolicyValidation(t *testing.T) {
	m, roles, _, _ := newTestManager(t)
	ctx := context.Background()

	role := &Role{Name: "Admin", Level: 100}
	if err := roles.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	if err := m.CreatePolicy(ctx, superActor, &AccessPolicy{
		Name: "ok", Effect: EffectDeny, Priority: 10, Resource: "*", Actions: []string{"*"}, RoleID: &role.ID,
	}); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	if err := m.CreatePolicy(ctx, superActor, &AccessPolicy{
		Name: "bad priority", Effect: EffectDeny, Priority: 2000, Resource: "*", Actions: []string{"*"},
	}); err == nil {
		t.Error("expected out-of-range priority to fail")
	}
	if err := m.CreatePolicy(ctx, superActor, &AccessPolicy{
		Name: "bad effect", Effect: "perhaps", Priority: 10, Resource: "*", Actions: []string{"*"},
	}); err == nil {
		t.Error("expected invalid effect to fail")
	}

	// Scoping to a role the actor does not outrank is forbidden
	low := Actor{UserID: 2, Level: 50}
	err := m.CreatePolicy(ctx, low, &AccessPolicy{
		Name: "overreach", Effect: EffectDeny, Priority: 10, Resource: "*", Actions: []string{"*"}, RoleID: &role.ID,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestManager_MutationsInvalidateCache(t *testing.T) {
	m, roles, _, _ := newTestManager(t)
	ctx := context.Background()

	role := &Role{Name: "Support", Level: 20, Permissions: []string{"tickets:read"}}
	if err := roles.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	m.cache.Put(7, "tickets:read", "", Decision{Allowed: true})
	assignment, err := m.AssignRole(ctx, superActor, AssignParams{UserID: 7, RoleID: role.ID})
	if err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	if _, ok := m.cache.Get(7, "tickets:read", ""); ok {
		t.Error("assignment must invalidate the user's cached decisions")
	}

	m.cache.Put(7, "tickets:read", "", Decision{Allowed: true})
	m.cache.Put(8, "users:read", "", Decision{})
	if _, err := m.UpdateRole(ctx, superActor, role.ID, map[string]interface{}{"permissions": []string{"tickets:*"}}); err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}
	if m.cache.Len() != 0 {
		t.Error("role update must purge the whole cache")
	}

	m.cache.Put(7, "tickets:read", "", Decision{Allowed: true})
	if _, err := m.RevokeRole(ctx, superActor, assignment.ID); err != nil {
		t.Fatalf("RevokeRole failed: %v", err)
	}
	if _, ok := m.cache.Get(7, "tickets:read", ""); ok {
		t.Error("revoke must invalidate the user's cached decisions")
	}
}
