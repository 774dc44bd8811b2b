package rbac

import (
	"context"
	"errors"
	"testing"
)

func TestRoleStore_CreateAndGet(t *testing.T) {
	db := NewTestDB(t)
	store := NewRoleStore(db, NewTestLogger())
	ctx := context.Background()

	role := &Role{
		Name:        "Moderator",
		Description: "User and ticket management",
		Level:       50,
		Permissions: []string{"users:read", "tickets:*"},
		Color:       "#3B82F6",
	}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if role.ID == 0 {
		t.Fatal("expected role ID to be set")
	}
	if !role.IsActive {
		t.Error("expected created role to be active")
	}

	got, err := store.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRole failed: %v", err)
	}
	if got.Name != "Moderator" || got.Level != 50 {
		t.Errorf("unexpected role: %+v", got)
	}
	if len(got.Permissions) != 2 || got.Permissions[0] != "users:read" {
		t.Errorf("unexpected permissions: %v", got.Permissions)
	}

	byName, err := store.GetRoleByName(ctx, "Moderator")
	if err != nil {
		t.Fatalf("GetRoleByName failed: %v", err)
	}
	if byName.ID != role.ID {
		t.Errorf("GetRoleByName returned role %d, want %d", byName.ID, role.ID)
	}
}

func TestRoleStore_CreateDuplicateName(t *testing.T) {
	db := NewTestDB(t)
	store := NewRoleStore(db, NewTestLogger())
	ctx := context.Background()

	if err := store.CreateRole(ctx, &Role{Name: "Support", Level: 20}); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	err := store.CreateRole(ctx, &Role{Name: "Support", Level: 30})
	if err == nil {
		t.Fatal("expected duplicate name to fail")
	}
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestRoleStore_GetMissing(t *testing.T) {
	db := NewTestDB(t)
	store := NewRoleStore(db, NewTestLogger())

	if _, err := store.GetRole(context.Background(), 12345); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetRoleByName(context.Background(), "Ghost"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRoleStore_ListRoles(t *testing.T) {
	db := NewTestDB(t)
	store := NewRoleStore(db, NewTestLogger())
	ctx := context.Background()

	for _, r := range []*Role{
		{Name: "Support", Level: 20},
		{Name: "Admin", Level: 100},
		{Name: "Moderator", Level: 50},
	} {
		if err := store.CreateRole(ctx, r); err != nil {
			t.Fatalf("CreateRole(%s) failed: %v", r.Name, err)
		}
	}

	// Deactivate one
	if _, err := store.UpdateRole(ctx, mustRoleID(t, store, "Support"), map[string]interface{}{"is_active": false}); err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}

	active, err := store.ListRoles(ctx, false)
	if err != nil {
		t.Fatalf("ListRoles failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active roles, got %d", len(active))
	}
	if active[0].Name != "Admin" || active[1].Name != "Moderator" {
		t.Errorf("expected level-descending order, got %s, %s", active[0].Name, active[1].Name)
	}

	all, err := store.ListRoles(ctx, true)
	if err != nil {
		t.Fatalf("ListRoles(includeInactive) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 roles, got %d", len(all))
	}
}

func TestRoleStore_UpdateRole(t *testing.T) {
	db := NewTestDB(t)
	store := NewRoleStore(db, NewTestLogger())
	ctx := context.Background()

	role := &Role{Name: "Marketer", Level: 30, Permissions: []string{"campaigns:*"}}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	updated, err := store.UpdateRole(ctx, role.ID, map[string]interface{}{
		"description": "Marketing tools access",
		"level":       35,
		"permissions": []string{"campaigns:*", "stats:read"},
	})
	if err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}
	if updated.Description != "Marketing tools access" || updated.Level != 35 {
		t.Errorf("unexpected updated role: %+v", updated)
	}
	if len(updated.Permissions) != 2 {
		t.Errorf("unexpected permissions: %v", updated.Permissions)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Error("expected updated_at to advance")
	}
}

func TestRoleStore_UpdateRejectsUnknownFields(t *testing.T) {
	db := NewTestDB(t)
	store := NewRoleStore(db, NewTestLogger())
	ctx := context.Background()

	role := &Role{Name: "Support", Level: 20}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	updated, err := store.UpdateRole(ctx, role.ID, map[string]interface{}{
		"is_system": true,
		"id":        999,
	})
	if err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}
	if updated.IsSystem {
		t.Error("is_system must not be updatable")
	}
	if updated.ID != role.ID {
		t.Error("id must not be updatable")
	}
}

func TestRoleStore_DeleteRole(t *testing.T) {
	db := NewTestDB(t)
	roles := NewRoleStore(db, NewTestLogger())
	assignments := NewAssignmentStore(db, NewTestLogger())
	policies := NewPolicyStore(db, NewTestLogger())
	ctx := context.Background()

	role := &Role{Name: "Temp", Level: 10}
	if err := roles.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if _, err := assignments.AssignRole(ctx, AssignParams{UserID: 7, RoleID: role.ID}); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	policy := &AccessPolicy{Name: "temp policy", RoleID: &role.ID, Effect: EffectDeny, Resource: "*", Actions: []string{"*"}}
	if err := policies.CreatePolicy(ctx, policy); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	deleted, err := roles.DeleteRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected role to be deleted")
	}

	if _, err := roles.GetRole(ctx, role.ID); err != ErrNotFound {
		t.Errorf("expected role gone, got %v", err)
	}
	if userRoles, err := assignments.GetUserRoles(ctx, 7); err != nil || len(userRoles) != 0 {
		t.Errorf("expected assignments cascade, got %v, %v", userRoles, err)
	}
	if _, err := policies.GetPolicy(ctx, policy.ID); err != ErrNotFound {
		t.Errorf("expected policies cascade, got %v", err)
	}
}

func TestRoleStore_DeleteSystemRole(t *testing.T) {
	db := NewTestDB(t)
	store := NewRoleStore(db, NewTestLogger())
	ctx := context.Background()

	role := &Role{Name: "Superadmin", Level: SuperadminLevel, IsSystem: true}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	deleted, err := store.DeleteRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}
	if deleted {
		t.Error("system roles must not be deletable")
	}

	if deleted, err := store.DeleteRole(ctx, 9999); err != nil || deleted {
		t.Errorf("deleting a missing role should report false, nil; got %v, %v", deleted, err)
	}
}

func TestRoleStore_CountUsers(t *testing.T) {
	db := NewTestDB(t)
	roles := NewRoleStore(db, NewTestLogger())
	assignments := NewAssignmentStore(db, NewTestLogger())
	ctx := context.Background()

	role := &Role{Name: "Support", Level: 20}
	if err := roles.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	a1, err := assignments.AssignRole(ctx, AssignParams{UserID: 1, RoleID: role.ID})
	if err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	if _, err := assignments.AssignRole(ctx, AssignParams{UserID: 2, RoleID: role.ID}); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	count, err := roles.CountUsers(ctx, role.ID)
	if err != nil {
		t.Fatalf("CountUsers failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 users, got %d", count)
	}

	if _, err := assignments.RevokeRole(ctx, a1.ID); err != nil {
		t.Fatalf("RevokeRole failed: %v", err)
	}
	count, err = roles.CountUsers(ctx, role.ID)
	if err != nil {
		t.Fatalf("CountUsers failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 user after revoke, got %d", count)
	}
}

func mustRoleID(t *testing.T, store *RoleStore, name string) int64 {
	t.Helper()
	role, err := store.GetRoleByName(context.Background(), name)
	if err != nil {
		t.Fatalf("GetRoleByName(%s) failed: %v", name, err)
	}
	return role.ID
}
