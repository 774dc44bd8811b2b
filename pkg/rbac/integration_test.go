//go:build integration
// +build integration

package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a disposable PostgreSQL container, applies the
// migrations, and returns a live connection. Skips when no container
// runtime is available.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("warden_test"),
		postgres.WithUsername("warden"),
		postgres.WithPassword("warden_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, RunMigrations(ctx, db, NewTestLogger()))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})
	return db
}

func TestIntegration_MigrationsAreIdempotent(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	// A second run must be a no-op
	require.NoError(t, RunMigrations(ctx, db, NewTestLogger()))

	var applied int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM warden_migrations`).Scan(&applied))
	assert.Equal(t, len(GetMigrations()), applied)
}

func TestIntegration_RoleLifecycle(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	store := NewRoleStore(db, NewTestLogger())

	role := &Role{
		Name:        "Integration Tester",
		Description: "temporary role",
		Level:       40,
		Permissions: []string{"tickets:read", "users:read"},
		Color:       "#00FF00",
	}
	require.NoError(t, store.CreateRole(ctx, role))
	require.NotZero(t, role.ID)

	// JSONB permissions must round-trip through postgres
	fetched, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tickets:read", "users:read"}, fetched.Permissions)
	assert.True(t, fetched.IsActive)

	// Duplicate names are rejected by the unique constraint
	dup := &Role{Name: "Integration Tester", Level: 10, Permissions: []string{"users:read"}}
	assert.ErrorIs(t, store.CreateRole(ctx, dup), ErrConflict)

	updated, err := store.UpdateRole(ctx, role.ID, map[string]interface{}{
		"description": "renamed",
		"level":       45,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Description)
	assert.Equal(t, 45, updated.Level)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))

	deleted, err := store.DeleteRole(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIntegration_AssignRoleReactivatesRevokedRow(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	logger := NewTestLogger()
	roles := NewRoleStore(db, logger)
	assignments := NewAssignmentStore(db, logger)

	role := &Role{Name: "Support Shift", Level: 20, Permissions: []string{"tickets:read"}}
	require.NoError(t, roles.CreateRole(ctx, role))

	first, err := assignments.AssignRole(ctx, AssignParams{UserID: 1001, RoleID: role.ID})
	require.NoError(t, err)

	revoked, err := assignments.RevokeRole(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Re-granting hits the upsert path: same row, reactivated
	second, err := assignments.AssignRole(ctx, AssignParams{UserID: 1001, RoleID: role.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var rowCount int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		int64(1001), role.ID,
	).Scan(&rowCount))
	assert.Equal(t, 1, rowCount)

	active, err := assignments.GetUserRoles(ctx, 1001)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].IsActive)
}

func TestIntegration_PolicyEvaluationOrder(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	logger := NewTestLogger()
	roles := NewRoleStore(db, logger)
	policies := NewPolicyStore(db, logger)

	role := &Role{Name: "Operator", Level: 30, Permissions: []string{"servers:*"}}
	require.NoError(t, roles.CreateRole(ctx, role))

	// Same priority resolves by insertion order; higher priority wins
	mk := func(name string, priority int, roleID *int64) *AccessPolicy {
		p := &AccessPolicy{
			Name:     name,
			RoleID:   roleID,
			Priority: priority,
			Effect:   EffectDeny,
			Resource: "servers",
			Actions:  []string{"delete"},
		}
		require.NoError(t, policies.CreatePolicy(ctx, p))
		return p
	}
	mk("low", 10, &role.ID)
	mk("high", 500, nil)
	mk("mid-a", 100, &role.ID)
	mk("mid-b", 100, nil)

	ordered, err := policies.PoliciesForUser(ctx, []int64{role.ID})
	require.NoError(t, err)
	require.Len(t, ordered, 4)
	assert.Equal(t, "high", ordered[0].Name)
	assert.Equal(t, "mid-a", ordered[1].Name)
	assert.Equal(t, "mid-b", ordered[2].Name)
	assert.Equal(t, "low", ordered[3].Name)
}

func TestIntegration_EvaluatorAgainstRealStores(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	logger := NewTestLogger()
	roles := NewRoleStore(db, logger)
	assignments := NewAssignmentStore(db, logger)
	policies := NewPolicyStore(db, logger)

	require.NoError(t, NewBootstrapper(roles, assignments, logger).Bootstrap(ctx, []int64{1}))

	support, err := roles.GetRoleByName(ctx, "Support")
	require.NoError(t, err)
	_, err = assignments.AssignRole(ctx, AssignParams{UserID: 2, RoleID: support.ID})
	require.NoError(t, err)

	evaluator := NewEvaluator(assignments, policies, &fakeLegacy{}, logger)

	// Bootstrap superadmin holds the wildcard; no policies exist yet
	decision, err := evaluator.Check(ctx, CheckInput{UserID: 1, Permission: "servers:delete"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "granted by RBAC", decision.Reason)

	deny := &AccessPolicy{
		Name:     "freeze ticket replies",
		Priority: 100,
		Effect:   EffectDeny,
		Resource: "tickets",
		Actions:  []string{"reply"},
	}
	require.NoError(t, policies.CreatePolicy(ctx, deny))

	// RBAC grants the read; the candidate policy exists but does not deny
	decision, err = evaluator.Check(ctx, CheckInput{UserID: 2, Permission: "tickets:read"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "granted by RBAC + ABAC", decision.Reason)

	// RBAC grants the reply but the deny policy wins
	decision, err = evaluator.Check(ctx, CheckInput{UserID: 2, Permission: "tickets:reply"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "denied by policy: freeze ticket replies", decision.Reason)

	// Unknown user has no roles at all
	decision, err = evaluator.Check(ctx, CheckInput{UserID: 3, Permission: "tickets:read"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "no active roles assigned", decision.Reason)
}

func TestIntegration_ExpiredAssignmentsAreIgnored(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	logger := NewTestLogger()
	roles := NewRoleStore(db, logger)
	assignments := NewAssignmentStore(db, logger)

	role := &Role{Name: "Night Shift", Level: 20, Permissions: []string{"tickets:read"}}
	require.NoError(t, roles.CreateRole(ctx, role))

	expiry := time.Now().UTC().Add(time.Minute)
	_, err := assignments.AssignRole(ctx, AssignParams{UserID: 5, RoleID: role.ID, ExpiresAt: &expiry})
	require.NoError(t, err)

	perms, names, level, err := assignments.GetUserPermissions(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"tickets:read"}, perms)
	assert.Equal(t, []string{"Night Shift"}, names)
	assert.Equal(t, 20, level)

	// Force the expiry into the past and re-aggregate
	_, err = db.Exec(`UPDATE user_roles SET expires_at = $1 WHERE user_id = $2`,
		time.Now().UTC().Add(-time.Minute), int64(5))
	require.NoError(t, err)

	perms, names, level, err = assignments.GetUserPermissions(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, perms)
	assert.Empty(t, names)
	assert.Equal(t, 0, level)
}
