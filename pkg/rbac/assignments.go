package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilnet/warden/pkg/observability"
)

// AssignmentStore persists user-role assignments and aggregates them
// into effective permissions.
type AssignmentStore struct {
	db     *sql.DB
	logger *observability.Logger

	// now is swappable for expiry tests
	now func() time.Time
}

// NewAssignmentStore creates a new assignment store
func NewAssignmentStore(db *sql.DB, logger *observability.Logger) *AssignmentStore {
	return &AssignmentStore{db: db, logger: logger, now: time.Now}
}

const assignmentWithRoleColumns = `
	ur.id, ur.user_id, ur.role_id, ur.assigned_by, ur.assigned_at, ur.expires_at, ur.is_active,
	r.id, r.name, r.description, r.level, r.permissions, r.color, r.icon, r.is_system, r.is_active, r.created_by, r.created_at, r.updated_at`

// GetUserRoles returns the user's active assignments with their roles
// eager-loaded
func (s *AssignmentStore) GetUserRoles(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentWithRoleColumns+`
		FROM user_roles ur
		JOIN admin_roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.is_active = $2
		ORDER BY ur.id ASC
	`, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		a, err := scanAssignmentWithRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

// GetUserPermissions aggregates permissions from all active, non-expired
// assignments whose role is itself active. Returns the sorted permission
// union, the contributing role names, and the maximum role level seen.
// A user with no qualifying assignments gets ([], [], 0).
func (s *AssignmentStore) GetUserPermissions(ctx context.Context, userID int64) ([]string, []string, int, error) {
	assignments, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, nil, 0, err
	}
	agg := aggregateAssignments(assignments, s.now().UTC())
	return agg.permissions, agg.roleNames, agg.maxLevel, nil
}

// AssignParams are the inputs for AssignRole
type AssignParams struct {
	UserID     int64
	RoleID     int64
	AssignedBy *int64
	ExpiresAt  *time.Time
}

// AssignRole grants a role to a user. The (user_id, role_id) pair is
// unique, so a previously revoked assignment is reactivated in place via
// an atomic upsert; repeated grant/revoke cycles never duplicate rows or
// race on the unique constraint.
func (s *AssignmentStore) AssignRole(ctx context.Context, params AssignParams) (*RoleAssignment, error) {
	now := s.now().UTC()
	assignment := &RoleAssignment{
		UserID:     params.UserID,
		RoleID:     params.RoleID,
		AssignedBy: params.AssignedBy,
		AssignedAt: now,
		ExpiresAt:  params.ExpiresAt,
		IsActive:   true,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, role_id) DO UPDATE SET
			assigned_by = excluded.assigned_by,
			assigned_at = excluded.assigned_at,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active
		RETURNING id
	`,
		params.UserID,
		params.RoleID,
		params.AssignedBy,
		now,
		params.ExpiresAt,
		true,
	).Scan(&assignment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"assignment_id": assignment.ID,
		"user_id":       params.UserID,
		"role_id":       params.RoleID,
	}).Info("Assigned role to user")
	return assignment, nil
}

// RevokeRole soft-revokes an assignment by ID. Returns false when the
// assignment does not exist.
func (s *AssignmentStore) RevokeRole(ctx context.Context, assignmentID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE user_roles SET is_active = $1 WHERE id = $2`, false, assignmentID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check revoke result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	s.logger.WithField("assignment_id", assignmentID).Info("Revoked user role")
	return true, nil
}

// GetAssignment retrieves one assignment with its role eager-loaded.
// Returns ErrNotFound when absent.
func (s *AssignmentStore) GetAssignment(ctx context.Context, assignmentID int64) (*RoleAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assignmentWithRoleColumns+`
		FROM user_roles ur
		JOIN admin_roles r ON r.id = ur.role_id
		WHERE ur.id = $1
	`, assignmentID)

	a, err := scanAssignmentWithRole(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment %d: %w", assignmentID, err)
	}
	return a, nil
}

// SuperadminCount counts distinct users holding an active assignment to
// an active superadmin-level role
func (s *AssignmentStore) SuperadminCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ur.user_id)
		FROM user_roles ur
		JOIN admin_roles r ON r.id = ur.role_id
		WHERE ur.is_active = $1 AND r.is_active = $2 AND r.level = $3
	`, true, true, SuperadminLevel).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count superadmins: %w", err)
	}
	return count, nil
}

// ListAdmins returns users holding at least one active role to an active
// role, with their role names aggregated, ordered by user ID
func (s *AssignmentStore) ListAdmins(ctx context.Context, limit, offset int) ([]AdminEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ur.user_id, r.name
		FROM user_roles ur
		JOIN admin_roles r ON r.id = ur.role_id
		WHERE ur.is_active = $1 AND r.is_active = $2
		ORDER BY ur.user_id ASC, r.level DESC
	`, true, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var entries []AdminEntry
	for rows.Next() {
		var userID int64
		var roleName string
		if err := rows.Scan(&userID, &roleName); err != nil {
			return nil, fmt.Errorf("failed to scan admin row: %w", err)
		}
		if n := len(entries); n > 0 && entries[n-1].UserID == userID {
			entries[n-1].RoleNames = append(entries[n-1].RoleNames, roleName)
			continue
		}
		entries = append(entries, AdminEntry{UserID: userID, RoleNames: []string{roleName}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Pagination applies to users, not assignment rows, so page after
	// grouping
	if offset >= len(entries) {
		return []AdminEntry{}, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// scanAssignmentWithRole scans one user_roles row joined with its role
func scanAssignmentWithRole(scanner interface{ Scan(dest ...interface{}) error }) (*RoleAssignment, error) {
	var a RoleAssignment
	var role Role
	var assignedBy, roleCreatedBy sql.NullInt64
	var expiresAt sql.NullTime
	var description, color, icon sql.NullString
	var permissionsJSON string

	err := scanner.Scan(
		&a.ID,
		&a.UserID,
		&a.RoleID,
		&assignedBy,
		&a.AssignedAt,
		&expiresAt,
		&a.IsActive,
		&role.ID,
		&role.Name,
		&description,
		&role.Level,
		&permissionsJSON,
		&color,
		&icon,
		&role.IsSystem,
		&role.IsActive,
		&roleCreatedBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignedBy.Valid {
		id := assignedBy.Int64
		a.AssignedBy = &id
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	role.Description = description.String
	role.Color = color.String
	role.Icon = icon.String
	if roleCreatedBy.Valid {
		id := roleCreatedBy.Int64
		role.CreatedBy = &id
	}
	if permissionsJSON != "" {
		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal role permissions: %w", err)
		}
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}

	a.Role = &role
	return &a, nil
}
