package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/veilnet/warden/pkg/observability"
)

// roleUpdatableFields is the allow-list for RoleStore.UpdateRole. Any other
// key is rejected with a logged warning; this keeps id/is_system/created_by
// out of reach of generic update calls.
var roleUpdatableFields = map[string]string{
	"name":        "name",
	"description": "description",
	"level":       "level",
	"permissions": "permissions",
	"color":       "color",
	"icon":        "icon",
	"is_active":   "is_active",
}

// RoleStore persists admin roles
type RoleStore struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewRoleStore creates a new role store
func NewRoleStore(db *sql.DB, logger *observability.Logger) *RoleStore {
	return &RoleStore{db: db, logger: logger}
}

const roleColumns = `id, name, description, level, permissions, color, icon, is_system, is_active, created_by, created_at, updated_at`

// CreateRole inserts a new role. Returns ErrConflict when the name is
// already taken.
func (s *RoleStore) CreateRole(ctx context.Context, role *Role) error {
	existing, err := s.GetRoleByName(ctx, role.Name)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		return fmt.Errorf("role %q: %w", role.Name, ErrConflict)
	}

	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO admin_roles (name, description, level, permissions, color, icon, is_system, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		role.Name,
		role.Description,
		role.Level,
		string(permissionsJSON),
		role.Color,
		role.Icon,
		role.IsSystem,
		true,
		role.CreatedBy,
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.IsActive = true
	role.CreatedAt = now
	role.UpdatedAt = now
	s.logger.WithFields(map[string]interface{}{
		"role_id": role.ID,
		"name":    role.Name,
		"level":   role.Level,
	}).Info("Created admin role")
	return nil
}

// GetRole retrieves a role by ID. Returns ErrNotFound when absent.
func (s *RoleStore) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM admin_roles WHERE id = $1`, roleID)
	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %d: %w", roleID, err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name
func (s *RoleStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM admin_roles WHERE name = $1`, name)
	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %q: %w", name, err)
	}
	return role, nil
}

// ListRoles returns roles ordered by level descending. Inactive roles are
// included only when includeInactive is set.
func (s *RoleStore) ListRoles(ctx context.Context, includeInactive bool) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM admin_roles`
	if !includeInactive {
		query += ` WHERE is_active = $1`
	}
	query += ` ORDER BY level DESC, id ASC`

	var rows *sql.Rows
	var err error
	if includeInactive {
		rows, err = s.db.QueryContext(ctx, query)
	} else {
		rows, err = s.db.QueryContext(ctx, query, true)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole updates the provided fields of a role. Keys outside the
// allow-list are skipped with a warning. Returns the updated role, or
// ErrNotFound.
func (s *RoleStore) UpdateRole(ctx context.Context, roleID int64, fields map[string]interface{}) (*Role, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)

	// Deterministic order keeps queries reproducible in tests
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		column, ok := roleUpdatableFields[key]
		if !ok {
			s.logger.WithField("field", key).Warn("Rejected update of non-updatable role field")
			continue
		}
		value := fields[key]
		if key == "permissions" {
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal permissions: %w", err)
			}
			value = string(encoded)
		}
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if len(setClauses) > 0 {
		args = append(args, time.Now().UTC())
		setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", len(args)))
		args = append(args, roleID)

		query := fmt.Sprintf("UPDATE admin_roles SET %s WHERE id = $%d",
			strings.Join(setClauses, ", "), len(args))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to update role %d: %w", roleID, err)
		}
		s.logger.WithFields(map[string]interface{}{
			"role_id": roleID,
			"fields":  keys,
		}).Info("Updated admin role")
	}

	return s.GetRole(ctx, roleID)
}

// DeleteRole deletes a non-system role and explicitly cascades: all
// assignments and policies referencing the role are removed in the same
// transaction. Returns false when the role is missing or system-flagged.
func (s *RoleStore) DeleteRole(ctx context.Context, roleID int64) (bool, error) {
	role, err := s.GetRole(ctx, roleID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if role.IsSystem {
		s.logger.WithFields(map[string]interface{}{
			"role_id": roleID,
			"name":    role.Name,
		}).Warn("Attempted to delete system role")
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
		return false, fmt.Errorf("failed to delete role assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM access_policies WHERE role_id = $1`, roleID); err != nil {
		return false, fmt.Errorf("failed to delete role policies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM admin_roles WHERE id = $1`, roleID); err != nil {
		return false, fmt.Errorf("failed to delete role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit role deletion: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"role_id": roleID,
		"name":    role.Name,
	}).Info("Deleted admin role")
	return true, nil
}

// CountUsers counts currently active assignments of the role
func (s *RoleStore) CountUsers(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(id) FROM user_roles WHERE role_id = $1 AND is_active = $2`,
		roleID, true,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role users: %w", err)
	}
	return count, nil
}

// scanRole scans one role row from either *sql.Row or *sql.Rows
func scanRole(scanner interface{ Scan(dest ...interface{}) error }) (*Role, error) {
	var role Role
	var description, color, icon sql.NullString
	var permissionsJSON string
	var createdBy sql.NullInt64

	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&description,
		&role.Level,
		&permissionsJSON,
		&color,
		&icon,
		&role.IsSystem,
		&role.IsActive,
		&createdBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Description = description.String
	role.Color = color.String
	role.Icon = icon.String
	if createdBy.Valid {
		id := createdBy.Int64
		role.CreatedBy = &id
	}

	if permissionsJSON != "" {
		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return &role, nil
}
