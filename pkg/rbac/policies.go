package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/veilnet/warden/pkg/observability"
)

// policyUpdatableFields is the allow-list for PolicyStore.UpdatePolicy
var policyUpdatableFields = map[string]string{
	"name":        "name",
	"description": "description",
	"role_id":     "role_id",
	"priority":    "priority",
	"effect":      "effect",
	"resource":    "resource",
	"actions":     "actions",
	"conditions":  "conditions",
	"is_active":   "is_active",
}

// PolicyStore persists ABAC access policies
type PolicyStore struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPolicyStore creates a new policy store
func NewPolicyStore(db *sql.DB, logger *observability.Logger) *PolicyStore {
	return &PolicyStore{db: db, logger: logger}
}

const policyColumns = `id, name, description, role_id, priority, effect, resource, actions, conditions, is_active, created_by, created_at, updated_at`

// CreatePolicy inserts a new access policy
func (s *PolicyStore) CreatePolicy(ctx context.Context, policy *AccessPolicy) error {
	if !policy.Effect.Valid() {
		return fmt.Errorf("invalid policy effect %q", policy.Effect)
	}
	if policy.Actions == nil {
		policy.Actions = []string{}
	}
	actionsJSON, err := marshalJSONColumn(policy.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal policy actions: %w", err)
	}
	conditions := normalizeConditions(policy.Conditions)

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO access_policies (name, description, role_id, priority, effect, resource, actions, conditions, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		policy.Name,
		policy.Description,
		policy.RoleID,
		policy.Priority,
		string(policy.Effect),
		policy.Resource,
		actionsJSON,
		conditions,
		true,
		policy.CreatedBy,
		now,
		now,
	).Scan(&policy.ID)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}

	policy.IsActive = true
	policy.CreatedAt = now
	policy.UpdatedAt = now
	s.logger.WithFields(map[string]interface{}{
		"policy_id": policy.ID,
		"name":      policy.Name,
		"effect":    policy.Effect,
		"priority":  policy.Priority,
	}).Info("Created access policy")
	return nil
}

// GetPolicy retrieves a policy by ID. Returns ErrNotFound when absent.
func (s *PolicyStore) GetPolicy(ctx context.Context, policyID int64) (*AccessPolicy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM access_policies WHERE id = $1`, policyID)
	policy, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy %d: %w", policyID, err)
	}
	return policy, nil
}

// ListPolicies returns active policies in evaluation order, optionally
// filtered to one role's scoped policies
func (s *PolicyStore) ListPolicies(ctx context.Context, roleID *int64) ([]AccessPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM access_policies WHERE is_active = $1`
	args := []interface{}{true}
	if roleID != nil {
		args = append(args, *roleID)
		query += fmt.Sprintf(` AND role_id = $%d`, len(args))
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// PoliciesForUser returns active policies applicable to a user holding
// the given roles: role-scoped policies for any of those roles, plus all
// global policies. Ordered by priority descending with ID as tie-break
// so evaluation order is stable.
func (s *PolicyStore) PoliciesForUser(ctx context.Context, roleIDs []int64) ([]AccessPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM access_policies WHERE is_active = $1 AND role_id IS NULL`
	args := []interface{}{true}
	if len(roleIDs) > 0 {
		placeholders := make([]string, len(roleIDs))
		for i, id := range roleIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query = `SELECT ` + policyColumns + ` FROM access_policies WHERE is_active = $1 AND (role_id IS NULL OR role_id IN (` +
			strings.Join(placeholders, ", ") + `))`
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user policies: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// UpdatePolicy updates the provided fields of a policy. Keys outside the
// allow-list are skipped with a warning.
func (s *PolicyStore) UpdatePolicy(ctx context.Context, policyID int64, fields map[string]interface{}) (*AccessPolicy, error) {
	if _, err := s.GetPolicy(ctx, policyID); err != nil {
		return nil, err
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		column, ok := policyUpdatableFields[key]
		if !ok {
			s.logger.WithField("field", key).Warn("Rejected update of non-updatable policy field")
			continue
		}
		value := fields[key]
		switch key {
		case "effect":
			effect, ok := value.(PolicyEffect)
			if !ok {
				if str, isStr := value.(string); isStr {
					effect = PolicyEffect(str)
				}
			}
			if !effect.Valid() {
				return nil, fmt.Errorf("invalid policy effect %q", value)
			}
			value = string(effect)
		case "actions":
			encoded, err := marshalJSONColumn(value)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal policy actions: %w", err)
			}
			value = encoded
		case "conditions":
			encoded, err := marshalJSONColumn(value)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal policy conditions: %w", err)
			}
			value = encoded
		}
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if len(setClauses) > 0 {
		args = append(args, time.Now().UTC())
		setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", len(args)))
		args = append(args, policyID)

		query := fmt.Sprintf("UPDATE access_policies SET %s WHERE id = $%d",
			strings.Join(setClauses, ", "), len(args))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to update policy %d: %w", policyID, err)
		}
		s.logger.WithFields(map[string]interface{}{
			"policy_id": policyID,
			"fields":    keys,
		}).Info("Updated access policy")
	}

	return s.GetPolicy(ctx, policyID)
}

// DeletePolicy removes a policy. Returns false when it does not exist.
func (s *PolicyStore) DeletePolicy(ctx context.Context, policyID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM access_policies WHERE id = $1`, policyID)
	if err != nil {
		return false, fmt.Errorf("failed to delete policy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	s.logger.WithField("policy_id", policyID).Info("Deleted access policy")
	return true, nil
}

func collectPolicies(rows *sql.Rows) ([]AccessPolicy, error) {
	var policies []AccessPolicy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *policy)
	}
	return policies, rows.Err()
}

// scanPolicy scans one access_policies row
func scanPolicy(scanner interface{ Scan(dest ...interface{}) error }) (*AccessPolicy, error) {
	var policy AccessPolicy
	var description sql.NullString
	var roleID, createdBy sql.NullInt64
	var effect, actionsJSON string
	var conditionsJSON sql.NullString

	err := scanner.Scan(
		&policy.ID,
		&policy.Name,
		&description,
		&roleID,
		&policy.Priority,
		&effect,
		&policy.Resource,
		&actionsJSON,
		&conditionsJSON,
		&policy.IsActive,
		&createdBy,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	policy.Description = description.String
	policy.Effect = PolicyEffect(effect)
	if roleID.Valid {
		id := roleID.Int64
		policy.RoleID = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		policy.CreatedBy = &id
	}
	if err := unmarshalJSONColumn(actionsJSON, &policy.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy actions: %w", err)
	}
	if policy.Actions == nil {
		policy.Actions = []string{}
	}
	if conditionsJSON.Valid && conditionsJSON.String != "" {
		policy.Conditions = []byte(conditionsJSON.String)
	}
	return &policy, nil
}
