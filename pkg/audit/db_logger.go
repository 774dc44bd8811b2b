package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilnet/warden/pkg/observability"
)

// DBLogger implements audit logging to the admin_audit_log table. The
// table itself is created by the engine migrations.
type DBLogger struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDBLogger creates a database-backed audit logger. metrics may be
// nil.
func NewDBLogger(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db, logger: logger, metrics: metrics}, nil
}

// Log inserts one audit entry
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	var detailsJSON interface{}
	if entry.Details != nil {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		detailsJSON = string(encoded)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO admin_audit_log (user_id, action, resource_type, resource_id, details, ip_address, user_agent, status, request_method, request_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		entry.UserID,
		entry.Action,
		nullString(entry.ResourceType),
		nullString(entry.ResourceID),
		detailsJSON,
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		string(entry.Status),
		nullString(entry.RequestMethod),
		nullString(entry.RequestPath),
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		if l.metrics != nil {
			l.metrics.AuditWritesTotal.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if l.metrics != nil {
		l.metrics.AuditWritesTotal.WithLabelValues(string(entry.Status)).Inc()
	}
	return nil
}

const entryColumns = `id, user_id, action, resource_type, resource_id, details, ip_address, user_agent, status, request_method, request_path, created_at`

// List returns entries matching the filter, newest first, along with
// the total match count for pagination
func (l *DBLogger) List(ctx context.Context, filter Filter) ([]Entry, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, "%"+filter.Action+"%")
		where += fmt.Sprintf(" AND LOWER(action) LIKE LOWER($%d)", len(args))
	}
	if filter.ResourceType != "" {
		args = append(args, filter.ResourceType)
		where += fmt.Sprintf(" AND resource_type = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.StartTime != nil {
		args = append(args, *filter.StartTime)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.EndTime != nil {
		args = append(args, *filter.EndTime)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(id) FROM admin_audit_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := "SELECT " + entryColumns + " FROM admin_audit_log" + where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, total, nil
}

// Cleanup deletes entries older than the cutoff, returning how many
// were removed
func (l *DBLogger) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM admin_audit_log WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned entries: %w", err)
	}
	if deleted > 0 {
		l.logger.WithFields(map[string]interface{}{
			"deleted": deleted,
			"cutoff":  olderThan,
		}).Info("Cleaned up expired audit entries")
	}
	return deleted, nil
}

// Close is a no-op; the database connection is shared and owned by the
// caller
func (l *DBLogger) Close() error {
	return nil
}

func scanEntry(scanner interface{ Scan(dest ...interface{}) error }) (*Entry, error) {
	var entry Entry
	var resourceType, resourceID, details, ipAddress, userAgent, requestMethod, requestPath sql.NullString
	var status string

	err := scanner.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Action,
		&resourceType,
		&resourceID,
		&details,
		&ipAddress,
		&userAgent,
		&status,
		&requestMethod,
		&requestPath,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ResourceType = resourceType.String
	entry.ResourceID = resourceID.String
	entry.IPAddress = ipAddress.String
	entry.UserAgent = userAgent.String
	entry.Status = Status(status)
	entry.RequestMethod = requestMethod.String
	entry.RequestPath = requestPath.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}
	}
	return &entry, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
