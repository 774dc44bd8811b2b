package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnet/warden/pkg/observability"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newMockLogger(t *testing.T) (*DBLogger, *sql.DB, sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)
	logger, err := NewDBLogger(db, testLogger(), nil)
	require.NoError(t, err)
	return logger, db, mock
}

func entryRows(entries ...Entry) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "action", "resource_type", "resource_id", "details",
		"ip_address", "user_agent", "status", "request_method", "request_path", "created_at",
	})
	for _, e := range entries {
		var details interface{}
		if e.Details != nil {
			encoded, _ := json.Marshal(e.Details)
			details = string(encoded)
		}
		rows.AddRow(e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID, details,
			e.IPAddress, e.UserAgent, string(e.Status), e.RequestMethod, e.RequestPath, e.CreatedAt)
	}
	return rows
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger, err := NewDBLogger(db, testLogger(), nil)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil, testLogger(), nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("success with details", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO admin_audit_log").
			WithArgs(int64(7), ActionRoleCreate, "role", "3", `{"name":"Support"}`,
				"10.0.0.1", "curl/8.0", string(StatusSuccess), "POST", "/roles",
				sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))

		entry := &Entry{
			UserID:        7,
			Action:        ActionRoleCreate,
			ResourceType:  "role",
			ResourceID:    "3",
			Details:       map[string]interface{}{"name": "Support"},
			IPAddress:     "10.0.0.1",
			UserAgent:     "curl/8.0",
			Status:        StatusSuccess,
			RequestMethod: "POST",
			RequestPath:   "/roles",
		}
		err := logger.Log(context.Background(), entry)
		require.NoError(t, err)
		assert.Equal(t, int64(101), entry.ID)
		assert.False(t, entry.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty optionals stored as NULL", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO admin_audit_log").
			WithArgs(int64(7), ActionAccessDenied, nil, nil, nil,
				nil, nil, string(StatusDenied), nil, nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(102)))

		entry := &Entry{UserID: 7, Action: ActionAccessDenied, Status: StatusDenied}
		err := logger.Log(context.Background(), entry)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert error", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO admin_audit_log").
			WillReturnError(errors.New("connection reset"))

		entry := &Entry{UserID: 7, Action: ActionRoleDelete, Status: StatusFailure}
		err := logger.Log(context.Background(), entry)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit entry")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_List(t *testing.T) {
	now := time.Now().UTC()

	t.Run("no filter", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		mock.ExpectQuery("SELECT COUNT\\(id\\) FROM admin_audit_log").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery("SELECT (.+) FROM admin_audit_log WHERE 1=1 ORDER BY created_at DESC, id DESC").
			WillReturnRows(entryRows(
				Entry{ID: 2, UserID: 7, Action: ActionRoleUpdate, Status: StatusSuccess, CreatedAt: now},
				Entry{ID: 1, UserID: 7, Action: ActionRoleCreate, Status: StatusSuccess, CreatedAt: now.Add(-time.Hour)},
			))

		entries, total, err := logger.List(context.Background(), Filter{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(2), entries[0].ID)
		assert.Equal(t, ActionRoleUpdate, entries[0].Action)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filters and pagination", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		userID := int64(7)
		status := StatusDenied

		mock.ExpectQuery("SELECT COUNT\\(id\\) FROM admin_audit_log WHERE 1=1 AND user_id = \\$1 AND LOWER\\(action\\) LIKE LOWER\\(\\$2\\) AND status = \\$3").
			WithArgs(userID, "%role%", string(status)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))
		mock.ExpectQuery("SELECT (.+) FROM admin_audit_log WHERE 1=1 (.+) ORDER BY created_at DESC, id DESC LIMIT \\$4 OFFSET \\$5").
			WithArgs(userID, "%role%", string(status), 10, 10).
			WillReturnRows(entryRows(
				Entry{ID: 11, UserID: 7, Action: ActionRoleDelete, Status: StatusDenied, CreatedAt: now},
			))

		entries, total, err := logger.List(context.Background(), Filter{
			UserID: &userID,
			Action: "role",
			Status: &status,
			Limit:  10,
			Offset: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(11), entries[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("details round-trip", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		mock.ExpectQuery("SELECT COUNT\\(id\\) FROM admin_audit_log").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("SELECT (.+) FROM admin_audit_log").
			WillReturnRows(entryRows(
				Entry{ID: 1, UserID: 7, Action: ActionPolicyCreate, Status: StatusSuccess,
					Details: map[string]interface{}{"policy": "block-night-refunds"}, CreatedAt: now},
			))

		entries, _, err := logger.List(context.Background(), Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "block-night-refunds", entries[0].Details["policy"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("count error", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		mock.ExpectQuery("SELECT COUNT\\(id\\) FROM admin_audit_log").
			WillReturnError(errors.New("boom"))

		_, _, err := logger.List(context.Background(), Filter{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to count audit entries")
	})
}

func TestDBLogger_Cleanup(t *testing.T) {
	t.Run("deletes old entries", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		cutoff := time.Now().AddDate(0, 0, -90)
		mock.ExpectExec("DELETE FROM admin_audit_log WHERE created_at < \\$1").
			WithArgs(cutoff).
			WillReturnResult(sqlmock.NewResult(0, 42))

		deleted, err := logger.Cleanup(context.Background(), cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(42), deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete error", func(t *testing.T) {
		logger, db, mock := newMockLogger(t)
		defer db.Close()

		mock.ExpectExec("DELETE FROM admin_audit_log").
			WillReturnError(errors.New("deadlock"))

		_, err := logger.Cleanup(context.Background(), time.Now())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to clean up audit entries")
	})
}
