package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/veilnet/warden/pkg/contextkeys"
	"github.com/veilnet/warden/pkg/httputil"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records a single audit entry
	Log(ctx context.Context, entry *Entry) error

	// Close flushes any buffered entries
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, falling back to
// a no-op logger so callers never need a nil check
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return &nopLogger{}
}

// nopLogger discards entries; used when no logger is configured
type nopLogger struct{}

func (l *nopLogger) Log(ctx context.Context, entry *Entry) error { return nil }
func (l *nopLogger) Close() error                                { return nil }

// NewEntry builds an entry with request context (IP, user agent, method,
// path) pre-filled
func NewEntry(r *http.Request, userID int64, action string, status Status) *Entry {
	entry := &Entry{
		UserID:    userID,
		Action:    action,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if r != nil {
		entry.IPAddress = httputil.ClientIP(r)
		entry.UserAgent = r.UserAgent()
		entry.RequestMethod = r.Method
		entry.RequestPath = r.URL.Path
	}
	return entry
}

// Record logs via the context's logger, attaching resource and details
// in one call. Errors are swallowed: audit failures must never fail the
// audited operation.
func Record(ctx context.Context, r *http.Request, userID int64, action string, status Status, resourceType, resourceID string, details map[string]interface{}) {
	entry := NewEntry(r, userID, action, status)
	entry.ResourceType = resourceType
	entry.ResourceID = resourceID
	entry.Details = details
	_ = FromContext(ctx).Log(ctx, entry)
}
