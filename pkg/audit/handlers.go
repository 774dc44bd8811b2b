package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/observability"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxExportRows   = 10000
)

// Handlers exposes the audit log over HTTP
type Handlers struct {
	dbLogger *DBLogger
	logger   *observability.Logger
}

// NewHandlers creates audit HTTP handlers
func NewHandlers(dbLogger *DBLogger, logger *observability.Logger) *Handlers {
	return &Handlers{dbLogger: dbLogger, logger: logger}
}

// RegisterRoutes mounts the audit endpoints on the router. Permission
// enforcement is wired by the caller.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/audit-log", h.ListEntries).Methods(http.MethodGet)
	r.HandleFunc("/audit-log/export", h.ExportEntries).Methods(http.MethodGet)
}

// ListEntries handles GET /audit-log
func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}

	entries, total, err := h.dbLogger.List(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list audit entries")
		httputil.WriteInternalError(w, fmt.Errorf("failed to list audit entries"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// ExportEntries handles GET /audit-log/export
func (h *Handlers) ExportEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Limit = maxExportRows
	filter.Offset = 0

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	if format != ExportFormatJSON && format != ExportFormatCSV {
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported export format %q", format))
		return
	}

	entries, _, err := h.dbLogger.List(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to export audit entries")
		httputil.WriteInternalError(w, fmt.Errorf("failed to export audit entries"))
		return
	}

	filename := "audit-log-" + time.Now().UTC().Format("20060102-150405")
	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.json"`)
	}

	if err := Export(w, entries, format); err != nil {
		h.logger.WithError(err).Error("Failed to write audit export")
	}
}

func filterFromQuery(r *http.Request) (Filter, error) {
	var filter Filter
	q := r.URL.Query()

	userID, err := httputil.QueryInt64(r, "user_id")
	if err != nil {
		return filter, err
	}
	filter.UserID = userID
	filter.Action = q.Get("action")
	filter.ResourceType = q.Get("resource_type")
	if raw := q.Get("status"); raw != "" {
		status := Status(raw)
		if status != StatusSuccess && status != StatusFailure && status != StatusDenied {
			return filter, fmt.Errorf("invalid status %q", raw)
		}
		filter.Status = &status
	}

	filter.StartTime, err = httputil.QueryTime(r, "start_time")
	if err != nil {
		return filter, err
	}
	filter.EndTime, err = httputil.QueryTime(r, "end_time")
	if err != nil {
		return filter, err
	}

	filter.Limit, err = httputil.QueryInt(r, "limit", 0)
	if err != nil {
		return filter, fmt.Errorf("invalid limit: %v", err)
	}
	filter.Offset, err = httputil.QueryInt(r, "offset", 0)
	if err != nil {
		return filter, fmt.Errorf("invalid offset: %v", err)
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter, nil
}
