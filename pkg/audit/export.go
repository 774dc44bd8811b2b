package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

// Export writes the entries to w in the requested format
func Export(w io.Writer, entries []Entry, format ExportFormat) error {
	switch format {
	case ExportFormatCSV:
		return exportCSV(w, entries)
	case ExportFormatJSON:
		return exportJSON(w, entries)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

func exportCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	header := []string{
		"id", "user_id", "action", "resource_type", "resource_id",
		"details", "ip_address", "user_agent", "status",
		"request_method", "request_path", "created_at",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range entries {
		e := &entries[i]
		details := ""
		if e.Details != nil {
			encoded, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("failed to marshal details for entry %d: %w", e.ID, err)
			}
			details = string(encoded)
		}
		record := []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.UserID, 10),
			e.Action,
			e.ResourceType,
			e.ResourceID,
			details,
			e.IPAddress,
			e.UserAgent,
			string(e.Status),
			e.RequestMethod,
			e.RequestPath,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func exportJSON(w io.Writer, entries []Entry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
