package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []Entry {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return []Entry{
		{
			ID:            1,
			UserID:        7,
			Action:        ActionRoleCreate,
			ResourceType:  "role",
			ResourceID:    "3",
			Details:       map[string]interface{}{"name": "Support"},
			IPAddress:     "10.0.0.1",
			Status:        StatusSuccess,
			RequestMethod: "POST",
			RequestPath:   "/roles",
			CreatedAt:     created,
		},
		{
			ID:        2,
			UserID:    8,
			Action:    ActionAccessDenied,
			Status:    StatusDenied,
			CreatedAt: created.Add(time.Minute),
		},
	}
}

func TestExport_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, sampleEntries(), ExportFormatCSV))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + 2 rows

	assert.Equal(t, "id", records[0][0])
	assert.Equal(t, "created_at", records[0][11])

	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, ActionRoleCreate, records[1][2])
	assert.Equal(t, `{"name":"Support"}`, records[1][5])
	assert.Equal(t, "2026-03-14T09:26:53Z", records[1][11])

	// Empty details stay empty, not "null"
	assert.Equal(t, "", records[2][5])
	assert.Equal(t, string(StatusDenied), records[2][8])
}

func TestExport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, sampleEntries(), ExportFormatJSON))

	var decoded []Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, int64(1), decoded[0].ID)
	assert.Equal(t, "Support", decoded[0].Details["name"])
	assert.Equal(t, StatusDenied, decoded[1].Status)
}

func TestExport_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Export(&buf, nil, ExportFormat("xml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format")
}
