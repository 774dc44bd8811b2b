package rbac

import "encoding/json"

// marshalJSONColumn encodes a value destined for a TEXT/JSONB column.
// json.RawMessage and []byte pass through untouched.
func marshalJSONColumn(value interface{}) (string, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	case string:
		return v, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// unmarshalJSONColumn decodes a TEXT/JSONB column, treating the empty
// string as null
func unmarshalJSONColumn(raw string, dest interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

// normalizeConditions maps an absent conditions document to SQL NULL
func normalizeConditions(conditions json.RawMessage) interface{} {
	if len(conditions) == 0 {
		return nil
	}
	return string(conditions)
}
