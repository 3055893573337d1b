package entities

import (
	"bytes"
	"encoding/json"
)

// DefaultStateKey is the fixed key of the single document row per user.
const DefaultStateKey = "workspace"

// StateRecord is the server-side row holding one user's document.
// UpdatedAt is the server clock in epoch milliseconds.
type StateRecord struct {
	UserID    string          `json:"user_id"`
	Key       string          `json:"key"`
	State     json.RawMessage `json:"state"`
	UpdatedAt int64           `json:"updated_at"`
}

// IsNewerThan reports whether the record must reject a write based on base.
func (r *StateRecord) IsNewerThan(base *int64) bool {
	return base != nil && r.UpdatedAt > *base
}

// NextTimestamp returns the timestamp for a write accepted at now, keeping
// stored timestamps strictly increasing.
func (r *StateRecord) NextTimestamp(now int64) int64 {
	if r == nil || now > r.UpdatedAt {
		return now
	}
	return r.UpdatedAt + 1
}

// IsJSONObject reports whether data holds a single JSON object.
func IsJSONObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
