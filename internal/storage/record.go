package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the envelope stored in every layer for a key.
type Record struct {
	Data      json.RawMessage   `json:"data"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EncodeRecord serializes a record for an adapter.
func EncodeRecord(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return b, nil
}

// DecodeRecord parses adapter bytes. It fails with ErrCorruptRecord when the
// bytes are not a record.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if r.Data == nil {
		return Record{}, fmt.Errorf("%w: missing data", ErrCorruptRecord)
	}
	return r, nil
}

func newRecord(value any, now time.Time) (Record, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode value: %w", err)
	}
	return Record{Data: data, UpdatedAt: now}, nil
}
