package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata describes a stored record. It is recomputed wholesale on every
// write, never merged.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
	Size      int       `json:"size"`
}

// Record is a stored value with metadata.
type Record[V any] struct {
	Key       string    `json:"key"`
	Value     V         `json:"value"`
	Metadata  Metadata  `json:"metadata"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // Zero means no expiry.
}

// expired reports whether the record's TTL has elapsed as of now.
func (r *Record[V]) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// encodeValue serializes a value for size and checksum computation (and, for
// the persistent backend, for storage). Failures are serialization errors
// surfaced to the caller.
func encodeValue[V any](v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

// decodeValue is the inverse of encodeValue.
func decodeValue[V any](data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// newMetadata computes fresh metadata for a write at the given instant.
// Version always starts at 1: writes replace records wholesale. The checksum
// is a cheap size-and-time change signal, not an integrity digest.
func newMetadata(size int, now time.Time) Metadata {
	return Metadata{
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
		Checksum:  fmt.Sprintf("%d-%d", size, now.UnixMilli()),
		Size:      size,
	}
}
