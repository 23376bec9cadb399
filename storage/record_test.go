package storage

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestNewMetadata(t *testing.T) {
	now := time.Unix(1700000000, 0)
	md := newMetadata(42, now)

	if md.Version != 1 {
		t.Errorf("Version = %d, want 1", md.Version)
	}
	if md.Size != 42 {
		t.Errorf("Size = %d, want 42", md.Size)
	}
	if !md.CreatedAt.Equal(now) || !md.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v / %v", md.CreatedAt, md.UpdatedAt)
	}

	// The checksum is size + write-time millis: a change signal, not a hash.
	parts := strings.SplitN(md.Checksum, "-", 2)
	if len(parts) != 2 {
		t.Fatalf("Checksum = %q", md.Checksum)
	}
	if parts[0] != "42" {
		t.Errorf("checksum size part = %q, want 42", parts[0])
	}
	if ms, err := strconv.ParseInt(parts[1], 10, 64); err != nil || ms != now.UnixMilli() {
		t.Errorf("checksum time part = %q, want %d", parts[1], now.UnixMilli())
	}
}

func TestRecord_Expired(t *testing.T) {
	now := time.Unix(1700000000, 0)

	r := Record[string]{Key: "k"}
	if r.expired(now) {
		t.Error("zero ExpiresAt treated as expired")
	}

	r.ExpiresAt = now.Add(time.Minute)
	if r.expired(now) {
		t.Error("future expiry treated as expired")
	}
	if !r.expired(now.Add(2 * time.Minute)) {
		t.Error("past expiry not treated as expired")
	}
}

func TestEncodeDecodeValue(t *testing.T) {
	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	data, err := encodeValue(doc{Name: "a", Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeValue[doc](data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "a" || got.Count != 3 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestEncodeValue_Unserializable(t *testing.T) {
	if _, err := encodeValue(any(make(chan int))); err == nil {
		t.Error("expected error for unserializable value")
	}
}
