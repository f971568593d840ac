package utils

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewVisitorID generates a random v4 UUID used as a durable visitor identifier.
func NewVisitorID() string {
	return uuid.NewString()
}

// NewRowID generates a ULID for database rows. IDs minted within the same
// millisecond stay ordered.
func NewRowID() string {
	id, err := NewRowIDAt(time.Now())
	if err != nil {
		// only reachable with a wall clock outside the ULID range
		panic(err)
	}
	return id
}

// NewRowIDAt generates a ULID carrying t as its timestamp. Times before the
// Unix epoch or past the 48-bit millisecond range are rejected.
func NewRowIDAt(t time.Time) (string, error) {
	if t.Before(time.UnixMilli(0)) || t.After(ulid.Time(ulid.MaxTime())) {
		return "", fmt.Errorf("row id timestamp %s out of range", t.UTC().Format(time.RFC3339))
	}
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate row id: %w", err)
	}
	return id.String(), nil
}

// RowIDTime extracts the timestamp encoded in a row ID.
func RowIDTime(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
