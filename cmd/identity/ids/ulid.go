// Package ids provides the ULID primitives used for user and session identifiers.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a fresh ULID string (26 chars) stamped at now.
// A zero now means "current time". ULIDs sort by creation time, which keeps
// index pages warm for recent users and sessions.
func New(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s parses as a canonical ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
