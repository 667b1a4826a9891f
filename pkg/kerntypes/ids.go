// Package kerntypes holds the data shapes shared across the orchestration
// kernel's packages: discriminated unions, id/clock glue, and the pure token
// estimator. Kept as a pkg/ package (not internal/) so every internal
// package can import it without risking an import cycle.
package kerntypes

import (
	"time"

	"github.com/google/uuid"
)

// NowFunc is the wall-clock source NowISO formats as RFC3339Nano.
// Centralised so callers never reach for time.Now().Format directly and so
// tests can substitute a fake clock by wrapping this package's var, not by
// threading a Clock interface through every constructor.
var NowFunc = time.Now

// NowISO returns NowFunc() formatted as RFC3339Nano in UTC.
func NowISO() string {
	return NowFunc().UTC().Format(time.RFC3339Nano)
}

// RandomIDFunc generates the random component of an id. Overridable in tests
// for deterministic ids; defaults to a UUIDv4.
var RandomIDFunc = func() string { return uuid.NewString() }

// RandomID returns a fresh opaque id, unique within a session's scope.
func RandomID() string { return RandomIDFunc() }
