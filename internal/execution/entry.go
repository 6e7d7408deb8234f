// Package execution owns the committed ExecutionEntries: the sole source of
// truth for what a channel is airing at any instant inside the horizon.
package execution

import (
	"errors"
	"fmt"
)

// Invariant violation tags. The codes are stable identifiers consumed by
// operators and the fault classifier; they never change spelling.
var (
	ErrDerivation = errors.New("INV-EXECUTIONENTRY-DERIVED-FROM-TRANSMISSIONLOG-001-VIOLATED")
	ErrNoGaps     = errors.New("INV-EXECUTIONENTRY-NO-GAPS-001-VIOLATED")
	ErrOverlap    = errors.New("INV-EXECUTIONENTRY-SINGLE-AUTHORITY-AT-TIME-001-VIOLATED")
	ErrLocked     = errors.New("execution entry is locked")
	ErrNotFound   = errors.New("execution entry not found")
)

// Entry is one committed airing. Timestamps derive exclusively from the
// MasterClock generation pass in the horizon manager. After commit the entry
// is immutable; readers share it without locks.
type Entry struct {
	ID         string
	ChannelID  string
	StartUTCMS int64
	EndUTCMS   int64

	AssetID   string
	AssetURI  string
	Synthetic bool
	Pattern   string

	// TransmissionLogRef traces the entry to its planning origin. Exactly one
	// of TransmissionLogRef or OperatorOverride must be set.
	TransmissionLogRef string
	OperatorOverride   bool

	Locked bool
}

// Validate checks the single-entry invariants (derivation, ordering).
func (e Entry) Validate(enforceDerivation bool) error {
	if e.StartUTCMS >= e.EndUTCMS {
		return fmt.Errorf("entry %s: start %d >= end %d: %w", e.ID, e.StartUTCMS, e.EndUTCMS, ErrOverlap)
	}
	if enforceDerivation && e.TransmissionLogRef == "" && !e.OperatorOverride {
		return fmt.Errorf("entry %s has neither transmission log ref nor operator override: %w", e.ID, ErrDerivation)
	}
	return nil
}

// Covers reports whether the entry's half-open interval contains the instant.
func (e Entry) Covers(utcMS int64) bool {
	return utcMS >= e.StartUTCMS && utcMS < e.EndUTCMS
}
