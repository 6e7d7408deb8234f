// Package clock provides the single authoritative source of time for a
// playout session. Every component that needs "now" takes a MasterClock as a
// dependency; nothing else in the process reads the wall clock.
package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Role identifies who is asking to set the session epoch. Only the live
// pipeline may lock it.
type Role string

const (
	RoleLive    Role = "LIVE"
	RolePreview Role = "PREVIEW"
)

// ErrClockAuthority is returned when a caller attempts a mutating clock
// operation it is not entitled to (epoch set by PREVIEW, double set outside
// the single-shot, reads routed around the MasterClock).
var ErrClockAuthority = errors.New("clock_authority_violation")

// MasterClock is the process-wide time authority for one playout session.
type MasterClock interface {
	// NowUTCMS returns the current UTC wall time in milliseconds.
	NowUTCMS() int64
	// Monotonic returns a monotonic reading unaffected by wall clock steps.
	Monotonic() time.Duration
	// WaitUntil blocks until NowUTCMS() >= deadlineUTCMS or ctx is done.
	WaitUntil(ctx context.Context, deadlineUTCMS int64) error
	// TrySetEpochOnce atomically sets the session epoch. It succeeds only on
	// the first call with RoleLive per session; every other call returns
	// false. A non-live role additionally returns ErrClockAuthority.
	TrySetEpochOnce(epochUTCMS int64, role Role) (bool, error)
	// ResetEpochForNewSession clears the epoch. Session boundary only.
	ResetEpochForNewSession()
	// EpochLocked reports whether the epoch has been set for this session.
	EpochLocked() bool
	// Epoch returns the locked epoch, if any.
	Epoch() (int64, bool)
	// IsFake reports whether this is the deterministic test clock, so
	// consumers can skip real-time delays.
	IsFake() bool
}

// epochState holds the single-shot epoch shared by both clock variants.
type epochState struct {
	mu     sync.Mutex
	epoch  int64
	locked bool
}

func (e *epochState) trySet(epochUTCMS int64, role Role) (bool, error) {
	if role != RoleLive {
		return false, ErrClockAuthority
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked {
		return false, nil
	}
	e.epoch = epochUTCMS
	e.locked = true
	return true, nil
}

func (e *epochState) reset() {
	e.mu.Lock()
	e.locked = false
	e.epoch = 0
	e.mu.Unlock()
}

func (e *epochState) get() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch, e.locked
}

// System is the production MasterClock backed by the OS clock.
type System struct {
	epoch epochState
}

// NewSystem returns the production clock.
func NewSystem() *System {
	return &System{}
}

func (s *System) NowUTCMS() int64 {
	return time.Now().UTC().UnixMilli()
}

func (s *System) Monotonic() time.Duration {
	return time.Since(processStart)
}

func (s *System) WaitUntil(ctx context.Context, deadlineUTCMS int64) error {
	d := time.Duration(deadlineUTCMS-s.NowUTCMS()) * time.Millisecond
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *System) TrySetEpochOnce(epochUTCMS int64, role Role) (bool, error) {
	return s.epoch.trySet(epochUTCMS, role)
}

func (s *System) ResetEpochForNewSession() { s.epoch.reset() }
func (s *System) EpochLocked() bool        { _, ok := s.epoch.get(); return ok }
func (s *System) Epoch() (int64, bool)     { return s.epoch.get() }
func (s *System) IsFake() bool             { return false }

var processStart = time.Now()
