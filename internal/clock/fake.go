package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is the deterministic MasterClock for tests. Time only moves when the
// test calls AdvanceUS; WaitUntil blocks on an internal broadcast instead of
// sleeping.
type Fake struct {
	epoch epochState

	mu      sync.Mutex
	nowUS   int64
	changed chan struct{}
}

// NewFake returns a deterministic clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{
		nowUS:   start.UTC().UnixMicro(),
		changed: make(chan struct{}),
	}
}

func (f *Fake) NowUTCMS() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nowUS / 1000
}

func (f *Fake) Monotonic() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(f.nowUS) * time.Microsecond
}

// AdvanceUS moves the clock forward and wakes every waiter.
func (f *Fake) AdvanceUS(us int64) {
	f.mu.Lock()
	f.nowUS += us
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

// Advance is AdvanceUS with a duration argument.
func (f *Fake) Advance(d time.Duration) {
	f.AdvanceUS(d.Microseconds())
}

func (f *Fake) WaitUntil(ctx context.Context, deadlineUTCMS int64) error {
	for {
		f.mu.Lock()
		if f.nowUS/1000 >= deadlineUTCMS {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Fake) TrySetEpochOnce(epochUTCMS int64, role Role) (bool, error) {
	return f.epoch.trySet(epochUTCMS, role)
}

func (f *Fake) ResetEpochForNewSession() { f.epoch.reset() }
func (f *Fake) EpochLocked() bool        { _, ok := f.epoch.get(); return ok }
func (f *Fake) Epoch() (int64, bool)     { return f.epoch.get() }
func (f *Fake) IsFake() bool             { return true }
