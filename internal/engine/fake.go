package engine

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Engine implementing the boundary contract, used by
// channel manager and supervisor tests.
type Fake struct {
	mu       sync.Mutex
	started  map[string]bool
	previews map[string]string // channel -> loaded preview URI

	// RPCDelay simulates engine latency; tests set it above the RPC timeout
	// to exercise the fatal-timeout path.
	RPCDelay time.Duration
	// FailSwitch forces SwitchToLive to report failure.
	FailSwitch bool

	Calls []string
}

func NewFake() *Fake {
	return &Fake{
		started:  make(map[string]bool),
		previews: make(map[string]string),
	}
}

func (f *Fake) delay(ctx context.Context) error {
	if f.RPCDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.RPCDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *Fake) StartChannel(ctx context.Context, channelID, planHandle string, port int) (StartResult, error) {
	if err := f.delay(ctx); err != nil {
		return StartResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartChannel:" + channelID)
	// Idempotent success on already-started channels.
	f.started[channelID] = true
	return StartResult{Success: true}, nil
}

func (f *Fake) LoadPreview(ctx context.Context, channelID, assetURI string, startOffsetMS, hardStopUTCMS int64) (PreviewResult, error) {
	if err := f.delay(ctx); err != nil {
		return PreviewResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LoadPreview:" + channelID)
	if !f.started[channelID] {
		return PreviewResult{}, ErrNotStarted
	}
	f.previews[channelID] = assetURI
	return PreviewResult{Success: true, ShadowDecodeStarted: true}, nil
}

func (f *Fake) SwitchToLive(ctx context.Context, channelID string) (SwitchResult, error) {
	if err := f.delay(ctx); err != nil {
		return SwitchResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SwitchToLive:" + channelID)
	if f.previews[channelID] == "" {
		return SwitchResult{}, ErrNoPreview
	}
	if f.FailSwitch {
		return SwitchResult{Success: false}, nil
	}
	delete(f.previews, channelID)
	return SwitchResult{Success: true, PTSContiguous: true}, nil
}

func (f *Fake) UpdatePlan(ctx context.Context, channelID, planHandle string) error {
	if err := f.delay(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdatePlan:" + channelID)
	return nil
}

func (f *Fake) StopChannel(ctx context.Context, channelID string) error {
	if err := f.delay(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopChannel:" + channelID)
	// Idempotent success on unknown or already-stopped channels.
	delete(f.started, channelID)
	delete(f.previews, channelID)
	return nil
}

func (f *Fake) GetVersion(ctx context.Context) (Version, error) {
	return Version{Build: "fake", SchemaVersion: 1}, nil
}

// Started reports whether a channel is started (test helper).
func (f *Fake) Started(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[channelID]
}

// PreviewLoaded reports whether a preview is pending for the channel.
func (f *Fake) PreviewLoaded(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previews[channelID] != ""
}
