// Package content defines the port to the external content store. The core
// never ingests or enriches media; it only asks whether an asset may air and
// where its material lives.
package content

import "sync"

// AssetState mirrors the content store's processing lifecycle. Only "ready"
// assets may be admitted to the execution window.
type AssetState string

const (
	StateReady     AssetState = "ready"
	StateEnriching AssetState = "enriching"
	StateIngesting AssetState = "ingesting"
	StateFailed    AssetState = "failed"
)

// AssetMeta is the read-only projection of a physical media asset.
type AssetMeta struct {
	ID                   string
	URI                  string
	DurationMS           int64
	State                AssetState
	ApprovedForBroadcast bool
}

// Store is the content-store port consumed by the planning pipeline.
type Store interface {
	// Asset returns metadata for a physical asset.
	Asset(id string) (AssetMeta, bool)
	// Eligible reports whether the asset may air right now. The reason is
	// empty when eligible and a stable machine-readable string otherwise.
	Eligible(id string) (bool, string)
}

// Eligibility reasons surfaced in violation logs.
const (
	ReasonNotFound    = "asset_not_found"
	ReasonNotReady    = "state!=ready"
	ReasonNotApproved = "approved_for_broadcast=false"
)

// Memory is an in-memory Store used by tests and the local daemon profile.
type Memory struct {
	mu     sync.RWMutex
	assets map[string]AssetMeta
}

func NewMemory() *Memory {
	return &Memory{assets: make(map[string]AssetMeta)}
}

// Put inserts or replaces an asset.
func (m *Memory) Put(a AssetMeta) {
	m.mu.Lock()
	m.assets[a.ID] = a
	m.mu.Unlock()
}

// SetState mutates an asset's processing state (test hook for revocation).
func (m *Memory) SetState(id string, state AssetState) {
	m.mu.Lock()
	if a, ok := m.assets[id]; ok {
		a.State = state
		m.assets[id] = a
	}
	m.mu.Unlock()
}

// SetApproved mutates the canonical-approval flag.
func (m *Memory) SetApproved(id string, approved bool) {
	m.mu.Lock()
	if a, ok := m.assets[id]; ok {
		a.ApprovedForBroadcast = approved
		m.assets[id] = a
	}
	m.mu.Unlock()
}

func (m *Memory) Asset(id string) (AssetMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	return a, ok
}

func (m *Memory) Eligible(id string) (bool, string) {
	m.mu.RLock()
	a, ok := m.assets[id]
	m.mu.RUnlock()
	if !ok {
		return false, ReasonNotFound
	}
	if a.State != StateReady {
		return false, ReasonNotReady
	}
	if !a.ApprovedForBroadcast {
		return false, ReasonNotApproved
	}
	return true, ""
}
