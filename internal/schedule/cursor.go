package schedule

import "sync"

// CursorStore persists Program sequential-play positions across airings and
// VirtualAsset rotation state. One instance per channel pipeline.
type CursorStore struct {
	mu        sync.Mutex
	positions map[string]int
}

func NewCursorStore() *CursorStore {
	return &CursorStore{positions: make(map[string]int)}
}

// NextSequential returns the current chain position for a program and
// advances it for the next airing.
func (c *CursorStore) NextSequential(programID string, chainLen int) int {
	if chainLen <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := c.positions[programID] % chainLen
	c.positions[programID] = (pos + 1) % chainLen
	return pos
}

// NextRotation returns the rotation counter for a virtual asset and advances it.
func (c *CursorStore) NextRotation(virtualID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	rot := c.positions["virtual:"+virtualID]
	c.positions["virtual:"+virtualID] = rot + 1
	return rot
}
