package execution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slbailey/retrovue/internal/schedule"
)

// WindowStore holds committed entries per channel in time order. Writes are
// serialized per channel; reads take a snapshot of the slice header and then
// touch only immutable committed entries.
type WindowStore struct {
	mu       sync.RWMutex
	channels map[string]*channelWindow
}

type channelWindow struct {
	mu      sync.Mutex // serializes writes for one channel
	entries []*Entry   // time-ordered, contiguous
}

func NewWindowStore() *WindowStore {
	return &WindowStore{channels: make(map[string]*channelWindow)}
}

func (s *WindowStore) window(channelID string) *channelWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.channels[channelID]
	if !ok {
		w = &channelWindow{}
		s.channels[channelID] = w
	}
	return w
}

// AddEntries validates and commits a batch atomically. On any violation the
// whole batch is rejected and the window is unchanged. Committed entries are
// locked as part of the commit.
func (s *WindowStore) AddEntries(channelID string, entries []Entry, enforceDerivation bool) error {
	if len(entries) == 0 {
		return nil
	}
	w := s.window(channelID)
	w.mu.Lock()
	defer w.mu.Unlock()

	tail := int64(0)
	if n := len(w.entries); n > 0 {
		tail = w.entries[n-1].EndUTCMS
	}

	cursor := tail
	for i := range entries {
		e := entries[i]
		if err := e.Validate(enforceDerivation); err != nil {
			return err
		}
		if len(w.entries) > 0 || i > 0 {
			if e.StartUTCMS < cursor {
				return fmt.Errorf("entry %s starts %d inside committed window ending %d: %w", e.ID, e.StartUTCMS, cursor, ErrOverlap)
			}
			if e.StartUTCMS > cursor {
				return fmt.Errorf("entry %s starts %d leaving a gap after %d: %w", e.ID, e.StartUTCMS, cursor, ErrNoGaps)
			}
		}
		cursor = e.EndUTCMS
	}

	for i := range entries {
		e := entries[i]
		e.Locked = true
		w.entries = append(w.entries, &e)
	}
	return nil
}

// EntryAt returns the single committed entry covering the instant.
func (s *WindowStore) EntryAt(channelID string, utcMS int64) (Entry, bool) {
	entries := s.snapshot(channelID)
	i := sort.Search(len(entries), func(i int) bool { return entries[i].EndUTCMS > utcMS })
	if i < len(entries) && entries[i].Covers(utcMS) {
		return *entries[i], true
	}
	return Entry{}, false
}

// EntriesFrom returns committed entries whose interval ends after utcMS.
func (s *WindowStore) EntriesFrom(channelID string, utcMS int64) []Entry {
	entries := s.snapshot(channelID)
	var out []Entry
	for _, e := range entries {
		if e.EndUTCMS > utcMS {
			out = append(out, *e)
		}
	}
	return out
}

// TailEndUTCMS returns the end of the committed window, or 0 when empty.
func (s *WindowStore) TailEndUTCMS(channelID string) int64 {
	entries := s.snapshot(channelID)
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].EndUTCMS
}

// Lock marks an entry locked. Locking is idempotent. Published entries are
// never mutated: locking installs a copy into a fresh slice so readers
// holding a snapshot keep a consistent view.
func (s *WindowStore) Lock(channelID, entryID string) error {
	w := s.window(channelID)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, e := range w.entries {
		if e.ID == entryID {
			if e.Locked {
				return nil
			}
			locked := *e
			locked.Locked = true
			next := append([]*Entry(nil), w.entries...)
			next[i] = &locked
			w.entries = next
			return nil
		}
	}
	return ErrNotFound
}

// Projection is one read-only intersection of an entry with a broadcast-day
// window. The entry keeps its full bounds; only the projected window is
// clamped. Entries are never mutated or split by projection.
type Projection struct {
	Entry            Entry
	WindowStartUTCMS int64
	WindowEndUTCMS   int64
}

// ProjectBroadcastDay intersects committed entries with the broadcast-day
// window anchored at startLocalMinutes in loc.
func (s *WindowStore) ProjectBroadcastDay(channelID string, day time.Time, loc *time.Location, startLocalMinutes int) []Projection {
	dayStart, dayEnd := schedule.DayWindow(day, loc, startLocalMinutes)
	entries := s.snapshot(channelID)
	var out []Projection
	for _, e := range entries {
		if e.EndUTCMS <= dayStart || e.StartUTCMS >= dayEnd {
			continue
		}
		p := Projection{Entry: *e, WindowStartUTCMS: e.StartUTCMS, WindowEndUTCMS: e.EndUTCMS}
		if p.WindowStartUTCMS < dayStart {
			p.WindowStartUTCMS = dayStart
		}
		if p.WindowEndUTCMS > dayEnd {
			p.WindowEndUTCMS = dayEnd
		}
		out = append(out, p)
	}
	return out
}

func (s *WindowStore) snapshot(channelID string) []*Entry {
	s.mu.RLock()
	w, ok := s.channels[channelID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	w.mu.Lock()
	entries := w.entries
	w.mu.Unlock()
	return entries
}
