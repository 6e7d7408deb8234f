package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMS = int64(60 * 60_000)

var base = time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC).UnixMilli()

func entry(id string, start, end int64) Entry {
	return Entry{
		ID:                 id,
		ChannelID:          "ch1",
		StartUTCMS:         start,
		EndUTCMS:           end,
		AssetID:            "asset-" + id,
		TransmissionLogRef: "tx-" + id,
	}
}

func TestAddEntriesCommitsContiguousBatch(t *testing.T) {
	s := NewWindowStore()
	batch := []Entry{
		entry("e1", base, base+hourMS),
		entry("e2", base+hourMS, base+2*hourMS),
	}
	require.NoError(t, s.AddEntries("ch1", batch, true))

	got, ok := s.EntryAt("ch1", base+30*60_000)
	require.True(t, ok)
	assert.Equal(t, "e1", got.ID)
	assert.True(t, got.Locked, "commit locks entries")
	assert.Equal(t, base+2*hourMS, s.TailEndUTCMS("ch1"))
}

func TestAddEntriesRejectsGap(t *testing.T) {
	s := NewWindowStore()
	require.NoError(t, s.AddEntries("ch1", []Entry{entry("e1", base, base+hourMS)}, true))

	err := s.AddEntries("ch1", []Entry{entry("e2", base+hourMS+1, base+2*hourMS)}, true)
	require.ErrorIs(t, err, ErrNoGaps)
	assert.Equal(t, base+hourMS, s.TailEndUTCMS("ch1"))
}

func TestAddEntriesRejectsOverlap(t *testing.T) {
	s := NewWindowStore()
	require.NoError(t, s.AddEntries("ch1", []Entry{entry("e1", base, base+hourMS)}, true))

	err := s.AddEntries("ch1", []Entry{entry("e2", base+hourMS-1, base+2*hourMS)}, true)
	require.ErrorIs(t, err, ErrOverlap)
}

func TestAddEntriesIdenticalRecommitRejectedAsOverlap(t *testing.T) {
	s := NewWindowStore()
	batch := []Entry{entry("e1", base, base+hourMS)}
	require.NoError(t, s.AddEntries("ch1", batch, true))
	require.ErrorIs(t, s.AddEntries("ch1", batch, true), ErrOverlap)
}

func TestAddEntriesRejectsUnderivedEntry(t *testing.T) {
	s := NewWindowStore()
	e := entry("e1", base, base+hourMS)
	e.TransmissionLogRef = ""
	require.ErrorIs(t, s.AddEntries("ch1", []Entry{e}, true), ErrDerivation)

	// An operator override satisfies derivation without a log ref.
	e.OperatorOverride = true
	require.NoError(t, s.AddEntries("ch1", []Entry{e}, true))
}

func TestAddEntriesBatchIsAtomic(t *testing.T) {
	s := NewWindowStore()
	batch := []Entry{
		entry("e1", base, base+hourMS),
		entry("bad", base+hourMS, base+hourMS), // zero-length
	}
	require.Error(t, s.AddEntries("ch1", batch, true))
	assert.Zero(t, s.TailEndUTCMS("ch1"), "no partial commit")
}

func TestEntryAtIsHalfOpen(t *testing.T) {
	s := NewWindowStore()
	require.NoError(t, s.AddEntries("ch1", []Entry{
		entry("e1", base, base+hourMS),
		entry("e2", base+hourMS, base+2*hourMS),
	}, true))

	got, ok := s.EntryAt("ch1", base+hourMS)
	require.True(t, ok)
	assert.Equal(t, "e2", got.ID, "boundary instant belongs to the successor")

	_, ok = s.EntryAt("ch1", base-1)
	assert.False(t, ok)
	_, ok = s.EntryAt("ch1", base+2*hourMS)
	assert.False(t, ok)
}

func TestEntriesFromAndLock(t *testing.T) {
	s := NewWindowStore()
	require.NoError(t, s.AddEntries("ch1", []Entry{
		entry("e1", base, base+hourMS),
		entry("e2", base+hourMS, base+2*hourMS),
	}, true))

	upcoming := s.EntriesFrom("ch1", base+90*60_000)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "e2", upcoming[0].ID)

	require.NoError(t, s.Lock("ch1", "e1"))
	require.NoError(t, s.Lock("ch1", "e1")) // idempotent
	require.ErrorIs(t, s.Lock("ch1", "missing"), ErrNotFound)
}

// Locking must never mutate an entry a concurrent reader already holds.
func TestLockIsSafeAgainstConcurrentReaders(t *testing.T) {
	s := NewWindowStore()
	require.NoError(t, s.AddEntries("ch1", []Entry{
		{ID: "e1", ChannelID: "ch1", StartUTCMS: base, EndUTCMS: base + hourMS, AssetID: "a", OperatorOverride: true},
		{ID: "e2", ChannelID: "ch1", StartUTCMS: base + hourMS, EndUTCMS: base + 2*hourMS, AssetID: "b", OperatorOverride: true},
	}, false))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			for _, e := range s.EntriesFrom("ch1", base) {
				_ = e.Locked
			}
			if e, ok := s.EntryAt("ch1", base+30*60_000); ok {
				_ = e.Locked
			}
		}
	}()
	for i := 0; i < 500; i++ {
		require.NoError(t, s.Lock("ch1", "e1"))
		require.NoError(t, s.Lock("ch1", "e2"))
	}
	<-done

	got, ok := s.EntryAt("ch1", base)
	require.True(t, ok)
	assert.True(t, got.Locked)
}

// A block that straddles the broadcast-day boundary stays one committed
// entry; each day's projection clamps the window without mutating it.
func TestProjectBroadcastDayClampsCrossMidnightEntry(t *testing.T) {
	s := NewWindowStore()
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	dayEnd := base + 24*hourMS // 2026-09-08 06:00 UTC

	require.NoError(t, s.AddEntries("ch1", []Entry{
		entry("e1", base, dayEnd-hourMS),
		entry("late-film", dayEnd-hourMS, dayEnd+hourMS), // straddles the boundary
	}, true))

	first := s.ProjectBroadcastDay("ch1", day, time.UTC, 360)
	require.Len(t, first, 2)
	straddle := first[1]
	assert.Equal(t, "late-film", straddle.Entry.ID)
	assert.Equal(t, dayEnd-hourMS, straddle.WindowStartUTCMS)
	assert.Equal(t, dayEnd, straddle.WindowEndUTCMS)
	// The entry itself keeps its full bounds.
	assert.Equal(t, dayEnd+hourMS, straddle.Entry.EndUTCMS)

	second := s.ProjectBroadcastDay("ch1", day.AddDate(0, 0, 1), time.UTC, 360)
	require.Len(t, second, 1)
	assert.Equal(t, "late-film", second[0].Entry.ID)
	assert.Equal(t, dayEnd, second[0].WindowStartUTCMS)
	assert.Equal(t, dayEnd+hourMS, second[0].WindowEndUTCMS)

	// Projection never split the committed entry.
	got, ok := s.EntryAt("ch1", dayEnd)
	require.True(t, ok)
	assert.Equal(t, "late-film", got.ID)
	assert.Equal(t, dayEnd-hourMS, got.StartUTCMS)
	assert.Equal(t, dayEnd+hourMS, got.EndUTCMS)
}

func TestChannelsAreIndependent(t *testing.T) {
	s := NewWindowStore()
	require.NoError(t, s.AddEntries("ch1", []Entry{entry("e1", base, base+hourMS)}, true))
	require.NoError(t, s.AddEntries("ch2", []Entry{entry("e1", base+5*hourMS, base+6*hourMS)}, true))

	assert.Equal(t, base+hourMS, s.TailEndUTCMS("ch1"))
	assert.Equal(t, base+6*hourMS, s.TailEndUTCMS("ch2"))
}
