package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(seq uint64) Envelope {
	payload, _ := json.Marshal(BlockStart{EntryID: "e1", AssetID: "a1", StartUTCMS: 1000})
	return Envelope{
		SchemaVersion:    SchemaVersion,
		ChannelID:        "ch1",
		PlayoutSessionID: "sess1",
		Sequence:         seq,
		EventUUID:        "00000000-0000-0000-0000-000000000001",
		EmittedUTC:       FormatEmittedUTC(1700000000000),
		PayloadType:      PayloadBlockStart,
		Payload:          payload,
	}
}

func openTestSpool(t *testing.T, root string, cfg SpoolConfig) *Spool {
	t.Helper()
	s, err := OpenSpool(root, "ch1", "sess1", cfg)
	require.NoError(t, err)
	go s.Run()
	return s
}

func TestSpoolAppendFlushReplay(t *testing.T) {
	root := t.TempDir()
	s := openTestSpool(t, root, SpoolConfig{})

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, s.Append(testEnv(seq)))
	}
	require.NoError(t, s.Close())

	got, err := s.ReplayFrom(0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, env := range got {
		assert.Equal(t, uint64(i+1), env.Sequence)
		assert.Equal(t, PayloadBlockStart, env.PayloadType)
	}

	// Replay resumes strictly after the given sequence.
	tail, err := s.ReplayFrom(3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(4), tail[0].Sequence)
}

func TestSpoolRejectsSequenceGap(t *testing.T) {
	s := openTestSpool(t, t.TempDir(), SpoolConfig{})
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Append(testEnv(1)))
	err := s.Append(testEnv(3))
	require.ErrorIs(t, err, ErrSequenceGap)

	// Duplicate of the last sequence is also a gap violation.
	err = s.Append(testEnv(1))
	require.ErrorIs(t, err, ErrSequenceGap)
}

func TestSpoolRejectsSchemaMismatch(t *testing.T) {
	s := openTestSpool(t, t.TempDir(), SpoolConfig{})
	defer func() { _ = s.Close() }()

	env := testEnv(1)
	env.SchemaVersion = 99
	require.ErrorIs(t, s.Append(env), ErrSchemaVersion)
}

func TestSpoolPendingBytesCap(t *testing.T) {
	line, _ := json.Marshal(testEnv(1))
	perRecord := int64(len(line)) + 1

	s := openTestSpool(t, t.TempDir(), SpoolConfig{MaxPendingBytes: perRecord * 2})
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Append(testEnv(1)))
	require.NoError(t, s.Append(testEnv(2)))
	require.ErrorIs(t, s.Append(testEnv(3)), ErrSpoolFull)
	assert.Equal(t, uint64(2), s.LastSequence())

	// Acking frees pending bytes; the cap recovers.
	require.NoError(t, s.UpdateAck(1))
	require.NoError(t, s.Append(testEnv(3)))
	assert.Equal(t, uint64(3), s.LastSequence())
}

func TestSpoolAckPersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()
	s := openTestSpool(t, root, SpoolConfig{})
	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, s.Append(testEnv(seq)))
	}
	require.NoError(t, s.UpdateAck(3))
	require.NoError(t, s.Close())

	reopened := openTestSpool(t, root, SpoolConfig{})
	defer func() { _ = reopened.Close() }()
	assert.Equal(t, uint64(3), reopened.AckedSequence())
	assert.Equal(t, uint64(4), reopened.LastSequence())

	// Appending continues from the recovered sequence.
	require.NoError(t, reopened.Append(testEnv(5)))
}

func TestSpoolAckIsMonotonic(t *testing.T) {
	s := openTestSpool(t, t.TempDir(), SpoolConfig{})
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Append(testEnv(1)))
	require.NoError(t, s.Append(testEnv(2)))
	require.NoError(t, s.UpdateAck(2))
	require.NoError(t, s.UpdateAck(1)) // regression ignored
	assert.Equal(t, uint64(2), s.AckedSequence())
}

func TestSpoolReplayIgnoresTruncatedTail(t *testing.T) {
	root := t.TempDir()
	s := openTestSpool(t, root, SpoolConfig{})
	require.NoError(t, s.Append(testEnv(1)))
	require.NoError(t, s.Append(testEnv(2)))
	require.NoError(t, s.Close())

	// Simulate a crash mid-write: a partial JSON line at the tail.
	path := filepath.Join(root, "ch1", "sess1.spool.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"schema_version":1,"sequence":3,"chan`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := readSpoolFile(path, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Sequence)
}

func TestSpoolIntervalFlush(t *testing.T) {
	root := t.TempDir()
	s := openTestSpool(t, root, SpoolConfig{FlushInterval: 10 * time.Millisecond})
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Append(testEnv(1)))
	require.Eventually(t, func() bool {
		got, err := s.ReplayFrom(0)
		return err == nil && len(got) == 1
	}, time.Second, 5*time.Millisecond)
}
