package evidence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/metrics"
)

var (
	// ErrSpoolFull is returned when pending (appended minus acked) bytes
	// would exceed the cap. The spool recovers as acks advance.
	ErrSpoolFull = errors.New("spool_full")
	// ErrSequenceGap tags a non-monotonic append. This is an internal bug.
	ErrSequenceGap = errors.New("evidence_sequence_gap")
	// ErrSchemaVersion tags an envelope with the wrong schema version.
	ErrSchemaVersion = errors.New("evidence_schema_version_mismatch")
	// ErrSpoolClosed is returned on append after Close.
	ErrSpoolClosed = errors.New("spool closed")
)

// SpoolConfig tunes the writer thread and the pending-bytes cap.
type SpoolConfig struct {
	MaxPendingBytes int64         // 0 = unlimited
	FlushInterval   time.Duration // default 250ms
	FlushRecordsMax int           // default 50
	// NowUTCMS supplies the ack-file timestamp; injected so all session time
	// derives from the MasterClock.
	NowUTCMS func() int64
}

func (c *SpoolConfig) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.FlushRecordsMax <= 0 {
		c.FlushRecordsMax = 50
	}
	if c.NowUTCMS == nil {
		c.NowUTCMS = func() int64 { return time.Now().UTC().UnixMilli() }
	}
}

// Spool owns {root}/{channel}/{session}.spool.jsonl and the companion .ack
// file. One dedicated writer goroutine drains the queue; appends are
// non-blocking up to the pending-bytes cap.
type Spool struct {
	channelID string
	sessionID string
	path      string
	ackPath   string
	cfg       SpoolConfig
	logger    zerolog.Logger

	mu        sync.Mutex
	wake      chan struct{} // writer wake signal
	queue     [][]byte      // encoded lines awaiting flush
	queued    int
	lastSeq   uint64
	appended  int64 // cumulative bytes appended (queued or flushed)
	ackedByte int64 // cumulative bytes covered by the current ack
	acked     uint64
	offsets   []seqOffset // cumulative byte offset per sequence
	closed    bool

	file *os.File
	done chan struct{}
}

type seqOffset struct {
	seq uint64
	cum int64
}

// OpenSpool creates (or reopens) the session spool and loads the persisted
// ack. The caller must run the writer via Run and Close on shutdown.
func OpenSpool(root, channelID, sessionID string, cfg SpoolConfig) (*Spool, error) {
	cfg.applyDefaults()
	dir := filepath.Join(root, channelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".spool.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open spool file: %w", err)
	}

	s := &Spool{
		channelID: channelID,
		sessionID: sessionID,
		path:      path,
		ackPath:   filepath.Join(dir, sessionID+".ack"),
		cfg:       cfg,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "evidence.spool").
				Str(log.FieldChannelID, channelID).
				Str(log.FieldSessionID, sessionID)
		}),
		wake: make(chan struct{}, 1),
		file: f,
		done: make(chan struct{}),
	}
	s.acked = s.readAck()

	// Recover sequence/byte accounting from an existing spool file.
	if err := s.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Spool) recover() error {
	records, err := readSpoolFile(s.path, 0)
	if err != nil {
		return err
	}
	var cum int64
	for _, r := range records {
		line, _ := json.Marshal(r)
		cum += int64(len(line)) + 1
		s.lastSeq = r.Sequence
		s.offsets = append(s.offsets, seqOffset{seq: r.Sequence, cum: cum})
	}
	s.appended = cum
	s.ackedByte = s.bytesThrough(s.acked)
	return nil
}

// Append queues one envelope for the writer thread. It enforces strict
// sequence monotonicity and the pending-bytes cap.
func (s *Spool) Append(env Envelope) error {
	if env.SchemaVersion != SchemaVersion {
		return fmt.Errorf("envelope schema %d, spool expects %d: %w", env.SchemaVersion, SchemaVersion, ErrSchemaVersion)
	}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpoolClosed
	}
	if env.Sequence != s.lastSeq+1 {
		return fmt.Errorf("sequence %d after %d: %w", env.Sequence, s.lastSeq, ErrSequenceGap)
	}
	size := int64(len(line)) + 1
	if s.cfg.MaxPendingBytes > 0 {
		pending := s.appended - s.ackedByte
		if pending+size > s.cfg.MaxPendingBytes {
			metrics.IncSpoolAppend(s.channelID, "spool_full")
			return ErrSpoolFull
		}
	}

	s.lastSeq = env.Sequence
	s.appended += size
	s.offsets = append(s.offsets, seqOffset{seq: env.Sequence, cum: s.appended})
	s.queue = append(s.queue, line)
	s.queued++
	metrics.IncSpoolAppend(s.channelID, "ok")
	metrics.SpoolPendingBytes.WithLabelValues(s.channelID).Set(float64(s.appended - s.ackedByte))

	if s.queued >= s.cfg.FlushRecordsMax {
		s.signalWake()
	}
	return nil
}

func (s *Spool) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the dedicated writer loop: it flushes when the queue reaches the
// record threshold, on the flush interval, and once more on shutdown.
func (s *Spool) Run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case _, ok := <-s.wake:
			if !ok {
				s.flush("shutdown")
				return
			}
			s.flush("batch")
		case <-ticker.C:
			s.flush("interval")
		}
	}
}

func (s *Spool) flush(trigger string) {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.queued = 0
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	buf := make([]byte, 0, 4096)
	for _, line := range batch {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if _, err := s.file.Write(buf); err != nil {
		// Transient IO errors retry on the next flush; the records stay queued.
		s.logger.Error().Err(err).Msg("spool flush failed; requeueing batch")
		s.mu.Lock()
		s.queue = append(batch, s.queue...)
		s.queued = len(s.queue)
		s.mu.Unlock()
		return
	}
	_ = s.file.Sync()
	metrics.SpoolFlushTotal.WithLabelValues(trigger).Inc()
}

// Close flushes outstanding records and releases the file.
func (s *Spool) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.wake)
	<-s.done
	return s.file.Close()
}

// UpdateAck persists a new acked sequence via tmp+rename. Regressions are
// ignored so the ack file is monotonically non-decreasing.
func (s *Spool) UpdateAck(seq uint64) error {
	s.mu.Lock()
	if seq <= s.acked {
		s.mu.Unlock()
		return nil
	}
	s.acked = seq
	s.ackedByte = s.bytesThrough(seq)
	s.pruneOffsets()
	metrics.AckedSequence.WithLabelValues(s.channelID).Set(float64(seq))
	metrics.SpoolPendingBytes.WithLabelValues(s.channelID).Set(float64(s.appended - s.ackedByte))
	s.mu.Unlock()

	body := fmt.Sprintf("acked_sequence=%d\nupdated_utc=%s\n", seq, FormatEmittedUTC(s.cfg.NowUTCMS()))
	if err := renameio.WriteFile(s.ackPath, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write ack file: %w", err)
	}
	return nil
}

// AckedSequence returns the persisted ack loaded at open or advanced since.
func (s *Spool) AckedSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

// LastSequence returns the highest sequence ever appended to this spool.
func (s *Spool) LastSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// PendingBytes returns appended-minus-acked bytes.
func (s *Spool) PendingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appended - s.ackedByte
}

// ReplayFrom returns every durable record with sequence > afterSeq in order.
// A truncated trailing line (crash artifact) is ignored.
func (s *Spool) ReplayFrom(afterSeq uint64) ([]Envelope, error) {
	return readSpoolFile(s.path, afterSeq)
}

func (s *Spool) bytesThrough(seq uint64) int64 {
	i := sort.Search(len(s.offsets), func(i int) bool { return s.offsets[i].seq > seq })
	if i == 0 {
		return s.ackedByte
	}
	return s.offsets[i-1].cum
}

func (s *Spool) pruneOffsets() {
	i := sort.Search(len(s.offsets), func(i int) bool { return s.offsets[i].seq > s.acked })
	if i > 0 {
		s.offsets = s.offsets[i:]
	}
}

func (s *Spool) readAck() uint64 {
	data, err := os.ReadFile(s.ackPath)
	if err != nil {
		return 0 // missing or unreadable reads as 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(line, "acked_sequence="); ok {
			if v, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64); err == nil {
				return v
			}
		}
	}
	return 0
}

func readSpoolFile(path string, afterSeq uint64) ([]Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []Envelope
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			// A partial trailing line from a crash is expected; it is ignored
			// and never re-sequenced.
			break
		}
		if env.Sequence > afterSeq {
			out = append(out, env)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
