// Package horizon implements the rolling-window controller that keeps a
// channel's committed execution window at least min_execution_horizon deep,
// extending it proactively as the clock progresses.
package horizon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slbailey/retrovue/internal/clock"
	"github.com/slbailey/retrovue/internal/content"
	"github.com/slbailey/retrovue/internal/execution"
	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/metrics"
	"github.com/slbailey/retrovue/internal/schedule"
	"github.com/slbailey/retrovue/internal/schedule/resolve"
	"github.com/slbailey/retrovue/internal/transmission"
)

// ReasonClockProgression is the only legal extension trigger. Extending on
// consumer demand is a policy violation, not a configuration choice.
const ReasonClockProgression = "clock_progression"

// FaultClass separates who is at fault when extension fails.
type FaultClass string

const (
	FaultNone     FaultClass = ""
	FaultRuntime  FaultClass = "runtime"  // this controller or the store misbehaved
	FaultPlanning FaultClass = "planning" // upstream plan material is exhausted
)

// ExtensionAttempt records one pass of the extension loop.
type ExtensionAttempt struct {
	Success    bool
	ReasonCode string
	ErrorCode  string
	Fault      FaultClass
	AtUTCMS    int64
}

// HealthReport is the per-evaluation rollup surfaced to operators.
type HealthReport struct {
	ChannelID          string
	ExecutionCompliant bool
	DepthMS            int64
	AttemptCount       int
	SuccessCount       int
	RecentAttempts     []ExtensionAttempt
}

const recentAttemptsKept = 16

// Config carries the injected horizon policy.
type Config struct {
	MinExecutionHorizonMS      int64
	ProactiveExtendThresholdMS int64
	EPGHorizonDays             int
	ProgrammingDayStartLocal   int // minutes after local midnight
	Location                   *time.Location
	TickInterval               time.Duration
}

// Manager owns the extension policy for one channel.
type Manager struct {
	ChannelID string

	cfg      Config
	clk      clock.MasterClock
	window   *execution.WindowStore
	resolver *resolve.Builder
	txb      *transmission.Builder
	store    content.Store
	filler   schedule.SchedulableAsset

	logger zerolog.Logger

	// evalMu serializes evaluations: the tick loop and the channel manager's
	// explicit triggers (session start, block complete) call in concurrently.
	evalMu    sync.Mutex
	days      map[string]resolve.Day      // resolved-day cache by date
	logs      map[string]transmission.Log // built logs by date
	attempts  []ExtensionAttempt
	attemptN  int
	successN  int
	lastDepth int64

	repMu      sync.Mutex
	lastReport HealthReport
}

func NewManager(channelID string, cfg Config, clk clock.MasterClock, window *execution.WindowStore, resolver *resolve.Builder, txb *transmission.Builder, store content.Store, filler schedule.SchedulableAsset) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.EPGHorizonDays <= 0 {
		cfg.EPGHorizonDays = 2
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	return &Manager{
		ChannelID: channelID,
		cfg:       cfg,
		clk:       clk,
		window:    window,
		resolver:  resolver,
		txb:       txb,
		store:     store,
		filler:    filler,
		logger:    log.WithChannel("horizon", channelID),
		days:      make(map[string]resolve.Day),
		logs:      make(map[string]transmission.Log),
	}
}

// Run drives EvaluateOnce on the tick cadence until ctx is done. Timing goes
// through the MasterClock so the deterministic clock drives tests.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info().Msg("horizon manager started")
	for {
		deadline := m.clk.NowUTCMS() + m.cfg.TickInterval.Milliseconds()
		if err := m.clk.WaitUntil(ctx, deadline); err != nil {
			m.logger.Info().Msg("horizon manager stopping")
			return
		}
		m.EvaluateOnce()
	}
}

// EvaluateOnce is the heartbeat. It measures depth, extends when (and only
// when) depth has fallen to the proactive threshold, and emits a health
// report. It never blocks on the engine.
func (m *Manager) EvaluateOnce() HealthReport {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	now := m.clk.NowUTCMS()
	depth := m.depthAt(now)

	if depth <= m.cfg.ProactiveExtendThresholdMS && depth < m.cfg.MinExecutionHorizonMS {
		m.extendExecution(now)
		depth = m.depthAt(now)
	}

	report := HealthReport{
		ChannelID:          m.ChannelID,
		ExecutionCompliant: depth >= m.cfg.MinExecutionHorizonMS,
		DepthMS:            depth,
		AttemptCount:       m.attemptN,
		SuccessCount:       m.successN,
		RecentAttempts:     append([]ExtensionAttempt(nil), m.attempts...),
	}
	m.lastDepth = depth
	m.repMu.Lock()
	m.lastReport = report
	m.repMu.Unlock()
	metrics.ObserveHorizonDepth(m.ChannelID, depth)
	metrics.SetHorizonCompliant(m.ChannelID, report.ExecutionCompliant)
	return report
}

// Health returns the most recent evaluation report without re-evaluating.
// Safe to call from any goroutine.
func (m *Manager) Health() HealthReport {
	m.repMu.Lock()
	defer m.repMu.Unlock()
	return m.lastReport
}

func (m *Manager) depthAt(now int64) int64 {
	tail := m.window.TailEndUTCMS(m.ChannelID)
	if tail <= now {
		return 0
	}
	return tail - now
}

// extendExecution builds forward one day at a time until the window is deep
// enough or the plan runs out of material inside the EPG horizon.
func (m *Manager) extendExecution(now int64) {
	guard := m.cfg.EPGHorizonDays + 2 // bounded day walk per evaluation
	for i := 0; i < guard; i++ {
		depth := m.depthAt(now)
		if depth >= m.cfg.MinExecutionHorizonMS {
			return
		}

		entries, err := m.nextBatch(now)
		if err != nil {
			m.recordAttempt(ExtensionAttempt{
				ReasonCode: ReasonClockProgression,
				ErrorCode:  err.Error(),
				Fault:      FaultRuntime,
				AtUTCMS:    now,
			})
			return
		}
		if len(entries) == 0 {
			m.recordAttempt(ExtensionAttempt{
				ReasonCode: ReasonClockProgression,
				ErrorCode:  "plan_material_exhausted",
				Fault:      FaultPlanning,
				AtUTCMS:    now,
			})
			return
		}

		entries = m.enforceEligibility(entries)

		if err := m.window.AddEntries(m.ChannelID, entries, true); err != nil {
			m.recordAttempt(ExtensionAttempt{
				ReasonCode: ReasonClockProgression,
				ErrorCode:  err.Error(),
				Fault:      FaultRuntime,
				AtUTCMS:    now,
			})
			m.logger.Error().Err(err).Msg("execution window rejected extension batch")
			return
		}
		m.recordAttempt(ExtensionAttempt{
			Success:    true,
			ReasonCode: ReasonClockProgression,
			AtUTCMS:    now,
		})
	}
}

// nextBatch slices the next day's transmission log past the committed tail
// and converts it to execution entries with MasterClock-aligned timestamps.
func (m *Manager) nextBatch(now int64) ([]execution.Entry, error) {
	tail := m.window.TailEndUTCMS(m.ChannelID)
	from := tail
	if from < now {
		from = now
	}

	txlog, err := m.logForInstant(from)
	if err != nil {
		return nil, err
	}

	var out []execution.Entry
	for _, te := range txlog.Entries {
		if te.EndUTCMS <= from {
			continue
		}
		out = append(out, execution.Entry{
			ID:                 fmt.Sprintf("exec-%s-%d", m.ChannelID, te.StartUTCMS),
			ChannelID:          m.ChannelID,
			StartUTCMS:         te.StartUTCMS,
			EndUTCMS:           te.EndUTCMS,
			AssetID:            te.AssetID,
			AssetURI:           te.AssetURI,
			Synthetic:          te.Synthetic,
			Pattern:            te.Pattern,
			TransmissionLogRef: te.ID,
		})
	}
	return out, nil
}

// logForInstant returns (building and caching as needed) the transmission log
// of the broadcast day containing the instant. Carry-in chains through the
// prior day's carry-out so boundary-straddling blocks stay single entries.
func (m *Manager) logForInstant(utcMS int64) (transmission.Log, error) {
	day := m.broadcastDayOf(utcMS)
	key := day.Format(time.DateOnly)
	if l, ok := m.logs[key]; ok {
		return l, nil
	}

	carryIn := int64(0)
	prevKey := day.AddDate(0, 0, -1).Format(time.DateOnly)
	if prev, ok := m.logs[prevKey]; ok {
		carryIn = prev.CarryOutEndUTCMS
	}

	rd, ok := m.days[key]
	if !ok {
		rd = m.resolver.BuildDay(m.ChannelID, day)
		m.days[key] = rd
	}
	l, err := m.txb.Build(rd, carryIn)
	if err != nil {
		return transmission.Log{}, fmt.Errorf("build transmission log for %s: %w", key, err)
	}
	m.logs[key] = l
	m.pruneCaches(day)
	return l, nil
}

// broadcastDayOf maps a UTC instant to the calendar day whose broadcast-day
// window contains it.
func (m *Manager) broadcastDayOf(utcMS int64) time.Time {
	local := time.UnixMilli(utcMS).In(m.cfg.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.cfg.Location)
	start, _ := schedule.DayWindow(day, m.cfg.Location, m.cfg.ProgrammingDayStartLocal)
	if utcMS < start {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// enforceEligibility re-verifies every referenced asset at admission and
// swaps ineligible entries for declared filler, keeping the interval and the
// derivation back-pointer. Silent use of ineligible content is prohibited.
func (m *Manager) enforceEligibility(entries []execution.Entry) []execution.Entry {
	for i := range entries {
		e := entries[i]
		if e.Synthetic {
			continue
		}
		ok, reason := m.store.Eligible(e.AssetID)
		if ok {
			continue
		}
		m.logger.Warn().
			Str(log.FieldAssetID, e.AssetID).
			Str(log.FieldChannelID, e.ChannelID).
			Str(log.FieldReason, reason).
			Msg("asset ineligible at admission; replaced with declared filler")
		metrics.IneligibleAssetReplacedTotal.WithLabelValues(e.ChannelID, reason).Inc()

		entries[i].AssetID = m.filler.ID
		entries[i].AssetURI = ""
		entries[i].Synthetic = true
		entries[i].Pattern = m.filler.Pattern
	}
	return entries
}

func (m *Manager) recordAttempt(a ExtensionAttempt) {
	m.attemptN++
	if a.Success {
		m.successN++
	}
	m.attempts = append(m.attempts, a)
	if len(m.attempts) > recentAttemptsKept {
		m.attempts = m.attempts[len(m.attempts)-recentAttemptsKept:]
	}
	metrics.IncHorizonExtension(m.ChannelID, a.Success, a.ReasonCode)
}

// pruneCaches drops resolved days and logs older than one day before the
// given day; carry-in chaining only ever looks one day back.
func (m *Manager) pruneCaches(day time.Time) {
	cutoff := day.AddDate(0, 0, -1)
	for key := range m.logs {
		d, err := time.Parse(time.DateOnly, key)
		if err == nil && d.Before(cutoff) {
			delete(m.logs, key)
			delete(m.days, key)
		}
	}
}
