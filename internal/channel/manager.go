// Package channel implements the per-channel runtime controller: boundary
// commitment against the execution window, engine RPC issuance, teardown
// arbitration, and the startup convergence window.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/slbailey/retrovue/internal/channel/lifecycle"
	"github.com/slbailey/retrovue/internal/clock"
	"github.com/slbailey/retrovue/internal/engine"
	"github.com/slbailey/retrovue/internal/execution"
	"github.com/slbailey/retrovue/internal/horizon"
	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/metrics"
)

// Config carries the injected boundary policy for one channel.
type Config struct {
	StartupLatencyMS     int64
	MinPrefeedLeadTimeMS int64
	SeekToleranceMS      int64
	TeardownGrace        time.Duration
	StartupConvergence   time.Duration
	RPCTimeout           time.Duration
	PlanHandle           string
	Port                 int
}

func (c *Config) applyDefaults() {
	if c.TeardownGrace <= 0 {
		c.TeardownGrace = 10 * time.Second
	}
	if c.StartupConvergence <= 0 {
		c.StartupConvergence = 30 * time.Second
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 2 * time.Second
	}
	if c.SeekToleranceMS <= 0 {
		c.SeekToleranceMS = 2000
	}
}

// EvidenceRecorder receives the structural playout events the controller
// witnesses. *evidence.Emitter satisfies it; a nil recorder disables emission.
type EvidenceRecorder interface {
	EmitBlockStart(entryID, assetID string, startUTCMS int64) error
	EmitChannelTerminated(reason string) error
}

// Manager governs one channel's boundary state machine. State mutations are
// serialized through the manager; timer goroutines re-enter through the same
// entry points.
type Manager struct {
	ChannelID string

	cfg      Config
	clk      clock.MasterClock
	window   *execution.WindowStore
	horizon  *horizon.Manager
	eng      engine.Engine
	recorder EvidenceRecorder
	logger   zerolog.Logger

	serial chan struct{} // capacity-1 admission to state mutation

	state           lifecycle.State
	boundary        *execution.Entry // entry the committed boundary leads into
	sessionStartMS  int64
	converged       bool
	stopped         bool
	viewers         int
	teardownPending bool
	teardownReason  string
	teardownAtMS    int64

	runCtx     context.Context
	runCancel  context.CancelFunc
	switchStop context.CancelFunc
	graceStop  context.CancelFunc
	replanStop context.CancelFunc
	replanGen  uint64 // identifies the owner of replanStop
}

func NewManager(channelID string, cfg Config, clk clock.MasterClock, window *execution.WindowStore, hm *horizon.Manager, eng engine.Engine) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		ChannelID: channelID,
		cfg:       cfg,
		clk:       clk,
		window:    window,
		horizon:   hm,
		eng:       eng,
		logger:    log.WithChannel("channel", channelID),
		serial:    make(chan struct{}, 1),
		state:     lifecycle.StateNone,
	}
	m.serial <- struct{}{}
	return m
}

func (m *Manager) lock() func() {
	<-m.serial
	return func() { m.serial <- struct{}{} }
}

// SetEvidence attaches the session's evidence emitter. Attach before
// StartSession so the first boundary is recorded.
func (m *Manager) SetEvidence(r EvidenceRecorder) {
	defer m.lock()()
	m.recorder = r
}

// State returns the current boundary state.
func (m *Manager) State() lifecycle.State {
	defer m.lock()()
	return m.state
}

// IsLive is the live-session authority: true iff the boundary state is LIVE.
func (m *Manager) IsLive() bool {
	return m.State() == lifecycle.StateLive
}

// TeardownPending reports whether a teardown request is parked behind a
// transient state.
func (m *Manager) TeardownPending() bool {
	defer m.lock()()
	return m.teardownPending
}

// Viewers returns the advisory viewer count.
func (m *Manager) Viewers() int {
	defer m.lock()()
	return m.viewers
}

// StartSession establishes the engine session. Session creation is ungated:
// it never fails on boundary feasibility, only on engine/resource errors.
func (m *Manager) StartSession(ctx context.Context) error {
	defer m.lock()()
	if m.state.IsTerminal() {
		return fmt.Errorf("channel %s is terminal", m.ChannelID)
	}
	m.runCtx, m.runCancel = context.WithCancel(ctx)

	res, err := m.rpcStart()
	if err != nil || !res.Success {
		m.fatalLocked("engine_start_failed", err)
		if err == nil {
			err = fmt.Errorf("engine rejected StartChannel: %s", res.Detail)
		}
		return err
	}

	now := m.clk.NowUTCMS()
	if ok, err := m.clk.TrySetEpochOnce(now, clock.RoleLive); err != nil {
		m.fatalLocked("clock_authority_violation", err)
		return err
	} else if ok {
		m.logger.Info().Int64("epoch_utc_ms", now).Msg("session epoch locked")
	}
	m.sessionStartMS = now
	m.stopped = false

	m.planNextBoundaryLocked()
	return nil
}

// OnBlockComplete is the engine's block-complete trigger: re-evaluate the
// horizon and, when live, commit the next boundary.
func (m *Manager) OnBlockComplete() {
	defer m.lock()()
	if m.state.IsTerminal() || m.stopped {
		return
	}
	m.horizon.EvaluateOnce()
}

// ViewerDelta adjusts the advisory viewer count. Reaching zero requests
// teardown but never forces it through a transient state.
func (m *Manager) ViewerDelta(delta int) {
	defer m.lock()()
	m.viewers += delta
	if m.viewers < 0 {
		m.viewers = 0
	}
	metrics.ViewerCount.WithLabelValues(m.ChannelID).Set(float64(m.viewers))
	if m.viewers == 0 && !m.stopped && m.state != lifecycle.StateNone {
		m.requestTeardownLocked("viewers_zero")
	}
}

// RequestTeardown asks the channel to stop. Stable states tear down
// immediately; transient states park the request behind the grace window.
func (m *Manager) RequestTeardown(reason string) {
	defer m.lock()()
	m.requestTeardownLocked(reason)
}

// InjectEvent applies a raw lifecycle event. Illegal events are rejected as
// boundary_transition_violation and escalate the channel to FAILED_TERMINAL.
func (m *Manager) InjectEvent(ev lifecycle.EventKind) error {
	defer m.lock()()
	return m.applyLocked(ev)
}

// ---- internal, all called with the serial token held ----

func (m *Manager) applyLocked(ev lifecycle.EventKind) error {
	next, err := lifecycle.Step(m.state, ev)
	if err != nil {
		m.logger.Error().
			Str(log.FieldOldState, string(m.state)).
			Str(log.FieldEvent, ev.String()).
			Msg("illegal boundary transition")
		metrics.BoundaryViolationTotal.WithLabelValues(m.ChannelID).Inc()
		m.fatalLocked("boundary_transition_violation", err)
		return err
	}
	prev := m.state
	m.state = next
	metrics.IncBoundaryTransition(m.ChannelID, string(prev), string(next))
	metrics.ChannelLive.WithLabelValues(m.ChannelID).Set(boolGauge(next == lifecycle.StateLive))
	m.logger.Debug().
		Str(log.FieldOldState, string(prev)).
		Str(log.FieldNewState, string(next)).
		Msg("boundary transition")
	return nil
}

// planNextBoundaryLocked selects the next feasible boundary and begins the
// commitment path. Infeasible boundaries are skipped during the startup
// convergence window and fatal afterwards.
func (m *Manager) planNextBoundaryLocked() {
	if m.state.IsTerminal() || m.stopped || m.teardownPending {
		return
	}
	m.horizon.EvaluateOnce()

	now := m.clk.NowUTCMS()
	lead := m.cfg.StartupLatencyMS + m.cfg.MinPrefeedLeadTimeMS
	upcoming := m.window.EntriesFrom(m.ChannelID, now)

	for i := range upcoming {
		e := upcoming[i]
		if e.StartUTCMS <= now {
			continue // already airing; its start is not a future boundary
		}
		if e.StartUTCMS < now+lead {
			if m.inConvergenceLocked(now) {
				m.logger.Info().
					Int64(log.FieldBoundaryUTC, e.StartUTCMS).
					Int64("required_lead_ms", lead).
					Msg("boundary infeasible during startup convergence; skipped")
				continue
			}
			m.fatalLocked("boundary_lead_time_violated", fmt.Errorf("boundary %d within lead time %dms", e.StartUTCMS, lead))
			return
		}
		if err := m.applyLocked(lifecycle.EvBoundaryPlanned); err != nil {
			return
		}
		m.boundary = &e
		m.issuePreloadLocked(e)
		return
	}

	if m.converged || m.inConvergenceLocked(now) {
		// Live channels out of material wait for the horizon to refill; a
		// converging session keeps scanning until the window closes.
		m.scheduleReplanLocked(now + 500)
		return
	}
	m.fatalLocked("startup_infeasibility", fmt.Errorf("no feasible boundary within convergence window"))
}

func (m *Manager) inConvergenceLocked(now int64) bool {
	if m.converged {
		return false
	}
	return now-m.sessionStartMS <= m.cfg.StartupConvergence.Milliseconds()
}

func (m *Manager) issuePreloadLocked(e execution.Entry) {
	res, err := m.rpcLoadPreview(e)
	if err != nil || !res.Success {
		if err == nil {
			err = fmt.Errorf("engine rejected LoadPreview")
		}
		m.fatalLocked("preload_failed", err)
		return
	}
	if err := m.applyLocked(lifecycle.EvPreloadIssued); err != nil {
		return
	}
	// The RPC response is the engine's preview-ready acknowledgment.
	if err := m.applyLocked(lifecycle.EvPreviewReady); err != nil {
		return
	}
	m.scheduleSwitchLocked(e.StartUTCMS)
}

// scheduleSwitchLocked arms the boundary timer. The waiter re-enters through
// the serial token, so firing is ordered with every other mutation.
func (m *Manager) scheduleSwitchLocked(boundaryUTCMS int64) {
	if m.switchStop != nil {
		m.switchStop()
	}
	tctx, cancel := context.WithCancel(m.runCtx)
	m.switchStop = cancel
	go func() {
		if err := m.clk.WaitUntil(tctx, boundaryUTCMS); err != nil {
			return
		}
		defer m.lock()()
		if m.state != lifecycle.StateSwitchScheduled {
			return
		}
		m.issueSwitchLocked()
	}()
}

func (m *Manager) issueSwitchLocked() {
	if err := m.applyLocked(lifecycle.EvSwitchIssued); err != nil {
		return
	}
	res, err := m.rpcSwitchToLive()
	if err != nil || !res.Success {
		if err == nil {
			err = fmt.Errorf("engine rejected SwitchToLive")
		}
		m.fatalLocked("switch_failed", err)
		return
	}
	m.confirmSwapLocked()
}

func (m *Manager) confirmSwapLocked() {
	if err := m.applyLocked(lifecycle.EvSwapConfirmed); err != nil {
		return
	}
	m.converged = true
	if m.boundary != nil {
		m.logger.Info().
			Str(log.FieldEntryID, m.boundary.ID).
			Str(log.FieldAssetID, m.boundary.AssetID).
			Msg("channel live at boundary")
		if m.recorder != nil {
			if err := m.recorder.EmitBlockStart(m.boundary.ID, m.boundary.AssetID, m.boundary.StartUTCMS); err != nil {
				m.logger.Warn().Err(err).Msg("evidence block-start emission failed")
			}
		}
	}
	if m.teardownPending {
		m.executeTeardownLocked()
		return
	}
	m.planNextBoundaryLocked()
}

func (m *Manager) requestTeardownLocked(reason string) {
	if m.stopped || m.state.IsTerminal() {
		return
	}
	if m.state.IsStable() {
		m.teardownReason = reason
		m.executeTeardownLocked()
		return
	}
	if m.teardownPending {
		return
	}
	m.teardownPending = true
	m.teardownReason = reason
	m.teardownAtMS = m.clk.NowUTCMS()
	m.logger.Info().
		Str(log.FieldReason, reason).
		Str(log.FieldOldState, string(m.state)).
		Msg("teardown pending: channel in transient state")

	gctx, cancel := context.WithCancel(m.runCtx)
	m.graceStop = cancel
	deadline := m.teardownAtMS + m.cfg.TeardownGrace.Milliseconds()
	go func() {
		if err := m.clk.WaitUntil(gctx, deadline); err != nil {
			return
		}
		defer m.lock()()
		if m.teardownPending && !m.state.IsStable() {
			m.fatalLocked("teardown_grace_expired", fmt.Errorf("still transient after %s", m.cfg.TeardownGrace))
		}
	}()
}

func (m *Manager) executeTeardownLocked() {
	m.teardownPending = false
	m.cancelTimersLocked()
	if m.recorder != nil {
		if err := m.recorder.EmitChannelTerminated(m.teardownReason); err != nil {
			m.logger.Warn().Err(err).Msg("evidence termination emission failed")
		}
	}
	if err := m.rpcStop(); err != nil {
		m.logger.Warn().Err(err).Msg("StopChannel failed during teardown")
	}
	m.stopped = true
	m.boundary = nil
	m.state = lifecycle.StateNone
	m.converged = false
	metrics.ChannelLive.WithLabelValues(m.ChannelID).Set(0)
	m.logger.Info().Str(log.FieldReason, m.teardownReason).Msg("channel torn down")
	if m.runCancel != nil {
		m.runCancel()
	}
}

// fatalLocked moves the channel to FAILED_TERMINAL, cancelling every
// transient timer. Terminal is both transition- and intent-absorbing; health
// checks and metrics keep running.
func (m *Manager) fatalLocked(reason string, cause error) {
	if m.state.IsTerminal() {
		return
	}
	m.cancelTimersLocked()
	if m.recorder != nil {
		if err := m.recorder.EmitChannelTerminated(reason); err != nil {
			m.logger.Warn().Err(err).Msg("evidence termination emission failed")
		}
	}
	prev := m.state
	m.state = lifecycle.StateFailedTerminal
	m.teardownPending = false
	m.boundary = nil
	metrics.IncBoundaryTransition(m.ChannelID, string(prev), string(lifecycle.StateFailedTerminal))
	metrics.ChannelLive.WithLabelValues(m.ChannelID).Set(0)
	m.logger.Error().
		Err(cause).
		Str(log.FieldReason, reason).
		Str(log.FieldOldState, string(prev)).
		Msg("channel failed terminal")
}

func (m *Manager) cancelTimersLocked() {
	if m.switchStop != nil {
		m.switchStop()
		m.switchStop = nil
	}
	if m.graceStop != nil {
		m.graceStop()
		m.graceStop = nil
	}
	if m.replanStop != nil {
		m.replanStop()
		m.replanStop = nil
	}
}

func (m *Manager) scheduleReplanLocked(atUTCMS int64) {
	if m.replanStop != nil {
		return // a replan is already armed
	}
	rctx, cancel := context.WithCancel(m.runCtx)
	m.replanGen++
	gen := m.replanGen
	m.replanStop = cancel
	go func() {
		err := m.clk.WaitUntil(rctx, atUTCMS)
		defer m.lock()()
		// A cancelled waiter may wake after a newer replan was armed; only the
		// current owner may disarm.
		if gen == m.replanGen {
			m.replanStop = nil
		}
		if err != nil {
			return
		}
		if (m.state == lifecycle.StateNone || m.state == lifecycle.StateLive) && !m.stopped {
			m.planNextBoundaryLocked()
		}
	}()
}

// ---- engine RPC helpers (bounded by cfg.RPCTimeout) ----

func (m *Manager) rpcCtx() (context.Context, context.CancelFunc) {
	parent := m.runCtx
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, m.cfg.RPCTimeout)
}

func (m *Manager) rpcStart() (engine.StartResult, error) {
	ctx, cancel := m.rpcCtx()
	defer cancel()
	t0 := time.Now()
	res, err := m.eng.StartChannel(ctx, m.ChannelID, m.cfg.PlanHandle, m.cfg.Port)
	metrics.ObserveEngineRPC("StartChannel", err, time.Since(t0))
	return res, err
}

func (m *Manager) rpcLoadPreview(e execution.Entry) (engine.PreviewResult, error) {
	ctx, cancel := m.rpcCtx()
	defer cancel()
	t0 := time.Now()
	res, err := m.eng.LoadPreview(ctx, m.ChannelID, e.AssetURI, 0, e.EndUTCMS)
	metrics.ObserveEngineRPC("LoadPreview", err, time.Since(t0))
	return res, err
}

func (m *Manager) rpcSwitchToLive() (engine.SwitchResult, error) {
	ctx, cancel := m.rpcCtx()
	defer cancel()
	t0 := time.Now()
	res, err := m.eng.SwitchToLive(ctx, m.ChannelID)
	metrics.ObserveEngineRPC("SwitchToLive", err, time.Since(t0))
	return res, err
}

func (m *Manager) rpcStop() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RPCTimeout)
	defer cancel()
	t0 := time.Now()
	err := m.eng.StopChannel(ctx, m.ChannelID)
	metrics.ObserveEngineRPC("StopChannel", err, time.Since(t0))
	return err
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
