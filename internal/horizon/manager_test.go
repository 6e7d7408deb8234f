package horizon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/slbailey/retrovue/internal/clock"
	"github.com/slbailey/retrovue/internal/content"
	"github.com/slbailey/retrovue/internal/execution"
	"github.com/slbailey/retrovue/internal/schedule"
	"github.com/slbailey/retrovue/internal/schedule/resolve"
	"github.com/slbailey/retrovue/internal/transmission"
)

var (
	filler  = schedule.SchedulableAsset{ID: "filler", Kind: schedule.KindSynthetic, Pattern: "color_bars"}
	dayZero = time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC) // broadcast-day start, 06:00 UTC
)

const hourMS = int64(60 * 60_000)

type fixture struct {
	clk    *clock.Fake
	cs     *content.Memory
	window *execution.WindowStore
	mgr    *Manager
}

// newFixture wires a manager against a single full-day zone holding the given
// assets (an empty zone resolves to filler days).
func newFixture(t *testing.T, cfg Config, zoneAssets ...schedule.SchedulableAsset) *fixture {
	t.Helper()
	cs := content.NewMemory()
	plans := schedule.NewPlanStore(30)
	require.NoError(t, plans.Create(schedule.Plan{
		ID: "p1", ChannelID: "ch1", Name: "Lineup", Active: true,
		Zones: []schedule.Zone{{
			ID: "z1", Name: "all", FromMinutes: 0, ToMinutes: 1440,
			Days: schedule.AllDays, Assets: zoneAssets,
		}},
	}))

	clk := clock.NewFake(dayZero)
	window := execution.NewWindowStore()
	resolver := resolve.NewBuilder(plans, cs, filler, time.UTC, 360)
	txb := transmission.NewBuilder(cs, schedule.NewCursorStore(), filler)

	cfg.ProgrammingDayStartLocal = 360
	cfg.Location = time.UTC
	mgr := NewManager("ch1", cfg, clk, window, resolver, txb, cs, filler)
	return &fixture{clk: clk, cs: cs, window: window, mgr: mgr}
}

func movieRef() schedule.SchedulableAsset {
	return schedule.SchedulableAsset{ID: "sa-movie", Kind: schedule.KindAsset, AssetID: "movie"}
}

func putMovie(cs *content.Memory) {
	cs.Put(content.AssetMeta{
		ID: "movie", URI: "file:///movie.ts", DurationMS: 30 * 60_000,
		State: content.StateReady, ApprovedForBroadcast: true,
	})
}

func TestEvaluateOnceExtendsEmptyWindow(t *testing.T) {
	f := newFixture(t, Config{
		MinExecutionHorizonMS:      2 * hourMS,
		ProactiveExtendThresholdMS: 2 * hourMS,
	}, movieRef())
	putMovie(f.cs)

	report := f.mgr.EvaluateOnce()
	assert.True(t, report.ExecutionCompliant)
	assert.GreaterOrEqual(t, report.DepthMS, 2*hourMS)
	assert.Equal(t, 1, report.SuccessCount)

	// The committed window starts at now and is contiguous.
	now := f.clk.NowUTCMS()
	got, ok := f.window.EntryAt("ch1", now)
	require.True(t, ok)
	assert.Equal(t, now, got.StartUTCMS)
	assert.Equal(t, "movie", got.AssetID)
	assert.NotEmpty(t, got.TransmissionLogRef)
}

// Depth exactly one millisecond under the minimum fires extension; depth at
// the minimum does not.
func TestExtensionThresholdEdge(t *testing.T) {
	min := 2 * hourMS

	t.Run("depth min-1 fires", func(t *testing.T) {
		f := newFixture(t, Config{MinExecutionHorizonMS: min, ProactiveExtendThresholdMS: min}, movieRef())
		putMovie(f.cs)
		f.mgr.EvaluateOnce()
		tail := f.window.TailEndUTCMS("ch1")

		f.clk.AdvanceUS((tail - min + 1 - f.clk.NowUTCMS()) * 1000)
		report := f.mgr.EvaluateOnce()
		assert.Greater(t, f.window.TailEndUTCMS("ch1"), tail, "window extended")
		assert.True(t, report.ExecutionCompliant)
	})

	t.Run("depth min does not fire", func(t *testing.T) {
		f := newFixture(t, Config{MinExecutionHorizonMS: min, ProactiveExtendThresholdMS: min}, movieRef())
		putMovie(f.cs)
		before := f.mgr.EvaluateOnce()
		tail := f.window.TailEndUTCMS("ch1")

		f.clk.AdvanceUS((tail - min - f.clk.NowUTCMS()) * 1000)
		report := f.mgr.EvaluateOnce()
		assert.Equal(t, tail, f.window.TailEndUTCMS("ch1"), "no extension at exact minimum")
		assert.Equal(t, before.SuccessCount, report.SuccessCount)
		assert.Equal(t, min, report.DepthMS)
	})
}

// An asset that loses approval between day resolution and admission is
// replaced with declared filler at the execution boundary, interval and
// derivation ref intact.
func TestAdmissionReverifiesEligibility(t *testing.T) {
	f := newFixture(t, Config{
		MinExecutionHorizonMS:      2 * hourMS,
		ProactiveExtendThresholdMS: 2 * hourMS,
	}, schedule.SchedulableAsset{
		ID: "promo-wheel", Kind: schedule.KindVirtual,
		Rule: schedule.RotationRule{Pool: []string{"promo"}},
	})
	f.cs.Put(content.AssetMeta{
		ID: "promo", URI: "file:///promo.ts", DurationMS: 30 * 60_000,
		State: content.StateReady, ApprovedForBroadcast: true,
	})

	// Revoked after planning saw it, before admission re-verifies.
	f.cs.SetApproved("promo", false)

	report := f.mgr.EvaluateOnce()
	assert.True(t, report.ExecutionCompliant)

	now := f.clk.NowUTCMS()
	got, ok := f.window.EntryAt("ch1", now)
	require.True(t, ok)
	assert.True(t, got.Synthetic)
	assert.Equal(t, filler.ID, got.AssetID)
	assert.NotEmpty(t, got.TransmissionLogRef, "derivation ref survives the swap")
	assert.Equal(t, now, got.StartUTCMS)
}

// A store rejection surfaces as a failed, runtime-fault extension attempt and
// drops compliance instead of corrupting the window.
func TestStoreRejectionIsRuntimeFault(t *testing.T) {
	min := 2 * hourMS
	f := newFixture(t, Config{MinExecutionHorizonMS: min, ProactiveExtendThresholdMS: min})

	// An off-grid committed tail makes every generated batch overlap it.
	now := f.clk.NowUTCMS()
	require.NoError(t, f.window.AddEntries("ch1", []execution.Entry{{
		ID: "seed", ChannelID: "ch1",
		StartUTCMS: now, EndUTCMS: now + 31*60_000,
		AssetID: "seed", TransmissionLogRef: "tx-seed",
	}}, true))

	report := f.mgr.EvaluateOnce()
	assert.False(t, report.ExecutionCompliant)
	assert.Equal(t, 1, report.AttemptCount)
	assert.Equal(t, 0, report.SuccessCount)
	require.Len(t, report.RecentAttempts, 1)
	attempt := report.RecentAttempts[0]
	assert.False(t, attempt.Success)
	assert.Equal(t, ReasonClockProgression, attempt.ReasonCode)
	assert.Equal(t, FaultRuntime, attempt.Fault)
	assert.Contains(t, attempt.ErrorCode, "SINGLE-AUTHORITY-AT-TIME")
}

// The tick loop and the channel manager's explicit triggers evaluate
// concurrently; evaluations must serialize rather than corrupt the caches or
// the attempt ledger.
func TestEvaluateOnceIsConcurrencySafe(t *testing.T) {
	f := newFixture(t, Config{
		MinExecutionHorizonMS:      2 * hourMS,
		ProactiveExtendThresholdMS: 2 * hourMS,
	}, movieRef())
	putMovie(f.cs)

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				f.mgr.EvaluateOnce()
				if i%50 == 0 {
					f.clk.Advance(time.Minute)
				}
			}
		}()
	}
	wg.Wait()

	report := f.mgr.Health()
	assert.True(t, report.ExecutionCompliant)
	assert.Equal(t, report.AttemptCount, report.SuccessCount, "no attempt lost or double-counted")
	assert.LessOrEqual(t, len(report.RecentAttempts), recentAttemptsKept)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, Config{
		MinExecutionHorizonMS:      hourMS,
		ProactiveExtendThresholdMS: hourMS,
		TickInterval:               250 * time.Millisecond,
	}, movieRef())
	putMovie(f.cs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.mgr.Run(ctx)
		close(done)
	}()

	// One tick of fake time drives one evaluation.
	f.clk.Advance(300 * time.Millisecond)
	require.Eventually(t, func() bool {
		return f.mgr.Health().AttemptCount >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("horizon loop did not stop")
	}
}
