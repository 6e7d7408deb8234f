package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/slbailey/retrovue/internal/bus"
	"github.com/slbailey/retrovue/internal/channel"
	"github.com/slbailey/retrovue/internal/channel/lifecycle"
	"github.com/slbailey/retrovue/internal/clock"
	"github.com/slbailey/retrovue/internal/content"
	"github.com/slbailey/retrovue/internal/engine"
	"github.com/slbailey/retrovue/internal/execution"
	"github.com/slbailey/retrovue/internal/horizon"
	"github.com/slbailey/retrovue/internal/schedule"
	"github.com/slbailey/retrovue/internal/schedule/resolve"
	"github.com/slbailey/retrovue/internal/transmission"
)

var filler = schedule.SchedulableAsset{ID: "filler", Kind: schedule.KindSynthetic, Pattern: "color_bars"}

const hourMS = int64(60 * 60_000)

type harness struct {
	clk *clock.Fake
	eng *engine.Fake
	dir *Director
}

// newHarness registers channelIDs against a shared clock, engine, and bus.
// Each channel gets a two-block day so one future boundary exists at +12h.
func newHarness(t *testing.T, b bus.Bus, channelIDs ...string) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC))
	eng := engine.NewFake()
	dir := NewDirector(clk, b, eng)

	cs := content.NewMemory()
	for _, id := range []string{"am-movie", "pm-movie"} {
		cs.Put(content.AssetMeta{
			ID: id, URI: "file:///" + id + ".ts", DurationMS: 30 * 60_000,
			State: content.StateReady, ApprovedForBroadcast: true,
		})
	}
	plans := schedule.NewPlanStore(30)
	for _, chID := range channelIDs {
		require.NoError(t, plans.Create(schedule.Plan{
			ID: "p-" + chID, ChannelID: chID, Name: "Lineup " + chID, Active: true,
			Zones: []schedule.Zone{
				{ID: "z1", Name: "am", FromMinutes: 0, ToMinutes: 720, Days: schedule.AllDays,
					Assets: []schedule.SchedulableAsset{{ID: "sa-am", Kind: schedule.KindAsset, AssetID: "am-movie"}}},
				{ID: "z2", Name: "pm", FromMinutes: 720, ToMinutes: 1440, Days: schedule.AllDays,
					Assets: []schedule.SchedulableAsset{{ID: "sa-pm", Kind: schedule.KindAsset, AssetID: "pm-movie"}}},
			},
		}))
	}

	window := execution.NewWindowStore()
	resolver := resolve.NewBuilder(plans, cs, filler, time.UTC, 360)
	txb := transmission.NewBuilder(cs, schedule.NewCursorStore(), filler)
	for _, chID := range channelIDs {
		hm := horizon.NewManager(chID, horizon.Config{
			MinExecutionHorizonMS:      2 * hourMS,
			ProactiveExtendThresholdMS: 2 * hourMS,
			ProgrammingDayStartLocal:   360,
			Location:                   time.UTC,
		}, clk, window, resolver, txb, cs, filler)
		mgr := channel.NewManager(chID, channel.Config{
			StartupLatencyMS:     2000,
			MinPrefeedLeadTimeMS: 5000,
		}, clk, window, hm, eng)
		require.NoError(t, dir.Register(chID, mgr, hm))
	}
	return &harness{clk: clk, eng: eng, dir: dir}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	h := newHarness(t, bus.NewMemory(), "ch1")
	err := h.dir.Register("ch1", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestUnknownChannelIsAnError(t *testing.T) {
	h := newHarness(t, bus.NewMemory(), "ch1")
	require.Error(t, h.dir.StartChannel(context.Background(), "ghost"))
	require.Error(t, h.dir.StopChannel("ghost", "operator"))
}

func TestBusEventsRouteToChannelManagers(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := bus.NewMemory()
	h := newHarness(t, b, "ch1", "ch2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.dir.Run(ctx) }()

	require.NoError(t, b.Publish(context.Background(), bus.TopicViewerEvents, ViewerEvent{ChannelID: "ch2", Delta: 3}))
	require.Eventually(t, func() bool {
		for _, row := range h.dir.Status() {
			if row.ChannelID == "ch2" && row.Viewers == 3 {
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)

	// Viewer events are per-channel; ch1 is untouched.
	for _, row := range h.dir.Status() {
		if row.ChannelID == "ch1" {
			assert.Zero(t, row.Viewers)
		}
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSetEmergencyPushesPlanToLiveChannels(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, bus.NewMemory(), "ch1", "ch2")

	// Only ch1 goes live.
	require.NoError(t, h.dir.StartChannel(context.Background(), "ch1"))
	h.clk.Advance(12 * time.Hour)
	require.Eventually(t, func() bool {
		for _, row := range h.dir.Status() {
			if row.ChannelID == "ch1" {
				return row.State == lifecycle.StateLive
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)

	h.dir.SetEmergency(context.Background(), true, "weather-alert")
	enabled, source := h.dir.Emergency()
	assert.True(t, enabled)
	assert.Equal(t, "weather-alert", source)

	var pushes []string
	for _, call := range h.eng.Calls {
		if call == "UpdatePlan:ch1" || call == "UpdatePlan:ch2" {
			pushes = append(pushes, call)
		}
	}
	assert.Equal(t, []string{"UpdatePlan:ch1"}, pushes, "plan pushed to live channels only")

	// Re-asserting the same state is a no-op.
	before := len(h.eng.Calls)
	h.dir.SetEmergency(context.Background(), true, "weather-alert")
	assert.Len(t, h.eng.Calls, before)

	require.NoError(t, h.dir.StopChannel("ch1", "operator"))
}
