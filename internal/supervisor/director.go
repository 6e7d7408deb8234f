// Package supervisor owns the channel registry and network-wide intent:
// starting and stopping channels, the emergency-source toggle, and fan-out of
// bus events. Per-channel scheduling decisions stay in the channel managers.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/slbailey/retrovue/internal/bus"
	"github.com/slbailey/retrovue/internal/channel"
	"github.com/slbailey/retrovue/internal/channel/lifecycle"
	"github.com/slbailey/retrovue/internal/clock"
	"github.com/slbailey/retrovue/internal/engine"
	"github.com/slbailey/retrovue/internal/horizon"
	"github.com/slbailey/retrovue/internal/log"
)

// ViewerEvent adjusts a channel's advisory viewer count.
type ViewerEvent struct {
	ChannelID string
	Delta     int
}

// BlockComplete is the engine's block-complete callback.
type BlockComplete struct {
	ChannelID string
	EntryID   string
}

// ChannelStatus is one row of the director's aggregate view.
type ChannelStatus struct {
	ChannelID string               `json:"channel_id"`
	State     lifecycle.State      `json:"state"`
	Viewers   int                  `json:"viewers"`
	Horizon   horizon.HealthReport `json:"horizon"`
}

type managed struct {
	mgr *channel.Manager
	hm  *horizon.Manager
}

// Director registers channels and routes network-wide intent to them. It
// holds the single MasterClock for the process.
type Director struct {
	clk    clock.MasterClock
	bus    bus.Bus
	eng    engine.Engine
	logger zerolog.Logger

	mu              sync.Mutex
	channels        map[string]*managed
	emergency       bool
	emergencySource string
}

// NewDirector wires the registry. eng is used only for network-wide plan
// pushes (emergency source); per-channel RPCs stay in the managers.
func NewDirector(clk clock.MasterClock, b bus.Bus, eng engine.Engine) *Director {
	return &Director{
		clk:      clk,
		bus:      b,
		eng:      eng,
		logger:   log.WithComponent("supervisor"),
		channels: make(map[string]*managed),
	}
}

// Clock exposes the process MasterClock.
func (d *Director) Clock() clock.MasterClock { return d.clk }

// Register adds a channel. Registration is not session start.
func (d *Director) Register(channelID string, mgr *channel.Manager, hm *horizon.Manager) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[channelID]; ok {
		return fmt.Errorf("channel %s already registered", channelID)
	}
	d.channels[channelID] = &managed{mgr: mgr, hm: hm}
	return nil
}

func (d *Director) channel(channelID string) (*managed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return c, nil
}

// StartChannel establishes the engine session for a registered channel.
func (d *Director) StartChannel(ctx context.Context, channelID string) error {
	c, err := d.channel(channelID)
	if err != nil {
		return err
	}
	return c.mgr.StartSession(ctx)
}

// StopChannel requests teardown; arbitration happens in the manager.
func (d *Director) StopChannel(channelID, reason string) error {
	c, err := d.channel(channelID)
	if err != nil {
		return err
	}
	c.mgr.RequestTeardown(reason)
	return nil
}

// SetEmergency toggles the network emergency source. On enable every live
// channel gets an UpdatePlan push naming the reserved source; boundaries in
// flight are not interrupted.
func (d *Director) SetEmergency(ctx context.Context, enabled bool, source string) {
	d.mu.Lock()
	if d.emergency == enabled && d.emergencySource == source {
		d.mu.Unlock()
		return
	}
	d.emergency = enabled
	d.emergencySource = source
	targets := make([]string, 0, len(d.channels))
	for id, c := range d.channels {
		if c.mgr.IsLive() {
			targets = append(targets, id)
		}
	}
	d.mu.Unlock()

	d.logger.Warn().
		Bool("enabled", enabled).
		Str("source", source).
		Int("live_channels", len(targets)).
		Msg("emergency mode toggled")
	if !enabled {
		return
	}
	for _, id := range targets {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := d.eng.UpdatePlan(rctx, id, "emergency:"+source); err != nil {
			d.logger.Error().Err(err).Str(log.FieldChannelID, id).Msg("emergency plan push failed")
		}
		cancel()
	}
}

// Emergency reports the current emergency state.
func (d *Director) Emergency() (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emergency, d.emergencySource
}

// Status returns one row per registered channel.
func (d *Director) Status() []ChannelStatus {
	d.mu.Lock()
	ids := make([]string, 0, len(d.channels))
	chans := make([]*managed, 0, len(d.channels))
	for id, c := range d.channels {
		ids = append(ids, id)
		chans = append(chans, c)
	}
	d.mu.Unlock()

	out := make([]ChannelStatus, 0, len(ids))
	for i, c := range chans {
		out = append(out, ChannelStatus{
			ChannelID: ids[i],
			State:     c.mgr.State(),
			Viewers:   c.mgr.Viewers(),
			Horizon:   c.hm.Health(),
		})
	}
	return out
}

// Run drives every horizon loop and the bus dispatchers until ctx ends.
func (d *Director) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	d.mu.Lock()
	for _, c := range d.channels {
		hm := c.hm
		g.Go(func() error {
			hm.Run(gctx)
			return nil
		})
	}
	d.mu.Unlock()

	g.Go(func() error { return d.dispatchViewers(gctx) })
	g.Go(func() error { return d.dispatchBlockComplete(gctx) })
	return g.Wait()
}

func (d *Director) dispatchViewers(ctx context.Context) error {
	sub, err := d.bus.Subscribe(ctx, bus.TopicViewerEvents)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sub.C():
			ev, ok := msg.(ViewerEvent)
			if !ok {
				continue
			}
			if c, err := d.channel(ev.ChannelID); err == nil {
				c.mgr.ViewerDelta(ev.Delta)
			}
		}
	}
}

func (d *Director) dispatchBlockComplete(ctx context.Context) error {
	sub, err := d.bus.Subscribe(ctx, bus.TopicBlockComplete)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sub.C():
			ev, ok := msg.(BlockComplete)
			if !ok {
				continue
			}
			if c, err := d.channel(ev.ChannelID); err == nil {
				c.mgr.OnBlockComplete()
			}
		}
	}
}
