// retrovued is the scheduling and runtime orchestration daemon: it owns the
// MasterClock, plan and execution stores, per-channel horizon and boundary
// controllers, the status API, and (optionally) the evidence receiver.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/slbailey/retrovue/internal/bus"
	"github.com/slbailey/retrovue/internal/channel"
	"github.com/slbailey/retrovue/internal/clock"
	"github.com/slbailey/retrovue/internal/config"
	"github.com/slbailey/retrovue/internal/content"
	"github.com/slbailey/retrovue/internal/engine"
	"github.com/slbailey/retrovue/internal/evidence"
	"github.com/slbailey/retrovue/internal/evidence/transport"
	"github.com/slbailey/retrovue/internal/execution"
	"github.com/slbailey/retrovue/internal/health"
	"github.com/slbailey/retrovue/internal/horizon"
	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/reconcile"
	"github.com/slbailey/retrovue/internal/schedule"
	"github.com/slbailey/retrovue/internal/schedule/resolve"
	"github.com/slbailey/retrovue/internal/statusapi"
	"github.com/slbailey/retrovue/internal/supervisor"
	"github.com/slbailey/retrovue/internal/transmission"
)

func main() {
	configPath := flag.String("config", "", "path to retrovued.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "retrovued: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.Service.LogLevel, Service: "retrovued"})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.WatchLogLevel(ctx, configPath); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable")
	}

	loc, err := time.LoadLocation(cfg.Scheduling.Timezone)
	if err != nil {
		return err
	}
	dayStart, err := config.ParseDayStart(cfg.Scheduling.ProgrammingDayStartLocal)
	if err != nil {
		return err
	}

	clk := clock.NewSystem()
	msgBus := bus.NewMemory()
	contentStore := content.NewMemory()
	plans := schedule.NewPlanStore(cfg.Scheduling.GridMinutes)
	cursors := schedule.NewCursorStore()
	window := execution.NewWindowStore()
	filler := schedule.SchedulableAsset{
		ID:      "filler-slate",
		Kind:    schedule.KindSynthetic,
		Pattern: "color_bars",
	}
	resolver := resolve.NewBuilder(plans, contentStore, filler, loc, dayStart)
	txb := transmission.NewBuilder(contentStore, cursors, filler)

	// Phase-0 ships with the in-process engine; the AIR gRPC client slots in
	// behind the same interface.
	eng := engine.NewFake()

	g, gctx := errgroup.WithContext(ctx)

	director := supervisor.NewDirector(clk, msgBus, eng)
	for _, def := range cfg.Channels {
		hm := horizon.NewManager(def.ID, horizon.Config{
			MinExecutionHorizonMS:      cfg.Horizon.MinExecutionHorizonMS,
			ProactiveExtendThresholdMS: cfg.Horizon.ProactiveExtendThresholdMS,
			EPGHorizonDays:             cfg.Horizon.EPGHorizonDays,
			ProgrammingDayStartLocal:   dayStart,
			Location:                   loc,
			TickInterval:               time.Duration(cfg.Horizon.TickIntervalMS) * time.Millisecond,
		}, clk, window, resolver, txb, contentStore, filler)

		mgr := channel.NewManager(def.ID, channel.Config{
			StartupLatencyMS:     cfg.Channel.StartupLatencyMS,
			MinPrefeedLeadTimeMS: cfg.Channel.MinPrefeedLeadTimeMS,
			SeekToleranceMS:      cfg.Channel.SeekToleranceMS,
			TeardownGrace:        time.Duration(cfg.Channel.TeardownGraceTimeoutS) * time.Second,
			StartupConvergence:   time.Duration(cfg.Channel.MaxStartupConvergenceS) * time.Second,
			RPCTimeout:           time.Duration(cfg.Channel.RPCTimeoutMS) * time.Millisecond,
			PlanHandle:           def.PlanHandle,
			Port:                 def.Port,
		}, clk, window, hm, eng)

		if cfg.Evidence.SpoolDir != "" {
			sessionID := uuid.NewString()
			spool, err := evidence.OpenSpool(cfg.Evidence.SpoolDir, def.ID, sessionID, evidence.SpoolConfig{
				MaxPendingBytes: cfg.Evidence.MaxSpoolBytes,
				FlushInterval:   time.Duration(cfg.Evidence.FlushIntervalMS) * time.Millisecond,
				FlushRecordsMax: cfg.Evidence.FlushRecordsMax,
				NowUTCMS:        clk.NowUTCMS,
			})
			if err != nil {
				return fmt.Errorf("open evidence spool for %s: %w", def.ID, err)
			}
			go spool.Run()
			defer func() { _ = spool.Close() }()

			emitter := evidence.NewEmitter(spool, def.ID, sessionID, clk.NowUTCMS)
			mgr.SetEvidence(emitter)

			if cfg.Evidence.ReceiverTarget != "" {
				client := transport.NewClient(transport.ClientConfig{
					Target: cfg.Evidence.ReceiverTarget,
					DialOptions: []grpc.DialOption{
						grpc.WithTransportCredentials(insecure.NewCredentials()),
					},
				}, spool, def.ID, sessionID)
				emitter.SetSink(client)
				g.Go(func() error { return client.Run(gctx) })
			}
		}

		if err := director.Register(def.ID, mgr, hm); err != nil {
			return err
		}
	}

	g.Go(func() error { return director.Run(gctx) })

	probes := health.NewRegistry()
	status := statusapi.New(statusapi.Config{
		Listen:   cfg.Service.Listen,
		Director: director,
		Health:   probes,
	})
	g.Go(func() error { return status.Run(gctx) })

	if cfg.Receiver.Enabled {
		store, err := reconcile.OpenStore(cfg.Receiver.DBPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		probes.Register("receiver-db", store.Ping)
		proj := reconcile.NewProjector()
		srv := grpc.NewServer()
		transport.RegisterEvidenceServer(srv, reconcile.NewServer(store, proj, clk.NowUTCMS))

		lis, err := net.Listen("tcp", cfg.Receiver.Listen)
		if err != nil {
			return fmt.Errorf("listen evidence receiver: %w", err)
		}
		g.Go(func() error {
			logger.Info().Str("listen", cfg.Receiver.Listen).Msg("evidence receiver listening")
			return srv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			srv.GracefulStop()
			return nil
		})
	}

	for _, def := range cfg.Channels {
		if err := director.StartChannel(gctx, def.ID); err != nil {
			logger.Error().Err(err).Str(log.FieldChannelID, def.ID).Msg("channel session start failed")
		}
	}

	probes.SetReady(true)
	logger.Info().Int("channels", len(cfg.Channels)).Msg("retrovued running")
	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil // clean signal shutdown
	}
	return err
}
