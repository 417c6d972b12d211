package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/fleetd/internal/assign"
	"github.com/dohr-michael/fleetd/internal/clock"
	"github.com/dohr-michael/fleetd/internal/config"
	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/gateway"
	"github.com/dohr-michael/fleetd/internal/metrics"
	"github.com/dohr-michael/fleetd/internal/orchestrator"
	"github.com/dohr-michael/fleetd/internal/poi"
	"github.com/dohr-michael/fleetd/internal/queue"
	"github.com/dohr-michael/fleetd/internal/robots"
	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/vendor"
	"github.com/dohr-michael/fleetd/internal/workflow"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the fleetd daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "SQLite database path",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("db") {
		cfg.DB.Path = cmd.String("db")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := slog.Default()
	clk := clock.System{}

	m := metrics.New()

	bus := events.NewBus(cfg.Events.BufferSize)
	bus.OnDrop(func() { m.EventsDropped.Inc() })
	bus.OnPublish(func() { m.EventsPublished.Inc() })
	defer bus.Close()

	st, err := store.Open(cfg.DB.Path, clk)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Vendor client
	httpClient := vendor.NewHTTPClient(cfg.Vendor.BaseURL, cfg.Vendor.AppID, cfg.Vendor.AppSecret)
	resilient := vendor.NewResilient(httpClient, vendor.Policy{
		Retries:     cfg.Vendor.Retries,
		Timeout:     time.Duration(cfg.Vendor.TimeoutSec * float64(time.Second)),
		BackoffBase: time.Duration(cfg.Vendor.BackoffBase * float64(time.Second)),
		BackoffMax:  time.Duration(cfg.Vendor.BackoffMax * float64(time.Second)),
		Jitter:      cfg.Vendor.Jitter,
	}, log)
	resilient.SetSafeMode(cfg.SafeMode)
	resilient.OnCall(m.RecordVendorCall)

	// Robots
	registry := robots.NewRegistry(cfg.Robots.IDs)
	cache := robots.NewCache(clk, cfg.Robots.FreshnessWindow.Duration())
	view := robots.NewView(registry, cache, st)

	pollInterval := time.Duration(cfg.Robots.PollIntervalSec * float64(time.Second))
	statePoller := robots.NewPoller(registry, cache, monitorFetcher{httpClient}, pollInterval, log)
	statePoller.Start()
	defer statePoller.Stop()

	// POIs
	mapper := poi.NewMapper(st, true)
	syncer := poi.NewSyncer(st, httpClient, bus, log)
	if cfg.POICache.Enabled {
		poiPoller := poi.NewPoller(syncer, registry.IDs,
			time.Duration(cfg.POICache.IntervalSec*float64(time.Second)))
		poiPoller.Start()
		defer poiPoller.Stop()
	}

	// Core
	q := queue.NewManager(st, clk, bus)
	executor := workflow.NewExecutor(st, workflow.NewPlanner(mapper), resilient, clk, bus, log)
	engine := assign.NewEngine(st, q, view, executor, bus, log)
	orch := orchestrator.New(q, engine, executor, bus, m, log)

	// Drivers
	if cfg.AutoTick.Enabled {
		autoTick := orchestrator.NewAutoTick(orch, cfg.AutoTick, log)
		autoTick.Start()
		defer autoTick.Stop()
	}
	if cfg.AutoConfirm.Enabled {
		autoConfirm := orchestrator.NewAutoConfirm(st, executor,
			time.Duration(cfg.AutoConfirm.IntervalSec*float64(time.Second)), log)
		autoConfirm.Start()
		defer autoConfirm.Stop()
	}

	server := gateway.NewServer(gateway.Deps{
		Store:    st,
		Queue:    q,
		Engine:   engine,
		Executor: executor,
		Orch:     orch,
		View:     view,
		Mapper:   mapper,
		Syncer:   syncer,
		Vendor:   resilient,
		Bus:      bus,
		Metrics:  m,
	}, cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// monitorFetcher adapts the vendor monitor to the state poller.
type monitorFetcher struct {
	monitor vendor.Monitor
}

func (f monitorFetcher) FetchState(ctx context.Context, robotID string) (robots.State, error) {
	status, err := f.monitor.RobotStatus(ctx, robotID)
	if err != nil {
		return robots.State{}, err
	}
	return robots.State{
		RobotID:       robotID,
		Online:        status.Online,
		Charging:      status.Charging,
		EmergencyStop: status.EmergencyStop,
		BatteryPct:    status.BatteryPct,
		X:             status.X,
		Y:             status.Y,
		Yaw:           status.Yaw,
	}, nil
}
