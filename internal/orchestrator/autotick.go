package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dohr-michael/fleetd/internal/config"
)

// AutoTick drives the orchestrator unattended, either on a fixed
// interval or on a cron schedule when one is configured.
type AutoTick struct {
	orch *Orchestrator
	cfg  config.AutoTickConfig
	log  *slog.Logger

	cron *cron.Cron
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewAutoTick(orch *Orchestrator, cfg config.AutoTickConfig, log *slog.Logger) *AutoTick {
	if log == nil {
		log = slog.Default()
	}
	return &AutoTick{
		orch: orch,
		cfg:  cfg,
		log:  log.With("component", "auto-tick"),
		done: make(chan struct{}),
	}
}

func (a *AutoTick) Start() {
	if a.cfg.CronSpec != "" {
		a.cron = cron.New()
		if _, err := a.cron.AddFunc(a.cfg.CronSpec, a.run); err != nil {
			a.log.Error("bad cron spec, falling back to interval", "cron", a.cfg.CronSpec, "error", err)
		} else {
			a.cron.Start()
			return
		}
	}

	interval := time.Duration(a.cfg.IntervalSec * float64(time.Second))
	if interval <= 0 {
		interval = 2 * time.Second
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.done:
				return
			case <-ticker.C:
				a.run()
			}
		}
	}()
}

func (a *AutoTick) Stop() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
}

func (a *AutoTick) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	result, err := a.orch.Tick(ctx, TickParams{
		MaxAssignments: a.cfg.MaxAssignments,
		PreferredRobot: a.cfg.PreferredRobot,
	})
	if err != nil {
		a.log.Error("tick failed", "error", err)
		return
	}
	if result.Changed() {
		a.log.Info("tick", "promoted", result.Promoted, "assigned", result.Assigned,
			"progressed", result.Progressed, "finished", result.Finished,
			"failed", result.Failed, "canceled", result.Canceled)
	}
}
