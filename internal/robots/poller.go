package robots

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StateFetcher obtains a fresh observation for one robot.
type StateFetcher interface {
	FetchState(ctx context.Context, robotID string) (State, error)
}

// Poller refreshes the state cache for every registered robot on a fixed
// cadence. Fetch errors are logged and retried next cycle; they never
// propagate to the orchestrator.
type Poller struct {
	registry *Registry
	cache    *Cache
	fetch    StateFetcher
	interval time.Duration
	log      *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewPoller(registry *Registry, cache *Cache, fetch StateFetcher, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		registry: registry,
		cache:    cache,
		fetch:    fetch,
		interval: interval,
		log:      log.With("component", "robot-poller"),
		done:     make(chan struct{}),
	}
}

func (p *Poller) Start() {
	p.wg.Add(1)
	go p.loop()
}

func (p *Poller) Stop() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

func (p *Poller) pollAll() {
	for _, id := range p.registry.IDs() {
		select {
		case <-p.done:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.interval)
		st, err := p.fetch.FetchState(ctx, id)
		cancel()
		if err != nil {
			p.log.Warn("state fetch failed", "robot", id, "error", err)
			continue
		}
		st.RobotID = id
		p.cache.Put(st)
	}
}
