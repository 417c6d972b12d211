package poi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/vendor"
)

// Syncer mirrors each robot's POI catalog into the store.
type Syncer struct {
	store   *store.Store
	monitor vendor.Monitor
	bus     *events.Bus
	log     *slog.Logger
}

func NewSyncer(st *store.Store, monitor vendor.Monitor, bus *events.Bus, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{store: st, monitor: monitor, bus: bus, log: log.With("component", "poi-cache")}
}

// SyncRobot refreshes one robot's cached catalog from the vendor and
// publishes the outcome.
func (s *Syncer) SyncRobot(ctx context.Context, robotID string) (store.POISyncResult, error) {
	pois, err := s.monitor.ListPOIs(ctx, robotID)
	if err != nil {
		s.publishError(robotID, err)
		return store.POISyncResult{}, err
	}

	incoming := make([]store.RobotPOI, 0, len(pois))
	for _, p := range pois {
		rp := store.RobotPOI{RobotID: robotID, POIID: p.ID, Name: p.Name,
			AreaID: p.AreaID, X: p.X, Y: p.Y, Yaw: p.Yaw}
		if p.Raw != "" {
			raw := p.Raw
			rp.RawJSON = &raw
		}
		incoming = append(incoming, rp)
	}

	result, err := s.store.SyncRobotPOIs(robotID, incoming)
	if err != nil {
		s.publishError(robotID, err)
		return result, err
	}

	if s.bus != nil {
		s.bus.Publish(events.New(events.EventPOICacheUpdated, events.SourcePOICache,
			events.POICacheUpdatedPayload{RobotID: robotID, Created: result.Created,
				Updated: result.Updated, Deleted: result.Deleted, Total: result.Total}))
	}
	return result, nil
}

// SyncAll refreshes every listed robot; per-robot failures are logged
// and do not stop the pass.
func (s *Syncer) SyncAll(ctx context.Context, robotIDs []string) {
	for _, id := range robotIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.SyncRobot(ctx, id); err != nil {
			s.log.Warn("poi sync failed", "robot", id, "error", err)
		}
	}
}

func (s *Syncer) publishError(robotID string, err error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.New(events.EventPOICacheError, events.SourcePOICache,
		events.POICacheErrorPayload{RobotID: robotID, Error: err.Error()}))
}

// Poller runs SyncAll on a fixed cadence.
type Poller struct {
	syncer   *Syncer
	robotIDs func() []string
	interval time.Duration

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewPoller(syncer *Syncer, robotIDs func() []string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	return &Poller{
		syncer:   syncer,
		robotIDs: robotIDs,
		interval: interval,
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

	p.run()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.run()
		}
	}
}

func (p *Poller) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	p.syncer.SyncAll(ctx, p.robotIDs())
}
