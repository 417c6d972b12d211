// Package robots tracks the robot registry and the most recent observed
// state for each robot, and derives assignment eligibility from both.
package robots

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/fleetd/internal/clock"
)

// State is one observation of a robot, as reported by the vendor monitor.
// Pointer fields are nil when the monitor did not report them.
type State struct {
	RobotID       string     `json:"robot_id"`
	Online        *bool      `json:"online,omitempty"`
	Charging      *bool      `json:"charging,omitempty"`
	EmergencyStop *bool      `json:"emergency_stop,omitempty"`
	BatteryPct    *float64   `json:"battery_pct,omitempty"`
	X             *float64   `json:"x,omitempty"`
	Y             *float64   `json:"y,omitempty"`
	Yaw           *float64   `json:"yaw,omitempty"`
	ObservedAt    time.Time  `json:"observed_at"`
}

// Registry is the fixed set of robot identities fleetd may assign to.
type Registry struct {
	ids []string
}

func NewRegistry(ids []string) *Registry {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return &Registry{ids: out}
}

// IDs returns the registry in configuration order.
func (r *Registry) IDs() []string { return slices.Clone(r.ids) }

func (r *Registry) Has(id string) bool { return slices.Contains(r.ids, id) }

func (r *Registry) Empty() bool { return len(r.ids) == 0 }

// Cache holds the latest observation per robot. Writers are the state
// poller and the gateway; readers are the eligibility view.
type Cache struct {
	mu        sync.RWMutex
	states    map[string]State
	clk       clock.Clock
	freshness time.Duration
}

// NewCache builds a cache with the given freshness window. Observations
// older than the window are treated as unknown, not as offline.
func NewCache(clk clock.Clock, freshness time.Duration) *Cache {
	if clk == nil {
		clk = clock.System{}
	}
	if freshness <= 0 {
		freshness = 15 * time.Second
	}
	return &Cache{
		states:    map[string]State{},
		clk:       clk,
		freshness: freshness,
	}
}

// Put records an observation, stamping ObservedAt if the caller did not.
func (c *Cache) Put(st State) {
	if st.RobotID == "" {
		return
	}
	if st.ObservedAt.IsZero() {
		st.ObservedAt = c.clk.Now()
	}
	c.mu.Lock()
	c.states[st.RobotID] = st
	c.mu.Unlock()
}

// Get returns the cached observation and whether it is still fresh.
func (c *Cache) Get(robotID string) (State, bool) {
	c.mu.RLock()
	st, ok := c.states[robotID]
	c.mu.RUnlock()
	if !ok {
		return State{RobotID: robotID}, false
	}
	fresh := c.clk.Now().Sub(st.ObservedAt) <= c.freshness
	return st, fresh
}

// Snapshot returns every cached observation keyed by robot id.
func (c *Cache) Snapshot() map[string]State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]State, len(c.states))
	for id, st := range c.states {
		out[id] = st
	}
	return out
}
