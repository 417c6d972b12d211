package robots

// BusyChecker reports whether a robot currently has a running workflow.
type BusyChecker interface {
	RobotBusy(robotID string) (bool, error)
}

// Eligibility is the assignment view of one robot.
type Eligibility struct {
	RobotID  string `json:"robot_id"`
	Eligible bool   `json:"eligible"`
	Busy     bool   `json:"busy"`
	Reason   string `json:"reason,omitempty"`
	State    State  `json:"state"`
	Fresh    bool   `json:"fresh"`
}

// View derives eligibility from the registry, the state cache, and the
// presence of a running workflow.
type View struct {
	registry *Registry
	cache    *Cache
	busy     BusyChecker
}

func NewView(registry *Registry, cache *Cache, busy BusyChecker) *View {
	return &View{registry: registry, cache: cache, busy: busy}
}

func (v *View) Registry() *Registry { return v.registry }

// Check reports whether a robot can take work right now. A missing
// registry entry is a hard no. Unknown state fields are permissive —
// the orchestrator must survive monitor outages — but a definite
// online=false is decisive.
func (v *View) Check(robotID string) (Eligibility, error) {
	e := Eligibility{RobotID: robotID}
	if !v.registry.Has(robotID) {
		e.Reason = "robot not registered"
		return e, nil
	}

	busy, err := v.busy.RobotBusy(robotID)
	if err != nil {
		return e, err
	}
	e.Busy = busy

	st, fresh := v.cache.Get(robotID)
	e.State = st
	e.Fresh = fresh
	if !fresh {
		// Stale or absent observation: treat every predicate as unknown.
		st = State{RobotID: robotID}
	}

	switch {
	case st.Online != nil && !*st.Online:
		e.Reason = "robot offline"
	case st.Charging != nil && *st.Charging:
		e.Reason = "robot charging"
	case st.EmergencyStop != nil && *st.EmergencyStop:
		e.Reason = "emergency stop active"
	case busy:
		e.Reason = "robot busy"
	default:
		e.Eligible = true
	}
	return e, nil
}

// CheckAll evaluates every registered robot in registry order.
func (v *View) CheckAll() ([]Eligibility, error) {
	out := make([]Eligibility, 0, len(v.registry.ids))
	for _, id := range v.registry.ids {
		e, err := v.Check(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
