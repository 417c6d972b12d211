// Package poi resolves operator-facing target references (TABLE/5,
// washing, charging_dock) to concrete vendor navigation targets, backed
// by a cached mirror of each robot's POI catalog.
package poi

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dohr-michael/fleetd/internal/store"
)

// Target is a concrete navigation destination.
type Target struct {
	POIID  string   `json:"poi_id,omitempty"`
	AreaID *string  `json:"area_id,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Yaw    *float64 `json:"yaw,omitempty"`
	Label  string   `json:"label,omitempty"`
}

// ErrUnresolved is returned when no mapping or cached POI matches a
// target reference.
var ErrUnresolved = errors.New("target not resolvable")

// Mapper resolves (target_kind, target_ref) pairs against explicit
// operator mappings first, then against cached POI names. With AutoMap
// on, a successful name match is persisted as a mapping so the next
// resolution is direct.
type Mapper struct {
	store   *store.Store
	autoMap bool
}

func NewMapper(st *store.Store, autoMap bool) *Mapper {
	return &Mapper{store: st, autoMap: autoMap}
}

// Resolve returns the navigation target for a reference, or
// ErrUnresolved.
func (m *Mapper) Resolve(targetKind, targetRef string) (*Target, error) {
	kind := strings.ToUpper(strings.TrimSpace(targetKind))
	ref := strings.TrimSpace(targetRef)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty ref", ErrUnresolved)
	}

	mapping, err := m.store.GetMapping(kind, ref)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if mapping != nil {
		return m.targetFromMapping(mapping)
	}

	p, err := m.matchByName(kind, ref)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnresolved, kind, ref)
	}

	if m.autoMap {
		auto := &store.POIMapping{Kind: kind, Ref: ref, POIID: p.POIID, AreaID: p.AreaID, Label: p.Name}
		if err := m.store.UpsertMapping(auto); err != nil {
			return nil, err
		}
	}
	return targetFromPOI(p), nil
}

func (m *Mapper) targetFromMapping(mapping *store.POIMapping) (*Target, error) {
	p, err := m.store.AnyPOIByID(mapping.POIID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if p != nil {
		t := targetFromPOI(p)
		if mapping.Label != nil && *mapping.Label != "" {
			t.Label = *mapping.Label
		}
		return t, nil
	}
	// Mapping points at a POI the cache no longer carries. An area id
	// on the mapping itself is still enough to navigate by.
	if mapping.AreaID != nil && *mapping.AreaID != "" {
		t := &Target{POIID: mapping.POIID, AreaID: mapping.AreaID}
		if mapping.Label != nil {
			t.Label = *mapping.Label
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: mapped poi %s not in cache", ErrUnresolved, mapping.POIID)
}

// matchByName scans the cached catalogs for a POI matching the
// reference. An exact name match (case-insensitive) wins; otherwise
// table references match catalog names by number ("Table 5" for
// TABLE/5) and station references match by keyword ("Dish Return" for
// washing). Ambiguous matches pick the most recently updated row, which
// ListRobotPOIs yields first.
func (m *Mapper) matchByName(kind, ref string) (*store.RobotPOI, error) {
	pois, err := m.store.ListRobotPOIs("", 0, 0)
	if err != nil {
		return nil, err
	}
	want := normName(ref)
	for i := range pois {
		if pois[i].Name != nil && normName(*pois[i].Name) == want {
			return &pois[i], nil
		}
	}

	// Refs may embed the kind ("TABLE/5"); split before fuzzy matching.
	k, r := kind, ref
	if i := strings.IndexByte(r, '/'); i >= 0 {
		k, r = strings.ToUpper(strings.TrimSpace(r[:i])), strings.TrimSpace(r[i+1:])
	}

	if strings.Contains(k, "TABLE") || strings.Contains(k, "TBL") {
		return matchTable(pois, r), nil
	}
	if kws := stationKeywords(k, r); kws != nil {
		return matchKeyword(pois, kws), nil
	}
	return nil, nil
}

var (
	spaceRun = regexp.MustCompile(`\s+`)
	digitRun = regexp.MustCompile(`\d+`)
)

func normName(s string) string {
	return spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// stationKeywords returns the catalog-name fragments that identify a
// named station, or nil when the reference is not a known station.
func stationKeywords(kind, ref string) []string {
	key := kind + " " + strings.ToUpper(ref)
	switch {
	case strings.Contains(key, "KITCHEN"):
		return []string{"kitchen"}
	case strings.Contains(key, "OPERATOR"):
		return []string{"operator"}
	case strings.Contains(key, "WASH"), strings.Contains(key, "DISH"):
		return []string{"wash", "dish", "sink"}
	case strings.Contains(key, "CHARG"), strings.Contains(key, "DOCK"):
		return []string{"charg", "dock"}
	}
	return nil
}

func matchKeyword(pois []store.RobotPOI, keywords []string) *store.RobotPOI {
	for i := range pois {
		if pois[i].Name == nil {
			continue
		}
		nm := normName(*pois[i].Name)
		for _, kw := range keywords {
			if strings.Contains(nm, kw) {
				return &pois[i]
			}
		}
	}
	return nil
}

// matchTable prefers a POI whose name carries a table word and the
// number; any name carrying the number is the fallback. Numbers match
// as whole tokens, so table 5 never grabs "Table 15".
func matchTable(pois []store.RobotPOI, ref string) *store.RobotPOI {
	num := digitRun.FindString(ref)
	if num == "" {
		return nil
	}
	var fallback *store.RobotPOI
	for i := range pois {
		if pois[i].Name == nil {
			continue
		}
		nm := normName(*pois[i].Name)
		if !hasNumberToken(nm, num) {
			continue
		}
		if strings.Contains(nm, "table") || strings.Contains(nm, "tbl") {
			return &pois[i]
		}
		if fallback == nil {
			fallback = &pois[i]
		}
	}
	return fallback
}

func hasNumberToken(name, num string) bool {
	want := strings.TrimLeft(num, "0")
	for _, tok := range digitRun.FindAllString(name, -1) {
		if strings.TrimLeft(tok, "0") == want {
			return true
		}
	}
	return false
}

func targetFromPOI(p *store.RobotPOI) *Target {
	t := &Target{POIID: p.POIID, AreaID: p.AreaID, X: p.X, Y: p.Y, Yaw: p.Yaw}
	if p.Name != nil {
		t.Label = *p.Name
	}
	return t
}

// Upsert stores an explicit mapping.
func (m *Mapper) Upsert(mapping *store.POIMapping) error {
	if mapping.POIID == "" {
		return fmt.Errorf("poi_id required")
	}
	return m.store.UpsertMapping(mapping)
}

// Delete removes a mapping; returns false when none existed.
func (m *Mapper) Delete(kind, ref string) (bool, error) {
	return m.store.DeleteMapping(kind, ref)
}

// List returns every mapping.
func (m *Mapper) List() ([]store.POIMapping, error) {
	return m.store.ListMappings()
}
