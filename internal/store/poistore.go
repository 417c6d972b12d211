package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// POISyncResult summarizes one cache sync for a robot.
type POISyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Total   int `json:"total"`
}

// SyncRobotPOIs replaces the cached POI set for one robot with the
// incoming snapshot: rows missing from the snapshot are deleted, new ones
// inserted, changed ones updated. Unchanged rows are left untouched so
// updated_at stays meaningful.
func (s *Store) SyncRobotPOIs(robotID string, incoming []RobotPOI) (POISyncResult, error) {
	now := s.now()
	result := POISyncResult{Total: len(incoming)}

	byID := make(map[string]RobotPOI, len(incoming))
	for _, p := range incoming {
		if p.POIID == "" {
			result.Total--
			continue
		}
		byID[p.POIID] = p
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	var existing []RobotPOI
	if err := tx.Select(&existing, `SELECT * FROM robot_pois WHERE robot_id = ?`, robotID); err != nil {
		return result, err
	}
	existingByID := make(map[string]RobotPOI, len(existing))
	for _, e := range existing {
		existingByID[e.POIID] = e
	}

	for _, e := range existing {
		if _, ok := byID[e.POIID]; !ok {
			if _, err := tx.Exec(`DELETE FROM robot_pois WHERE id = ?`, e.ID); err != nil {
				return result, err
			}
			result.Deleted++
		}
	}

	for poiID, p := range byID {
		e, ok := existingByID[poiID]
		if !ok {
			p.RobotID = robotID
			p.CreatedAt = now
			p.UpdatedAt = now
			if _, err := tx.NamedExec(`
				INSERT INTO robot_pois (created_at, updated_at, robot_id, poi_id, name,
				                        area_id, x, y, yaw, raw_json)
				VALUES (:created_at, :updated_at, :robot_id, :poi_id, :name,
				        :area_id, :x, :y, :yaw, :raw_json)`, p); err != nil {
				return result, fmt.Errorf("insert poi %s: %w", poiID, err)
			}
			result.Created++
			continue
		}

		if poiEqual(e, p) {
			continue
		}
		p.ID = e.ID
		p.RobotID = robotID
		p.UpdatedAt = now
		if _, err := tx.NamedExec(`
			UPDATE robot_pois SET updated_at = :updated_at, name = :name,
			       area_id = :area_id, x = :x, y = :y, yaw = :yaw, raw_json = :raw_json
			WHERE id = :id`, p); err != nil {
			return result, fmt.Errorf("update poi %s: %w", poiID, err)
		}
		result.Updated++
	}

	return result, tx.Commit()
}

func poiEqual(a, b RobotPOI) bool {
	return eqStrPtr(a.Name, b.Name) && eqStrPtr(a.AreaID, b.AreaID) &&
		eqFloatPtr(a.X, b.X) && eqFloatPtr(a.Y, b.Y) && eqFloatPtr(a.Yaw, b.Yaw) &&
		eqStrPtr(a.RawJSON, b.RawJSON)
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ListRobotPOIs returns cached POIs, most recently updated first.
func (s *Store) ListRobotPOIs(robotID string, limit, offset int) ([]RobotPOI, error) {
	q := `SELECT * FROM robot_pois`
	args := []any{}
	if robotID != "" {
		q += ` WHERE robot_id = ?`
		args = append(args, robotID)
	}
	q += ` ORDER BY updated_at DESC`
	if limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	var out []RobotPOI
	err := s.db.Select(&out, q, args...)
	return out, err
}

// ---------------------------------------------------------------------------
// POI mappings

func normKind(kind string) string { return strings.ToUpper(strings.TrimSpace(kind)) }
func normRef(ref string) string   { return strings.TrimSpace(ref) }

// UpsertMapping creates or updates the (kind, ref) → POI binding.
func (s *Store) UpsertMapping(m *POIMapping) error {
	m.Kind = normKind(m.Kind)
	m.Ref = normRef(m.Ref)
	m.UpdatedAt = s.now()
	_, err := s.db.NamedExec(`
		INSERT INTO poi_mappings (kind, ref, poi_id, area_id, label, updated_at)
		VALUES (:kind, :ref, :poi_id, :area_id, :label, :updated_at)
		ON CONFLICT (kind, ref) DO UPDATE SET poi_id = excluded.poi_id,
		       area_id = excluded.area_id, label = excluded.label,
		       updated_at = excluded.updated_at`, m)
	return err
}

// DeleteMapping removes a binding; returns false when none existed.
func (s *Store) DeleteMapping(kind, ref string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM poi_mappings WHERE kind = ? AND ref = ?`,
		normKind(kind), normRef(ref))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetMapping returns the binding for (kind, ref), or ErrNotFound.
func (s *Store) GetMapping(kind, ref string) (*POIMapping, error) {
	var m POIMapping
	err := s.db.Get(&m, `SELECT * FROM poi_mappings WHERE kind = ? AND ref = ?`,
		normKind(kind), normRef(ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMappings returns all bindings ordered by kind then ref.
func (s *Store) ListMappings() ([]POIMapping, error) {
	var out []POIMapping
	err := s.db.Select(&out, `SELECT * FROM poi_mappings ORDER BY kind ASC, ref ASC`)
	return out, err
}

// POIByID returns one cached POI for a robot by vendor id.
func (s *Store) POIByID(robotID, poiID string) (*RobotPOI, error) {
	var p RobotPOI
	err := s.db.Get(&p, `SELECT * FROM robot_pois WHERE robot_id = ? AND poi_id = ?`,
		robotID, poiID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AnyPOIByID returns a cached POI by vendor id from any robot's cache.
func (s *Store) AnyPOIByID(poiID string) (*RobotPOI, error) {
	var p RobotPOI
	err := s.db.Get(&p, `
		SELECT * FROM robot_pois WHERE poi_id = ? ORDER BY updated_at DESC LIMIT 1`, poiID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
