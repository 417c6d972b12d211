package store

import "time"

// RobotPOI is one cached vendor point-of-interest for a robot.
type RobotPOI struct {
	ID        int64     `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	RobotID string `db:"robot_id" json:"robot_id"`
	POIID   string `db:"poi_id" json:"poi_id"`

	Name   *string  `db:"name" json:"name,omitempty"`
	AreaID *string  `db:"area_id" json:"area_id,omitempty"`
	X      *float64 `db:"x" json:"x,omitempty"`
	Y      *float64 `db:"y" json:"y,omitempty"`
	Yaw    *float64 `db:"yaw" json:"yaw,omitempty"`

	RawJSON *string `db:"raw_json" json:"-"`
}

// POIMapping binds a logical target (kind, ref) to a vendor POI.
type POIMapping struct {
	Kind      string    `db:"kind" json:"kind"`
	Ref       string    `db:"ref" json:"ref"`
	POIID     string    `db:"poi_id" json:"poi_id"`
	AreaID    *string   `db:"area_id" json:"area_id,omitempty"`
	Label     *string   `db:"label" json:"label,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
