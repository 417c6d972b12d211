package config

import "time"

// Config is the root configuration for fleetd.
type Config struct {
	Server      ServerConfig      `json:"server"`
	DB          DBConfig          `json:"db"`
	Robots      RobotsConfig      `json:"robots"`
	Vendor      VendorConfig      `json:"vendor"`
	POICache    POICacheConfig    `json:"poi_cache"`
	AutoTick    AutoTickConfig    `json:"auto_tick"`
	AutoConfirm AutoConfirmConfig `json:"auto_confirm"`
	Events      EventsConfig      `json:"events"`
	SafeMode    bool              `json:"safe_mode"`
}

// ServerConfig holds the gateway server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DBConfig holds the SQLite store settings.
type DBConfig struct {
	Path string `json:"path"` // SQLite file path, or ":memory:"
}

// RobotsConfig holds the robot registry and state poller settings.
type RobotsConfig struct {
	IDs             []string `json:"ids"`
	PollIntervalSec float64  `json:"poll_interval_s"`
	FreshnessWindow Duration `json:"freshness_window"`
}

// VendorConfig holds the resilient vendor client policy.
type VendorConfig struct {
	BaseURL     string  `json:"base_url"`
	AppID       string  `json:"app_id,omitempty"`
	AppSecret   string  `json:"app_secret,omitempty"`
	Retries     int     `json:"retries"`
	TimeoutSec  float64 `json:"timeout_s"`
	BackoffBase float64 `json:"backoff_base_s"`
	BackoffMax  float64 `json:"backoff_max_s"`
	Jitter      bool    `json:"jitter"`
}

// POICacheConfig holds the POI cache poller settings.
type POICacheConfig struct {
	Enabled     bool    `json:"enabled"`
	IntervalSec float64 `json:"interval_s"`
}

// AutoTickConfig holds the autonomous tick driver settings.
type AutoTickConfig struct {
	Enabled        bool    `json:"enabled"`
	IntervalSec    float64 `json:"interval_s"`
	CronSpec       string  `json:"cron,omitempty"` // optional 5-field cron; overrides interval
	MaxAssignments int     `json:"max_assignments"`
	PreferredRobot string  `json:"preferred_robot,omitempty"`
}

// AutoConfirmConfig holds the auto-confirm driver settings.
type AutoConfirmConfig struct {
	Enabled     bool    `json:"enabled"`
	IntervalSec float64 `json:"interval_s"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// Duration wraps time.Duration for JSON unmarshaling ("15s", "2m").
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
