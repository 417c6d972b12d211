package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// applies defaults, then lets process environment variables override.
// A missing file is not an error: env + defaults alone are a valid setup.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// env-only configuration
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		expanded := expandEnvTemplates(string(data))
		if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyEnv overrides file values with the process environment. These are
// the operational knobs; everything else lives in the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FLEETD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("FLEETD_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("FLEETD_DB"); v != "" {
		cfg.DB.Path = v
	}

	if v := os.Getenv("ROBOT_IDS"); v != "" {
		cfg.Robots.IDs = splitCSV(v)
	}
	if v, ok := envFloat("ROBOT_POLL_INTERVAL_S"); ok {
		cfg.Robots.PollIntervalSec = v
	}

	if v := os.Getenv("VENDOR_BASE_URL"); v != "" {
		cfg.Vendor.BaseURL = v
	}
	if v := os.Getenv("VENDOR_APP_ID"); v != "" {
		cfg.Vendor.AppID = v
	}
	if v := os.Getenv("VENDOR_APP_SECRET"); v != "" {
		cfg.Vendor.AppSecret = v
	}
	if v, ok := envInt("VENDOR_RETRIES"); ok {
		cfg.Vendor.Retries = v
	}
	if v, ok := envFloat("VENDOR_TIMEOUT_S"); ok {
		cfg.Vendor.TimeoutSec = v
	}
	if v, ok := envFloat("VENDOR_BACKOFF_BASE_S"); ok {
		cfg.Vendor.BackoffBase = v
	}
	if v, ok := envFloat("VENDOR_BACKOFF_MAX_S"); ok {
		cfg.Vendor.BackoffMax = v
	}
	if v, ok := envBool("VENDOR_BACKOFF_JITTER"); ok {
		cfg.Vendor.Jitter = v
	}

	if v, ok := envBool("POI_CACHE_ENABLED"); ok {
		cfg.POICache.Enabled = v
	}
	if v, ok := envFloat("POI_CACHE_INTERVAL_S"); ok {
		cfg.POICache.IntervalSec = v
	}

	if v, ok := envBool("AUTO_TICK_ENABLED"); ok {
		cfg.AutoTick.Enabled = v
	}
	if v, ok := envFloat("AUTO_TICK_INTERVAL_S"); ok {
		cfg.AutoTick.IntervalSec = v
	}
	if v := os.Getenv("AUTO_TICK_CRON"); v != "" {
		cfg.AutoTick.CronSpec = v
	}
	if v, ok := envInt("AUTO_TICK_MAX_ASSIGNMENTS"); ok {
		cfg.AutoTick.MaxAssignments = v
	}
	if v := os.Getenv("AUTO_TICK_PREFERRED_ROBOT"); v != "" {
		cfg.AutoTick.PreferredRobot = v
	}

	if v, ok := envBool("AUTO_CONFIRM_ENABLED"); ok {
		cfg.AutoConfirm.Enabled = v
	}
	if v, ok := envFloat("AUTO_CONFIRM_INTERVAL_S"); ok {
		cfg.AutoConfirm.IntervalSec = v
	}

	if v, ok := envBool("SAFE_MODE"); ok {
		cfg.SafeMode = v
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8002
	}
	if cfg.DB.Path == "" {
		cfg.DB.Path = "./fleetd.db"
	}
	if cfg.Robots.PollIntervalSec == 0 {
		cfg.Robots.PollIntervalSec = 2.0
	}
	if cfg.Robots.FreshnessWindow == 0 {
		cfg.Robots.FreshnessWindow = Duration(15 * time.Second)
	}
	if cfg.Vendor.Retries == 0 {
		cfg.Vendor.Retries = 3
	}
	if cfg.Vendor.TimeoutSec == 0 {
		cfg.Vendor.TimeoutSec = 12.0
	}
	if cfg.Vendor.BackoffBase == 0 {
		cfg.Vendor.BackoffBase = 0.4
	}
	if cfg.Vendor.BackoffMax == 0 {
		cfg.Vendor.BackoffMax = 4.0
	}
	if cfg.POICache.IntervalSec == 0 {
		cfg.POICache.IntervalSec = 7200.0
	}
	if cfg.AutoTick.IntervalSec == 0 {
		cfg.AutoTick.IntervalSec = 2.0
	}
	if cfg.AutoTick.MaxAssignments == 0 {
		cfg.AutoTick.MaxAssignments = 2
	}
	if cfg.AutoConfirm.IntervalSec == 0 {
		cfg.AutoConfirm.IntervalSec = 2.0
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// envBool treats "", "0", "false" as false; anything else as true.
func envBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false":
		return false, true
	default:
		return true, true
	}
}
