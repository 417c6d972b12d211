package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8002 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.DB.Path != "./fleetd.db" {
		t.Fatalf("unexpected db default: %q", cfg.DB.Path)
	}
	if cfg.Vendor.Retries != 3 || cfg.Vendor.TimeoutSec != 12.0 {
		t.Fatalf("unexpected vendor defaults: %+v", cfg.Vendor)
	}
	if cfg.Vendor.BackoffBase != 0.4 || cfg.Vendor.BackoffMax != 4.0 {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Vendor)
	}
	if cfg.Robots.FreshnessWindow.Duration() != 15*time.Second {
		t.Fatalf("unexpected freshness window: %v", cfg.Robots.FreshnessWindow)
	}
	if cfg.AutoTick.MaxAssignments != 2 {
		t.Fatalf("unexpected auto tick defaults: %+v", cfg.AutoTick)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Fatalf("unexpected events default: %+v", cfg.Events)
	}
	if cfg.SafeMode {
		t.Fatal("safe mode must default off")
	}
}

func TestLoadJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.jsonc")
	body := `{
		// gateway
		"server": {"host": "0.0.0.0", "port": 9090},
		"db": {"path": ":memory:"},
		"robots": {
			"ids": ["R1", "R2"],
			"freshness_window": "30s" // trailing comment
		},
		"vendor": {"base_url": "http://vendor.local", "retries": 5},
		"safe_mode": true
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if len(cfg.Robots.IDs) != 2 || cfg.Robots.IDs[0] != "R1" {
		t.Fatalf("unexpected robots: %+v", cfg.Robots)
	}
	if cfg.Robots.FreshnessWindow.Duration() != 30*time.Second {
		t.Fatalf("unexpected freshness window: %v", cfg.Robots.FreshnessWindow)
	}
	if cfg.Vendor.Retries != 5 || !cfg.SafeMode {
		t.Fatalf("unexpected vendor/safe mode: %+v %v", cfg.Vendor, cfg.SafeMode)
	}
	// Defaults still fill untouched fields.
	if cfg.Vendor.TimeoutSec != 12.0 {
		t.Fatalf("defaults not applied: %+v", cfg.Vendor)
	}
}

func TestEnvTemplateExpansion(t *testing.T) {
	t.Setenv("FLEETD_TEST_SECRET", "s3cret")

	path := filepath.Join(t.TempDir(), "fleetd.jsonc")
	body := `{"vendor": {"app_id": "app-1", "app_secret": "${{ .Env.FLEETD_TEST_SECRET }}"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vendor.AppSecret != "s3cret" {
		t.Fatalf("template not expanded: %q", cfg.Vendor.AppSecret)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.jsonc")
	body := `{"server": {"port": 9090}, "robots": {"ids": ["R1"]}, "safe_mode": false}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("FLEETD_PORT", "7070")
	t.Setenv("ROBOT_IDS", "R5, R6 ,R7")
	t.Setenv("SAFE_MODE", "1")
	t.Setenv("VENDOR_TIMEOUT_S", "3.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("env port not applied: %d", cfg.Server.Port)
	}
	if len(cfg.Robots.IDs) != 3 || cfg.Robots.IDs[1] != "R6" {
		t.Fatalf("csv robots not applied: %v", cfg.Robots.IDs)
	}
	if !cfg.SafeMode {
		t.Fatal("env safe mode not applied")
	}
	if cfg.Vendor.TimeoutSec != 3.5 {
		t.Fatalf("env timeout not applied: %v", cfg.Vendor.TimeoutSec)
	}
}

func TestEnvBoolSemantics(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "TRUE": true, "yes": true, "on": true,
		"0": false, "false": false, "False": false, "": false,
	}
	for raw, want := range cases {
		t.Setenv("SAFE_MODE", raw)
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.jsonc"))
		if err != nil {
			t.Fatalf("%q: load: %v", raw, err)
		}
		if cfg.SafeMode != want {
			t.Fatalf("%q: expected %v, got %v", raw, want, cfg.SafeMode)
		}
	}
}

func TestEnvBoolUnsetLeavesFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.jsonc")
	if err := os.WriteFile(path, []byte(`{"safe_mode": true}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.SafeMode {
		t.Fatal("file value must survive when env var is unset")
	}
}

func TestBadConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.jsonc")
	if err := os.WriteFile(path, []byte(`{"server": `), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "# fleetd local overrides\n" +
		"FLEETD_DOTENV_A=plain\n" +
		"FLEETD_DOTENV_B=\"double quoted\"\n" +
		"FLEETD_DOTENV_C='single quoted'\n" +
		"\n" +
		"not a pair\n" +
		"FLEETD_DOTENV_D=kept=equals\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	for _, k := range []string{"FLEETD_DOTENV_A", "FLEETD_DOTENV_B", "FLEETD_DOTENV_C", "FLEETD_DOTENV_D"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("FLEETD_DOTENV_E", "already set")

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}

	if v := os.Getenv("FLEETD_DOTENV_A"); v != "plain" {
		t.Fatalf("A: %q", v)
	}
	if v := os.Getenv("FLEETD_DOTENV_B"); v != "double quoted" {
		t.Fatalf("B: %q", v)
	}
	if v := os.Getenv("FLEETD_DOTENV_C"); v != "single quoted" {
		t.Fatalf("C: %q", v)
	}
	if v := os.Getenv("FLEETD_DOTENV_D"); v != "kept=equals" {
		t.Fatalf("D: %q", v)
	}
	// Existing variables win over the file.
	if v := os.Getenv("FLEETD_DOTENV_E"); v != "already set" {
		t.Fatalf("E: %q", v)
	}
}

func TestDotenvMissingFile(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing dotenv must be ignored: %v", err)
	}
}
