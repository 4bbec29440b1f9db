package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "data/hivemind.db" {
		t.Errorf("expected store path data/hivemind.db, got %s", cfg.Store.Path)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Monitor.PollInterval != 10*time.Second {
		t.Errorf("expected monitor poll interval 10s, got %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Monitor.MaxRetries)
	}
	if cfg.Monitor.BackoffBase != 10*time.Second {
		t.Errorf("expected backoff_base 10s, got %v", cfg.Monitor.BackoffBase)
	}
	if cfg.Swarm.HeartbeatTTL != 30*time.Second {
		t.Errorf("expected heartbeat_ttl 30s, got %v", cfg.Swarm.HeartbeatTTL)
	}
	if cfg.SLO.MaxCostUSD != 5.0 {
		t.Errorf("expected max_cost_usd 5.0, got %v", cfg.SLO.MaxCostUSD)
	}
	if cfg.SLO.MaxDuration != 720*time.Second {
		t.Errorf("expected max_duration 720s, got %v", cfg.SLO.MaxDuration)
	}
	if cfg.SLO.MinCoveragePct != 95.0 {
		t.Errorf("expected min_coverage_pct 95, got %v", cfg.SLO.MinCoveragePct)
	}
	if cfg.SLO.MinConfidence != 0.8 {
		t.Errorf("expected min_confidence 0.8, got %v", cfg.SLO.MinConfidence)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("HIVEMIND_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("HIVEMIND_WEB_PASSWORD", "secret")
	t.Setenv("HIVEMIND_WEB_PORT", "9090")
	t.Setenv("HIVEMIND_MONITOR_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Monitor.PollInterval != 5*time.Second {
		t.Errorf("expected monitor poll interval 5s, got %v", cfg.Monitor.PollInterval)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
monitor:
  poll_interval: 2s
  max_retries: 5
  backoff_base: 1s
slo:
  max_cost_usd: 2.5
  min_confidence: 0.9
web:
  port: 3000
  enabled: false
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HIVEMIND_CONFIG", cfgPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Monitor.PollInterval != 2*time.Second {
		t.Errorf("expected poll_interval 2s, got %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MaxRetries != 5 {
		t.Errorf("expected max_retries 5, got %d", cfg.Monitor.MaxRetries)
	}
	if cfg.SLO.MaxCostUSD != 2.5 {
		t.Errorf("expected max_cost_usd 2.5, got %v", cfg.SLO.MaxCostUSD)
	}
	if cfg.SLO.MinConfidence != 0.9 {
		t.Errorf("expected min_confidence 0.9, got %v", cfg.SLO.MinConfidence)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	// Untouched sections keep defaults
	if cfg.SLO.MaxDuration != 720*time.Second {
		t.Errorf("expected default max_duration 720s, got %v", cfg.SLO.MaxDuration)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
monitor:
  max_retries: -1
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HIVEMIND_CONFIG", cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for negative max_retries")
	}
}
