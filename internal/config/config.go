package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Swarm     SwarmConfig     `yaml:"swarm"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	SLO       SLOConfig       `yaml:"slo"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
	// AuthHash is a bcrypt hash checked instead of Auth when set, so the
	// plaintext password never has to live in the config file.
	AuthHash string `yaml:"auth_hash"`
}

// SwarmConfig tunes the coordinator's liveness tracking.
type SwarmConfig struct {
	HeartbeatTTL time.Duration `yaml:"heartbeat_ttl"`
}

// MonitorConfig tunes the recovery monitor's polling loop and retry budget.
type MonitorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxRetries   int           `yaml:"max_retries"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	// HealthEvery controls how many poll cycles pass between swarm health
	// snapshot events. Zero disables snapshots.
	HealthEvery int `yaml:"health_every"`
}

// SchedulerConfig tunes the swarm schedule dispatcher.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SLOConfig holds the fixed thresholds a completed run is scored against.
type SLOConfig struct {
	MaxCostUSD     float64       `yaml:"max_cost_usd"`
	MaxDuration    time.Duration `yaml:"max_duration"`
	MinCoveragePct float64       `yaml:"min_coverage_pct"`
	MinConfidence  float64       `yaml:"min_confidence"`
	// TokenPriceUSD is the per-token unit price used to estimate run cost.
	TokenPriceUSD float64 `yaml:"token_price_usd"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/hivemind.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Swarm: SwarmConfig{
			HeartbeatTTL: 30 * time.Second,
		},
		Monitor: MonitorConfig{
			PollInterval: 10 * time.Second,
			MaxRetries:   3,
			BackoffBase:  10 * time.Second,
			HealthEvery:  10,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		SLO: SLOConfig{
			MaxCostUSD:     5.0,
			MaxDuration:    720 * time.Second,
			MinCoveragePct: 95.0,
			MinConfidence:  0.8,
			TokenPriceUSD:  0.000002,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("HIVEMIND_CONFIG")
	if path == "" {
		path = "config/hivemind.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HIVEMIND_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("HIVEMIND_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("HIVEMIND_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("HIVEMIND_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("HIVEMIND_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.PollInterval = d
		}
	}
}

func (c *Config) validate() error {
	if c.Monitor.MaxRetries < 0 {
		return fmt.Errorf("monitor.max_retries must not be negative")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Monitor.BackoffBase <= 0 {
		return fmt.Errorf("monitor.backoff_base must be positive")
	}
	if c.SLO.MaxCostUSD <= 0 {
		return fmt.Errorf("slo.max_cost_usd must be positive")
	}
	if c.SLO.MinConfidence < 0 || c.SLO.MinConfidence > 1 {
		return fmt.Errorf("slo.min_confidence must be within [0, 1]")
	}
	return nil
}
