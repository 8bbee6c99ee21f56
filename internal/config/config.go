package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Simulation SimulationConfig `json:"simulation"`
	Market     MarketConfig     `json:"market"`
	Memory     MemoryConfig     `json:"memory"`
	Oracle     OracleConfig     `json:"oracle"`
	Providers  []ProviderConfig `json:"providers"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
	RosterPath string           `json:"roster_path"`
}

type ServerConfig struct {
	// Port for the read-only inspection API; 0 disables it.
	Port int `json:"port"`
}

type SimulationConfig struct {
	TotalTicks      int64 `json:"total_ticks"`
	PacingMS        int   `json:"pacing_ms"`
	ShuffleEachTick bool  `json:"shuffle_each_tick"`
	Seed            int64 `json:"seed"`
	// SnapshotPath receives the active-offer JSON dump each round.
	SnapshotPath string `json:"snapshot_path"`
	LedgerPath   string `json:"ledger_path"`
}

type MarketConfig struct {
	// AvgPriceWindow is the trailing ledger window for the snapshot's
	// average price; 0 disables it.
	AvgPriceWindow int `json:"avg_price_window"`
}

type MemoryConfig struct {
	// Capacity bounds each agent's memory store; 0 = unbounded.
	Capacity int     `json:"capacity"`
	Decay    float64 `json:"decay"`
	TopK     int     `json:"top_k"`
}

type OracleConfig struct {
	// TimeoutMS bounds each oracle call before the agent's turn
	// degrades to wait.
	TimeoutMS int `json:"timeout_ms"`
}

type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Simulation.TotalTicks == 0 {
		c.Simulation.TotalTicks = 5
	}
	if c.Simulation.LedgerPath == "" {
		c.Simulation.LedgerPath = "logs/transaction_ledger.csv"
	}
	if c.Simulation.SnapshotPath == "" {
		c.Simulation.SnapshotPath = "logs/active_offers.json"
	}
	if c.Market.AvgPriceWindow == 0 {
		c.Market.AvgPriceWindow = 20
	}
	if c.Memory.TopK == 0 {
		c.Memory.TopK = 3
	}
	if c.Memory.Decay == 0 {
		c.Memory.Decay = 0.99
	}
	if c.Oracle.TimeoutMS == 0 {
		c.Oracle.TimeoutMS = 30000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.RosterPath == "" {
		c.RosterPath = "configs/roster.json"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Simulation.TotalTicks < 0 {
		return fmt.Errorf("total_ticks must not be negative")
	}
	if c.Memory.Decay <= 0 || c.Memory.Decay > 1 {
		return fmt.Errorf("memory decay must be in (0, 1], got %v", c.Memory.Decay)
	}
	if c.Memory.Capacity < 0 {
		return fmt.Errorf("memory capacity must not be negative")
	}
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d has no id", i)
		}
		if p.Type != "anthropic" && p.Type != "openai" {
			return fmt.Errorf("provider %s has unknown type %q", p.ID, p.Type)
		}
	}
	return nil
}

// OracleTimeout returns the per-call oracle timeout as a duration.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutMS) * time.Millisecond
}

// Pacing returns the inter-turn throttle as a duration.
func (c *Config) Pacing() time.Duration {
	return time.Duration(c.Simulation.PacingMS) * time.Millisecond
}
