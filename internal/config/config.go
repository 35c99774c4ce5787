// Package config loads ledger daemon configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
)

// Config is the complete daemon configuration.
type Config struct {
	Ledger LedgerConfig `yaml:"ledger"`
	Prover ProverConfig `yaml:"prover"`
	NATS   NATSConfig   `yaml:"nats"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Admin  AdminConfig  `yaml:"admin"`
}

// LedgerConfig configures the store and the dispatcher.
type LedgerConfig struct {
	// DBPath is the SQLite file.
	DBPath string `yaml:"db_path"`
	// Binder is one of mimc, keccak, sum.
	Binder string `yaml:"binder"`
	// Evaluator is plain or circuit.
	Evaluator string `yaml:"evaluator"`
}

// ProverConfig points at the external proving backend. Empty Addr disables it.
type ProverConfig struct {
	Addr    string        `yaml:"addr"`
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the record relay. Empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AdminConfig maps key id to base64 Ed25519 public key.
type AdminConfig struct {
	Keys map[string]string `yaml:"keys"`
}

// DefaultConfig returns a Config with defaults for local use.
func DefaultConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			DBPath:    "psychescore_ledger.db",
			Binder:    commit.MiMCName,
			Evaluator: "plain",
		},
		Prover: ProverConfig{
			Timeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			Subject: "psychescore.records",
		},
		Server: ServerConfig{
			GRPCAddr: "localhost:50061",
			HTTPAddr: "localhost:8090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path is required")
	}
	if _, err := commit.ByName(c.Ledger.Binder); err != nil {
		return fmt.Errorf("ledger.binder: %w", err)
	}
	switch c.Ledger.Evaluator {
	case "plain":
	case "circuit":
		if b, _ := commit.ByName(c.Ledger.Binder); b.Name() != commit.MiMCName {
			return fmt.Errorf("ledger.evaluator circuit requires binder %s", commit.MiMCName)
		}
	default:
		return fmt.Errorf("ledger.evaluator must be plain or circuit, got %q", c.Ledger.Evaluator)
	}
	if c.Prover.Addr != "" && c.Prover.Timeout <= 0 {
		return fmt.Errorf("prover.timeout must be positive")
	}
	if c.NATS.URL != "" && strings.TrimSpace(c.NATS.Subject) == "" {
		return fmt.Errorf("nats.subject is required when nats.url is set")
	}
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Load reads path when non-empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides fields from PSYCHESCORE_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set("PSYCHESCORE_DB", &c.Ledger.DBPath)
	set("PSYCHESCORE_BINDER", &c.Ledger.Binder)
	set("PSYCHESCORE_EVALUATOR", &c.Ledger.Evaluator)
	set("PSYCHESCORE_PROVER_ADDR", &c.Prover.Addr)
	set("PSYCHESCORE_NATS_URL", &c.NATS.URL)
	set("PSYCHESCORE_GRPC_ADDR", &c.Server.GRPCAddr)
	set("PSYCHESCORE_HTTP_ADDR", &c.Server.HTTPAddr)
	set("PSYCHESCORE_LOG_LEVEL", &c.Log.Level)
}
