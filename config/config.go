package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/logger"
	"github.com/rustyeddy/ibsession/orders"
)

// Config is the complete client configuration
type Config struct {
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Timeouts TimeoutsConfig `json:"timeouts" yaml:"timeouts"`
	Logging  logger.Config  `json:"logging" yaml:"logging"`
	Risk     RiskConfig     `json:"risk" yaml:"risk"`
	Orders   OrdersConfig   `json:"orders" yaml:"orders"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
}

// GatewayConfig says where and how to reach the gateway
type GatewayConfig struct {
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port,omitempty" yaml:"port,omitempty"` // 0 picks by mode
	ClientID  int    `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Mode      string `json:"mode" yaml:"mode"`           // "paper" or "live"
	Transport string `json:"transport" yaml:"transport"` // "ws" or "sim"
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`

	// MarketDataType is sent once per session: 1 live, 2 frozen, 3 delayed,
	// 4 delayed frozen. Zero leaves the gateway default.
	MarketDataType int     `json:"market_data_type,omitempty" yaml:"market_data_type,omitempty"`
	RateLimit      float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// TimeoutsConfig holds durations as strings such as "5s"
type TimeoutsConfig struct {
	Handshake string `json:"handshake" yaml:"handshake"`
	Request   string `json:"request" yaml:"request"`
}

// RiskConfig holds position sizing and pre-trade limits. Percentages are
// whole numbers: 1 means one percent.
type RiskConfig struct {
	RiskPercent      float64   `json:"risk_percent" yaml:"risk_percent"`
	MaxRiskPercent   float64   `json:"max_risk_percent" yaml:"max_risk_percent"`
	ATRPeriod        int       `json:"atr_period" yaml:"atr_period"`
	ATRMultiplier    float64   `json:"atr_multiplier" yaml:"atr_multiplier"`
	RMultiples       []float64 `json:"r_multiples,omitempty" yaml:"r_multiples,omitempty"`
	MinRR            float64   `json:"min_rr" yaml:"min_rr"`
	MaxOpenPositions int       `json:"max_open_positions" yaml:"max_open_positions"`
	MaxPositionPct   float64   `json:"max_position_percent" yaml:"max_position_percent"`
}

type OrdersConfig struct {
	TimeInForce string `json:"time_in_force" yaml:"time_in_force"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	PlansFile  string `json:"plans_file,omitempty" yaml:"plans_file,omitempty"`
	StatusFile string `json:"status_file,omitempty" yaml:"status_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// Environment variables that override the file.
const (
	EnvHost     = "IB_HOST"
	EnvPort     = "IB_PORT"
	EnvClientID = "IB_CLIENT_ID"
	EnvLogLevel = "LOG_LEVEL"
)

// LoadEnv reads KEY=value pairs from the given files, or .env when none
// are named, into the process environment. A missing file is not an
// error; variables already set win.
func LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a file (YAML or JSON), applies
// environment overrides and validates the result
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load is LoadFromFile when path is set, otherwise the defaults with
// environment overrides.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides gateway and logging settings from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvHost); v != "" {
		c.Gateway.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvPort, v, err)
		}
		c.Gateway.Port = port
	}
	if v := os.Getenv(EnvClientID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvClientID, v, err)
		}
		c.Gateway.ClientID = id
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.Mode != "paper" && c.Gateway.Mode != "live" {
		return fmt.Errorf("gateway.mode must be 'paper' or 'live'")
	}
	if c.Gateway.Transport != "ws" && c.Gateway.Transport != "sim" {
		return fmt.Errorf("gateway.transport must be 'ws' or 'sim'")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Gateway.ClientID < 0 {
		return fmt.Errorf("gateway.client_id must not be negative")
	}
	if c.Gateway.MarketDataType < 0 || c.Gateway.MarketDataType > broker.MarketDataDelayedFrozen {
		return fmt.Errorf("gateway.market_data_type must be between 0 and 4")
	}
	if c.Gateway.RateLimit < 0 {
		return fmt.Errorf("gateway.rate_limit must not be negative")
	}
	if _, err := c.HandshakeTimeout(); err != nil {
		return fmt.Errorf("timeouts.handshake: %w", err)
	}
	if _, err := c.RequestTimeout(); err != nil {
		return fmt.Errorf("timeouts.request: %w", err)
	}
	if c.Risk.RiskPercent <= 0 || c.Risk.RiskPercent > 100 {
		return fmt.Errorf("risk.risk_percent must be between 0 and 100")
	}
	if c.Risk.MaxRiskPercent != 0 && c.Risk.MaxRiskPercent < c.Risk.RiskPercent {
		return fmt.Errorf("risk.max_risk_percent must not be below risk.risk_percent")
	}
	if c.Risk.ATRPeriod < 0 {
		return fmt.Errorf("risk.atr_period must not be negative")
	}
	if c.Risk.ATRMultiplier <= 0 {
		return fmt.Errorf("risk.atr_multiplier must be positive")
	}
	for _, r := range c.Risk.RMultiples {
		if r <= 0 {
			return fmt.Errorf("risk.r_multiples must be positive")
		}
	}
	if _, err := orders.ParseTIF(c.Orders.TimeInForce); err != nil {
		return fmt.Errorf("orders.time_in_force: %w", err)
	}
	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.PlansFile == "" || c.Journal.StatusFile == "" {
			return fmt.Errorf("journal plans_file and status_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite'")
	}
	return nil
}

// Port is the configured port, or the paper or live default for the mode.
func (c *Config) Port() int {
	if c.Gateway.Port != 0 {
		return c.Gateway.Port
	}
	if c.Gateway.Mode == "live" {
		return broker.LivePort
	}
	return broker.PaperPort
}

func (c *Config) HandshakeTimeout() (time.Duration, error) {
	return parseDuration(c.Timeouts.Handshake, 5*time.Second)
}

func (c *Config) RequestTimeout() (time.Duration, error) {
	return parseDuration(c.Timeouts.Request, 10*time.Second)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:           broker.DefaultHost,
			Mode:           "paper",
			Transport:      "ws",
			MarketDataType: broker.MarketDataDelayed,
			RateLimit:      45,
		},
		Timeouts: TimeoutsConfig{
			Handshake: "5s",
			Request:   "10s",
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
		},
		Risk: RiskConfig{
			RiskPercent:      1,
			MaxRiskPercent:   2,
			ATRPeriod:        14,
			ATRMultiplier:    2,
			RMultiples:       []float64{1, 2, 3, 5},
			MinRR:            1.5,
			MaxOpenPositions: 10,
			MaxPositionPct:   25,
		},
		Orders: OrdersConfig{
			TimeInForce: string(orders.Day),
		},
		Journal: JournalConfig{
			Type: "none",
		},
	}
}
