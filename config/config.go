/*
Package config loads server and marketplace settings.

PRECEDENCE (lowest to highest):
  1. DefaultConfig()
  2. TOML file (--config)
  3. .env file, then process environment (LEADENGINE_*)
  4. Command-line flags (applied by package cli)

FILE FORMAT:
  [server]
  host = "0.0.0.0"
  port = 8080
  read_timeout = "15s"
  write_timeout = "15s"
  cors_origins = ["http://localhost:5173"]

  [database]
  path = "leads.db"

  [marketplace]
  max_claims = 5
  expiry_days = 7
  min_cancel_reason = 10

  [[marketplace.brackets]]
  name = "under_1k"
  credits = 5

  [marketplace.multipliers]
  emergency = "1.5"

  [sweeper]
  enabled = true
  interval = "1h"

ENVIRONMENT:
  LEADENGINE_PORT            server.port
  LEADENGINE_DB              database.path
  LEADENGINE_SWEEP_INTERVAL  sweeper.interval

SEE ALSO:
  - cli/serve.go:             Flag overrides and startup
  - marketplace/pricing.go:   PriceTable built from Marketplace
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Sweeper     SweeperConfig     `toml:"sweeper"`
}

type ServerConfig struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	ReadTimeout  string   `toml:"read_timeout"`
	WriteTimeout string   `toml:"write_timeout"`
	CORSOrigins  []string `toml:"cors_origins"`
}

type DatabaseConfig struct {
	// Path is a SQLite file, or ":memory:".
	Path string `toml:"path"`
}

type MarketplaceConfig struct {
	MaxClaims       int               `toml:"max_claims"`
	ExpiryDays      int               `toml:"expiry_days"`
	MinCancelReason int               `toml:"min_cancel_reason"`
	Brackets        []BracketConfig   `toml:"brackets"`
	Multipliers     map[string]string `toml:"multipliers"`
}

type BracketConfig struct {
	Name    string `toml:"name"`
	Credits int64  `toml:"credits"`
}

type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  "15s",
			WriteTimeout: "15s",
			CORSOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "leads.db"},
		Marketplace: MarketplaceConfig{
			MaxClaims:       5,
			ExpiryDays:      7,
			MinCancelReason: 10,
			Brackets: []BracketConfig{
				{Name: string(marketplace.BudgetUnder1K), Credits: 5},
				{Name: string(marketplace.Budget1KTo5K), Credits: 10},
				{Name: string(marketplace.Budget5KTo15K), Credits: 15},
				{Name: string(marketplace.Budget15KTo50K), Credits: 20},
				{Name: string(marketplace.BudgetOver50K), Credits: 25},
			},
			Multipliers: map[string]string{
				string(marketplace.UrgencyEmergency): "1.5",
			},
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Interval: "1h",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		var fromFile Config
		md, err := toml.DecodeFile(path, &fromFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
		}
		cfg.merge(fromFile, md)
	}

	if err := cfg.LoadEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// merge copies every key present in the file onto cfg.
func (c *Config) merge(f Config, md toml.MetaData) {
	if md.IsDefined("server", "host") {
		c.Server.Host = f.Server.Host
	}
	if md.IsDefined("server", "port") {
		c.Server.Port = f.Server.Port
	}
	if md.IsDefined("server", "read_timeout") {
		c.Server.ReadTimeout = f.Server.ReadTimeout
	}
	if md.IsDefined("server", "write_timeout") {
		c.Server.WriteTimeout = f.Server.WriteTimeout
	}
	if md.IsDefined("server", "cors_origins") {
		c.Server.CORSOrigins = f.Server.CORSOrigins
	}
	if md.IsDefined("database", "path") {
		c.Database.Path = f.Database.Path
	}
	if md.IsDefined("marketplace", "max_claims") {
		c.Marketplace.MaxClaims = f.Marketplace.MaxClaims
	}
	if md.IsDefined("marketplace", "expiry_days") {
		c.Marketplace.ExpiryDays = f.Marketplace.ExpiryDays
	}
	if md.IsDefined("marketplace", "min_cancel_reason") {
		c.Marketplace.MinCancelReason = f.Marketplace.MinCancelReason
	}
	if md.IsDefined("marketplace", "brackets") {
		c.Marketplace.Brackets = f.Marketplace.Brackets
	}
	if md.IsDefined("marketplace", "multipliers") {
		c.Marketplace.Multipliers = f.Marketplace.Multipliers
	}
	if md.IsDefined("sweeper", "enabled") {
		c.Sweeper.Enabled = f.Sweeper.Enabled
	}
	if md.IsDefined("sweeper", "interval") {
		c.Sweeper.Interval = f.Sweeper.Interval
	}
}

// LoadEnv loads .env (if present) and applies LEADENGINE_* overrides.
func (c *Config) LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if v := os.Getenv("LEADENGINE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEADENGINE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LEADENGINE_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LEADENGINE_SWEEP_INTERVAL"); v != "" {
		c.Sweeper.Interval = v
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := time.ParseDuration(c.Server.ReadTimeout); err != nil {
		return fmt.Errorf("server.read_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Server.WriteTimeout); err != nil {
		return fmt.Errorf("server.write_timeout: %w", err)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Marketplace.MaxClaims < 1 {
		return fmt.Errorf("marketplace.max_claims must be at least 1, got %d", c.Marketplace.MaxClaims)
	}
	if c.Marketplace.ExpiryDays < 1 {
		return fmt.Errorf("marketplace.expiry_days must be at least 1, got %d", c.Marketplace.ExpiryDays)
	}
	if c.Marketplace.MinCancelReason < 0 {
		return errors.New("marketplace.min_cancel_reason cannot be negative")
	}
	if _, err := c.PriceTable(); err != nil {
		return fmt.Errorf("marketplace pricing: %w", err)
	}
	if d, err := time.ParseDuration(c.Sweeper.Interval); err != nil {
		return fmt.Errorf("sweeper.interval: %w", err)
	} else if d <= 0 {
		return fmt.Errorf("sweeper.interval must be positive, got %s", d)
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// PriceTable builds the marketplace price table from the bracket and
// multiplier sections.
func (c Config) PriceTable() (*marketplace.PriceTable, error) {
	brackets := make([]marketplace.BracketCost, 0, len(c.Marketplace.Brackets))
	for _, b := range c.Marketplace.Brackets {
		brackets = append(brackets, marketplace.BracketCost{
			Bracket: marketplace.BudgetBracket(b.Name),
			Credits: ledger.Credits(b.Credits),
		})
	}

	multipliers := make(map[marketplace.Urgency]decimal.Decimal, len(c.Marketplace.Multipliers))
	for urgency, raw := range c.Marketplace.Multipliers {
		factor, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("multiplier %s=%q: %w", urgency, raw, err)
		}
		multipliers[marketplace.Urgency(urgency)] = factor
	}

	return marketplace.NewPriceTable(brackets, multipliers)
}

// Engine converts the marketplace section into engine configuration.
func (c Config) Engine() (marketplace.Config, error) {
	pricing, err := c.PriceTable()
	if err != nil {
		return marketplace.Config{}, err
	}
	cfg := marketplace.DefaultConfig()
	cfg.MaxClaims = c.Marketplace.MaxClaims
	cfg.ExpiryWindow = time.Duration(c.Marketplace.ExpiryDays) * 24 * time.Hour
	cfg.Pricing = pricing
	return cfg, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Timeouts returns the parsed server read and write timeouts.
func (c Config) Timeouts() (read, write time.Duration) {
	read, _ = time.ParseDuration(c.Server.ReadTimeout)
	write, _ = time.ParseDuration(c.Server.WriteTimeout)
	return read, write
}

func (c Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Sweeper.Interval)
	return d
}
