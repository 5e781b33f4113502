// Package cli holds the leadengine commands: serve, sweep and verify.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/lead-engine/config"
	"github.com/warp/lead-engine/marketplace"
	"github.com/warp/lead-engine/store/sqlite"
)

var (
	configPath string
	dbPath     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", `SQLite database path (":memory:" for in-memory); overrides config`)
}

var rootCmd = &cobra.Command{
	Use:   "leadengine",
	Short: "Lead claim allocation and credit ledger",
	Long: `leadengine runs the lead marketplace core: professionals spend credits to
claim limited slots on homeowner leads, cancellations refund every claimant,
and leads past their deadline are expired by a background sweep.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads --config, the environment and the persistent flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// openEngine opens the store and builds the engine over it. The caller
// closes the store.
func openEngine(cfg config.Config) (*marketplace.Engine, *sqlite.Store, error) {
	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	engine, err := marketplace.NewEngine(store, store, engineCfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return engine, store, nil
}
