package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire every lead past its deadline, once",
	Long: `Run the expiry sweep once and exit. Use this from an external cron
instead of (or alongside) the sweeper started by 'leadengine serve'.
Running it repeatedly is safe.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, store, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := engine.SweepExpired(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d lead(s)\n", n)
	return nil
}
