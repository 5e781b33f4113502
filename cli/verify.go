package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/lead-engine/ledger"
)

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("professional", "", "Verify a single professional")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every balance against its transaction log",
	Long: `Recompute each professional's balance as the sum of their ledger
transactions and compare it with the stored balance. Exits non-zero if any
account disagrees.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, store, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	var ids []ledger.ProfessionalID
	if one, _ := cmd.Flags().GetString("professional"); one != "" {
		ids = []ledger.ProfessionalID{ledger.ProfessionalID(one)}
	} else if ids, err = store.AccountIDs(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	led := engine.Ledger()
	bad := 0
	for _, id := range ids {
		v, err := led.Verify(ctx, id)
		switch {
		case err != nil:
			bad++
			fmt.Fprintf(out, "FAIL %s: %v\n", id, err)
		case !v.Consistent():
			bad++
			fmt.Fprintf(out, "FAIL %s: stored %d, computed %d\n", id, v.StoredBalance, v.ComputedBalance)
		default:
			fmt.Fprintf(out, "ok   %s: %d credits over %d transaction(s)\n", id, v.StoredBalance, v.TransactionCount)
		}
	}

	if bad > 0 {
		return fmt.Errorf("%d of %d account(s) inconsistent", bad, len(ids))
	}
	fmt.Fprintf(out, "%d account(s) verified\n", len(ids))
	return nil
}
