package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print session pool status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	d, err := setupDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.shutdown()

	st := d.pool.Status()
	fmt.Printf("sessions: %d total, %d leased, %d available (pressure %.2f)\n",
		st.Total, st.Leased, st.Available, st.Pressure)
	for _, acc := range st.Accounts {
		fmt.Printf("  account %s [%s]: %s", acc.ID, acc.Tier, acc.Status)
		if acc.BackoffRemaining > 0 {
			fmt.Printf(" (backoff %s remaining)", acc.BackoffRemaining)
		}
		fmt.Println()
	}
	return nil
}
