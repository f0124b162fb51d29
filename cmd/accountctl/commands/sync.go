package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"airbnbsync-backend/lib/serviceutil"
	"airbnbsync-backend/services/insights"
)

var (
	syncForceFull *bool
	syncDryRun    *bool
)

func init() {
	syncForceFull = syncCmd.Flags().Bool("force-full", false, "Use the full capped lookback even if the account synced before.")
	syncDryRun = syncCmd.Flags().Bool("dry-run", false, "Poll and pivot but write nothing to the database.")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync <account-id> [--force-full] [--dry-run]",
	Short: "Runs one sync for an account immediately.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		accounts, metrics := openStores(ctx)

		service := insights.NewService(accounts, metrics, insights.Options{})
		result, err := service.RunSync(ctx, insights.RunRequest{
			AccountID: args[0],
			Trigger:   "manual",
			ForceFull: *syncForceFull,
			DryRun:    *syncDryRun,
		})
		if err != nil {
			serviceutil.Fatal("sync failed", err)
		}

		fmt.Printf("listings: %d total, %d succeeded, %d failed\n",
			result.TotalListings, result.Succeeded, result.Failed)
		for _, e := range result.Errors {
			fmt.Printf("  %s (%s): [%s] %s\n", e.ListingName, e.ListingID, e.Kind, e.Message)
		}
	},
}
