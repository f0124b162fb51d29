package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"airbnbsync-backend/lib/accountstore"
	"airbnbsync-backend/lib/cookieutil"
	"airbnbsync-backend/lib/serviceutil"
)

var (
	addCookies       *string
	addClientVersion *string
	addTraceID       *string
	addUserAgent     *string

	updateCookies       *string
	updateClientVersion *string
	updateTraceID       *string
	updateUserAgent     *string
)

func init() {
	addCookies = addCmd.Flags().String("cookies", "", "The captured browser cookie header.")
	addClientVersion = addCmd.Flags().String("client-version", "", "The captured X-Client-Version header.")
	addTraceID = addCmd.Flags().String("trace-id", "", "The captured client trace id.")
	addUserAgent = addCmd.Flags().String("user-agent", "", "The browser's user agent string.")
	addCmd.MarkFlagRequired("cookies")
	addCmd.MarkFlagRequired("client-version")
	addCmd.MarkFlagRequired("user-agent")

	updateCookies = updateCmd.Flags().String("cookies", "", "Replacement cookie header.")
	updateClientVersion = updateCmd.Flags().String("client-version", "", "Replacement X-Client-Version header.")
	updateTraceID = updateCmd.Flags().String("trace-id", "", "Replacement client trace id.")
	updateUserAgent = updateCmd.Flags().String("user-agent", "", "Replacement user agent string.")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(deactivateCmd)
	rootCmd.AddCommand(listCmd)
}

var addCmd = &cobra.Command{
	Use:   "add <account-id>",
	Short: "Registers a host account from captured browser credentials.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		accounts, _ := openStores(ctx)

		auth := cookieutil.FilterPersistentAuth(cookieutil.Parse(*addCookies))
		if auth.Len() == 0 {
			serviceutil.Fatal("cookie header contains no recognized auth cookies",
				fmt.Errorf("got %q", *addCookies))
		}

		err := accounts.Create(ctx, accountstore.Account{
			ID:            args[0],
			CookieSet:     cookieutil.Build(auth),
			ClientVersion: *addClientVersion,
			TraceID:       *addTraceID,
			UserAgent:     *addUserAgent,
			IsActive:      true,
		})
		if err != nil {
			serviceutil.Fatal("failed to create account", err)
		}
		fmt.Printf("account %s registered with %d auth cookies\n", args[0], auth.Len())
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <account-id>",
	Short: "Replaces an account's captured credentials. Unset flags keep stored values.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		accounts, _ := openStores(ctx)

		cookies := *updateCookies
		if cookies != "" {
			auth := cookieutil.FilterPersistentAuth(cookieutil.Parse(cookies))
			if auth.Len() == 0 {
				serviceutil.Fatal("cookie header contains no recognized auth cookies",
					fmt.Errorf("got %q", cookies))
			}
			cookies = cookieutil.Build(auth)
		}

		err := accounts.UpdateCredentials(ctx, args[0],
			cookies, *updateClientVersion, *updateTraceID, *updateUserAgent)
		if err != nil {
			serviceutil.Fatal("failed to update account", err)
		}
		fmt.Printf("account %s updated\n", args[0])
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <account-id>",
	Short: "Puts an account back on the sync schedule.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		accounts, _ := openStores(ctx)
		if err := accounts.SetActive(ctx, args[0], true); err != nil {
			serviceutil.Fatal("failed to activate account", err)
		}
		fmt.Printf("account %s activated\n", args[0])
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <account-id>",
	Short: "Takes an account off the sync schedule without deleting its data.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		accounts, _ := openStores(ctx)
		if err := accounts.SetActive(ctx, args[0], false); err != nil {
			serviceutil.Fatal("failed to deactivate account", err)
		}
		fmt.Printf("account %s deactivated\n", args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists active accounts with their last sync time.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		accounts, _ := openStores(ctx)
		active, err := accounts.ListActive(ctx)
		if err != nil {
			serviceutil.Fatal("failed to list accounts", err)
		}
		for _, a := range active {
			lastSync := "never"
			if a.LastSyncAt != nil {
				lastSync = a.LastSyncAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%s\tlast sync: %s\n", a.ID, lastSync)
		}
	},
}
