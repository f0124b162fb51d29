package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"airbnbsync-backend/lib/accountstore"
	"airbnbsync-backend/lib/configutil"
	"airbnbsync-backend/lib/metricstore"
	"airbnbsync-backend/lib/serviceutil"
)

var rootCmd = &cobra.Command{
	Use:   "accountctl",
	Short: "accountctl manages host accounts and triggers manual syncs.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type Config struct {
	DatabaseUrl string `json:"database_url"`
}

func openStores(ctx context.Context) (*accountstore.Store, *metricstore.Store) {
	cfg, err := configutil.ReadRecursively[Config]("config.json5",
		configutil.EnvBinding{Var: "DATABASE_URL", Path: "database_url"})
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		serviceutil.Fatal("failed to open database pool", err)
	}

	accounts := accountstore.NewStore(pool)
	if err := accounts.EnsureSchema(ctx); err != nil {
		serviceutil.Fatal("failed to ensure account schema", err)
	}
	metrics := metricstore.NewStore(pool)
	if err := metrics.EnsureSchema(ctx); err != nil {
		serviceutil.Fatal("failed to ensure metric schema", err)
	}
	return accounts, metrics
}
