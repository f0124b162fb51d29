package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"airbnbsync-backend/lib/accountstore"
	"airbnbsync-backend/lib/configutil"
	"airbnbsync-backend/lib/metricstore"
	"airbnbsync-backend/lib/serviceutil"
	"airbnbsync-backend/lib/telemetry"
	"airbnbsync-backend/services/insights"
)

const drainGracePeriod = 5 * time.Minute

func main() {
	cfg, err := configutil.ReadConfig[Config]("config.json5",
		configutil.EnvBinding{Var: "DATABASE_URL", Path: "database_url"},
		configutil.EnvBinding{Var: "SYNC_API_KEY", Path: "sync.api_key"},
		configutil.EnvBinding{Var: "SYNC_UI_OFFSET", Path: "sync.ui_offset"},
		configutil.EnvBinding{Var: "SYNC_LOOKBACK_WEEKS", Path: "sync.lookback_weeks"},
		configutil.EnvBinding{Var: "SYNC_LOOKAHEAD_WEEKS", Path: "sync.lookahead_weeks"},
		configutil.EnvBinding{Var: "SYNC_CRON_HOUR", Path: "cron.hour"},
		configutil.EnvBinding{Var: "SYNC_CRON_MINUTE", Path: "cron.minute"},
		configutil.EnvBinding{Var: "SYNC_VERBOSE", Path: "verbose"},
	)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	telemetry.InitSlog(cfg.Verbose)

	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "syncd")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to set up telemetry", err)
	}
	if os.IsNotExist(err) {
		slog.Warn("no telemetry.json5 found, traces and metrics are disabled")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		serviceutil.Fatal("failed to open database pool", err)
	}
	defer pool.Close()

	accounts := accountstore.NewStore(pool)
	if err := accounts.EnsureSchema(ctx); err != nil {
		serviceutil.Fatal("failed to ensure account schema", err)
	}
	metrics := metricstore.NewStore(pool)
	if err := metrics.EnsureSchema(ctx); err != nil {
		serviceutil.Fatal("failed to ensure metric schema", err)
	}

	service := insights.NewService(accounts, metrics, insights.Options{
		APIKey:         cfg.Sync.ApiKey,
		UIOffset:       cfg.Sync.UiOffset,
		LookbackWeeks:  cfg.Sync.LookbackWeeks,
		LookaheadWeeks: cfg.Sync.LookaheadWeeks,
	})

	cronHour, cronMinute := cfg.Cron.Hour, cfg.Cron.Minute
	if cronHour == 0 && cronMinute == 0 {
		cronHour = 5
	}
	coordinator := insights.NewCoordinator(service, accounts, insights.CoordinatorOptions{
		CronHour:   cronHour,
		CronMinute: cronMinute,
	})
	if err := coordinator.Start(ctx); err != nil {
		serviceutil.Fatal("failed to start scheduler", err)
	}

	<-ctx.Done()
	slog.Info("shutting down, draining in-flight runs", "grace_period", drainGracePeriod)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainGracePeriod)
	defer cancel()
	if err := coordinator.Drain(drainCtx); err != nil {
		slog.Error("drain incomplete", "err", err)
	}
	if err := tel.Shutdown(drainCtx); err != nil {
		slog.Error("telemetry shutdown failed", "err", err)
	}
}
