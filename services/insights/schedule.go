package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"airbnbsync-backend/lib/accountstore"
)

// AccountLister enumerates the accounts the coordinator schedules.
type AccountLister interface {
	ListActive(ctx context.Context) ([]accountstore.Account, error)
}

// CoordinatorOptions configures the daily schedule. The cron time is in
// UTC.
type CoordinatorOptions struct {
	CronHour   int
	CronMinute int
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Coordinator runs every active account's sync on a daily cron and
// catches up runs missed across restarts.
type Coordinator struct {
	service  *Service
	accounts AccountLister
	opts     CoordinatorOptions

	cron *cron.Cron
	wg   sync.WaitGroup
}

func NewCoordinator(service *Service, accounts AccountLister, opts CoordinatorOptions) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		service:  service,
		accounts: accounts,
		opts:     opts,
	}
}

// ShouldSyncNow decides whether an account needs an immediate catch-up
// run at startup instead of waiting for the next cron fire. Rules in
// order: never synced -> yes; already synced today -> no; the scheduled
// time hasn't passed yet today -> no, the scheduler will handle it;
// otherwise the scheduled run was missed -> yes.
func ShouldSyncNow(lastSyncAt *time.Time, cronHour, cronMinute int, now time.Time) bool {
	if lastSyncAt == nil {
		return true
	}

	now = now.UTC()
	last := lastSyncAt.UTC()
	sameDay := last.Year() == now.Year() && last.YearDay() == now.YearDay()
	if sameDay {
		return false
	}

	scheduled := time.Date(now.Year(), now.Month(), now.Day(), cronHour, cronMinute, 0, 0, time.UTC)
	return !now.Before(scheduled)
}

// Start registers the cron entry and kicks off startup catch-up runs,
// then returns. Runs spawned by the coordinator are tracked so Drain can
// wait for them.
func (c *Coordinator) Start(ctx context.Context) error {
	c.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{}),
	)

	spec := fmt.Sprintf("%d %d * * *", c.opts.CronMinute, c.opts.CronHour)
	_, err := c.cron.AddFunc(spec, func() {
		c.syncAll(ctx, "cron", nil)
	})
	if err != nil {
		return fmt.Errorf("register cron entry: %w", err)
	}
	c.cron.Start()
	slog.InfoContext(ctx, "scheduler started", "spec", spec)

	accounts, err := c.accounts.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list accounts for catch-up: %w", err)
	}

	now := c.opts.Now()
	var missed []accountstore.Account
	for _, account := range accounts {
		if ShouldSyncNow(account.LastSyncAt, c.opts.CronHour, c.opts.CronMinute, now) {
			missed = append(missed, account)
		}
	}
	if len(missed) > 0 {
		slog.InfoContext(ctx, "running startup catch-up", "accounts", len(missed))
		c.syncAll(ctx, "startup", missed)
	}
	return nil
}

// syncAll runs each account's sync in its own goroutine. Accounts are
// independent tasks; the per-account single-flight guard in the service
// keeps overlapping triggers out.
func (c *Coordinator) syncAll(ctx context.Context, trigger string, accounts []accountstore.Account) {
	// a run that started before the shutdown signal finishes; mid-run
	// cancellation is not supported. Drain's deadline bounds the wait.
	ctx = context.WithoutCancel(ctx)

	if accounts == nil {
		var err error
		accounts, err = c.accounts.ListActive(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to list accounts", "trigger", trigger, "err", err)
			return
		}
	}

	for _, account := range accounts {
		account := account
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_, err := c.service.RunSync(ctx, RunRequest{
				AccountID: account.ID,
				Trigger:   trigger,
			})
			if errors.Is(err, ErrSyncInProgress) {
				slog.InfoContext(ctx, "sync already in flight, skipping",
					"account", account.ID, "trigger", trigger)
				return
			}
			if err != nil {
				slog.ErrorContext(ctx, "sync run failed",
					"account", account.ID, "trigger", trigger, "err", err)
			}
		}()
	}
}

// Drain stops the cron scheduler and waits for in-flight runs to finish,
// up to the context's deadline.
func (c *Coordinator) Drain(ctx context.Context) error {
	if c.cron != nil {
		stopCtx := c.cron.Stop()
		<-stopCtx.Done()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted with runs still in flight: %w", ctx.Err())
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug(fmt.Sprintf("cron: %s", msg), keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"err", err}, keysAndValues...)
	slog.Error(fmt.Sprintf("cron: %s", msg), args...)
}
