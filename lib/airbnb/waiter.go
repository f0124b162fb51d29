package airbnb

import (
	"context"
	"log/slog"
	"time"

	"github.com/mazen160/go-random"
)

// Waiter inserts think-time pauses between upstream requests. Injected so
// tests can run with zero delay.
type Waiter interface {
	Wait(ctx context.Context, min, max time.Duration)
}

// RandomWaiter sleeps a uniformly random duration in [min, max], mimicking
// a human clicking through the dashboard.
type RandomWaiter struct{}

func (RandomWaiter) Wait(ctx context.Context, min, max time.Duration) {
	ms, err := random.IntRange(int(min.Milliseconds()), int(max.Milliseconds())+1)
	if err != nil {
		ms = int(min.Milliseconds())
	}
	delay := time.Duration(ms) * time.Millisecond
	slog.DebugContext(ctx, "think-time delay", "delay", delay)

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// NopWaiter skips delays entirely. For tests.
type NopWaiter struct{}

func (NopWaiter) Wait(ctx context.Context, min, max time.Duration) {}
