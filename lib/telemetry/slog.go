package telemetry

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// InitSlog installs the default colorized stderr logger. Verbose mode
// lowers the level to debug.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}
