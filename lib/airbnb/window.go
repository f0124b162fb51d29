package airbnb

import (
	"fmt"
	"time"
)

const (
	// MaxMetricOffsetDays is the furthest the metrics API will look ahead
	// of the anchor day before rejecting the query.
	MaxMetricOffsetDays = 182

	// MaxLookbackDays caps the first-run backfill.
	MaxLookbackDays = 180

	DefaultLookbackWeeks  = 25
	DefaultLookaheadWeeks = 25
)

// Window is a closed calendar date interval.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

func (w Window) String() string {
	return fmt.Sprintf("%s to %s", w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly))
}

// Date truncates a time to its UTC calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PollWindow computes the sync window for a run. Both bounds are
// week-aligned: Start on a Sunday, End on a Saturday. First runs backfill
// up to MaxLookbackDays; incremental runs use the smaller rolling lookback.
func PollWindow(firstRun bool, today time.Time, lookbackWeeks, lookaheadWeeks int) Window {
	today = Date(today)
	currentSunday := today.AddDate(0, 0, -int(today.Weekday()))

	var start time.Time
	if firstRun {
		rawStart := today.AddDate(0, 0, -MaxLookbackDays)
		// advance to the next Sunday so the backfill stays inside the cap
		daysToSunday := (7 - int(rawStart.Weekday())) % 7
		start = rawStart.AddDate(0, 0, daysToSunday)
	} else {
		start = currentSunday.AddDate(0, 0, -7*lookbackWeeks)
	}

	end := currentSunday.AddDate(0, 0, 7*lookaheadWeeks+6)
	return Window{Start: start, End: end}
}

// ChunkWindow splits [start, end] into consecutive closed sub-intervals of
// sizeDays, the last truncated to end. Non-positive sizes yield nothing.
func ChunkWindow(start, end time.Time, sizeDays int) []Window {
	if sizeDays < 1 {
		return nil
	}
	start = Date(start)
	end = Date(end)

	var out []Window
	for current := start; !current.After(end); {
		chunkEnd := current.AddDate(0, 0, sizeDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		out = append(out, Window{Start: current, End: chunkEnd})
		current = chunkEnd.AddDate(0, 0, 1)
	}
	return out
}

// CheckHorizon rejects metric windows ending past the upstream's horizon
// cap. Called before any request for the window goes out; discovery
// queries are exempt.
func CheckHorizon(anchor, end time.Time) error {
	max := Date(anchor).AddDate(0, 0, MaxMetricOffsetDays)
	if Date(end).After(max) {
		return &ConfigurationError{
			Detail: fmt.Sprintf(
				"window end %s exceeds offset limit %s, adjust the lookahead or anchor day",
				Date(end).Format(time.DateOnly), max.Format(time.DateOnly),
			),
		}
	}
	return nil
}
