package airbnb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestChunkWindow(t *testing.T) {
	chunks := ChunkWindow(day(2025, 1, 1), day(2025, 1, 20), 7)

	require.Equal(t, []Window{
		{Start: day(2025, 1, 1), End: day(2025, 1, 7)},
		{Start: day(2025, 1, 8), End: day(2025, 1, 14)},
		{Start: day(2025, 1, 15), End: day(2025, 1, 20)},
	}, chunks)
}

func TestChunkWindowSingleDay(t *testing.T) {
	chunks := ChunkWindow(day(2025, 3, 10), day(2025, 3, 10), 28)
	require.Equal(t, []Window{{Start: day(2025, 3, 10), End: day(2025, 3, 10)}}, chunks)
	require.Equal(t, 1, chunks[0].Days())
}

func TestChunkWindowNonPositiveSize(t *testing.T) {
	require.Empty(t, ChunkWindow(day(2025, 1, 1), day(2025, 1, 20), 0))
	require.Empty(t, ChunkWindow(day(2025, 1, 1), day(2025, 1, 20), -7))
}

func TestChunkWindowExactMultiple(t *testing.T) {
	chunks := ChunkWindow(day(2025, 1, 1), day(2025, 1, 14), 7)
	require.Len(t, chunks, 2)
	require.Equal(t, day(2025, 1, 8), chunks[1].Start)
	require.Equal(t, day(2025, 1, 14), chunks[1].End)
}

func TestPollWindowIncremental(t *testing.T) {
	// 2025-06-18 is a Wednesday
	window := PollWindow(false, day(2025, 6, 18), 25, 25)

	require.Equal(t, time.Sunday, window.Start.Weekday())
	require.Equal(t, time.Saturday, window.End.Weekday())
	// current Sunday is 06-15: 25 weeks back, 25 weeks forward + 6 days
	require.Equal(t, day(2024, 12, 22), window.Start)
	require.Equal(t, day(2025, 12, 13), window.End)
}

func TestPollWindowFirstRun(t *testing.T) {
	window := PollWindow(true, day(2025, 6, 18), 25, 25)

	require.Equal(t, time.Sunday, window.Start.Weekday())
	require.Equal(t, time.Saturday, window.End.Weekday())
	// the backfill start never exceeds the lookback cap
	require.LessOrEqual(t, day(2025, 6, 18).Sub(window.Start), time.Duration(MaxLookbackDays)*24*time.Hour)
	// 180 days back from 06-18 is 12-20 (Friday), advanced to Sunday 12-22
	require.Equal(t, day(2024, 12, 22), window.Start)
}

func TestPollWindowAnchorOnSunday(t *testing.T) {
	// anchor already a Sunday: current week starts that day
	window := PollWindow(false, day(2025, 6, 15), 1, 1)
	require.Equal(t, day(2025, 6, 8), window.Start)
	require.Equal(t, day(2025, 6, 28), window.End)
}

func TestCheckHorizon(t *testing.T) {
	anchor := day(2025, 6, 18)

	require.NoError(t, CheckHorizon(anchor, anchor.AddDate(0, 0, MaxMetricOffsetDays)))

	err := CheckHorizon(anchor, anchor.AddDate(0, 0, MaxMetricOffsetDays+1))
	require.Error(t, err)
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	require.True(t, confErr.Fatal())
}

func TestDateTruncation(t *testing.T) {
	ts := time.Date(2025, 6, 18, 23, 59, 1, 0, time.FixedZone("x", -7*3600))
	require.Equal(t, day(2025, 6, 19), Date(ts))
}
