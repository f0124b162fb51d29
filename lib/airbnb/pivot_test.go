package airbnb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPivotTimeSeriesMergesMetricsAcrossChunks(t *testing.T) {
	meta := func(tag string) ChunkMeta {
		return ChunkMeta{
			ListingID:   "L1",
			ListingName: "Cabin",
			Kind:        ChartQuery,
			MetricTag:   tag,
			WindowStart: day(2025, 6, 15),
			WindowEnd:   day(2025, 6, 21),
		}
	}

	chunks := []FlattenedChunk{
		{
			Meta: meta("conversion_rate"),
			TimeSeries: []TimeSeriesRow{
				{DS: "2025-06-15", Value: f64(0.042), SourceLabel: "Your listing"},
				{DS: "2025-06-15", Value: f64(0.038), SourceLabel: "Similar listings"},
			},
		},
		{
			Meta: meta("p3_impressions"),
			TimeSeries: []TimeSeriesRow{
				{DS: "2025-06-15", Value: f64(120), SourceLabel: "Your listing"},
			},
		},
	}

	rows := PivotChunks(chunks).TimeSeries
	require.Len(t, rows, 1)

	row := rows[0]
	require.Equal(t, "L1", row["airbnb_listing_id"])
	require.Equal(t, "Cabin", row["airbnb_internal_name"])
	require.Equal(t, "2025-06-15", row["metric_date"])
	require.Equal(t, 0.042, row["conversion_rate_your_value"])
	require.Equal(t, 0.038, row["conversion_rate_similar_value"])
	require.Equal(t, 120.0, row["p3_impressions_your_value"])
}

func TestPivotTimeSeriesSeparatesDatesAndListings(t *testing.T) {
	chunks := []FlattenedChunk{
		{
			Meta: ChunkMeta{ListingID: "L1", Kind: ChartQuery, MetricTag: "conversion_rate"},
			TimeSeries: []TimeSeriesRow{
				{DS: "2025-06-15", Value: f64(1), SourceLabel: "Your listing"},
				{DS: "2025-06-16", Value: f64(2), SourceLabel: "Your listing"},
			},
		},
		{
			Meta: ChunkMeta{ListingID: "L2", Kind: ChartQuery, MetricTag: "conversion_rate"},
			TimeSeries: []TimeSeriesRow{
				{DS: "2025-06-15", Value: f64(3), SourceLabel: "Your listing"},
			},
		},
	}

	rows := PivotChunks(chunks).TimeSeries
	require.Len(t, rows, 3)
	// first-seen order is stable
	require.Equal(t, "2025-06-15", rows[0]["metric_date"])
	require.Equal(t, "L1", rows[0]["airbnb_listing_id"])
	require.Equal(t, "L2", rows[2]["airbnb_listing_id"])
}

func TestPivotSummary(t *testing.T) {
	chunks := []FlattenedChunk{{
		Meta: ChunkMeta{
			ListingID:   "L1",
			ListingName: "Cabin",
			Kind:        ChartQuery,
			MetricTag:   "conversion_rate",
			WindowStart: day(2025, 6, 15),
			WindowEnd:   day(2025, 6, 21),
		},
		Primary: &FlatMetric{
			MetricName:        "conversion_rate",
			Value:             f64(0.042),
			ValueString:       strptr("4.2%"),
			ValueChange:       f64(-0.003),
			ValueChangeString: strptr("-0.3%"),
		},
		Secondary: []FlatMetric{
			{MetricName: "p3_impressions", Value: f64(120), ValueString: strptr("120")},
		},
	}}

	rows := PivotChunks(chunks).Summary
	require.Len(t, rows, 1)

	row := rows[0]
	require.Equal(t, "2025-06-15", row["window_start"])
	require.Equal(t, "2025-06-21", row["window_end"])
	require.Equal(t, 0.042, row["conversion_rate_value"])
	require.Equal(t, -0.003, row["conversion_rate_value_change"])
	require.Equal(t, "-0.3%", row["conversion_rate_value_change_string"])
	require.Equal(t, 120.0, row["p3_impressions_value"])
}

func TestPivotOverviewNilValuesSurviveAsNil(t *testing.T) {
	chunks := []FlattenedChunk{{
		Meta: ChunkMeta{
			ListingID:   "L1",
			Kind:        ListOfMetricsQuery,
			WindowStart: day(2025, 6, 15),
			WindowEnd:   day(2025, 6, 21),
		},
		Metrics: []FlatMetric{
			{MetricName: "occupancy_rate", Value: nil, ValueString: nil},
		},
	}}

	rows := PivotChunks(chunks).Overview
	require.Len(t, rows, 1)
	require.Nil(t, rows[0]["occupancy_rate_value"])
	require.Nil(t, rows[0]["occupancy_rate_value_string"])
}

func TestPivotIgnoresMismatchedKinds(t *testing.T) {
	chunks := []FlattenedChunk{
		{Meta: ChunkMeta{ListingID: "L1", Kind: ListOfMetricsQuery}, Metrics: []FlatMetric{{MetricName: "m"}}},
	}
	result := PivotChunks(chunks)
	require.Empty(t, result.TimeSeries)
	require.Empty(t, result.Summary)
	require.Len(t, result.Overview, 1)
}

func TestSeriesTag(t *testing.T) {
	require.Equal(t, "your", seriesTag("Your listing"))
	require.Equal(t, "your", seriesTag("YOUR LISTINGS"))
	require.Equal(t, "similar", seriesTag("Similar listings"))
	require.Equal(t, "similar", seriesTag(""))
}

func strptr(s string) *string { return &s }
