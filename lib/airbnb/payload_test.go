package airbnb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpointURL(t *testing.T) {
	url, err := EndpointURL(ChartQuery)
	require.NoError(t, err)
	require.Equal(t,
		"https://www.airbnb.com/api/v3/ChartQuery/aa6e318cc066bbf19511b86acdce32fc59219d8596448b861d794491f46631c5",
		url)

	_, err = EndpointURL(QueryKind("Bogus"))
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestBuildListingsPayload(t *testing.T) {
	p := BuildListingsPayload()

	require.Equal(t, "ListingsSectionQuery", p.OperationName)
	require.Equal(t, "web-performance-dash-listings", p.Variables.Request.ClientName)
	require.Nil(t, p.Variables.Request.Arguments.RelativeDsStart)
	require.Nil(t, p.Variables.Request.Arguments.RelativeDsEnd)
	require.Nil(t, p.Variables.Request.Arguments.Filters)

	// date arguments must not leak into the serialized discovery payload
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "relativeDsStart")
	require.NotContains(t, string(raw), "filters")
	require.Contains(t, string(raw), "persistedQuery")
}

func TestBuildMetricPayloadOffsets(t *testing.T) {
	anchor := day(2025, 6, 18)
	window := Window{Start: day(2025, 6, 15), End: day(2025, 6, 21)}
	desc := MetricDescriptor{
		Kind:              ChartQuery,
		MetricType:        "CONVERSION",
		GroupValues:       []string{"conversion_rate"},
		IncludeComparison: true,
	}

	p, err := BuildMetricPayload(ChartQuery, "L1", window, anchor, desc, 3)
	require.NoError(t, err)

	// window start is 3 days before the anchor: -3 + uiOffset 3 = 0
	require.Equal(t, 0, *p.Variables.Request.Arguments.RelativeDsStart)
	require.Equal(t, 6, *p.Variables.Request.Arguments.RelativeDsEnd)
	require.Equal(t, []string{"L1"}, p.Variables.Request.Arguments.Filters.ListingIDs)
	require.Equal(t, "MARKET", p.Variables.Request.Arguments.MetricComparisonType)
	require.Equal(t, "web-performance-dash-chart", p.Variables.Request.ClientName)
	require.Equal(t, "en", p.Locale)
	require.Equal(t, "USD", p.Currency)
}

func TestBuildMetricPayloadHistoricalOffset(t *testing.T) {
	anchor := day(2025, 6, 18)
	window := Window{Start: day(2025, 6, 10), End: day(2025, 6, 12)}
	desc := MetricDescriptor{Kind: ChartQuery, MetricType: "CONVERSION", GroupValues: []string{"p3_impressions"}}

	p, err := BuildMetricPayload(ChartQuery, "L1", window, anchor, desc, 5)
	require.NoError(t, err)
	require.Equal(t, -3, *p.Variables.Request.Arguments.RelativeDsStart)
	require.Equal(t, -1, *p.Variables.Request.Arguments.RelativeDsEnd)
}

func TestBuildMetricPayloadOverviewHasNoComparison(t *testing.T) {
	anchor := day(2025, 6, 18)
	window := Window{Start: day(2025, 6, 15), End: day(2025, 6, 21)}
	desc := MetricDescriptor{
		Kind:              ListOfMetricsQuery,
		MetricType:        "CONVERSION",
		GroupValues:       []string{"conversion_rate"},
		IncludeComparison: true,
	}

	p, err := BuildMetricPayload(ListOfMetricsQuery, "L1", window, anchor, desc, 3)
	require.NoError(t, err)
	require.Empty(t, p.Variables.Request.Arguments.MetricComparisonType)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "metricComparisonType")
}

func TestBuildMetricPayloadRejectsDiscoveryKind(t *testing.T) {
	_, err := BuildMetricPayload(ListingsSectionQuery, "L1", Window{}, day(2025, 6, 18), MetricDescriptor{}, 3)
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}
