package airbnb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestExtractNumeric(t *testing.T) {
	// zero is a value, not absence
	v := ExtractNumeric(NumericValue{DoubleValue: f64(0)})
	require.NotNil(t, v)
	require.Equal(t, 0.0, *v)

	require.Nil(t, ExtractNumeric(NumericValue{}))

	v = ExtractNumeric(NumericValue{LongValue: i64(5)})
	require.NotNil(t, v)
	require.Equal(t, 5.0, *v)

	// decimal wins when both are present
	v = ExtractNumeric(NumericValue{DoubleValue: f64(1.5), LongValue: i64(9)})
	require.Equal(t, 1.5, *v)
}

func chartBody() []byte {
	return []byte(`{
		"data": {"porygon": {"getPerformanceComponents": {"components": [{
			"metricLineCharts": [
				{
					"granularity": "DAILY",
					"label": "Your listing",
					"dataPoints": [
						{"ds": "2025-06-15", "value": {"doubleValue": 0.042}, "valueString": "4.2%", "valueType": "PERCENT"},
						{"ds": "2025-06-16", "value": {}, "valueString": null, "valueType": "PERCENT"}
					]
				},
				{
					"granularity": "DAILY",
					"label": "Similar listings",
					"dataPoints": [
						{"ds": "2025-06-15", "value": {"doubleValue": 0.038}, "valueString": "3.8%", "valueType": "PERCENT"}
					]
				}
			],
			"primaryMetric": {
				"metricName": "conversion_rate",
				"label": "Conversion rate",
				"value": {"doubleValue": 0.042},
				"valueString": "4.2%",
				"valueType": "PERCENT",
				"valueChange": {"doubleValue": -0.003},
				"valueChangeString": "-0.3%"
			},
			"secondaryMetrics": [
				{"metricName": "p3_impressions", "value": {"longValue": 120}, "valueString": "120"}
			]
		}]}}}
	}`)
}

func TestFlattenChart(t *testing.T) {
	meta := ChunkMeta{
		ListingID:   "L1",
		ListingName: "Cabin",
		Kind:        ChartQuery,
		MetricTag:   "conversion_rate",
		WindowStart: day(2025, 6, 15),
		WindowEnd:   day(2025, 6, 21),
	}

	chunk, err := FlattenChart(chartBody(), meta)
	require.NoError(t, err)

	require.Len(t, chunk.TimeSeries, 3)
	require.Equal(t, "Your listing", chunk.TimeSeries[0].SourceLabel)
	require.Equal(t, 0.042, *chunk.TimeSeries[0].Value)
	require.Nil(t, chunk.TimeSeries[1].Value)
	require.Equal(t, "Similar listings", chunk.TimeSeries[2].SourceLabel)

	require.NotNil(t, chunk.Primary)
	require.Equal(t, "conversion_rate", chunk.Primary.MetricName)
	require.Equal(t, -0.003, *chunk.Primary.ValueChange)

	require.Len(t, chunk.Secondary, 1)
	require.Equal(t, 120.0, *chunk.Secondary[0].Value)
}

func TestFlattenOverview(t *testing.T) {
	body := []byte(`{
		"data": {"porygon": {"getPerformanceComponents": {"components": [{
			"metrics": [
				{"metricName": "conversion_rate", "value": {"doubleValue": 0.05}, "valueString": "5%"},
				{"metricName": "page_views", "value": {"longValue": 44}, "valueString": "44"}
			]
		}]}}}
	}`)

	chunk, err := FlattenOverview(body, ChunkMeta{ListingID: "L1", Kind: ListOfMetricsQuery})
	require.NoError(t, err)
	require.Len(t, chunk.Metrics, 2)
	require.Equal(t, 44.0, *chunk.Metrics[1].Value)
}

func TestFlattenListings(t *testing.T) {
	body := []byte(`{
		"data": {"porygon": {"getPerformanceComponents": {"components": [{
			"tableRows": [
				{"id": "101", "internalName": "Beach House"},
				{"id": "102", "internalName": "Cabin"}
			]
		}]}}}
	}`)

	listings, err := FlattenListings(body)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"101": "Beach House", "102": "Cabin"}, listings)
}

func TestExtractComponentAuthErrorMarker(t *testing.T) {
	body := []byte(`{
		"data": {"porygon": {}},
		"errors": [{"message": "please log in", "extensions": {"errorType": "authentication_required"}}]
	}`)

	_, err := FlattenListings(body)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.True(t, authErr.Fatal())
	require.Contains(t, authErr.Detail, "please log in")
}

func TestExtractComponentExplicitNullIsAuthError(t *testing.T) {
	body := []byte(`{"data": {"porygon": {"getPerformanceComponents": null}}}`)

	_, err := FlattenListings(body)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestExtractComponentMissingKeyIsStructural(t *testing.T) {
	var structErr *StructuralError

	// porygon present but no component payload
	_, err := FlattenListings([]byte(`{"data": {"porygon": {}}}`))
	require.ErrorAs(t, err, &structErr)

	// empty component list
	_, err = FlattenListings([]byte(
		`{"data": {"porygon": {"getPerformanceComponents": {"components": []}}}}`))
	require.ErrorAs(t, err, &structErr)

	// not json at all
	_, err = FlattenListings([]byte(`<html>blocked</html>`))
	require.ErrorAs(t, err, &structErr)
}
