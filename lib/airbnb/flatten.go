package airbnb

import (
	"bytes"
	"encoding/json"
	"time"
)

// The dashboard buries every result inside
// data.porygon.getPerformanceComponents.components[0]. Auth failures show
// up in two forms: an authentication_required marker in the top-level error
// list, or getPerformanceComponents explicitly set to null (not merely
// absent) while the rest of the envelope looks fine.

type envelope struct {
	Data   *envelopeData   `json:"data"`
	Errors []envelopeError `json:"errors"`
}

type envelopeError struct {
	Message    string `json:"message"`
	Extensions struct {
		ErrorType string `json:"errorType"`
	} `json:"extensions"`
}

type envelopeData struct {
	Porygon map[string]json.RawMessage `json:"porygon"`
}

type performanceComponents struct {
	Components []component `json:"components"`
}

type component struct {
	MetricLineCharts []metricLineChart `json:"metricLineCharts"`
	PrimaryMetric    *metricEntry      `json:"primaryMetric"`
	SecondaryMetrics []metricEntry     `json:"secondaryMetrics"`
	Metrics          []metricEntry     `json:"metrics"`
	TableRows        []tableRow        `json:"tableRows"`
}

type metricLineChart struct {
	Granularity string      `json:"granularity"`
	Label       string      `json:"label"`
	DataPoints  []dataPoint `json:"dataPoints"`
}

type dataPoint struct {
	DS          string       `json:"ds"`
	Label       *string      `json:"label"`
	Value       NumericValue `json:"value"`
	ValueString *string      `json:"valueString"`
	ValueType   string       `json:"valueType"`
}

type metricEntry struct {
	MetricName        string       `json:"metricName"`
	Label             string       `json:"label"`
	Value             NumericValue `json:"value"`
	ValueString       *string      `json:"valueString"`
	ValueType         string       `json:"valueType"`
	ValueChange       NumericValue `json:"valueChange"`
	ValueChangeString *string      `json:"valueChangeString"`
}

type tableRow struct {
	ID           string `json:"id"`
	InternalName string `json:"internalName"`
}

// NumericValue is the upstream's numeric wrapper: at most one of a decimal
// or integer representation.
type NumericValue struct {
	DoubleValue *float64 `json:"doubleValue"`
	LongValue   *int64   `json:"longValue"`
}

// ExtractNumeric unwraps a NumericValue, preferring the decimal form.
// Zero is a real value and survives; nil means both forms were absent.
func ExtractNumeric(v NumericValue) *float64 {
	if v.DoubleValue != nil {
		return v.DoubleValue
	}
	if v.LongValue != nil {
		f := float64(*v.LongValue)
		return &f
	}
	return nil
}

// ChunkMeta tags a flattened chunk with its originating request.
type ChunkMeta struct {
	ListingID   string
	ListingName string
	Kind        QueryKind
	MetricType  string
	// MetricTag is the polled metric's name, the first group value.
	MetricTag   string
	WindowStart time.Time
	WindowEnd   time.Time
}

// TimeSeriesRow is one chart data point.
type TimeSeriesRow struct {
	Granularity string
	DS          string
	Value       *float64
	ValueString *string
	ValueType   string
	// SourceLabel classifies the series later: "Your listing" vs the
	// market comparison series.
	SourceLabel string
}

// FlatMetric is one named metric value.
type FlatMetric struct {
	MetricName        string
	Label             string
	Value             *float64
	ValueString       *string
	ValueType         string
	ValueChange       *float64
	ValueChangeString *string
}

// FlattenedChunk is one polling result after flattening. Chart chunks
// carry the time series plus primary/secondary summary metrics; overview
// chunks carry the plain metric list.
type FlattenedChunk struct {
	Meta       ChunkMeta
	TimeSeries []TimeSeriesRow
	Primary    *FlatMetric
	Secondary  []FlatMetric
	Metrics    []FlatMetric
}

func extractComponent(body []byte, op string) (component, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return component{}, &StructuralError{Op: op, Detail: "response is not valid json"}
	}

	authDetail := ""
	for _, e := range env.Errors {
		if e.Extensions.ErrorType == "authentication_required" {
			authDetail = e.Message
			if authDetail == "" {
				authDetail = "authentication required"
			}
		}
	}
	if authDetail == "" && env.Data != nil && env.Data.Porygon != nil {
		raw, present := env.Data.Porygon["getPerformanceComponents"]
		if present && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			authDetail = "credentials expired, performance components returned null"
		}
	}
	if authDetail != "" {
		return component{}, &AuthError{Op: op, Detail: authDetail}
	}

	if env.Data == nil || env.Data.Porygon == nil {
		return component{}, &StructuralError{Op: op, Detail: "missing data.porygon"}
	}
	raw, ok := env.Data.Porygon["getPerformanceComponents"]
	if !ok {
		return component{}, &StructuralError{Op: op, Detail: "missing getPerformanceComponents"}
	}

	var pc performanceComponents
	if err := json.Unmarshal(raw, &pc); err != nil {
		return component{}, &StructuralError{Op: op, Detail: "malformed performance components"}
	}
	if len(pc.Components) == 0 {
		return component{}, &StructuralError{Op: op, Detail: "empty component list"}
	}
	return pc.Components[0], nil
}

func flattenMetricEntry(m metricEntry) FlatMetric {
	return FlatMetric{
		MetricName:        m.MetricName,
		Label:             m.Label,
		Value:             ExtractNumeric(m.Value),
		ValueString:       m.ValueString,
		ValueType:         m.ValueType,
		ValueChange:       ExtractNumeric(m.ValueChange),
		ValueChangeString: m.ValueChangeString,
	}
}

// FlattenChart flattens a ChartQuery response: one row per chart data
// point plus the primary and secondary summary metrics.
func FlattenChart(body []byte, meta ChunkMeta) (FlattenedChunk, error) {
	comp, err := extractComponent(body, string(ChartQuery))
	if err != nil {
		return FlattenedChunk{}, err
	}

	chunk := FlattenedChunk{Meta: meta}
	for _, chart := range comp.MetricLineCharts {
		for _, point := range chart.DataPoints {
			chunk.TimeSeries = append(chunk.TimeSeries, TimeSeriesRow{
				Granularity: chart.Granularity,
				DS:          point.DS,
				Value:       ExtractNumeric(point.Value),
				ValueString: point.ValueString,
				ValueType:   point.ValueType,
				SourceLabel: chart.Label,
			})
		}
	}
	if comp.PrimaryMetric != nil {
		primary := flattenMetricEntry(*comp.PrimaryMetric)
		chunk.Primary = &primary
	}
	for _, m := range comp.SecondaryMetrics {
		chunk.Secondary = append(chunk.Secondary, flattenMetricEntry(m))
	}
	return chunk, nil
}

// FlattenOverview flattens a ListOfMetricsQuery response: one entry per
// listed metric.
func FlattenOverview(body []byte, meta ChunkMeta) (FlattenedChunk, error) {
	comp, err := extractComponent(body, string(ListOfMetricsQuery))
	if err != nil {
		return FlattenedChunk{}, err
	}

	chunk := FlattenedChunk{Meta: meta}
	for _, m := range comp.Metrics {
		chunk.Metrics = append(chunk.Metrics, flattenMetricEntry(m))
	}
	return chunk, nil
}

// FlattenListings extracts the listing id -> internal name mapping from a
// discovery response.
func FlattenListings(body []byte) (map[string]string, error) {
	comp, err := extractComponent(body, string(ListingsSectionQuery))
	if err != nil {
		return nil, err
	}

	listings := make(map[string]string, len(comp.TableRows))
	for _, row := range comp.TableRows {
		listings[row.ID] = row.InternalName
	}
	return listings, nil
}
