package airbnb

import (
	"strings"
	"time"
)

// WideRow is one wide-format output row: fixed identity columns plus one
// dynamically named column per metric. Identity columns are set when a key
// is first seen and never overwritten; metric columns from later chunks
// are merged additively, last writer winning per column name.
type WideRow map[string]any

// PivotResult holds the three wide-format row sets produced from one
// listing's chunks.
type PivotResult struct {
	// TimeSeries is keyed by (listing, date): chart data points with
	// subject/comparison columns per metric.
	TimeSeries []WideRow
	// Summary is keyed by (listing, window): the chart's primary metric
	// with its change delta plus secondary metrics.
	Summary []WideRow
	// Overview is keyed by (listing, window): the overview metric list.
	Overview []WideRow
}

// subjectMarker classifies chart series: the upstream labels the host's
// own series along the lines of "Your listing" and the market series
// "Similar listings".
const subjectMarker = "your"

func seriesTag(sourceLabel string) string {
	if strings.Contains(strings.ToLower(sourceLabel), subjectMarker) {
		return "your"
	}
	return "similar"
}

// pivotTable accumulates rows under composite keys, preserving first-seen
// key order so output is deterministic.
type pivotTable struct {
	order []string
	rows  map[string]WideRow
}

func newPivotTable() *pivotTable {
	return &pivotTable{rows: map[string]WideRow{}}
}

func (t *pivotTable) row(key string, identity func(WideRow)) WideRow {
	row, ok := t.rows[key]
	if !ok {
		row = WideRow{}
		identity(row)
		t.rows[key] = row
		t.order = append(t.order, key)
	}
	return row
}

func (t *pivotTable) list() []WideRow {
	out := make([]WideRow, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.rows[key])
	}
	return out
}

func numericColumn(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringColumn(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// PivotChunks reduces one listing's ordered chunks into the three
// wide-format row sets.
func PivotChunks(chunks []FlattenedChunk) PivotResult {
	return PivotResult{
		TimeSeries: pivotTimeSeries(chunks),
		Summary:    pivotSummary(chunks),
		Overview:   pivotOverview(chunks),
	}
}

func pivotTimeSeries(chunks []FlattenedChunk) []WideRow {
	table := newPivotTable()
	for _, chunk := range chunks {
		if chunk.Meta.Kind != ChartQuery {
			continue
		}
		metric := chunk.Meta.MetricTag
		for _, point := range chunk.TimeSeries {
			point := point
			row := table.row(chunk.Meta.ListingID+"|"+point.DS, func(r WideRow) {
				r["airbnb_listing_id"] = chunk.Meta.ListingID
				r["airbnb_internal_name"] = chunk.Meta.ListingName
				r["metric_date"] = point.DS
			})
			tag := seriesTag(point.SourceLabel)
			row[metric+"_"+tag+"_value"] = numericColumn(point.Value)
			row[metric+"_"+tag+"_value_string"] = stringColumn(point.ValueString)
		}
	}
	return table.list()
}

func windowIdentity(meta ChunkMeta) (string, func(WideRow)) {
	start := meta.WindowStart.Format(time.DateOnly)
	end := meta.WindowEnd.Format(time.DateOnly)
	key := meta.ListingID + "|" + start + "|" + end
	return key, func(r WideRow) {
		r["airbnb_listing_id"] = meta.ListingID
		r["airbnb_internal_name"] = meta.ListingName
		r["window_start"] = start
		r["window_end"] = end
	}
}

func pivotSummary(chunks []FlattenedChunk) []WideRow {
	table := newPivotTable()
	for _, chunk := range chunks {
		if chunk.Meta.Kind != ChartQuery {
			continue
		}
		key, identity := windowIdentity(chunk.Meta)
		row := table.row(key, identity)

		if chunk.Primary != nil {
			name := chunk.Primary.MetricName
			row[name+"_value"] = numericColumn(chunk.Primary.Value)
			row[name+"_value_string"] = stringColumn(chunk.Primary.ValueString)
			row[name+"_value_change"] = numericColumn(chunk.Primary.ValueChange)
			row[name+"_value_change_string"] = stringColumn(chunk.Primary.ValueChangeString)
		}
		for _, m := range chunk.Secondary {
			row[m.MetricName+"_value"] = numericColumn(m.Value)
			row[m.MetricName+"_value_string"] = stringColumn(m.ValueString)
		}
	}
	return table.list()
}

func pivotOverview(chunks []FlattenedChunk) []WideRow {
	table := newPivotTable()
	for _, chunk := range chunks {
		if chunk.Meta.Kind != ListOfMetricsQuery {
			continue
		}
		key, identity := windowIdentity(chunk.Meta)
		row := table.row(key, identity)

		for _, m := range chunk.Metrics {
			row[m.MetricName+"_value"] = numericColumn(m.Value)
			row[m.MetricName+"_value_string"] = stringColumn(m.ValueString)
		}
	}
	return table.list()
}
