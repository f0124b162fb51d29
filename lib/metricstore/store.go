package metricstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"airbnbsync-backend/lib/airbnb"
)

// Wide rows carry a fixed identity prefix plus an open-ended set of metric
// columns, so the metric columns live in a jsonb document that upserts
// merge additively. Later chunks win per metric column, identity columns
// are set once.

// Schema creates the three metric tables. Safe to run more than once.
const Schema = `
CREATE TABLE IF NOT EXISTS listing_daily_metrics (
	account_id    text NOT NULL,
	listing_id    text NOT NULL,
	internal_name text NOT NULL,
	metric_date   date NOT NULL,
	metrics       jsonb NOT NULL,
	updated_at    timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, listing_id, metric_date)
);

CREATE TABLE IF NOT EXISTS listing_window_summaries (
	account_id    text NOT NULL,
	listing_id    text NOT NULL,
	internal_name text NOT NULL,
	window_start  date NOT NULL,
	window_end    date NOT NULL,
	metrics       jsonb NOT NULL,
	updated_at    timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, listing_id, window_start, window_end)
);

CREATE TABLE IF NOT EXISTS listing_window_overview (
	account_id    text NOT NULL,
	listing_id    text NOT NULL,
	internal_name text NOT NULL,
	window_start  date NOT NULL,
	window_end    date NOT NULL,
	metrics       jsonb NOT NULL,
	updated_at    timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, listing_id, window_start, window_end)
);
`

// Store writes pivoted metric rows to PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ensure metric schema: %w", err)
	}
	return nil
}

func identityString(row airbnb.WideRow, key string) (string, error) {
	v, ok := row[key]
	if !ok {
		return "", fmt.Errorf("wide row missing %s", key)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("wide row column %s is not a string", key)
	}
	return str, nil
}

// metricsDocument strips the identity columns and marshals what remains.
func metricsDocument(row airbnb.WideRow, identityKeys ...string) ([]byte, error) {
	doc := make(map[string]any, len(row))
	for k, v := range row {
		doc[k] = v
	}
	for _, k := range identityKeys {
		delete(doc, k)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal metric columns: %w", err)
	}
	return out, nil
}

// UpsertTimeSeries writes daily chart rows keyed by (listing, date).
func (s *Store) UpsertTimeSeries(ctx context.Context, accountID string, rows []airbnb.WideRow) error {
	query := `
		INSERT INTO listing_daily_metrics (account_id, listing_id, internal_name, metric_date, metrics)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, listing_id, metric_date) DO UPDATE SET
			internal_name = EXCLUDED.internal_name,
			metrics       = listing_daily_metrics.metrics || EXCLUDED.metrics,
			updated_at    = now()
	`

	return s.upsert(ctx, "upsert daily metrics", rows, func(b *pgx.Batch, row airbnb.WideRow) error {
		listingID, err := identityString(row, "airbnb_listing_id")
		if err != nil {
			return err
		}
		internalName, err := identityString(row, "airbnb_internal_name")
		if err != nil {
			return err
		}
		metricDate, err := identityString(row, "metric_date")
		if err != nil {
			return err
		}
		doc, err := metricsDocument(row, "airbnb_listing_id", "airbnb_internal_name", "metric_date")
		if err != nil {
			return err
		}
		b.Queue(query, accountID, listingID, internalName, metricDate, doc)
		return nil
	})
}

// UpsertSummaries writes chart summary rows keyed by (listing, window).
func (s *Store) UpsertSummaries(ctx context.Context, accountID string, rows []airbnb.WideRow) error {
	query := `
		INSERT INTO listing_window_summaries (account_id, listing_id, internal_name, window_start, window_end, metrics)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, listing_id, window_start, window_end) DO UPDATE SET
			internal_name = EXCLUDED.internal_name,
			metrics       = listing_window_summaries.metrics || EXCLUDED.metrics,
			updated_at    = now()
	`
	return s.upsertWindowed(ctx, "upsert window summaries", query, accountID, rows)
}

// UpsertOverview writes overview rows keyed by (listing, window).
func (s *Store) UpsertOverview(ctx context.Context, accountID string, rows []airbnb.WideRow) error {
	query := `
		INSERT INTO listing_window_overview (account_id, listing_id, internal_name, window_start, window_end, metrics)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, listing_id, window_start, window_end) DO UPDATE SET
			internal_name = EXCLUDED.internal_name,
			metrics       = listing_window_overview.metrics || EXCLUDED.metrics,
			updated_at    = now()
	`
	return s.upsertWindowed(ctx, "upsert window overview", query, accountID, rows)
}

func (s *Store) upsertWindowed(ctx context.Context, op, query, accountID string, rows []airbnb.WideRow) error {
	return s.upsert(ctx, op, rows, func(b *pgx.Batch, row airbnb.WideRow) error {
		listingID, err := identityString(row, "airbnb_listing_id")
		if err != nil {
			return err
		}
		internalName, err := identityString(row, "airbnb_internal_name")
		if err != nil {
			return err
		}
		windowStart, err := identityString(row, "window_start")
		if err != nil {
			return err
		}
		windowEnd, err := identityString(row, "window_end")
		if err != nil {
			return err
		}
		doc, err := metricsDocument(row, "airbnb_listing_id", "airbnb_internal_name", "window_start", "window_end")
		if err != nil {
			return err
		}
		b.Queue(query, accountID, listingID, internalName, windowStart, windowEnd, doc)
		return nil
	})
}

func (s *Store) upsert(ctx context.Context, op string, rows []airbnb.WideRow, queue func(*pgx.Batch, airbnb.WideRow) error) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		if err := queue(batch, row); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}
