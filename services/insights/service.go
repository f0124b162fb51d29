package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"airbnbsync-backend/lib/accountstore"
	"airbnbsync-backend/lib/airbnb"
	"airbnbsync-backend/lib/cookieutil"
)

var tracer = otel.Tracer("services/insights")

// ErrSyncInProgress is returned when a run is requested for an account
// that already has one in flight. Scheduler and manual triggers race,
// only one wins.
var ErrSyncInProgress = errors.New("a sync is already in progress for this account")

// DefaultAPIKey is the public web client key the dashboard embeds in
// every page. It identifies the web app, not the user.
const DefaultAPIKey = "d306zoyjsyarp7ifhu67rjxn52tv0t20"

const (
	chartChunkDays    = 28
	overviewChunkDays = 7

	// orchestrator-level pacing, on top of the client's post-call wait
	betweenCallsMin    = time.Second
	betweenCallsMax    = 3 * time.Second
	betweenListingsMin = 3 * time.Second
	betweenListingsMax = 6 * time.Second
)

// DefaultDescriptors is the metric set each listing gets polled for: the
// conversion-rate and impression charts with the market comparison series,
// plus the weekly overview metric list.
var DefaultDescriptors = []airbnb.MetricDescriptor{
	{Kind: airbnb.ChartQuery, MetricType: "CONVERSION", GroupValues: []string{"conversion_rate"}, IncludeComparison: true},
	{Kind: airbnb.ChartQuery, MetricType: "CONVERSION", GroupValues: []string{"p3_impressions"}, IncludeComparison: true},
	{Kind: airbnb.ListOfMetricsQuery, MetricType: "CONVERSION", GroupValues: []string{"conversion_rate"}},
}

// AccountStore is the narrow slice of account persistence the sync needs.
type AccountStore interface {
	Get(ctx context.Context, id string) (accountstore.Account, error)
	ReplaceCookies(ctx context.Context, id string, cookieSet string) error
	StampLastSync(ctx context.Context, id string, at time.Time) error
	// TryAcquireSyncLock is the cross-process half of the single-flight
	// guard: the daemon and the CLI each build their own Service, so the
	// lock has to live where both can see it.
	TryAcquireSyncLock(ctx context.Context, id string) (release func(), ok bool, err error)
}

// MetricStore receives the pivoted wide rows, one upsert per row set.
type MetricStore interface {
	UpsertTimeSeries(ctx context.Context, accountID string, rows []airbnb.WideRow) error
	UpsertSummaries(ctx context.Context, accountID string, rows []airbnb.WideRow) error
	UpsertOverview(ctx context.Context, accountID string, rows []airbnb.WideRow) error
}

// APIClient posts payloads to the metrics API.
type APIClient interface {
	Post(ctx context.Context, url string, payload any, label string) ([]byte, error)
}

// SessionState exposes the cookie state a run accumulates.
type SessionState interface {
	EvolvedCookies() cookieutil.CookieSet
}

// Dialer establishes a validated session and API client for an account.
type Dialer func(ctx context.Context, account accountstore.Account) (APIClient, SessionState, error)

// Options tunes a Service. Zero values get sane defaults.
type Options struct {
	APIKey         string
	UIOffset       int
	LookbackWeeks  int
	LookaheadWeeks int
	Descriptors    []airbnb.MetricDescriptor
	// Waiter paces requests. Tests inject airbnb.NopWaiter.
	Waiter airbnb.Waiter
	// Now is the clock, overridable in tests.
	Now func() time.Time
	// Dial overrides session establishment, for tests.
	Dial Dialer
}

type Service struct {
	accounts AccountStore
	metrics  MetricStore
	opts     Options

	mu      sync.Mutex
	running map[string]bool
}

func NewService(accounts AccountStore, metrics MetricStore, opts Options) *Service {
	if opts.APIKey == "" {
		opts.APIKey = DefaultAPIKey
	}
	if opts.UIOffset == 0 {
		opts.UIOffset = airbnb.DefaultUIOffset
	}
	if opts.LookbackWeeks == 0 {
		opts.LookbackWeeks = airbnb.DefaultLookbackWeeks
	}
	if opts.LookaheadWeeks == 0 {
		opts.LookaheadWeeks = airbnb.DefaultLookaheadWeeks
	}
	if len(opts.Descriptors) == 0 {
		opts.Descriptors = DefaultDescriptors
	}
	if opts.Waiter == nil {
		opts.Waiter = airbnb.RandomWaiter{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		accounts: accounts,
		metrics:  metrics,
		opts:     opts,
		running:  map[string]bool{},
	}
	if s.opts.Dial == nil {
		s.opts.Dial = s.dial
	}
	return s
}

// dial is the production Dialer: preflight the dashboard, then shape the
// session for API calls.
func (s *Service) dial(ctx context.Context, account accountstore.Account) (APIClient, SessionState, error) {
	session, err := airbnb.EstablishSession(ctx, airbnb.SessionOptions{
		UserAgent:   account.UserAgent,
		AuthCookies: cookieutil.FilterPersistentAuth(cookieutil.Parse(account.CookieSet)),
	})
	if err != nil {
		return nil, nil, err
	}
	client := airbnb.NewClient(session, airbnb.ClientOptions{
		APIKey:        s.opts.APIKey,
		ClientVersion: account.ClientVersion,
		TraceID:       account.TraceID,
		UserAgent:     account.UserAgent,
		Waiter:        s.opts.Waiter,
	})
	return client, session, nil
}

// RunRequest describes one sync run.
type RunRequest struct {
	AccountID string
	// Anchor is the run's "today". Zero means the current clock.
	Anchor time.Time
	// Trigger labels the run in logs and traces: "cron", "startup",
	// "manual".
	Trigger string
	// ForceFull uses the capped first-run lookback even if the account
	// synced before.
	ForceFull bool
	// DryRun polls and pivots but skips every write.
	DryRun bool
}

// ListingError records one listing's failure without stopping the run.
type ListingError struct {
	ListingID   string
	ListingName string
	Kind        string
	Message     string
}

// SyncResult summarizes a completed (or aborted) run.
type SyncResult struct {
	TotalListings int
	Succeeded     int
	Failed        int
	Errors        []ListingError
}

func errorKind(err error) string {
	var authErr *airbnb.AuthError
	var structErr *airbnb.StructuralError
	var netErr *airbnb.NetworkError
	var confErr *airbnb.ConfigurationError
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &structErr):
		return "structural"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &confErr):
		return "configuration"
	}
	return "unknown"
}

func isAuthError(err error) bool {
	var authErr *airbnb.AuthError
	return errors.As(err, &authErr)
}

// RunSync executes one full sync for an account: select the window,
// establish a session, discover listings, poll and persist each listing,
// then write back the evolved cookies and timestamp. At most one run per
// account is in flight at a time.
func (s *Service) RunSync(ctx context.Context, req RunRequest) (SyncResult, error) {
	// in-process fast path first, then the shared lock in the store
	if !s.acquire(req.AccountID) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer s.release(req.AccountID)

	releaseLock, ok, err := s.accounts.TryAcquireSyncLock(ctx, req.AccountID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return SyncResult{}, ErrSyncInProgress
	}
	defer releaseLock()

	ctx, span := tracer.Start(ctx, "RunSync")
	defer span.End()
	span.SetAttributes(
		attribute.String("account", req.AccountID),
		attribute.String("trigger", req.Trigger),
		attribute.Bool("force_full", req.ForceFull),
		attribute.Bool("dry_run", req.DryRun),
	)

	anchor := req.Anchor
	if anchor.IsZero() {
		anchor = s.opts.Now()
	}
	anchor = airbnb.Date(anchor)

	if err := validateDescriptors(s.opts.Descriptors); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid descriptor set")
		return SyncResult{}, err
	}

	account, err := s.accounts.Get(ctx, req.AccountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account lookup failed")
		return SyncResult{}, fmt.Errorf("load account: %w", err)
	}

	firstRun := account.LastSyncAt == nil || req.ForceFull
	window := airbnb.PollWindow(firstRun, anchor, s.opts.LookbackWeeks, s.opts.LookaheadWeeks)
	if err := airbnb.CheckHorizon(anchor, window.End); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "window exceeds horizon")
		return SyncResult{}, err
	}
	slog.InfoContext(ctx, "starting sync",
		"account", req.AccountID,
		"trigger", req.Trigger,
		"first_run", firstRun,
		"window", window.String())

	client, session, err := s.opts.Dial(ctx, account)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session establishment failed")
		return SyncResult{}, err
	}

	listings, err := s.discoverListings(ctx, client)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return SyncResult{}, err
	}
	if len(listings) == 0 {
		slog.InfoContext(ctx, "no listings on account", "account", req.AccountID)
		if !req.DryRun {
			if err := s.persistSession(ctx, req.AccountID, session); err != nil {
				return SyncResult{}, err
			}
		}
		return SyncResult{}, nil
	}

	result := SyncResult{TotalListings: len(listings)}
	for i, listing := range listings {
		if i > 0 {
			s.opts.Waiter.Wait(ctx, betweenListingsMin, betweenListingsMax)
		}

		err := s.syncListing(ctx, client, req, anchor, window, listing)
		if err == nil {
			result.Succeeded++
			continue
		}
		if isAuthError(err) {
			// nothing persisted for this run beyond prior listings
			span.RecordError(err)
			span.SetStatus(codes.Error, "aborted on auth failure")
			slog.ErrorContext(ctx, "sync aborted, credentials rejected mid-run",
				"account", req.AccountID, "listing", listing.ID, "err", err)
			return result, err
		}

		result.Failed++
		result.Errors = append(result.Errors, ListingError{
			ListingID:   listing.ID,
			ListingName: listing.Name,
			Kind:        errorKind(err),
			Message:     err.Error(),
		})
		slog.WarnContext(ctx, "listing failed, continuing",
			"account", req.AccountID,
			"listing", listing.ID,
			"kind", errorKind(err),
			"err", err)
	}

	if !req.DryRun {
		if err := s.persistSession(ctx, req.AccountID, session); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session persistence failed")
			return result, err
		}
	}

	slog.InfoContext(ctx, "sync finished",
		"account", req.AccountID,
		"total", result.TotalListings,
		"succeeded", result.Succeeded,
		"failed", result.Failed)
	span.SetAttributes(
		attribute.Int("listings_total", result.TotalListings),
		attribute.Int("listings_failed", result.Failed),
	)
	return result, nil
}

// validateDescriptors rejects descriptors that cannot produce a payload.
// GroupValues names the polled metric, so an empty list has nothing to
// ask for.
func validateDescriptors(descs []airbnb.MetricDescriptor) error {
	for _, desc := range descs {
		if len(desc.GroupValues) == 0 {
			return &airbnb.ConfigurationError{
				Detail: fmt.Sprintf("metric descriptor %s/%s has no group values", desc.Kind, desc.MetricType),
			}
		}
	}
	return nil
}

func (s *Service) acquire(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[accountID] {
		return false
	}
	s.running[accountID] = true
	return true
}

func (s *Service) release(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, accountID)
}

type listing struct {
	ID   string
	Name string
}

// discoverListings fetches the id -> name table and orders it by display
// name so runs process listings in a stable order.
func (s *Service) discoverListings(ctx context.Context, client APIClient) ([]listing, error) {
	endpoint, err := airbnb.EndpointURL(airbnb.ListingsSectionQuery)
	if err != nil {
		return nil, err
	}

	body, err := client.Post(ctx, endpoint, airbnb.BuildListingsPayload(), "listings")
	if err != nil {
		return nil, err
	}
	table, err := airbnb.FlattenListings(body)
	if err != nil {
		return nil, err
	}

	out := make([]listing, 0, len(table))
	for id, name := range table {
		out = append(out, listing{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// syncListing polls every descriptor across the rolling sub-windows,
// accumulating flattened chunks in a per-listing arena, then pivots and
// persists. Malformed chunks are skipped; network exhaustion fails the
// listing; auth failures propagate to abort the run.
func (s *Service) syncListing(
	ctx context.Context,
	client APIClient,
	req RunRequest,
	anchor time.Time,
	window airbnb.Window,
	l listing,
) error {
	ctx, span := tracer.Start(ctx, "syncListing")
	defer span.End()
	span.SetAttributes(attribute.String("listing", l.ID))

	var chunks []airbnb.FlattenedChunk
	first := true
	for _, desc := range s.opts.Descriptors {
		chunkDays := chartChunkDays
		if desc.Kind == airbnb.ListOfMetricsQuery {
			chunkDays = overviewChunkDays
		}

		for _, sub := range airbnb.ChunkWindow(window.Start, window.End, chunkDays) {
			if !first {
				s.opts.Waiter.Wait(ctx, betweenCallsMin, betweenCallsMax)
			}
			first = false

			chunk, err := s.pollChunk(ctx, client, anchor, sub, l, desc)
			if err != nil {
				var structErr *airbnb.StructuralError
				if errors.As(err, &structErr) {
					slog.WarnContext(ctx, "skipping malformed chunk",
						"listing", l.ID,
						"metric", desc.GroupValues[0],
						"window", sub.String(),
						"err", err)
					continue
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, "listing poll failed")
				return err
			}
			chunks = append(chunks, chunk)
		}
	}

	pivoted := airbnb.PivotChunks(chunks)
	if req.DryRun {
		slog.InfoContext(ctx, "dry run, skipping persistence",
			"listing", l.ID,
			"time_series_rows", len(pivoted.TimeSeries),
			"summary_rows", len(pivoted.Summary),
			"overview_rows", len(pivoted.Overview))
		return nil
	}

	if err := s.metrics.UpsertTimeSeries(ctx, req.AccountID, pivoted.TimeSeries); err != nil {
		return fmt.Errorf("persist time series: %w", err)
	}
	if err := s.metrics.UpsertSummaries(ctx, req.AccountID, pivoted.Summary); err != nil {
		return fmt.Errorf("persist summaries: %w", err)
	}
	if err := s.metrics.UpsertOverview(ctx, req.AccountID, pivoted.Overview); err != nil {
		return fmt.Errorf("persist overview: %w", err)
	}
	return nil
}

func (s *Service) pollChunk(
	ctx context.Context,
	client APIClient,
	anchor time.Time,
	window airbnb.Window,
	l listing,
	desc airbnb.MetricDescriptor,
) (airbnb.FlattenedChunk, error) {
	endpoint, err := airbnb.EndpointURL(desc.Kind)
	if err != nil {
		return airbnb.FlattenedChunk{}, err
	}
	payload, err := airbnb.BuildMetricPayload(desc.Kind, l.ID, window, anchor, desc, s.opts.UIOffset)
	if err != nil {
		return airbnb.FlattenedChunk{}, err
	}

	label := fmt.Sprintf("%s:%s", desc.Kind, desc.GroupValues[0])
	body, err := client.Post(ctx, endpoint, payload, label)
	if err != nil {
		return airbnb.FlattenedChunk{}, err
	}

	meta := airbnb.ChunkMeta{
		ListingID:   l.ID,
		ListingName: l.Name,
		Kind:        desc.Kind,
		MetricType:  desc.MetricType,
		MetricTag:   desc.GroupValues[0],
		WindowStart: window.Start,
		WindowEnd:   window.End,
	}
	if desc.Kind == airbnb.ChartQuery {
		return airbnb.FlattenChart(body, meta)
	}
	return airbnb.FlattenOverview(body, meta)
}

// persistSession writes the evolved auth cookies and the sync timestamp
// back to the account store. Runs even when some listings failed so the
// next run moves forward instead of re-polling the same window forever.
func (s *Service) persistSession(ctx context.Context, accountID string, session SessionState) error {
	evolved := cookieutil.FilterPersistentAuth(session.EvolvedCookies())
	if evolved.Len() > 0 {
		if err := s.accounts.ReplaceCookies(ctx, accountID, cookieutil.Build(evolved)); err != nil {
			return fmt.Errorf("persist cookies: %w", err)
		}
	}
	if err := s.accounts.StampLastSync(ctx, accountID, s.opts.Now()); err != nil {
		return fmt.Errorf("stamp last sync: %w", err)
	}
	return nil
}
