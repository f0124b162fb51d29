package airbnb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/airbnb")

const (
	// total attempts = 1 + retryCount
	retryCount        = 4
	retryWaitTime     = time.Second
	retryMaxWaitTime  = 30 * time.Second
	defaultAPITimeout = 10 * time.Second

	// pause after every successful call, mimicking dashboard click cadence
	thinkTimeMin = 5 * time.Second
	thinkTimeMax = 10 * time.Second
)

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ClientOptions carries the per-account request identity.
type ClientOptions struct {
	APIKey        string
	ClientVersion string
	TraceID       string
	UserAgent     string
	// Timeout applies per API call. Defaults to 10s.
	Timeout time.Duration
	// Waiter defaults to RandomWaiter.
	Waiter Waiter
}

// Client posts GraphQL payloads to the metrics API through an established
// session, retrying transient failures and classifying everything else.
type Client struct {
	http   *resty.Client
	waiter Waiter
}

// NewClient configures the session's underlying HTTP client for API calls:
// fixed header set, retry policy, timeouts.
func NewClient(session *Session, opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultAPITimeout
	}
	if opts.Waiter == nil {
		opts.Waiter = RandomWaiter{}
	}

	client := session.http
	client.SetTimeout(opts.Timeout)
	client.SetRetryCount(retryCount)
	client.SetRetryWaitTime(retryWaitTime)
	client.SetRetryMaxWaitTime(retryMaxWaitTime)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return retryableStatus(res.StatusCode())
	})
	client.AddRetryHook(func(res *resty.Response, err error) {
		ctx := context.Background()
		if res != nil {
			ctx = res.Request.Context()
			if res.StatusCode() == http.StatusTooManyRequests {
				slog.WarnContext(ctx, "rate limit hit",
					"retry_after", res.Header().Get("Retry-After"))
				return
			}
		}
		slog.WarnContext(ctx, "retrying request", "err", err)
	})

	client.SetHeaders(map[string]string{
		"X-Airbnb-API-Key":                 opts.APIKey,
		"X-CSRF-Token":                     "",
		"X-CSRF-Without-Token":             "1",
		"X-Client-Version":                 opts.ClientVersion,
		"X-Airbnb-Client-Trace-Id":         opts.TraceID,
		"User-Agent":                       opts.UserAgent,
		"X-Airbnb-GraphQL-Platform":        "web",
		"X-Airbnb-GraphQL-Platform-Client": "minimalist-niobe",
		"X-Airbnb-Supports-Airlock-V2":     "true",
		"X-Niobe-Short-Circuited":          "true",
		"Accept":                           "*/*",
		"Content-Type":                     "application/json",
	})

	return &Client{http: client, waiter: opts.Waiter}
}

// Post sends one payload and returns the raw response body once it has
// passed classification. The label identifies the call in telemetry.
func (c *Client) Post(ctx context.Context, url string, payload any, label string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("post:%s", label))
	defer span.End()

	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Client-Request-Id", uuid.NewString()).
		SetBody(payload).
		Post(url)

	attempts := 1
	if res != nil {
		attempts = res.Request.Attempt
	}
	span.SetAttributes(
		attribute.String("endpoint", label),
		attribute.Int("attempts", attempts),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed after retries")
		return nil, &NetworkError{Op: label, Err: err}
	}

	span.SetAttributes(attribute.Int("status", res.StatusCode()))

	switch {
	case res.StatusCode() == http.StatusUnauthorized,
		res.StatusCode() == http.StatusForbidden:
		span.SetStatus(codes.Error, "auth rejected")
		return nil, &AuthError{Op: label, Detail: fmt.Sprintf("status %d", res.StatusCode())}
	case retryableStatus(res.StatusCode()):
		// retry budget exhausted
		span.SetStatus(codes.Error, "retries exhausted")
		return nil, &NetworkError{
			Op:  label,
			Err: fmt.Errorf("status %d after %d attempts", res.StatusCode(), attempts),
		}
	case res.StatusCode() != http.StatusOK:
		span.SetStatus(codes.Error, "unexpected status")
		return nil, &StructuralError{Op: label, Detail: fmt.Sprintf("status %d", res.StatusCode())}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(res.Body(), &envelope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid json")
		return nil, &StructuralError{Op: label, Detail: "response is not a json object"}
	}
	if _, ok := envelope["data"]; !ok {
		span.SetStatus(codes.Error, "missing data key")
		return nil, &StructuralError{Op: label, Detail: "response has no top-level data key"}
	}

	c.waiter.Wait(ctx, thinkTimeMin, thinkTimeMax)

	return res.Body(), nil
}
