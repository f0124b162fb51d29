package airbnb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"airbnbsync-backend/lib/cookieutil"
	"airbnbsync-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PreflightURL is an authenticated dashboard page. Navigating it issues
// fresh bot-manager cookies and rotates auth cookies via Set-Cookie.
const PreflightURL = "https://www.airbnb.com/hosting/insights"

const cookieDomain = "https://www.airbnb.com"

const defaultPreflightTimeout = 30 * time.Second

// Session is a live, validated browser-shaped session. Its cookie jar
// evolves with every response for the rest of the run.
type Session struct {
	http *resty.Client
	base *url.URL
}

// SessionOptions configures EstablishSession.
type SessionOptions struct {
	UserAgent   string
	AuthCookies cookieutil.CookieSet
	// Timeout applies to the preflight navigation. Defaults to 30s.
	Timeout time.Duration
}

// EstablishSession creates a fingerprint-spoofed session, seeds it with the
// stored auth cookies and validates it against the insights dashboard.
// Bot-manager tokens expire within minutes, so this runs immediately before
// API calls every sync; the tokens are never reused across runs.
func EstablishSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	return establish(ctx, opts, cookieDomain, PreflightURL)
}

func establish(ctx context.Context, opts SessionOptions, domain, preflightURL string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "EstablishSession")
	defer span.End()

	if opts.Timeout == 0 {
		opts.Timeout = defaultPreflightTimeout
	}

	base, err := url.Parse(domain)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(opts.Timeout)

	client.SetHeaders(map[string]string{
		"User-Agent":                opts.UserAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Upgrade-Insecure-Requests": "1",
	})

	telemetry.InstrumentResty(client, "lib/airbnb/http")

	seedJar(jar, base, opts.AuthCookies)
	span.SetAttributes(attribute.Int("auth_cookies", opts.AuthCookies.Len()))

	res, err := client.R().
		SetContext(ctx).
		Get(preflightURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preflight navigation failed")
		return nil, &NetworkError{Op: "preflight", Err: err}
	}

	finalURL := res.RawResponse.Request.URL.String()
	span.SetAttributes(
		attribute.Int("status", res.StatusCode()),
		attribute.String("final_url", finalURL),
	)

	lower := strings.ToLower(finalURL)
	if strings.Contains(lower, "login") || strings.Contains(lower, "authenticate") {
		span.SetStatus(codes.Error, "redirected to login")
		return nil, &AuthError{
			Op:     "preflight",
			Detail: fmt.Sprintf("session expired, redirected to %s", finalURL),
		}
	}

	return &Session{http: client, base: base}, nil
}

// EvolvedCookies returns the session's current cookie state: the seeded
// auth cookies plus everything the upstream set since.
func (s *Session) EvolvedCookies() cookieutil.CookieSet {
	return cookieutil.FromHTTPCookies(s.http.GetClient().Jar.Cookies(s.base))
}

// seedJar installs the stored auth cookies host-scoped to the base URL,
// which is the host every API call targets.
func seedJar(jar *cookiejar.Jar, base *url.URL, cookies cookieutil.CookieSet) {
	for _, name := range cookies.Names() {
		value, _ := cookies.Get(name)
		jar.SetCookies(base, []*http.Cookie{{
			Name:  name,
			Value: value,
			Path:  "/",
		}})
	}
}
