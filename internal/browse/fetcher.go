// Package browse fetches pages over HTTP under hard byte and time caps and
// turns the HTML into structured content: text, title, meta description,
// links, and tables.
package browse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/dativo-io/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/dativo-io/warden/internal/browse")

const (
	// DefaultTimeout bounds a single fetch end to end. There are no retries.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxBytes caps how much of a response body is read.
	DefaultMaxBytes = 500 * 1024

	userAgent = "warden/1.0 (+https://github.com/dativo-io/warden)"
)

// FetchError wraps transport-level failures (DNS, TLS, timeout, connection
// refused). The HTTP layer maps it to 502. A non-2xx status from the remote
// is NOT a FetchError; it comes back as a Page with the status recorded.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves pages with a bounded client.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxLinks int
	breaker  *CircuitBreaker
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithMaxBytes caps the response body read.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithMaxLinks caps how many links are collected from a parsed page.
func WithMaxLinks(n int) FetcherOption {
	return func(f *Fetcher) { f.maxLinks = n }
}

// WithHTTPClient replaces the underlying client (tests).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithCircuitBreaker guards fetches with a per-host breaker: a host that keeps
// failing at the transport level is refused without network I/O until it
// recovers.
func WithCircuitBreaker(cb *CircuitBreaker) FetcherOption {
	return func(f *Fetcher) { f.breaker = cb }
}

// NewFetcher creates a fetcher with the default caps.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: DefaultTimeout},
		maxBytes: DefaultMaxBytes,
		maxLinks: DefaultMaxLinks,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves url and parses the body into a Page. The body read is
// truncated at the byte cap; Page.Truncated records whether that happened.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	ctx, span := tracer.Start(ctx, "browse.fetch",
		trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	host := req.URL.Hostname()
	if f.breaker != nil {
		if err := f.breaker.Check(host); err != nil {
			span.RecordError(err)
			return nil, &FetchError{URL: url, Err: err}
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		span.RecordError(err)
		if f.breaker != nil {
			f.breaker.RecordFailure(host)
		}
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if f.breaker != nil {
		f.breaker.RecordSuccess(host)
	}

	// Read one byte past the cap so truncation is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		span.RecordError(err)
		return nil, &FetchError{URL: url, Err: err}
	}
	truncated := int64(len(body)) > f.maxBytes
	if truncated {
		body = body[:f.maxBytes]
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	page := ParsePage(finalURL, body, f.maxLinks)
	page.StatusCode = resp.StatusCode
	page.ContentType = resp.Header.Get("Content-Type")
	page.Truncated = truncated
	page.FetchedIn = time.Since(start)

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("body_bytes", len(body)),
		attribute.Bool("truncated", truncated),
	)
	return page, nil
}
