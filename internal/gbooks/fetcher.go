package gbooks

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"booklisting/internal/models"
)

// Catalog is the fetch and map halves of the pipeline, split so callers can
// retry the fetch on their own terms.
type Catalog interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	Map(body []byte) models.SearchOutcome
}

// Fetcher runs the search pipeline: URL build, one GET, parse.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	buildURL func(base, query string) string
	delay    time.Duration
	limiter  *rate.Limiter
	logger   *log.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient overrides the HTTP client (tests, proxies).
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithBaseURL points the fetcher at another volumes endpoint.
func WithBaseURL(base string) Option {
	return func(f *Fetcher) { f.baseURL = base }
}

// WithLegacyURLs builds request URLs with LegacySearchURL, which only turns
// spaces into "+".
func WithLegacyURLs() Option {
	return func(f *Fetcher) { f.buildURL = LegacySearchURL }
}

// WithDelay adds a fixed wait before every request to simulate a slow network.
func WithDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.delay = d }
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables the limit.
func WithRateLimit(rps int) Option {
	return func(f *Fetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		f.limiter = rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), 1)
	}
}

// WithLogger sets the destination for failure logs.
func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// NewFetcher builds a Fetcher with the catalog defaults.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   NewHTTPClient(),
		baseURL:  DefaultBaseURL,
		buildURL: SearchURL,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.New(io.Discard, "", 0)
	}
	return f
}

// URL returns the request URL for a query.
func (f *Fetcher) URL(query string) string {
	return f.buildURL(f.baseURL, query)
}

// Search runs the pipeline for query. It never returns a Go error: failures
// are logged and reported as an OutcomeFailed.
func (f *Fetcher) Search(ctx context.Context, query string) models.SearchOutcome {
	return f.SearchAt(ctx, f.URL(query))
}

// SearchAt runs the pipeline against a prebuilt request URL.
func (f *Fetcher) SearchAt(ctx context.Context, rawURL string) models.SearchOutcome {
	body, err := f.Fetch(ctx, rawURL)
	if err != nil {
		kind := Classify(err)
		f.logger.Printf("catalog fetch failed url=%s kind=%s: %v", rawURL, kind, err)
		return models.FailedOutcome(kind, err)
	}
	return f.Map(body)
}

// Fetch waits out the configured delay and limiter and performs the GET.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if f.delay > 0 {
		timer := time.NewTimer(f.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return FetchJSONWithClient(ctx, f.client, rawURL)
}

// Map parses a response body into an outcome, logging skipped items.
func (f *Fetcher) Map(body []byte) models.SearchOutcome {
	list, err := ParseVolumes(body)
	if err != nil {
		f.logger.Printf("problem parsing the book JSON results: %v", err)
		return models.FailedOutcome(models.FailureParse, err)
	}
	for _, skipped := range list.Skipped {
		f.logger.Printf("skipping malformed volume: %v", skipped)
	}
	return models.BooksOutcome(list.Books)
}
