package gbooks

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultBaseURL is the Google Books volumes endpoint.
const DefaultBaseURL = "https://www.googleapis.com/books/v1/volumes"

// DefaultUserAgent is sent with every catalog request.
const DefaultUserAgent = "booklisting/1.0 (+https://github.com/booklisting)"

// Catalog HTTP budget: connect, then time to first byte and body read.
const (
	ConnectTimeout = 15 * time.Second
	ReadTimeout    = 10 * time.Second
)

// bodyReadTimeout is the longest the body may go without delivering a byte.
var bodyReadTimeout = ReadTimeout

// SearchURL builds a volumes query URL. Spaces become "+" and other reserved
// characters are percent-escaped. An empty base falls back to DefaultBaseURL.
func SearchURL(base, query string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "?q=" + url.QueryEscape(query)
}

// LegacySearchURL only replaces spaces with "+" and passes every other
// character through unescaped.
func LegacySearchURL(base, query string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "?q=" + strings.ReplaceAll(query, " ", "+")
}

// NewHTTPClient returns a client with the catalog connect and read timeouts.
// ResponseHeaderTimeout bounds the wait for the first byte; FetchJSONWithClient
// applies the same window between body reads. Timeout caps the whole exchange.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   ConnectTimeout,
		ResponseHeaderTimeout: ReadTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   ConnectTimeout + ReadTimeout,
	}
}

// FetchJSONWithClient performs a single GET and returns the body of a 200 response.
// Non-200 responses yield a *StatusError; transport and read failures wrap ErrTransport.
// A body that stalls for longer than the read timeout aborts the request.
func FetchJSONWithClient(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body := newIdleReader(resp.Body, bodyReadTimeout, cancel)
	defer body.stop()
	data, err := io.ReadAll(body)
	if err != nil {
		if body.expired() {
			return nil, fmt.Errorf("%w: read body: no data for %s", ErrTransport, bodyReadTimeout)
		}
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	return data, nil
}

// idleReader cancels the request when no bytes arrive within timeout.
// Every successful read restarts the window.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && !ir.fired.Load() {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) expired() bool {
	return ir.fired.Load()
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}
