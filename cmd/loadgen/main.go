package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"booklisting/internal/models"
)

// Config holds the queries to submit to the API.
type Config struct {
	Queries []string `json:"queries"`
}

// tally counts how submitted searches ended up.
type tally struct {
	accepted  int64
	rejected  int64
	populated int64
	empty     int64
	failed    int64
	pending   int64
}

func (t *tally) record(status string) {
	switch status {
	case models.StatusPopulated:
		atomic.AddInt64(&t.populated, 1)
	case models.StatusEmpty:
		atomic.AddInt64(&t.empty, 1)
	case models.StatusFailed:
		atomic.AddInt64(&t.failed, 1)
	default:
		atomic.AddInt64(&t.pending, 1)
	}
}

// pollInterval is the pause between status lookups while waiting.
var pollInterval = 500 * time.Millisecond

func main() {
	configPath := flag.String("config", "queries.json", "Path to JSON config file with queries")
	apiBase := flag.String("api", "http://localhost:8080", "API base URL")
	wait := flag.Duration("wait", 0, "How long to poll each session for a final status (0 = submit only)")
	flag.Parse()

	if _, err := run(*configPath, *apiBase, *wait, nil); err != nil {
		log.Fatal(err)
	}
}

// run loads config from configPath and submits every query to the API
// concurrently. With wait > 0 each session is polled until it settles.
// If client is nil, a default HTTP client (30s timeout) is used.
func run(configPath, apiBase string, wait time.Duration, client *http.Client) (*tally, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(apiBase)
	if err != nil {
		return nil, err
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	t := &tally{}
	var wg sync.WaitGroup
	for i, query := range cfg.Queries {
		wg.Add(1)
		go func(idx int, q string) {
			defer wg.Done()
			id, ok := submitQuery(client, baseURL, idx, q)
			if !ok {
				atomic.AddInt64(&t.rejected, 1)
				return
			}
			atomic.AddInt64(&t.accepted, 1)
			if wait <= 0 {
				return
			}
			status, err := awaitStatus(client, baseURL, id, wait)
			if err != nil {
				log.Printf("[%d] session=%s err=%v", idx, id, err)
			}
			log.Printf("[%d] session=%s status=%s books=%d", idx, id, status.Status, len(status.Books))
			t.record(status.Status)
		}(i, query)
	}
	wg.Wait()
	log.Printf("submitted %d queries accepted=%d rejected=%d populated=%d empty=%d failed=%d pending=%d",
		len(cfg.Queries), t.accepted, t.rejected, t.populated, t.empty, t.failed, t.pending)
	return t, nil
}

// loadConfig reads and parses the JSON config file.
func loadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if len(cfg.Queries) == 0 {
		return cfg, errNoQueries
	}
	return cfg, nil
}

var errNoQueries = errors.New("config has no queries")

// submitQuery posts one search and returns its session id.
func submitQuery(client *http.Client, base *url.URL, idx int, query string) (string, bool) {
	u := *base
	u.Path = "/search"
	u.RawQuery = url.Values{"q": {query}}.Encode()

	resp, err := client.Post(u.String(), "", nil)
	if err != nil {
		log.Printf("[%d] query=%q err=%v", idx, query, err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		log.Printf("[%d] query=%q status=%d", idx, query, resp.StatusCode)
		return "", false
	}

	var status models.SearchStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		log.Printf("[%d] query=%q accepted, unreadable body: %v", idx, query, err)
		return "", true
	}
	log.Printf("[%d] query=%q accepted session=%s", idx, query, status.SessionID)
	return status.SessionID, true
}

// awaitStatus polls GET /search/{id} until the session leaves queued/loading
// or wait runs out. The last status seen is returned either way.
func awaitStatus(client *http.Client, base *url.URL, sessionID string, wait time.Duration) (models.SearchStatus, error) {
	var last models.SearchStatus
	if sessionID == "" {
		return last, errors.New("no session id to poll")
	}
	u := *base
	u.Path = "/search/" + url.PathEscape(sessionID)

	deadline := time.Now().Add(wait)
	for {
		status, err := fetchStatus(client, u.String())
		if err != nil {
			return last, err
		}
		last = status
		if status.Status != models.StatusQueued && status.Status != models.StatusLoading {
			return last, nil
		}
		if time.Now().After(deadline) {
			return last, fmt.Errorf("still %s after %s", status.Status, wait)
		}
		time.Sleep(pollInterval)
	}
}

func fetchStatus(client *http.Client, rawURL string) (models.SearchStatus, error) {
	var status models.SearchStatus
	resp, err := client.Get(rawURL)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("status lookup returned %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	return status, err
}
