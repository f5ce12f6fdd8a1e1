package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"booklisting/internal/models"
)

// mockTransport records the last request and returns a configurable status.
type mockTransport struct {
	mu         sync.Mutex
	status     int
	lastURL    string
	lastMethod string
	reqCount   int
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.lastURL = req.URL.String()
	m.lastMethod = req.Method
	m.reqCount++
	m.mu.Unlock()
	return &http.Response{
		StatusCode: m.status,
		Body:       http.NoBody,
		Header:     make(http.Header),
	}, nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queries.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	validPath := filepath.Join(dir, "valid.json")
	if err := os.WriteFile(validPath, []byte(`{"queries":["harry potter","dune"]}`), 0644); err != nil {
		t.Fatal(err)
	}

	emptyPath := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(emptyPath, []byte(`{"queries":[]}`), 0644); err != nil {
		t.Fatal(err)
	}

	badJSONPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badJSONPath, []byte(`{not json`), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
		queries int
	}{
		{"valid", validPath, false, 2},
		{"missing", filepath.Join(dir, "missing.json"), true, 0},
		{"empty queries", emptyPath, true, 0},
		{"invalid json", badJSONPath, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(cfg.Queries) != tt.queries {
				t.Errorf("len(Queries) = %d, want %d", len(cfg.Queries), tt.queries)
			}
			if tt.name == "empty queries" && err != errNoQueries {
				t.Errorf("empty queries: err = %v, want errNoQueries", err)
			}
		})
	}
}

func TestSubmitQuery(t *testing.T) {
	transport := &mockTransport{status: http.StatusAccepted}
	client := &http.Client{Transport: transport}
	baseURL, _ := url.Parse("http://api.test")

	_, ok := submitQuery(client, baseURL, 0, "harry potter")
	if !ok {
		t.Fatal("expected accepted submit")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.lastMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", transport.lastMethod)
	}
	parsed, _ := url.Parse(transport.lastURL)
	if parsed.Path != "/search" || parsed.RawQuery != "q=harry+potter" {
		t.Errorf("url = %s, want path=/search query=q=harry+potter", transport.lastURL)
	}
}

func TestSubmitQuery_nonAccepted(t *testing.T) {
	transport := &mockTransport{status: http.StatusBadRequest}
	client := &http.Client{Transport: transport}
	baseURL, _ := url.Parse("http://api.test")
	if _, ok := submitQuery(client, baseURL, 0, ""); ok {
		t.Fatal("expected rejected submit")
	}
}

func TestRun(t *testing.T) {
	configPath := writeConfig(t, `{"queries":["a","b","c"]}`)

	transport := &mockTransport{status: http.StatusAccepted}
	client := &http.Client{Transport: transport}

	got, err := run(configPath, "http://api.test", 0, client)
	if err != nil {
		t.Fatalf("run() err = %v", err)
	}
	if got.accepted != 3 {
		t.Errorf("accepted = %d, want 3", got.accepted)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.reqCount != 3 {
		t.Errorf("request count = %d, want 3", transport.reqCount)
	}
}

func TestRunWaitsForFinalStatus(t *testing.T) {
	pollInterval = time.Millisecond
	var lookups int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/search":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(models.SearchStatus{
				SessionID: "id-" + r.URL.Query().Get("q"),
				Status:    models.StatusQueued,
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/search/"):
			status := models.SearchStatus{SessionID: strings.TrimPrefix(r.URL.Path, "/search/"), Status: models.StatusLoading}
			if atomic.AddInt32(&lookups, 1) > 2 {
				status.Status = models.StatusPopulated
				status.Books = []models.Book{{Title: "Dune"}}
			}
			_ = json.NewEncoder(w).Encode(status)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	configPath := writeConfig(t, `{"queries":["dune"]}`)
	got, err := run(configPath, server.URL, 5*time.Second, server.Client())
	if err != nil {
		t.Fatalf("run() err = %v", err)
	}
	if got.accepted != 1 || got.populated != 1 || got.pending != 0 {
		t.Fatalf("unexpected tally: %+v", *got)
	}
}

func TestAwaitStatusNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	baseURL, _ := url.Parse(server.URL)
	if _, err := awaitStatus(server.Client(), baseURL, "missing", time.Second); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestRun_badConfigPath(t *testing.T) {
	if _, err := run("/nonexistent/config.json", "http://localhost:8080", 0, nil); err == nil {
		t.Fatal("run() expected error for missing config")
	}
}

func TestRun_emptyQueries(t *testing.T) {
	configPath := writeConfig(t, `{"queries":[]}`)
	if _, err := run(configPath, "http://localhost:8080", 0, nil); err != errNoQueries {
		t.Fatalf("run() err = %v, want errNoQueries", err)
	}
}

func TestRun_invalidAPIBase(t *testing.T) {
	configPath := writeConfig(t, `{"queries":["a"]}`)
	if _, err := run(configPath, "://invalid", 0, nil); err == nil {
		t.Fatal("run() expected error for invalid api base")
	}
}
