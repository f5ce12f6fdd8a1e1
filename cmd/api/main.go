package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"booklisting/common"
	"booklisting/internal/gbooks"
	"booklisting/internal/kafka"
	"booklisting/internal/models"
	"booklisting/internal/store"
)

type server struct {
	prod    kafka.JobProducer
	store   store.StatusStore
	baseURL string

	queued   uint64
	rejected uint64
	lookups  uint64
}

func newServer(prod kafka.JobProducer, store store.StatusStore, baseURL string) *server {
	return &server{
		prod:    prod,
		store:   store,
		baseURL: baseURL,
	}
}

func main() {
	if err := common.LoadEnvFile(".env.local"); err != nil {
		log.Printf("failed to load .env.local: %v", err)
	}

	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	topic := common.GetEnv("KAFKA_SEARCH_TOPIC", "booklisting.search.requests")
	redisAddr := common.GetEnv("REDIS_ADDR", "localhost:6379")
	statusTTL := common.ParseDuration(common.GetEnv("STATUS_TTL", "24h"), 24*time.Hour)
	baseURL := common.GetEnv("GOOGLE_BOOKS_URL", gbooks.DefaultBaseURL)
	addr := common.GetEnv("API_ADDR", ":8080")

	prod := kafka.NewProducer(broker, topic)
	defer func() {
		if err := prod.Close(); err != nil {
			log.Printf("failed to close producer: %v", err)
		}
	}()

	statusStore := store.NewRedisStatusStore(redisAddr, "search:status:", statusTTL)
	defer func() {
		if err := statusStore.Close(); err != nil {
			log.Printf("failed to close status store: %v", err)
		}
	}()

	srv := newServer(prod, statusStore, baseURL)

	mux := http.NewServeMux()
	mux.HandleFunc("/search", srv.handleSearch)
	mux.HandleFunc("/search/", srv.handleSearchStatus)
	mux.HandleFunc("/metrics", srv.handleMetrics)

	log.Printf("api listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// handleSearch accepts POST requests to queue a search session.
//
// Method: POST
// Path:   /search?q=...
// Example:
//
//	curl -X POST "http://localhost:8080/search?q=harry+potter"
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		atomic.AddUint64(&s.rejected, 1)
		http.Error(w, "missing q", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	searchURL := gbooks.SearchURL(s.baseURL, query)
	createdAt := time.Now().UTC()
	status := models.SearchStatus{
		SessionID: id,
		Query:     query,
		URL:       searchURL,
		Status:    models.StatusQueued,
		CreatedAt: createdAt,
	}

	job := models.SearchJob{
		SessionID: id,
		Query:     query,
		URL:       searchURL,
		CreatedAt: createdAt,
	}

	if err := job.Validate(); err != nil {
		atomic.AddUint64(&s.rejected, 1)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("search queued session=%s query=%q", id, query)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	// Status goes first so a fast worker never overwrites a later "queued".
	if err := s.store.SetStatus(ctx, status); err != nil {
		http.Error(w, "failed to persist status", http.StatusBadGateway)
		return
	}

	if err := s.prod.WriteJob(ctx, job); err != nil {
		http.Error(w, "failed to enqueue job", http.StatusBadGateway)
		return
	}

	atomic.AddUint64(&s.queued, 1)
	writeJSON(w, status, http.StatusAccepted)
}

// handleSearchStatus returns status and books for a search session.
//
// Method: GET
// Path:   /search/{sessionID}
// Example:
//
//	curl "http://localhost:8080/search/6f1c8a2e-0d7b-4c3a-9f57-2b7f0e1d9a44"
func (s *server) handleSearchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/search/"), "/")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	atomic.AddUint64(&s.lookups, 1)
	status, ok, err := s.store.GetStatus(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "failed to load status", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, status, http.StatusOK)
}

// handleMetrics exposes a minimal Prometheus-compatible endpoint.
//
// Method: GET
// Path:   /metrics
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "booklisting_api_up 1\n")
	_, _ = fmt.Fprintf(w, "booklisting_api_searches_queued_total %d\n", atomic.LoadUint64(&s.queued))
	_, _ = fmt.Fprintf(w, "booklisting_api_searches_rejected_total %d\n", atomic.LoadUint64(&s.rejected))
	_, _ = fmt.Fprintf(w, "booklisting_api_status_lookups_total %d\n", atomic.LoadUint64(&s.lookups))
}

func writeJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
