package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"booklisting/internal/gbooks"
	"booklisting/internal/models"
)

// histogram is a fixed-bucket Prometheus histogram updated with atomics.
// counts has one slot per bound plus the +Inf slot.
type histogram struct {
	name   string
	help   string
	bounds []float64
	leFmt  string
	counts []uint64
	sumNs  uint64
	count  uint64
}

func newHistogram(name, help, leFmt string, bounds ...float64) *histogram {
	return &histogram{
		name:   name,
		help:   help,
		bounds: bounds,
		leFmt:  leFmt,
		counts: make([]uint64, len(bounds)+1),
	}
}

func (h *histogram) observe(d time.Duration) {
	if d <= 0 {
		return
	}
	seconds := d.Seconds()
	idx := len(h.bounds)
	for i, bound := range h.bounds {
		if seconds <= bound {
			idx = i
			break
		}
	}
	atomic.AddUint64(&h.counts[idx], 1)
	atomic.AddUint64(&h.sumNs, uint64(d.Nanoseconds()))
	atomic.AddUint64(&h.count, 1)
}

func (h *histogram) reset() {
	for i := range h.counts {
		atomic.StoreUint64(&h.counts[i], 0)
	}
	atomic.StoreUint64(&h.sumNs, 0)
	atomic.StoreUint64(&h.count, 0)
}

func (h *histogram) writeTo(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(sb, "# TYPE %s histogram\n", h.name)
	var cumulative uint64
	for i, bound := range h.bounds {
		cumulative += atomic.LoadUint64(&h.counts[i])
		fmt.Fprintf(sb, "%s_bucket{le=\"%s\"} %d\n", h.name, fmt.Sprintf(h.leFmt, bound), cumulative)
	}
	cumulative += atomic.LoadUint64(&h.counts[len(h.bounds)])
	fmt.Fprintf(sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, cumulative)
	fmt.Fprintf(sb, "%s_sum %.6f\n", h.name, float64(atomic.LoadUint64(&h.sumNs))/float64(time.Second))
	fmt.Fprintf(sb, "%s_count %d\n", h.name, atomic.LoadUint64(&h.count))
}

var (
	// received: jobs pulled from Kafka; skipped: deduped by session;
	// interrupted: cut short by shutdown and left for redelivery.
	workerJobsReceived    uint64
	workerJobsSkipped     uint64
	workerJobsInterrupted uint64

	// One increment per finished search, by outcome.
	workerSearchesPopulated uint64
	workerSearchesEmpty     uint64
	workerSearchesFailed    uint64

	// Catalog HTTP 429 responses.
	workerRateLimitHitsTotal uint64

	workerCommitErrorsTotal  uint64
	workerCommitPendingTotal int64 // gauge: completed messages waiting on an earlier offset
	workerInFlight           int64 // gauge: semaphore slots in use

	fetchLatency = newHistogram("booklisting_worker_fetch_latency_seconds",
		"Google Books fetch latency.", "%.2f", 0.05, 0.1, 0.25, 0.5, 1, 2, 5)
	commitLatency = newHistogram("booklisting_worker_commit_latency_seconds",
		"Kafka commit latency.", "%.3f", 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1)
)

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", handleMetrics)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics shutdown error: %v", err)
		}
	}()

	go func() {
		log.Printf("metrics listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder
	sb.WriteString("booklisting_worker_up 1\n")
	fmt.Fprintf(&sb, "booklisting_worker_jobs_received_total %d\n", atomic.LoadUint64(&workerJobsReceived))
	fmt.Fprintf(&sb, "booklisting_worker_jobs_skipped_total %d\n", atomic.LoadUint64(&workerJobsSkipped))
	fmt.Fprintf(&sb, "booklisting_worker_jobs_interrupted_total %d\n", atomic.LoadUint64(&workerJobsInterrupted))
	sb.WriteString("# TYPE booklisting_worker_searches_total counter\n")
	fmt.Fprintf(&sb, "booklisting_worker_searches_total{outcome=\"populated\"} %d\n", atomic.LoadUint64(&workerSearchesPopulated))
	fmt.Fprintf(&sb, "booklisting_worker_searches_total{outcome=\"empty\"} %d\n", atomic.LoadUint64(&workerSearchesEmpty))
	fmt.Fprintf(&sb, "booklisting_worker_searches_total{outcome=\"failed\"} %d\n", atomic.LoadUint64(&workerSearchesFailed))
	sb.WriteString("# HELP booklisting_worker_rate_limit_hits_total Google Books HTTP 429 responses.\n")
	sb.WriteString("# TYPE booklisting_worker_rate_limit_hits_total counter\n")
	fmt.Fprintf(&sb, "booklisting_worker_rate_limit_hits_total %d\n", atomic.LoadUint64(&workerRateLimitHitsTotal))
	fmt.Fprintf(&sb, "booklisting_worker_commit_errors_total %d\n", atomic.LoadUint64(&workerCommitErrorsTotal))
	fmt.Fprintf(&sb, "booklisting_worker_commit_pending_total %d\n", atomic.LoadInt64(&workerCommitPendingTotal))
	fmt.Fprintf(&sb, "booklisting_worker_in_flight %d\n", atomic.LoadInt64(&workerInFlight))
	fetchLatency.writeTo(&sb)
	commitLatency.writeTo(&sb)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// fetchWithMetrics times one catalog fetch and counts 429s.
func fetchWithMetrics(ctx context.Context, catalog gbooks.Catalog, rawURL string) ([]byte, error) {
	start := time.Now()
	body, err := catalog.Fetch(ctx, rawURL)
	fetchLatency.observe(time.Since(start))
	var statusErr *gbooks.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		atomic.AddUint64(&workerRateLimitHitsTotal, 1)
	}
	return body, err
}

func recordOutcome(out models.SearchOutcome) {
	switch out.Kind {
	case models.OutcomeBooks:
		atomic.AddUint64(&workerSearchesPopulated, 1)
	case models.OutcomeEmpty:
		atomic.AddUint64(&workerSearchesEmpty, 1)
	default:
		atomic.AddUint64(&workerSearchesFailed, 1)
	}
}
