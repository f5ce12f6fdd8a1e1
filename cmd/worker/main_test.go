package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/segmentio/kafka-go"

	"booklisting/internal/gbooks"
	"booklisting/internal/models"
	"booklisting/internal/queue"
	"booklisting/internal/store"
	"booklisting/mocks"
)

var testConfig = workerConfig{
	DedupeTTL:      time.Hour,
	ConcurrentJobs: 1,
	JobTimeout:     5 * time.Second,
	PublishTimeout: 2 * time.Second,
}

// newTestWorker creates a worker with its commit channel and wait group.
func newTestWorker(
	reader queue.MessageReader,
	dedupe store.Deduper,
	statuses store.StatusStore,
	catalog gbooks.Catalog,
	results, dlq queue.MessageWriter,
	cfg workerConfig,
) (*worker, chan kafka.Message, *sync.WaitGroup) {
	commitCh := make(chan kafka.Message, 10)
	var wg sync.WaitGroup
	w := newWorker(reader, dedupe, statuses, catalog, results, dlq, cfg, commitCh, &wg)
	return w, commitCh, &wg
}

func jobMessage(t *testing.T, job models.SearchJob) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("failed to marshal job: %v", err)
	}
	return kafka.Message{Partition: 0, Offset: 7, Value: payload}
}

func commitOnce(reader queue.MessageReader, commitCh <-chan kafka.Message) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		m := <-commitCh
		_ = reader.CommitMessages(context.Background(), m)
		close(done)
	}()
	return done
}

func TestWorkerConfigDefaults(t *testing.T) {
	cfg := workerConfig{JobTimeout: 10 * time.Second, PublishTimeout: time.Minute}.withDefaults()
	if cfg.ConcurrentJobs != 1 {
		t.Fatalf("expected 1 concurrent job, got %d", cfg.ConcurrentJobs)
	}
	if cfg.PublishTimeout != 10*time.Second {
		t.Fatalf("expected publish timeout capped at job timeout, got %s", cfg.PublishTimeout)
	}

	cfg = workerConfig{}.withDefaults()
	if cfg.JobTimeout != time.Minute || cfg.PublishTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFetchWithRetrySucceedsAfterRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "temporary", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"volumeInfo":{"title":"Dune"}}]}`))
	}))
	defer server.Close()

	cfg := testConfig
	cfg.RetryMax = 2
	w, _, _ := newTestWorker(nil, nil, nil, gbooks.NewFetcher(gbooks.WithClient(server.Client())), nil, nil, cfg)

	body, err := w.fetchWithRetry(context.Background(), server.URL+"?q=dune")
	if err != nil {
		t.Fatalf("expected nil error after retries, got %v", err)
	}
	if !strings.Contains(string(body), "Dune") {
		t.Fatalf("unexpected body: %s", body)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected server called 3 times (initial + 2 retries), got %d", got)
	}
}

func TestFetchWithRetryStopsAfterMax(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig
	cfg.RetryMax = 2
	w, _, _ := newTestWorker(nil, nil, nil, gbooks.NewFetcher(gbooks.WithClient(server.Client())), nil, nil, cfg)

	if _, err := w.fetchWithRetry(context.Background(), server.URL); err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetchWithRetrySkipsClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := testConfig
	cfg.RetryMax = 3
	w, _, _ := newTestWorker(nil, nil, nil, gbooks.NewFetcher(gbooks.WithClient(server.Client())), nil, nil, cfg)

	_, err := w.fetchWithRetry(context.Background(), server.URL)
	var statusErr *gbooks.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestFetchWithMetricsCountsRateLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	catalog := mocks.NewMockCatalog(ctrl)
	catalog.EXPECT().Fetch(gomock.Any(), "https://books.example.test").
		Return(nil, &gbooks.StatusError{StatusCode: http.StatusTooManyRequests, URL: "https://books.example.test"})

	atomic.StoreUint64(&workerRateLimitHitsTotal, 0)
	if _, err := fetchWithMetrics(context.Background(), catalog, "https://books.example.test"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := atomic.LoadUint64(&workerRateLimitHitsTotal); got != 1 {
		t.Fatalf("expected 1 rate limit hit, got %d", got)
	}
}

func TestWorkerProcessMessagePopulated(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	reader := mocks.NewMockMessageReader(ctrl)
	dedupe := mocks.NewMockDeduper(ctrl)
	statuses := mocks.NewMockStatusStore(ctrl)
	catalog := mocks.NewMockCatalog(ctrl)
	results := mocks.NewMockMessageWriter(ctrl)
	dlq := mocks.NewMockMessageWriter(ctrl)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := models.SearchJob{
		SessionID: "session-1",
		Query:     "dune",
		URL:       "https://books.example.test/volumes?q=dune",
		CreatedAt: created,
	}
	books := []models.Book{{Title: "Dune", Author: "Frank Herbert", AuthorState: models.AuthorKnown}}

	dedupe.EXPECT().Claim(gomock.Any(), job.SessionID, time.Hour).Return(true, nil)
	statuses.EXPECT().GetStatus(gomock.Any(), job.SessionID).Return(models.SearchStatus{
		SessionID: job.SessionID,
		Query:     job.Query,
		URL:       job.URL,
		Status:    models.StatusQueued,
		CreatedAt: created,
	}, true, nil)
	var written []models.SearchStatus
	statuses.EXPECT().SetStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, status models.SearchStatus) error {
			written = append(written, status)
			return nil
		}).Times(2)
	catalog.EXPECT().Fetch(gomock.Any(), job.URL).Return([]byte(`{"items":[]}`), nil)
	catalog.EXPECT().Map([]byte(`{"items":[]}`)).Return(models.BooksOutcome(books))

	var result models.SearchResult
	results.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msgs ...kafka.Message) error {
			if len(msgs) != 1 {
				t.Fatalf("expected 1 result message, got %d", len(msgs))
			}
			if string(msgs[0].Key) != job.SessionID {
				t.Fatalf("expected key %s, got %s", job.SessionID, msgs[0].Key)
			}
			if err := json.Unmarshal(msgs[0].Value, &result); err != nil {
				t.Fatalf("failed to decode result: %v", err)
			}
			return nil
		}).Times(1)
	dlq.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Times(0)
	reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).Return(nil)

	w, commitCh, wg := newTestWorker(reader, dedupe, statuses, catalog, results, dlq, testConfig)
	commitDone := commitOnce(reader, commitCh)
	if err := w.dispatchMessage(context.Background(), jobMessage(t, job)); err != nil {
		t.Fatalf("dispatchMessage failed: %v", err)
	}
	wg.Wait()
	<-commitDone

	if len(written) != 2 {
		t.Fatalf("expected loading and final status writes, got %d", len(written))
	}
	if written[0].Status != models.StatusLoading {
		t.Fatalf("expected loading first, got %s", written[0].Status)
	}
	final := written[1]
	if final.Status != models.StatusPopulated || len(final.Books) != 1 || !final.CreatedAt.Equal(created) {
		t.Fatalf("unexpected final status: %+v", final)
	}
	if result.Kind != models.OutcomeBooks || len(result.Books) != 1 || result.Books[0].Title != "Dune" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestWorkerProcessMessageEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	reader := mocks.NewMockMessageReader(ctrl)
	dedupe := mocks.NewMockDeduper(ctrl)
	statuses := mocks.NewMockStatusStore(ctrl)
	catalog := mocks.NewMockCatalog(ctrl)
	results := mocks.NewMockMessageWriter(ctrl)

	job := models.SearchJob{SessionID: "session-empty", Query: "zzzz", URL: "https://books.example.test/volumes?q=zzzz"}

	dedupe.EXPECT().Claim(gomock.Any(), job.SessionID, time.Hour).Return(true, nil)
	statuses.EXPECT().GetStatus(gomock.Any(), job.SessionID).Return(models.SearchStatus{}, false, nil)
	var final models.SearchStatus
	statuses.EXPECT().SetStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, status models.SearchStatus) error {
			final = status
			return nil
		}).Times(2)
	catalog.EXPECT().Fetch(gomock.Any(), job.URL).Return([]byte(`{"totalItems":0}`), nil)
	catalog.EXPECT().Map(gomock.Any()).Return(models.BooksOutcome(nil))

	var result models.SearchResult
	results.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msgs ...kafka.Message) error {
			return json.Unmarshal(msgs[0].Value, &result)
		})
	reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).Return(nil)

	w, commitCh, wg := newTestWorker(reader, dedupe, statuses, catalog, results, nil, testConfig)
	commitDone := commitOnce(reader, commitCh)
	if err := w.dispatchMessage(context.Background(), jobMessage(t, job)); err != nil {
		t.Fatalf("dispatchMessage failed: %v", err)
	}
	wg.Wait()
	<-commitDone

	if final.Status != models.StatusEmpty || final.Query != job.Query {
		t.Fatalf("unexpected final status: %+v", final)
	}
	if result.Kind != models.OutcomeEmpty {
		t.Fatalf("expected empty result, got %s", result.Kind)
	}
}

func TestWorkerProcessMessageDLQOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	reader := mocks.NewMockMessageReader(ctrl)
	dedupe := mocks.NewMockDeduper(ctrl)
	statuses := mocks.NewMockStatusStore(ctrl)
	catalog := mocks.NewMockCatalog(ctrl)
	results := mocks.NewMockMessageWriter(ctrl)
	dlq := mocks.NewMockMessageWriter(ctrl)

	job := models.SearchJob{SessionID: "session-err", Query: "dune", URL: "https://books.example.test/volumes?q=dune"}

	dedupe.EXPECT().Claim(gomock.Any(), job.SessionID, time.Hour).Return(true, nil)
	statuses.EXPECT().GetStatus(gomock.Any(), job.SessionID).Return(models.SearchStatus{}, false, nil)
	var final models.SearchStatus
	statuses.EXPECT().SetStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, status models.SearchStatus) error {
			final = status
			return nil
		}).Times(2)
	catalog.EXPECT().Fetch(gomock.Any(), job.URL).
		Return(nil, &gbooks.StatusError{StatusCode: http.StatusServiceUnavailable, URL: job.URL}).
		Times(2)
	catalog.EXPECT().Map(gomock.Any()).Times(0)
	results.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Times(0)

	var got models.SearchFailure
	dlq.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msgs ...kafka.Message) error {
			if len(msgs) != 1 {
				t.Fatalf("expected 1 DLQ message, got %d", len(msgs))
			}
			return json.Unmarshal(msgs[0].Value, &got)
		}).Times(1)
	reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).Return(nil)

	cfg := testConfig
	cfg.RetryMax = 1
	w, commitCh, wg := newTestWorker(reader, dedupe, statuses, catalog, results, dlq, cfg)
	commitDone := commitOnce(reader, commitCh)
	if err := w.dispatchMessage(context.Background(), jobMessage(t, job)); err != nil {
		t.Fatalf("dispatchMessage failed: %v", err)
	}
	wg.Wait()
	<-commitDone

	if got.SessionID != job.SessionID || got.Failure != models.FailureStatus || got.Error == "" {
		t.Fatalf("unexpected SearchFailure: %+v", got)
	}
	if final.Status != models.StatusFailed || final.Failure != models.FailureStatus {
		t.Fatalf("unexpected final status: %+v", final)
	}
}

func TestWorkerProcessMessageDeduped(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	reader := mocks.NewMockMessageReader(ctrl)
	dedupe := mocks.NewMockDeduper(ctrl)
	catalog := mocks.NewMockCatalog(ctrl)
	results := mocks.NewMockMessageWriter(ctrl)

	job := models.SearchJob{SessionID: "session-dup", Query: "dune", URL: "https://books.example.test/volumes?q=dune"}

	dedupe.EXPECT().Claim(gomock.Any(), job.SessionID, time.Hour).Return(false, nil)
	catalog.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	results.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Times(0)
	reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).Return(nil)

	w, commitCh, _ := newTestWorker(reader, dedupe, nil, catalog, results, nil, testConfig)
	if err := w.dispatchMessage(context.Background(), jobMessage(t, job)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	m := <-commitCh
	_ = reader.CommitMessages(context.Background(), m)
}

func TestWorkerProcessMessageDedupeError(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	dedupe := mocks.NewMockDeduper(ctrl)
	catalog := mocks.NewMockCatalog(ctrl)

	job := models.SearchJob{SessionID: "session-2", Query: "dune", URL: "https://books.example.test/volumes?q=dune"}

	dedupe.EXPECT().Claim(gomock.Any(), job.SessionID, time.Hour).Return(false, errors.New("redis down"))
	catalog.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	w, _, _ := newTestWorker(nil, dedupe, nil, catalog, nil, nil, testConfig)
	if err := w.dispatchMessage(context.Background(), jobMessage(t, job)); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestWorkerProcessMessageInvalidPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	reader := mocks.NewMockMessageReader(ctrl)
	dedupe := mocks.NewMockDeduper(ctrl)

	reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	dedupe.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	w, commitCh, _ := newTestWorker(reader, dedupe, nil, nil, nil, nil, testConfig)
	for _, value := range []string{"{invalid", `{"session_id":"s","query":"dune"}`} {
		if err := w.dispatchMessage(context.Background(), kafka.Message{Value: []byte(value)}); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		m := <-commitCh
		_ = reader.CommitMessages(context.Background(), m)
	}
}

// A publish that hangs past PublishTimeout must still release the message for commit.
func TestPublishTimeoutAdvancesCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	reader := mocks.NewMockMessageReader(ctrl)
	dedupe := mocks.NewMockDeduper(ctrl)
	catalog := mocks.NewMockCatalog(ctrl)
	results := mocks.NewMockMessageWriter(ctrl)

	job := models.SearchJob{SessionID: "session-pub-timeout", Query: "dune", URL: "https://books.example.test/volumes?q=dune"}

	dedupe.EXPECT().Claim(gomock.Any(), job.SessionID, time.Hour).Return(true, nil)
	catalog.EXPECT().Fetch(gomock.Any(), job.URL).Return([]byte(`{}`), nil)
	catalog.EXPECT().Map(gomock.Any()).Return(models.BooksOutcome([]models.Book{{Title: "Dune"}}))
	results.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ ...kafka.Message) error {
			<-ctx.Done()
			return ctx.Err()
		}).Times(1)
	reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).Return(nil)

	cfg := testConfig
	cfg.PublishTimeout = 50 * time.Millisecond
	w, commitCh, wg := newTestWorker(reader, dedupe, nil, catalog, results, nil, cfg)
	commitDone := commitOnce(reader, commitCh)

	if err := w.dispatchMessage(context.Background(), jobMessage(t, job)); err != nil {
		t.Fatalf("dispatchMessage: %v", err)
	}

	select {
	case <-commitDone:
	case <-time.After(time.Second):
		t.Fatal("commit not reached after publish timeout; partition would be stuck")
	}
	wg.Wait()
}

func TestShutdownDuringSearchReleasesClaim(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	dedupe := mocks.NewMockDeduper(ctrl)
	catalog := mocks.NewMockCatalog(ctrl)
	results := mocks.NewMockMessageWriter(ctrl)
	dlq := mocks.NewMockMessageWriter(ctrl)

	job := models.SearchJob{SessionID: "session-shutdown", Query: "dune", URL: "https://books.example.test/volumes?q=dune"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dedupe.EXPECT().Claim(gomock.Any(), job.SessionID, time.Hour).Return(true, nil)
	catalog.EXPECT().Fetch(gomock.Any(), job.URL).DoAndReturn(
		func(fetchCtx context.Context, _ string) ([]byte, error) {
			cancel()
			<-fetchCtx.Done()
			return nil, fetchCtx.Err()
		})
	catalog.EXPECT().Map(gomock.Any()).Times(0)
	results.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Times(0)
	dlq.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Times(0)
	released := make(chan struct{})
	dedupe.EXPECT().Release(gomock.Any(), job.SessionID).DoAndReturn(
		func(releaseCtx context.Context, _ string) error {
			if releaseCtx.Err() != nil {
				t.Errorf("release ran on a cancelled context")
			}
			close(released)
			return nil
		})

	before := atomic.LoadUint64(&workerSearchesFailed)
	w, commitCh, wg := newTestWorker(nil, dedupe, nil, catalog, results, dlq, testConfig)
	if err := w.dispatchMessage(ctx, jobMessage(t, job)); err != nil {
		t.Fatalf("dispatchMessage: %v", err)
	}
	wg.Wait()
	<-released

	select {
	case m := <-commitCh:
		t.Fatalf("interrupted job must not be committed, got offset %d", m.Offset)
	default:
	}
	if got := atomic.LoadUint64(&workerSearchesFailed); got != before {
		t.Fatalf("interrupted job counted as failed search")
	}
}

func TestShutdownWhileWaitingForSlotReleasesClaim(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	dedupe := mocks.NewMockDeduper(ctrl)
	catalog := mocks.NewMockCatalog(ctrl)

	job := models.SearchJob{SessionID: "session-no-slot", Query: "dune", URL: "https://books.example.test/volumes?q=dune"}
	dedupe.EXPECT().Claim(gomock.Any(), job.SessionID, time.Hour).Return(true, nil)
	dedupe.EXPECT().Release(gomock.Any(), job.SessionID).Return(nil)
	catalog.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	w, commitCh, _ := newTestWorker(nil, dedupe, nil, catalog, nil, nil, testConfig)
	w.sem <- struct{}{} // the only slot is busy

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.dispatchMessage(ctx, jobMessage(t, job)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(commitCh) != 0 {
		t.Fatalf("expected no commit, got %d queued", len(commitCh))
	}
}

func TestCommitCoordinatorCommitsInOffsetOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	reader := mocks.NewMockMessageReader(ctrl)
	commitCh := make(chan kafka.Message, 3)
	coordinator := newCommitCoordinator(reader, commitCh)

	msg5 := kafka.Message{Partition: 0, Offset: 5, Value: []byte("a")}
	msg6 := kafka.Message{Partition: 0, Offset: 6, Value: []byte("b")}
	msg7 := kafka.Message{Partition: 0, Offset: 7, Value: []byte("c")}

	gomock.InOrder(
		reader.EXPECT().CommitMessages(gomock.Any(), msg5).Return(nil),
		reader.EXPECT().CommitMessages(gomock.Any(), msg6).Return(nil),
		reader.EXPECT().CommitMessages(gomock.Any(), msg7).Return(nil),
	)

	// 5 arrives first and fixes the start; 7 then waits for 6.
	commitCh <- msg5
	commitCh <- msg7
	commitCh <- msg6
	close(commitCh)

	var wg sync.WaitGroup
	wg.Add(1)
	coordinator.run(context.Background(), &wg)
	wg.Wait()
}

func TestCommitCoordinatorRequeuesOnCommitFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	reader := mocks.NewMockMessageReader(ctrl)
	commitCh := make(chan kafka.Message, 2)
	coordinator := newCommitCoordinator(reader, commitCh)

	atomic.StoreUint64(&workerCommitErrorsTotal, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go coordinator.run(ctx, &wg)

	msg0 := kafka.Message{Partition: 0, Offset: 0, Value: []byte("a")}
	msg1 := kafka.Message{Partition: 0, Offset: 1, Value: []byte("b")}

	gomock.InOrder(
		reader.EXPECT().CommitMessages(gomock.Any(), msg0).Return(errors.New("commit failed")),
		reader.EXPECT().CommitMessages(gomock.Any(), msg0).Return(nil),
		reader.EXPECT().CommitMessages(gomock.Any(), msg1).Return(nil),
	)

	commitCh <- msg0
	time.Sleep(50 * time.Millisecond)
	commitCh <- msg1
	time.Sleep(100 * time.Millisecond)
	close(commitCh)
	wg.Wait()

	if got := atomic.LoadUint64(&workerCommitErrorsTotal); got != 1 {
		t.Fatalf("expected 1 commit error, got %d", got)
	}
}

func TestHandleMetricsMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	rec := httptest.NewRecorder()

	handleMetrics(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestHandleMetricsOK(t *testing.T) {
	atomic.StoreUint64(&workerJobsReceived, 4)
	atomic.StoreUint64(&workerJobsSkipped, 1)
	atomic.StoreUint64(&workerSearchesPopulated, 0)
	fetchLatency.reset()
	recordOutcome(models.BooksOutcome([]models.Book{{Title: "Dune"}}))
	fetchLatency.observe(120 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	handleMetrics(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	body := rec.Body.String()
	for _, line := range []string{
		"booklisting_worker_up 1",
		"booklisting_worker_jobs_received_total 4",
		"booklisting_worker_jobs_skipped_total 1",
		`booklisting_worker_searches_total{outcome="populated"} 1`,
		"# TYPE booklisting_worker_fetch_latency_seconds histogram",
		`booklisting_worker_fetch_latency_seconds_bucket{le="0.10"} 0`,
		`booklisting_worker_fetch_latency_seconds_bucket{le="0.25"} 1`,
		"booklisting_worker_fetch_latency_seconds_count 1",
		"booklisting_worker_commit_errors_total",
		"booklisting_worker_in_flight",
		"# TYPE booklisting_worker_commit_latency_seconds histogram",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metrics to contain %q", line)
		}
	}
}
