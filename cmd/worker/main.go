package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"booklisting/common"
	"booklisting/internal/gbooks"
	bkafka "booklisting/internal/kafka"
	"booklisting/internal/models"
	"booklisting/internal/queue"
	"booklisting/internal/store"
)

// workerConfig holds the tunables read from the environment.
type workerConfig struct {
	DedupeTTL      time.Duration
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	ConcurrentJobs int
	JobTimeout     time.Duration // per-job deadline so one stuck search can't hold a slot forever
	PublishTimeout time.Duration // bound on the Kafka publish phase so the commit path never blocks
}

func (c workerConfig) withDefaults() workerConfig {
	if c.ConcurrentJobs < 1 {
		c.ConcurrentJobs = 1
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = time.Minute
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.PublishTimeout > c.JobTimeout {
		c.PublishTimeout = c.JobTimeout
	}
	return c
}

type worker struct {
	reader   queue.MessageReader
	dedupe   store.Deduper
	statuses store.StatusStore
	catalog  gbooks.Catalog
	results  queue.MessageWriter
	dlq      queue.MessageWriter
	cfg      workerConfig
	commitCh chan<- kafka.Message
	sem      chan struct{}
	wg       *sync.WaitGroup
}

func newWorker(
	reader queue.MessageReader,
	dedupe store.Deduper,
	statuses store.StatusStore,
	catalog gbooks.Catalog,
	results queue.MessageWriter,
	dlq queue.MessageWriter,
	cfg workerConfig,
	commitCh chan<- kafka.Message,
	wg *sync.WaitGroup,
) *worker {
	cfg = cfg.withDefaults()
	return &worker{
		reader:   reader,
		dedupe:   dedupe,
		statuses: statuses,
		catalog:  catalog,
		results:  results,
		dlq:      dlq,
		cfg:      cfg,
		commitCh: commitCh,
		sem:      make(chan struct{}, cfg.ConcurrentJobs),
		wg:       wg,
	}
}

func main() {
	if err := common.LoadEnvFile(".env.local"); err != nil {
		log.Printf("failed to load .env.local: %v", err)
	}

	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	searchTopic := common.GetEnv("KAFKA_SEARCH_TOPIC", "booklisting.search.requests")
	resultsTopic := common.GetEnv("KAFKA_RESULTS_TOPIC", "booklisting.search.results")
	dlqTopic := common.GetEnv("KAFKA_DLQ_TOPIC", "booklisting.search.dlq")
	groupID := common.GetEnv("KAFKA_GROUP_ID", "booklisting-worker")
	redisAddr := common.GetEnv("REDIS_ADDR", "localhost:6379")
	statusTTL := common.ParseDuration(common.GetEnv("STATUS_TTL", "24h"), 24*time.Hour)
	latency := common.ParseDuration(common.GetEnv("SIMULATED_LATENCY", "0s"), 0)
	catalogRPS := common.ParseInt(common.GetEnv("CATALOG_RPS", "5"), 5)
	metricsAddr := common.GetEnv("METRICS_ADDR", ":9090")
	cfg := workerConfig{
		DedupeTTL:      common.ParseDuration(common.GetEnv("DEDUPE_TTL", "24h"), 24*time.Hour),
		RetryMax:       common.ParseInt(common.GetEnv("RETRY_MAX", "3"), 3),
		RetryBase:      common.ParseDuration(common.GetEnv("RETRY_BASE_DELAY", "200ms"), 200*time.Millisecond),
		RetryMaxDelay:  common.ParseDuration(common.GetEnv("RETRY_MAX_DELAY", "2s"), 2*time.Second),
		ConcurrentJobs: common.ParseInt(common.GetEnv("CONCURRENT_JOBS", "5"), 5),
		JobTimeout:     common.ParseDuration(common.GetEnv("JOB_TIMEOUT", "1m"), time.Minute),
		PublishTimeout: common.ParseDuration(common.GetEnv("PUBLISH_TIMEOUT", "30s"), 30*time.Second),
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   searchTopic,
		GroupID: groupID,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			log.Printf("failed to close reader: %v", err)
		}
	}()

	// Dedupe claims and status records share one connection pool.
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("failed to close redis client: %v", err)
		}
	}()
	deduper := store.NewRedisDeduperWithClient(redisClient, "search:seen:")
	statusStore := store.NewRedisStatusStoreWithClient(redisClient, "search:status:", statusTTL)

	resultsWriter := bkafka.NewWriter(broker, resultsTopic)
	defer func() {
		if err := resultsWriter.Close(); err != nil {
			log.Printf("failed to close results writer: %v", err)
		}
	}()

	dlqWriter := bkafka.NewWriter(broker, dlqTopic)
	defer func() {
		if err := dlqWriter.Close(); err != nil {
			log.Printf("failed to close dlq writer: %v", err)
		}
	}()

	fetcher := gbooks.NewFetcher(
		gbooks.WithDelay(latency),
		gbooks.WithRateLimit(catalogRPS),
		gbooks.WithLogger(log.Default()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	commitCh := make(chan kafka.Message, cfg.ConcurrentJobs*2)
	coordinator := newCommitCoordinator(reader, commitCh)
	var coordWg sync.WaitGroup
	coordWg.Add(1)
	go coordinator.run(ctx, &coordWg)

	var wg sync.WaitGroup
	log.Printf("worker consuming topic=%s group=%s broker=%s concurrent_jobs=%d", searchTopic, groupID, broker, cfg.ConcurrentJobs)
	w := newWorker(reader, deduper, statusStore, fetcher, resultsWriter, dlqWriter, cfg, commitCh, &wg)
	w.run(ctx)
	wg.Wait()
	close(commitCh)
	coordWg.Wait()
}

// run fetches search jobs and hands them to dispatchMessage until ctx is done.
func (w *worker) run(ctx context.Context) {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("fetch error: %v", err)
			time.Sleep(queue.FetchBackoff)
			continue
		}

		if err := w.dispatchMessage(ctx, msg); err != nil {
			log.Printf("message dispatch error: %v", err)
		}
	}
}

// dispatchMessage decodes and dedupes synchronously, then runs the search on a
// slot from the semaphore.
func (w *worker) dispatchMessage(ctx context.Context, msg kafka.Message) error {
	var job models.SearchJob
	err := json.Unmarshal(msg.Value, &job)
	if err == nil {
		err = job.Validate()
	}
	if err != nil {
		log.Printf("invalid job payload partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)
		w.commitCh <- msg
		return nil
	}

	atomic.AddUint64(&workerJobsReceived, 1)
	first, err := w.dedupe.Claim(ctx, job.SessionID, w.cfg.DedupeTTL)
	if err != nil {
		return err
	}
	if !first {
		atomic.AddUint64(&workerJobsSkipped, 1)
		log.Printf("duplicate job skipped session=%s", job.SessionID)
		w.commitCh <- msg
		return nil
	}

	select {
	case <-ctx.Done():
		w.releaseClaim(job.SessionID)
		return ctx.Err()
	case w.sem <- struct{}{}:
	}
	atomic.AddInt64(&workerInFlight, 1)
	w.wg.Add(1)
	go w.processJobAsync(ctx, msg, job)
	return nil
}

// processJobAsync runs one search end to end. The deferred send to commitCh
// advances the partition even when the job times out. A job cut short by
// shutdown is not committed and its claim is released, so the redelivered
// message runs again.
func (w *worker) processJobAsync(ctx context.Context, msg kafka.Message, job models.SearchJob) {
	commit := true
	defer func() {
		atomic.AddInt64(&workerInFlight, -1)
		<-w.sem
		w.wg.Done()
		if commit {
			w.commitCh <- msg
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	log.Printf("received job session=%s query=%q partition=%d offset=%d", job.SessionID, job.Query, msg.Partition, msg.Offset)
	status := w.markLoading(jobCtx, job)

	out := w.search(jobCtx, job)
	if ctx.Err() != nil {
		commit = false
		atomic.AddUint64(&workerJobsInterrupted, 1)
		log.Printf("job interrupted by shutdown session=%s partition=%d offset=%d", job.SessionID, msg.Partition, msg.Offset)
		w.releaseClaim(job.SessionID)
		return
	}
	recordOutcome(out)

	if w.statuses != nil {
		if err := w.statuses.SetStatus(jobCtx, status.Apply(out, time.Now().UTC())); err != nil {
			log.Printf("status update error session=%s: %v", job.SessionID, err)
		}
	}

	publishCtx, publishCancel := context.WithTimeout(jobCtx, w.cfg.PublishTimeout)
	defer publishCancel()

	var err error
	if out.Failed() {
		err = w.publishDLQ(publishCtx, job, out)
	} else {
		err = w.publishResult(publishCtx, job, out)
	}
	if err != nil {
		log.Printf("publish error session=%s: %v", job.SessionID, err)
	}
	if publishCtx.Err() != nil {
		log.Printf("publish timeout partition=%d offset=%d (advancing to avoid stuck partition)", msg.Partition, msg.Offset)
	}
}

// releaseClaim frees a session claim on a fresh context, since the caller's
// context is usually already cancelled.
func (w *worker) releaseClaim(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.dedupe.Release(ctx, sessionID); err != nil {
		log.Printf("dedupe release error session=%s: %v", sessionID, err)
	}
}

// markLoading records the loading state and returns the record the outcome is applied to.
func (w *worker) markLoading(ctx context.Context, job models.SearchJob) models.SearchStatus {
	status := models.SearchStatus{
		SessionID: job.SessionID,
		Query:     job.Query,
		URL:       job.URL,
		CreatedAt: job.CreatedAt,
	}
	if w.statuses == nil {
		return status
	}
	if existing, ok, err := w.statuses.GetStatus(ctx, job.SessionID); err != nil {
		log.Printf("status load error session=%s: %v", job.SessionID, err)
	} else if ok {
		status = existing
	}
	status.Status = models.StatusLoading
	status.UpdatedAt = time.Now().UTC()
	if err := w.statuses.SetStatus(ctx, status); err != nil {
		log.Printf("status update error session=%s: %v", job.SessionID, err)
	}
	return status
}

// search fetches with retry and maps the body. Failures come back as an outcome.
func (w *worker) search(ctx context.Context, job models.SearchJob) models.SearchOutcome {
	body, err := w.fetchWithRetry(ctx, job.URL)
	if err != nil {
		kind := gbooks.Classify(err)
		log.Printf("search failed session=%s kind=%s: %v", job.SessionID, kind, err)
		return models.FailedOutcome(kind, err)
	}
	return w.catalog.Map(body)
}

// fetchWithRetry retries transport errors, 429 and 5xx with doubling backoff.
func (w *worker) fetchWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	delay := w.cfg.RetryBase
	attempts := 0
	for {
		body, err := fetchWithMetrics(ctx, w.catalog, rawURL)
		if err == nil {
			return body, nil
		}
		attempts++
		if attempts > w.cfg.RetryMax || !gbooks.Retryable(err) {
			return nil, err
		}
		if delay > 0 {
			if w.cfg.RetryMaxDelay > 0 && delay > w.cfg.RetryMaxDelay {
				delay = w.cfg.RetryMaxDelay
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errors.Join(err, ctx.Err())
			case <-timer.C:
			}
			delay *= 2
		}
	}
}

func (w *worker) publishResult(ctx context.Context, job models.SearchJob, out models.SearchOutcome) error {
	if w.results == nil {
		return nil
	}
	payload, err := models.NewSearchResult(job, out, time.Now().UTC())
	if err != nil || payload == nil {
		return err
	}
	return w.results.WriteMessages(ctx, bkafka.Message(job.SessionID, payload))
}

func (w *worker) publishDLQ(ctx context.Context, job models.SearchJob, out models.SearchOutcome) error {
	if w.dlq == nil {
		return nil
	}
	payload, err := json.Marshal(models.SearchFailure{
		SessionID: job.SessionID,
		Query:     job.Query,
		URL:       job.URL,
		Failure:   out.Failure,
		Error:     out.Err,
		FailedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return w.dlq.WriteMessages(ctx, bkafka.Message(job.SessionID, payload))
}
