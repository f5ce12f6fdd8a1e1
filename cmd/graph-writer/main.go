package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"booklisting/common"
	"booklisting/internal/graph"
	"booklisting/internal/models"
	"booklisting/internal/queue"
)

type graphWriter struct {
	driver graph.DriverSessioner
}

var (
	// received: messages fetched; written: projected into Neo4j; failed: decode or write errors.
	graphWriterResultsReceived  uint64
	graphWriterResultsWritten   uint64
	graphWriterResultsFailed    uint64
	graphWriterFailuresReceived uint64
	graphWriterFailuresWritten  uint64
	graphWriterFailuresFailed   uint64
)

func main() {
	if err := common.LoadEnvFile(".env.local"); err != nil {
		log.Printf("failed to load .env.local: %v", err)
	}

	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	resultsTopic := common.GetEnv("KAFKA_RESULTS_TOPIC", "booklisting.search.results")
	dlqTopic := common.GetEnv("KAFKA_DLQ_TOPIC", "booklisting.search.dlq")
	resultsGroup := common.GetEnv("KAFKA_RESULTS_GROUP", "booklisting-graph-results")
	dlqGroup := common.GetEnv("KAFKA_DLQ_GROUP", "booklisting-graph-failures")
	metricsAddr := common.GetEnv("METRICS_ADDR", ":9091")

	neo4jURI := common.GetEnv("NEO4J_URI", "neo4j://localhost:7687")
	neo4jUser := common.GetEnv("NEO4J_USER", "neo4j")
	neo4jPassword := common.GetEnv("NEO4J_PASSWORD", "neo4j")

	driver, err := graph.NewDriver(neo4jURI, neo4jUser, neo4jPassword)
	if err != nil {
		log.Fatalf("neo4j driver error: %v", err)
	}
	defer func() {
		if err := driver.Close(context.Background()); err != nil {
			log.Printf("neo4j close error: %v", err)
		}
	}()

	writer := &graphWriter{driver: driver}

	resultsReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   resultsTopic,
		GroupID: resultsGroup,
	})
	defer func() {
		if err := resultsReader.Close(); err != nil {
			log.Printf("results reader close error: %v", err)
		}
	}()

	dlqReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   dlqTopic,
		GroupID: dlqGroup,
	})
	defer func() {
		if err := dlqReader.Close(); err != nil {
			log.Printf("dlq reader close error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	log.Printf("graph-writer consuming results=%s dlq=%s broker=%s", resultsTopic, dlqTopic, broker)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		queue.Consume(ctx, "results", resultsReader, writer.handleResult)
	}()
	go func() {
		defer wg.Done()
		queue.Consume(ctx, "failures", dlqReader, writer.handleFailure)
	}()
	wg.Wait()
}

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

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	body := fmt.Sprintf(
		"booklisting_graph_writer_up 1\n"+
			"booklisting_graph_writer_results_received_total %d\n"+
			"booklisting_graph_writer_results_written_total %d\n"+
			"booklisting_graph_writer_results_failed_total %d\n"+
			"booklisting_graph_writer_failures_received_total %d\n"+
			"booklisting_graph_writer_failures_written_total %d\n"+
			"booklisting_graph_writer_failures_failed_total %d\n",
		atomic.LoadUint64(&graphWriterResultsReceived),
		atomic.LoadUint64(&graphWriterResultsWritten),
		atomic.LoadUint64(&graphWriterResultsFailed),
		atomic.LoadUint64(&graphWriterFailuresReceived),
		atomic.LoadUint64(&graphWriterFailuresWritten),
		atomic.LoadUint64(&graphWriterFailuresFailed),
	)
	_, _ = w.Write([]byte(body))
}

// handleResult projects a finished search. Undecodable payloads are counted
// and committed so one bad message can't wedge the partition.
func (w *graphWriter) handleResult(ctx context.Context, msg kafka.Message) error {
	atomic.AddUint64(&graphWriterResultsReceived, 1)
	var result models.SearchResult
	if err := decodePayload(msg.Value, &result); err != nil {
		atomic.AddUint64(&graphWriterResultsFailed, 1)
		log.Printf("skipping result payload offset=%d: %v", msg.Offset, err)
		return nil
	}
	if err := graph.RunWrite(ctx, w.driver, graph.SearchStatements(result)); err != nil {
		atomic.AddUint64(&graphWriterResultsFailed, 1)
		return fmt.Errorf("write search %s: %w", result.SessionID, err)
	}
	atomic.AddUint64(&graphWriterResultsWritten, 1)
	return nil
}

// handleFailure marks a failed search on its Search node.
func (w *graphWriter) handleFailure(ctx context.Context, msg kafka.Message) error {
	atomic.AddUint64(&graphWriterFailuresReceived, 1)
	var failure models.SearchFailure
	if err := decodePayload(msg.Value, &failure); err != nil {
		atomic.AddUint64(&graphWriterFailuresFailed, 1)
		log.Printf("skipping failure payload offset=%d: %v", msg.Offset, err)
		return nil
	}
	if err := graph.RunWrite(ctx, w.driver, graph.FailureStatements(failure)); err != nil {
		atomic.AddUint64(&graphWriterFailuresFailed, 1)
		return fmt.Errorf("write failure %s: %w", failure.SessionID, err)
	}
	atomic.AddUint64(&graphWriterFailuresWritten, 1)
	return nil
}

type payload interface {
	Validate() error
}

func decodePayload(data []byte, target payload) error {
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	return target.Validate()
}
