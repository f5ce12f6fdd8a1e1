package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"booklisting/common"
)

func main() {
	if err := common.LoadEnvFile(".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env.local: %v\n", err)
	}
	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	topics := []string{
		common.GetEnv("KAFKA_SEARCH_TOPIC", "booklisting.search.requests"),
		common.GetEnv("KAFKA_RESULTS_TOPIC", "booklisting.search.results"),
		common.GetEnv("KAFKA_DLQ_TOPIC", "booklisting.search.dlq"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to Kafka at %s: %v\n", broker, err)
		os.Exit(1)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read metadata: %v\n", err)
		os.Exit(1)
	}

	missing := missingTopics(partitions, topics)
	fmt.Printf("connected to Kafka at %s (%d partitions)\n", broker, len(partitions))
	for _, topic := range missing {
		fmt.Fprintf(os.Stderr, "topic %s not found\n", topic)
	}
	if len(missing) > 0 {
		os.Exit(1)
	}
}

// missingTopics returns the wanted topics that have no partition in the metadata.
func missingTopics(partitions []kafka.Partition, wanted []string) []string {
	seen := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		seen[p.Topic] = true
	}
	var missing []string
	for _, topic := range wanted {
		if !seen[topic] {
			missing = append(missing, topic)
		}
	}
	return missing
}
