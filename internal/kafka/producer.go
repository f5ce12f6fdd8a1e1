package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"booklisting/internal/models"
)

// JobProducer publishes SearchJob messages.
type JobProducer interface {
	WriteJob(ctx context.Context, job models.SearchJob) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer for publishing search jobs.
type Producer struct {
	writer messageWriter
}

// NewWriter returns a writer for topic with the settings shared by every command.
func NewWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: false,
	}
}

// NewProducer creates a Kafka producer for the given broker and topic.
func NewProducer(broker, topic string) *Producer {
	return &Producer{writer: NewWriter(broker, topic)}
}

// NewProducerWithWriter builds a producer using a custom writer (tests).
func NewProducerWithWriter(writer messageWriter) *Producer {
	return &Producer{writer: writer}
}

// Close shuts down the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// WriteJob publishes a SearchJob keyed by session id so every message of a
// session lands on the same partition. Invalid jobs are never written.
func (p *Producer) WriteJob(ctx context.Context, job models.SearchJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, Message(job.SessionID, payload)); err != nil {
		return fmt.Errorf("publish job %s: %w", job.SessionID, err)
	}
	return nil
}

// Message builds a keyed message stamped with the current time.
func Message(key string, payload []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}
}
