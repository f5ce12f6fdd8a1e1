package queue

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageReader abstracts kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter abstracts kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. A non-nil error leaves the message uncommitted.
type Handler func(ctx context.Context, msg kafka.Message) error

// FetchBackoff is the pause after a failed fetch before trying again.
var FetchBackoff = 500 * time.Millisecond

// Consume fetches messages until ctx is done, runs handle on each, and commits
// the ones handled without error. name prefixes log lines.
func Consume(ctx context.Context, name string, reader MessageReader, handle Handler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("%s fetch error: %v", name, err)
			time.Sleep(FetchBackoff)
			continue
		}

		if err := handle(ctx, msg); err != nil {
			log.Printf("%s handle error partition=%d offset=%d: %v", name, msg.Partition, msg.Offset, err)
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Printf("%s commit error: %v", name, err)
		}
	}
}
