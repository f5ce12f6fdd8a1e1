package main

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"booklisting/internal/queue"
)

// partitionState tracks the next offset to commit and the finished messages
// waiting behind it.
type partitionState struct {
	next    int64
	pending map[int64]kafka.Message
}

// commitCoordinator commits finished messages in per-partition offset order,
// since jobs complete out of order under concurrency.
type commitCoordinator struct {
	reader     queue.MessageReader
	commitCh   <-chan kafka.Message
	mu         sync.Mutex
	partitions map[int]*partitionState
}

func newCommitCoordinator(reader queue.MessageReader, commitCh <-chan kafka.Message) *commitCoordinator {
	return &commitCoordinator{
		reader:     reader,
		commitCh:   commitCh,
		partitions: make(map[int]*partitionState),
	}
}

// run drains commitCh until ctx is done or the channel closes, then flushes
// whatever is contiguous.
func (c *commitCoordinator) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			c.flush(ctx)
			return
		case msg, ok := <-c.commitCh:
			if !ok {
				c.flush(ctx)
				return
			}
			c.enqueue(msg)
			c.drain(ctx, msg.Partition)
		}
	}
}

// enqueue buffers msg. The first offset seen on a partition becomes its start.
func (c *commitCoordinator) enqueue(msg kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.partitions[msg.Partition]
	if !ok {
		state = &partitionState{next: msg.Offset, pending: make(map[int64]kafka.Message)}
		c.partitions[msg.Partition] = state
	}
	state.pending[msg.Offset] = msg
	atomic.AddInt64(&workerCommitPendingTotal, 1)
}

// commitNext commits the next contiguous message of a partition. Caller holds
// c.mu; it is released around CommitMessages. A failed commit is put back and
// the offset is not advanced.
func (c *commitCoordinator) commitNext(ctx context.Context, state *partitionState, logPrefix string) bool {
	offset := state.next
	msg, ok := state.pending[offset]
	if !ok {
		return false
	}
	delete(state.pending, offset)
	atomic.AddInt64(&workerCommitPendingTotal, -1)

	c.mu.Unlock()
	start := time.Now()
	err := c.reader.CommitMessages(ctx, msg)
	commitLatency.observe(time.Since(start))
	c.mu.Lock()

	if err != nil {
		atomic.AddUint64(&workerCommitErrorsTotal, 1)
		log.Printf("%s partition=%d offset=%d: %v", logPrefix, msg.Partition, offset, err)
		state.pending[offset] = msg
		atomic.AddInt64(&workerCommitPendingTotal, 1)
		return false
	}
	state.next = offset + 1
	return true
}

func (c *commitCoordinator) drain(ctx context.Context, partition int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.partitions[partition]
	if state == nil {
		return
	}
	for c.commitNext(ctx, state, "commit error") {
	}
}

func (c *commitCoordinator) flush(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, state := range c.partitions {
		for c.commitNext(ctx, state, "commit flush error") {
		}
	}
}
