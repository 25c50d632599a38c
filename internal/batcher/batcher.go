// Package batcher implements the per-session bounded queue that feeds the
// content-analysis consumer. Messages accumulate until either the batch
// size threshold or the flush interval triggers a flush; under load the
// queue drops its oldest entries rather than growing without bound or
// blocking the ingestion path.
package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"scribe/internal/analysis"
)

// Config sizes a Batcher. Zero values are replaced with defaults.
type Config struct {
	BatchSize     int
	MaxQueueSize  int
	FlushInterval time.Duration
}

const (
	DefaultBatchSize     = 10
	DefaultMaxQueueSize  = 100
	DefaultFlushInterval = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// Batcher buffers messages for one session and flushes them to the
// consumer in ordered batches. Safe for concurrent use.
type Batcher struct {
	cfg      Config
	consumer analysis.Consumer
	log      *logrus.Entry

	// OnDrop, if set, is called (outside the lock) for each message
	// evicted to make room. Listeners use it for drop diagnostics.
	OnDrop func(analysis.Message)

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []analysis.Message
	flushing  bool
	dropped   uint64
	processed uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Batcher and starts its periodic flush timer.
func New(cfg Config, consumer analysis.Consumer, sessionID string) *Batcher {
	b := &Batcher{
		cfg:      cfg.withDefaults(),
		consumer: consumer,
		log: logrus.WithFields(logrus.Fields{
			"component": "batcher",
			"session":   sessionID,
		}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.runTimer()
	return b
}

func (b *Batcher) runTimer() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Enqueue appends a message, evicting the oldest entry first when the
// queue is full. Reaching the batch size triggers an immediate flush
// unless one is already running.
func (b *Batcher) Enqueue(msg analysis.Message) {
	var evicted *analysis.Message

	b.mu.Lock()
	if len(b.queue) >= b.cfg.MaxQueueSize {
		old := b.queue[0]
		b.queue = b.queue[1:]
		b.dropped++
		evicted = &old
	}
	b.queue = append(b.queue, msg)
	trigger := len(b.queue) >= b.cfg.BatchSize && !b.flushing
	b.mu.Unlock()

	if evicted != nil {
		b.log.WithField("kind", evicted.Kind).Debug("queue full, dropped oldest message")
		if b.OnDrop != nil {
			b.OnDrop(*evicted)
		}
	}
	if trigger {
		go b.Flush()
	}
}

// Flush hands one batch to the consumer. No-op if a flush is already in
// progress or the queue is empty. If the queue still holds a full batch
// afterward, another flush is scheduled so bursts drain without waiting
// for the timer.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.flushing || len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeBatchLocked()
	b.mu.Unlock()

	b.deliver(batch)

	b.mu.Lock()
	b.flushing = false
	b.cond.Broadcast()
	again := len(b.queue) >= b.cfg.BatchSize
	b.mu.Unlock()

	if again {
		go b.Flush()
	}
}

// FlushAll drains the queue completely, waiting out any in-progress flush.
// Used at session finalization and process shutdown so no buffered message
// is lost on graceful termination.
func (b *Batcher) FlushAll() {
	for {
		b.mu.Lock()
		for b.flushing {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		batch := b.takeBatchLocked()
		b.mu.Unlock()

		b.deliver(batch)

		b.mu.Lock()
		b.flushing = false
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// takeBatchLocked removes up to BatchSize messages and marks a flush in
// progress. Caller holds b.mu.
func (b *Batcher) takeBatchLocked() []analysis.Message {
	n := b.cfg.BatchSize
	if n > len(b.queue) {
		n = len(b.queue)
	}
	batch := make([]analysis.Message, n)
	copy(batch, b.queue[:n])
	b.queue = append(b.queue[:0], b.queue[n:]...)
	b.flushing = true
	return batch
}

// deliver hands a batch to the consumer. Consumer failures are logged and
// the batch is not retried.
func (b *Batcher) deliver(batch []analysis.Message) {
	if err := b.consumer.ProcessBatch(context.Background(), batch); err != nil {
		b.log.WithError(err).WithField("batch_size", len(batch)).
			Warn("consumer rejected batch")
	}
	b.mu.Lock()
	b.processed += uint64(len(batch))
	b.mu.Unlock()
}

// Destroy cancels the periodic flush timer. It does not flush; callers
// that need a drain call FlushAll first.
func (b *Batcher) Destroy() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	<-b.done
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	QueueLen  int    `json:"queueLen"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
}

// Stats returns current counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		QueueLen:  len(b.queue),
		Dropped:   b.dropped,
		Processed: b.processed,
	}
}
