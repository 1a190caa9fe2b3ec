// Package tracesink implements the Trace Sink (spec.md §4.B): two buffered
// batch writers, one for execution traces and one for algorithm traces, that
// flush on a size threshold or a timer, retry failed records up to buffer
// capacity before dropping them, and flush exactly once on shutdown.
package tracesink

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultBufferSize is N from spec.md §4.B.
	DefaultBufferSize = 100
	// DefaultFlushInterval is the periodic flush cadence from spec.md §4.B.
	DefaultFlushInterval = 5 * time.Second
)

// Writer persists a batch of records in one call. Implementations must treat
// duplicate IDs (per record's own idempotency key) as no-ops, per spec.md
// §4.B ("the store must accept duplicate inserts as no-ops").
type Writer[T any] interface {
	WriteBatch(ctx context.Context, records []T) error
}

// Sink is a generic buffered batch writer. One instantiation backs execution
// traces, a second backs algorithm traces, matching the "two buffered
// writers" requirement of spec.md §4.B.
type Sink[T any] struct {
	writer        Writer[T]
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	buf     []T
	closed  bool
	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	droppedCount int64
}

// Option configures a Sink.
type Option[T any] func(*Sink[T])

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize[T any](n int) Option[T] {
	return func(s *Sink[T]) { s.bufferSize = n }
}

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval[T any](d time.Duration) Option[T] {
	return func(s *Sink[T]) { s.flushInterval = d }
}

// WithLogger attaches a structured logger for flush-failure diagnostics.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(s *Sink[T]) { s.logger = l }
}

// New constructs a Sink backed by writer and starts its background flush
// loop. Call Close to drain and stop it.
func New[T any](writer Writer[T], opts ...Option[T]) *Sink[T] {
	s := &Sink[T]{
		writer:        writer,
		bufferSize:    DefaultBufferSize,
		flushInterval: DefaultFlushInterval,
		logger:        slog.Default(),
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Enqueue appends a record to the buffer. If the buffer reaches its size
// threshold, a flush is triggered asynchronously. Enqueue never blocks on
// I/O.
func (s *Sink[T]) Enqueue(record T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, record)
	full := len(s.buf) >= s.bufferSize
	s.mu.Unlock()
	if full {
		s.triggerFlush()
	}
}

func (s *Sink[T]) triggerFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

func (s *Sink[T]) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.flushCh:
			s.flush(context.Background())
		case <-s.stopCh:
			s.flush(context.Background())
			return
		}
	}
}

// flush performs one batched write. On error, the records are re-queued
// (prepended, so they are retried on the next flush) up to bufferSize; any
// overflow beyond that capacity is dropped and counted.
func (s *Sink[T]) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if err := s.writer.WriteBatch(ctx, batch); err != nil {
		s.logger.Error("tracesink: flush failed, re-queueing", "count", len(batch), "err", err)
		s.mu.Lock()
		requeued := append(batch, s.buf...)
		if len(requeued) > s.bufferSize {
			dropped := len(requeued) - s.bufferSize
			s.droppedCount += int64(dropped)
			requeued = requeued[dropped:]
		}
		s.buf = requeued
		s.mu.Unlock()
	}
}

// DroppedCount returns the number of records dropped after exhausting
// re-queue capacity, for metrics/observability.
func (s *Sink[T]) DroppedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedCount
}

// Close flushes the remaining buffer exactly once, then stops the
// background loop. Safe to call once; a second call is a no-op.
func (s *Sink[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stopCh)
	s.wg.Wait()
	return nil
}
