package deviceauth

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBatchSize bounds how many inserts a single transaction carries.
	DefaultBatchSize = 256

	// DefaultFlushTimeout bounds how long a request waits for co-batching.
	DefaultFlushTimeout = 5 * time.Millisecond

	// DefaultQueueCapacity is the bounded request channel size. Enqueue
	// fails fast when the writer falls this far behind.
	DefaultQueueCapacity = 16384
)

type createRequest struct {
	code  *DeviceCode
	reply chan error
}

// BatchWriter coalesces device code inserts into multi-row transactions. A
// single goroutine owns the write path; callers block on a per-request reply
// channel so a successful return means the row is durably committed.
type BatchWriter struct {
	repo         DeviceCodeRepo
	requests     chan createRequest
	batchSize    int
	flushTimeout time.Duration
	nowFunc      func() time.Time
	ttl          time.Duration
}

// BatchWriterOption defines a function type to modify the BatchWriter instance.
type BatchWriterOption func(*BatchWriter)

// WithBatchSize overrides the flush threshold.
func WithBatchSize(size int) BatchWriterOption {
	return func(b *BatchWriter) {
		b.batchSize = size
	}
}

// WithFlushTimeout overrides the co-batching wait.
func WithFlushTimeout(timeout time.Duration) BatchWriterOption {
	return func(b *BatchWriter) {
		b.flushTimeout = timeout
	}
}

// WithQueueCapacity overrides the request channel capacity.
func WithQueueCapacity(capacity int) BatchWriterOption {
	return func(b *BatchWriter) {
		b.requests = make(chan createRequest, capacity)
	}
}

// WithBatchNowFunc sets the now time function (primarily for testing)
func WithBatchNowFunc(now func() time.Time) BatchWriterOption {
	return func(b *BatchWriter) {
		b.nowFunc = now
	}
}

// NewBatchWriter creates a writer. Call Run in its own goroutine.
func NewBatchWriter(repo DeviceCodeRepo, options ...BatchWriterOption) *BatchWriter {
	b := &BatchWriter{
		repo:         repo,
		requests:     make(chan createRequest, DefaultQueueCapacity),
		batchSize:    DefaultBatchSize,
		flushTimeout: DefaultFlushTimeout,
		nowFunc:      time.Now,
		ttl:          DeviceCodeTTL,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Enqueue submits a device code for insertion and blocks until the batch it
// joined commits, or the context is cancelled.
func (b *BatchWriter) Enqueue(ctx context.Context, code *DeviceCode) error {
	req := createRequest{code: code, reply: make(chan error, 1)}

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "[BatchWriter.Enqueue] queue full or writer stopped")
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "[BatchWriter.Enqueue] awaiting commit")
	}
}

// Run owns the write loop until the context is cancelled. A pending batch is
// flushed on shutdown so no accepted request is dropped.
func (b *BatchWriter) Run(ctx context.Context) {
	log.Info().Int("batch_size", b.batchSize).Dur("flush_timeout", b.flushTimeout).Msg("device code batch writer started")

	batch := make([]createRequest, 0, b.batchSize)
	timer := time.NewTimer(b.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(batch)
			log.Info().Msg("device code batch writer stopped")
			return

		case req := <-b.requests:
			batch = append(batch, req)
			if len(batch) >= b.batchSize {
				b.flush(batch)
				batch = batch[:0]
			}

		case <-timer.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(b.flushTimeout)
		}
	}
}

// flush commits one batch and answers every waiter. Expiry is stamped at
// commit time so a queued request never loses TTL to queue latency.
func (b *BatchWriter) flush(batch []createRequest) {
	if len(batch) == 0 {
		return
	}

	expiresAt := b.nowFunc().UTC().Add(b.ttl)
	codes := make([]*DeviceCode, len(batch))
	for i, req := range batch {
		req.code.ExpiresAt = expiresAt
		codes[i] = req.code
	}

	err := b.repo.InsertBatch(codes)
	if err != nil {
		log.Error().Err(err).Int("batch", len(batch)).Msg("device code batch insert failed")
		err = errors.Wrap(err, "[BatchWriter.flush] InsertBatch")
	}
	for _, req := range batch {
		req.reply <- err
	}
}
