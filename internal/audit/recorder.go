// Package audit buffers assistant audit records and flushes them to the
// store in batches. Recording never blocks the request path: writes go into
// an in-memory queue and a single background goroutine owns all store I/O.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/stridehq/stride/internal/redact"
	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/pkg/models"
)

const (
	defaultBatchSize = 50
	defaultMaxDelay  = 5 * time.Second
	defaultRetries   = 3

	// maxSummaryLen caps response summaries before they hit the store.
	maxSummaryLen = 500
)

// Config tunes the batching behavior.
type Config struct {
	// BatchSize triggers a flush when the queue reaches this many records.
	BatchSize int
	// MaxDelay bounds how long a record may sit in the queue before a
	// time-based flush, regardless of batch size.
	MaxDelay time.Duration
	// MaxRetries bounds flush attempts before a batch is dropped.
	MaxRetries int
}

// Recorder is the buffered audit sink.
type Recorder struct {
	store store.AuditStore
	cfg   Config

	mu       sync.Mutex
	queue    []*models.AuditRecord
	oldestAt time.Time

	flushCh chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder and starts its flush goroutine.
func NewRecorder(s store.AuditStore, cfg Config) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultRetries
	}
	r := &Recorder{
		store:   s,
		cfg:     cfg,
		flushCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record sanitizes rec and enqueues it. The query and response summary are
// redacted here, at the boundary, so raw PII never reaches the queue — not
// even transiently.
func (r *Recorder) Record(rec *models.AuditRecord) {
	cp := *rec
	cp.Query = redact.Redact(cp.Query)
	cp.ResponseSummary = redact.Truncate(redact.Redact(cp.ResponseSummary), maxSummaryLen)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	if len(r.queue) == 0 {
		r.oldestAt = time.Now()
	}
	r.queue = append(r.queue, &cp)
	full := len(r.queue) >= r.cfg.BatchSize
	r.mu.Unlock()

	if full {
		select {
		case r.flushCh <- struct{}{}:
		default: // a flush is already pending
		}
	}
}

// Pending returns the number of queued, unflushed records.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Close flushes whatever is queued and stops the background goroutine.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.doneCh)
		r.wg.Wait()
		r.flush()
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()

	timer := time.NewTimer(r.cfg.MaxDelay)
	defer timer.Stop()

	for {
		select {
		case <-r.doneCh:
			return
		case <-r.flushCh:
			r.flush()
			resetTimer(timer, r.cfg.MaxDelay)
		case <-timer.C:
			// Flush only if the oldest record has waited long enough;
			// otherwise sleep out the remainder of its window.
			r.mu.Lock()
			n := len(r.queue)
			age := time.Since(r.oldestAt)
			r.mu.Unlock()

			if n > 0 && age >= r.cfg.MaxDelay {
				r.flush()
				resetTimer(timer, r.cfg.MaxDelay)
			} else if n > 0 {
				resetTimer(timer, r.cfg.MaxDelay-age)
			} else {
				resetTimer(timer, r.cfg.MaxDelay)
			}
		}
	}
}

// flush drains the queue and writes it to the store with bounded retries.
// On final failure the batch is dropped with an error log; the audit trail
// must never back-pressure the request path.
func (r *Recorder) flush() {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.cfg.MaxRetries))
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.store.InsertAuditBatch(ctx, batch)
	}, bo)
	if err != nil {
		log.Error().
			Err(err).
			Int("dropped", len(batch)).
			Msg("audit flush failed, dropping batch")
		return
	}
	log.Debug().Int("records", len(batch)).Msg("audit batch flushed")
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
