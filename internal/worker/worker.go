// Package worker retries reverse-index writes that failed right after a
// customer mapping was persisted. The forward mapping is the source of truth,
// so a lost retry only delays webhook lookups; it never corrupts data.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReverseIndexer is the store operation the worker retries.
type ReverseIndexer interface {
	IndexReverse(ctx context.Context, accountID, customerID string, ref domain.StudentRef) error
}

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for due jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// MaxAttempts is how many times a job is tried before it is dropped
	MaxAttempts int

	// BaseBackoff is the delay after the first failure; it doubles per attempt
	BaseBackoff time.Duration

	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration

	// QueueSize bounds the number of pending jobs
	QueueSize int

	// JobTimeout bounds a single store write
	JobTimeout time.Duration

	// ShutdownTimeout bounds how long Start waits for in-flight jobs
	ShutdownTimeout time.Duration
}

// Job is one pending reverse-index write.
type Job struct {
	AccountID   string
	CustomerID  string
	Ref         domain.StudentRef
	Attempts    int
	NextAttempt time.Time
	LastError   string
}

func (j *Job) key() string { return j.AccountID + "/" + j.CustomerID }

// Worker processes reverse-index retries
type Worker struct {
	config  Config
	indexer ReverseIndexer
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	pending  map[string]*Job
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewWorker creates a new reverse-index retry worker
func NewWorker(indexer ReverseIndexer, config Config, logger zerolog.Logger) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 8
	}
	if config.BaseBackoff == 0 {
		config.BaseBackoff = 2 * time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.QueueSize == 0 {
		config.QueueSize = 1000
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = 10 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 15 * time.Second
	}

	return &Worker{
		config:   config,
		indexer:  indexer,
		logger:   logger.With().Str("component", "worker").Str("worker_id", config.WorkerID).Logger(),
		now:      time.Now,
		pending:  make(map[string]*Job),
		inflight: make(map[string]bool),
	}
}

// EnqueueReverseIndex schedules a retry for a failed reverse-index write.
// A newer job for the same (account, customer) replaces the pending one. If
// the older ref is being written right now, the newer one is written after it.
// Returns false when the queue is full and the job was dropped.
func (w *Worker) EnqueueReverseIndex(accountID, customerID string, ref domain.StudentRef) bool {
	job := &Job{
		AccountID:   accountID,
		CustomerID:  customerID,
		Ref:         ref,
		NextAttempt: w.now().Add(w.config.BaseBackoff),
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[job.key()]; ok {
		existing.Ref = ref
		return true
	}
	if len(w.pending) >= w.config.QueueSize {
		w.logger.Error().
			Str("account_id", accountID).
			Str("customer_id", customerID).
			Msg("Reverse index retry queue full, dropping job")
		return false
	}
	w.pending[job.key()] = job
	w.setPendingGauge()
	return true
}

// Pending returns the number of queued jobs, including in-flight ones.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Start processes jobs until the context is cancelled, then waits up to
// ShutdownTimeout for in-flight jobs.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int("max_concurrency", w.config.MaxConcurrency).
		Msg("Worker starting")

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Worker shutting down")
			w.waitInflight()
			return ctx.Err()

		case <-ticker.C:
			w.dispatchDue(ctx, sem)
		}
	}
}

// RunOnce processes every job that is currently due and waits for them.
func (w *Worker) RunOnce(ctx context.Context) {
	sem := make(chan struct{}, w.config.MaxConcurrency)
	w.dispatchDue(ctx, sem)
	w.wg.Wait()
}

func (w *Worker) dispatchDue(ctx context.Context, sem chan struct{}) {
	due := w.claimDue()
	for i, snap := range due {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			w.release(due[i:]...)
			return
		}

		w.wg.Add(1)
		go func(snap Job) {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.process(ctx, snap)
		}(snap)
	}
}

// claimDue marks due jobs in-flight and returns a snapshot of each. The
// pending job may be updated by EnqueueReverseIndex while its snapshot is
// being written.
func (w *Worker) claimDue() []Job {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	var due []Job
	for k, job := range w.pending {
		if w.inflight[k] || job.NextAttempt.After(now) {
			continue
		}
		w.inflight[k] = true
		due = append(due, *job)
	}
	return due
}

func (w *Worker) release(jobs ...Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, job := range jobs {
		delete(w.inflight, job.key())
	}
}

func (w *Worker) process(ctx context.Context, snap Job) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.JobTimeout)
	defer cancel()

	err := w.indexer.IndexReverse(jobCtx, snap.AccountID, snap.CustomerID, snap.Ref)

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, snap.key())

	job, ok := w.pending[snap.key()]
	if !ok {
		return
	}

	log := w.logger.With().
		Str("account_id", job.AccountID).
		Str("customer_id", job.CustomerID).
		Str("organization_id", job.Ref.OrganizationID).
		Str("student_id", job.Ref.StudentID).
		Logger()

	if err == nil {
		if job.Ref != snap.Ref {
			// A newer ref arrived mid-write; write it next.
			job.Attempts = 0
			job.LastError = ""
			job.NextAttempt = w.now()
			log.Debug().Msg("Reverse index changed during retry, writing newer ref")
			return
		}
		delete(w.pending, job.key())
		w.setPendingGauge()
		w.countRetry("succeeded")
		log.Info().Int("attempts", job.Attempts+1).Msg("Reverse index repaired")
		return
	}

	job.Attempts++
	job.LastError = err.Error()

	if job.Attempts >= w.config.MaxAttempts {
		delete(w.pending, job.key())
		w.setPendingGauge()
		w.countRetry("dropped")
		log.Error().Err(err).Int("attempts", job.Attempts).
			Msg("Reverse index retry exhausted; webhook lookups for this customer will miss until it is re-mapped")
		return
	}

	job.NextAttempt = w.now().Add(w.backoff(job.Attempts))
	w.countRetry("retrying")
	log.Warn().Err(err).Int("attempts", job.Attempts).Time("next_attempt", job.NextAttempt).
		Msg("Reverse index retry failed")
}

// backoff returns BaseBackoff * 2^(attempts-1), capped at MaxBackoff.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.config.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.config.MaxBackoff {
			return w.config.MaxBackoff
		}
	}
	return d
}

func (w *Worker) waitInflight() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn().Int("pending", w.Pending()).Msg("Worker shutdown timed out with jobs in flight")
	}
}

// setPendingGauge must be called with w.mu held.
func (w *Worker) setPendingGauge() {
	if telemetry.Business != nil {
		telemetry.Business.ReverseIndexPending.Set(float64(len(w.pending)))
	}
}

func (w *Worker) countRetry(outcome string) {
	if telemetry.Business != nil {
		telemetry.Business.ReverseIndexRetries.WithLabelValues(outcome).Inc()
	}
}
