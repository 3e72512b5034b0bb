package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"yachtlog-go/internal/logger"
	"yachtlog-go/internal/metrics"
)

// ErrPoolClosed is returned when submitting to a stopped pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task represents a unit of work for the worker pool.
type Task interface {
	ID() string
	Process(ctx context.Context) error
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the task goes straight to the dead letter list.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// DeadLetter is a task that exhausted its retries.
type DeadLetter struct {
	TaskID   string
	Attempts int
	Err      error
}

// Config sizes a pool.
type Config struct {
	Name       string
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns the pool settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Name:       "default",
		Workers:    4,
		QueueSize:  64,
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// WorkerPool manages a pool of worker goroutines
// and a queue of tasks to process.
type WorkerPool struct {
	cfg    Config
	logger *logger.Logger

	wg      sync.WaitGroup
	tasks   chan Task
	closeMu sync.RWMutex
	closed  bool
	started bool

	deadLetterMu sync.Mutex
	deadLetter   []DeadLetter

	completed atomic.Int64
	retries   atomic.Int64
}

// PoolStats holds monitoring information about the worker pool.
type PoolStats struct {
	ActiveWorkers int
	QueueLength   int
	Completed     int64
	Retries       int64
	DeadLetters   int
}

// NewWorkerPool creates a new WorkerPool. Zero values in cfg fall back to
// DefaultConfig.
func NewWorkerPool(cfg Config, log *logger.Logger) *WorkerPool {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &WorkerPool{
		cfg:    cfg,
		logger: log.With("pool", cfg.Name),
		tasks:  make(chan Task, cfg.QueueSize),
	}
}

// Start launches the worker goroutines. Tasks run with ctx; cancelling it
// aborts retries and sends the remaining tasks to the dead letter list.
func (p *WorkerPool) Start(ctx context.Context) {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx)
	}
}

// Stop stops accepting tasks, lets workers drain the queue and waits for
// them to finish.
func (p *WorkerPool) Stop() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.closeMu.Unlock()

	p.wg.Wait()
}

// SubmitWait blocks until the task is queued or ctx is done.
func (p *WorkerPool) SubmitWait(ctx context.Context, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// workerLoop is the main loop for each worker goroutine.
func (p *WorkerPool) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.TasksInFlight.WithLabelValues(p.cfg.Name).Inc()
		p.processWithRetry(ctx, task)
		metrics.TasksInFlight.WithLabelValues(p.cfg.Name).Dec()
	}
}

// processWithRetry runs a task up to MaxRetries+1 times, then moves it to
// the dead letter list.
func (p *WorkerPool) processWithRetry(ctx context.Context, task Task) {
	var err error
	attempt := 0
	for attempt <= p.cfg.MaxRetries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			break
		}

		attempt++
		if err = task.Process(ctx); err == nil {
			p.completed.Add(1)
			metrics.TasksCompleted.WithLabelValues(p.cfg.Name).Inc()
			return
		}

		var perm *permanentError
		if errors.As(err, &perm) || attempt > p.cfg.MaxRetries {
			break
		}

		p.retries.Add(1)
		metrics.TaskRetries.WithLabelValues(p.cfg.Name).Inc()
		p.logger.Debug("retrying task", "task_id", task.ID(), "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
		case <-time.After(p.cfg.RetryDelay * time.Duration(attempt)):
		}
	}

	p.logger.Warn("task moved to dead letter queue", "task_id", task.ID(), "attempts", attempt, "error", err)
	metrics.TasksFailed.WithLabelValues(p.cfg.Name).Inc()

	p.deadLetterMu.Lock()
	p.deadLetter = append(p.deadLetter, DeadLetter{TaskID: task.ID(), Attempts: attempt, Err: err})
	p.deadLetterMu.Unlock()
}

// DeadLetters returns a copy of the dead letter list.
func (p *WorkerPool) DeadLetters() []DeadLetter {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return append([]DeadLetter(nil), p.deadLetter...)
}

// DeadLetterCount returns the number of tasks in the dead letter queue.
func (p *WorkerPool) DeadLetterCount() int {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return len(p.deadLetter)
}

// Stats returns current statistics about the worker pool.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		ActiveWorkers: p.cfg.Workers,
		QueueLength:   len(p.tasks),
		Completed:     p.completed.Load(),
		Retries:       p.retries.Load(),
		DeadLetters:   p.DeadLetterCount(),
	}
}

func (d DeadLetter) String() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", d.TaskID, d.Attempts, d.Err)
}
