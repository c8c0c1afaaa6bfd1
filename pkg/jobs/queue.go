package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of background work.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Enqueued time.Time
}

// Handler processes a job. Returned errors are logged; jobs are not retried.
type Handler func(context.Context, Job) error

// Config sizes a queue.
type Config struct {
	Workers    int
	BufferSize int
	// JobTimeout bounds a single handler call. Zero means no bound.
	JobTimeout time.Duration
	Logger     *zap.Logger
}

var (
	// ErrQueueFull is returned by TryEnqueue when the buffer has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrNotRunning is returned when enqueueing before Start or after Stop.
	ErrNotRunning = errors.New("queue not running")
)

type state int

const (
	idle state = iota
	running
	closing
)

// Queue is an in-memory single-attempt dispatcher backed by a worker pool.
// Every accepted job is tracked until a worker finishes it or the queue is
// stopped, which is what Drain waits on.
type Queue struct {
	name    string
	handler Handler
	cfg     Config
	logger  *zap.Logger

	jobs    chan Job
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.Mutex
	state  state
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue builds a queue. It does nothing until Start.
func NewQueue(name string, handler Handler, cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(zap.String("queue", name)),
		jobs:    make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Calls after the first are ignored.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != idle {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	q.state = running
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Enqueue waits for buffer space, the queue stopping, or ctx.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	qctx, err := q.admit(&job)
	if err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	case <-qctx.Done():
		q.pending.Done()
		return fmt.Errorf("queue %s: %w", q.name, ErrNotRunning)
	case <-ctx.Done():
		q.pending.Done()
		return ctx.Err()
	}
}

// TryEnqueue hands the job over only if the buffer has room right now.
func (q *Queue) TryEnqueue(job Job) error {
	if _, err := q.admit(&job); err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		q.pending.Done()
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// admit registers a job as pending while the queue is running. The state
// check and the counter increment share the lock so Drain never races an Add.
func (q *Queue) admit(job *Job) (context.Context, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != running {
		return nil, fmt.Errorf("queue %s: %w", q.name, ErrNotRunning)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	q.pending.Add(1)
	return q.ctx, nil
}

// Drain stops accepting jobs, waits up to timeout for accepted ones to
// finish, then stops the workers.
func (q *Queue) Drain(timeout time.Duration) {
	q.mu.Lock()
	if q.state != running {
		q.mu.Unlock()
		return
	}
	q.state = closing
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		q.logger.Warn("drain timed out", zap.Int("buffered", len(q.jobs)))
	}
	q.shutdown()
}

// Stop cancels in-flight handlers and discards buffered jobs.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.state != running {
		q.mu.Unlock()
		return
	}
	q.state = closing
	q.mu.Unlock()
	q.shutdown()
}

func (q *Queue) shutdown() {
	q.cancel()
	q.workers.Wait()

	dropped := 0
	for {
		select {
		case job := <-q.jobs:
			dropped++
			q.logger.Warn("job dropped on stop", zap.String("job_id", job.ID), zap.String("type", job.Type))
			q.pending.Done()
		default:
			q.logger.Info("queue stopped", zap.Int("dropped", dropped))
			return
		}
	}
}

func (q *Queue) work() {
	defer q.workers.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.run(job)
		}
	}
}

func (q *Queue) run(job Job) {
	defer q.pending.Done()
	ctx := q.ctx
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := q.handler(ctx, job); err != nil {
		q.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
}
