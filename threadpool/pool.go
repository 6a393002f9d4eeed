package threadpool

import (
	"context"
	"sync"

	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/utils"
)

const (
	ErrInvalidWorkerCount = utils.Error("invalid workerCount value")
	ErrInvalidQueueSize   = utils.Error("invalid queueSize value")
	ErrPoolNotStarted     = utils.Error("ThreadPool not started")
	ErrPoolAlreadyStarted = utils.Error("ThreadPool already started")
	ErrJobPanic           = utils.Error("job panicked")
)

type Pool interface {
	Start(ctx context.Context) error
	Stop() error
	Dispatch(j Job)
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

type ThreadPool struct {
	workers     *WorkerGroup
	workerCount int
	jobQueue    chan Job
	logger      *log.Logger
	m           sync.Mutex
}

// NewThreadPool creates a pool with workerCount workers and a job queue of queueSize.
// A pool with a single worker runs jobs strictly one at a time, in dispatch order
//
// Example usage:
//
//	pool, err := NewThreadPool(1, 16)
//	if err != nil {
//	  // handle error
//	}
//	_ = pool.Start(ctx)
//	err = pool.Run(ctx, func(ctx context.Context) error { ... })
func NewThreadPool(workerCount int, queueSize int) (*ThreadPool, error) {
	if workerCount < 1 {
		return nil, ErrInvalidWorkerCount
	}
	if queueSize < 1 {
		return nil, ErrInvalidQueueSize
	}
	return &ThreadPool{
		workerCount: workerCount,
		jobQueue:    make(chan Job, queueSize),
	}, nil
}

// WithLogger sets the logger used to report recovered job panics
func (t *ThreadPool) WithLogger(logger *log.Logger) *ThreadPool {
	t.logger = logger
	return t
}

// GetRequestCount returns the total number of jobs handled by the pool
func (t *ThreadPool) GetRequestCount() uint64 {
	t.m.Lock()
	defer t.m.Unlock()
	if t.workers == nil {
		return 0
	}
	return t.workers.RequestCount()
}

// GetQueueLen returns the number of pending jobs
func (t *ThreadPool) GetQueueLen() int {
	return len(t.jobQueue)
}

// GetQueueCapacity returns the capacity of the job queue
func (t *ThreadPool) GetQueueCapacity() int {
	return cap(t.jobQueue)
}

// GetWorkerCount returns the number of running workers
func (t *ThreadPool) GetWorkerCount() int {
	t.m.Lock()
	defer t.m.Unlock()
	if t.workers == nil {
		return 0
	}
	return len(t.workers.workers)
}

// IsRunning returns true if the pool was started and not stopped
func (t *ThreadPool) IsRunning() bool {
	t.m.Lock()
	defer t.m.Unlock()
	return t.workers != nil
}

// Start starts the workers. If ctx is nil, the background context is used
func (t *ThreadPool) Start(ctx context.Context) error {
	t.m.Lock()
	defer t.m.Unlock()
	if t.workers != nil {
		return ErrPoolAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	t.workers, err = NewWorkerGroup(t.workerCount, t.jobQueue, ctx, t.logger)
	return err
}

// Stop cancels the pool context and waits for running jobs to finish
// Note: this function is blocking
func (t *ThreadPool) Stop() error {
	t.m.Lock()
	defer t.m.Unlock()
	if t.workers == nil {
		return ErrPoolNotStarted
	}
	t.workers.Stop()
	t.workers = nil
	return nil
}

// Dispatch adds a new job to the queue
// Note: This function is blocking if jobQueue is full
func (t *ThreadPool) Dispatch(j Job) {
	t.jobQueue <- j
}

// DispatchWithContext adds a job to the queue, giving up when ctx is done
func (t *ThreadPool) DispatchWithContext(ctx context.Context, j Job) error {
	select {
	case t.jobQueue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches fn and waits for its result. fn receives ctx, not the pool context;
// if ctx is done before fn starts, fn is skipped. A panic in fn is returned as ErrJobPanic
func (t *ThreadPool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if !t.IsRunning() {
		return ErrPoolNotStarted
	}
	job := &resultJob{
		callerCtx: ctx,
		fn:        fn,
		done:      make(chan error, 1),
	}
	if err := t.DispatchWithContext(ctx, job); err != nil {
		return err
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
