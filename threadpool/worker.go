package threadpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/oddbit-project/safekeep/log"
)

type Worker struct {
	jobQueue       chan Job
	ctx            context.Context
	requestCounter atomic.Uint64
}

type WorkerGroup struct {
	workers  []*Worker
	ctx      context.Context
	cancelFn context.CancelFunc
	wg       *sync.WaitGroup
	stop     *sync.Once
}

func NewWorker(jobQueue chan Job, ctx context.Context) *Worker {
	return &Worker{
		jobQueue: jobQueue,
		ctx:      ctx,
	}
}

func (w *Worker) Start(wg *sync.WaitGroup, logger *log.Logger) {
	go func() {
		defer wg.Done()
		for {
			select {
			case job := <-w.jobQueue:
				w.runJob(job, logger)
				w.requestCounter.Add(1)

			case <-w.ctx.Done():
				return
			}
		}
	}()
}

// runJob recovers panics so a failing job never takes the worker down
func (w *Worker) runJob(job Job, logger *log.Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Warn("worker recovered from job panic", log.KV{"panic": r})
		}
	}()
	job.Run(w.ctx)
}

func (w *Worker) RequestCounter() uint64 {
	return w.requestCounter.Load()
}

// NewWorkerGroup creates and starts a group of workers
// If logger is nil, panics will be recovered silently
func NewWorkerGroup(workerCount int, jobQueue chan Job, parentCtx context.Context, logger *log.Logger) (*WorkerGroup, error) {
	if workerCount < 1 {
		return nil, ErrInvalidWorkerCount
	}
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancelFn := context.WithCancel(parentCtx)
	group := &WorkerGroup{
		workers:  make([]*Worker, workerCount),
		ctx:      ctx,
		cancelFn: cancelFn,
		wg:       &sync.WaitGroup{},
		stop:     &sync.Once{},
	}
	for i := 0; i < workerCount; i++ {
		group.workers[i] = NewWorker(jobQueue, group.ctx)
		group.wg.Add(1)
		group.workers[i].Start(group.wg, logger)
	}
	return group, nil
}

func (w *WorkerGroup) RequestCount() uint64 {
	var total uint64
	for _, worker := range w.workers {
		total += worker.RequestCounter()
	}
	return total
}

func (w *WorkerGroup) Stop() {
	w.stop.Do(func() {
		w.cancelFn()
		w.wg.Wait()
	})
}
