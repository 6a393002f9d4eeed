package threadpool

import (
	"context"
	"fmt"
)

type Job interface {
	Run(ctx context.Context)
}

type funcRunner struct {
	task func(ctx context.Context)
}

func (f *funcRunner) Run(ctx context.Context) {
	f.task(ctx)
}

func FuncRunner(job func(ctx context.Context)) Job {
	return &funcRunner{
		task: job,
	}
}

// resultJob runs fn with the caller context and reports its outcome on done
type resultJob struct {
	callerCtx context.Context
	fn        func(ctx context.Context) error
	done      chan error
}

func (r *resultJob) Run(_ context.Context) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanic, p)
		}
		r.done <- err
	}()
	if err = r.callerCtx.Err(); err != nil {
		return
	}
	err = r.fn(r.callerCtx)
}
