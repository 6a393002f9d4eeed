package safekeep

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/oddbit-project/safekeep/log"
)

type RuntimeFn func(app *Container) error

// Container hosts a long-running Core, such as the CLI watch mode
type Container struct {
	Config    *Config
	Core      *Core
	Context   context.Context
	CancelCtx context.CancelFunc
	logger    *log.Logger
}

// NewContainer creates the application context and opens a Core; the Core is closed on shutdown
func NewContainer(cfg *Config, opts ...Option) (*Container, error) {
	ctx, cancelFn := context.WithCancel(context.Background())
	core, err := New(ctx, cfg, opts...)
	if err != nil {
		cancelFn()
		return nil, err
	}
	RegisterDestructor(core.Close)
	return &Container{
		Config:    cfg,
		Core:      core,
		Context:   ctx,
		CancelCtx: cancelFn,
		logger:    log.New("container"),
	}, nil
}

func (c *Container) GetContext() context.Context {
	return c.Context
}

// Run executes mainFn in order; each must not block. It then waits for SIGINT, SIGTERM,
// SIGHUP or context cancellation and shuts down. The first mainFn error aborts the run
func (c *Container) Run(mainFn ...RuntimeFn) error {
	monitor := make(chan os.Signal, 1)
	signal.Notify(monitor, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(monitor)

	for _, fn := range mainFn {
		if err := fn(c); err != nil {
			return c.Terminate(err)
		}
	}

	select {
	case <-monitor:
		c.logger.Info("shutting down application...")
	case <-c.Context.Done():
	}
	return c.Terminate(nil)
}

// Terminate cancels the application context and runs the destructors. It returns cause
// when set, otherwise any destructor error
func (c *Container) Terminate(cause error) error {
	if c.Context.Err() == nil {
		c.CancelCtx()
	}
	err := Shutdown(cause)
	if cause != nil {
		return cause
	}
	return err
}
