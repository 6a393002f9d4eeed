package safekeep

import (
	"sync"

	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/types/callstack"
)

var (
	appDestructors = callstack.NewCallStack()
	shutdownMx     sync.Mutex
)

// GetDestructorManager returns the process-wide teardown stack
func GetDestructorManager() *callstack.CallStack {
	return appDestructors
}

// RegisterDestructor registers a teardown step run by Shutdown
func RegisterDestructor(fn callstack.CallableFn) {
	appDestructors.Add(fn)
}

// Shutdown runs the registered destructors once, last registered first. cause is the error
// that triggered the shutdown, if any; the returned error joins destructor failures
func Shutdown(cause error) error {
	shutdownMx.Lock()
	defer shutdownMx.Unlock()

	logger := log.New("shutdown")
	if cause != nil {
		logger.Error(cause, "shutting down after error")
	}
	err := appDestructors.Run(false)
	if err != nil {
		logger.Error(err, "error while shutting down")
	}
	return err
}
