package s3

import (
	"time"

	"github.com/oddbit-project/safekeep/log"
)

// operation audits one remote call from start to end
type operation struct {
	logger   *log.Logger
	name     string
	resource string
	start    time.Time
}

func startOperation(logger *log.Logger, name, resource string, details log.KV) *operation {
	op := &operation{logger: logger, name: name, resource: resource, start: time.Now()}
	if logger != nil {
		logger.Debug("s3 operation started", log.MergeFields(op.fields(), details))
	}
	return op
}

func (o *operation) fields() log.KV {
	return log.KV{
		"event_type": "s3_event",
		"operation":  o.name,
		"resource":   o.resource,
	}
}

func (o *operation) end(err error, details log.KV) {
	if o.logger == nil {
		return
	}
	fields := log.MergeFields(o.fields(), details, log.KV{
		"success":     err == nil,
		"duration_ms": time.Since(o.start).Milliseconds(),
	})
	if err != nil {
		o.logger.Error(err, "s3 operation failed", fields)
		return
	}
	o.logger.Info("s3 operation", fields)
}
