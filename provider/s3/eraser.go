package s3

import (
	"context"
	"errors"

	"github.com/minio/minio-go/v7"
	"github.com/oddbit-project/safekeep/log"
)

// Eraser removes every object under the configured prefix
type Eraser struct {
	*Client
}

func NewEraser(cfg *Config, logger *log.Logger) (*Eraser, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Eraser{Client: client}, nil
}

// Erase deletes all objects under the prefix and returns how many were removed.
// A missing bucket means there is nothing to erase
func (e *Eraser) Erase(ctx context.Context) (int, error) {
	if !e.IsConnected() {
		if err := e.Connect(ctx); err != nil {
			return 0, err
		}
	}
	client, err := e.client()
	if err != nil {
		return 0, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	op := startOperation(e.logger, "erase", e.config.Bucket, log.KV{"prefix": e.config.Prefix})
	exists, err := client.BucketExists(ctx, e.config.Bucket)
	if err != nil {
		op.end(err, nil)
		return 0, err
	}
	if !exists {
		op.end(nil, log.KV{"objects": 0, "bucketMissing": true})
		return 0, nil
	}

	listed := client.ListObjects(ctx, e.config.Bucket, minio.ListObjectsOptions{
		Prefix:    e.config.Prefix,
		Recursive: true,
	})

	var (
		sent    int
		listErr error
	)
	objects := make(chan minio.ObjectInfo)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(objects)
		for obj := range listed {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case objects <- obj:
				sent++
			case <-ctx.Done():
				return
			}
		}
	}()

	failed := 0
	var removeErr error
	for rerr := range client.RemoveObjects(ctx, e.config.Bucket, objects, minio.RemoveObjectsOptions{}) {
		failed++
		removeErr = errors.Join(removeErr, rerr.Err)
	}

	<-done
	removed := sent - failed
	err = errors.Join(listErr, removeErr)
	op.end(err, log.KV{"objects": removed, "failed": failed})
	return removed, err
}
