package s3

import (
	"time"

	"github.com/oddbit-project/safekeep/utils"
)

const (
	DefaultTimeout = time.Minute
	DefaultRegion  = "eu-west-1"
	DefaultPrefix  = "safekeep/"
)

const (
	ErrNilConfig          = utils.Error("Config is nil")
	ErrMissingEndpoint    = utils.Error("missing endpoint")
	ErrMissingBucket      = utils.Error("missing bucket")
	ErrMissingSecret      = utils.Error("missing secret access key")
	ErrInvalidTimeout     = utils.Error("invalid timeout")
	ErrInvalidBucketName  = utils.Error("invalid bucket name")
	ErrBucketNotFound     = utils.Error("bucket not found")
	ErrClientNotConnected = utils.Error("client not connected")
)
