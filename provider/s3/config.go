package s3

import (
	"strings"

	"github.com/minio/minio-go/v7/pkg/s3utils"
	"github.com/oddbit-project/safekeep/crypt/secure"
)

// Config describes the S3-compatible bucket holding synced copies
type Config struct {
	Endpoint    string `json:"endpoint"`
	Region      string `json:"region" default:"eu-west-1"`
	AccessKeyID string `json:"accessKeyId"`

	// Secret access key
	secure.DefaultCredentialConfig

	Bucket string `json:"bucket"`
	// Prefix scopes every object owned by this install
	Prefix string `json:"prefix" default:"safekeep/"`

	UseSSL         bool `json:"useSSL"`
	TimeoutSeconds int  `json:"timeoutSeconds" default:"60"`
}

func NewConfig() *Config {
	return &Config{
		Region:         DefaultRegion,
		Prefix:         DefaultPrefix,
		UseSSL:         true,
		TimeoutSeconds: int(DefaultTimeout.Seconds()),
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrMissingEndpoint
	}
	if c.Bucket == "" {
		return ErrMissingBucket
	}
	if err := s3utils.CheckValidBucketNameStrict(c.Bucket); err != nil {
		return ErrInvalidBucketName.Wrap(err)
	}
	if c.TimeoutSeconds <= 0 || c.TimeoutSeconds >= 3600 {
		return ErrInvalidTimeout
	}
	if c.AccessKeyID != "" && c.DefaultCredentialConfig.IsEmpty() {
		return ErrMissingSecret
	}
	return nil
}

// HostPort returns the endpoint without its scheme; an explicit scheme overrides UseSSL
func (c *Config) HostPort() (string, bool) {
	switch {
	case strings.HasPrefix(c.Endpoint, "https://"):
		return strings.TrimPrefix(c.Endpoint, "https://"), true
	case strings.HasPrefix(c.Endpoint, "http://"):
		return strings.TrimPrefix(c.Endpoint, "http://"), false
	}
	return c.Endpoint, c.UseSSL
}
