package s3

import (
	"context"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oddbit-project/safekeep/log"
)

type Client struct {
	config      *Config
	minioClient *minio.Client
	timeout     time.Duration
	logger      *log.Logger
	connected   bool
	mu          sync.RWMutex
}

// NewClient creates a new S3 client
func NewClient(cfg *Config, logger *log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New("s3")
	}
	return &Client{
		config:  cfg,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  logger.WithField("endpoint", cfg.Endpoint).WithField("bucket", cfg.Bucket),
	}, nil
}

// Connect builds the underlying client; no request is made
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	op := startOperation(c.logger, "connect", c.config.Endpoint, nil)

	var secretKey string
	if c.config.AccessKeyID != "" {
		var err error
		if secretKey, err = c.config.DefaultCredentialConfig.Fetch(); err != nil {
			op.end(err, nil)
			return err
		}
	}

	endpoint, secure := c.config.HostPort()
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.config.AccessKeyID, secretKey, ""),
		Secure: secure,
		Region: c.config.Region,
	})
	if err != nil {
		op.end(err, nil)
		return err
	}
	c.minioClient = client
	c.connected = true
	op.end(nil, log.KV{"ssl": secure})
	return nil
}

// withTimeout bounds ctx by the configured request timeout
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.minioClient = nil
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) client() (*minio.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil, ErrClientNotConnected
	}
	return c.minioClient, nil
}
