package s3

import (
	"testing"

	"github.com/oddbit-project/safekeep/crypt/secure"
	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := NewConfig()
	cfg.Endpoint = "s3.example.com"
	cfg.Bucket = "safekeep-sync"
	return cfg
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Equal(t, DefaultPrefix, cfg.Prefix)
	assert.True(t, cfg.UseSSL)
	assert.Equal(t, 60, cfg.TimeoutSeconds)
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *Config)
		err    error
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "missing endpoint", modify: func(c *Config) { c.Endpoint = " " }, err: ErrMissingEndpoint},
		{name: "missing bucket", modify: func(c *Config) { c.Bucket = "" }, err: ErrMissingBucket},
		{name: "invalid bucket", modify: func(c *Config) { c.Bucket = "Bad_Bucket" }, err: ErrInvalidBucketName},
		{name: "zero timeout", modify: func(c *Config) { c.TimeoutSeconds = 0 }, err: ErrInvalidTimeout},
		{name: "huge timeout", modify: func(c *Config) { c.TimeoutSeconds = 7200 }, err: ErrInvalidTimeout},
		{name: "access key without secret", modify: func(c *Config) { c.AccessKeyID = "AKIA" }, err: ErrMissingSecret},
		{
			name: "access key with secret",
			modify: func(c *Config) {
				c.AccessKeyID = "AKIA"
				c.DefaultCredentialConfig = secure.DefaultCredentialConfig{PasswordEnvVar: "SAFEKEEP_S3_SECRET"}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrNilConfig)
}

func TestHostPort(t *testing.T) {
	cfg := validConfig()
	host, ssl := cfg.HostPort()
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, ssl)

	cfg.Endpoint = "http://localhost:9000"
	host, ssl = cfg.HostPort()
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, ssl)

	cfg.UseSSL = false
	cfg.Endpoint = "https://minio.local"
	host, ssl = cfg.HostPort()
	assert.Equal(t, "minio.local", host)
	assert.True(t, ssl)
}
