package safekeep

import (
	"errors"
	"fmt"

	"github.com/oddbit-project/safekeep/biometric"
	"github.com/oddbit-project/safekeep/compliance"
	"github.com/oddbit-project/safekeep/config"
	"github.com/oddbit-project/safekeep/engine"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/metrics"
	"github.com/oddbit-project/safekeep/monitor"
	"github.com/oddbit-project/safekeep/provider/kv"
	"github.com/oddbit-project/safekeep/provider/s3"
	"github.com/oddbit-project/safekeep/session"
	"github.com/oddbit-project/safekeep/store"
	"github.com/oddbit-project/safekeep/utils"
)

const (
	DriverSqlite = "sqlite"
	DriverMemory = "memory"

	// EnvPrefix is the prefix of environment configuration variables
	EnvPrefix = "SAFEKEEP_"

	ErrInvalidStorage = utils.Error("invalid storage configuration")
)

type StorageConfig struct {
	Driver string           `json:"driver" default:"sqlite"`
	Prefix string           `json:"prefix" default:"safekeep:"`
	Sqlite *kv.SqliteConfig `json:"sqlite"`
}

func NewStorageConfig() *StorageConfig {
	return &StorageConfig{
		Driver: DriverSqlite,
		Prefix: store.DefaultPrefix,
		Sqlite: kv.NewSqliteConfig(),
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverSqlite:
		if c.Sqlite == nil {
			return ErrInvalidStorage.Wrap(errors.New("missing sqlite section"))
		}
		if err := c.Sqlite.Validate(); err != nil {
			return ErrInvalidStorage.Wrap(err)
		}
		return nil
	}
	return ErrInvalidStorage.Wrap(fmt.Errorf("unknown driver %q", c.Driver))
}

// RemoteConfig points at the bucket holding synced copies; it is only used for erasure
type RemoteConfig struct {
	Enabled bool       `json:"enabled"`
	S3      *s3.Config `json:"s3"`
}

func (c *RemoteConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return c.S3.Validate()
}

// Config aggregates every section; each section keeps its own defaults and validation
type Config struct {
	Log        *log.LogConfig     `json:"log"`
	Storage    *StorageConfig     `json:"storage"`
	Engine     *engine.Config     `json:"engine"`
	Session    *session.Config    `json:"session"`
	Monitor    *monitor.Config    `json:"monitor"`
	Compliance *compliance.Config `json:"compliance"`
	Biometric  *biometric.Config  `json:"biometric"`
	Remote     *RemoteConfig      `json:"remote"`
	Metrics    *metrics.Config    `json:"metrics"`
}

func NewConfig() *Config {
	return &Config{
		Log:        log.NewDefaultConfig(),
		Storage:    NewStorageConfig(),
		Engine:     engine.NewConfig(),
		Session:    session.NewConfig(),
		Monitor:    monitor.NewConfig(),
		Compliance: compliance.NewConfig(),
		Biometric:  biometric.NewConfig(),
		Remote:     &RemoteConfig{S3: s3.NewConfig()},
		Metrics:    metrics.NewConfig(),
	}
}

func (c *Config) sections() map[string]interface{} {
	return map[string]interface{}{
		"log":        c.Log,
		"storage":    c.Storage,
		"engine":     c.Engine,
		"session":    c.Session,
		"monitor":    c.Monitor,
		"compliance": c.Compliance,
		"biometric":  c.Biometric,
		"remote":     c.Remote,
		"metrics":    c.Metrics,
	}
}

func (c *Config) Validate() error {
	return config.ValidateAll(c.Log, c.Storage, c.Engine, c.Session, c.Monitor, c.Compliance, c.Biometric, c.Remote, c.Metrics)
}

// LoadConfig starts from the defaults and applies each provider in order; later providers
// override earlier ones. Missing sections keep their defaults
func LoadConfig(providers ...config.ConfigProvider) (*Config, error) {
	cfg := NewConfig()
	for _, p := range providers {
		for name, dest := range cfg.sections() {
			if err := p.GetKey(name, dest); err != nil && !errors.Is(err, config.ErrNoKey) {
				return nil, fmt.Errorf("config section %s: %w", name, err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
