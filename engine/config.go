package engine

import (
	"time"

	"github.com/oddbit-project/safekeep/crypt/secure"
)

type Config struct {
	KDFIterations        int `json:"kdfIterations" default:"100000"`
	MaxFailedAttempts    int `json:"maxFailedAttempts" default:"5"`
	FailureWindowMinutes int `json:"failureWindowMinutes" default:"15"`
	LockoutMinutes       int `json:"lockoutMinutes" default:"5"`
	QueueSize            int `json:"queueSize" default:"64"`
}

func NewConfig() *Config {
	return &Config{
		KDFIterations:        secure.MinKDFIterations,
		MaxFailedAttempts:    5,
		FailureWindowMinutes: 15,
		LockoutMinutes:       5,
		QueueSize:            64,
	}
}

func (c *Config) Validate() error {
	if c.KDFIterations < secure.MinKDFIterations {
		return ErrInvalidConfig.Wrap(secure.ErrKDFIterationsTooLow)
	}
	if c.MaxFailedAttempts < 1 || c.FailureWindowMinutes < 1 || c.LockoutMinutes < 1 || c.QueueSize < 1 {
		return ErrInvalidConfig
	}
	return nil
}

func (c *Config) failureWindow() time.Duration {
	return time.Duration(c.FailureWindowMinutes) * time.Minute
}

func (c *Config) lockout() time.Duration {
	return time.Duration(c.LockoutMinutes) * time.Minute
}
