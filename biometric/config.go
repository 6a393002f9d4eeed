package biometric

import (
	"net/url"
	"time"
)

type Config struct {
	Enabled        bool     `json:"enabled"`
	RPID           string   `json:"rpId" default:"localhost"`
	RPDisplayName  string   `json:"rpDisplayName" default:"safekeep"`
	RPOrigins      []string `json:"rpOrigins"`
	TimeoutSeconds int      `json:"timeoutSeconds" default:"60"`
}

func NewConfig() *Config {
	return &Config{
		Enabled:        true,
		RPID:           "localhost",
		RPDisplayName:  "safekeep",
		RPOrigins:      []string{"https://localhost"},
		TimeoutSeconds: 60,
	}
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RPID == "" || c.RPDisplayName == "" || len(c.RPOrigins) == 0 || c.TimeoutSeconds < 1 {
		return ErrInvalidConfig
	}
	for _, origin := range c.RPOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ErrInvalidConfig
		}
	}
	return nil
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
