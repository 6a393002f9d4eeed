package compliance

import (
	"time"

	"github.com/oddbit-project/safekeep/store"
	"github.com/oddbit-project/safekeep/utils"
)

const (
	ErrConsentRequired   = utils.Error("consent required")
	ErrEssentialConsent  = utils.Error("essential consent cannot be revoked")
	ErrUnsupportedFormat = utils.Error("unsupported export format")
	ErrUnknownSection    = utils.Error("unknown export section")
	ErrUnknownCategory   = utils.Error("unknown data category")
	ErrNoOwner           = utils.Error("no component holds this data category")
	ErrInvalidConfig     = utils.Error("invalid compliance configuration")

	ErrNoSuchRecord = store.ErrNotFound
)

type Config struct {
	ActivityCap          int `json:"activityCap" default:"1000"`
	ExportTTLDays        int `json:"exportTtlDays" default:"7"`
	AnalyticsConsentDays int `json:"analyticsConsentDays" default:"365"`
}

func NewConfig() *Config {
	return &Config{
		ActivityCap:          store.DefaultActivityCap,
		ExportTTLDays:        7,
		AnalyticsConsentDays: 365,
	}
}

func (c *Config) Validate() error {
	if c.ActivityCap < 1 || c.ExportTTLDays < 1 || c.AnalyticsConsentDays < 1 {
		return ErrInvalidConfig
	}
	return nil
}

func (c *Config) exportTTL() time.Duration {
	return time.Duration(c.ExportTTLDays) * 24 * time.Hour
}

func (c *Config) analyticsExpiry() time.Duration {
	return time.Duration(c.AnalyticsConsentDays) * 24 * time.Hour
}
