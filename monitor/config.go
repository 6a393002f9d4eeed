package monitor

import (
	"time"

	"github.com/oddbit-project/safekeep/store"
	"github.com/oddbit-project/safekeep/utils"
)

const (
	ErrInvalidConfig = utils.Error("invalid monitor configuration")
	ErrNoSuchDevice  = store.ErrNotFound
	ErrNoSuchAlert   = store.ErrNotFound
)

type Config struct {
	AlertCap             int     `json:"alertCap" default:"100"`
	TrustAfterUnlocks    int     `json:"trustAfterUnlocks" default:"3"`
	RapidClickMillis     int     `json:"rapidClickMillis" default:"100"`
	AccessBurst          int     `json:"accessBurst" default:"50"`
	AccessWindowSeconds  int     `json:"accessWindowSeconds" default:"60"`
	DevtoolsThresholdPx  int     `json:"devtoolsThresholdPx" default:"160"`
	ProbeIntervalMillis  int     `json:"probeIntervalMillis" default:"1000"`
	UnusualHourStart     int     `json:"unusualHourStart"`
	UnusualHourEnd       int     `json:"unusualHourEnd" default:"6"`
	SessionHistorySize   int     `json:"sessionHistorySize" default:"20"`
	MinSessionSamples    int     `json:"minSessionSamples" default:"3"`
	SessionOutlierFactor float64 `json:"sessionOutlierFactor" default:"3"`
	FailureThreshold     int     `json:"failureThreshold" default:"5"`
	FailureWindowMinutes int     `json:"failureWindowMinutes" default:"15"`
	ForceLockOnBreach    bool    `json:"forceLockOnBreach" default:"false"`
	// Timezone names the location used for the unusual-hour check; empty means local time
	Timezone string `json:"timezone"`
}

func NewConfig() *Config {
	return &Config{
		AlertCap:             store.DefaultAlertCap,
		TrustAfterUnlocks:    3,
		RapidClickMillis:     100,
		AccessBurst:          50,
		AccessWindowSeconds:  60,
		DevtoolsThresholdPx:  160,
		ProbeIntervalMillis:  1000,
		UnusualHourStart:     2,
		UnusualHourEnd:       6,
		SessionHistorySize:   20,
		MinSessionSamples:    3,
		SessionOutlierFactor: 3,
		FailureThreshold:     5,
		FailureWindowMinutes: 15,
	}
}

func (c *Config) Validate() error {
	if c.AlertCap < 1 || c.TrustAfterUnlocks < 1 || c.RapidClickMillis < 1 {
		return ErrInvalidConfig
	}
	if c.AccessBurst < 1 || c.AccessWindowSeconds < 1 || c.DevtoolsThresholdPx < 1 || c.ProbeIntervalMillis < 1 {
		return ErrInvalidConfig
	}
	if c.UnusualHourStart < 0 || c.UnusualHourEnd > 24 || c.UnusualHourStart >= c.UnusualHourEnd {
		return ErrInvalidConfig
	}
	if c.SessionHistorySize < c.MinSessionSamples || c.MinSessionSamples < 1 || c.SessionOutlierFactor <= 1 {
		return ErrInvalidConfig
	}
	if c.FailureThreshold < 1 || c.FailureWindowMinutes < 1 {
		return ErrInvalidConfig
	}
	if _, err := c.location(); err != nil {
		return ErrInvalidConfig.Wrap(err)
	}
	return nil
}

func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
