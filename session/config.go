package session

import (
	"time"

	"github.com/oddbit-project/safekeep/utils"
)

const (
	ErrInvalidConfig = utils.Error("invalid session configuration")
	ErrUnknownSignal = utils.Error("unknown activity signal")
	ErrNotDismissed  = utils.Error("privacy cover was not dismissed")

	// ScreenshotWindow is how long privacy mode stays engaged after a capture gesture
	ScreenshotWindow = 2 * time.Second
)

type Config struct {
	AutoEnableOnBackground bool   `json:"autoEnableOnBackground"`
	AutoEnableDelaySeconds int    `json:"autoEnableDelaySeconds"`
	BlurSensitiveData      bool   `json:"blurSensitiveData"`
	ShowGenericTitle       bool   `json:"showGenericTitle"`
	GenericTitle           string `json:"genericTitle" default:"Notes"`
	CustomCoverText        string `json:"customCoverText"`
	RequireDismiss         bool   `json:"requireDismiss" default:"false"`
	SessionTimeoutMinutes  int    `json:"sessionTimeoutMinutes" default:"15"`
	WarnBeforeTimeout      bool   `json:"warnBeforeTimeout"`
	WarningMinutes         int    `json:"warningMinutes" default:"2"`
	LogoutOnBackground     bool   `json:"logoutOnBackground" default:"false"`
	BackgroundGraceMinutes int    `json:"backgroundGraceMinutes" default:"5"`
}

func NewConfig() *Config {
	return &Config{
		AutoEnableOnBackground: true,
		AutoEnableDelaySeconds: 5,
		BlurSensitiveData:      true,
		ShowGenericTitle:       true,
		GenericTitle:           "Notes",
		SessionTimeoutMinutes:  15,
		WarnBeforeTimeout:      true,
		WarningMinutes:         2,
		BackgroundGraceMinutes: 5,
	}
}

func (c *Config) Validate() error {
	switch {
	case c.SessionTimeoutMinutes < 1:
		return ErrInvalidConfig
	case c.AutoEnableDelaySeconds < 0, c.BackgroundGraceMinutes < 0:
		return ErrInvalidConfig
	case c.WarnBeforeTimeout && (c.WarningMinutes < 1 || c.WarningMinutes >= c.SessionTimeoutMinutes):
		return ErrInvalidConfig
	case c.ShowGenericTitle && c.GenericTitle == "":
		return ErrInvalidConfig
	}
	return nil
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) warning() time.Duration {
	return time.Duration(c.WarningMinutes) * time.Minute
}

func (c *Config) backgroundDelay() time.Duration {
	return time.Duration(c.AutoEnableDelaySeconds) * time.Second
}

func (c *Config) backgroundGrace() time.Duration {
	return time.Duration(c.BackgroundGraceMinutes) * time.Minute
}
