package biometric

import "github.com/oddbit-project/safekeep/utils"

const (
	ErrBiometricUnavailable = utils.Error("biometric factor is not available")
	ErrBiometricDenied      = utils.Error("biometric verification denied")
	ErrBiometricCancelled   = utils.Error("biometric verification cancelled")
	ErrInvalidConfig        = utils.Error("invalid biometric configuration")
)
