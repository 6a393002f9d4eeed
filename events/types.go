package events

import "time"

type SessionEventKind string

const (
	SessionUnlocked       SessionEventKind = "unlocked"
	SessionLocked         SessionEventKind = "locked"
	SessionExpired        SessionEventKind = "expired"
	SessionLockedOut      SessionEventKind = "locked_out"
	SessionTimeoutWarning SessionEventKind = "timeout_warning"
	SessionWiped          SessionEventKind = "wiped"
	SessionSecretChanged  SessionEventKind = "secret_changed"
	SessionBiometricOK    SessionEventKind = "biometric_verified"
)

// SessionEvent reports a change in the unlock session
type SessionEvent struct {
	Kind       SessionEventKind `json:"kind"`
	Generation uint64           `json:"generation"`
	Reason     string           `json:"reason,omitempty"`
	At         time.Time        `json:"at"`
	// Until is set for lockouts and timeout warnings
	Until time.Time `json:"until,omitempty"`
}

type PrivacyEventKind string

const (
	PrivacyEngaged    PrivacyEventKind = "engaged"
	PrivacyDisengaged PrivacyEventKind = "disengaged"
	PrivacyScheduled  PrivacyEventKind = "scheduled"
	PrivacyCancelled  PrivacyEventKind = "cancelled"
)

// PrivacyEvent reports privacy mode transitions
type PrivacyEvent struct {
	Kind   PrivacyEventKind `json:"kind"`
	Reason string           `json:"reason"`
	Cover  bool             `json:"cover"`
	At     time.Time        `json:"at"`
}
