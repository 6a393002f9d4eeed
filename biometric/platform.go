package biometric

import (
	"context"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/oddbit-project/safekeep/store"
)

// PlatformInfo is what the host reports about its authenticators
type PlatformInfo struct {
	// PlatformAuthenticator is true when a user-verifying platform authenticator exists
	PlatformAuthenticator bool
	Factors               []store.FactorType
}

// Platform is the host side of a WebAuthn ceremony. Create and Get return the raw
// JSON response of the authenticator; a user abort is reported as ErrBiometricCancelled
type Platform interface {
	Probe(ctx context.Context) (PlatformInfo, error)
	Create(ctx context.Context, options *protocol.CredentialCreation) ([]byte, error)
	Get(ctx context.Context, options *protocol.CredentialAssertion) ([]byte, error)
}

// Auditor records processing activity for successful verifications
type Auditor interface {
	RecordActivity(ctx context.Context, activity, category, detail string) error
}
