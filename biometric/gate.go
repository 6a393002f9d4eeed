package biometric

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/events"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/metrics"
	"github.com/oddbit-project/safekeep/store"
)

// Capabilities describes the biometric factor available on this install
type Capabilities struct {
	Available        bool               `json:"available"`
	SupportedFactors []store.FactorType `json:"supportedFactors"`
	Enrolled         bool               `json:"enrolled"`
	PlatformSupport  bool               `json:"platformSupport"`
}

// Gate runs platform authenticator ceremonies. It never produces or unwraps a key:
// a successful verification only proves user presence to the caller
type Gate struct {
	cfg      *Config
	platform Platform
	party    ceremony
	store    *store.Store
	clock    clockwork.Clock
	logger   *log.Logger
	metrics  *metrics.Metrics
	hub      *events.Hub[events.SessionEvent]
	auditor  Auditor
}

type Option func(*Gate)

func WithClock(clock clockwork.Clock) Option {
	return func(g *Gate) { g.clock = clock }
}

func WithLogger(logger *log.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func WithSessionHub(hub *events.Hub[events.SessionEvent]) Option {
	return func(g *Gate) { g.hub = hub }
}

func WithAuditor(a Auditor) Option {
	return func(g *Gate) { g.auditor = a }
}

func NewGate(cfg *Config, platform Platform, st *store.Store, opts ...Option) (*Gate, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		cfg:      cfg,
		platform: platform,
		store:    st,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.New("biometric")
	}
	if cfg.Enabled {
		party, err := newRelyingParty(cfg)
		if err != nil {
			return nil, err
		}
		g.party = party
	}
	return g, nil
}

// CheckCapabilities never fails; any probe problem reports the factor as unavailable
func (g *Gate) CheckCapabilities(ctx context.Context) Capabilities {
	caps := Capabilities{SupportedFactors: []store.FactorType{}}
	if creds, err := g.store.Biometric().List(ctx); err == nil {
		caps.Enrolled = len(creds) > 0
	}
	if !g.cfg.Enabled || g.platform == nil {
		return caps
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()
	info, err := g.platform.Probe(ctx)
	if err != nil {
		g.logger.Debug("platform probe failed", log.KV{"error": err.Error()})
		return caps
	}
	caps.PlatformSupport = info.PlatformAuthenticator
	caps.Available = info.PlatformAuthenticator
	if info.Factors != nil {
		caps.SupportedFactors = info.Factors
	}
	return caps
}

// Enroll registers a new platform credential with a user-verifying authenticator
func (g *Gate) Enroll(ctx context.Context, label string) (*store.BiometricCredential, error) {
	if !g.CheckCapabilities(ctx).Available {
		return nil, ErrBiometricUnavailable
	}
	user, err := g.user(ctx)
	if err != nil {
		return nil, err
	}

	exclude := make([]protocol.CredentialDescriptor, 0, len(user.creds))
	for _, c := range user.WebAuthnCredentials() {
		exclude = append(exclude, c.Descriptor())
	}
	options, session, err := g.party.BeginRegistration(user, exclude)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()
	response, err := g.platform.Create(ctx, options)
	if err != nil {
		return nil, g.ceremonyError("enroll", err)
	}
	credential, err := g.party.FinishRegistration(user, *session, response)
	if err != nil {
		return nil, g.ceremonyError("enroll", err)
	}

	now := g.clock.Now()
	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}
	cred := &store.BiometricCredential{
		CredentialID:    credential.ID,
		FactorType:      store.FactorPlatform,
		Label:           label,
		CreatedAt:       now,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		Transports:      transports,
		SignCount:       credential.Authenticator.SignCount,
		AAGUID:          credential.Authenticator.AAGUID,
	}
	if err = g.store.Biometric().Put(ctx, credentialKey(cred.CredentialID), cred); err != nil {
		return nil, err
	}
	g.logger.Info("biometric credential enrolled", log.KV{"label": label})
	g.audit(ctx, "biometric_enrolled", label)
	return cred, nil
}

// Verify runs an assertion against the enrolled credentials
func (g *Gate) Verify(ctx context.Context) (bool, error) {
	if !g.cfg.Enabled || g.platform == nil {
		return false, ErrBiometricUnavailable
	}
	user, err := g.user(ctx)
	if err != nil {
		return false, err
	}
	if len(user.creds) == 0 {
		return false, ErrBiometricUnavailable
	}

	options, session, err := g.party.BeginLogin(user)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()
	response, err := g.platform.Get(ctx, options)
	if err != nil {
		return false, g.ceremonyError("verify", err)
	}
	credential, err := g.party.FinishLogin(user, *session, response)
	if err != nil {
		return false, g.ceremonyError("verify", err)
	}

	stored, err := g.store.Biometric().Get(ctx, credentialKey(credential.ID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, g.ceremonyError("verify", err)
		}
		return false, err
	}
	now := g.clock.Now()
	stored.LastUsedAt = now
	stored.SignCount = credential.Authenticator.SignCount
	if err = g.store.Biometric().Put(ctx, credentialKey(stored.CredentialID), stored); err != nil {
		return false, err
	}

	g.metrics.BiometricCheck("ok")
	g.logger.Info("biometric verification succeeded", log.KV{"label": stored.Label})
	g.audit(ctx, "biometric_verified", stored.Label)
	if g.hub != nil {
		g.hub.Publish(events.SessionEvent{Kind: events.SessionBiometricOK, Reason: stored.Label, At: now})
	}
	return true, nil
}

func (g *Gate) Credentials(ctx context.Context) ([]*store.BiometricCredential, error) {
	return g.store.Biometric().List(ctx)
}

func (g *Gate) Remove(ctx context.Context, credentialID []byte) error {
	key := credentialKey(credentialID)
	if _, err := g.store.Biometric().Get(ctx, key); err != nil {
		return err
	}
	if err := g.store.Biometric().Delete(ctx, key); err != nil {
		return err
	}
	g.audit(ctx, "biometric_removed", "")
	return nil
}

// RemoveAll deletes every enrolled credential and returns how many were removed
func (g *Gate) RemoveAll(ctx context.Context) (int, error) {
	n, err := g.store.Biometric().DeleteAll(ctx)
	if err != nil {
		return n, err
	}
	g.logger.Info("biometric credentials removed", log.KV{"credentials": n})
	return n, nil
}

// HasVerifiedFactor reports whether an enrolled credential has passed at least one verification
func (g *Gate) HasVerifiedFactor(ctx context.Context) (bool, error) {
	creds, err := g.store.Biometric().List(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range creds {
		if !c.LastUsedAt.IsZero() {
			return true, nil
		}
	}
	return false, nil
}

// ceremonyError maps platform and validation failures to cancelled or denied
func (g *Gate) ceremonyError(op string, err error) error {
	if errors.Is(err, ErrBiometricCancelled) || errors.Is(err, context.Canceled) {
		g.metrics.BiometricCheck("cancelled")
		g.logger.Info("biometric ceremony cancelled", log.KV{"op": op})
		return ErrBiometricCancelled
	}
	g.metrics.BiometricCheck("denied")
	g.logger.Warn("biometric ceremony rejected", log.KV{"op": op, "error": err.Error()})
	return ErrBiometricDenied
}

func (g *Gate) audit(ctx context.Context, activity, detail string) {
	if g.auditor == nil {
		return
	}
	if err := g.auditor.RecordActivity(ctx, activity, "biometric", detail); err != nil {
		g.logger.Error(err, "failed to record biometric activity")
	}
}

func (g *Gate) user(ctx context.Context) (*installUser, error) {
	inst, err := g.store.Install().GetOrCreate(ctx, func() (*store.Install, error) {
		id := uuid.New()
		return &store.Install{ID: id.String(), UserID: id[:], CreatedAt: g.clock.Now()}, nil
	})
	if err != nil {
		return nil, err
	}
	creds, err := g.store.Biometric().List(ctx)
	if err != nil {
		return nil, err
	}
	return &installUser{install: inst, creds: creds, name: g.cfg.RPDisplayName}, nil
}

func credentialKey(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// installUser is the single local user of the install
type installUser struct {
	install *store.Install
	creds   []*store.BiometricCredential
	name    string
}

func (u *installUser) WebAuthnID() []byte {
	return u.install.UserID
}

func (u *installUser) WebAuthnName() string {
	return u.install.ID
}

func (u *installUser) WebAuthnDisplayName() string {
	return u.name
}

func (u *installUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				AAGUID:    c.AAGUID,
				SignCount: c.SignCount,
			},
		}
		for _, t := range c.Transports {
			creds[i].Transport = append(creds[i].Transport, protocol.AuthenticatorTransport(t))
		}
	}
	return creds
}
