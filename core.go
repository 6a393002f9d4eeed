package safekeep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/biometric"
	"github.com/oddbit-project/safekeep/compliance"
	"github.com/oddbit-project/safekeep/engine"
	"github.com/oddbit-project/safekeep/events"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/metrics"
	"github.com/oddbit-project/safekeep/monitor"
	"github.com/oddbit-project/safekeep/provider/kv"
	"github.com/oddbit-project/safekeep/provider/s3"
	"github.com/oddbit-project/safekeep/session"
	"github.com/oddbit-project/safekeep/store"
	"github.com/oddbit-project/safekeep/types/callstack"
)

type SecurityLevel string

const (
	LevelLow    SecurityLevel = "low"
	LevelMedium SecurityLevel = "medium"
	LevelHigh   SecurityLevel = "high"
)

// Core wires the five components over one store. It is the surface host screens talk to
type Core struct {
	cfg     *Config
	clock   clockwork.Clock
	logger  *log.Logger
	metrics *metrics.Metrics

	backend    kv.KV
	store      *store.Store
	engine     *engine.Engine
	policy     *session.Policy
	monitor    *monitor.Monitor
	gate       *biometric.Gate
	compliance *compliance.Layer

	sessionHub *events.Hub[events.SessionEvent]
	privacyHub *events.Hub[events.PrivacyEvent]
	alertHub   *events.Hub[store.SecurityAlert]

	closers   *callstack.CallStack
	closeOnce sync.Once
	closeErr  error
}

type Option func(*options)

type options struct {
	clock    clockwork.Clock
	backend  kv.KV
	platform biometric.Platform
	surface  session.Surface
	remote   compliance.RemoteEraser
	metrics  *metrics.Metrics
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithBackend replaces the KV adapter selected by the storage configuration
func WithBackend(backend kv.KV) Option {
	return func(o *options) { o.backend = backend }
}

func WithPlatform(p biometric.Platform) Option {
	return func(o *options) { o.platform = p }
}

func WithSurface(s session.Surface) Option {
	return func(o *options) { o.surface = s }
}

// WithRemoteEraser replaces the eraser built from the remote configuration
func WithRemoteEraser(r compliance.RemoteEraser) Option {
	return func(o *options) { o.remote = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// sessionLocker ends sessions on behalf of the policy
type sessionLocker struct{ c *Core }

func (l sessionLocker) Lock() {
	l.c.engine.Lock()
	l.c.monitor.ObserveSessionEnd(context.Background())
}

func (l sessionLocker) Expire() {
	l.c.engine.Expire()
	l.c.monitor.ObserveSessionEnd(context.Background())
}

// activityAuditor forwards to the compliance layer, which is built after the gate
type activityAuditor struct{ c *Core }

func (a activityAuditor) RecordActivity(ctx context.Context, activity, category, detail string) error {
	return a.c.compliance.RecordActivity(ctx, activity, category, detail)
}

func New(ctx context.Context, cfg *Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New("")
	}

	c := &Core{
		cfg:        cfg,
		clock:      o.clock,
		logger:     log.New("safekeep"),
		metrics:    o.metrics,
		sessionHub: events.NewHub[events.SessionEvent]("session"),
		privacyHub: events.NewHub[events.PrivacyEvent]("privacy"),
		alertHub:   events.NewHub[store.SecurityAlert]("alerts"),
		closers:    callstack.NewCallStack(),
	}
	c.closers.Add(func() error {
		c.sessionHub.Close()
		c.privacyHub.Close()
		c.alertHub.Close()
		return nil
	})

	err := c.build(ctx, o)
	if err != nil {
		_ = c.closers.Run(false)
		return nil, err
	}
	c.logger.Info("core started", log.KV{"storage": cfg.Storage.Driver, "state": c.engine.State().String()})
	return c, nil
}

func (c *Core) build(ctx context.Context, o *options) error {
	var err error
	c.backend = o.backend
	if c.backend == nil {
		if c.backend, err = openBackend(c.cfg.Storage, c.clock); err != nil {
			return err
		}
	}
	c.closers.Add(c.backend.Close)
	c.store = store.New(c.backend, c.cfg.Storage.Prefix)

	c.engine, err = engine.New(ctx, c.cfg.Engine, c.store,
		engine.WithClock(c.clock),
		engine.WithMetrics(c.metrics),
		engine.WithSessionHub(c.sessionHub))
	if err != nil {
		return err
	}
	c.closers.Add(c.engine.Close)

	sessionOpts := []session.Option{
		session.WithClock(c.clock),
		session.WithMetrics(c.metrics),
		session.WithPrivacyHub(c.privacyHub),
		session.WithSessionHub(c.sessionHub),
	}
	if o.surface != nil {
		sessionOpts = append(sessionOpts, session.WithSurface(o.surface))
	}
	if c.policy, err = session.NewPolicy(c.cfg.Session, sessionLocker{c}, sessionOpts...); err != nil {
		return err
	}
	c.closers.Add(func() error {
		c.policy.Close()
		return nil
	})

	c.monitor, err = monitor.New(c.cfg.Monitor, c.store,
		monitor.WithClock(c.clock),
		monitor.WithMetrics(c.metrics),
		monitor.WithAlertHub(c.alertHub),
		monitor.WithForceLocker(c.policy))
	if err != nil {
		return err
	}
	c.closers.Add(func() error {
		c.monitor.Close()
		return nil
	})

	c.gate, err = biometric.NewGate(c.cfg.Biometric, o.platform, c.store,
		biometric.WithClock(c.clock),
		biometric.WithMetrics(c.metrics),
		biometric.WithSessionHub(c.sessionHub),
		biometric.WithAuditor(activityAuditor{c}))
	if err != nil {
		return err
	}

	remote := o.remote
	if remote == nil && c.cfg.Remote.Enabled {
		if remote, err = s3.NewEraser(c.cfg.Remote.S3, nil); err != nil {
			return err
		}
	}
	complianceOpts := []compliance.Option{
		compliance.WithClock(c.clock),
		compliance.WithMetrics(c.metrics),
		compliance.WithAlertLog(c.monitor),
		compliance.WithDeviceRegistry(c.monitor),
		compliance.WithCredentialRegistry(c.gate),
	}
	if remote != nil {
		complianceOpts = append(complianceOpts, compliance.WithRemoteEraser(remote))
	}
	if c.compliance, err = compliance.New(c.cfg.Compliance, c.store, c.engine, complianceOpts...); err != nil {
		return err
	}
	return c.compliance.InitializeConsents(ctx)
}

func openBackend(cfg *StorageConfig, clock clockwork.Clock) (kv.KV, error) {
	if cfg.Driver == DriverMemory {
		return kv.NewMemoryKVWithClock(clock), nil
	}
	return kv.NewSqliteKV(cfg.Sqlite)
}

// Close stops every timer and releases the backend; the cached key is cleared
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.closers.Run(false)
		c.logger.Info("core stopped")
	})
	return c.closeErr
}

func (c *Core) Metrics() *metrics.Metrics {
	return c.metrics
}

func (c *Core) State() engine.State {
	return c.engine.State()
}

// SetupSecret sets the master secret on first run and opens the first session
func (c *Core) SetupSecret(ctx context.Context, secret string, env store.DeviceAttributes) error {
	if err := c.engine.SetupSecret(ctx, secret); err != nil {
		return err
	}
	c.opened(ctx, env)
	return nil
}

// Authenticate unlocks with the master secret from the device described by env
func (c *Core) Authenticate(ctx context.Context, secret string, env store.DeviceAttributes) error {
	err := c.engine.Authenticate(ctx, secret)
	if err != nil {
		if errors.Is(err, engine.ErrWrongSecretOrCorruptData) {
			c.monitor.ObserveFailedUnlock(ctx)
		}
		return err
	}
	c.opened(ctx, env)
	return nil
}

func (c *Core) opened(ctx context.Context, env store.DeviceAttributes) {
	c.policy.Arm()
	if _, err := c.monitor.ObserveUnlock(ctx, env); err != nil {
		c.logger.Error(err, "failed to register device")
	}
}

// Lock ends the session and clears the cached key
func (c *Core) Lock() {
	c.policy.Disarm()
	sessionLocker{c}.Lock()
}

func (c *Core) IsUnlocked() bool {
	return c.engine.IsUnlocked()
}

// CurrentSecurityLevel is high for an unlocked session with a verified biometric factor,
// medium for any other unlocked session and low otherwise
func (c *Core) CurrentSecurityLevel() SecurityLevel {
	if !c.engine.IsUnlocked() {
		return LevelLow
	}
	ok, err := c.gate.HasVerifiedFactor(context.Background())
	if err != nil || !ok {
		return LevelMedium
	}
	return LevelHigh
}

// Profile returns the stored security profile; it holds no secret material
func (c *Core) Profile(ctx context.Context) (*store.SecurityProfile, error) {
	return c.engine.Profile(ctx)
}

// LockedUntil returns the end of an active authentication lockout, or the zero time
func (c *Core) LockedUntil(ctx context.Context) (time.Time, error) {
	return c.engine.LockedUntil(ctx)
}

func (c *Core) ChangeSecret(ctx context.Context, current, next string) error {
	return c.engine.ChangeSecret(ctx, current, next)
}

func (c *Core) Protect(ctx context.Context, namespace string, plaintext []byte) (*store.EncryptedRecord, error) {
	rec, err := c.engine.Protect(ctx, namespace, plaintext)
	if err == nil {
		c.monitor.ObserveStorageAccess(ctx, namespace)
	}
	return rec, err
}

func (c *Core) Reveal(ctx context.Context, namespace string, rec *store.EncryptedRecord) ([]byte, error) {
	out, err := c.engine.Reveal(ctx, namespace, rec)
	if err == nil {
		c.monitor.ObserveStorageAccess(ctx, namespace)
	}
	return out, err
}

func (c *Core) RevealStored(ctx context.Context, namespace string) ([]byte, error) {
	out, err := c.engine.RevealStored(ctx, namespace)
	if err == nil {
		c.monitor.ObserveStorageAccess(ctx, namespace)
	}
	return out, err
}

func (c *Core) Namespaces(ctx context.Context) ([]string, error) {
	return c.engine.Namespaces(ctx)
}

// Subscriptions

func (c *Core) OnAlert(fn func(store.SecurityAlert)) *events.Subscription {
	return c.alertHub.SubscribeFunc(fn)
}

func (c *Core) OnPrivacyEvent(fn func(events.PrivacyEvent)) *events.Subscription {
	return c.privacyHub.SubscribeFunc(fn)
}

func (c *Core) OnSessionEvent(fn func(events.SessionEvent)) *events.Subscription {
	return c.sessionHub.SubscribeFunc(fn)
}

// Session and privacy

func (c *Core) Activity(signal session.Signal) error {
	if signal == session.SignalPointer {
		c.monitor.ObserveClick(context.Background())
	}
	return c.policy.Activity(signal)
}

func (c *Core) Background() {
	c.policy.Background()
}

func (c *Core) Foreground() {
	c.policy.Foreground()
}

func (c *Core) ScreenshotDetected() {
	c.policy.ScreenshotDetected()
}

func (c *Core) EngagePrivacy() {
	c.policy.Engage()
}

func (c *Core) DismissPrivacy() {
	c.policy.Dismiss()
}

// DismissPrivacyWithBiometric lifts privacy mode after a presence check; the session stays as it was
func (c *Core) DismissPrivacyWithBiometric(ctx context.Context) error {
	return c.policy.DismissWithBiometric(ctx, c.gate)
}

func (c *Core) PrivacyEngaged() bool {
	return c.policy.Engaged()
}

func (c *Core) ObserveViewport(ctx context.Context, v monitor.Viewport) {
	c.monitor.ObserveViewport(ctx, v)
}

// StartDevtoolsProbe samples the viewport until ctx is done
func (c *Core) StartDevtoolsProbe(ctx context.Context, sampler monitor.ViewportSampler) {
	c.monitor.StartProbe(ctx, sampler)
}

// Biometric

func (c *Core) BiometricCapabilities(ctx context.Context) biometric.Capabilities {
	return c.gate.CheckCapabilities(ctx)
}

// EnrollBiometric registers a platform credential; it requires an unlocked session
func (c *Core) EnrollBiometric(ctx context.Context, label string) (*store.BiometricCredential, error) {
	if !c.engine.IsUnlocked() {
		return nil, engine.ErrNotUnlocked
	}
	return c.gate.Enroll(ctx, label)
}

func (c *Core) VerifyBiometric(ctx context.Context) (bool, error) {
	return c.gate.Verify(ctx)
}

func (c *Core) BiometricCredentials(ctx context.Context) ([]*store.BiometricCredential, error) {
	return c.gate.Credentials(ctx)
}

func (c *Core) RemoveBiometric(ctx context.Context, credentialID []byte) error {
	return c.gate.Remove(ctx, credentialID)
}

// Monitor

func (c *Core) Alerts(ctx context.Context) ([]store.SecurityAlert, error) {
	return c.monitor.Alerts(ctx)
}

func (c *Core) ResolveAlert(ctx context.Context, alertID string) error {
	return c.monitor.Resolve(ctx, alertID)
}

func (c *Core) Devices(ctx context.Context) ([]*store.DeviceFingerprint, error) {
	return c.monitor.Devices(ctx)
}

func (c *Core) ApproveDevice(ctx context.Context, fingerprintID string) error {
	return c.monitor.ApproveDevice(ctx, fingerprintID)
}

func (c *Core) ForgetDevice(ctx context.Context, fingerprintID string) error {
	return c.monitor.ForgetDevice(ctx, fingerprintID)
}

// Compliance

func (c *Core) UpdateConsent(ctx context.Context, consentID string, granted bool) (*store.ConsentRecord, error) {
	return c.compliance.UpdateConsent(ctx, consentID, granted)
}

func (c *Core) HasConsent(ctx context.Context, consentID string) (bool, error) {
	return c.compliance.HasConsent(ctx, consentID)
}

func (c *Core) Consents(ctx context.Context) ([]*store.ConsentRecord, error) {
	return c.compliance.Consents(ctx)
}

func (c *Core) RequestExport(ctx context.Context, format string, sections []string) (*compliance.Export, error) {
	return c.compliance.ExportPortableData(ctx, format, sections)
}

// RequestErasure erases the given categories. Erasing everything also stops the session timers
func (c *Core) RequestErasure(ctx context.Context, reason string, categories []string) (*compliance.ErasureResult, error) {
	for _, cat := range categories {
		if cat == compliance.CategoryAll {
			c.policy.Disarm()
			break
		}
	}
	return c.compliance.ExerciseErasure(ctx, reason, categories)
}

func (c *Core) RequestRectification(ctx context.Context, category string, patch map[string]interface{}) (*store.Document, error) {
	return c.compliance.ExerciseRectification(ctx, category, patch)
}

// SaveDocument stores a non-secret document; health documents need the local medical data consent
func (c *Core) SaveDocument(ctx context.Context, category string, fields map[string]interface{}) (*store.Document, error) {
	if category == "health" {
		if err := c.compliance.RequireConsent(ctx, compliance.ConsentMedicalDataLocal); err != nil {
			return nil, err
		}
	}
	return c.compliance.SaveDocument(ctx, category, fields)
}

func (c *Core) Document(ctx context.Context, category string) (*store.Document, error) {
	return c.compliance.Document(ctx, category)
}

func (c *Core) ProcessingActivity(ctx context.Context) ([]store.ProcessingActivity, error) {
	return c.compliance.Activity(ctx)
}

func (c *Core) ComplianceReport(ctx context.Context) (*compliance.Report, error) {
	return c.compliance.Report(ctx)
}

func (c *Core) Tombstone(ctx context.Context) (*store.Tombstone, error) {
	return c.compliance.Tombstone(ctx)
}
