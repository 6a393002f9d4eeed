package compliance

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/metrics"
	"github.com/oddbit-project/safekeep/store"
)

const (
	ConsentEssential          = "essential"
	ConsentMedicalDataLocal   = "medical_data_local"
	ConsentCloudSync          = "cloud_sync"
	ConsentAnalyticsAnonymous = "analytics_anonymous"
)

type consentDefault struct {
	category    string
	purpose     string
	description string
	granted     bool
	expires     bool
}

var defaultConsents = map[string]consentDefault{
	ConsentEssential: {
		category:    "essential",
		purpose:     "app operation",
		description: "Store your data on this device so the app can work",
		granted:     true,
	},
	ConsentMedicalDataLocal: {
		category:    "health",
		purpose:     "health tracking",
		description: "Keep mood and health entries on this device",
	},
	ConsentCloudSync: {
		category:    "sync",
		purpose:     "backup",
		description: "Copy encrypted records to your own remote storage",
	},
	ConsentAnalyticsAnonymous: {
		category:    "analytics",
		purpose:     "product improvement",
		description: "Share anonymous usage counts",
		expires:     true,
	},
}

// Vault is the engine side of erasure: key material, protected records and the security profile
type Vault interface {
	Wipe(ctx context.Context) error
	DeleteRecords(ctx context.Context) (int, error)
	ResetProfile(ctx context.Context) (int, error)
}

// AlertLog is the monitor's alert log
type AlertLog interface {
	Alerts(ctx context.Context) ([]store.SecurityAlert, error)
	PurgeAlerts(ctx context.Context) (int, error)
}

// DeviceRegistry is the monitor's device registry
type DeviceRegistry interface {
	Devices(ctx context.Context) ([]*store.DeviceFingerprint, error)
	PurgeDevices(ctx context.Context) (int, error)
}

// CredentialRegistry holds the enrolled biometric credentials
type CredentialRegistry interface {
	Credentials(ctx context.Context) ([]*store.BiometricCredential, error)
	RemoveAll(ctx context.Context) (int, error)
}

// RemoteEraser deletes copies held in remote storage and returns how many objects it removed
type RemoteEraser interface {
	Erase(ctx context.Context) (int, error)
}

type eraseFunc func(ctx context.Context) (int, error)

// Layer orchestrates consent, export, erasure and rectification. It owns the
// consent records, documents, export jobs and the processing-activity log;
// everything else is read and erased through the component that owns it
type Layer struct {
	cfg         *Config
	store       *store.Store
	activity    *store.ActivityStore
	vault       Vault
	alerts      AlertLog
	devices     DeviceRegistry
	credentials CredentialRegistry
	remote      RemoteEraser
	erasers     map[string]eraseFunc
	clock       clockwork.Clock
	logger      *log.Logger
	metrics     *metrics.Metrics
}

type Option func(*Layer)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Layer) { l.clock = clock }
}

func WithLogger(logger *log.Logger) Option {
	return func(l *Layer) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Layer) { l.metrics = m }
}

func WithRemoteEraser(r RemoteEraser) Option {
	return func(l *Layer) { l.remote = r }
}

func WithAlertLog(a AlertLog) Option {
	return func(l *Layer) { l.alerts = a }
}

func WithDeviceRegistry(d DeviceRegistry) Option {
	return func(l *Layer) { l.devices = d }
}

func WithCredentialRegistry(c CredentialRegistry) Option {
	return func(l *Layer) { l.credentials = c }
}

func New(cfg *Config, st *store.Store, vault Vault, opts ...Option) (*Layer, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Layer{
		cfg:      cfg,
		store:    st,
		activity: st.Activity(cfg.ActivityCap),
		vault:    vault,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = log.New("compliance")
	}
	l.erasers = l.buildErasers()
	return l, nil
}

// InitializeConsents seeds the default consent records that do not exist yet
func (l *Layer) InitializeConsents(ctx context.Context) error {
	now := l.clock.Now()
	for id, def := range defaultConsents {
		_, err := l.store.Consents().Get(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		rec := &store.ConsentRecord{
			ConsentID:   id,
			Category:    def.category,
			Purpose:     def.purpose,
			Description: def.description,
			Granted:     def.granted,
			UpdatedAt:   now,
			Version:     1,
		}
		if def.expires {
			expires := now.Add(l.cfg.analyticsExpiry())
			rec.ExpiresAt = &expires
		}
		if err = l.store.Consents().Put(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// UpdateConsent grants or revokes consentID. Revoking the essential consent is
// rejected and leaves the record untouched
func (l *Layer) UpdateConsent(ctx context.Context, consentID string, granted bool) (rec *store.ConsentRecord, err error) {
	defer func() { l.metrics.ComplianceRequest("consent", err) }()

	rec, err = l.store.Consents().Get(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if consentID == ConsentEssential && !granted {
		return nil, ErrEssentialConsent
	}
	now := l.clock.Now()
	rec.Granted = granted
	rec.UpdatedAt = now
	rec.Version++
	if defaultConsents[consentID].expires && granted {
		expires := now.Add(l.cfg.analyticsExpiry())
		rec.ExpiresAt = &expires
	}
	if err = l.store.Consents().Put(ctx, rec); err != nil {
		return nil, err
	}
	l.logger.Info("consent updated", log.KV{"consent": consentID, "granted": granted, "version": rec.Version})
	l.record(ctx, "consent_updated", "consents", consentID)
	return rec, nil
}

// HasConsent is false when the consent is missing, expired or not granted
func (l *Layer) HasConsent(ctx context.Context, consentID string) (bool, error) {
	rec, err := l.store.Consents().Get(ctx, consentID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.Granted {
		return false, nil
	}
	if rec.ExpiresAt != nil && !l.clock.Now().Before(*rec.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

// RequireConsent returns ErrConsentRequired unless HasConsent holds
func (l *Layer) RequireConsent(ctx context.Context, consentID string) error {
	ok, err := l.HasConsent(ctx, consentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrConsentRequired, consentID)
	}
	return nil
}

func (l *Layer) Consents(ctx context.Context) ([]*store.ConsentRecord, error) {
	consents, err := l.store.Consents().List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(consents, func(i, j int) bool { return consents[i].ConsentID < consents[j].ConsentID })
	return consents, nil
}

// RecordActivity appends to the processing-activity log
func (l *Layer) RecordActivity(ctx context.Context, activity, category, detail string) error {
	return l.activity.Append(ctx, store.ProcessingActivity{
		Activity: activity,
		Category: category,
		Detail:   detail,
		At:       l.clock.Now(),
	})
}

func (l *Layer) Activity(ctx context.Context) ([]store.ProcessingActivity, error) {
	return l.activity.List(ctx)
}

func (l *Layer) record(ctx context.Context, activity, category, detail string) {
	if err := l.RecordActivity(ctx, activity, category, detail); err != nil {
		l.logger.Error(err, "failed to record processing activity", log.KV{"activity": activity})
	}
}
