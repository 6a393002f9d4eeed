package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultAlertCap    = 100
	DefaultActivityCap = 1000
)

// VerificationStore holds the sentinel record used to check the master secret
type VerificationStore struct{ s *Store }

func (s *Store) Verification() *VerificationStore { return &VerificationStore{s} }

func (v *VerificationStore) Get(ctx context.Context) (*EncryptedRecord, error) {
	var rec EncryptedRecord
	if err := v.s.getJSON(ctx, v.s.Key(NsVerification), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (v *VerificationStore) Exists(ctx context.Context) (bool, error) {
	_, err := v.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (v *VerificationStore) Put(ctx context.Context, rec *EncryptedRecord) error {
	return v.s.putJSON(ctx, v.s.Key(NsVerification), rec)
}

func (v *VerificationStore) Delete(ctx context.Context) error {
	return v.s.kv.Delete(ctx, v.s.Key(NsVerification))
}

// EncryptedRecordStore keeps one encrypted record per namespace
type EncryptedRecordStore struct{ c collection[EncryptedRecord] }

func (s *Store) Records() *EncryptedRecordStore {
	return &EncryptedRecordStore{collection[EncryptedRecord]{s, NsRecords}}
}

func (r *EncryptedRecordStore) Get(ctx context.Context, namespace string) (*EncryptedRecord, error) {
	return r.c.get(ctx, namespace)
}

// Put replaces the record stored for namespace
func (r *EncryptedRecordStore) Put(ctx context.Context, namespace string, rec *EncryptedRecord) error {
	return r.c.put(ctx, namespace, rec)
}

func (r *EncryptedRecordStore) Delete(ctx context.Context, namespace string) error {
	return r.c.delete(ctx, namespace)
}

func (r *EncryptedRecordStore) Namespaces(ctx context.Context) ([]string, error) {
	return r.c.ids(ctx)
}

func (r *EncryptedRecordStore) DeleteAll(ctx context.Context) (int, error) {
	return r.c.s.DeleteNamespace(ctx, NsRecords)
}

type ProfileStore struct{ s *Store }

func (s *Store) Profile() *ProfileStore { return &ProfileStore{s} }

// Get returns the stored profile, or an empty one if none was written yet
func (p *ProfileStore) Get(ctx context.Context) (*SecurityProfile, error) {
	var profile SecurityProfile
	err := p.s.getJSON(ctx, p.s.Key(NsProfile), &profile)
	if errors.Is(err, ErrNotFound) {
		return &SecurityProfile{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (p *ProfileStore) Put(ctx context.Context, profile *SecurityProfile) error {
	return p.s.putJSON(ctx, p.s.Key(NsProfile), profile)
}

func (p *ProfileStore) Delete(ctx context.Context) error {
	return p.s.kv.Delete(ctx, p.s.Key(NsProfile))
}

// LockoutStore holds the failed-attempt counter; only a full wipe removes it
type LockoutStore struct{ s *Store }

func (s *Store) Lockout() *LockoutStore { return &LockoutStore{s} }

// Get returns the stored state, or a clear one
func (l *LockoutStore) Get(ctx context.Context) (*LockoutState, error) {
	var state LockoutState
	err := l.s.getJSON(ctx, l.s.Key(NsLockout), &state)
	if errors.Is(err, ErrNotFound) {
		return &LockoutState{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (l *LockoutStore) Put(ctx context.Context, state *LockoutState) error {
	return l.s.putJSON(ctx, l.s.Key(NsLockout), state)
}

func (l *LockoutStore) Delete(ctx context.Context) error {
	return l.s.kv.Delete(ctx, l.s.Key(NsLockout))
}

type DeviceStore struct{ c collection[DeviceFingerprint] }

func (s *Store) Devices() *DeviceStore {
	return &DeviceStore{collection[DeviceFingerprint]{s, NsDevices}}
}

func (d *DeviceStore) Get(ctx context.Context, fingerprintID string) (*DeviceFingerprint, error) {
	return d.c.get(ctx, fingerprintID)
}

func (d *DeviceStore) Put(ctx context.Context, device *DeviceFingerprint) error {
	return d.c.put(ctx, device.FingerprintID, device)
}

func (d *DeviceStore) Delete(ctx context.Context, fingerprintID string) error {
	return d.c.delete(ctx, fingerprintID)
}

func (d *DeviceStore) List(ctx context.Context) ([]*DeviceFingerprint, error) {
	return d.c.list(ctx)
}

func (d *DeviceStore) DeleteAll(ctx context.Context) (int, error) {
	return d.c.s.DeleteNamespace(ctx, NsDevices)
}

// AlertStore is the capped alert log; Resolved is the only field that changes after append
type AlertStore struct{ l cappedLog[SecurityAlert] }

func (s *Store) Alerts(limit int) *AlertStore {
	if limit <= 0 {
		limit = DefaultAlertCap
	}
	return &AlertStore{cappedLog[SecurityAlert]{s, NsAlerts, limit}}
}

// Append adds alert, evicting the oldest entries past the cap
func (a *AlertStore) Append(ctx context.Context, alert SecurityAlert) (int, error) {
	return a.l.append(ctx, alert)
}

func (a *AlertStore) List(ctx context.Context) ([]SecurityAlert, error) {
	return a.l.read(ctx)
}

// Clear removes the whole log and returns how many alerts it held
func (a *AlertStore) Clear(ctx context.Context) (int, error) {
	return a.l.clear(ctx)
}

// Resolve marks alertID resolved
func (a *AlertStore) Resolve(ctx context.Context, alertID string) error {
	return a.l.update(ctx, func(entries []SecurityAlert) ([]SecurityAlert, error) {
		for i := range entries {
			if entries[i].AlertID == alertID {
				entries[i].Resolved = true
				return entries, nil
			}
		}
		return nil, ErrNotFound
	})
}

type ConsentStore struct{ c collection[ConsentRecord] }

func (s *Store) Consents() *ConsentStore {
	return &ConsentStore{collection[ConsentRecord]{s, NsConsents}}
}

func (c *ConsentStore) Get(ctx context.Context, consentID string) (*ConsentRecord, error) {
	return c.c.get(ctx, consentID)
}

func (c *ConsentStore) Put(ctx context.Context, rec *ConsentRecord) error {
	return c.c.put(ctx, rec.ConsentID, rec)
}

func (c *ConsentStore) List(ctx context.Context) ([]*ConsentRecord, error) {
	return c.c.list(ctx)
}

type ActivityStore struct{ l cappedLog[ProcessingActivity] }

func (s *Store) Activity(limit int) *ActivityStore {
	if limit <= 0 {
		limit = DefaultActivityCap
	}
	return &ActivityStore{cappedLog[ProcessingActivity]{s, NsActivity, limit}}
}

// Append adds an entry; empty ID and zero time are filled in
func (a *ActivityStore) Append(ctx context.Context, entry ProcessingActivity) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	_, err := a.l.append(ctx, entry)
	return err
}

func (a *ActivityStore) List(ctx context.Context) ([]ProcessingActivity, error) {
	return a.l.read(ctx)
}

// Clear removes the whole log and returns how many entries it held
func (a *ActivityStore) Clear(ctx context.Context) (int, error) {
	return a.l.clear(ctx)
}

type BiometricStore struct {
	c collection[BiometricCredential]
}

func (s *Store) Biometric() *BiometricStore {
	return &BiometricStore{collection[BiometricCredential]{s, NsBiometric}}
}

func (b *BiometricStore) Get(ctx context.Context, id string) (*BiometricCredential, error) {
	return b.c.get(ctx, id)
}

func (b *BiometricStore) Put(ctx context.Context, id string, cred *BiometricCredential) error {
	return b.c.put(ctx, id, cred)
}

func (b *BiometricStore) Delete(ctx context.Context, id string) error {
	return b.c.delete(ctx, id)
}

func (b *BiometricStore) DeleteAll(ctx context.Context) (int, error) {
	return b.c.s.DeleteNamespace(ctx, NsBiometric)
}

func (b *BiometricStore) List(ctx context.Context) ([]*BiometricCredential, error) {
	list, err := b.c.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

type Install struct {
	ID        string    `json:"id"`
	UserID    []byte    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type InstallStore struct{ s *Store }

func (s *Store) Install() *InstallStore { return &InstallStore{s} }

// GetOrCreate returns the install record, creating it with gen on first use
func (i *InstallStore) GetOrCreate(ctx context.Context, gen func() (*Install, error)) (*Install, error) {
	m := i.s.lock(NsInstall)
	m.Lock()
	defer m.Unlock()
	var inst Install
	err := i.s.getJSON(ctx, i.s.Key(NsInstall), &inst)
	if err == nil {
		return &inst, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	created, err := gen()
	if err != nil {
		return nil, err
	}
	return created, i.s.putJSON(ctx, i.s.Key(NsInstall), created)
}

type DocumentStore struct{ c collection[Document] }

func (s *Store) Documents() *DocumentStore {
	return &DocumentStore{collection[Document]{s, NsDocuments}}
}

func (d *DocumentStore) Get(ctx context.Context, category string) (*Document, error) {
	return d.c.get(ctx, category)
}

func (d *DocumentStore) Put(ctx context.Context, doc *Document) error {
	return d.c.put(ctx, doc.Category, doc)
}

func (d *DocumentStore) List(ctx context.Context) ([]*Document, error) {
	return d.c.list(ctx)
}

type ExportStore struct {
	c collection[PortabilityExportJob]
}

func (s *Store) Exports() *ExportStore {
	return &ExportStore{collection[PortabilityExportJob]{s, NsExports}}
}

// Put stores job metadata until its expiry
func (e *ExportStore) Put(ctx context.Context, job *PortabilityExportJob, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return e.c.s.kv.SetTTL(ctx, e.c.key(job.ExportID), data, ttl)
}

func (e *ExportStore) Get(ctx context.Context, exportID string) (*PortabilityExportJob, error) {
	return e.c.get(ctx, exportID)
}

type TombstoneStore struct{ s *Store }

func (s *Store) Tombstone() *TombstoneStore { return &TombstoneStore{s} }

func (t *TombstoneStore) Put(ctx context.Context, ts *Tombstone) error {
	return t.s.putJSON(ctx, t.s.Key(NsTombstone), ts)
}

func (t *TombstoneStore) Get(ctx context.Context) (*Tombstone, error) {
	var ts Tombstone
	if err := t.s.getJSON(ctx, t.s.Key(NsTombstone), &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}
