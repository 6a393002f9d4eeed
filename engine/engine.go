package engine

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/crypt/secure"
	"github.com/oddbit-project/safekeep/crypt/strength"
	"github.com/oddbit-project/safekeep/events"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/metrics"
	"github.com/oddbit-project/safekeep/store"
	"github.com/oddbit-project/safekeep/threadpool"
	"github.com/oddbit-project/safekeep/utils"
)

const (
	DomainVerification = "verification"
	DomainRecords      = "records"

	verificationSentinel = "safekeep-verification-v1"
)

// Engine owns the master secret lifecycle and every encrypt/decrypt path.
// All key derivation and cipher work runs on a single-worker pool; results
// produced for a session that has since been locked are discarded
type Engine struct {
	cfg     *Config
	store   *store.Store
	clock   clockwork.Clock
	logger  *log.Logger
	metrics *metrics.Metrics
	hub     *events.Hub[events.SessionEvent]
	pool    *threadpool.ThreadPool

	// authMu serializes operations that read-modify-write the profile or lockout state
	authMu sync.Mutex

	mu          sync.RWMutex
	state       State
	key         *secure.Key
	sessionSalt []byte
	generation  uint64
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithSessionHub(hub *events.Hub[events.SessionEvent]) Option {
	return func(e *Engine) { e.hub = hub }
}

// New validates the platform primitives and starts the crypto worker
func New(ctx context.Context, cfg *Config, st *store.Store, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := secure.SelfTest(); err != nil {
		return nil, ErrPlatformUnsupported.Wrap(err)
	}

	e := &Engine{
		cfg:   cfg,
		store: st,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.New("engine")
	}

	pool, err := threadpool.NewThreadPool(1, cfg.QueueSize)
	if err != nil {
		return nil, err
	}
	e.pool = pool.WithLogger(e.logger)
	if err = e.pool.Start(context.Background()); err != nil {
		return nil, err
	}

	exists, err := st.Verification().Exists(ctx)
	if err != nil {
		_ = e.pool.Stop()
		return nil, err
	}
	if exists {
		e.state = StateSecretSet
	} else {
		e.state = StateUninitialized
	}
	return e, nil
}

// Close clears the session key and stops the crypto worker
func (e *Engine) Close() error {
	e.mu.Lock()
	e.clearKey()
	e.mu.Unlock()
	return e.pool.Stop()
}

func aad(domain string) []byte {
	return []byte(fmt.Sprintf("safekeep:v%d:%s", store.CurrentSchemaVersion, domain))
}

func recordDomain(namespace string) string {
	return DomainRecords + ":" + namespace
}

// Encrypt derives a fresh key from secret and seals plaintext bound to domain
func (e *Engine) Encrypt(ctx context.Context, plaintext []byte, secret string, domain string) (*store.EncryptedRecord, error) {
	var rec *store.EncryptedRecord
	err := e.pool.Run(ctx, func(ctx context.Context) error {
		start := time.Now()
		var err error
		rec, err = e.encrypt(plaintext, []byte(secret), nil, domain)
		e.metrics.CryptoOp("encrypt", start, err)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) encrypt(plaintext, secret, salt []byte, domain string) (*store.EncryptedRecord, error) {
	key, salt, err := secure.DeriveKey(secret, salt, e.cfg.KDFIterations)
	if err != nil {
		return nil, err
	}
	defer key.Clear()
	iv, ct, err := key.Seal(plaintext, aad(domain))
	if err != nil {
		return nil, err
	}
	return &store.EncryptedRecord{
		Ciphertext:    ct,
		IV:            iv,
		Salt:          salt,
		CreatedAt:     e.clock.Now(),
		SchemaVersion: store.CurrentSchemaVersion,
	}, nil
}

// Decrypt re-derives the key from secret and the record salt. Every failure other
// than an unknown schema version is reported as ErrWrongSecretOrCorruptData
func (e *Engine) Decrypt(ctx context.Context, rec *store.EncryptedRecord, secret string, domain string) ([]byte, error) {
	if err := checkSchema(rec); err != nil {
		return nil, err
	}
	var plaintext []byte
	err := e.pool.Run(ctx, func(ctx context.Context) error {
		start := time.Now()
		key, _, err := secure.DeriveKey([]byte(secret), rec.Salt, e.cfg.KDFIterations)
		if err != nil {
			e.metrics.CryptoOp("decrypt", start, err)
			return ErrWrongSecretOrCorruptData
		}
		defer key.Clear()
		plaintext, err = key.Open(rec.IV, rec.Ciphertext, aad(domain))
		e.metrics.CryptoOp("decrypt", start, err)
		if err != nil {
			return ErrWrongSecretOrCorruptData
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func checkSchema(rec *store.EncryptedRecord) error {
	if rec == nil {
		return ErrWrongSecretOrCorruptData
	}
	if rec.SchemaVersion != store.CurrentSchemaVersion {
		return ErrSchemaVersionUnsupported
	}
	return nil
}

// SetupSecret stores the verification record for a first-time secret and opens a session
func (e *Engine) SetupSecret(ctx context.Context, secret string) error {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	exists, err := e.store.Verification().Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return ErrSecretAlreadySet
	}
	score := strength.Assess(secret)
	if score < strength.MinAcceptableScore {
		return ErrWeakSecret
	}

	var (
		rec *store.EncryptedRecord
		key *secure.Key
	)
	err = e.pool.Run(ctx, func(ctx context.Context) error {
		var err error
		rec, key, err = e.newVerification([]byte(secret))
		return err
	})
	if err != nil {
		return err
	}
	now := e.clock.Now()
	profile := &store.SecurityProfile{
		StrengthTier:       string(strength.TierOf(score)),
		SecretScore:        score,
		LastSecretChangeAt: now,
		SessionCount:       1,
		LastActivityAt:     now,
	}
	if err = e.store.Batch().PutVerification(rec).PutProfile(profile).Commit(ctx); err != nil {
		key.Clear()
		return err
	}

	gen := e.openSession(key, rec.Salt)
	e.logger.Info("master secret configured", log.KV{"tier": profile.StrengthTier, "generation": gen})
	e.publish(events.SessionEvent{Kind: events.SessionUnlocked, Generation: gen, Reason: "setup", At: now})
	return nil
}

// newVerification derives a session key with a fresh salt and seals the sentinel with it.
// The returned key stays live; the caller owns it
func (e *Engine) newVerification(secret []byte) (*store.EncryptedRecord, *secure.Key, error) {
	key, salt, err := secure.DeriveKey(secret, nil, e.cfg.KDFIterations)
	if err != nil {
		return nil, nil, err
	}
	iv, ct, err := key.Seal([]byte(verificationSentinel), aad(DomainVerification))
	if err != nil {
		key.Clear()
		return nil, nil, err
	}
	return &store.EncryptedRecord{
		Ciphertext:    ct,
		IV:            iv,
		Salt:          salt,
		CreatedAt:     e.clock.Now(),
		SchemaVersion: store.CurrentSchemaVersion,
	}, key, nil
}

// verify derives the key for secret against the verification record and checks the sentinel.
// On success the derived key is returned live
func (e *Engine) verify(ctx context.Context, rec *store.EncryptedRecord, secret string) (*secure.Key, error) {
	var key *secure.Key
	err := e.pool.Run(ctx, func(ctx context.Context) error {
		start := time.Now()
		k, _, err := secure.DeriveKey([]byte(secret), rec.Salt, e.cfg.KDFIterations)
		if err != nil {
			e.metrics.CryptoOp("verify", start, err)
			return ErrWrongSecretOrCorruptData
		}
		pt, err := k.Open(rec.IV, rec.Ciphertext, aad(DomainVerification))
		if err == nil && subtle.ConstantTimeCompare(pt, []byte(verificationSentinel)) != 1 {
			err = ErrWrongSecretOrCorruptData
		}
		e.metrics.CryptoOp("verify", start, err)
		if err != nil {
			k.Clear()
			return ErrWrongSecretOrCorruptData
		}
		key = k
		return nil
	})
	return key, err
}

// Authenticate verifies secret and opens a new session. Failures are counted in the
// lockout state; reaching the limit inside the window locks authentication out
func (e *Engine) Authenticate(ctx context.Context, secret string) error {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	now := e.clock.Now()
	lockout, err := e.checkLockout(ctx, now)
	if err != nil {
		return err
	}

	rec, err := e.store.Verification().Get(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSecret
		}
		return err
	}
	if err = checkSchema(rec); err != nil {
		return err
	}

	key, err := e.verify(ctx, rec, secret)
	if err != nil {
		return e.rejected(ctx, lockout, now, err)
	}

	if len(lockout.FailedAttempts) > 0 || !lockout.LockedUntil.IsZero() {
		if err = e.store.Lockout().Put(ctx, &store.LockoutState{}); err != nil {
			key.Clear()
			return err
		}
	}
	profile, err := e.store.Profile().Get(ctx)
	if err != nil {
		key.Clear()
		return err
	}
	profile.SessionCount++
	profile.LastActivityAt = now
	if err = e.store.Profile().Put(ctx, profile); err != nil {
		key.Clear()
		return err
	}

	gen := e.openSession(key, rec.Salt)
	e.metrics.UnlockAttempt("ok")
	e.logger.Info("session unlocked", log.KV{"generation": gen})
	e.publish(events.SessionEvent{Kind: events.SessionUnlocked, Generation: gen, Reason: "secret", At: now})
	return nil
}

// checkLockout loads the lockout state and fails while a lockout is active
func (e *Engine) checkLockout(ctx context.Context, now time.Time) (*store.LockoutState, error) {
	lockout, err := e.store.Lockout().Get(ctx)
	if err != nil {
		return nil, err
	}
	if now.Before(lockout.LockedUntil) {
		e.metrics.UnlockAttempt("locked_out")
		return nil, ErrLockedOut
	}
	return lockout, nil
}

// rejected counts a failed secret check; other verification errors pass through
func (e *Engine) rejected(ctx context.Context, lockout *store.LockoutState, now time.Time, err error) error {
	if !errors.Is(err, ErrWrongSecretOrCorruptData) {
		return err
	}
	if ferr := e.recordFailure(ctx, lockout, now); ferr != nil {
		return ferr
	}
	e.metrics.UnlockAttempt("failed")
	return ErrWrongSecretOrCorruptData
}

func (e *Engine) recordFailure(ctx context.Context, lockout *store.LockoutState, now time.Time) error {
	cutoff := now.Add(-e.cfg.failureWindow())
	recent := lockout.FailedAttempts[:0]
	for _, at := range lockout.FailedAttempts {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	lockout.FailedAttempts = recent

	if len(recent) >= e.cfg.MaxFailedAttempts {
		lockout.LockedUntil = now.Add(e.cfg.lockout())
		lockout.FailedAttempts = nil
		e.metrics.Lockout()
		e.logger.Warn("authentication locked out", log.KV{"until": lockout.LockedUntil})
		e.publish(events.SessionEvent{Kind: events.SessionLockedOut, At: now, Until: lockout.LockedUntil})
	} else {
		e.logger.Warn("authentication failed", log.KV{"attempts": len(recent)})
	}
	return e.store.Lockout().Put(ctx, lockout)
}

// FailedAttempts returns the failures counted inside the current window
func (e *Engine) FailedAttempts(ctx context.Context) (int, error) {
	lockout, err := e.store.Lockout().Get(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := e.clock.Now().Add(-e.cfg.failureWindow())
	n := 0
	for _, at := range lockout.FailedAttempts {
		if at.After(cutoff) {
			n++
		}
	}
	return n, nil
}

// LockedUntil returns the end of the current lockout, or the zero time
func (e *Engine) LockedUntil(ctx context.Context) (time.Time, error) {
	lockout, err := e.store.Lockout().Get(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if e.clock.Now().Before(lockout.LockedUntil) {
		return lockout.LockedUntil, nil
	}
	return time.Time{}, nil
}

func (e *Engine) Profile(ctx context.Context) (*store.SecurityProfile, error) {
	return e.store.Profile().Get(ctx)
}

func (e *Engine) openSession(key *secure.Key, salt []byte) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearKey()
	e.key = key
	e.sessionSalt = utils.CloneBytes(salt)
	e.generation++
	e.state = StateUnlocked
	e.metrics.SetUnlocked(true)
	return e.generation
}

// must be called with mu held
func (e *Engine) clearKey() {
	if e.key != nil {
		e.key.Clear()
		e.key = nil
	}
	e.sessionSalt = nil
}

// Lock discards the session key
func (e *Engine) Lock() {
	e.endSession(StateLocked, events.SessionLocked)
}

// Expire discards the session key after an inactivity timeout
func (e *Engine) Expire() {
	e.endSession(StateSessionExpired, events.SessionExpired)
}

func (e *Engine) endSession(next State, kind events.SessionEventKind) {
	e.mu.Lock()
	if e.state != StateUnlocked {
		e.mu.Unlock()
		return
	}
	e.clearKey()
	e.state = next
	gen := e.generation
	e.mu.Unlock()

	e.metrics.SetUnlocked(false)
	e.logger.Info("session closed", log.KV{"state": next.String(), "generation": gen})
	e.publish(events.SessionEvent{Kind: kind, Generation: gen, At: e.clock.Now()})
}

func (e *Engine) IsUnlocked() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateUnlocked
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// session snapshots the live key; callers must re-check the generation before
// publishing any result
func (e *Engine) session() (*secure.Key, []byte, uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateUnlocked || e.key == nil {
		return nil, nil, 0, ErrNotUnlocked
	}
	return e.key, e.sessionSalt, e.generation, nil
}

// must be called with mu held
func (e *Engine) current(gen uint64) bool {
	return e.state == StateUnlocked && e.generation == gen
}

func (e *Engine) stale() error {
	e.metrics.StaleResult()
	e.logger.Debug("discarded result from a closed session")
	return ErrNotUnlocked
}

// Protect seals plaintext under the session key and stores it in namespace,
// replacing any previous record
func (e *Engine) Protect(ctx context.Context, namespace string, plaintext []byte) (*store.EncryptedRecord, error) {
	key, salt, gen, err := e.session()
	if err != nil {
		return nil, err
	}
	var rec *store.EncryptedRecord
	err = e.pool.Run(ctx, func(ctx context.Context) error {
		start := time.Now()
		iv, ct, err := key.Seal(plaintext, aad(recordDomain(namespace)))
		e.metrics.CryptoOp("protect", start, err)
		if err != nil {
			if errors.Is(err, secure.ErrKeyCleared) {
				return e.stale()
			}
			return err
		}
		rec = &store.EncryptedRecord{
			Ciphertext:    ct,
			IV:            iv,
			Salt:          salt,
			CreatedAt:     e.clock.Now(),
			SchemaVersion: store.CurrentSchemaVersion,
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		e.mu.RLock()
		defer e.mu.RUnlock()
		if !e.current(gen) {
			return e.stale()
		}
		return e.store.Records().Put(ctx, namespace, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Reveal opens a record sealed by Protect in the current session
func (e *Engine) Reveal(ctx context.Context, namespace string, rec *store.EncryptedRecord) ([]byte, error) {
	if err := checkSchema(rec); err != nil {
		return nil, err
	}
	key, salt, gen, err := e.session()
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(rec.Salt, salt) != 1 {
		return nil, ErrWrongSecretOrCorruptData
	}

	var plaintext []byte
	err = e.pool.Run(ctx, func(ctx context.Context) error {
		start := time.Now()
		pt, err := key.Open(rec.IV, rec.Ciphertext, aad(recordDomain(namespace)))
		e.metrics.CryptoOp("reveal", start, err)
		if err != nil {
			if errors.Is(err, secure.ErrKeyCleared) {
				return e.stale()
			}
			return ErrWrongSecretOrCorruptData
		}
		e.mu.RLock()
		defer e.mu.RUnlock()
		if !e.current(gen) {
			utils.Wipe(pt)
			return e.stale()
		}
		plaintext = pt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// RevealStored loads and opens the record stored in namespace
func (e *Engine) RevealStored(ctx context.Context, namespace string) ([]byte, error) {
	if !e.IsUnlocked() {
		return nil, ErrNotUnlocked
	}
	rec, err := e.store.Records().Get(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return e.Reveal(ctx, namespace, rec)
}

// Namespaces lists the namespaces holding a protected record
func (e *Engine) Namespaces(ctx context.Context) ([]string, error) {
	return e.store.Records().Namespaces(ctx)
}

// ChangeSecret re-encrypts every stored record under a key derived from next.
// The records, the new verification record and the profile are committed in one
// batch; on failure the stored data and the session key stay as they were
func (e *Engine) ChangeSecret(ctx context.Context, current, next string) error {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	oldKey, _, gen, err := e.session()
	if err != nil {
		return err
	}
	now := e.clock.Now()
	lockout, err := e.checkLockout(ctx, now)
	if err != nil {
		return err
	}
	rec, err := e.store.Verification().Get(ctx)
	if err != nil {
		return err
	}
	check, err := e.verify(ctx, rec, current)
	if err != nil {
		return e.rejected(ctx, lockout, now, err)
	}
	check.Clear()

	score := strength.Assess(next)
	if score < strength.MinAcceptableScore {
		return ErrWeakSecret
	}

	namespaces, err := e.store.Records().Namespaces(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]*store.EncryptedRecord, len(namespaces))
	for _, ns := range namespaces {
		r, err := e.store.Records().Get(ctx, ns)
		if err != nil {
			return err
		}
		stored[ns] = r
	}
	profile, err := e.store.Profile().Get(ctx)
	if err != nil {
		return err
	}

	var (
		newKey   *secure.Key
		newVerif *store.EncryptedRecord
		resealed = make(map[string]*store.EncryptedRecord, len(stored))
	)
	err = e.pool.Run(ctx, func(ctx context.Context) error {
		var err error
		newVerif, newKey, err = e.newVerification([]byte(next))
		if err != nil {
			return err
		}
		for ns, r := range stored {
			pt, err := oldKey.Open(r.IV, r.Ciphertext, aad(recordDomain(ns)))
			if err != nil {
				newKey.Clear()
				if errors.Is(err, secure.ErrKeyCleared) {
					return e.stale()
				}
				return ErrWrongSecretOrCorruptData
			}
			iv, ct, err := newKey.Seal(pt, aad(recordDomain(ns)))
			utils.Wipe(pt)
			if err != nil {
				newKey.Clear()
				return err
			}
			resealed[ns] = &store.EncryptedRecord{
				Ciphertext:    ct,
				IV:            iv,
				Salt:          newVerif.Salt,
				CreatedAt:     r.CreatedAt,
				SchemaVersion: store.CurrentSchemaVersion,
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	profile.StrengthTier = string(strength.TierOf(score))
	profile.SecretScore = score
	profile.LastSecretChangeAt = now
	batch := e.store.Batch()
	for ns, r := range resealed {
		batch.PutRecord(ns, r)
	}
	batch.PutVerification(newVerif).PutProfile(profile)

	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		newKey.Clear()
		return e.stale()
	}
	if err = batch.Commit(ctx); err != nil {
		e.mu.Unlock()
		newKey.Clear()
		e.logger.Error(err, "master secret change not committed")
		return err
	}
	e.clearKey()
	e.key = newKey
	e.sessionSalt = utils.CloneBytes(newVerif.Salt)
	e.generation++
	gen = e.generation
	e.mu.Unlock()

	e.logger.Info("master secret changed", log.KV{"records": len(resealed), "generation": gen})
	e.publish(events.SessionEvent{Kind: events.SessionSecretChanged, Generation: gen, At: now})
	return nil
}

// DeleteRecords removes every protected record; the key material and session stay
func (e *Engine) DeleteRecords(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.store.Records().DeleteAll(ctx)
	if err != nil {
		return n, err
	}
	e.logger.Info("protected records deleted", log.KV{"records": n})
	return n, nil
}

// ResetProfile drops the security profile. Lockout state is not part of it
func (e *Engine) ResetProfile(ctx context.Context) (int, error) {
	e.authMu.Lock()
	defer e.authMu.Unlock()
	return e.store.DeleteNamespace(ctx, store.NsProfile)
}

// Wipe destroys the session key, the verification record, every protected record,
// the security profile and the lockout state
func (e *Engine) Wipe(ctx context.Context) error {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	e.mu.Lock()
	e.clearKey()
	e.state = StateUninitialized
	e.generation++
	gen := e.generation
	e.mu.Unlock()
	e.metrics.SetUnlocked(false)

	if err := e.store.Verification().Delete(ctx); err != nil {
		return err
	}
	n, err := e.store.Records().DeleteAll(ctx)
	if err != nil {
		return err
	}
	if err = e.store.Profile().Delete(ctx); err != nil {
		return err
	}
	if err = e.store.Lockout().Delete(ctx); err != nil {
		return err
	}
	e.logger.Warn("engine wiped", log.KV{"records": n})
	e.publish(events.SessionEvent{Kind: events.SessionWiped, Generation: gen, At: e.clock.Now()})
	return nil
}

func (e *Engine) publish(ev events.SessionEvent) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}
