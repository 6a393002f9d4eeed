package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/events"
	"github.com/oddbit-project/safekeep/provider/kv"
	"github.com/oddbit-project/safekeep/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	goodSecret  = "K7#mPlummox92!"
	otherSecret = "Tr0ub4dor&3xyz"
)

type fixture struct {
	engine *Engine
	store  *store.Store
	clock  *clockwork.FakeClock
	hub    *events.Hub[events.SessionEvent]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	return newFixtureWithBackend(t, clock, kv.NewMemoryKVWithClock(clock))
}

func newFixtureWithBackend(t *testing.T, clock *clockwork.FakeClock, backend kv.KV) *fixture {
	t.Helper()
	st := store.New(backend, store.DefaultPrefix)
	hub := events.NewHub[events.SessionEvent]("test")
	e, err := New(context.Background(), NewConfig(), st, WithClock(clock), WithSessionHub(hub))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close()
		hub.Close()
	})
	return &fixture{engine: e, store: st, clock: clock, hub: hub}
}

func TestConfigValidate(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.Validate())

	cfg.KDFIterations = 1000
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = NewConfig()
	cfg.MaxFailedAttempts = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, plaintext := range [][]byte{{}, []byte("x"), []byte(`{"mood":7,"notes":"fine"}`)} {
		rec, err := f.engine.Encrypt(ctx, plaintext, goodSecret, "notes")
		require.NoError(t, err)
		assert.Len(t, rec.Salt, 32)
		assert.Len(t, rec.IV, 16)
		assert.Equal(t, store.CurrentSchemaVersion, rec.SchemaVersion)

		out, err := f.engine.Decrypt(ctx, rec, goodSecret, "notes")
		require.NoError(t, err)
		assert.Equal(t, len(plaintext), len(out))
		if len(plaintext) > 0 {
			assert.Equal(t, plaintext, out)
		}
	}
}

func TestEncryptFreshSaltAndIV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Encrypt(ctx, []byte("same"), goodSecret, "d")
	require.NoError(t, err)
	b, err := f.engine.Encrypt(ctx, []byte("same"), goodSecret, "d")
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecryptFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.engine.Encrypt(ctx, []byte("secret data"), goodSecret, "d")
	require.NoError(t, err)

	clone := func() *store.EncryptedRecord {
		c := *rec
		c.Ciphertext = append([]byte(nil), rec.Ciphertext...)
		c.IV = append([]byte(nil), rec.IV...)
		c.Salt = append([]byte(nil), rec.Salt...)
		return &c
	}

	tests := []struct {
		name   string
		rec    func() *store.EncryptedRecord
		secret string
		domain string
	}{
		{"wrong secret", clone, otherSecret, "d"},
		{"wrong domain", clone, goodSecret, "other"},
		{"flipped ciphertext", func() *store.EncryptedRecord {
			c := clone()
			c.Ciphertext[0] ^= 0x01
			return c
		}, goodSecret, "d"},
		{"flipped tag", func() *store.EncryptedRecord {
			c := clone()
			c.Ciphertext[len(c.Ciphertext)-1] ^= 0x80
			return c
		}, goodSecret, "d"},
		{"flipped iv", func() *store.EncryptedRecord {
			c := clone()
			c.IV[3] ^= 0x10
			return c
		}, goodSecret, "d"},
		{"short salt", func() *store.EncryptedRecord {
			c := clone()
			c.Salt = c.Salt[:8]
			return c
		}, goodSecret, "d"},
		{"truncated ciphertext", func() *store.EncryptedRecord {
			c := clone()
			c.Ciphertext = c.Ciphertext[:4]
			return c
		}, goodSecret, "d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.engine.Decrypt(ctx, tt.rec(), tt.secret, tt.domain)
			assert.Nil(t, out)
			assert.Equal(t, ErrWrongSecretOrCorruptData, err)
		})
	}
}

func TestDecryptUnknownSchemaVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.engine.Encrypt(ctx, []byte("data"), goodSecret, "d")
	require.NoError(t, err)
	rec.SchemaVersion = 2

	_, err = f.engine.Decrypt(ctx, rec, goodSecret, "d")
	assert.ErrorIs(t, err, ErrSchemaVersionUnsupported)
}

func TestSetupSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.Equal(t, StateUninitialized, f.engine.State())

	assert.ErrorIs(t, f.engine.SetupSecret(ctx, "password"), ErrWeakSecret)
	assert.Equal(t, StateUninitialized, f.engine.State())

	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	assert.True(t, f.engine.IsUnlocked())
	assert.Equal(t, uint64(1), f.engine.Generation())

	profile, err := f.engine.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "strong", profile.StrengthTier)
	assert.Equal(t, 90, profile.SecretScore)
	assert.True(t, f.clock.Now().Equal(profile.LastSecretChangeAt))

	assert.ErrorIs(t, f.engine.SetupSecret(ctx, otherSecret), ErrSecretAlreadySet)
}

func TestStateAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))

	e, err := New(ctx, NewConfig(), f.store, WithClock(f.clock))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, StateSecretSet, e.State())
	assert.False(t, e.IsUnlocked())

	require.NoError(t, e.Authenticate(ctx, goodSecret))
	assert.True(t, e.IsUnlocked())
}

func TestAuthenticateWithoutSecret(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.engine.Authenticate(context.Background(), goodSecret), ErrNoSecret)
}

func TestKitchenScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, err := json.Marshal(map[string]int{"mood": 7})
	require.NoError(t, err)

	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	rec, err := f.engine.Protect(ctx, "kitchen", payload)
	require.NoError(t, err)
	assert.NotContains(t, string(rec.Ciphertext), "mood")

	f.engine.Lock()
	assert.Equal(t, StateLocked, f.engine.State())

	_, err = f.engine.Reveal(ctx, "kitchen", rec)
	assert.ErrorIs(t, err, ErrNotUnlocked)
	_, err = f.engine.RevealStored(ctx, "kitchen")
	assert.ErrorIs(t, err, ErrNotUnlocked)

	require.NoError(t, f.engine.Authenticate(ctx, goodSecret))
	out, err := f.engine.RevealStored(ctx, "kitchen")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mood":7}`, string(out))
}

func TestProtectReplacesAndBindsNamespace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))

	_, err := f.engine.Protect(ctx, "kitchen", []byte("v1"))
	require.NoError(t, err)
	rec, err := f.engine.Protect(ctx, "kitchen", []byte("v2"))
	require.NoError(t, err)

	out, err := f.engine.RevealStored(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(out))

	_, err = f.engine.Reveal(ctx, "bedroom", rec)
	assert.Equal(t, ErrWrongSecretOrCorruptData, err)

	_, err = f.engine.RevealStored(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSuchRecord)

	ns, err := f.engine.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kitchen"}, ns)
}

func TestProtectRequiresUnlock(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Protect(context.Background(), "kitchen", []byte("x"))
	assert.ErrorIs(t, err, ErrNotUnlocked)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	f.engine.Lock()

	ch, sub := f.hub.Subscribe(ctx)
	defer sub.Unsubscribe()

	for i := 0; i < 4; i++ {
		assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.Authenticate(ctx, "wrong-"+goodSecret))
		f.clock.Advance(time.Minute)
	}
	n, err := f.engine.FailedAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// the fifth failure trips the lockout but still reports the wrong secret
	assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.Authenticate(ctx, "wrong-"+goodSecret))
	until, err := f.engine.LockedUntil(ctx)
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Add(5*time.Minute).Equal(until))

	select {
	case ev := <-ch:
		assert.Equal(t, events.SessionLockedOut, ev.Kind)
		assert.True(t, until.Equal(ev.Until))
	case <-time.After(time.Second):
		t.Fatal("expected lockout event")
	}

	assert.ErrorIs(t, f.engine.Authenticate(ctx, goodSecret), ErrLockedOut)
	f.clock.Advance(4 * time.Minute)
	assert.ErrorIs(t, f.engine.Authenticate(ctx, goodSecret), ErrLockedOut)

	f.clock.Advance(time.Minute + time.Second)
	require.NoError(t, f.engine.Authenticate(ctx, goodSecret))
	until, err = f.engine.LockedUntil(ctx)
	require.NoError(t, err)
	assert.True(t, until.IsZero())

	n, err = f.engine.FailedAttempts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailuresOutsideWindowDoNotCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	f.engine.Lock()

	for i := 0; i < 4; i++ {
		assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.Authenticate(ctx, otherSecret))
	}
	f.clock.Advance(16 * time.Minute)
	assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.Authenticate(ctx, otherSecret))

	until, err := f.engine.LockedUntil(ctx)
	require.NoError(t, err)
	assert.True(t, until.IsZero())
	require.NoError(t, f.engine.Authenticate(ctx, goodSecret))
}

func TestLockoutSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	f.engine.Lock()
	for i := 0; i < 5; i++ {
		_ = f.engine.Authenticate(ctx, otherSecret)
	}

	e, err := New(ctx, NewConfig(), f.store, WithClock(f.clock))
	require.NoError(t, err)
	defer e.Close()
	assert.ErrorIs(t, e.Authenticate(ctx, goodSecret), ErrLockedOut)
}

func TestSessionEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch, sub := f.hub.Subscribe(ctx)
	defer sub.Unsubscribe()

	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	f.engine.Expire()
	f.engine.Expire()
	require.NoError(t, f.engine.Authenticate(ctx, goodSecret))
	f.engine.Lock()

	want := []events.SessionEventKind{events.SessionUnlocked, events.SessionExpired, events.SessionUnlocked, events.SessionLocked}
	for i, kind := range want {
		select {
		case ev := <-ch:
			assert.Equal(t, kind, ev.Kind, "event %d", i)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	assert.Equal(t, StateLocked, f.engine.State())
}

func TestStaleResultIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))

	release := make(chan struct{})
	blocked := make(chan struct{})
	go func() {
		_ = f.engine.pool.Run(ctx, func(ctx context.Context) error {
			close(blocked)
			<-release
			return nil
		})
	}()
	<-blocked

	result := make(chan error, 1)
	go func() {
		_, err := f.engine.Protect(ctx, "kitchen", []byte("late"))
		result <- err
	}()
	require.Eventually(t, func() bool { return f.engine.pool.GetQueueLen() == 1 }, time.Second, time.Millisecond)

	f.engine.Lock()
	close(release)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrNotUnlocked)
	case <-time.After(5 * time.Second):
		t.Fatal("protect did not return")
	}
	_, err := f.store.Records().Get(ctx, "kitchen")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChangeSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	_, err := f.engine.Protect(ctx, "kitchen", []byte("soup"))
	require.NoError(t, err)
	_, err = f.engine.Protect(ctx, "garden", []byte("roses"))
	require.NoError(t, err)

	assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.ChangeSecret(ctx, otherSecret, "Zk9!Zk9!Zk9!aa"))
	assert.ErrorIs(t, f.engine.ChangeSecret(ctx, goodSecret, "abc"), ErrWeakSecret)

	gen := f.engine.Generation()
	require.NoError(t, f.engine.ChangeSecret(ctx, goodSecret, otherSecret))
	assert.Greater(t, f.engine.Generation(), gen)

	out, err := f.engine.RevealStored(ctx, "garden")
	require.NoError(t, err)
	assert.Equal(t, "roses", string(out))

	f.engine.Lock()
	assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.Authenticate(ctx, goodSecret))
	require.NoError(t, f.engine.Authenticate(ctx, otherSecret))
	out, err = f.engine.RevealStored(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, "soup", string(out))
}

func TestWipe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	_, err := f.engine.Protect(ctx, "kitchen", []byte("soup"))
	require.NoError(t, err)

	require.NoError(t, f.engine.Wipe(ctx))
	assert.Equal(t, StateUninitialized, f.engine.State())
	assert.False(t, f.engine.IsUnlocked())

	exists, err := f.store.Verification().Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	ns, err := f.engine.Namespaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, ns)

	require.NoError(t, f.engine.SetupSecret(ctx, otherSecret))
}

// brokenVerificationKV fails any write touching the verification key while broken is set
type brokenVerificationKV struct {
	kv.KV
	broken atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (b *brokenVerificationKV) Set(ctx context.Context, k string, v []byte) error {
	if b.broken.Load() && strings.Contains(k, store.NsVerification) {
		return errDiskFull
	}
	return b.KV.Set(ctx, k, v)
}

func (b *brokenVerificationKV) SetMany(ctx context.Context, entries map[string][]byte) error {
	if b.broken.Load() {
		for k := range entries {
			if strings.Contains(k, store.NsVerification) {
				return errDiskFull
			}
		}
	}
	return b.KV.SetMany(ctx, entries)
}

func TestChangeSecretFailedCommitKeepsData(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	backend := &brokenVerificationKV{KV: kv.NewMemoryKVWithClock(clock)}
	f := newFixtureWithBackend(t, clock, backend)
	ctx := context.Background()

	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	_, err := f.engine.Protect(ctx, "kitchen", []byte("soup"))
	require.NoError(t, err)
	_, err = f.engine.Protect(ctx, "garden", []byte("roses"))
	require.NoError(t, err)
	before, err := f.engine.Profile(ctx)
	require.NoError(t, err)

	backend.broken.Store(true)
	gen := f.engine.Generation()
	assert.ErrorIs(t, f.engine.ChangeSecret(ctx, goodSecret, otherSecret), errDiskFull)
	backend.broken.Store(false)
	assert.Equal(t, gen, f.engine.Generation())

	out, err := f.engine.RevealStored(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, "soup", string(out))

	after, err := f.engine.Profile(ctx)
	require.NoError(t, err)
	assert.True(t, before.LastSecretChangeAt.Equal(after.LastSecretChangeAt))

	f.engine.Lock()
	assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.Authenticate(ctx, otherSecret))
	require.NoError(t, f.engine.Authenticate(ctx, goodSecret))
	for ns, want := range map[string]string{"kitchen": "soup", "garden": "roses"} {
		out, err = f.engine.RevealStored(ctx, ns)
		require.NoError(t, err)
		assert.Equal(t, want, string(out))
	}
}

func TestChangeSecretCountsWrongCurrentSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))

	for i := 0; i < 4; i++ {
		assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.ChangeSecret(ctx, otherSecret, "Zk9!Zk9!Zk9!aa"))
	}
	n, err := f.engine.FailedAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, ErrWrongSecretOrCorruptData, f.engine.ChangeSecret(ctx, otherSecret, "Zk9!Zk9!Zk9!aa"))
	until, err := f.engine.LockedUntil(ctx)
	require.NoError(t, err)
	assert.False(t, until.IsZero())

	// locked out even with the right current secret
	assert.ErrorIs(t, f.engine.ChangeSecret(ctx, goodSecret, "Zk9!Zk9!Zk9!aa"), ErrLockedOut)
	f.engine.Lock()
	assert.ErrorIs(t, f.engine.Authenticate(ctx, goodSecret), ErrLockedOut)
}

func TestLockoutIsNotPartOfProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	f.engine.Lock()
	for i := 0; i < 5; i++ {
		_ = f.engine.Authenticate(ctx, otherSecret)
	}

	n, err := f.engine.ResetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, f.engine.Authenticate(ctx, goodSecret), ErrLockedOut)

	require.NoError(t, f.engine.Wipe(ctx))
	until, err := f.engine.LockedUntil(ctx)
	require.NoError(t, err)
	assert.True(t, until.IsZero())
}

func TestDeleteRecordsKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetupSecret(ctx, goodSecret))
	_, err := f.engine.Protect(ctx, "kitchen", []byte("soup"))
	require.NoError(t, err)

	n, err := f.engine.DeleteRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.engine.IsUnlocked())
	_, err = f.engine.RevealStored(ctx, "kitchen")
	assert.ErrorIs(t, err, store.ErrNotFound)

	exists, err := f.store.Verification().Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

// cancelledAfterStart reports no error on its first check, then reports cancellation
type cancelledAfterStart struct {
	context.Context
	checks atomic.Int32
}

func (c *cancelledAfterStart) Err() error {
	if c.checks.Add(1) > 1 {
		return context.Canceled
	}
	return nil
}

func TestProtectDoesNotWriteAfterCancel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetupSecret(context.Background(), goodSecret))

	ctx := &cancelledAfterStart{Context: context.Background()}
	_, err := f.engine.Protect(ctx, "kitchen", []byte("late"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.store.Records().Get(context.Background(), "kitchen")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
