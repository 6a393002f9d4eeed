package safekeep

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/compliance"
	"github.com/oddbit-project/safekeep/engine"
	"github.com/oddbit-project/safekeep/events"
	"github.com/oddbit-project/safekeep/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "Tr0ub4dor&3xyz"
	wrongSecret = "K7#mPlummox92!"
)

var laptop = store.DeviceAttributes{
	UserAgent:        "Mozilla/5.0 (X11; Linux x86_64)",
	ScreenResolution: "1920x1080",
	Timezone:         "Europe/Lisbon",
	Language:         "pt-PT",
	Platform:         "linux",
	CookiesEnabled:   true,
}

type recorder[T any] struct {
	mu     sync.Mutex
	events []T
}

func (r *recorder[T]) add(ev T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.events...)
}

func newTestCore(t *testing.T) (*Core, *clockwork.FakeClock) {
	t.Helper()
	cfg := NewConfig()
	cfg.Storage.Driver = DriverMemory
	cfg.Monitor.Timezone = "UTC"
	clock := clockwork.NewFakeClockAt(time.Date(2024, 9, 2, 14, 0, 0, 0, time.UTC))
	c, err := New(context.Background(), cfg, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestKitchenScenario(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.SetupSecret(ctx, testSecret, laptop))
	payload, err := json.Marshal(map[string]int{"mood": 7})
	require.NoError(t, err)
	_, err = c.Protect(ctx, "kitchen", payload)
	require.NoError(t, err)

	c.Lock()
	assert.False(t, c.IsUnlocked())
	_, err = c.RevealStored(ctx, "kitchen")
	assert.ErrorIs(t, err, engine.ErrNotUnlocked)
	assert.NotErrorIs(t, err, engine.ErrLockedOut)

	require.NoError(t, c.Authenticate(ctx, testSecret, laptop))
	out, err := c.RevealStored(ctx, "kitchen")
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, 7, got["mood"])
}

func TestSecurityLevel(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	assert.Equal(t, LevelLow, c.CurrentSecurityLevel())
	require.NoError(t, c.SetupSecret(ctx, testSecret, laptop))
	assert.Equal(t, LevelMedium, c.CurrentSecurityLevel())
	c.Lock()
	assert.Equal(t, LevelLow, c.CurrentSecurityLevel())

	// no platform authenticator is configured
	assert.False(t, c.BiometricCapabilities(ctx).Available)
	require.NoError(t, c.Authenticate(ctx, testSecret, laptop))
	_, err := c.EnrollBiometric(ctx, "laptop")
	assert.Error(t, err)
	assert.Equal(t, LevelMedium, c.CurrentSecurityLevel())
}

func TestEnrollRequiresUnlock(t *testing.T) {
	c, _ := newTestCore(t)
	_, err := c.EnrollBiometric(context.Background(), "phone")
	assert.ErrorIs(t, err, engine.ErrNotUnlocked)
}

func TestFailedUnlocksRaiseAlerts(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	alerts := &recorder[store.SecurityAlert]{}
	sub := c.OnAlert(alerts.add)
	defer sub.Unsubscribe()

	require.NoError(t, c.SetupSecret(ctx, testSecret, laptop))
	c.Lock()
	for i := 0; i < 5; i++ {
		err := c.Authenticate(ctx, wrongSecret, laptop)
		assert.ErrorIs(t, err, engine.ErrWrongSecretOrCorruptData)
	}
	assert.ErrorIs(t, c.Authenticate(ctx, testSecret, laptop), engine.ErrLockedOut)

	require.Eventually(t, func() bool { return len(alerts.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	got := alerts.snapshot()
	assert.Equal(t, store.AlertUnknownDevice, got[0].Category)
	assert.Equal(t, store.AlertMultipleFailures, got[1].Category)
	assert.Equal(t, store.SeverityHigh, got[1].Severity)

	stored, err := c.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.NoError(t, c.ResolveAlert(ctx, stored[1].AlertID))

	devices, err := c.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].Trusted)
	require.NoError(t, c.ApproveDevice(ctx, devices[0].FingerprintID))
}

func TestProfileErasureKeepsLockout(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.SetupSecret(ctx, testSecret, laptop))
	c.Lock()
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, c.Authenticate(ctx, wrongSecret, laptop), engine.ErrWrongSecretOrCorruptData)
	}
	assert.ErrorIs(t, c.Authenticate(ctx, testSecret, laptop), engine.ErrLockedOut)

	_, err := c.RequestErasure(ctx, "", []string{"profile"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Authenticate(ctx, testSecret, laptop), engine.ErrLockedOut)

	until, err := c.LockedUntil(ctx)
	require.NoError(t, err)
	assert.False(t, until.IsZero())
	assert.False(t, c.IsUnlocked())
}

func TestPartialErasureGoesThroughOwners(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.SetupSecret(ctx, testSecret, laptop))
	_, err := c.Protect(ctx, "journal", []byte("private"))
	require.NoError(t, err)
	alerts, err := c.Alerts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)

	_, err = c.RequestErasure(ctx, "", []string{"records", "alerts", "devices"})
	require.NoError(t, err)

	names, err := c.Namespaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	alerts, err = c.Alerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	devices, err := c.Devices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	// the session survives and new records can be written
	assert.True(t, c.IsUnlocked())
	_, err = c.Protect(ctx, "journal", []byte("again"))
	require.NoError(t, err)
}

func TestInactivityExpiresSession(t *testing.T) {
	c, clock := newTestCore(t)
	ctx := context.Background()

	sessions := &recorder[events.SessionEvent]{}
	sub := c.OnSessionEvent(sessions.add)
	defer sub.Unsubscribe()

	require.NoError(t, c.SetupSecret(ctx, testSecret, laptop))

	clock.Advance(10 * time.Minute)
	require.NoError(t, c.Activity("key"))
	clock.Advance(10 * time.Minute)
	assert.True(t, c.IsUnlocked())

	clock.Advance(6 * time.Minute)
	require.Eventually(t, func() bool { return !c.IsUnlocked() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, engine.StateSessionExpired, c.State())

	require.Eventually(t, func() bool {
		var kinds []events.SessionEventKind
		for _, ev := range sessions.snapshot() {
			kinds = append(kinds, ev.Kind)
		}
		return assert.ObjectsAreEqual([]events.SessionEventKind{
			events.SessionUnlocked, events.SessionTimeoutWarning, events.SessionExpired,
		}, kinds)
	}, time.Second, 10*time.Millisecond)
}

func TestBackgroundEngagesPrivacy(t *testing.T) {
	c, clock := newTestCore(t)
	ctx := context.Background()

	privacy := &recorder[events.PrivacyEvent]{}
	sub := c.OnPrivacyEvent(privacy.add)
	defer sub.Unsubscribe()

	require.NoError(t, c.SetupSecret(ctx, testSecret, laptop))
	c.Background()
	assert.False(t, c.PrivacyEngaged())
	clock.Advance(5 * time.Second)
	require.Eventually(t, c.PrivacyEngaged, time.Second, 10*time.Millisecond)

	c.Foreground()
	require.NoError(t, c.Activity("touch"))
	assert.False(t, c.PrivacyEngaged())
	assert.True(t, c.IsUnlocked())

	require.Eventually(t, func() bool { return len(privacy.snapshot()) >= 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, events.PrivacyScheduled, privacy.snapshot()[0].Kind)
}

func TestSaveDocumentRequiresConsent(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	_, err := c.SaveDocument(ctx, "health", map[string]interface{}{"allergies": "pollen"})
	assert.ErrorIs(t, err, compliance.ErrConsentRequired)

	_, err = c.UpdateConsent(ctx, compliance.ConsentMedicalDataLocal, true)
	require.NoError(t, err)
	_, err = c.SaveDocument(ctx, "health", map[string]interface{}{"allergies": "pollen"})
	require.NoError(t, err)

	doc, err := c.RequestRectification(ctx, "health", map[string]interface{}{"allergies": "none"})
	require.NoError(t, err)
	assert.Equal(t, "none", doc.Fields["allergies"])

	activity, err := c.ProcessingActivity(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, activity)
}

func TestRequestErasureAll(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.SetupSecret(ctx, testSecret, laptop))
	_, err := c.Protect(ctx, "journal", []byte("private"))
	require.NoError(t, err)

	export, err := c.RequestExport(ctx, compliance.FormatJSON, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(export.Data), "private")

	result, err := c.RequestErasure(ctx, "closing account", []string{compliance.CategoryAll})
	require.NoError(t, err)
	assert.Greater(t, result.KeysDeleted, 0)
	assert.False(t, c.IsUnlocked())
	assert.Equal(t, LevelLow, c.CurrentSecurityLevel())

	ts, err := c.Tombstone(ctx)
	require.NoError(t, err)
	assert.Equal(t, "closing account", ts.Reason)

	names, err := c.Namespaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
