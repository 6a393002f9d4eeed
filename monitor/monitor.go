package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/events"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/metrics"
	"github.com/oddbit-project/safekeep/provider/ratelimiter"
	"github.com/oddbit-project/safekeep/store"
)

const storageBucket = "protected-storage"

// ForceLocker executes a forced-lock signal
type ForceLocker interface {
	ForceLock(reason string)
}

// Viewport is one developer-tools probe sample
type Viewport struct {
	OuterWidth  int
	InnerWidth  int
	OuterHeight int
	InnerHeight int
}

// ViewportSampler reads the current window geometry from the host
type ViewportSampler interface {
	Sample(ctx context.Context) (Viewport, error)
}

// Monitor raises advisory alerts; it never blocks an operation.
// It owns the device registry and the alert log
type Monitor struct {
	cfg     *Config
	store   *store.Store
	alerts  *store.AlertStore
	clock   clockwork.Clock
	loc     *time.Location
	logger  *log.Logger
	metrics *metrics.Metrics
	hub     *events.Hub[store.SecurityAlert]
	limiter *ratelimiter.RateLimiter
	locker  ForceLocker

	mu           sync.Mutex
	lastClick    time.Time
	clickStreak  bool
	accesses     []time.Time
	burstFlagged bool
	devtoolsOpen bool
	failures     []time.Time
	sessionStart time.Time
	sessions     []time.Duration
}

type Option func(*Monitor)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

func WithAlertHub(hub *events.Hub[store.SecurityAlert]) Option {
	return func(m *Monitor) { m.hub = hub }
}

// WithForceLocker receives the forced-lock signal when ForceLockOnBreach is set
func WithForceLocker(l ForceLocker) Option {
	return func(m *Monitor) { m.locker = l }
}

func New(cfg *Config, st *store.Store, opts ...Option) (*Monitor, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:    cfg,
		store:  st,
		alerts: st.Alerts(cfg.AlertCap),
		clock:  clockwork.NewRealClock(),
		loc:    loc,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.New("monitor")
	}
	// at most one burst alert per access window
	m.limiter, err = ratelimiter.NewRateLimiter(ratelimiter.NewWindowConfig(1, m.accessWindow()), m.clock)
	if err != nil {
		return nil, err
	}
	m.limiter.Start()
	return m, nil
}

// Fingerprint hashes the canonical attribute set; equal attributes give equal ids
func Fingerprint(attrs store.DeviceAttributes) string {
	canonical, _ := json.Marshal(attrs)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// ObserveUnlock registers a successful unlock from the device described by attrs
func (m *Monitor) ObserveUnlock(ctx context.Context, attrs store.DeviceAttributes) (*store.DeviceFingerprint, error) {
	now := m.clock.Now()
	id := Fingerprint(attrs)

	m.mu.Lock()
	m.failures = nil
	m.sessionStart = now
	m.mu.Unlock()

	device, err := m.store.Devices().Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		device = &store.DeviceFingerprint{
			FingerprintID: id,
			RawAttributes: attrs,
			FirstSeenAt:   now,
			LastSeenAt:    now,
			AccessCount:   1,
			Trusted:       m.cfg.TrustAfterUnlocks <= 1,
		}
		if err = m.store.Devices().Put(ctx, device); err != nil {
			return nil, err
		}
		m.raise(ctx, store.AlertUnknownDevice, store.SeverityMedium, "unlock from an unrecognized device", map[string]string{
			"fingerprint": id,
			"platform":    attrs.Platform,
			"userAgent":   attrs.UserAgent,
		})
	case err != nil:
		return nil, err
	default:
		device.AccessCount++
		device.LastSeenAt = now
		if device.AccessCount >= m.cfg.TrustAfterUnlocks && !device.Trusted {
			device.Trusted = true
			m.logger.Info("device trusted", log.KV{"fingerprint": id})
		}
		if err = m.store.Devices().Put(ctx, device); err != nil {
			return nil, err
		}
	}

	hour := now.In(m.loc).Hour()
	if hour >= m.cfg.UnusualHourStart && hour < m.cfg.UnusualHourEnd {
		m.raise(ctx, store.AlertUnusualActivity, store.SeverityLow, "unlock at an unusual hour", map[string]string{
			"hour": strconv.Itoa(hour),
		})
	}
	return device, nil
}

// ObserveFailedUnlock counts a failed unlock inside the rolling window
func (m *Monitor) ObserveFailedUnlock(ctx context.Context) {
	now := m.clock.Now()
	cutoff := now.Add(-time.Duration(m.cfg.FailureWindowMinutes) * time.Minute)

	m.mu.Lock()
	recent := m.failures[:0]
	for _, at := range m.failures {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	trip := len(recent) >= m.cfg.FailureThreshold
	if trip {
		m.failures = nil
	} else {
		m.failures = recent
	}
	m.mu.Unlock()

	if trip {
		m.raise(ctx, store.AlertMultipleFailures, store.SeverityHigh, "repeated failed unlock attempts", map[string]string{
			"attempts": strconv.Itoa(len(recent)),
			"window":   fmt.Sprintf("%dm", m.cfg.FailureWindowMinutes),
		})
	}
}

// ObserveClick raises one alert per streak of clicks closer than RapidClickMillis
func (m *Monitor) ObserveClick(ctx context.Context) {
	now := m.clock.Now()
	threshold := time.Duration(m.cfg.RapidClickMillis) * time.Millisecond

	m.mu.Lock()
	rapid := !m.lastClick.IsZero() && now.Sub(m.lastClick) < threshold
	m.lastClick = now
	raise := rapid && !m.clickStreak
	m.clickStreak = rapid
	m.mu.Unlock()

	if raise {
		m.raise(ctx, store.AlertSuspiciousActivity, store.SeverityMedium, "clicks faster than a person can produce", nil)
	}
}

// ObserveStorageAccess counts protected-storage accesses inside the sliding access window.
// One alert is raised when the count first exceeds AccessBurst
func (m *Monitor) ObserveStorageAccess(ctx context.Context, namespace string) {
	now := m.clock.Now()
	cutoff := now.Add(-m.accessWindow())

	m.mu.Lock()
	recent := m.accesses[:0]
	for _, at := range m.accesses {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	// AccessBurst+1 timestamps are enough to tell an exceeded window
	if len(recent) > m.cfg.AccessBurst+1 {
		recent = recent[len(recent)-m.cfg.AccessBurst-1:]
	}
	m.accesses = recent
	over := len(recent) > m.cfg.AccessBurst
	raise := over && !m.burstFlagged
	m.burstFlagged = over
	m.mu.Unlock()

	if !raise {
		return
	}
	if !m.limiter.Allow(storageBucket) {
		m.logger.Debug("storage burst alert suppressed", log.KV{"namespace": namespace})
		return
	}
	m.raise(ctx, store.AlertBreachAttempt, store.SeverityHigh, "burst of protected-storage reads", map[string]string{
		"namespace": namespace,
		"limit":     fmt.Sprintf("%d/%ds", m.cfg.AccessBurst, m.cfg.AccessWindowSeconds),
	})
}

func (m *Monitor) accessWindow() time.Duration {
	return time.Duration(m.cfg.AccessWindowSeconds) * time.Second
}

// ObserveViewport raises an alert on each transition into the developer-tools-open state
func (m *Monitor) ObserveViewport(ctx context.Context, v Viewport) {
	threshold := m.cfg.DevtoolsThresholdPx
	open := v.OuterWidth-v.InnerWidth > threshold || v.OuterHeight-v.InnerHeight > threshold

	m.mu.Lock()
	raise := open && !m.devtoolsOpen
	m.devtoolsOpen = open
	m.mu.Unlock()

	if raise {
		m.raise(ctx, store.AlertBreachAttempt, store.SeverityHigh, "developer tools opened", map[string]string{
			"outer": fmt.Sprintf("%dx%d", v.OuterWidth, v.OuterHeight),
			"inner": fmt.Sprintf("%dx%d", v.InnerWidth, v.InnerHeight),
		})
	}
}

// StartProbe samples the viewport every ProbeIntervalMillis until ctx is done.
// Sampling errors are skipped
func (m *Monitor) StartProbe(ctx context.Context, sampler ViewportSampler) {
	ticker := m.clock.NewTicker(time.Duration(m.cfg.ProbeIntervalMillis) * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				v, err := sampler.Sample(ctx)
				if err != nil {
					m.logger.Debug("viewport sample failed", log.KV{"error": err.Error()})
					continue
				}
				m.ObserveViewport(ctx, v)
			}
		}
	}()
}

// ObserveSessionEnd closes the session opened by the last ObserveUnlock and checks its length
// against the rolling average
func (m *Monitor) ObserveSessionEnd(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	if m.sessionStart.IsZero() {
		m.mu.Unlock()
		return
	}
	duration := now.Sub(m.sessionStart)
	m.sessionStart = time.Time{}

	var outlier bool
	var avg time.Duration
	if len(m.sessions) >= m.cfg.MinSessionSamples {
		var total time.Duration
		for _, d := range m.sessions {
			total += d
		}
		avg = total / time.Duration(len(m.sessions))
		outlier = float64(duration) > m.cfg.SessionOutlierFactor*float64(avg)
	}
	m.sessions = append(m.sessions, duration)
	if len(m.sessions) > m.cfg.SessionHistorySize {
		m.sessions = m.sessions[len(m.sessions)-m.cfg.SessionHistorySize:]
	}
	m.mu.Unlock()

	if outlier {
		m.raise(ctx, store.AlertUnusualActivity, store.SeverityLow, "session much longer than usual", map[string]string{
			"duration": duration.Round(time.Second).String(),
			"average":  avg.Round(time.Second).String(),
		})
	}
}

func (m *Monitor) raise(ctx context.Context, category store.AlertCategory, severity store.Severity, message string, details map[string]string) {
	alert := store.SecurityAlert{
		AlertID:            uuid.New().String(),
		Category:           category,
		Severity:           severity,
		Message:            message,
		CreatedAt:          m.clock.Now(),
		Details:            details,
		RecommendedActions: RecommendedActions(category),
	}
	evicted, err := m.alerts.Append(ctx, alert)
	if err != nil {
		m.logger.Error(err, "failed to store security alert", log.KV{"category": string(category)})
	} else if evicted > 0 {
		m.logger.Debug("alert log evicted oldest entries", log.KV{"evicted": evicted})
	}
	m.metrics.Alert(string(category), string(severity))
	m.logger.Warn(message, log.KV{"category": string(category), "severity": string(severity)})
	if m.hub != nil {
		m.hub.Publish(alert)
	}

	if m.cfg.ForceLockOnBreach && m.locker != nil && category == store.AlertBreachAttempt && severity == store.SeverityHigh {
		m.locker.ForceLock(string(category))
	}
}

func (m *Monitor) Alerts(ctx context.Context) ([]store.SecurityAlert, error) {
	return m.alerts.List(ctx)
}

// Resolve marks an alert resolved; it is the only mutation an alert allows
func (m *Monitor) Resolve(ctx context.Context, alertID string) error {
	return m.alerts.Resolve(ctx, alertID)
}

func (m *Monitor) Devices(ctx context.Context) ([]*store.DeviceFingerprint, error) {
	return m.store.Devices().List(ctx)
}

// ApproveDevice trusts a known device before it reaches the unlock threshold
func (m *Monitor) ApproveDevice(ctx context.Context, fingerprintID string) error {
	device, err := m.store.Devices().Get(ctx, fingerprintID)
	if err != nil {
		return err
	}
	device.Trusted = true
	return m.store.Devices().Put(ctx, device)
}

// ForgetDevice removes a device; its next unlock is reported as unknown again
func (m *Monitor) ForgetDevice(ctx context.Context, fingerprintID string) error {
	if _, err := m.store.Devices().Get(ctx, fingerprintID); err != nil {
		return err
	}
	return m.store.Devices().Delete(ctx, fingerprintID)
}

// PurgeAlerts deletes the alert log and returns the number of alerts removed
func (m *Monitor) PurgeAlerts(ctx context.Context) (int, error) {
	n, err := m.alerts.Clear(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Info("alert log purged", log.KV{"alerts": n})
	return n, nil
}

// PurgeDevices forgets every known device; the next unlock from any of them is reported as unknown
func (m *Monitor) PurgeDevices(ctx context.Context) (int, error) {
	n, err := m.store.Devices().DeleteAll(ctx)
	if err != nil {
		return n, err
	}
	m.logger.Info("device registry purged", log.KV{"devices": n})
	return n, nil
}

func (m *Monitor) Close() {
	m.limiter.Shutdown()
}
