package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/events"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/metrics"
)

const (
	ReasonBackground = "background"
	ReasonScreenshot = "screenshot"
	ReasonManual     = "manual"
	ReasonForced     = "forced"
)

// Policy owns the inactivity clock, background scheduling and privacy mode.
// Every timer is stopped before it is replaced; callbacks carry the epoch they
// were armed in and do nothing once it has moved on
type Policy struct {
	cfg        *Config
	locker     Locker
	surface    Surface
	clock      clockwork.Clock
	logger     *log.Logger
	metrics    *metrics.Metrics
	privacyHub *events.Hub[events.PrivacyEvent]
	sessionHub *events.Hub[events.SessionEvent]

	mu       sync.Mutex
	armed    bool
	epoch    uint64
	deadline time.Time
	warn     clockwork.Timer
	expiry   clockwork.Timer

	bgEpoch   uint64
	bgEngage  clockwork.Timer
	bgLock    clockwork.Timer
	shotEpoch uint64
	shot      clockwork.Timer

	engaged bool
	reason  string
	cover   bool
}

type Option func(*Policy)

func WithClock(clock clockwork.Clock) Option {
	return func(p *Policy) { p.clock = clock }
}

func WithLogger(logger *log.Logger) Option {
	return func(p *Policy) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Policy) { p.metrics = m }
}

func WithSurface(s Surface) Option {
	return func(p *Policy) { p.surface = s }
}

func WithPrivacyHub(hub *events.Hub[events.PrivacyEvent]) Option {
	return func(p *Policy) { p.privacyHub = hub }
}

func WithSessionHub(hub *events.Hub[events.SessionEvent]) Option {
	return func(p *Policy) { p.sessionHub = hub }
}

func NewPolicy(cfg *Config, locker Locker, opts ...Option) (*Policy, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		cfg:     cfg,
		locker:  locker,
		surface: nopSurface{},
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.New("session")
	}
	return p, nil
}

// Arm starts the inactivity clock; called when a session unlocks
func (p *Policy) Arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = true
	p.rearm()
}

// Disarm stops the inactivity and background-lock timers
func (p *Policy) Disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disarm()
}

func (p *Policy) disarm() {
	p.armed = false
	p.epoch++
	p.deadline = time.Time{}
	stop(p.warn, p.expiry, p.bgLock)
	p.warn, p.expiry, p.bgLock = nil, nil, nil
}

// must be called with mu held
func (p *Policy) rearm() {
	stop(p.warn, p.expiry)
	p.epoch++
	epoch := p.epoch
	timeout := p.cfg.timeout()
	p.deadline = p.clock.Now().Add(timeout)

	p.warn = nil
	if p.cfg.WarnBeforeTimeout {
		p.warn = p.clock.AfterFunc(timeout-p.cfg.warning(), func() { p.onWarning(epoch) })
	}
	p.expiry = p.clock.AfterFunc(timeout, func() { p.onExpiry(epoch) })
}

func (p *Policy) onWarning(epoch uint64) {
	p.mu.Lock()
	if !p.armed || p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	deadline := p.deadline
	p.mu.Unlock()

	p.logger.Debug("session about to expire", log.KV{"deadline": deadline})
	p.publishSession(events.SessionEvent{Kind: events.SessionTimeoutWarning, At: p.clock.Now(), Until: deadline})
}

func (p *Policy) onExpiry(epoch uint64) {
	p.mu.Lock()
	if !p.armed || p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	p.disarm()
	p.mu.Unlock()

	p.logger.Info("session expired after inactivity")
	p.locker.Expire()
}

// Activity resets the inactivity clock and lifts privacy mode that was engaged automatically
func (p *Policy) Activity(signal Signal) error {
	if !signal.Valid() {
		return ErrUnknownSignal
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armed {
		p.rearm()
	}
	if p.engaged && !p.cover && isAutomatic(p.reason) {
		p.disengage("activity")
	}
	return nil
}

// Background schedules privacy mode, and a lock when logoutOnBackground is set
func (p *Policy) Background() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelBackground()
	epoch := p.bgEpoch

	if p.cfg.AutoEnableOnBackground && !p.engaged {
		delay := p.cfg.backgroundDelay()
		if delay == 0 {
			p.engage(ReasonBackground)
		} else {
			p.bgEngage = p.clock.AfterFunc(delay, func() { p.onBackgroundEngage(epoch) })
			p.publishPrivacy(events.PrivacyEvent{Kind: events.PrivacyScheduled, Reason: ReasonBackground, At: p.clock.Now()})
		}
	}
	if p.cfg.LogoutOnBackground && p.armed {
		p.bgLock = p.clock.AfterFunc(p.cfg.backgroundGrace(), func() { p.onBackgroundLock(epoch) })
	}
}

// Foreground cancels anything Background scheduled
func (p *Policy) Foreground() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bgEngage != nil {
		p.publishPrivacy(events.PrivacyEvent{Kind: events.PrivacyCancelled, Reason: ReasonBackground, At: p.clock.Now()})
	}
	p.cancelBackground()
}

// must be called with mu held
func (p *Policy) cancelBackground() {
	p.bgEpoch++
	stop(p.bgEngage, p.bgLock)
	p.bgEngage, p.bgLock = nil, nil
}

func (p *Policy) onBackgroundEngage(epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bgEpoch != epoch {
		return
	}
	p.bgEngage = nil
	if !p.engaged {
		p.engage(ReasonBackground)
	}
}

func (p *Policy) onBackgroundLock(epoch uint64) {
	p.mu.Lock()
	if p.bgEpoch != epoch || !p.armed {
		p.mu.Unlock()
		return
	}
	p.disarm()
	p.mu.Unlock()

	p.logger.Info("session locked after background grace period")
	p.locker.Lock()
}

// ScreenshotDetected engages privacy mode at once for ScreenshotWindow
func (p *Policy) ScreenshotDetected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	stop(p.shot)
	p.shotEpoch++
	epoch := p.shotEpoch
	if !p.engaged {
		p.engage(ReasonScreenshot)
	}
	p.shot = p.clock.AfterFunc(ScreenshotWindow, func() { p.onScreenshotWindow(epoch) })
}

func (p *Policy) onScreenshotWindow(epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shotEpoch != epoch {
		return
	}
	p.shot = nil
	if p.engaged && p.reason == ReasonScreenshot {
		p.disengage("screenshot window elapsed")
	}
}

// Engage turns privacy mode on at the user's request
func (p *Policy) Engage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engage(ReasonManual)
}

// ForceLock executes a forced-lock signal: the session is locked and privacy mode engaged
func (p *Policy) ForceLock(reason string) {
	p.mu.Lock()
	p.disarm()
	p.cancelBackground()
	p.engage(ReasonForced)
	p.mu.Unlock()

	p.logger.Warn("session force-locked", log.KV{"reason": reason})
	p.locker.Lock()
}

// must be called with mu held
func (p *Policy) engage(reason string) {
	cover := p.cfg.RequireDismiss && reason != ReasonScreenshot
	if p.engaged && p.reason == reason && p.cover == cover {
		return
	}
	pres := Presentation{Blur: p.cfg.BlurSensitiveData, Cover: cover}
	if p.cfg.ShowGenericTitle {
		pres.GenericTitle = p.cfg.GenericTitle
	}
	if cover {
		pres.CoverText = p.cfg.CustomCoverText
	}
	p.engaged = true
	p.reason = reason
	p.cover = cover
	p.surface.Engage(pres)

	p.metrics.PrivacyEngaged(reason)
	p.logger.Debug("privacy mode engaged", log.KV{"reason": reason, "cover": cover})
	p.publishPrivacy(events.PrivacyEvent{Kind: events.PrivacyEngaged, Reason: reason, Cover: cover, At: p.clock.Now()})
}

// must be called with mu held
func (p *Policy) disengage(reason string) {
	if !p.engaged {
		return
	}
	p.engaged = false
	p.reason = ""
	p.cover = false
	p.surface.Disengage()
	p.logger.Debug("privacy mode disengaged", log.KV{"reason": reason})
	p.publishPrivacy(events.PrivacyEvent{Kind: events.PrivacyDisengaged, Reason: reason, At: p.clock.Now()})
}

// Dismiss lifts privacy mode, including a cover that requires an explicit dismiss
func (p *Policy) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disengage("dismissed")
}

// DismissWithBiometric lifts privacy mode after a successful presence check.
// It never unlocks the session
func (p *Policy) DismissWithBiometric(ctx context.Context, verifier Verifier) error {
	ok, err := verifier.Verify(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotDismissed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disengage("biometric")
	return nil
}

func (p *Policy) Engaged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engaged
}

func (p *Policy) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Remaining returns the time left before the session expires, zero when not armed
func (p *Policy) Remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		return 0
	}
	if d := p.deadline.Sub(p.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Close stops every timer
func (p *Policy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disarm()
	p.cancelBackground()
	p.shotEpoch++
	stop(p.shot)
	p.shot = nil
}

func (p *Policy) publishPrivacy(ev events.PrivacyEvent) {
	if p.privacyHub != nil {
		p.privacyHub.Publish(ev)
	}
}

func (p *Policy) publishSession(ev events.SessionEvent) {
	if p.sessionHub != nil {
		p.sessionHub.Publish(ev)
	}
}

func isAutomatic(reason string) bool {
	return reason == ReasonBackground || reason == ReasonScreenshot
}

func stop(timers ...clockwork.Timer) {
	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
}
