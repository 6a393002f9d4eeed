package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const DefaultNamespace = "safekeep"

// Metrics holds the core collectors. A nil *Metrics is valid and records nothing
type Metrics struct {
	Unlocks            *prometheus.CounterVec
	Lockouts           prometheus.Counter
	CryptoOps          *prometheus.CounterVec
	CryptoDuration     *prometheus.HistogramVec
	StaleResults       prometheus.Counter
	Alerts             *prometheus.CounterVec
	PrivacyEngagements *prometheus.CounterVec
	SessionUnlocked    prometheus.Gauge
	BiometricChecks    *prometheus.CounterVec
	ComplianceRequests *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Metrics{
		Unlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_attempts_total",
			Help:      "Master secret unlock attempts by result",
		}, []string{"result"}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Number of temporary lockouts",
		}),
		CryptoOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crypto_operations_total",
			Help:      "Encryption engine operations by operation and result",
		}, []string{"op", "result"}),
		CryptoDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crypto_operation_seconds",
			Help:      "Encryption engine operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_discarded_total",
			Help:      "Crypto results discarded because the session generation changed",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_alerts_total",
			Help:      "Security alerts raised by category and severity",
		}, []string{"category", "severity"}),
		PrivacyEngagements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "privacy_engagements_total",
			Help:      "Privacy mode engagements by reason",
		}, []string{"reason"}),
		SessionUnlocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_unlocked",
			Help:      "1 while the engine holds a session key",
		}),
		BiometricChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "biometric_verifications_total",
			Help:      "Biometric verifications by result",
		}, []string{"result"}),
		ComplianceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_requests_total",
			Help:      "Data subject requests by kind and result",
		}, []string{"kind", "result"}),
	}
}

// Collectors returns every collector, for registration
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Unlocks, m.Lockouts, m.CryptoOps, m.CryptoDuration, m.StaleResults, m.Alerts,
		m.PrivacyEngagements, m.SessionUnlocked, m.BiometricChecks, m.ComplianceRequests,
	}
}

// NewRegistry creates a registry holding the process, Go runtime and core collectors
func (m *Metrics) NewRegistry() (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	for _, c := range m.Collectors() {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) UnlockAttempt(res string) {
	if m == nil {
		return
	}
	m.Unlocks.WithLabelValues(res).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

// CryptoOp records the outcome and latency of op started at start
func (m *Metrics) CryptoOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.CryptoOps.WithLabelValues(op, result(err)).Inc()
	m.CryptoDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) StaleResult() {
	if m == nil {
		return
	}
	m.StaleResults.Inc()
}

func (m *Metrics) Alert(category, severity string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(category, severity).Inc()
}

func (m *Metrics) PrivacyEngaged(reason string) {
	if m == nil {
		return
	}
	m.PrivacyEngagements.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetUnlocked(unlocked bool) {
	if m == nil {
		return
	}
	if unlocked {
		m.SessionUnlocked.Set(1)
	} else {
		m.SessionUnlocked.Set(0)
	}
}

func (m *Metrics) BiometricCheck(res string) {
	if m == nil {
		return
	}
	m.BiometricChecks.WithLabelValues(res).Inc()
}

func (m *Metrics) ComplianceRequest(kind string, err error) {
	if m == nil {
		return
	}
	m.ComplianceRequests.WithLabelValues(kind, result(err)).Inc()
}
