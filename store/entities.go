package store

import "time"

// CurrentSchemaVersion is the EncryptedRecord layout written by this version
const CurrentSchemaVersion = 1

// EncryptedRecord is produced and consumed only by the engine; it is replaced, never mutated
type EncryptedRecord struct {
	Ciphertext    []byte    `json:"ciphertext"`
	IV            []byte    `json:"iv"`
	Salt          []byte    `json:"salt"`
	CreatedAt     time.Time `json:"createdAt"`
	SchemaVersion int       `json:"schemaVersion"`
}

type SecurityProfile struct {
	StrengthTier       string    `json:"strengthTier"`
	SecretScore        int       `json:"secretScore"`
	LastSecretChangeAt time.Time `json:"lastSecretChangeAt"`
	SessionCount       int       `json:"sessionCount"`
	LastActivityAt     time.Time `json:"lastActivityAt"`
}

// LockoutState tracks failed secret checks. It lives apart from the profile so
// that erasing personal data cannot lift an active lockout
type LockoutState struct {
	FailedAttempts []time.Time `json:"failedAttempts"`
	LockedUntil    time.Time   `json:"lockedUntil"`
}

type FactorType string

const (
	FactorPlatform FactorType = "platform"
)

// BiometricCredential holds the public half of a platform credential only
type BiometricCredential struct {
	CredentialID    []byte     `json:"credentialId"`
	FactorType      FactorType `json:"factorType"`
	Label           string     `json:"label"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastUsedAt      time.Time  `json:"lastUsedAt"`
	PublicKey       []byte     `json:"publicKey"`
	AttestationType string     `json:"attestationType"`
	Transports      []string   `json:"transports"`
	SignCount       uint32     `json:"signCount"`
	AAGUID          []byte     `json:"aaguid"`
}

type DeviceAttributes struct {
	UserAgent        string `json:"userAgent"`
	ScreenResolution string `json:"screenResolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
	CookiesEnabled   bool   `json:"cookiesEnabled"`
}

type DeviceFingerprint struct {
	FingerprintID string           `json:"fingerprintId"`
	RawAttributes DeviceAttributes `json:"rawAttributes"`
	Trusted       bool             `json:"trusted"`
	FirstSeenAt   time.Time        `json:"firstSeenAt"`
	LastSeenAt    time.Time        `json:"lastSeenAt"`
	AccessCount   int              `json:"accessCount"`
}

type AlertCategory string

const (
	AlertUnknownDevice      AlertCategory = "unknown_device"
	AlertSuspiciousActivity AlertCategory = "suspicious_activity"
	AlertBreachAttempt      AlertCategory = "breach_attempt"
	AlertUnusualActivity    AlertCategory = "unusual_activity"
	AlertMultipleFailures   AlertCategory = "multiple_failures"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type SecurityAlert struct {
	AlertID            string            `json:"alertId"`
	Category           AlertCategory     `json:"category"`
	Severity           Severity          `json:"severity"`
	Message            string            `json:"message"`
	CreatedAt          time.Time         `json:"createdAt"`
	Details            map[string]string `json:"details,omitempty"`
	Resolved           bool              `json:"resolved"`
	RecommendedActions []string          `json:"recommendedActions"`
}

type ConsentRecord struct {
	ConsentID   string     `json:"consentId"`
	Category    string     `json:"category"`
	Purpose     string     `json:"purpose"`
	Description string     `json:"description"`
	Granted     bool       `json:"granted"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Version     int        `json:"version"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type PortabilityExportJob struct {
	ExportID    string     `json:"exportId"`
	RequestedAt time.Time  `json:"requestedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Format      string     `json:"format"`
	Sections    []string   `json:"sections"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

type ProcessingActivity struct {
	ID       string    `json:"id"`
	Activity string    `json:"activity"`
	Category string    `json:"category"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Document is a non-secret record written by host screens
type Document struct {
	Category     string                 `json:"category"`
	Fields       map[string]interface{} `json:"fields"`
	CreatedAt    time.Time              `json:"createdAt"`
	LastModified time.Time              `json:"lastModified"`
}

// Tombstone is the only artifact that survives a full erasure
type Tombstone struct {
	ErasedAt     time.Time `json:"erasedAt"`
	Reason       string    `json:"reason"`
	Categories   []string  `json:"categories"`
	RemoteErased bool      `json:"remoteErased"`
	RemoteError  string    `json:"remoteError,omitempty"`
}
