package compliance

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/store"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXML  = "xml"
	FormatYAML = "yaml"

	SectionProfile   = "profile"
	SectionConsents  = "consents"
	SectionAlerts    = "alerts"
	SectionDevices   = "devices"
	SectionBiometric = "biometric"
	SectionActivity  = "activity"
	SectionRecords   = "records"
	SectionDocuments = "documents"
)

var (
	allSections = []string{
		SectionProfile, SectionConsents, SectionAlerts, SectionDevices,
		SectionBiometric, SectionActivity, SectionRecords, SectionDocuments,
	}
	contentTypes = map[string]string{
		FormatJSON: "application/json",
		FormatCSV:  "text/csv",
		FormatXML:  "application/xml",
		FormatYAML: "application/yaml",
	}
)

// Bundle is the portable copy of the user's data. It never carries secrets,
// key material or credential public keys
type Bundle struct {
	XMLName     xml.Name  `json:"-" yaml:"-" xml:"export"`
	ExportID    string    `json:"exportId" yaml:"exportId" xml:"id,attr"`
	GeneratedAt time.Time `json:"generatedAt" yaml:"generatedAt" xml:"generatedAt,attr"`
	ExpiresAt   time.Time `json:"expiresAt" yaml:"expiresAt" xml:"expiresAt,attr"`

	Profile   *ProfileEntry    `json:"profile,omitempty" yaml:"profile,omitempty" xml:"profile,omitempty"`
	Consents  []ConsentEntry   `json:"consents,omitempty" yaml:"consents,omitempty" xml:"consents>consent,omitempty"`
	Alerts    []AlertEntry     `json:"alerts,omitempty" yaml:"alerts,omitempty" xml:"alerts>alert,omitempty"`
	Devices   []DeviceEntry    `json:"devices,omitempty" yaml:"devices,omitempty" xml:"devices>device,omitempty"`
	Biometric []BiometricEntry `json:"biometric,omitempty" yaml:"biometric,omitempty" xml:"biometric>credential,omitempty"`
	Activity  []ActivityEntry  `json:"activity,omitempty" yaml:"activity,omitempty" xml:"activity>entry,omitempty"`
	Records   []RecordEntry    `json:"records,omitempty" yaml:"records,omitempty" xml:"records>record,omitempty"`
	Documents []DocumentEntry  `json:"documents,omitempty" yaml:"documents,omitempty" xml:"documents>document,omitempty"`
}

type ProfileEntry struct {
	StrengthTier       string    `json:"strengthTier" yaml:"strengthTier" xml:"strengthTier"`
	LastSecretChangeAt time.Time `json:"lastSecretChangeAt" yaml:"lastSecretChangeAt" xml:"lastSecretChangeAt"`
	SessionCount       int       `json:"sessionCount" yaml:"sessionCount" xml:"sessionCount"`
	LastActivityAt     time.Time `json:"lastActivityAt" yaml:"lastActivityAt" xml:"lastActivityAt"`
}

type ConsentEntry struct {
	ConsentID string     `json:"consentId" yaml:"consentId" xml:"id,attr"`
	Purpose   string     `json:"purpose" yaml:"purpose" xml:"purpose"`
	Granted   bool       `json:"granted" yaml:"granted" xml:"granted"`
	Version   int        `json:"version" yaml:"version" xml:"version"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"updatedAt" xml:"updatedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty" xml:"expiresAt,omitempty"`
}

type AlertEntry struct {
	AlertID   string    `json:"alertId" yaml:"alertId" xml:"id,attr"`
	Category  string    `json:"category" yaml:"category" xml:"category"`
	Severity  string    `json:"severity" yaml:"severity" xml:"severity"`
	Message   string    `json:"message" yaml:"message" xml:"message"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt" xml:"createdAt"`
	Resolved  bool      `json:"resolved" yaml:"resolved" xml:"resolved"`
}

type DeviceEntry struct {
	FingerprintID string    `json:"fingerprintId" yaml:"fingerprintId" xml:"id,attr"`
	Platform      string    `json:"platform" yaml:"platform" xml:"platform"`
	UserAgent     string    `json:"userAgent" yaml:"userAgent" xml:"userAgent"`
	Trusted       bool      `json:"trusted" yaml:"trusted" xml:"trusted"`
	FirstSeenAt   time.Time `json:"firstSeenAt" yaml:"firstSeenAt" xml:"firstSeenAt"`
	LastSeenAt    time.Time `json:"lastSeenAt" yaml:"lastSeenAt" xml:"lastSeenAt"`
	AccessCount   int       `json:"accessCount" yaml:"accessCount" xml:"accessCount"`
}

type BiometricEntry struct {
	Label      string    `json:"label" yaml:"label" xml:"label"`
	FactorType string    `json:"factorType" yaml:"factorType" xml:"factorType"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt" xml:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt" yaml:"lastUsedAt" xml:"lastUsedAt"`
}

type ActivityEntry struct {
	Activity string    `json:"activity" yaml:"activity" xml:"activity"`
	Category string    `json:"category" yaml:"category" xml:"category"`
	Detail   string    `json:"detail,omitempty" yaml:"detail,omitempty" xml:"detail,omitempty"`
	At       time.Time `json:"at" yaml:"at" xml:"at"`
}

// RecordEntry describes an encrypted record without its contents
type RecordEntry struct {
	Namespace     string    `json:"namespace" yaml:"namespace" xml:"namespace,attr"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt" xml:"createdAt"`
	SchemaVersion int       `json:"schemaVersion" yaml:"schemaVersion" xml:"schemaVersion"`
}

type DocumentEntry struct {
	Category     string    `json:"category" yaml:"category" xml:"category,attr"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt" xml:"createdAt"`
	LastModified time.Time `json:"lastModified" yaml:"lastModified" xml:"lastModified"`
	Fields       []Field   `json:"fields" yaml:"fields" xml:"fields>field"`
}

type Field struct {
	Name  string `json:"name" yaml:"name" xml:"name,attr"`
	Value string `json:"value" yaml:"value" xml:",chardata"`
}

// Export is a rendered bundle and the job that tracks it. The rendered data is never persisted
type Export struct {
	Job         *store.PortabilityExportJob
	ContentType string
	Data        []byte
}

// ExportPortableData renders the requested sections; empty sections means all of them
func (l *Layer) ExportPortableData(ctx context.Context, format string, sections []string) (export *Export, err error) {
	defer func() { l.metrics.ComplianceRequest("export", err) }()

	contentType, ok := contentTypes[format]
	if !ok {
		return nil, ErrUnsupportedFormat
	}
	if len(sections) == 0 {
		sections = allSections
	}
	for _, s := range sections {
		if !validSection(s) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSection, s)
		}
	}

	now := l.clock.Now()
	job := &store.PortabilityExportJob{
		ExportID:    uuid.New().String(),
		RequestedAt: now,
		Format:      format,
		Sections:    append([]string(nil), sections...),
		ExpiresAt:   now.Add(l.cfg.exportTTL()),
	}
	bundle := &Bundle{ExportID: job.ExportID, GeneratedAt: now, ExpiresAt: job.ExpiresAt}
	for _, s := range sections {
		if err = l.fill(ctx, bundle, s); err != nil {
			return nil, err
		}
	}

	data, err := render(bundle, format)
	if err != nil {
		return nil, err
	}
	completed := l.clock.Now()
	job.CompletedAt = &completed
	if err = l.store.Exports().Put(ctx, job, l.cfg.exportTTL()); err != nil {
		return nil, err
	}

	l.logger.Info("portable data exported", log.KV{"exportId": job.ExportID, "format": format, "sections": len(sections)})
	l.record(ctx, "data_exported", "portability", format)
	return &Export{Job: job, ContentType: contentType, Data: data}, nil
}

// ExportJob returns a job while it has not expired
func (l *Layer) ExportJob(ctx context.Context, exportID string) (*store.PortabilityExportJob, error) {
	return l.store.Exports().Get(ctx, exportID)
}

func validSection(s string) bool {
	for _, v := range allSections {
		if s == v {
			return true
		}
	}
	return false
}

func (l *Layer) fill(ctx context.Context, b *Bundle, section string) error {
	switch section {
	case SectionProfile:
		p, err := l.store.Profile().Get(ctx)
		if err != nil {
			return err
		}
		b.Profile = &ProfileEntry{
			StrengthTier:       p.StrengthTier,
			LastSecretChangeAt: p.LastSecretChangeAt,
			SessionCount:       p.SessionCount,
			LastActivityAt:     p.LastActivityAt,
		}

	case SectionConsents:
		consents, err := l.Consents(ctx)
		if err != nil {
			return err
		}
		for _, c := range consents {
			b.Consents = append(b.Consents, ConsentEntry{
				ConsentID: c.ConsentID,
				Purpose:   c.Purpose,
				Granted:   c.Granted,
				Version:   c.Version,
				UpdatedAt: c.UpdatedAt,
				ExpiresAt: c.ExpiresAt,
			})
		}

	case SectionAlerts:
		if l.alerts == nil {
			return fmt.Errorf("%w: %s", ErrNoOwner, section)
		}
		alerts, err := l.alerts.Alerts(ctx)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			b.Alerts = append(b.Alerts, AlertEntry{
				AlertID:   a.AlertID,
				Category:  string(a.Category),
				Severity:  string(a.Severity),
				Message:   a.Message,
				CreatedAt: a.CreatedAt,
				Resolved:  a.Resolved,
			})
		}

	case SectionDevices:
		if l.devices == nil {
			return fmt.Errorf("%w: %s", ErrNoOwner, section)
		}
		devices, err := l.devices.Devices(ctx)
		if err != nil {
			return err
		}
		for _, d := range devices {
			b.Devices = append(b.Devices, DeviceEntry{
				FingerprintID: d.FingerprintID,
				Platform:      d.RawAttributes.Platform,
				UserAgent:     d.RawAttributes.UserAgent,
				Trusted:       d.Trusted,
				FirstSeenAt:   d.FirstSeenAt,
				LastSeenAt:    d.LastSeenAt,
				AccessCount:   d.AccessCount,
			})
		}

	case SectionBiometric:
		if l.credentials == nil {
			return fmt.Errorf("%w: %s", ErrNoOwner, section)
		}
		creds, err := l.credentials.Credentials(ctx)
		if err != nil {
			return err
		}
		for _, c := range creds {
			b.Biometric = append(b.Biometric, BiometricEntry{
				Label:      c.Label,
				FactorType: string(c.FactorType),
				CreatedAt:  c.CreatedAt,
				LastUsedAt: c.LastUsedAt,
			})
		}

	case SectionActivity:
		entries, err := l.activity.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			b.Activity = append(b.Activity, ActivityEntry{Activity: e.Activity, Category: e.Category, Detail: e.Detail, At: e.At})
		}

	case SectionRecords:
		namespaces, err := l.store.Records().Namespaces(ctx)
		if err != nil {
			return err
		}
		for _, ns := range namespaces {
			rec, err := l.store.Records().Get(ctx, ns)
			if err != nil {
				return err
			}
			b.Records = append(b.Records, RecordEntry{Namespace: ns, CreatedAt: rec.CreatedAt, SchemaVersion: rec.SchemaVersion})
		}

	case SectionDocuments:
		docs, err := l.store.Documents().List(ctx)
		if err != nil {
			return err
		}
		sort.Slice(docs, func(i, j int) bool { return docs[i].Category < docs[j].Category })
		for _, d := range docs {
			b.Documents = append(b.Documents, DocumentEntry{
				Category:     d.Category,
				CreatedAt:    d.CreatedAt,
				LastModified: d.LastModified,
				Fields:       flattenFields(d.Fields),
			})
		}
	}
	return nil
}

func flattenFields(fields map[string]interface{}) []Field {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Field, 0, len(names))
	for _, name := range names {
		out = append(out, Field{Name: name, Value: formatValue(fields[name])})
	}
	return out
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func render(b *Bundle, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(b, "", "  ")
	case FormatYAML:
		return yaml.Marshal(b)
	case FormatXML:
		out, err := xml.MarshalIndent(b, "", "  ")
		if err != nil {
			return nil, err
		}
		return append([]byte(xml.Header), out...), nil
	case FormatCSV:
		return renderCSV(b)
	}
	return nil, ErrUnsupportedFormat
}

// renderCSV writes one row per field: section, item, field, value
func renderCSV(b *Bundle) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"section", "item", "field", "value"}}
	ts := func(t time.Time) string { return t.Format(time.RFC3339) }

	if p := b.Profile; p != nil {
		rows = append(rows,
			[]string{SectionProfile, "", "strengthTier", p.StrengthTier},
			[]string{SectionProfile, "", "lastSecretChangeAt", ts(p.LastSecretChangeAt)},
			[]string{SectionProfile, "", "sessionCount", strconv.Itoa(p.SessionCount)},
			[]string{SectionProfile, "", "lastActivityAt", ts(p.LastActivityAt)},
		)
	}
	for _, c := range b.Consents {
		rows = append(rows,
			[]string{SectionConsents, c.ConsentID, "granted", strconv.FormatBool(c.Granted)},
			[]string{SectionConsents, c.ConsentID, "version", strconv.Itoa(c.Version)},
			[]string{SectionConsents, c.ConsentID, "updatedAt", ts(c.UpdatedAt)},
		)
	}
	for _, a := range b.Alerts {
		rows = append(rows,
			[]string{SectionAlerts, a.AlertID, "category", a.Category},
			[]string{SectionAlerts, a.AlertID, "severity", a.Severity},
			[]string{SectionAlerts, a.AlertID, "message", a.Message},
			[]string{SectionAlerts, a.AlertID, "resolved", strconv.FormatBool(a.Resolved)},
		)
	}
	for _, d := range b.Devices {
		rows = append(rows,
			[]string{SectionDevices, d.FingerprintID, "platform", d.Platform},
			[]string{SectionDevices, d.FingerprintID, "trusted", strconv.FormatBool(d.Trusted)},
			[]string{SectionDevices, d.FingerprintID, "accessCount", strconv.Itoa(d.AccessCount)},
		)
	}
	for _, c := range b.Biometric {
		rows = append(rows,
			[]string{SectionBiometric, c.Label, "factorType", c.FactorType},
			[]string{SectionBiometric, c.Label, "createdAt", ts(c.CreatedAt)},
		)
	}
	for i, e := range b.Activity {
		item := strconv.Itoa(i)
		rows = append(rows,
			[]string{SectionActivity, item, "activity", e.Activity},
			[]string{SectionActivity, item, "at", ts(e.At)},
		)
	}
	for _, r := range b.Records {
		rows = append(rows, []string{SectionRecords, r.Namespace, "createdAt", ts(r.CreatedAt)})
	}
	for _, d := range b.Documents {
		for _, f := range d.Fields {
			rows = append(rows, []string{SectionDocuments, d.Category, f.Name, f.Value})
		}
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
