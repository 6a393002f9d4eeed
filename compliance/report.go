package compliance

import (
	"context"
	"strings"
	"time"
)

// Report summarizes consent state and processing activity at a point in time
type Report struct {
	GeneratedAt      time.Time         `json:"generatedAt" yaml:"generatedAt"`
	Consents         map[string]bool   `json:"consents" yaml:"consents"`
	ExpiredConsents  []string          `json:"expiredConsents,omitempty" yaml:"expiredConsents,omitempty"`
	ActivityCount    int               `json:"activityCount" yaml:"activityCount"`
	ActivityByKind   map[string]int    `json:"activityByKind" yaml:"activityByKind"`
	LastActivityAt   *time.Time        `json:"lastActivityAt,omitempty" yaml:"lastActivityAt,omitempty"`
	StoredCategories map[string]int    `json:"storedCategories" yaml:"storedCategories"`
	Rights           map[string]string `json:"rights" yaml:"rights"`
}

var rights = map[string]string{
	"access":        "export in json, csv, xml or yaml",
	"portability":   "export in json, csv, xml or yaml",
	"erasure":       "erase all data or selected categories",
	"rectification": "correct stored documents",
	"withdrawal":    "revoke any non-essential consent",
}

// Report builds the compliance report on demand
func (l *Layer) Report(ctx context.Context) (*Report, error) {
	now := l.clock.Now()
	r := &Report{
		GeneratedAt:      now,
		Consents:         make(map[string]bool),
		ActivityByKind:   make(map[string]int),
		StoredCategories: make(map[string]int),
		Rights:           make(map[string]string, len(rights)),
	}
	for k, v := range rights {
		r.Rights[k] = v
	}

	consents, err := l.Consents(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range consents {
		expired := c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
		r.Consents[c.ConsentID] = c.Granted && !expired
		if expired {
			r.ExpiredConsents = append(r.ExpiredConsents, c.ConsentID)
		}
	}

	activity, err := l.activity.List(ctx)
	if err != nil {
		return nil, err
	}
	r.ActivityCount = len(activity)
	for _, a := range activity {
		r.ActivityByKind[a.Activity]++
	}
	if n := len(activity); n > 0 {
		last := activity[n-1].At
		r.LastActivityAt = &last
	}

	keys, err := l.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for name, ns := range erasable {
		prefix := l.store.NamespacePrefix(ns)
		for _, k := range keys {
			if strings.HasPrefix(k, prefix) {
				r.StoredCategories[name]++
			}
		}
	}
	return r, nil
}
