package compliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/store"
)

const CategoryAll = "all"

// erasable maps an erasure category to the namespace holding its data
var erasable = map[string]string{
	"records":   store.NsRecords,
	"documents": store.NsDocuments,
	"alerts":    store.NsAlerts,
	"devices":   store.NsDevices,
	"activity":  store.NsActivity,
	"biometric": store.NsBiometric,
	"consents":  store.NsConsents,
	"exports":   store.NsExports,
	"profile":   store.NsProfile,
}

// buildErasers binds each category to the component that owns it; categories whose
// owner was not supplied are left out
func (l *Layer) buildErasers() map[string]eraseFunc {
	own := func(ns string) eraseFunc {
		return func(ctx context.Context) (int, error) { return l.store.DeleteNamespace(ctx, ns) }
	}
	erasers := map[string]eraseFunc{
		"documents": own(store.NsDocuments),
		"consents":  own(store.NsConsents),
		"exports":   own(store.NsExports),
		"activity":  l.activity.Clear,
	}
	if l.vault != nil {
		erasers["records"] = l.vault.DeleteRecords
		erasers["profile"] = l.vault.ResetProfile
	}
	if l.alerts != nil {
		erasers["alerts"] = l.alerts.PurgeAlerts
	}
	if l.devices != nil {
		erasers["devices"] = l.devices.PurgeDevices
	}
	if l.credentials != nil {
		erasers["biometric"] = l.credentials.RemoveAll
	}
	return erasers
}

// ErasureResult describes what an erasure removed
type ErasureResult struct {
	Categories []string
	// KeysDeleted counts the stored entries removed
	KeysDeleted  int
	RemoteErased bool
	// RemoteObjects is the number of remote copies removed
	RemoteObjects int
	RemoteError   string
}

// ExerciseErasure deletes the named categories. CategoryAll destroys the key
// material, clears every key under the prefix and leaves only a tombstone
func (l *Layer) ExerciseErasure(ctx context.Context, reason string, categories []string) (result *ErasureResult, err error) {
	defer func() { l.metrics.ComplianceRequest("erasure", err) }()

	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrUnknownCategory)
	}
	for _, c := range categories {
		if c == CategoryAll {
			return l.eraseAll(ctx, reason)
		}
		if _, ok := erasable[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, c)
		}
		if _, ok := l.erasers[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoOwner, c)
		}
	}

	result = &ErasureResult{Categories: append([]string(nil), categories...)}
	for _, c := range categories {
		n, err := l.erasers[c](ctx)
		if err != nil {
			return nil, err
		}
		result.KeysDeleted += n
	}
	for _, c := range categories {
		if c == "consents" {
			if err = l.InitializeConsents(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	l.logger.Info("partial erasure completed", log.KV{"categories": categories, "keys": result.KeysDeleted, "reason": reason})
	l.record(ctx, "data_erased", "erasure", fmt.Sprint(categories))
	return result, nil
}

func (l *Layer) eraseAll(ctx context.Context, reason string) (*ErasureResult, error) {
	// read before anything is deleted
	syncConsent, err := l.HasConsent(ctx, ConsentCloudSync)
	if err != nil {
		return nil, err
	}

	if l.vault != nil {
		if err = l.vault.Wipe(ctx); err != nil {
			return nil, err
		}
	}
	n, err := l.store.DeleteAll(ctx)
	if err != nil {
		return nil, err
	}
	result := &ErasureResult{Categories: []string{CategoryAll}, KeysDeleted: n}

	if syncConsent && l.remote != nil {
		objects, rerr := l.remote.Erase(ctx)
		if rerr != nil {
			result.RemoteError = rerr.Error()
			l.logger.Error(rerr, "remote erasure failed")
		} else {
			result.RemoteErased = true
			result.RemoteObjects = objects
		}
	}

	if reason == "" {
		reason = "user request"
	}
	ts := &store.Tombstone{
		ErasedAt:     l.clock.Now(),
		Reason:       reason,
		Categories:   result.Categories,
		RemoteErased: result.RemoteErased,
		RemoteError:  result.RemoteError,
	}
	if err = l.store.Tombstone().Put(ctx, ts); err != nil {
		return nil, err
	}
	l.logger.Warn("all data erased", log.KV{"keys": n, "remoteErased": result.RemoteErased})
	return result, nil
}

// Tombstone returns the marker left by a full erasure
func (l *Layer) Tombstone(ctx context.Context) (*store.Tombstone, error) {
	return l.store.Tombstone().Get(ctx)
}

// SaveDocument creates or replaces the document for category
func (l *Layer) SaveDocument(ctx context.Context, category string, fields map[string]interface{}) (*store.Document, error) {
	if category == "" {
		return nil, fmt.Errorf("%w: empty document category", ErrUnknownCategory)
	}
	now := l.clock.Now()
	doc, err := l.store.Documents().Get(ctx, category)
	switch {
	case errors.Is(err, store.ErrNotFound):
		doc = &store.Document{Category: category, CreatedAt: now}
	case err != nil:
		return nil, err
	}
	doc.Fields = copyFields(fields)
	doc.LastModified = now
	if err = l.store.Documents().Put(ctx, doc); err != nil {
		return nil, err
	}
	l.record(ctx, "data_saved", "documents", category)
	return doc, nil
}

func (l *Layer) Document(ctx context.Context, category string) (*store.Document, error) {
	return l.store.Documents().Get(ctx, category)
}

// ExerciseRectification merges patch into an existing document; a nil value removes the field
func (l *Layer) ExerciseRectification(ctx context.Context, category string, patch map[string]interface{}) (doc *store.Document, err error) {
	defer func() { l.metrics.ComplianceRequest("rectification", err) }()

	doc, err = l.store.Documents().Get(ctx, category)
	if err != nil {
		return nil, err
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]interface{}, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(doc.Fields, k)
			continue
		}
		doc.Fields[k] = v
	}
	doc.LastModified = l.clock.Now()
	if err = l.store.Documents().Put(ctx, doc); err != nil {
		return nil, err
	}
	l.logger.Info("document rectified", log.KV{"category": category, "fields": len(patch)})
	l.record(ctx, "data_rectified", "rectification", category)
	return doc, nil
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
