package s3

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBucket serves the handful of S3 calls the eraser makes
type fakeBucket struct {
	mu      sync.Mutex
	name    string
	objects []string
	deleted []string
	missing bool
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.Trim(r.URL.Path, "/") != f.name || f.missing {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && q.Get("list-type") == "2":
		var sb strings.Builder
		prefix := q.Get("prefix")
		count := 0
		for _, key := range f.objects {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			count++
			fmt.Fprintf(&sb, `<Contents><Key>%s</Key><Size>1</Size><LastModified>2024-01-01T00:00:00.000Z</LastModified><ETag>"e"</ETag></Contents>`, key)
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>%s</ListBucketResult>`,
			f.name, prefix, count, sb.String())

	case r.Method == http.MethodPost && q.Has("delete"):
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Objects []struct {
				Key string `xml:"Key"`
			} `xml:"Object"`
		}
		_ = xml.Unmarshal(body, &req)
		for _, o := range req.Objects {
			f.deleted = append(f.deleted, o.Key)
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`)

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestEraser(t *testing.T, bucket *fakeBucket) *Eraser {
	t.Helper()
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	cfg := NewConfig()
	cfg.Endpoint = srv.URL
	cfg.Bucket = bucket.name
	cfg.AccessKeyID = "test"
	cfg.Password = "test-secret"
	e, err := NewEraser(cfg, nil)
	require.NoError(t, err)
	return e
}

func TestEraseRemovesPrefixedObjects(t *testing.T) {
	bucket := &fakeBucket{
		name:    "safekeep-sync",
		objects: []string{"safekeep/records/mood", "safekeep/records/notes", "other/keep"},
	}
	e := newTestEraser(t, bucket)

	n, err := e.Erase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"safekeep/records/mood", "safekeep/records/notes"}, bucket.deleted)
	assert.True(t, e.IsConnected())
}

func TestEraseMissingBucket(t *testing.T) {
	bucket := &fakeBucket{name: "safekeep-sync", missing: true}
	e := newTestEraser(t, bucket)

	n, err := e.Erase(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClientNotConnected(t *testing.T) {
	c, err := NewClient(validConfig(), nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	_, err = c.client()
	assert.ErrorIs(t, err, ErrClientNotConnected)

	_, err = NewClient(NewConfig(), nil)
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}
