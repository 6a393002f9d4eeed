package provider

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/oddbit-project/safekeep/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionSection struct {
	SessionTimeoutMinutes int    `json:"sessionTimeoutMinutes" default:"15"`
	CustomCoverText       string `json:"customCoverText" default:"Protected"`
	WarnBeforeTimeout     bool   `json:"warnBeforeTimeout"`
}

type testConfig struct {
	Name    string         `json:"name"`
	Session sessionSection `json:"session"`
	Tags    []string       `json:"tags"`
}

const testJson = `{
  "name": "safekeep",
  "enabled": true,
  "workers": 2,
  "tags": ["a", "b"],
  "session": {"sessionTimeoutMinutes": 30, "warnBeforeTimeout": true}
}`

var _ config.ConfigProvider = &JsonProvider{}

func TestNewJsonProviderSources(t *testing.T) {
	_, err := NewJsonProvider([]byte(testJson))
	require.NoError(t, err)

	_, err = NewJsonProvider(bytes.NewBufferString(testJson))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(testJson), 0600))
	_, err = NewJsonProvider(path)
	require.NoError(t, err)

	_, err = NewJsonProvider(42)
	assert.ErrorIs(t, err, ErrJsonInvalidSource)

	_, err = NewJsonProvider([]byte("{broken"))
	assert.Error(t, err)
}

func TestJsonProviderGet(t *testing.T) {
	p, err := NewJsonProvider([]byte(testJson))
	require.NoError(t, err)

	var cfg testConfig
	require.NoError(t, p.Get(&cfg))
	assert.Equal(t, "safekeep", cfg.Name)
	assert.Equal(t, 30, cfg.Session.SessionTimeoutMinutes)
	assert.True(t, cfg.Session.WarnBeforeTimeout)
	// default applied to missing nested field
	assert.Equal(t, "Protected", cfg.Session.CustomCoverText)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
}

func TestJsonProviderGetKey(t *testing.T) {
	p, err := NewJsonProvider([]byte(testJson))
	require.NoError(t, err)

	var s sessionSection
	require.NoError(t, p.GetKey("session", &s))
	assert.Equal(t, 30, s.SessionTimeoutMinutes)

	assert.ErrorIs(t, p.GetKey("missing", &s), config.ErrNoKey)
}

func TestJsonProviderScalarKeys(t *testing.T) {
	p, err := NewJsonProvider([]byte(testJson))
	require.NoError(t, err)

	name, err := p.GetStringKey("name")
	require.NoError(t, err)
	assert.Equal(t, "safekeep", name)

	enabled, err := p.GetBoolKey("enabled")
	require.NoError(t, err)
	assert.True(t, enabled)

	workers, err := p.GetIntKey("workers")
	require.NoError(t, err)
	assert.Equal(t, 2, workers)

	tags, err := p.GetSliceKey("tags", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)

	_, err = p.GetIntKey("name")
	assert.Error(t, err)

	_, err = p.GetStringKey("nope")
	assert.ErrorIs(t, err, config.ErrNoKey)

	assert.True(t, p.KeyListExists([]string{"name", "tags"}))
	assert.False(t, p.KeyListExists([]string{"name", "nope"}))
}

func TestYamlProvider(t *testing.T) {
	doc := []byte("name: safekeep\nsession:\n  sessionTimeoutMinutes: 5\n")
	p, err := NewYamlProvider(doc)
	require.NoError(t, err)

	var cfg testConfig
	require.NoError(t, p.Get(&cfg))
	assert.Equal(t, "safekeep", cfg.Name)
	assert.Equal(t, 5, cfg.Session.SessionTimeoutMinutes)
	assert.Equal(t, "Protected", cfg.Session.CustomCoverText)

	_, err = NewYamlProvider([]byte("a: [unclosed"))
	assert.Error(t, err)
}

func TestNewFileProvider(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "cfg.yml")
	require.NoError(t, os.WriteFile(yml, []byte("name: y\n"), 0600))
	p, err := NewFileProvider(yml)
	require.NoError(t, err)
	name, err := p.GetStringKey("name")
	require.NoError(t, err)
	assert.Equal(t, "y", name)

	_, err = NewFileProvider(filepath.Join(dir, "cfg.toml"))
	assert.ErrorIs(t, err, config.ErrNotImplemented)
}
