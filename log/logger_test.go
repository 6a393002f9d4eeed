package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(module string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewFromZerolog(zerolog.New(buf), module), buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *LogConfig)
		wantErr bool
	}{
		{"default", func(c *LogConfig) {}, false},
		{"bad level", func(c *LogConfig) { c.Level = "loud" }, true},
		{"bad format", func(c *LogConfig) { c.Format = "xml" }, true},
		{"file without path", func(c *LogConfig) { c.OutputToFile = true }, true},
		{"file with path", func(c *LogConfig) { EnableFileOutput(c, "/tmp/x.log") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	logger, buf := newBufferLogger("engine")
	logger.Info("unlocked", KV{"generation": 3})

	entry := decodeLine(t, buf)
	assert.Equal(t, "engine", entry[LogModuleKey])
	assert.Equal(t, "unlocked", entry["message"])
	assert.Equal(t, float64(3), entry["generation"])
}

func TestLoggerError(t *testing.T) {
	logger, buf := newBufferLogger("engine")
	logger.Error(errors.New("boom"), "failed")

	entry := decodeLine(t, buf)
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "error", entry["level"])
}

func TestLoggerRedaction(t *testing.T) {
	logger, buf := newBufferLogger("engine")
	logger.Warn("attempt", KV{"secret": "hunter2", "Password": "x", "domain": "notes"})

	entry := decodeLine(t, buf)
	assert.Equal(t, RedactedValue, entry["secret"])
	assert.Equal(t, RedactedValue, entry["Password"])
	assert.Equal(t, "notes", entry["domain"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestLoggerWithFieldRedaction(t *testing.T) {
	logger, buf := newBufferLogger("engine")
	logger.WithField("plaintext", "my diary").Info("x")
	assert.NotContains(t, buf.String(), "my diary")
}

func TestLoggerWithTraceID(t *testing.T) {
	logger, buf := newBufferLogger("core")
	traced := logger.WithTraceID("abc")
	assert.Equal(t, "abc", traced.GetTraceID())
	traced.Info("op")

	entry := decodeLine(t, buf)
	assert.Equal(t, "abc", entry[LogTraceIDKey])
}

func TestIsSensitiveField(t *testing.T) {
	assert.True(t, IsSensitiveField("secret"))
	assert.True(t, IsSensitiveField("new_password"))
	assert.True(t, IsSensitiveField("CipherText"))
	assert.False(t, IsSensitiveField("domain"))
	assert.False(t, IsSensitiveField("fingerprint"))
}

func TestConfigureFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "safekeep.log")
	cfg := NewDefaultConfig()
	cfg.Format = "json"
	EnableFileOutput(cfg, path)
	require.NoError(t, Configure(cfg))
	t.Cleanup(func() { _ = Configure(NewDefaultConfig()) })

	New("test").Info("written to file", KV{"secret": "nope"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.NotContains(t, string(data), "nope")
}

func TestConfigureInvalid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = "nope"
	assert.Error(t, Configure(cfg))
}
