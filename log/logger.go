package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oddbit-project/safekeep/utils/fs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogTraceIDKey       = "trace_id"
	LogModuleKey        = "module"
	LogComponentKey     = "component"
	LogHostnameKey      = "hostname"
	LogTimestampFormat  = time.RFC3339Nano
	LogCallerSkipFrames = 3

	// RedactedValue replaces the value of sensitive fields
	RedactedValue = "[REDACTED]"
)

// sensitiveFields are field name fragments whose values never reach a log sink
var sensitiveFields = []string{"secret", "password", "passphrase", "plaintext", "ciphertext", "key_material", "derived_key", "token"}

// KV is a set of structured log fields
type KV map[string]interface{}

// Logger wraps zerolog.Logger to provide consistent logging patterns
type Logger struct {
	logger     zerolog.Logger
	moduleInfo string
	hostname   string
	traceID    string
}

// LogConfig contains configuration for the logger
type LogConfig struct {
	Level            string `json:"level" default:"info"`
	Format           string `json:"format" default:"console"` // "console" or "json"
	IncludeTimestamp bool   `json:"includeTimestamp"`
	IncludeCaller    bool   `json:"includeCaller"`
	IncludeHostname  bool   `json:"includeHostname"`
	CallerSkipFrames int    `json:"callerSkipFrames"`

	// file output, rotated by lumberjack
	OutputToFile bool   `json:"outputToFile"`
	FilePath     string `json:"filePath"`
	FileFormat   string `json:"fileFormat" default:"json"`
	FileAppend   bool   `json:"fileAppend"`
	MaxSizeMB    int    `json:"maxSizeMb" default:"10"`
	MaxBackups   int    `json:"maxBackups" default:"5"`
	MaxAgeDays   int    `json:"maxAgeDays" default:"30"`
	Compress     bool   `json:"compress"`
}

// NewDefaultConfig returns a default logging configuration
func NewDefaultConfig() *LogConfig {
	return &LogConfig{
		Level:            "info",
		Format:           "console",
		IncludeTimestamp: true,
		IncludeCaller:    false,
		IncludeHostname:  false,
		CallerSkipFrames: LogCallerSkipFrames,
		FileFormat:       "json",
		FileAppend:       true,
		MaxSizeMB:        10,
		MaxBackups:       5,
		MaxAgeDays:       30,
	}
}

// EnableFileOutput enables logging to the given file
func EnableFileOutput(cfg *LogConfig, path string) *LogConfig {
	cfg.OutputToFile = true
	cfg.FilePath = path
	return cfg
}

// SetFileFormat sets the file output format ("json" or "console")
func SetFileFormat(cfg *LogConfig, format string) *LogConfig {
	cfg.FileFormat = format
	return cfg
}

// DisableFileAppend truncates the log file on Configure
func DisableFileAppend(cfg *LogConfig) *LogConfig {
	cfg.FileAppend = false
	return cfg
}

// Validate checks the logging configuration
func (c *LogConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	if c.OutputToFile && strings.TrimSpace(c.FilePath) == "" {
		return fmt.Errorf("log file output enabled without a file path")
	}
	return nil
}

// Configure configures the global logger based on the provided configuration
func Configure(cfg *LogConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := zerolog.ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = LogTimestampFormat

	var output io.Writer = os.Stderr
	if cfg.Format == "console" {
		output = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.TimeFormat = LogTimestampFormat
		})
	}

	if cfg.OutputToFile {
		fileWriter, err := newFileWriter(cfg)
		if err != nil {
			return err
		}
		output = zerolog.MultiLevelWriter(output, fileWriter)
	}

	baseLogger := zerolog.New(output).Level(level)
	if cfg.IncludeTimestamp {
		baseLogger = baseLogger.With().Timestamp().Logger()
	}
	if cfg.IncludeCaller {
		baseLogger = baseLogger.With().CallerWithSkipFrameCount(cfg.CallerSkipFrames).Logger()
	}
	if cfg.IncludeHostname {
		if hostname, err := os.Hostname(); err == nil {
			baseLogger = baseLogger.With().Str(LogHostnameKey, hostname).Logger()
		}
	}

	log.Logger = baseLogger
	return nil
}

func newFileWriter(cfg *LogConfig) (io.Writer, error) {
	if err := fs.EnsureParentDir(cfg.FilePath); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if !cfg.FileAppend {
		if err := os.Truncate(cfg.FilePath, 0); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("truncating log file: %w", err)
		}
	}
	var w io.Writer = &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	if cfg.FileFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: LogTimestampFormat}
	}
	return w, nil
}

// New creates a new logger with module information
func New(module string) *Logger {
	hostname, _ := os.Hostname()
	return &Logger{
		logger:     log.With().Str(LogModuleKey, module).Logger(),
		moduleInfo: module,
		hostname:   hostname,
	}
}

// NewWithComponent creates a new logger with module and component information
func NewWithComponent(module, component string) *Logger {
	hostname, _ := os.Hostname()
	return &Logger{
		logger: log.With().
			Str(LogModuleKey, module).
			Str(LogComponentKey, component).
			Logger(),
		moduleInfo: fmt.Sprintf("%s.%s", module, component),
		hostname:   hostname,
	}
}

// NewFromZerolog wraps an existing zerolog.Logger; mostly useful in tests
func NewFromZerolog(zl zerolog.Logger, module string) *Logger {
	return &Logger{
		logger:     zl.With().Str(LogModuleKey, module).Logger(),
		moduleInfo: module,
	}
}

// WithTraceID creates a new logger with the specified trace ID
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		logger:     l.logger.With().Str(LogTraceIDKey, traceID).Logger(),
		moduleInfo: l.moduleInfo,
		hostname:   l.hostname,
		traceID:    traceID,
	}
}

// WithField adds a field to the logger; sensitive field names are redacted
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logger:     l.logger.With().Interface(key, redact(key, value)).Logger(),
		moduleInfo: l.moduleInfo,
		hostname:   l.hostname,
		traceID:    l.traceID,
	}
}

// Debug logs a debug message with the given fields
func (l *Logger) Debug(msg string, fields ...KV) {
	withFields(l.logger.Debug(), fields).Msg(msg)
}

// Info logs an info message with the given fields
func (l *Logger) Info(msg string, fields ...KV) {
	withFields(l.logger.Info(), fields).Msg(msg)
}

// Warn logs a warning message with the given fields
func (l *Logger) Warn(msg string, fields ...KV) {
	withFields(l.logger.Warn(), fields).Msg(msg)
}

// Error logs an error message with the given fields
func (l *Logger) Error(err error, msg string, fields ...KV) {
	event := l.logger.Error()
	if err != nil {
		event = event.Err(err)
	}
	withFields(event, fields).Msg(msg)
}

// Fatal logs a fatal message with the given fields and exits the application
func (l *Logger) Fatal(err error, msg string, fields ...KV) {
	event := l.logger.Fatal()
	if err != nil {
		event = event.Err(err)
	}
	withFields(event, fields).Msg(msg)
}

// GetTraceID returns the trace ID associated with this logger
func (l *Logger) GetTraceID() string {
	return l.traceID
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

func withFields(event *zerolog.Event, fields []KV) *zerolog.Event {
	for _, set := range fields {
		for k, v := range set {
			event = event.Interface(k, redact(k, v))
		}
	}
	return event
}

// IsSensitiveField returns true if values under the field name must be redacted
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveFields {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func redact(key string, value interface{}) interface{} {
	if IsSensitiveField(key) {
		return RedactedValue
	}
	return value
}
