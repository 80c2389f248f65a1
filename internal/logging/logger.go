// Package logging wraps logrus with the handful of conveniences the rest
// of chengis constructs against: a concrete *Logger type passed explicitly
// into every long-lived component, never a package-level singleton.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"
)

// noOverridesErr is the substring envdecode's error carries when no tagged
// field had a matching environment variable set; that's not a failure, it
// just means the caller's defaults apply.
const noOverridesErr = "none of the target fields were set"

// Logger wraps a *logrus.Logger so call sites depend on our type, not logrus
// directly, leaving room to change backends later without touching callers.
type Logger struct {
	*logrus.Logger
}

// Config controls level, format and destination of a Logger.
type Config struct {
	Level      string `envdecode:"LOG_LEVEL,default=info"`
	Format     string `envdecode:"LOG_FORMAT,default=text"`
	Output     string `envdecode:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `envdecode:"LOG_FILE_PREFIX,default=chengisd"`
}

// LoadConfig decodes a Config straight from the LOG_* environment variables
// tagged on its fields, falling back to their defaults when unset.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !strings.Contains(err.Error(), noOverridesErr) {
		return Config{}, err
	}
	return cfg, nil
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "chengisd"
		}
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			l.Errorf("failed to create log directory: %v", err)
			break
		}
		path := filepath.Join(logDir, prefix+".log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.Errorf("failed to open log file: %v", err)
			break
		}
		l.SetOutput(io.MultiWriter(os.Stdout, file))
	default:
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// NewDefault returns an info-level, text-formatted logger writing to stdout.
// name is not attached to the entries it emits: the returned Logger wraps
// the same underlying logrus.Logger, without a component field.
func NewDefault(name string) *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	log := &Logger{Logger: l}
	if name == "" {
		return log
	}
	return &Logger{Logger: l.WithField("component", name).Logger}
}

// WithField returns a log entry carrying a single field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry carrying multiple fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithError returns a log entry carrying an "error" field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithField("error", err)
}
