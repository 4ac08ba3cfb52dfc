// Package logging builds the logrus entry shared by every component. Entries
// carry service and env fields; handlers add per-update fields with Annotate.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_group_relay_bot/internal/config"
)

const serviceName = "group-relay-bot"

var baseLogger *logrus.Entry

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Context describes the update an entry belongs to. Zero values are left out.
type Context struct {
	Event   string
	Command string
	ChatID  int64
	UserID  int64
}

// Fields converts c into logrus fields.
func (c Context) Fields() Fields {
	fields := Fields{}

	if event := strings.TrimSpace(c.Event); event != "" {
		fields["event"] = event
	}
	if command := strings.TrimSpace(c.Command); command != "" {
		fields["command"] = command
	}
	if c.ChatID != 0 {
		fields["chat_id"] = c.ChatID
	}
	if c.UserID != 0 {
		fields["user_id"] = c.UserID
	}

	return fields
}

// Annotate attaches c to entry, falling back to the base logger when entry is nil.
func Annotate(entry *logrus.Entry, c Context) *logrus.Entry {
	if entry == nil {
		entry = ensureLogger()
	}

	return entry.WithFields(c.Fields())
}

// Setup builds the base logger for cfg. Development gets human-readable text
// output; every other mode logs JSON lines.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	baseLogger = newEntry(level, cfg)
	return baseLogger, nil
}

// Logger returns the base logger. Before Setup it is an info-level logger
// for the default mode, so boot errors are still structured.
func Logger() *logrus.Entry {
	return ensureLogger()
}

// Info logs msg on the base logger.
func Info(msg string, fields Fields) {
	withFields(fields).Info(msg)
}

// Warn logs msg on the base logger.
func Warn(msg string, fields Fields) {
	withFields(fields).Warn(msg)
}

// Error logs msg on the base logger.
func Error(msg string, fields Fields) {
	withFields(fields).Error(msg)
}

func withFields(fields Fields) *logrus.Entry {
	if len(fields) == 0 {
		return ensureLogger()
	}

	return ensureLogger().WithFields(fields)
}

func ensureLogger() *logrus.Entry {
	if baseLogger == nil {
		baseLogger = newEntry(logrus.InfoLevel, config.Config{Mode: config.DefaultMode})
	}

	return baseLogger
}

func newEntry(level logrus.Level, cfg config.Config) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter(cfg.IsDevelopment()))

	return logger.WithFields(Fields{
		"service": serviceName,
		"env":     cfg.Mode,
	})
}

func newFormatter(text bool) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	if text {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

func parseLevel(value string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}

// resetLogger clears the cached logger; used in tests.
func resetLogger() {
	baseLogger = nil
}
