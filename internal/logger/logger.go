package logger

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Logger struct {
	*logrus.Entry
}

// New logs to stdout, formatted for ENVIRONMENT and filtered by LOG_LEVEL.
func New() *Logger {
	return NewTo(os.Stdout, os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))
}

// NewTo builds a logger writing to w. A local (or empty) env gets the
// colored console format, anything else JSON.
func NewTo(w io.Writer, env, level string) *Logger {
	base := logrus.New()
	base.SetFormatter(formatter(env))
	base.SetOutput(w)
	base.SetLevel(ParseLevel(level))
	return &Logger{Entry: logrus.NewEntry(base)}
}

func formatter(env string) logrus.Formatter {
	if env == "" || env == "local" {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
			ForceColors:     true,
		}
	}
	return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// ParseLevel maps LOG_LEVEL values onto logrus levels, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithRequest attaches request metadata and returns an entry
func (l *Logger) WithRequest(r *http.Request) *logrus.Entry {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.New().String()
	}

	return l.WithFields(logrus.Fields{
		"req_id":     reqID,
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote_ip":  r.RemoteAddr,
		"user_agent": r.UserAgent(),
	})
}

// WithCall tags an entry with the call being processed.
func (l *Logger) WithCall(callID string) *logrus.Entry {
	return l.Entry.WithField("call_id", callID)
}

// WithError standardizes error logging
func (l *Logger) WithError(err error) *logrus.Entry {
	if err == nil {
		return l.Entry
	}
	return l.Entry.WithField("error", err.Error())
}

// Component returns an entry for a named component, falling back to a
// discarding logger when entry is nil.
func Component(entry *logrus.Entry, name string) *logrus.Entry {
	if entry == nil {
		entry = Discard().Entry
	}
	return entry.WithField("component", name)
}
