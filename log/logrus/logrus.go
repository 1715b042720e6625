// Package logrus adapts sirupsen/logrus to tiercache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/tiercache"
)

var _ tiercache.Logger = Logger{}

// Logger writes through a logrus entry. An error under "err" is attached with
// WithError so formatters render it the usual way.
type Logger struct{ E *logrus.Entry }

// New wraps l, tagging every line with component=tiercache.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "tiercache")}
}

func (l Logger) entry(f tiercache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	fields := make(logrus.Fields, len(f))
	e := l.E
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		fields[k] = v
	}
	return e.WithFields(fields)
}

func (l Logger) Debug(msg string, f tiercache.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f tiercache.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f tiercache.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f tiercache.Fields) { l.entry(f).Error(msg) }
