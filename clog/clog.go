// Package clog provides the gated, leveled logger shared by every layer of
// the control-network stack.
package clog

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Fields attaches structured context (domain index, subnet/node, tid, ...)
// to a log line instead of interpolating it into the message.
type Fields map[string]interface{}

// LogProvider RFC5424 log message levels only Critical, Error, Warn and Debug.
type LogProvider interface {
	Critical(fields Fields, format string, v ...interface{})
	Error(fields Fields, format string, v ...interface{})
	Warn(fields Fields, format string, v ...interface{})
	Debug(fields Fields, format string, v ...interface{})
}

// Clog Log internal debugging implementation
type Clog struct {
	provider LogProvider
	// is log output enabled,1: enable, 0: disable
	has uint32
}

// NewLogger creates a new Clog for the given component, backed by logrus.
func NewLogger(component string) Clog {
	return Clog{
		provider: logrusProvider{logrus.WithField("component", component)},
	}
}

// LogMode set enable or disable log output when you has set provider
func (sf *Clog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&sf.has, 1)
	} else {
		atomic.StoreUint32(&sf.has, 0)
	}
}

// SetLogProvider set provider provider
func (sf *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

// Critical Log CRITICAL level message.
func (sf Clog) Critical(fields Fields, format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(fields, format, v...)
	}
}

// Error Log ERROR level message.
func (sf Clog) Error(fields Fields, format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(fields, format, v...)
	}
}

// Warn Log WARN level message.
func (sf Clog) Warn(fields Fields, format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(fields, format, v...)
	}
}

// Debug Log DEBUG level message.
func (sf Clog) Debug(fields Fields, format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(fields, format, v...)
	}
}

// logrusProvider adapts a *logrus.Entry to LogProvider.
type logrusProvider struct {
	entry *logrus.Entry
}

var _ LogProvider = logrusProvider{}

func (sf logrusProvider) Critical(fields Fields, format string, v ...interface{}) {
	sf.entry.WithFields(logrus.Fields(fields)).Errorf("[C]: "+format, v...)
}

func (sf logrusProvider) Error(fields Fields, format string, v ...interface{}) {
	sf.entry.WithFields(logrus.Fields(fields)).Errorf(format, v...)
}

func (sf logrusProvider) Warn(fields Fields, format string, v ...interface{}) {
	sf.entry.WithFields(logrus.Fields(fields)).Warnf(format, v...)
}

func (sf logrusProvider) Debug(fields Fields, format string, v ...interface{}) {
	sf.entry.WithFields(logrus.Fields(fields)).Debugf(format, v...)
}
