// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package clog is a small leveled-logging shim used by every package in
// this module: callers depend on the LogProvider interface, never on a
// concrete backend, so the backend can be swapped (or silenced in tests)
// without touching call sites.
package clog

import (
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// LogProvider RFC5424 log message levels, plus Info for routine traffic.
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Clog Log internal debugging implementation
type Clog struct {
	provider LogProvider
	// is log output enabled,1: enable, 0: disable
	has uint32
}

// NewLogger Create a new log with the specified prefix
func NewLogger(prefix string) Clog {
	return Clog{
		newDefaultLogger(prefix),
		1,
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
func (sf Clog) Critical(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(format, v...)
	}
}

// Error Log ERROR level message.
func (sf Clog) Error(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(format, v...)
	}
}

// Warn Log WARN level message.
func (sf Clog) Warn(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(format, v...)
	}
}

// Info Log INFO level message. Used for the per-frame receive/send trace.
func (sf Clog) Info(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Info(format, v...)
	}
}

// Debug Log DEBUG level message.
func (sf Clog) Debug(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(format, v...)
	}
}

// defaultLogger backs Clog with charmbracelet/log instead of the standard
// library logger, so every line carries a level and a timestamp.
type defaultLogger struct {
	*log.Logger
}

var _ LogProvider = (*defaultLogger)(nil)

func newDefaultLogger(prefix string) defaultLogger {
	l := log.NewWithOptions(os.Stdout, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
	})
	return defaultLogger{l}
}

// Critical Log CRITICAL level message. Does not terminate the process:
// "critical" is this module's top severity, not a fatal-exit signal.
func (sf defaultLogger) Critical(format string, v ...interface{}) {
	sf.Logger.Errorf("[CRIT] "+format, v...)
}

// Error Log ERROR level message.
func (sf defaultLogger) Error(format string, v ...interface{}) {
	sf.Logger.Errorf(format, v...)
}

// Warn Log WARN level message.
func (sf defaultLogger) Warn(format string, v ...interface{}) {
	sf.Logger.Warnf(format, v...)
}

// Info Log INFO level message.
func (sf defaultLogger) Info(format string, v ...interface{}) {
	sf.Logger.Infof(format, v...)
}

// Debug Log DEBUG level message.
func (sf defaultLogger) Debug(format string, v ...interface{}) {
	sf.Logger.Debugf(format, v...)
}
