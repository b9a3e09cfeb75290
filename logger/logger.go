// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

// Backend is a logging backend. Subsystems created from the backend write to
// the backend's writers. Backend provides atomic writes from all subsystems.
type Backend struct {
	mtx     sync.Mutex
	writers []io.Writer
	rotator *rotator.Rotator
}

// NewBackend creates a new logging backend writing to standard error.
func NewBackend() *Backend {
	return &Backend{writers: []io.Writer{os.Stderr}}
}

// AddLogFile adds a file to the backend's set of writers, rotated at the
// given size in kilobytes with up to maxRolls rolled files retained.
func (b *Backend) AddLogFile(logFile string, thresholdKB int64, maxRolls int) error {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		return errors.Wrapf(err, "failed to create log directory %s", logDir)
	}
	r, err := rotator.New(logFile, thresholdKB, false, maxRolls)
	if err != nil {
		return errors.Wrapf(err, "failed to create file rotator for %s", logFile)
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.rotator = r
	b.writers = append(b.writers, r)
	return nil
}

// Close shuts down the backend, flushing any pending rotated log writes.
func (b *Backend) Close() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.rotator != nil {
		_ = b.rotator.Close()
		b.rotator = nil
	}
}

func (b *Backend) write(lvl Level, tag string, format string, args ...interface{}) {
	t := time.Now()
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s [%s] %s: %s\n",
		t.Format("2006-01-02 15:04:05.000"), lvl, tag, msg)

	b.mtx.Lock()
	defer b.mtx.Unlock()
	for _, w := range b.writers {
		_, _ = io.WriteString(w, line)
	}
}

// Logger returns a new logger for a particular subsystem that writes to the
// backend. An appropriate prefix is included in all log messages.
func (b *Backend) Logger(subsystemTag string) *Logger {
	return &Logger{
		tag:     subsystemTag,
		level:   uint32(LevelInfo),
		backend: b,
	}
}

// Logger is a subsystem logger. All messages are tagged with the subsystem
// name and filtered by the logger's level.
type Logger struct {
	tag     string
	level   uint32
	backend *Backend
}

// Disabled is a logger that discards everything. Packages default to it until
// handed a real subsystem logger.
var Disabled = &Logger{level: uint32(LevelOff)}

// Level returns the current logging level.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32(&l.level))
}

// SetLevel changes the logging level to the passed level.
func (l *Logger) SetLevel(level Level) {
	atomic.StoreUint32(&l.level, uint32(level))
}

func (l *Logger) write(lvl Level, format string, args ...interface{}) {
	if lvl < l.Level() {
		return
	}
	l.backend.write(lvl, l.tag, format, args...)
}

// Tracef formats a message according to a format specifier and writes it with
// LevelTrace.
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.write(LevelTrace, format, args...)
}

// Debugf formats a message according to a format specifier and writes it with
// LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.write(LevelDebug, format, args...)
}

// Infof formats a message according to a format specifier and writes it with
// LevelInfo.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.write(LevelInfo, format, args...)
}

// Warnf formats a message according to a format specifier and writes it with
// LevelWarn.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write(LevelWarn, format, args...)
}

// Errorf formats a message according to a format specifier and writes it with
// LevelError.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write(LevelError, format, args...)
}

// Criticalf formats a message according to a format specifier and writes it
// with LevelCritical.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.write(LevelCritical, format, args...)
}
