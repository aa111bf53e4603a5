package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lovell/sharp-sub001/ffi"
	"github.com/lovell/sharp-sub001/memory"
	"github.com/lovell/sharp-sub001/napi"
	"github.com/lovell/sharp-sub001/threads"
	"github.com/lovell/sharp-sub001/vfs"
)

var (
	logger   *zap.Logger
	loggerMu sync.RWMutex
)

// Logger returns the package logger. It is a no-op logger by default.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// SetLogger installs the logger used by the bridge.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// SetLoggers installs l, named per package, in the bridge and in every
// package it wires together.
func SetLoggers(l *zap.Logger) {
	SetLogger(l.Named("bridge"))
	memory.SetLogger(l.Named("memory"))
	vfs.SetLogger(l.Named("vfs"))
	ffi.SetLogger(l.Named("ffi"))
	napi.SetLogger(l.Named("napi"))
	threads.SetLogger(l.Named("threads"))
}
