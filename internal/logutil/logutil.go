// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil wraps a single process-global zap logger behind
// BgLogger(), the same accessor shape domain.go and session/tidb.go call
// through (logutil.BgLogger().Info(...)).
package logutil

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	once     sync.Once
	bgLogger *zap.Logger
)

// Config controls where the background logger writes.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// File, when non-empty, rotates logs through lumberjack instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig is used when InitLogger has not been called explicitly.
func DefaultConfig() Config {
	return Config{Level: "info"}
}

// InitLogger installs the process-global logger. Safe to call at most once;
// subsequent calls are no-ops, matching the usual single log-init-at-
// startup pattern.
func InitLogger(cfg Config) error {
	var err error
	once.Do(func() {
		if cfg.File != "" {
			sink := zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    nonZero(cfg.MaxSizeMB, 300),
				MaxBackups: nonZero(cfg.MaxBackups, 7),
				MaxAge:     nonZero(cfg.MaxAgeDays, 28),
			})
			var logger *zap.Logger
			logger, _, err = log.InitLoggerWithWriteSyncer(&log.Config{Level: cfg.Level}, sink, nil)
			if err == nil {
				bgLogger = logger
			}
			return
		}
		var logger *zap.Logger
		logger, _, err = log.InitLogger(&log.Config{Level: cfg.Level})
		if err == nil {
			bgLogger = logger
		}
	})
	return err
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// BgLogger returns the process-global logger, lazily initializing it with
// DefaultConfig() if InitLogger was never called.
func BgLogger() *zap.Logger {
	if bgLogger == nil {
		_ = InitLogger(DefaultConfig())
		if bgLogger == nil {
			// InitLogger failed (e.g. bad level); fall back to a usable logger
			// rather than let callers nil-deref.
			bgLogger = zap.NewNop()
		}
	}
	return bgLogger
}

// SetLogger overrides the global logger directly, used by tests that want a
// zaptest observer.
func SetLogger(l *zap.Logger) {
	bgLogger = l
}
