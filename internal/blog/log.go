// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package blog is a thin indirection over github.com/cihub/seelog so that
// every package that logs (workers, router, supervisor, config) logs through
// one place. Logging is disabled until a logger is installed; cmd/bridge
// installs seelog.Default at process start.
package blog

import "github.com/cihub/seelog"

var logger seelog.LoggerInterface

func init() {
	DisableLog()
}

// DisableLog replaces the active logger with seelog's no-op logger.
func DisableLog() {
	logger = seelog.Disabled
}

// UseLogger installs newLogger as the active logger for the whole process.
func UseLogger(newLogger seelog.LoggerInterface) {
	newLogger.SetAdditionalStackDepth(1)
	logger = newLogger
}

func Infof(format string, params ...interface{}) { logger.Infof(format, params...) }

func Warnf(format string, params ...interface{}) error {
	return logger.Warnf(format, params...)
}

func Errorf(format string, params ...interface{}) error {
	return logger.Errorf(format, params...)
}
