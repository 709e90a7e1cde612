package main

import (
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// debugEnabled is an atomic boolean for thread-safe debug toggle.
// Hot path callers should check debugEnabled.Load() first to avoid
// expensive argument evaluation (e.g., HashID.String()) when debug
// logging is off.
var debugEnabled atomic.Bool

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

func debug(format string, v ...any) {
	if debugEnabled.Load() {
		logger.Debugf(format, v...)
	}
}

func info(format string, v ...any) {
	logger.Infof(format, v...)
}

func warn(format string, v ...any) {
	logger.Warnf(format, v...)
}

func errorLog(format string, v ...any) {
	logger.Errorf(format, v...)
}
