// Package logx provides the structured logger shared by every package in
// this module.
package logx

import (
	"github.com/sirupsen/logrus"
)

// L is the package-level logger. Callers that need request-scoped fields
// should call L.WithField/WithFields rather than constructing their own
// logger.
var L = New()

// New builds a logger configured the way this module expects: JSON output,
// caller reporting, timestamps with four fractional-second digits.
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetReportCaller(true)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
	})
	return logger
}
