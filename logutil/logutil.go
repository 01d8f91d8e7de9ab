// Package logutil configures the process-wide logger. Every other package
// logs through logrus's package-level functions directly (as
// talent-plan-tinykv/scheduler/server does); this package only owns the
// one-time setup.
package logutil

import (
	"os"

	"github.com/sirupsen/logrus"
)

// InitLogger sets the global logrus level and formatter from a config
// log-level string ("debug", "info", "warn", "error"). Unknown levels fall
// back to info, matching tinykv's config.Config.LogLevel handling.
func InitLogger(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetOutput(os.Stderr)
}

// WithRegion returns a logger entry tagged with the region id, the way
// region-scoped log lines should be attributed across the engine.
func WithRegion(regionID uint64) *logrus.Entry {
	return logrus.WithField("region_id", regionID)
}
