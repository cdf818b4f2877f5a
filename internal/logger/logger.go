// Package logger builds the process-wide logrus logger. Components never
// reach for a global; they receive a logrus.FieldLogger from main.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stdout. Production environments get the
// JSON formatter for structured ingestion, everything else gets text with
// full timestamps. An unknown level falls back to info.
func New(env, level string) *logrus.Logger {
	log := logrus.New()

	// Output to stdout instead of the default stderr
	log.Out = os.Stdout

	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
