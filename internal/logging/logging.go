// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Level  string // trace, debug, info, warn, error; info when unknown
	Format string // "json" or "text"
	Output io.Writer
}

// Setup creates a logger from cfg.
func Setup(cfg Config) *logrus.Logger {
	l := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
