package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the service logger. level overrides the environment default when it parses.
func New(env, level string) zerolog.Logger {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "dispatch-service").Logger()

	switch env {
	case "development":
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).Level(zerolog.DebugLevel)
	case "production":
		log = log.Level(zerolog.InfoLevel)
	}

	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		log = log.Level(lvl)
	}
	return log
}
