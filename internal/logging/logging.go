// Package logging configures the broker's structured logger.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger at the given level. levelName is parsed
// case-insensitively; an unrecognised value falls back to info. pretty
// selects a human-readable console writer instead of JSON, intended for
// local development.
func New(levelName string, pretty bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
