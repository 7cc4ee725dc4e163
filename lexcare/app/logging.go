package app

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
)

// NewLogger builds the process logger from the app section. An unknown level
// falls back to info.
func NewLogger(cfg config.AppConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(cfg.LogFormat, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", cfg.Name).Logger()
}
