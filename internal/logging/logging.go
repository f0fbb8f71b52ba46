// Package logging собирает корневой zerolog-логгер процесса.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"atg_broadcast/internal/config"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New создаёт логгер по настройкам: человекочитаемый вывод в консоль или JSON.
func New(cfg config.LoggingConfig) zerolog.Logger {
	return NewWriter(cfg, os.Stdout)
}

func NewWriter(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	out := w
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(out).Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
}

// ParseLevel разбирает уровень логирования, при ошибке возвращает def.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return def
	}
	return lvl
}
