// Package logging builds the slog loggers used by the deferq binary.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"

	"github.com/roach88/deferq/internal/clock"
)

// Format selects the log handler.
type Format string

const (
	FormatConsole Format = "console"
	FormatDev     Format = "dev"
	FormatJSON    Format = "json"
	FormatNone    Format = "none"
)

// Formats lists the accepted --log-format values.
var Formats = []Format{FormatConsole, FormatDev, FormatJSON, FormatNone}

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(t clock.AbsoluteTime) slog.Value {
		return slog.StringValue(t.String())
	}),
)

// Options configures New.
type Options struct {
	Format Format
	Level  slog.Level
	Out    io.Writer
}

// New creates a logger for the given options.
func New(opts Options) (*slog.Logger, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	switch opts.Format {
	case FormatConsole, "":
		return slog.New(newHandler(
			console.NewHandler(out, &console.HandlerOptions{
				Level:      opts.Level,
				TimeFormat: time.RFC3339Nano,
			}),
		)), nil
	case FormatDev:
		return slog.New(newHandler(
			devslog.NewHandler(out, &devslog.Options{
				HandlerOptions: &slog.HandlerOptions{
					AddSource: true,
					Level:     opts.Level,
				},
				SortKeys:   true,
				TimeFormat: time.RFC3339Nano,
			}),
		)), nil
	case FormatJSON:
		return slog.New(newHandler(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level}),
		)), nil
	case FormatNone:
		return Noop, nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want one of %s)", opts.Format, formatList())
	}
}

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse log level: %w", err)
	}
	return lvl, nil
}

func formatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop is a logger that discards everything.
var Noop = slog.New(noopHandler{})
