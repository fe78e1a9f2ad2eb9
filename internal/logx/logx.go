// Package logx builds the slog logger used by the ferry command.
package logx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Option configures New.
type Option func(*options)

type options struct {
	output io.Writer
	attrs  []slog.Attr
}

// WithOutput sets the destination. Nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(o *options) { o.attrs = append(o.attrs, attrs...) }
}

// New returns a logger writing format ("text" or "json") at level
// ("debug", "info", "warn" or "error"). Empty values fall back to text
// and info.
func New(format, level string, opts ...Option) (*slog.Logger, error) {
	o := &options{output: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", FormatText:
		handler = slog.NewTextHandler(o.output, hopts)
	case FormatJSON:
		handler = slog.NewJSONHandler(o.output, hopts)
	default:
		return nil, fmt.Errorf("logx: unknown format %q: want %q or %q", format, FormatText, FormatJSON)
	}
	if len(o.attrs) > 0 {
		handler = handler.WithAttrs(o.attrs)
	}
	return slog.New(handler), nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logx: %w", err)
	}
	return lvl, nil
}
