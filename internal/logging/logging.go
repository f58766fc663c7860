package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New builds a logger writing to stderr. console uses the development
// encoder, json the production one. level overrides the format's default
// when non-empty: debug, info, warn, error.
func New(format, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch format {
	case "", FormatConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	case FormatJSON:
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the context's logger, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}
