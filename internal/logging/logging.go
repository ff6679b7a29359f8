// Package logging builds the slog logger used by the CLI and carries it on
// the context.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"
)

// LevelFatal marks failures that were deliberately swallowed so the rest of
// a run can go on. It does not exit.
const LevelFatal = slog.Level(12)

func RegisterLoggingFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("loglevel", "info", "set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringP("logformat", "f", "text", "set the log format (text, json)")
}

// GetBaseLogger builds a logger from the flags registered by RegisterLoggingFlags.
func GetBaseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := ParseLevel(cmd.Flag("loglevel").Value.String())
	if err != nil {
		return nil, err
	}
	return New(cmd.ErrOrStderr(), cmd.Flag("logformat").Value.String(), level)
}

// New builds a text or json logger writing to w.
func New(w io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return slog.New(handler), nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level >= LevelFatal {
		return slog.String(slog.LevelKey, "FATAL")
	}
	return a
}

// Fatal logs msg at LevelFatal with the logger carried by ctx.
func Fatal(ctx context.Context, msg string, args ...any) {
	slogcontext.FromCtx(ctx).Log(ctx, LevelFatal, msg, args...)
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return slogcontext.NewCtx(ctx, logger)
}
