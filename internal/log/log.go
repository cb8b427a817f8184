package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler adds attributes stored in a context by ContextAttrs
// to every record
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	// copy, so sibling contexts never share the backing array
	merged := make([]slog.Attr, 0, len(a)+len(attrs))
	if ok {
		merged = append(merged, a...)
	}
	merged = append(merged, attrs...)
	return context.WithValue(ctx, slogKey, merged)
}

const (
	FormatJSON = "json"
	FormatText = "text"
	FormatAuto = "auto"
)

type Options struct {
	Verbose bool
	Format  string // json (default), text or auto
	// File rotates logs to a file instead of stderr when set
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New returns a logger writing to stderr or to a rotated file and a
// closer releasing the file
func New(opts Options) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	handlerOpts := &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	}
	var base slog.Handler
	if textFormat(opts) {
		base = slog.NewTextHandler(w, handlerOpts)
	} else {
		base = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(NewContextHandler(base)), closer
}

func textFormat(opts Options) bool {
	switch opts.Format {
	case FormatText:
		return true
	case FormatAuto:
		return opts.File == "" && term.IsTerminal(int(os.Stderr.Fd()))
	default:
		return false
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
