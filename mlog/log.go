// Package mlog provides logging with log levels and fields.
//
// Each log level has a function to log with and without error.
// Each such function takes a varargs list of attributes to log.
// Variable data should be in attributes. Logging strings themselves should be
// constant, for easier log processing (e.g. building metrics based on log
// messages).
//
// The log levels can be configured per originating package, e.g. searchquery,
// querycache. The configuration is application-global, so each Log instance
// uses the same log levels.
//
// Print* should be used for lines that always should be printed, regardless of
// configured log levels. Useful for startup logging and subcommands.
package mlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var noctx = context.Background()

// Logfmt enables logfmt output instead of the more human-readable default.
var Logfmt bool

// Levels, lower is more severe, like mox. LevelPrint is always printed.
const (
	LevelPrint slog.Level = slog.LevelError + 4
	LevelError slog.Level = slog.LevelError
	LevelInfo  slog.Level = slog.LevelInfo
	LevelDebug slog.Level = slog.LevelDebug
	LevelTrace slog.Level = slog.LevelDebug - 4
)

var LevelStrings = map[slog.Level]string{
	LevelPrint: "print",
	LevelError: "error",
	LevelInfo:  "info",
	LevelDebug: "debug",
	LevelTrace: "trace",
}

var Levels = map[string]slog.Level{
	"print": LevelPrint,
	"error": LevelError,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelTrace,
}

// Holds a map[string]slog.Level, mapping a package (field pkg in logs) to a log
// level. The empty string is the default/fallback log level.
var config atomic.Value

func init() {
	config.Store(map[string]slog.Level{"": LevelError})
}

// SetConfig atomically sets the new log levels used by all Log instances.
func SetConfig(c map[string]slog.Level) {
	config.Store(c)
}

type key string

// CidKey can be used with context.WithValue to store a "cid" in a context, for logging.
var CidKey key = "cid"

// Log wraps a slog.Logger, adding methods that take an error.
type Log struct {
	*slog.Logger
}

// New returns a Log that adds a "pkg" attribute. If logger is nil, a logger
// writing to stderr with the configured per-package levels is used.
func New(pkg string, logger *slog.Logger) Log {
	if logger == nil {
		logger = slog.New(&handler{w: os.Stderr, mu: &sync.Mutex{}})
	}
	return Log{logger}.WithPkg(pkg)
}

// WithPkg returns a new Log with the "pkg" attribute set.
func (l Log) WithPkg(pkg string) Log {
	return Log{l.Logger.With(slog.String("pkg", pkg))}
}

// WithCid adds a field "cid".
func (l Log) WithCid(cid int64) Log {
	return Log{l.Logger.With(slog.Int64("cid", cid))}
}

// WithContext adds cid from context, if present.
func (l Log) WithContext(ctx context.Context) Log {
	cidv := ctx.Value(CidKey)
	if cidv == nil {
		return l
	}
	return l.WithCid(cidv.(int64))
}

// With adds attributes that are included in all lines logged through the
// returned Log.
func (l Log) With(attrs ...slog.Attr) Log {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return Log{l.Logger.With(args...)}
}

// Check logs an error at error level if err is non-nil.
func (l Log) Check(err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		l.Errorx(msg, err, attrs...)
	}
}

func (l Log) Print(msg string, attrs ...slog.Attr) { l.Logx(LevelPrint, msg, nil, attrs...) }
func (l Log) Printx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelPrint, msg, err, attrs...)
}

func (l Log) Debug(msg string, attrs ...slog.Attr) { l.Logx(LevelDebug, msg, nil, attrs...) }
func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelDebug, msg, err, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) { l.Logx(LevelInfo, msg, nil, attrs...) }
func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelInfo, msg, err, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) { l.Logx(LevelError, msg, nil, attrs...) }
func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelError, msg, err, attrs...)
}

// Logx logs at level, with err as attribute "err" if non-nil.
func (l Log) Logx(level slog.Level, msg string, err error, attrs ...slog.Attr) {
	if !l.Logger.Enabled(noctx, level) {
		return
	}
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.Logger.LogAttrs(noctx, level, msg, attrs...)
}

// handler writes mox-style log lines, filtering by the level configured for the
// "pkg" attribute.
type handler struct {
	w      io.Writer
	mu     *sync.Mutex
	pkg    string
	attrs  []slog.Attr
	groups []string
}

var _ slog.Handler = (*handler)(nil)

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= LevelPrint {
		return true
	}
	cl := config.Load().(map[string]slog.Level)
	if v, ok := cl[h.pkg]; ok {
		return level >= v
	}
	return level >= cl[""]
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if a.Key == "pkg" && len(h.groups) == 0 {
			nh.pkg = a.Value.String()
		}
		nh.attrs = append(nh.attrs, h.grouped(a))
	}
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.groups = append(append([]string{}, h.groups...), name)
	return &nh
}

func (h *handler) grouped(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	a.Key = strings.Join(h.groups, ".") + "." + a.Key
	return a
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := append([]slog.Attr{}, h.attrs...)
	var errAttr *slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "err" && errAttr == nil && len(h.groups) == 0 {
			errAttr = &a
			return true
		}
		attrs = append(attrs, h.grouped(a))
		return true
	})

	level, ok := LevelStrings[r.Level]
	if !ok {
		level = strings.ToLower(r.Level.String())
	}

	// Build a buffer so the line is written with a single write and lines of
	// concurrent loggers don't interleave.
	b := &bytes.Buffer{}
	if Logfmt {
		fmt.Fprintf(b, "l=%s m=%s", level, logfmtValue(r.Message))
		if errAttr != nil {
			fmt.Fprintf(b, " err=%s", logfmtValue(errAttr.Value.String()))
		}
		for _, a := range attrs {
			fmt.Fprintf(b, " %s=%s", a.Key, logfmtValue(attrValue(a)))
		}
	} else {
		fmt.Fprintf(b, "%s: %s", level, logfmtValue(r.Message))
		if errAttr != nil {
			fmt.Fprintf(b, ": %s", logfmtValue(errAttr.Value.String()))
		}
		if len(attrs) > 0 {
			b.WriteString(" (")
			for i, a := range attrs {
				if i > 0 {
					b.WriteString("; ")
				}
				fmt.Fprintf(b, "%s: %s", a.Key, logfmtValue(attrValue(a)))
			}
			b.WriteString(")")
		}
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(b.Bytes())
	return err
}

func attrValue(a slog.Attr) string {
	v := a.Value.Resolve()
	if a.Key == "cid" && v.Kind() == slog.KindInt64 {
		return fmt.Sprintf("%x", v.Int64())
	}
	if v.Kind() == slog.KindAny {
		if l, ok := v.Any().([]string); ok {
			return "[" + strings.Join(l, ",") + "]"
		}
	}
	return v.String()
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

// NewWriter returns a Log writing to w instead of stderr, for tests and
// subcommands that capture output.
func NewWriter(pkg string, w io.Writer) Log {
	return New(pkg, slog.New(&handler{w: w, mu: &sync.Mutex{}}))
}
