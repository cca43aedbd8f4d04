// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package log is a small leveled, key-value logger in the shape every
// go-ethereum-derived package reaches for: package-level Trace/Debug/Info/
// Warn/Error functions backed by a root Logger, and New(ctx...) for a
// logger bound to a fixed set of key-value pairs. It sits on log/slog
// rather than rolling its own record formatting, colorizing terminal
// output when attached to a tty.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger is the interface every call site in this module logs through.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

// levelTrace has no slog.Level equivalent, so it is modeled one notch below
// slog.LevelDebug rather than widening the public Level type.
const levelTrace = slog.Level(-8)

type logger struct {
	handler slog.Handler
	ctx     []interface{}
}

// New returns a Logger whose every record carries ctx's key-value pairs in
// addition to whatever a call site adds.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

func (l *logger) New(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{handler: l.handler, ctx: merged}
}

func (l *logger) log(level slog.Level, msg string, ctx []interface{}) {
	if !l.handler.Enabled(context.Background(), level) {
		return
	}
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.Add(normalize(all)...)
	_ = l.handler.Handle(context.Background(), r)
}

func normalize(ctx []interface{}) []interface{} {
	if len(ctx)%2 != 0 {
		ctx = append(ctx, "MISSING_VALUE")
	}
	return ctx
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.log(levelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.log(slog.LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.log(slog.LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.log(slog.LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.log(slog.LevelError, msg, ctx) }

var (
	rootMu sync.Mutex
	root   Logger = &logger{handler: newTerminalHandler(os.Stderr)}
)

// Root returns the package-level default Logger, the one Trace/Debug/Info/
// Warn/Error delegate to.
func Root() Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	return root
}

// SetDefault replaces the root Logger, e.g. to redirect output to a file or
// raise the minimum level.
func SetDefault(l Logger) {
	rootMu.Lock()
	root = l
	rootMu.Unlock()
}

func Trace(msg string, ctx ...interface{}) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root().Error(msg, ctx...) }

// terminalHandler formats a record on one line, colorizing the level when
// w is a tty, and plain text otherwise (e.g. piped to a file or journald).
type terminalHandler struct {
	w      io.Writer
	color  bool
	mu     sync.Mutex
	minLvl slog.Level
}

func newTerminalHandler(w io.Writer) *terminalHandler {
	h := &terminalHandler{w: w, minLvl: levelTrace}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		h.color = true
		h.w = colorable.NewColorable(f)
	}
	return h
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLvl
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("2006-01-02T15:04:05-0700"))
	b.WriteByte(' ')
	b.WriteString(h.levelString(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	b.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *terminalHandler) levelString(level slog.Level) string {
	name := func(s string, code int) string {
		if !h.color {
			return s
		}
		return fmt.Sprintf("\x1b[%dm%s\x1b[0m", code, s)
	}
	switch {
	case level <= levelTrace:
		return name("TRACE", 90)
	case level < slog.LevelInfo:
		return name("DEBUG", 36)
	case level < slog.LevelWarn:
		return name("INFO ", 32)
	case level < slog.LevelError:
		return name("WARN ", 33)
	default:
		return name("ERROR", 31)
	}
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *terminalHandler) WithGroup(name string) slog.Handler       { return h }
