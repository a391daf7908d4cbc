// Copyright 2024 The kadfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is the structured logger every component (C1-C9) writes
// through, built on log/slog the way gcsfuse's internal/logger package is.
// It adds a TRACE level below slog's own Debug, since the spec's §7 error
// policy distinguishes "log and swallow" (WARNING) from ordinary
// diagnostics (TRACE/DEBUG/INFO).
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kadfs/kadfs/internal/config"
)

const levelTrace = slog.Level(-8)

var levelValue = map[string]slog.Level{
	config.TRACE:   levelTrace,
	config.DEBUG:   slog.LevelDebug,
	config.INFO:    slog.LevelInfo,
	config.WARNING: slog.LevelWarn,
	config.ERROR:   slog.LevelError,
}

var levelName = map[slog.Level]string{
	levelTrace:      config.TRACE,
	slog.LevelDebug: config.DEBUG,
	slog.LevelInfo:  config.INFO,
	slog.LevelWarn:  config.WARNING,
	slog.LevelError: config.ERROR,
}

var programLevel = new(slog.LevelVar)

// defaultLoggerFactory picks text vs. json rendering; tests swap format
// directly, cmd wires it from cfg.Config.Debug.LogFormat.
var defaultLoggerFactory = &rendererFactory{format: "text"}

var defaultLogger = slog.New(defaultLoggerFactory.newHandler(os.Stderr, programLevel, ""))

type rendererFactory struct {
	format string
}

func (f *rendererFactory) newHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	if f.format == "json" {
		return &jsonHandler{w: w, level: level, prefix: prefix}
	}
	return &textHandler{w: w, level: level, prefix: prefix}
}

// Init (re)configures the package-level logger: format is "text" or "json",
// level is one of the config.* severity constants (config.OFF disables
// logging entirely), and w is the sink — a file opened by cmd, wrapped in
// lumberjack for rotation, or os.Stderr.
func Init(format, level string, w io.Writer) {
	defaultLoggerFactory = &rendererFactory{format: format}
	setLevel(level, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.newHandler(w, programLevel, ""))
}

func setLevel(level string, v *slog.LevelVar) {
	if level == config.OFF {
		v.Set(slog.LevelError + 1)
		return
	}
	if lv, ok := levelValue[level]; ok {
		v.Set(lv)
	}
}

// textHandler renders time="..." severity=X message="...".
type textHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
	attrs  []slog.Attr
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	sev := levelName[r.Level]
	if sev == "" {
		sev = r.Level.String()
	}
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
		r.Time.Format("2006/01/02 15:04:05.000000"), sev, h.prefix+r.Message)
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *textHandler) WithGroup(string) slog.Handler { return h }

// jsonHandler renders {"timestamp":{"seconds":N,"nanos":N},"severity":"X","message":"..."}.
type jsonHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
	attrs  []slog.Attr
}

type jsonRecord struct {
	Timestamp struct {
		Seconds int64 `json:"seconds"`
		Nanos   int   `json:"nanos"`
	} `json:"timestamp"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	sev := levelName[r.Level]
	if sev == "" {
		sev = r.Level.String()
	}
	var rec jsonRecord
	rec.Timestamp.Seconds = r.Time.Unix()
	rec.Timestamp.Nanos = r.Time.Nanosecond()
	rec.Severity = sev
	rec.Message = h.prefix + r.Message
	return json.NewEncoder(h.w).Encode(rec)
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *jsonHandler) WithGroup(string) slog.Handler { return h }

func logAt(level slog.Level, format string, args ...interface{}) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...interface{}) { logAt(levelTrace, format, args...) }
func Debugf(format string, args ...interface{}) { logAt(slog.LevelDebug, format, args...) }
func Infof(format string, args ...interface{})  { logAt(slog.LevelInfo, format, args...) }
func Warnf(format string, args ...interface{})  { logAt(slog.LevelWarn, format, args...) }
func Errorf(format string, args ...interface{}) { logAt(slog.LevelError, format, args...) }
