/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Logger = logrus.Logger

const defaultTimestampFormat = "2006-01-02 15:04:05.000"

var (
	defaultLevel     = ParseLogLevel(EnvDefaultString("LOG_LEVEL", "info"))
	consoleLogFormat = EnvDefaultString("CONSOLE_LOG_FORMAT", "text")
	loggerRegistryMu sync.RWMutex
	loggerRegistry   = map[string]*logrus.Logger{}
	logOutputMu      sync.RWMutex
	logOutput        io.Writer = os.Stdout
)

// ConfigureConsoleLogFormat switches loggers created afterwards between the
// "text" and "json" formatters.
func ConfigureConsoleLogFormat(format string) {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		consoleLogFormat = "json"
	} else {
		consoleLogFormat = "text"
	}
}

// SetOutput redirects every logger created by NewLogger.
func SetOutput(w io.Writer) {
	logOutputMu.Lock()
	defer logOutputMu.Unlock()
	logOutput = w
}

func output() io.Writer {
	logOutputMu.RLock()
	defer logOutputMu.RUnlock()
	return logOutput
}

func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

func RegisterLogger(name string, l *logrus.Logger) {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	loggerRegistry[name] = l
}

// SetLoggerLevel changes the level of a registered logger. It reports false
// if no logger is registered under name.
func SetLoggerLevel(name string, lvlStr string) bool {
	loggerRegistryMu.RLock()
	lg, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if !ok {
		return false
	}
	lg.SetLevel(ParseLogLevel(lvlStr))
	return true
}

// ConfigureLogLevel sets the level of all registered loggers and of loggers
// created afterwards.
func ConfigureLogLevel(levelStr string) {
	defaultLevel = ParseLogLevel(levelStr)
	loggerRegistryMu.RLock()
	for _, lg := range loggerRegistry {
		lg.SetLevel(defaultLevel)
	}
	loggerRegistryMu.RUnlock()
}

type consoleWriterHook struct {
	formatter logrus.Formatter
}

func (h *consoleWriterHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *consoleWriterHook) Fire(e *logrus.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = output().Write(b)
	return err
}

// NewLogger returns a named logger and registers it so its level can be
// changed later by name. Calling it twice with the same name returns the
// registered instance.
func NewLogger(name string) *logrus.Logger {
	loggerRegistryMu.RLock()
	existing, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if ok {
		return existing
	}

	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(defaultLevel)
	l.SetReportCaller(true)
	if consoleLogFormat == "json" {
		l.SetFormatter(&JSONLogFormatter{LoggerName: name, TimestampFormat: defaultTimestampFormat})
	} else {
		l.SetFormatter(&Log4jColorFormatter{
			LoggerName:      name,
			TimestampFormat: defaultTimestampFormat,
			NameWidth:       10,
			CallerWidth:     25,
		})
	}
	l.AddHook(&consoleWriterHook{formatter: l.Formatter})
	RegisterLogger(name, l)
	return l
}

// Log4jColorFormatter renders entries as a single coloured log4j-style line
// followed by the entry fields in key=value form.
type Log4jColorFormatter struct {
	LoggerName      string
	TimestampFormat string
	NameWidth       int
	CallerWidth     int
}

func (f *Log4jColorFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = defaultTimestampFormat
	}
	lvl := colorLevel(padLeft(strings.ToUpper(entry.Level.String()), 7), entry.Level)
	pid := colorWrap(fmt.Sprintf("%-6d", os.Getpid()), ansiMagenta)
	name := colorWrap(padLeft(limitRunes(f.LoggerName, f.NameWidth), f.NameWidth), ansiCyan)

	callerInfo := ""
	if entry.Caller != nil {
		fileLine := shortCaller(entry.Caller.File, entry.Caller.Line)
		if f.CallerWidth > 0 {
			fileLine = padLeft(fileLine, f.CallerWidth)
		}
		callerInfo = colorWrap(" "+fileLine, ansiFaint)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s%s %s %s",
		entry.Time.Format(tsFormat), lvl, pid, name, callerInfo, colorWrap(":", ansiFaint), entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		fmt.Fprintf(&b, " %s=%v", colorWrap(k, ansiFaint), entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// JSONLogFormatter renders one JSON object per entry.
type JSONLogFormatter struct {
	LoggerName      string
	TimestampFormat string
}

func (f *JSONLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = defaultTimestampFormat
	}
	rec := struct {
		Time    string                 `json:"time"`
		Level   string                 `json:"level"`
		Logger  string                 `json:"logger"`
		Caller  string                 `json:"caller,omitempty"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields,omitempty"`
	}{
		Time:    entry.Time.Format(tsFormat),
		Level:   entry.Level.String(),
		Logger:  f.LoggerName,
		Message: entry.Message,
	}
	if entry.Caller != nil {
		rec.Caller = shortCaller(entry.Caller.File, entry.Caller.Line)
	}
	if len(entry.Data) > 0 {
		rec.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			rec.Fields[k] = v
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

const (
	ansiReset   = "\x1b[0m"
	ansiFaint   = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiYellow  = "\x1b[33m"
	ansiGreen   = "\x1b[32m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func colorWrap(s, code string) string { return code + s + ansiReset }

func colorLevel(s string, level logrus.Level) string {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorWrap(s, ansiRed)
	case logrus.WarnLevel:
		return colorWrap(s, ansiYellow)
	case logrus.InfoLevel:
		return colorWrap(s, ansiGreen)
	case logrus.DebugLevel:
		return colorWrap(s, ansiBlue)
	default:
		return colorWrap(s, ansiMagenta)
	}
}

func padLeft(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(r)) + s
}

func limitRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}

// shortCaller keeps the parent directory and file name, e.g. "query/compile.go:42".
func shortCaller(file string, line int) string {
	parts := strings.Split(filepath.ToSlash(file), "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1] + ":" + strconv.Itoa(line)
	}
	return parts[0] + ":" + strconv.Itoa(line)
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}

func EnvDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
