// jsonlog.go - Leveled logging, JSON in production and key=value otherwise.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// Logger writes one entry per call.
type Logger struct {
	mu         sync.Mutex
	output     io.Writer
	minLevel   LogLevel
	enableJSON bool
}

// LogEntry is the JSON shape of one entry.
type LogEntry struct {
	Level     LogLevel       `json:"level"`
	Time      string         `json:"time"`
	Message   string         `json:"msg"`
	RequestID string         `json:"request_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Error     string         `json:"error,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// DefaultLogger backs the package-level helpers.
var DefaultLogger = NewLogger(os.Stdout, parseLogLevel(os.Getenv("SFD_LOG_LEVEL")),
	os.Getenv("SFD_LOG_FORMAT") == "json" || os.Getenv("SFD_ENV") == "production")

// NewLogger returns a logger writing to w.
func NewLogger(w io.Writer, min LogLevel, enableJSON bool) *Logger {
	return &Logger{output: w, minLevel: min, enableJSON: enableJSON}
}

func parseLogLevel(s string) LogLevel {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return l
	}
	return LogLevelInfo
}

func (l *Logger) enabled(level LogLevel) bool {
	return levelRank[level] >= levelRank[l.minLevel]
}

func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (l *Logger) log(level LogLevel, msg string, fields map[string]any, err error) {
	if !l.enabled(level) {
		return
	}

	entry := LogEntry{
		Level:   level,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Message: msg,
		Caller:  callerOf(3),
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			if k == "request_id" {
				entry.RequestID, _ = v.(string)
				continue
			}
			entry.Fields[k] = v
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}

	var line string
	if l.enableJSON {
		data, merr := json.Marshal(entry)
		if merr != nil {
			data, _ = json.Marshal(LogEntry{Level: level, Time: entry.Time, Message: msg, Error: merr.Error()})
		}
		line = string(data)
	} else {
		line = entry.text()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.output, line)
}

// text renders the entry with fields in sorted order.
func (e LogEntry) text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s", e.Level, e.Time, e.Message)
	if e.RequestID != "" {
		fmt.Fprintf(&sb, " rid=%s", e.RequestID)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
	}
	if e.Error != "" {
		fmt.Fprintf(&sb, " error=%q", e.Error)
	}
	return sb.String()
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(LogLevelDebug, msg, fields, nil) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(LogLevelInfo, msg, fields, nil) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(LogLevelWarn, msg, fields, nil) }

func (l *Logger) Error(msg string, fields map[string]any, err error) {
	l.log(LogLevelError, msg, fields, err)
}

// Package-level helpers on DefaultLogger.

func Debug(msg string, fields map[string]any) { DefaultLogger.log(LogLevelDebug, msg, fields, nil) }
func Info(msg string, fields map[string]any)  { DefaultLogger.log(LogLevelInfo, msg, fields, nil) }
func Warn(msg string, fields map[string]any)  { DefaultLogger.log(LogLevelWarn, msg, fields, nil) }

func Error(msg string, fields map[string]any, err error) {
	DefaultLogger.log(LogLevelError, msg, fields, err)
}
