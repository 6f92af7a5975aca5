// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logging provides levelled key=value logging on top of the standard
// log package. Messages keep the "component: message" form used across the
// producers; context fields are appended as " | k=v" pairs.
package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Level represents a log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel maps "debug", "info", "warn" or "error" (any case) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger writes levelled messages with context fields.
type Logger struct {
	mu       *sync.RWMutex
	minLevel *Level
	output   **log.Logger
	fields   map[string]interface{}
}

var defaultLogger = New()

// New creates a Logger writing to stderr at info level.
func New() *Logger {
	lvl := LevelInfo
	out := log.New(os.Stderr, "", log.LstdFlags)
	return &Logger{
		mu:       &sync.RWMutex{},
		minLevel: &lvl,
		output:   &out,
		fields:   map[string]interface{}{},
	}
}

// Default returns the package-level logger.
func Default() *Logger { return defaultLogger }

// SetLevel sets the minimum level. Derived loggers share the setting.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	*l.minLevel = level
	l.mu.Unlock()
}

// SetOutput replaces the destination. Derived loggers share the setting.
func (l *Logger) SetOutput(output *log.Logger) {
	l.mu.Lock()
	*l.output = output
	l.mu.Unlock()
}

// With returns a Logger carrying an extra context field.
func (l *Logger) With(key string, value interface{}) *Logger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{mu: l.mu, minLevel: l.minLevel, output: l.output, fields: fields}
}

func (l *Logger) log(level Level, msg string, keyVals ...interface{}) {
	l.mu.RLock()
	minLevel := *l.minLevel
	output := *l.output
	l.mu.RUnlock()

	if level < minLevel {
		return
	}

	all := make(map[string]interface{}, len(l.fields)+len(keyVals)/2)
	for k, v := range l.fields {
		all[k] = v
	}
	for i := 0; i+1 < len(keyVals); i += 2 {
		if key, ok := keyVals[i].(string); ok {
			all[key] = keyVals[i+1]
		}
	}

	var sb strings.Builder
	sb.WriteString(levelNames[level])
	sb.WriteString(" ")
	sb.WriteString(msg)
	if len(all) > 0 {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, k := range keys {
			sb.WriteString(" ")
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(formatValue(all[k]))
		}
	}
	output.Print(sb.String())
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, " \t\n") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case error:
		return fmt.Sprintf("%q", val.Error())
	case float64:
		return fmt.Sprintf("%.2f", val)
	default:
		return fmt.Sprint(v)
	}
}

func (l *Logger) Debug(msg string, keyVals ...interface{}) { l.log(LevelDebug, msg, keyVals...) }
func (l *Logger) Info(msg string, keyVals ...interface{})  { l.log(LevelInfo, msg, keyVals...) }
func (l *Logger) Warn(msg string, keyVals ...interface{})  { l.log(LevelWarn, msg, keyVals...) }
func (l *Logger) Error(msg string, keyVals ...interface{}) { l.log(LevelError, msg, keyVals...) }

// Package-level helpers using the default logger.

func SetLevel(level Level)                       { defaultLogger.SetLevel(level) }
func SetOutput(output *log.Logger)               { defaultLogger.SetOutput(output) }
func With(key string, value interface{}) *Logger { return defaultLogger.With(key, value) }
func Debug(msg string, keyVals ...interface{})   { defaultLogger.Debug(msg, keyVals...) }
func Info(msg string, keyVals ...interface{})    { defaultLogger.Info(msg, keyVals...) }
func Warn(msg string, keyVals ...interface{})    { defaultLogger.Warn(msg, keyVals...) }
func Error(msg string, keyVals ...interface{})   { defaultLogger.Error(msg, keyVals...) }
