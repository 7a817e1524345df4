package logutil

import (
	"encoding/json"
	"log"
	"time"
)

// Fields are structured attributes attached to a log line.
type Fields map[string]interface{}

// Info logs a structured info message.
func Info(msg string, fields Fields) {
	logJSON("info", "", msg, fields)
}

// Warn logs a structured warning.
func Warn(msg string, fields Fields) {
	logJSON("warn", "", msg, fields)
}

// Error logs a structured error message including the error string.
func Error(msg string, err error, fields Fields) {
	logJSON("error", "", msg, withError(fields, err))
}

// Logger tags every line with a component name.
type Logger struct {
	Component string
}

// For returns a Logger for component.
func For(component string) Logger {
	return Logger{Component: component}
}

func (l Logger) Info(msg string, fields Fields) {
	logJSON("info", l.Component, msg, fields)
}

func (l Logger) Warn(msg string, fields Fields) {
	logJSON("warn", l.Component, msg, fields)
}

func (l Logger) Error(msg string, err error, fields Fields) {
	logJSON("error", l.Component, msg, withError(fields, err))
}

func withError(fields Fields, err error) Fields {
	out := Fields{}
	for k, v := range fields {
		out[k] = v
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

func logJSON(level, component, msg string, fields Fields) {
	entry := map[string]interface{}{
		"level":     level,
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if component != "" {
		entry["component"] = component
	}
	for k, v := range fields {
		entry[k] = v
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		log.Printf("%s: %+v", msg, fields)
		return
	}
	log.Printf("%s", payload)
}
