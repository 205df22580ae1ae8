package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(level LogLevel) (*StructuredLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewStructuredLogger("meteo-test", "0.0.1", level, FormatJSON)
	l.SetOutput(&buf)
	return l, &buf
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestStructuredLogger_JSONEntry(t *testing.T) {
	l, buf := newTestLogger(InfoLevel)
	ctx := WithRequestID(context.Background(), "req-123")

	l.Info(ctx, "[INGEST_FILE] File ingested", Fields{"file": "a.txt", "inserted": 3})

	entries := decodeEntries(t, buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]

	checks := map[string]any{
		"level":      "INFO",
		"message":    "[INGEST_FILE] File ingested",
		"service":    "meteo-test",
		"version":    "0.0.1",
		"request_id": "req-123",
	}
	for k, want := range checks {
		if e[k] != want {
			t.Errorf("%s = %v, want %v", k, e[k], want)
		}
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("entry is missing timestamp")
	}

	fields, ok := e["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields = %T, want object", e["fields"])
	}
	if fields["file"] != "a.txt" || fields["inserted"] != float64(3) {
		t.Errorf("fields = %v", fields)
	}
}

func TestStructuredLogger_LevelFiltering(t *testing.T) {
	l, buf := newTestLogger(WarnLevel)
	ctx := context.Background()

	l.Debug(ctx, "debug", nil)
	l.Info(ctx, "info", nil)
	l.Warn(ctx, "warn", nil)

	entries := decodeEntries(t, buf)
	if len(entries) != 1 || entries[0]["message"] != "warn" {
		t.Fatalf("entries = %v, want only the warning", entries)
	}

	l.SetLevel(DebugLevel)
	buf.Reset()
	l.Debug(ctx, "debug", nil)
	if len(decodeEntries(t, buf)) != 1 {
		t.Error("debug entry should be written after SetLevel(DebugLevel)")
	}
}

func TestStructuredLogger_ErrorCarriesCallerAndError(t *testing.T) {
	l, buf := newTestLogger(InfoLevel)

	l.Error(context.Background(), "[DB_ERROR] Query failed", Fields{"query_type": "insert"}, errors.New("connection reset"))

	e := decodeEntries(t, buf)[0]
	if e["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", e["level"])
	}
	if e["error"] != "connection reset" {
		t.Errorf("error = %v", e["error"])
	}
	file, _ := e["file"].(string)
	if !strings.HasSuffix(file, "logger_test.go") {
		t.Errorf("file = %q, want the calling test file", file)
	}
}

func TestStructuredLogger_Fatal(t *testing.T) {
	l, buf := newTestLogger(InfoLevel)

	code := -1
	orig := exit
	exit = func(c int) { code = c }
	defer func() { exit = orig }()

	l.Fatal(context.Background(), "[STARTUP_ERROR] Boom", nil, errors.New("bad config"))

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	e := decodeEntries(t, buf)[0]
	if e["level"] != "FATAL" {
		t.Errorf("level = %v, want FATAL", e["level"])
	}
	if _, ok := e["stack_trace"]; !ok {
		t.Error("fatal entry should carry a stack trace")
	}
}

func TestContextLogger_MergesFields(t *testing.T) {
	l, buf := newTestLogger(InfoLevel)

	cl := l.WithFields(Fields{"feed": "barometer", "run_id": "r1"})
	cl.Info(context.Background(), "sweep", Fields{"run_id": "r2", "files": 2})

	fields := decodeEntries(t, buf)[0]["fields"].(map[string]any)
	if fields["feed"] != "barometer" || fields["run_id"] != "r2" || fields["files"] != float64(2) {
		t.Errorf("fields = %v", fields)
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger("meteo-test", "dev", InfoLevel, FormatConsole)
	l.SetOutput(&buf)

	l.Info(context.Background(), "hello console", Fields{"k": "v"})

	if !strings.Contains(buf.String(), "hello console") {
		t.Errorf("console output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
