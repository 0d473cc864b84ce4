package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fuzzyracer/racer/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, WarnLevel)

	logger.Info("ignored")
	logger.Warn("kept", Int("lane", 2))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0]["message"] != "kept" || entries[0]["level"] != "warn" {
		t.Fatalf("unexpected entry: %#v", entries[0])
	}
	if entries[0]["lane"] != float64(2) {
		t.Fatalf("expected lane field, got %#v", entries[0]["lane"])
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriter(&buf, DebugLevel)
	child := parent.With(String("session_id", "abc"))

	parent.Info("parent")
	child.Error("child", Error(errors.New("boom")))

	entries := decodeLines(t, &buf)
	if _, ok := entries[0]["session_id"]; ok {
		t.Fatalf("parent logger inherited child field: %#v", entries[0])
	}
	if entries[1]["session_id"] != "abc" || entries[1]["error"] != "boom" {
		t.Fatalf("child entry missing fields: %#v", entries[1])
	}
}

func TestFatalInvokesExit(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, InfoLevel)
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal("stop")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestParseLevel(t *testing.T) {
	if level, err := ParseLevel("WARNING"); err != nil || level != WarnLevel {
		t.Fatalf("ParseLevel(WARNING) = %v, %v", level, err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatal("expected unknown level to fail")
	}
}

func TestHTTPTraceMiddlewarePropagatesHeader(t *testing.T) {
	var seen string
	handler := HTTPTraceMiddleware(NewTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(TraceIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "trace-123" {
		t.Fatalf("expected trace id in context, got %q", seen)
	}
	if rec.Header().Get(TraceIDHeader) != "trace-123" {
		t.Fatalf("expected trace id echoed in response header")
	}
}

func TestLoggerFromContextFallsBackToGlobal(t *testing.T) {
	if LoggerFromContext(context.Background()) != L() {
		t.Fatal("expected global logger fallback")
	}
}

func TestRotatingWriterRollsOverAndCompresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "racer.log")
	writer, err := newRotatingWriter(config.LoggingConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	writer.maxSize = 64

	line := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 3; i++ {
		if _, err := writer.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := writer.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	matches, err := filepath.Glob(path + ".*.gz")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one compressed backup")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat active file: %v", err)
	}
	if info.Size() > 64 {
		t.Fatalf("active log exceeded rotation size: %d", info.Size())
	}
}
