package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetLogger() {
	Init(Options{})
}

func slogTo(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, nil))
}

// --- Init Tests ---

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		visible []string
		hidden  []string
	}{
		{"default", Options{}, []string{"info-msg", "warn-msg", "error-msg"}, []string{"debug-msg"}},
		{"debug", Options{Debug: true}, []string{"debug-msg", "info-msg"}, nil},
		{"quiet", Options{Quiet: true}, []string{"error-msg"}, []string{"debug-msg", "info-msg", "warn-msg"}},
		{"quiet wins over debug", Options{Debug: true, Quiet: true}, []string{"error-msg"}, []string{"debug-msg", "info-msg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			opts := tt.opts
			opts.Output = buf
			Init(opts)
			defer resetLogger()

			Debug("debug-msg")
			Info("info-msg")
			Warn("warn-msg")
			Error("error-msg")

			out := buf.String()
			for _, m := range tt.visible {
				if !strings.Contains(out, m) {
					t.Errorf("expected %q in output", m)
				}
			}
			for _, m := range tt.hidden {
				if strings.Contains(out, m) {
					t.Errorf("did not expect %q in output", m)
				}
			}
		})
	}
}

func TestInit_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{JSON: true, Output: buf})
	defer resetLogger()

	Info("hunt started", "target", "example")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "hunt started" || rec["target"] != "example" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestInit_CustomLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Logger: slogTo(buf)})
	defer resetLogger()

	Info("from custom logger")
	if !strings.Contains(buf.String(), "from custom logger") {
		t.Error("expected custom logger to receive message")
	}
}

// --- File Tests ---

func TestInit_FileKeepsDebugWhenConsoleQuiet(t *testing.T) {
	console := &bytes.Buffer{}
	path := filepath.Join(t.TempDir(), "apkhunter.log")
	Init(Options{Quiet: true, Output: console, File: &FileOptions{Path: path, MaxSizeMB: 1}})
	defer resetLogger()

	Debug("scan detail", "contexts", 3)
	Error("run failed")
	if err := Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if strings.Contains(console.String(), "scan detail") {
		t.Error("console should not show debug when quiet")
	}
	if !strings.Contains(console.String(), "run failed") {
		t.Error("console should show errors")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "scan detail") || !strings.Contains(string(data), "run failed") {
		t.Errorf("log file missing records: %s", data)
	}
}

func TestClose_NoFile(t *testing.T) {
	Init(Options{Output: &bytes.Buffer{}})
	defer resetLogger()

	if err := Close(); err != nil {
		t.Errorf("Close() without file should be nil, got %v", err)
	}
}

// --- With Tests ---

func TestWith_AttrsReachBothSinks(t *testing.T) {
	console := &bytes.Buffer{}
	path := filepath.Join(t.TempDir(), "run.log")
	Init(Options{Output: console, File: &FileOptions{Path: path}})
	defer resetLogger()

	With("run_id", "abc123").Info("clicked")
	_ = Close()

	if !strings.Contains(console.String(), "run_id=abc123") {
		t.Errorf("console missing attr: %s", console.String())
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"run_id":"abc123"`) {
		t.Errorf("file missing attr: %s", data)
	}
}

// --- Context Tests ---

func TestContextVariants(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Debug: true, Output: buf})
	defer resetLogger()

	ctx := context.Background()
	DebugContext(ctx, "ctx-debug")
	InfoContext(ctx, "ctx-info")
	WarnContext(ctx, "ctx-warn")
	ErrorContext(ctx, "ctx-error")

	for _, m := range []string{"ctx-debug", "ctx-info", "ctx-warn", "ctx-error"} {
		if !strings.Contains(buf.String(), m) {
			t.Errorf("expected %q in output", m)
		}
	}
}
