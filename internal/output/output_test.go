package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func sampleReport() Report {
	return Report{
		RunID:     "run-1",
		Target:    "example",
		URL:       "https://apks.example.com/app",
		Mode:      "scrape",
		Success:   true,
		Artifact:  "example.apk",
		Size:      54_000_000,
		SizeHuman: "54 MB",
		Clicks: []Click{
			{Context: "tab-1", Text: "Download APK", Score: 130, Reasons: []string{"canonical", "size"}},
		},
		Iterations: 4,
		StartedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:   "12s",
	}
}

// --- NewWriter Tests ---

func TestNewWriter_Formats(t *testing.T) {
	buf := &bytes.Buffer{}

	w, err := NewWriter(buf, FormatJSON)
	if err != nil {
		t.Fatalf("NewWriter(json) error = %v", err)
	}
	if _, ok := w.(*JSONWriter); !ok {
		t.Errorf("expected *JSONWriter, got %T", w)
	}

	w, err = NewWriter(buf, FormatYAML)
	if err != nil {
		t.Fatalf("NewWriter(yaml) error = %v", err)
	}
	if _, ok := w.(*YAMLWriter); !ok {
		t.Errorf("expected *YAMLWriter, got %T", w)
	}
}

func TestNewWriter_UnsupportedFormat(t *testing.T) {
	if _, err := NewWriter(&bytes.Buffer{}, Format("xml")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseFormat(t *testing.T) {
	for _, ok := range []string{"", "json", "yaml"} {
		if _, err := ParseFormat(ok); err != nil {
			t.Errorf("ParseFormat(%q) error = %v", ok, err)
		}
	}
	if _, err := ParseFormat("csv"); err == nil {
		t.Error("ParseFormat(csv) should fail")
	}
}

// --- Writer Tests ---

func TestJSONWriter_Write(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := NewWriter(buf, FormatJSON)

	if err := w.Write(sampleReport()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got Report
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Artifact != "example.apk" || len(got.Clicks) != 1 || got.Clicks[0].Score != 130 {
		t.Errorf("unexpected report: %+v", got)
	}
	if !strings.Contains(buf.String(), "\n  \"run_id\"") {
		t.Error("expected pretty-printed output by default")
	}
}

func TestJSONWriter_Compact(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := NewWriter(buf, FormatJSON, WithPretty(false))
	_ = w.Write(sampleReport())

	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("compact output should be a single line, got %q", buf.String())
	}
}

func TestJSONWriter_OmitsEmptyFailureFields(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := NewWriter(buf, FormatJSON)
	_ = w.Write(sampleReport())

	if strings.Contains(buf.String(), `"error"`) || strings.Contains(buf.String(), `"warnings"`) {
		t.Errorf("unexpected empty fields in %s", buf.String())
	}
}

func TestYAMLWriter_Write(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := NewWriter(buf, FormatYAML)

	r := sampleReport()
	r.Success = false
	r.Error = "no download found"
	r.Warnings = []string{"setup.apk (2.0 kB): decoy filename"}
	if err := w.Write(r); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if got["error"] != "no download found" || got["success"] != false {
		t.Errorf("unexpected report: %v", got)
	}
}
