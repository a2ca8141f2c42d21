// Package output writes hunt reports.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format represents output format types.
type Format string

const (
	FormatNone Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. The empty string disables reports.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatNone, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format: %s", s)
	}
}

// Writer serializes reports.
type Writer interface {
	Write(r Report) error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	pretty bool
	indent string
}

// WithPretty enables pretty-printing.
func WithPretty(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.pretty = enabled
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{
		pretty: true,
		indent: "  ",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatJSON:
		return &JSONWriter{w: w, pretty: cfg.pretty, indent: cfg.indent}, nil
	case FormatYAML:
		return &YAMLWriter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// JSONWriter writes one JSON document per report.
type JSONWriter struct {
	w      io.Writer
	pretty bool
	indent string
}

func (j *JSONWriter) Write(r Report) error {
	enc := json.NewEncoder(j.w)
	if j.pretty {
		enc.SetIndent("", j.indent)
	}
	return enc.Encode(r)
}

// YAMLWriter writes one YAML document per report.
type YAMLWriter struct {
	w io.Writer
}

func (y *YAMLWriter) Write(r Report) error {
	enc := yaml.NewEncoder(y.w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
