// Package target defines what to acquire and loads target catalogs.
package target

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Mode selects the acquisition path.
type Mode string

const (
	// ModeScrape drives a browser through the page to find the download.
	ModeScrape Mode = "scrape"
	// ModeDirect treats the URL as the artifact itself.
	ModeDirect Mode = "direct"
)

// DefaultWait is the acquisition deadline when a target sets none.
const DefaultWait = 30 * time.Second

// Target is one artifact to acquire. It is immutable for a run.
type Target struct {
	ID         string   `json:"id" yaml:"id" validate:"required,excludesall=/\\"`
	URL        string   `json:"url" yaml:"url" validate:"required,http_url"`
	Mode       Mode     `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=scrape direct"`
	Wait       Duration `json:"wait,omitempty" yaml:"wait,omitempty" validate:"gte=0"`
	Output     string   `json:"output,omitempty" yaml:"output,omitempty"`
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty" validate:"dive,required"`
}

// Deadline returns the configured wait, or DefaultWait.
func (t Target) Deadline() time.Duration {
	if t.Wait <= 0 {
		return DefaultWait
	}
	return time.Duration(t.Wait)
}

// OutputPath returns the output file, defaulting to "<id>.apk".
func (t Target) OutputPath() string {
	if t.Output != "" {
		return t.Output
	}
	return t.ID + ".apk"
}

// ArtifactExtensions returns the accepted extensions, defaulting to ".apk".
func (t Target) ArtifactExtensions() []string {
	if len(t.Extensions) == 0 {
		return []string{".apk"}
	}
	return t.Extensions
}

// Overrides are command-line values that take precedence over the catalog.
type Overrides struct {
	URL    string
	Output string
	Wait   time.Duration
	Mode   Mode
}

// Apply returns a copy of t with non-zero overrides applied.
func (t Target) Apply(o Overrides) Target {
	if o.URL != "" {
		t.URL = o.URL
	}
	if o.Output != "" {
		t.Output = o.Output
	}
	if o.Wait > 0 {
		t.Wait = Duration(o.Wait)
	}
	if o.Mode != "" {
		t.Mode = o.Mode
	}
	if t.Mode == "" {
		t.Mode = ModeScrape
	}
	return t
}

var validate = validator.New()

// Validate checks the target's fields.
func (t Target) Validate() error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("target %q: field %s failed %q validation", t.ID, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("target %q: %w", t.ID, err)
	}
	return nil
}

// Duration accepts Go duration strings ("45s") or integer milliseconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	return d.parse(string(b))
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) parse(s string) error {
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ParseDuration parses a Go duration string or a bare integer number of
// milliseconds. The empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return v, nil
}

// Catalog is a set of targets keyed by id.
type Catalog struct {
	targets []Target
	byID    map[string]int
}

// NewCatalog validates targets and indexes them.
func NewCatalog(targets []Target) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(targets))}
	for _, t := range targets {
		if t.Mode == "" {
			t.Mode = ModeScrape
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		c.byID[t.ID] = len(c.targets)
		c.targets = append(c.targets, t)
	}
	return c, nil
}

// catalogFile is the on-disk layout: either a bare list or {targets: [...]}.
type catalogFile struct {
	Targets []Target `json:"targets" yaml:"targets"`
}

// FromFile loads a catalog from a JSON or YAML file.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target catalog: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var targets []Target

	switch ext {
	case ".json":
		targets, err = decodeJSON(data)
	case ".yaml", ".yml":
		targets, err = decodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported target catalog format: %s", ext)
	}
	if err != nil {
		return nil, err
	}
	return NewCatalog(targets)
}

func decodeJSON(data []byte) ([]Target, error) {
	var list []Target
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse JSON target catalog: %w", err)
	}
	return f.Targets, nil
}

func decodeYAML(data []byte) ([]Target, error) {
	var list []Target
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML target catalog: %w", err)
	}
	return f.Targets, nil
}

// Lookup returns the target with the given id.
func (c *Catalog) Lookup(id string) (Target, bool) {
	if c == nil {
		return Target{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Target{}, false
	}
	return c.targets[i], true
}

// All returns the targets in file order.
func (c *Catalog) All() []Target {
	if c == nil {
		return nil
	}
	out := make([]Target, len(c.targets))
	copy(out, c.targets)
	return out
}

// Resolve finds id in the catalog and applies overrides. An unknown id is
// accepted when the overrides carry a URL.
func Resolve(c *Catalog, id string, o Overrides) (Target, error) {
	t, ok := c.Lookup(id)
	if !ok {
		if o.URL == "" {
			return Target{}, fmt.Errorf("unknown target %q and no --url given", id)
		}
		t = Target{ID: id}
	}
	t = t.Apply(o)
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}
