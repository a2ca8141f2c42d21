// Package challenge detects anti-bot interstitials and works through them
// with bounded, human-like interaction.
package challenge

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var defaultSignaturesYAML []byte

// Signature identifies one family of interstitial.
type Signature struct {
	Name      string   `yaml:"name"`
	Titles    []string `yaml:"titles"`
	Selectors []string `yaml:"selectors"`
	Texts     []string `yaml:"texts"`
	// Widgets are selectors for the element a human would click.
	Widgets []string `yaml:"widgets"`
}

// Detection is the outcome of checking one page.
type Detection struct {
	Blocked   bool
	Signature string
	// Matched is the token or selector that triggered the match.
	Matched string
	Widgets []string
}

// Detector matches pages against interstitial signatures.
type Detector struct {
	signatures []Signature
}

// NewDetector returns a detector for sigs. Tokens are matched
// case-insensitively.
func NewDetector(sigs []Signature) *Detector {
	out := make([]Signature, len(sigs))
	for i, s := range sigs {
		s.Titles = lowerAll(s.Titles)
		s.Texts = lowerAll(s.Texts)
		out[i] = s
	}
	return &Detector{signatures: out}
}

var (
	defaultOnce     sync.Once
	defaultDetector *Detector
)

// DefaultDetector returns a detector using the embedded signatures.
func DefaultDetector() *Detector {
	defaultOnce.Do(func() {
		sigs, err := ParseSignatures(defaultSignaturesYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded challenge signatures: %v", err))
		}
		defaultDetector = NewDetector(sigs)
	})
	return defaultDetector
}

// ParseSignatures decodes a signatures document.
func ParseSignatures(data []byte) ([]Signature, error) {
	var doc struct {
		Signatures []Signature `yaml:"signatures"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	for i, s := range doc.Signatures {
		if s.Name == "" {
			return nil, fmt.Errorf("signature %d has no name", i)
		}
	}
	return doc.Signatures, nil
}

// LoadSignatures reads extra signatures from a YAML file.
func LoadSignatures(path string) ([]Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signatures: %w", err)
	}
	return ParseSignatures(data)
}

// Signatures returns a copy of the detector's signatures.
func (d *Detector) Signatures() []Signature {
	return append([]Signature(nil), d.signatures...)
}

// Detect checks a page title and its rendered markup.
func (d *Detector) Detect(title, html string) Detection {
	title = strings.ToLower(title)

	var (
		doc  *goquery.Document
		text string
	)
	if strings.TrimSpace(html) != "" {
		if parsed, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			doc = parsed
			text = strings.ToLower(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
		}
	}

	for _, sig := range d.signatures {
		if m, ok := containsAny(title, sig.Titles); ok {
			return blocked(sig, m)
		}
		if doc != nil {
			for _, sel := range sig.Selectors {
				if doc.Find(sel).Length() > 0 {
					return blocked(sig, sel)
				}
			}
		}
		if m, ok := containsAny(text, sig.Texts); ok {
			return blocked(sig, m)
		}
	}
	return Detection{}
}

func blocked(sig Signature, matched string) Detection {
	return Detection{Blocked: true, Signature: sig.Name, Matched: matched, Widgets: sig.Widgets}
}

func containsAny(s string, tokens []string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, t := range tokens {
		if t != "" && strings.Contains(s, t) {
			return t, true
		}
	}
	return "", false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
