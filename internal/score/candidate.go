// Package score ranks interactive page elements by how likely they are to
// start the genuine artifact download.
//
// Scoring is pure: the same candidates always produce the same ranking.
// Signals are independent, explainable weights rather than a single keyword
// match, so the heuristic survives cosmetic changes to target pages.
package score

import (
	"math"
	"strings"
)

// Candidate is one interactive element seen in one browsing context during
// one scan. Candidates are recomputed on every scan and never cached.
type Candidate struct {
	ContextID string `json:"context_id"`
	Origin    string `json:"origin"` // URL of the page the element lives in
	Text      string `json:"text"`
	Href      string `json:"href,omitempty"`
	Visible   bool   `json:"visible"`
	DOMPath   string `json:"dom_path"`
}

// Kind classifies a scored candidate.
type Kind int

const (
	KindScored Kind = iota
	KindWaiting
	KindDisqualified
)

func (k Kind) String() string {
	switch k {
	case KindScored:
		return "scored"
	case KindWaiting:
		return "waiting"
	case KindDisqualified:
		return "disqualified"
	default:
		return "unknown"
	}
}

// Scored is a Candidate with its score and the signals that produced it.
type Scored struct {
	Candidate
	Kind         Kind     `json:"kind"`
	Score        float64  `json:"score"`
	Disqualified bool     `json:"disqualified"`
	Reasons      []string `json:"reasons,omitempty"`
	SizeHint     uint64   `json:"size_hint,omitempty"` // bytes advertised in the text
}

// NegInf is the score of a disqualified candidate.
var NegInf = math.Inf(-1)

// Normalize lowercases text and collapses all whitespace runs to one space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Key identifies a candidate for click deduplication: the same normalized
// text in the same context is the same control, even if the DOM re-rendered.
func (c Candidate) Key() string {
	return c.ContextID + "\x00" + Normalize(c.Text)
}
