package output

import (
	"time"
)

// Report is the machine-readable summary of one hunt.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Target     string    `json:"target" yaml:"target"`
	URL        string    `json:"url" yaml:"url"`
	Mode       string    `json:"mode" yaml:"mode"`
	Strategy   string    `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Success    bool      `json:"success" yaml:"success"`
	Artifact   string    `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Size       int64     `json:"size,omitempty" yaml:"size,omitempty"`
	SizeHuman  string    `json:"size_human,omitempty" yaml:"size_human,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Warnings   []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Clicks     []Click   `json:"clicks,omitempty" yaml:"clicks,omitempty"`
	Iterations int       `json:"iterations" yaml:"iterations"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	Duration   string    `json:"duration" yaml:"duration"`
}

// Click records one element the engine acted on.
type Click struct {
	Context string   `json:"context" yaml:"context"`
	Text    string   `json:"text" yaml:"text"`
	Href    string   `json:"href,omitempty" yaml:"href,omitempty"`
	Score   float64  `json:"score" yaml:"score"`
	Reasons []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Direct  bool     `json:"direct,omitempty" yaml:"direct,omitempty"`
}
