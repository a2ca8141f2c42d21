// Package scanner collects download candidates from every open browsing
// context concurrently.
package scanner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/challenge"
	"github.com/jmylchreest/apkhunter/internal/logger"
	"github.com/jmylchreest/apkhunter/internal/score"
)

// Config bounds a scan.
type Config struct {
	// Concurrency caps contexts scanned at once.
	Concurrency int `mapstructure:"concurrency"`
	// ContextTimeout bounds the work on a single context.
	ContextTimeout time.Duration `mapstructure:"context_timeout"`
}

// DefaultConfig returns the default scan bounds.
func DefaultConfig() Config {
	return Config{Concurrency: 4, ContextTimeout: 8 * time.Second}
}

// ContextScan is what one context looked like during a scan.
type ContextScan struct {
	Page       browser.Page
	ID         string
	URL        string
	Title      string
	Challenge  challenge.Detection
	Candidates []score.Candidate
}

// Scan is the result of one pass over all contexts. Contexts are in
// enumeration order; contexts that failed are absent.
type Scan struct {
	Contexts []ContextScan
	// Dropped counts contexts that errored or timed out.
	Dropped int
}

// Candidates groups candidates by context id.
func (s Scan) Candidates() map[string][]score.Candidate {
	out := make(map[string][]score.Candidate, len(s.Contexts))
	for _, c := range s.Contexts {
		out[c.ID] = c.Candidates
	}
	return out
}

// Flatten returns every candidate in enumeration, then document, order.
func (s Scan) Flatten() []score.Candidate {
	var out []score.Candidate
	for _, c := range s.Contexts {
		out = append(out, c.Candidates...)
	}
	return out
}

// Blocked returns the contexts showing a challenge.
func (s Scan) Blocked() []ContextScan {
	var out []ContextScan
	for _, c := range s.Contexts {
		if c.Challenge.Blocked {
			out = append(out, c)
		}
	}
	return out
}

// Scanner collects candidates across a session.
type Scanner struct {
	cfg      Config
	detector *challenge.Detector
}

// New returns a scanner. A nil detector uses challenge.DefaultDetector.
func New(cfg Config, detector *challenge.Detector) *Scanner {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ContextTimeout <= 0 {
		cfg.ContextTimeout = def.ContextTimeout
	}
	if detector == nil {
		detector = challenge.DefaultDetector()
	}
	return &Scanner{cfg: cfg, detector: detector}
}

// Collect scans every open context. Per-context failures are logged and
// drop that context from this scan only; the error is non-nil only when
// the contexts could not be listed at all.
func (s *Scanner) Collect(ctx context.Context, session browser.Session) (Scan, error) {
	pages, err := session.Pages(ctx)
	if err != nil {
		return Scan{}, err
	}

	results := make([]*ContextScan, len(pages))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, page := range pages {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.cfg.ContextTimeout)
			defer cancel()
			res, err := s.scanOne(pctx, page)
			if err != nil {
				logger.Debug("context dropped from scan", "context", page.ID(), "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var scan Scan
	for _, r := range results {
		if r == nil {
			scan.Dropped++
			continue
		}
		scan.Contexts = append(scan.Contexts, *r)
	}
	return scan, ctx.Err()
}

func (s *Scanner) scanOne(ctx context.Context, page browser.Page) (*ContextScan, error) {
	if err := page.ScrollToBottom(ctx); err != nil {
		return nil, err
	}
	doc, err := page.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	res := &ContextScan{
		Page:      page,
		ID:        page.ID(),
		URL:       doc.URL,
		Title:     doc.Title,
		Challenge: s.detector.Detect(doc.Title, doc.HTML),
	}
	if res.Challenge.Blocked {
		return res, nil
	}
	if res.Candidates, err = page.Candidates(ctx); err != nil {
		return nil, err
	}
	return res, nil
}
