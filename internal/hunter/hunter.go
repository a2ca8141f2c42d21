// Package hunter is the acquisition orchestrator. It owns one browsing
// session per run and drives it until the artifact has arrived or the
// deadline passes:
//
//	completion check -> scan -> drop ad popups -> solve challenges ->
//	score -> click / wait / nothing -> sleep
//
// A run succeeds only through the completion check and fails only at the
// deadline (or on a fatal navigation error).
package hunter

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/challenge"
	"github.com/jmylchreest/apkhunter/internal/logger"
	"github.com/jmylchreest/apkhunter/internal/scanner"
	"github.com/jmylchreest/apkhunter/internal/score"
	"github.com/jmylchreest/apkhunter/internal/strategy"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
	"github.com/jmylchreest/apkhunter/pkg/target"
)

// Config tunes the control loop.
type Config struct {
	// PollInterval is the pause between iterations.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Grace is added to the target's wait to let a started transfer finish.
	Grace time.Duration `mapstructure:"grace"`

	// ClickSettle is the pause after a click, letting the page react.
	ClickSettle time.Duration `mapstructure:"click_settle"`
	// ClickCooldown is how long the same control in the same context is
	// left alone after being clicked.
	ClickCooldown time.Duration `mapstructure:"click_cooldown"`
	// ClickRate and ClickBurst pace clicks across the whole run.
	ClickRate  float64 `mapstructure:"click_rate"`
	ClickBurst int     `mapstructure:"click_burst"`

	// MinBytes is the smallest file accepted as the artifact.
	MinBytes int64 `mapstructure:"-"`

	// DirectLinks fetches candidates whose href already names an artifact
	// over HTTP instead of clicking them.
	DirectLinks bool   `mapstructure:"direct_links"`
	UserAgent   string `mapstructure:"-"`

	// ScreenshotOnFail saves the main page to ScreenshotPath on timeout.
	ScreenshotOnFail bool   `mapstructure:"screenshot_on_fail"`
	ScreenshotPath   string `mapstructure:"screenshot_path"`
}

// DefaultConfig returns the default loop tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		Grace:          10 * time.Second,
		ClickSettle:    4 * time.Second,
		ClickCooldown:  30 * time.Second,
		ClickRate:      0.5,
		ClickBurst:     1,
		MinBytes:       100 * humanize.KByte,
		DirectLinks:    true,
		ScreenshotPath: "debug_timeout.png",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	if c.ClickSettle <= 0 {
		c.ClickSettle = c.PollInterval
	}
	if c.ClickCooldown <= 0 {
		c.ClickCooldown = d.ClickCooldown
	}
	if c.ClickRate <= 0 {
		c.ClickRate = d.ClickRate
	}
	if c.ClickBurst <= 0 {
		c.ClickBurst = d.ClickBurst
	}
	if c.ScreenshotPath == "" {
		c.ScreenshotPath = d.ScreenshotPath
	}
	return c
}

// Click is one element the run acted on.
type Click struct {
	Context string
	Text    string
	Href    string
	Score   float64
	Reasons []string
	// Direct is set when the href was fetched over HTTP instead of clicked.
	Direct bool
}

// Result describes a finished run. It is returned on failure too, with
// whatever was learned before the run gave up.
type Result struct {
	RunID        string
	Target       target.Target
	Strategy     string
	ArtifactPath string
	Size         int64
	Warnings     []string
	Clicks       []Click
	Iterations   int
	StartedAt    time.Time
	Duration     time.Duration
}

// Hunter acquires artifacts. A Hunter may run several targets, one at a
// time or concurrently; every run gets its own session and state.
type Hunter struct {
	cfg     Config
	launch  browser.Launcher
	router  *strategy.Router
	scorer  *score.Scorer
	scanner *scanner.Scanner
	solver  *challenge.Solver
	fetcher fetcher.Fetcher
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Hunter.
type Option func(*Hunter)

// WithRouter sets the strategy router.
func WithRouter(r *strategy.Router) Option { return func(h *Hunter) { h.router = r } }

// WithScorer sets the element scorer.
func WithScorer(s *score.Scorer) Option { return func(h *Hunter) { h.scorer = s } }

// WithScanner sets the context scanner.
func WithScanner(s *scanner.Scanner) Option { return func(h *Hunter) { h.scanner = s } }

// WithSolver sets the challenge solver.
func WithSolver(s *challenge.Solver) Option { return func(h *Hunter) { h.solver = s } }

// WithFetcher sets the HTTP fetcher used for direct mode and direct links.
func WithFetcher(f fetcher.Fetcher) Option { return func(h *Hunter) { h.fetcher = f } }

// New returns a Hunter that opens sessions with launch.
func New(cfg Config, launch browser.Launcher, opts ...Option) *Hunter {
	h := &Hunter{
		cfg:    cfg.withDefaults(),
		launch: launch,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.router == nil {
		h.router = strategy.DefaultRouter()
	}
	if h.scorer == nil {
		h.scorer = score.Default()
	}
	if h.solver == nil {
		h.solver = challenge.NewSolver(challenge.DefaultConfig(), nil)
	}
	if h.scanner == nil {
		h.scanner = scanner.New(scanner.DefaultConfig(), h.solver.Detector())
	}
	if h.fetcher == nil {
		h.fetcher = fetcher.NewDirect(fetcher.DirectConfig{UserAgent: h.cfg.UserAgent})
	}
	return h
}

// Run acquires t and writes it to t.OutputPath(). The run is bounded by
// t.Deadline() plus the configured grace.
func (h *Hunter) Run(ctx context.Context, t target.Target) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Target:    t,
		StartedAt: time.Now(),
	}
	log := logger.With("run_id", res.RunID, "target", t.ID)

	if err := t.Validate(); err != nil {
		return res, err
	}

	deadline := t.Deadline() + h.cfg.Grace
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	log.Info("hunt started", "url", t.URL, "mode", t.Mode, "deadline", deadline)

	var err error
	switch t.Mode {
	case target.ModeDirect:
		res.Strategy = "direct"
		err = h.runDirect(runCtx, log, t, res)
	default:
		err = h.runScrape(runCtx, log, t, res)
	}
	res.Duration = time.Since(res.StartedAt)

	// The caller giving up is not a timeout.
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Error("hunt failed", "error", err, "iterations", res.Iterations, "elapsed", res.Duration.Round(time.Millisecond))
		return res, err
	}
	log.Info("hunt complete",
		"artifact", res.ArtifactPath,
		"size", humanize.Bytes(uint64(res.Size)),
		"elapsed", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (h *Hunter) warn(res *Result, msg string) {
	for _, w := range res.Warnings {
		if w == msg {
			return
		}
	}
	res.Warnings = append(res.Warnings, msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clickFrom(s score.Scored, direct bool) Click {
	return Click{
		Context: s.ContextID,
		Text:    s.Text,
		Href:    s.Href,
		Score:   s.Score,
		Reasons: s.Reasons,
		Direct:  direct,
	}
}

func describe(s score.Scored) string {
	return fmt.Sprintf("%q (score %.0f)", s.Text, s.Score)
}
