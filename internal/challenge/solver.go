package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/logger"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
)

// State is a page's challenge state.
type State int

const (
	Clear State = iota
	Blocked
	Solving
	Failed
)

func (s State) String() string {
	switch s {
	case Clear:
		return "clear"
	case Blocked:
		return "blocked"
	case Solving:
		return "solving"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config bounds the solver.
type Config struct {
	// MaxAttempts is the number of interaction attempts per round. There are
	// two rounds: before and after a single reload.
	MaxAttempts int `mapstructure:"max_attempts"`
	// SettleDelay is the pause after each attempt before re-checking.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// FlareSolverrURL enables the FlareSolverr fallback when set.
	FlareSolverrURL     string        `mapstructure:"flaresolverr_url"`
	FlareSolverrTimeout time.Duration `mapstructure:"flaresolverr_timeout"`
}

// DefaultConfig returns the default solver bounds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		SettleDelay:         3 * time.Second,
		FlareSolverrTimeout: 60 * time.Second,
	}
}

// Solver drives a blocked page back to Clear, or gives up.
type Solver struct {
	cfg      Config
	detector *Detector
	pointer  *Pointer
	flare    *FlareSolverr
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes a Solver.
type Option func(*Solver)

// WithPointer sets the pointer model.
func WithPointer(p *Pointer) Option {
	return func(s *Solver) { s.pointer = p }
}

// WithSleep replaces the context-aware sleep used for settle delays and
// pointer pacing.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Solver) { s.sleep = fn }
}

// WithFlareSolverr sets the fallback client explicitly.
func WithFlareSolverr(f *FlareSolverr) Option {
	return func(s *Solver) { s.flare = f }
}

// NewSolver returns a solver. A nil detector uses DefaultDetector.
func NewSolver(cfg Config, detector *Detector, opts ...Option) *Solver {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if detector == nil {
		detector = DefaultDetector()
	}
	s := &Solver{
		cfg:      cfg,
		detector: detector,
		pointer:  NewPointer(time.Now().UnixNano()),
		sleep:    sleepContext,
	}
	if cfg.FlareSolverrURL != "" {
		s.flare = NewFlareSolverr(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detector returns the solver's detector.
func (s *Solver) Detector() *Detector { return s.detector }

// Resolve checks page and, when it is blocked, works through the
// challenge. It returns Clear once the page no longer matches a signature,
// or Failed with an error wrapping fetcher.ErrChallengeTimeout.
func (s *Solver) Resolve(ctx context.Context, page browser.Page) (State, error) {
	det, doc, err := s.check(ctx, page)
	if err != nil {
		return Failed, err
	}
	if !det.Blocked {
		return Clear, nil
	}

	log := logger.With("context", page.ID(), "challenge", det.Signature)
	log.Info("challenge detected", "matched", det.Matched, "url", doc.URL)

	attempts := 0
	for round := 0; round < 2; round++ {
		if round == 1 {
			log.Info("challenge persists, reloading")
			if err := page.Reload(ctx); err != nil {
				return Failed, fmt.Errorf("reload: %w", err)
			}
			if det, _, err = s.check(ctx, page); err != nil {
				return Failed, err
			} else if !det.Blocked {
				log.Info("challenge cleared after reload")
				return Clear, nil
			}
		}

		for i := 0; i < s.cfg.MaxAttempts; i++ {
			attempts++
			log.Debug("challenge attempt", "state", Solving, "attempt", attempts)
			if err := s.attempt(ctx, page, det); err != nil {
				if errors.Is(err, browser.ErrClosed) || ctx.Err() != nil {
					return Failed, err
				}
				log.Debug("challenge attempt failed", "attempt", attempts, "error", err)
			}
			if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
				return Failed, err
			}
			if det, _, err = s.check(ctx, page); err != nil {
				return Failed, err
			} else if !det.Blocked {
				log.Info("challenge cleared", "attempts", attempts)
				return Clear, nil
			}
		}
	}

	if s.flare != nil {
		state, err := s.clearance(ctx, page, doc.URL)
		if state == Clear {
			log.Info("challenge cleared via FlareSolverr")
			return Clear, nil
		}
		if err != nil {
			log.Warn("FlareSolverr fallback failed", "error", err)
		}
	}

	log.Warn("challenge not cleared", "attempts", attempts)
	return Failed, fmt.Errorf("%w: %s on %s after %d attempts", fetcher.ErrChallengeTimeout, det.Signature, page.ID(), attempts)
}

func (s *Solver) check(ctx context.Context, page browser.Page) (Detection, browser.Document, error) {
	doc, err := page.Snapshot(ctx)
	if err != nil {
		return Detection{}, doc, err
	}
	return s.detector.Detect(doc.Title, doc.HTML), doc, nil
}

// attempt moves the pointer like a human would and, when a widget is
// found, clicks near its center.
func (s *Solver) attempt(ctx context.Context, page browser.Page, det Detection) error {
	view, err := page.Viewport(ctx)
	if err != nil {
		return err
	}
	start := s.pointer.Somewhere(view.Width, view.Height)

	box, found, err := page.LocateWidget(ctx, det.Widgets)
	if err != nil {
		return err
	}
	if !found || box.Empty() {
		// Nothing to click; wander so the page sees pointer activity.
		return s.move(ctx, page, start, s.pointer.Somewhere(view.Width, view.Height), 40)
	}

	target := s.pointer.Jitter(box.X, box.Y, box.Width, box.Height)
	if err := s.move(ctx, page, start, target, box.Width); err != nil {
		return err
	}
	return page.ClickAt(ctx, target.X, target.Y)
}

func (s *Solver) move(ctx context.Context, page browser.Page, from, to Point, width float64) error {
	for _, step := range s.pointer.Path(from, to, width) {
		if err := page.MoveMouse(ctx, step.X, step.Y); err != nil {
			return err
		}
		if err := s.sleep(ctx, step.Delay); err != nil {
			return err
		}
	}
	return nil
}

// clearance asks FlareSolverr to solve url, installs the resulting cookies
// in the page and reloads.
func (s *Solver) clearance(ctx context.Context, page browser.Page, url string) (State, error) {
	sol, err := s.flare.Clearance(ctx, url)
	if err != nil {
		return Failed, err
	}
	if err := page.SetCookies(ctx, sol.FetcherCookies()); err != nil {
		return Failed, err
	}
	if err := page.Reload(ctx); err != nil {
		return Failed, err
	}
	det, _, err := s.check(ctx, page)
	if err != nil {
		return Failed, err
	}
	if det.Blocked {
		return Failed, fmt.Errorf("%w: still blocked after clearance cookies", fetcher.ErrAntiBot)
	}
	return Clear, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
