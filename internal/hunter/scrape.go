package hunter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/challenge"
	"github.com/jmylchreest/apkhunter/internal/scanner"
	"github.com/jmylchreest/apkhunter/internal/score"
	"github.com/jmylchreest/apkhunter/internal/watcher"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
	"github.com/jmylchreest/apkhunter/pkg/target"
)

// run is the state of one scrape-mode run. It lives for a single call to
// runScrape and is only touched by the control goroutine.
type run struct {
	h       *Hunter
	log     *slog.Logger
	target  target.Target
	res     *Result
	session browser.Session
	watcher *watcher.Watcher
	limiter *rate.Limiter

	// clicked maps candidate keys to the time they were last acted on.
	clicked map[string]time.Time
	// failed holds the contexts whose challenge could not be cleared.
	failed   map[string]error
	rejected map[string]bool
	// acted is set once anything was clicked or waited on.
	acted bool
}

func (h *Hunter) runScrape(ctx context.Context, log *slog.Logger, t target.Target, res *Result) error {
	session, err := h.launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("browser close failed", "error", cerr)
		}
	}()

	w, err := watcher.New(watcher.Options{
		Dir:        session.DownloadDir(),
		Extensions: t.ArtifactExtensions(),
		MinBytes:   h.cfg.MinBytes,
	})
	if err != nil {
		return err
	}

	r := &run{
		h:        h,
		log:      log,
		target:   t,
		res:      res,
		session:  session,
		watcher:  w,
		limiter:  rate.NewLimiter(rate.Limit(h.cfg.ClickRate), h.cfg.ClickBurst),
		clicked:  make(map[string]time.Time),
		failed:   make(map[string]error),
		rejected: make(map[string]bool),
	}

	strat := h.router.Select(t.URL)
	res.Strategy = strat.Name()
	log.Info("navigating", "strategy", res.Strategy, "url", t.URL)
	if err := strat.Run(ctx, session.Main(), t.URL, h.sleep); err != nil {
		if ctx.Err() != nil {
			return r.expire(ctx)
		}
		if errors.Is(err, fetcher.ErrNavigation) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", fetcher.ErrNavigation, t.URL, err)
	}

	return r.loop(ctx)
}

func (r *run) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return r.expire(ctx)
		}
		r.res.Iterations++

		st, err := r.watcher.Poll()
		if err != nil {
			r.log.Warn("download directory poll failed", "error", err)
		} else {
			r.noteRejections(st)
			if st.State == watcher.Complete {
				return r.finish(st)
			}
		}

		pause := r.h.cfg.PollInterval
		if err == nil && st.State == watcher.InProgress {
			r.log.Debug("transfer in progress", "partial", len(st.Partial))
		} else {
			pause, err = r.step(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return r.expire(ctx)
				}
				return err
			}
		}

		if err := r.h.sleep(ctx, pause); err != nil {
			return r.expire(ctx)
		}
	}
}

// step runs the scan, solve, score and act phases of one iteration and
// returns how long to pause before the next one.
func (r *run) step(ctx context.Context) (time.Duration, error) {
	pause := r.h.cfg.PollInterval

	scan, err := r.h.scanner.Collect(ctx, r.session)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.log.Warn("scan failed", "error", err)
		return pause, nil
	}
	if scan.Dropped > 0 {
		r.log.Debug("contexts dropped from scan", "dropped", scan.Dropped)
	}

	contexts := r.closeAdPopups(ctx, scan.Contexts)

	solved, err := r.solve(ctx, contexts)
	if err != nil {
		return 0, err
	}
	if solved {
		// Cleared pages render new content; look again before acting.
		return pause, nil
	}

	viable := make(map[string]scanner.ContextScan)
	var (
		cands []score.Candidate
		lost  int
	)
	for _, c := range contexts {
		if r.failed[c.ID] != nil {
			lost++
			continue
		}
		if c.Challenge.Blocked {
			continue
		}
		viable[c.ID] = c
		cands = append(cands, c.Candidates...)
	}
	if lost > 0 && lost == len(contexts) {
		return 0, r.challengeFailure()
	}

	ranked := r.cooled(r.h.scorer.Score(cands))
	d := score.Decide(ranked, r.h.scorer.Weights().Threshold)
	switch d.Action {
	case score.ActWait:
		r.acted = true
		r.log.Debug("waiting on countdown", "context", d.Waiting.ContextID, "text", d.Waiting.Text)
		return pause, nil
	case score.ActClick:
		c, ok := viable[d.Target.ContextID]
		if !ok {
			return pause, nil
		}
		if err := r.act(ctx, c, d.Target); err != nil {
			return 0, err
		}
		return r.h.cfg.ClickSettle, nil
	default:
		r.log.Debug("no candidate above threshold", "candidates", len(cands))
		return pause, nil
	}
}

// closeAdPopups closes non-main contexts sitting on a known ad host and
// returns the rest.
func (r *run) closeAdPopups(ctx context.Context, contexts []scanner.ContextScan) []scanner.ContextScan {
	mainID := r.session.Main().ID()
	kept := contexts[:0:0]
	for _, c := range contexts {
		if c.ID != mainID && r.h.scorer.IsAdHost(c.URL) {
			r.log.Info("closing ad popup", "context", c.ID, "url", c.URL)
			if err := c.Page.Close(ctx); err != nil && !errors.Is(err, browser.ErrClosed) {
				r.log.Debug("ad popup close failed", "context", c.ID, "error", err)
			}
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// solve hands every blocked context to the solver, one at a time. It
// reports whether any context was cleared.
func (r *run) solve(ctx context.Context, contexts []scanner.ContextScan) (bool, error) {
	solved := false
	for _, c := range contexts {
		if !c.Challenge.Blocked || r.failed[c.ID] != nil {
			continue
		}
		state, err := r.h.solver.Resolve(ctx, c.Page)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		switch {
		case state == challenge.Clear:
			solved = true
		case errors.Is(err, browser.ErrClosed):
			r.log.Debug("blocked context closed while solving", "context", c.ID)
		default:
			if err == nil {
				err = fmt.Errorf("%w: %s", fetcher.ErrChallengeTimeout, c.ID)
			}
			r.failed[c.ID] = err
			r.h.warn(r.res, err.Error())
			r.log.Warn("giving up on blocked context", "context", c.ID, "error", err)
		}
	}
	return solved, nil
}

func (r *run) challengeFailure() error {
	var errs []error
	for _, err := range r.failed {
		errs = append(errs, err)
	}
	return fmt.Errorf("no context left to search: %w", errors.Join(errs...))
}

// cooled drops scored candidates clicked within the cool-down window.
func (r *run) cooled(ranked []score.Scored) []score.Scored {
	now := time.Now()
	out := ranked[:0:0]
	for _, s := range ranked {
		if s.Kind == score.KindScored {
			if at, ok := r.clicked[s.Key()]; ok && now.Sub(at) < r.h.cfg.ClickCooldown {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// act clicks the chosen candidate, or fetches its href directly when it
// already names an artifact.
func (r *run) act(ctx context.Context, c scanner.ContextScan, s score.Scored) error {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The next token would arrive after the deadline.
		r.log.Debug("click skipped", "candidate", describe(s), "error", err)
		return nil
	}
	r.clicked[s.Key()] = time.Now()
	r.acted = true

	if r.h.cfg.DirectLinks && r.isArtifactLink(s.Href) {
		err := r.fetchDirect(ctx, c.Page, s)
		if err == nil {
			r.res.Clicks = append(r.res.Clicks, clickFrom(s, true))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Info("direct fetch failed, clicking instead", "href", s.Href, "error", err)
	}

	r.log.Info("clicking", "context", s.ContextID, "candidate", describe(s), "reasons", strings.Join(s.Reasons, ","))
	if err := c.Page.Click(ctx, s.DOMPath); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("click failed", "context", s.ContextID, "error", err)
		return nil
	}
	r.res.Clicks = append(r.res.Clicks, clickFrom(s, false))
	return nil
}

func (r *run) isArtifactLink(href string) bool {
	if href == "" {
		return false
	}
	u, err := url.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range r.target.ArtifactExtensions() {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == e {
			return true
		}
	}
	return false
}

// fetchDirect downloads s.Href into the session's download directory with
// the page's cookies, so the watcher sees it like any browser download.
func (r *run) fetchDirect(ctx context.Context, page browser.Page, s score.Scored) error {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		r.log.Debug("cookies unavailable for direct fetch", "error", err)
	}
	dir := r.session.DownloadDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	art, err := r.h.fetcher.Download(ctx, s.Href, dir, fetcher.Options{
		UserAgent: r.h.cfg.UserAgent,
		Referer:   s.Origin,
		Cookies:   cookies,
		MinBytes:  r.h.cfg.MinBytes,
	})
	if err != nil {
		return err
	}
	r.log.Info("fetched direct link", "href", s.Href, "path", art.Path, "size", art.Size)
	return nil
}

func (r *run) noteRejections(st watcher.Status) {
	for _, rej := range st.Rejected {
		if r.rejected[rej.Path] {
			continue
		}
		r.rejected[rej.Path] = true
		r.h.warn(r.res, fmt.Sprintf("%s: %s", fetcher.ErrDecoyArtifact, rej))
		r.log.Warn("rejected download", "file", rej.Path, "reason", rej.Reason)
	}
}

func (r *run) finish(st watcher.Status) error {
	dest := r.target.OutputPath()
	if err := finalize(st.Path, dest); err != nil {
		return err
	}
	r.res.ArtifactPath = absPath(dest)
	r.res.Size = st.Size
	return nil
}

// expire runs once the deadline has passed: a last completion check, an
// optional screenshot, then the failure that best explains the run.
func (r *run) expire(ctx context.Context) error {
	if st, err := r.watcher.Poll(); err == nil {
		r.noteRejections(st)
		if st.State == watcher.Complete {
			return r.finish(st)
		}
	}

	if r.h.cfg.ScreenshotOnFail {
		r.screenshot(ctx)
	}

	wait := r.target.Deadline()
	switch {
	case !r.acted:
		return fmt.Errorf("%w on %s within %s", fetcher.ErrNoCandidate, r.target.URL, wait)
	case len(r.rejected) > 0:
		return fmt.Errorf("%w: only rejected files arrived within %s: %w", fetcher.ErrTransferTimeout, wait, fetcher.ErrDecoyArtifact)
	default:
		return fmt.Errorf("%w: no completed download within %s", fetcher.ErrTransferTimeout, wait)
	}
}

// screenshot is bounded by one poll interval so a timed out run still
// returns promptly.
func (r *run) screenshot(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.h.cfg.PollInterval)
	defer cancel()
	data, err := r.session.Main().Screenshot(sctx)
	if err != nil {
		r.log.Warn("debug screenshot failed", "error", err)
		return
	}
	if err := os.WriteFile(r.h.cfg.ScreenshotPath, data, 0o644); err != nil {
		r.log.Warn("debug screenshot not saved", "error", err)
		return
	}
	r.log.Info("saved debug screenshot", "path", r.h.cfg.ScreenshotPath)
}
