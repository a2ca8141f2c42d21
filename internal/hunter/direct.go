package hunter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmylchreest/apkhunter/internal/score"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
	"github.com/jmylchreest/apkhunter/pkg/target"
)

// runDirect fetches the target URL over HTTP without a browser. When the
// URL serves a landing page instead of the artifact, the page's links are
// scored like browser candidates and the best one is followed once.
func (h *Hunter) runDirect(ctx context.Context, log *slog.Logger, t target.Target, res *Result) error {
	dir, err := os.MkdirTemp("", "apkhunter-direct-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	opts := fetcher.Options{
		UserAgent: h.cfg.UserAgent,
		MinBytes:  h.cfg.MinBytes,
	}
	art, err := h.fetcher.Download(ctx, t.URL, dir, opts)

	var landing *fetcher.LandingPageError
	if errors.As(err, &landing) {
		log.Info("landing page served, looking for the download link", "url", landing.URL)
		best, perr := h.pickLink(landing)
		if perr != nil {
			return perr
		}
		res.Clicks = append(res.Clicks, clickFrom(best, true))
		log.Info("following link", "candidate", describe(best), "href", best.Href)

		opts.Referer = landing.URL
		art, err = h.fetcher.Download(ctx, best.Href, dir, opts)
		if errors.As(err, &landing) {
			return fmt.Errorf("%w: %s served another page", fetcher.ErrNoCandidate, best.Href)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %w", fetcher.ErrTransferTimeout, t.URL, ctx.Err())
		}
		return err
	}

	if err := finalize(art.Path, t.OutputPath()); err != nil {
		return err
	}
	res.ArtifactPath = absPath(t.OutputPath())
	res.Size = art.Size
	return nil
}

func (h *Hunter) pickLink(landing *fetcher.LandingPageError) (score.Scored, error) {
	links, err := fetcher.ExtractLinks(landing.HTML, landing.URL)
	if err != nil {
		return score.Scored{}, err
	}
	cands := make([]score.Candidate, 0, len(links))
	for _, l := range links {
		if l.Href == "" {
			continue
		}
		cands = append(cands, score.Candidate{
			ContextID: "direct",
			Origin:    landing.URL,
			Text:      l.Text,
			Href:      l.Href,
			Visible:   l.Visible,
			DOMPath:   l.Path,
		})
	}
	d := score.Decide(h.scorer.Score(cands), h.scorer.Weights().Threshold)
	if d.Action != score.ActClick {
		return score.Scored{}, fmt.Errorf("%w on landing page %s", fetcher.ErrNoCandidate, landing.URL)
	}
	return d.Target, nil
}
