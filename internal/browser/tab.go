package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/apkhunter/internal/score"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
)

// chromeTab is a Page bound to one CDP target.
type chromeTab struct {
	id      target.ID
	ctx     context.Context
	cancel  context.CancelFunc // nil for the main tab, which the session owns
	timeout time.Duration
}

func (t *chromeTab) ID() string { return string(t.id) }

// run executes actions on the tab, bounded by the tab's operation timeout
// and the caller's context.
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	opCtx, cancel := operationContext(ctx, t.ctx, t.timeout)
	defer cancel()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		return t.classify(ctx, err)
	}
	return nil
}

// classify maps errors caused by the target going away to ErrClosed.
func (t *chromeTab) classify(ctx context.Context, err error) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	msg := err.Error()
	for _, marker := range []string{"No target with given id", "Target closed", "Session with given id not found", "Cannot find context with specified id", "Inspected target navigated or closed"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s", ErrClosed, msg)
		}
	}
	return err
}

func userGesture(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithUserGesture(true)
}

func (t *chromeTab) eval(ctx context.Context, script string, out any) error {
	return t.run(ctx, chromedp.Evaluate(script, out, userGesture))
}

func (t *chromeTab) Snapshot(ctx context.Context) (Document, error) {
	var doc struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		HTML  string `json:"html"`
	}
	if err := t.eval(ctx, snapshotScript, &doc); err != nil {
		return Document{}, fmt.Errorf("snapshot: %w", err)
	}
	return Document{URL: doc.URL, Title: doc.Title, HTML: doc.HTML}, nil
}

func (t *chromeTab) ScrollToBottom(ctx context.Context) error {
	var ok bool
	if err := t.eval(ctx, scrollScript, &ok); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (t *chromeTab) Candidates(ctx context.Context) ([]score.Candidate, error) {
	var raw []rawCandidate
	if err := t.eval(ctx, candidatesScript, &raw); err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}
	out := make([]score.Candidate, 0, len(raw))
	for _, r := range raw {
		out = append(out, score.Candidate{
			ContextID: string(t.id),
			Origin:    r.Origin,
			Text:      r.Text,
			Href:      r.Href,
			Visible:   r.Visible,
			DOMPath:   r.Path,
		})
	}
	return out, nil
}

func (t *chromeTab) Click(ctx context.Context, path string) error {
	var ok bool
	if err := t.eval(ctx, clickScript(path), &ok); err != nil {
		return fmt.Errorf("click %q: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("click %q: element not found", path)
	}
	return nil
}

func (t *chromeTab) Navigate(ctx context.Context, url string) error {
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, isDownload, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" && !isDownload {
			return fmt.Errorf("%w: %s", fetcher.ErrNavigation, errorText)
		}
		return nil
	}))
	if err != nil {
		if errors.Is(err, fetcher.ErrNavigation) || errors.Is(err, ErrClosed) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", fetcher.ErrNavigation, url, err)
	}
	return t.waitReady(ctx)
}

func (t *chromeTab) Reload(ctx context.Context) error {
	if err := t.run(ctx, page.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return t.waitReady(ctx)
}

// waitReady polls document.readyState until the page has parsed. Pages that
// never settle (long polling, endless ads) are not an error; the loop just
// scans whatever is there.
func (t *chromeTab) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(t.timeout)
	for time.Now().Before(deadline) {
		var state string
		err := t.eval(ctx, `document.readyState`, &state)
		if errors.Is(err, ErrClosed) {
			return err
		}
		if err == nil && (state == "interactive" || state == "complete") {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil
}

func (t *chromeTab) Viewport(ctx context.Context) (Rect, error) {
	var box rawBox
	if err := t.eval(ctx, viewportScript, &box); err != nil {
		return Rect{}, fmt.Errorf("viewport: %w", err)
	}
	return Rect{Width: box.Width, Height: box.Height}, nil
}

func (t *chromeTab) MoveMouse(ctx context.Context, x, y float64) error {
	return t.run(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y))
}

func (t *chromeTab) ClickAt(ctx context.Context, x, y float64) error {
	return t.run(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithClickCount(1),
		chromedp.Sleep(60*time.Millisecond),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
}

func (t *chromeTab) LocateWidget(ctx context.Context, selectors []string) (Rect, bool, error) {
	var box rawBox
	if err := t.eval(ctx, locateScript(selectors), &box); err != nil {
		return Rect{}, false, fmt.Errorf("locate widget: %w", err)
	}
	if !box.Found {
		return Rect{}, false, nil
	}
	return Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, true, nil
}

func (t *chromeTab) Cookies(ctx context.Context) ([]fetcher.Cookie, error) {
	var cookies []*network.Cookie
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("cookies: %w", err)
	}
	out := make([]fetcher.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, fetcher.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return out, nil
}

func (t *chromeTab) SetCookies(ctx context.Context, cookies []fetcher.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &network.CookieParam{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: path})
	}
	if err := t.run(ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

func (t *chromeTab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the tab. The main tab is left to the session.
func (t *chromeTab) Close(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.CloseTarget(t.id).Do(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
	}))
	t.release()
	if err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

func (t *chromeTab) release() {
	if t.cancel != nil {
		t.cancel()
	}
}

var _ Page = (*chromeTab)(nil)
