package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/apkhunter/internal/logger"
)

// Options configures a Chrome session.
type Options struct {
	Headless     bool   `mapstructure:"headless"`
	Stealth      bool   `mapstructure:"stealth"`
	UserAgent    string `mapstructure:"user_agent"`
	ChromePath   string `mapstructure:"chrome_path"`
	WindowWidth  int    `mapstructure:"window_width"`
	WindowHeight int    `mapstructure:"window_height"`
	// DownloadDir receives downloads. When empty the session creates a
	// scratch directory and removes it on Close.
	DownloadDir string        `mapstructure:"download_dir"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"`
}

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DefaultOptions returns a headless stealth profile.
func DefaultOptions() Options {
	return Options{
		Headless:     true,
		Stealth:      true,
		UserAgent:    DefaultUserAgent,
		WindowWidth:  1920,
		WindowHeight: 1080,
		OpTimeout:    15 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		o.WindowWidth, o.WindowHeight = d.WindowWidth, d.WindowHeight
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = d.OpTimeout
	}
	return o
}

// ChromeSession is a Session backed by a local Chrome process.
type ChromeSession struct {
	opts        Options
	downloadDir string
	ownsDir     bool

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu   sync.Mutex
	main *chromeTab
	tabs map[target.ID]*chromeTab

	closeOnce sync.Once
	closeErr  error
}

// Launch starts Chrome and returns a session attached to its first tab.
func Launch(ctx context.Context, opts Options) (*ChromeSession, error) {
	opts = opts.withDefaults()

	s := &ChromeSession{opts: opts, tabs: make(map[target.ID]*chromeTab)}
	if opts.DownloadDir == "" {
		dir, err := os.MkdirTemp("", "apkhunter-*")
		if err != nil {
			return nil, fmt.Errorf("create download dir: %w", err)
		}
		s.downloadDir, s.ownsDir = dir, true
	} else {
		dir, err := filepath.Abs(opts.DownloadDir)
		if err != nil {
			return nil, fmt.Errorf("resolve download dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create download dir: %w", err)
		}
		s.downloadDir = dir
	}

	// The browser outlives individual operations, so it hangs off a
	// background context and is torn down only by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
	)
	s.allocCancel, s.browserCtx, s.browserCancel = allocCancel, browserCtx, browserCancel

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx,
			cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(s.downloadDir).
				WithEventsEnabled(true),
			s.prepareTab(),
		)
	}()
	select {
	case err := <-started:
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}

	c := chromedp.FromContext(browserCtx)
	s.main = &chromeTab{id: c.Target.TargetID, ctx: browserCtx, timeout: opts.OpTimeout}
	s.tabs[s.main.id] = s.main

	chromedp.ListenBrowser(browserCtx, func(ev any) {
		switch ev := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			logger.Info("download started", "url", ev.URL, "file", ev.SuggestedFilename)
		case *cdpbrowser.EventDownloadProgress:
			if ev.State == cdpbrowser.DownloadProgressStateCompleted || ev.State == cdpbrowser.DownloadProgressStateCanceled {
				logger.Debug("download finished", "guid", ev.GUID, "state", ev.State)
			}
		}
	})

	logger.Debug("browser started",
		"headless", opts.Headless,
		"stealth", opts.Stealth,
		"download_dir", s.downloadDir)
	return s, nil
}

// prepareTab installs the stealth profile on the tab an action runs in.
func (s *ChromeSession) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if !s.opts.Stealth {
			return nil
		}
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}

// Main returns the tab the session started with.
func (s *ChromeSession) Main() Page { return s.main }

// DownloadDir returns the directory Chrome downloads into.
func (s *ChromeSession) DownloadDir() string { return s.downloadDir }

// Pages re-reads the browser's target list. Tabs that disappeared are
// forgotten; new ones are attached on first sight.
func (s *ChromeSession) Pages(ctx context.Context) ([]Page, error) {
	listCtx, cancel := operationContext(ctx, s.browserCtx, s.opts.OpTimeout)
	defer cancel()

	infos, err := chromedp.Targets(listCtx)
	if err != nil {
		if s.browserCtx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("list targets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[target.ID]bool, len(infos))
	pages := []Page{s.main}
	seen[s.main.id] = true
	for _, info := range infos {
		if info.Type != "page" || seen[info.TargetID] {
			continue
		}
		seen[info.TargetID] = true
		tab, ok := s.tabs[info.TargetID]
		if !ok {
			tab, err = s.attach(ctx, info.TargetID)
			if err != nil {
				logger.Debug("attach failed", "target", info.TargetID, "error", err)
				continue
			}
			s.tabs[info.TargetID] = tab
			logger.Debug("new tab", "target", info.TargetID, "url", info.URL)
		}
		pages = append(pages, tab)
	}

	for id, tab := range s.tabs {
		if !seen[id] {
			tab.release()
			delete(s.tabs, id)
		}
	}
	return pages, nil
}

// attach binds a chromedp context to an existing target. The first Run on
// a context starts its event loop, so it must use the tab context itself
// rather than a derived one.
func (s *ChromeSession) attach(ctx context.Context, id target.ID) (*chromeTab, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(id))
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx, s.prepareTab()) }()

	timer := time.NewTimer(s.opts.OpTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			cancel()
			return nil, err
		}
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("attach %s: %w", id, context.DeadlineExceeded)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	return &chromeTab{id: id, ctx: tabCtx, cancel: cancel, timeout: s.opts.OpTimeout}, nil
}

// Close shuts the browser down and removes a scratch download directory.
func (s *ChromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		for id, tab := range s.tabs {
			tab.release()
			delete(s.tabs, id)
		}
		s.mu.Unlock()

		if s.browserCancel != nil {
			s.browserCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		if s.ownsDir {
			if err := os.RemoveAll(s.downloadDir); err != nil {
				s.closeErr = fmt.Errorf("remove download dir: %w", err)
			}
		}
		logger.Debug("browser closed")
	})
	return s.closeErr
}

// operationContext derives a bounded context from base that is also
// cancelled when the caller's ctx ends.
func operationContext(ctx, base context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(base, timeout)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDl context.CancelFunc
		opCtx, cancelDl = context.WithDeadline(opCtx, dl)
		prev := cancel
		cancel = func() { cancelDl(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

var _ Session = (*ChromeSession)(nil)
