// Package browsertest provides in-memory browser.Session and browser.Page
// implementations for tests.
package browsertest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/score"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
)

// Session is a fake browser session rooted at a real download directory.
type Session struct {
	mu     sync.Mutex
	dir    string
	pages  []*Page
	closed atomic.Int32

	// PagesErr, when set, is returned by Pages.
	PagesErr error
}

// NewSession returns a session whose main page is main. dir is used as the
// download directory and must exist.
func NewSession(dir string, main *Page) *Session {
	s := &Session{dir: dir}
	s.Add(main)
	return s
}

// Add opens another page, as a popup would.
func (s *Session) Add(p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.session = s
	s.pages = append(s.pages, p)
}

func (s *Session) Pages(ctx context.Context) ([]browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.PagesErr != nil {
		return nil, s.PagesErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]browser.Page, 0, len(s.pages))
	for _, p := range s.pages {
		if !p.isClosed() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Session) Main() browser.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[0]
}

func (s *Session) DownloadDir() string { return s.dir }

func (s *Session) Close() error {
	s.closed.Add(1)
	return nil
}

// CloseCount reports how many times Close was called.
func (s *Session) CloseCount() int { return int(s.closed.Load()) }

// Launcher returns a browser.Launcher that hands out s.
func (s *Session) Launcher() browser.Launcher {
	return func(context.Context) (browser.Session, error) { return s, nil }
}

// Page is a scriptable fake page. Fields may be set before the page is
// used; use the methods once it is shared with running code.
type Page struct {
	PageID string

	mu         sync.Mutex
	session    *Session
	doc        browser.Document
	candidates []score.Candidate
	cookies    []fetcher.Cookie
	widget     *browser.Rect
	closed     bool

	clicks    []string
	navigated []string
	pointer   []Point
	reloads   int
	scrolls   int

	// CandidatesErr, when set, is returned by Candidates.
	CandidatesErr error
	// Block, when set, makes Candidates block until the context ends.
	Block bool
	// SlowScreenshot, when set, makes Screenshot block until the context
	// ends.
	SlowScreenshot bool
	// OnClick runs after a recorded Click. It may mutate the page or the
	// session (write a download, open a popup).
	OnClick func(p *Page, path string)
	// OnClickAt runs after a synthetic pointer click.
	OnClickAt func(p *Page, x, y float64)
	// OnReload runs after Reload.
	OnReload func(p *Page)
	// OnNavigate runs after Navigate; a non-nil error fails the navigation.
	OnNavigate func(p *Page, url string) error
}

// Point is a recorded pointer position.
type Point struct{ X, Y float64 }

// NewPage returns a page showing doc with the given candidates. Candidate
// ContextIDs are set to id.
func NewPage(id string, doc browser.Document, cands ...score.Candidate) *Page {
	p := &Page{PageID: id, doc: doc}
	p.SetCandidates(cands...)
	return p
}

// SetCandidates replaces the page's interactive elements.
func (p *Page) SetCandidates(cands ...score.Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = make([]score.Candidate, len(cands))
	for i, c := range cands {
		c.ContextID = p.PageID
		if c.DOMPath == "" {
			c.DOMPath = c.Text
		}
		if c.Origin == "" {
			c.Origin = p.doc.URL
		}
		p.candidates[i] = c
	}
}

// SetDocument replaces the page content.
func (p *Page) SetDocument(doc browser.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
}

// SetWidget places a challenge widget at r; nil removes it.
func (p *Page) SetWidget(r *browser.Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.widget = r
}

// SetCookiesDirect seeds the page's cookie jar.
func (p *Page) SetCookiesDirect(cookies ...fetcher.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies[:0], cookies...)
}

// WriteDownload writes a file into the session download directory.
func (p *Page) WriteDownload(name string, data []byte) error {
	return os.WriteFile(filepath.Join(p.session.dir, name), data, 0o644)
}

// Clicks returns the DOM paths clicked so far.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Navigations returns the URLs navigated to so far.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// Pointer returns every pointer position received.
func (p *Page) Pointer() []Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Point(nil), p.pointer...)
}

// Reloads returns the number of reloads.
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// Scrolls returns the number of scroll-to-bottom calls.
func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

// CookieJar returns the current cookies.
func (p *Page) CookieJar() []fetcher.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]fetcher.Cookie(nil), p.cookies...)
}

// Kill marks the page closed, as if the user or the site closed the tab.
func (p *Page) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isClosed() {
		return browser.ErrClosed
	}
	return nil
}

func (p *Page) ID() string { return p.PageID }

func (p *Page) Snapshot(ctx context.Context) (browser.Document, error) {
	if err := p.check(ctx); err != nil {
		return browser.Document{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc, nil
}

func (p *Page) ScrollToBottom(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.scrolls++
	p.mu.Unlock()
	return nil
}

func (p *Page) Candidates(ctx context.Context) ([]score.Candidate, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	if p.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.CandidatesErr != nil {
		return nil, p.CandidatesErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]score.Candidate(nil), p.candidates...), nil
}

func (p *Page) Click(ctx context.Context, path string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, path)
	hook := p.OnClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, path)
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		if err := hook(p, url); err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.reloads++
	hook := p.OnReload
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Viewport(ctx context.Context) (browser.Rect, error) {
	if err := p.check(ctx); err != nil {
		return browser.Rect{}, err
	}
	return browser.Rect{Width: 1280, Height: 800}, nil
}

func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.pointer = append(p.pointer, Point{x, y})
	p.mu.Unlock()
	return nil
}

func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	if err := p.MoveMouse(ctx, x, y); err != nil {
		return err
	}
	p.mu.Lock()
	hook := p.OnClickAt
	p.mu.Unlock()
	if hook != nil {
		hook(p, x, y)
	}
	return nil
}

func (p *Page) LocateWidget(ctx context.Context, selectors []string) (browser.Rect, bool, error) {
	if err := p.check(ctx); err != nil {
		return browser.Rect{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.widget == nil {
		return browser.Rect{}, false, nil
	}
	return *p.widget, true, nil
}

func (p *Page) Cookies(ctx context.Context) ([]fetcher.Cookie, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return p.CookieJar(), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []fetcher.Cookie) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	if p.SlowScreenshot {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) Close(ctx context.Context) error {
	if p.isClosed() {
		return nil
	}
	p.Kill()
	return nil
}

// ErrBoom is a generic injected failure.
var ErrBoom = errors.New("browsertest: injected failure")

var (
	_ browser.Session = (*Session)(nil)
	_ browser.Page    = (*Page)(nil)
)
