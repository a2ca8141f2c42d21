// Package browser drives a real browser for the acquisition engine.
//
// A Session owns one browser process and the scratch directory it downloads
// into. Pages (tabs and popups) come and go on their own; callers re-list
// them with Session.Pages on every iteration instead of holding on to them.
// Every Page method must tolerate the page having been closed underneath it
// and report that as ErrClosed.
package browser

import (
	"context"
	"errors"

	"github.com/jmylchreest/apkhunter/internal/score"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
)

// ErrClosed is returned when a page disappeared while it was being used.
var ErrClosed = errors.New("page closed")

// PathSeparator joins DOM path segments across iframe and shadow-root
// boundaries. Each segment is a CSS selector evaluated inside the document
// or shadow root entered by the previous segment.
const PathSeparator = " >>> "

// Rect is an element box in top-level viewport coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Document is a point-in-time view of a page.
type Document struct {
	URL   string
	Title string
	HTML  string
}

// Page is one browsing context.
type Page interface {
	// ID is stable for the lifetime of the page.
	ID() string

	Snapshot(ctx context.Context) (Document, error)
	ScrollToBottom(ctx context.Context) error
	// Candidates returns the interactive elements of the page, its
	// same-origin iframes and open shadow roots, in document order.
	Candidates(ctx context.Context) ([]score.Candidate, error)
	// Click activates the element at a DOM path (see PathSeparator). A plain
	// CSS selector is a valid single-segment path.
	Click(ctx context.Context, path string) error

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error

	// Viewport returns the visible area size.
	Viewport(ctx context.Context) (Rect, error)
	MoveMouse(ctx context.Context, x, y float64) error
	ClickAt(ctx context.Context, x, y float64) error
	// LocateWidget returns the box of the first element matching any
	// selector, searching the document, same-origin iframes and open shadow
	// roots.
	LocateWidget(ctx context.Context, selectors []string) (Rect, bool, error)

	Cookies(ctx context.Context) ([]fetcher.Cookie, error)
	SetCookies(ctx context.Context, cookies []fetcher.Cookie) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Session is one browser process.
type Session interface {
	// Pages lists the currently open pages, main page first.
	Pages(ctx context.Context) ([]Page, error)
	// Main is the page the run started in.
	Main() Page
	// DownloadDir is where the browser writes downloads.
	DownloadDir() string
	// Close tears down every page and the browser. It is safe to call more
	// than once.
	Close() error
}

// Launcher starts a Session.
type Launcher func(ctx context.Context) (Session, error)
