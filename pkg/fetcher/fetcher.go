// Package fetcher retrieves artifacts over plain HTTP and defines the error
// taxonomy shared by every acquisition path.
// Implement the Fetcher interface to plug in a custom transport (proxies,
// authenticated mirrors, etc.).
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fetcher downloads a resolved artifact URL to disk.
type Fetcher interface {
	// Download fetches url into dir and returns the written artifact.
	// The file only appears in dir once it is complete.
	Download(ctx context.Context, url, dir string, opts Options) (*Artifact, error)

	// Type returns a string identifying the fetcher type (e.g., "direct").
	Type() string
}

// Options controls download behavior.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Referer   string
	Headers   map[string]string
	Cookies   []Cookie
	// MinBytes rejects bodies smaller than this as decoys.
	MinBytes int64
	// Filename overrides the name derived from the response.
	Filename string
}

// Cookie represents an HTTP cookie captured from a browsing session.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Artifact describes a downloaded file.
type Artifact struct {
	URL         string // final URL after redirects
	Path        string
	Size        int64
	ContentType string
	StatusCode  int
	FetchedAt   time.Time
}

// Error types for distinguishing failure reasons.
// Check with errors.Is(err, fetcher.ErrNoCandidate).
var (
	// ErrNavigation indicates the target page could not be reached.
	ErrNavigation = errors.New("navigation failed")
	// ErrNoCandidate indicates nothing on the page looked like the download.
	ErrNoCandidate = errors.New("no download found")
	// ErrTransferTimeout indicates a download never completed before the deadline.
	ErrTransferTimeout = errors.New("transfer timeout")
	// ErrDecoyArtifact indicates a file arrived but was too small or a known decoy.
	ErrDecoyArtifact = errors.New("decoy artifact")
	// ErrNotArtifact indicates the URL served a web page rather than a file.
	ErrNotArtifact = errors.New("response is not an artifact")
	// ErrCaptchaChallenge indicates the site has an interactive CAPTCHA.
	ErrCaptchaChallenge = errors.New("captcha challenge detected")
	// ErrAntiBot indicates the site's anti-bot protection blocked the request.
	ErrAntiBot = errors.New("anti-bot protection detected")
	// ErrChallengeTimeout indicates a timeout while waiting for challenge to resolve.
	ErrChallengeTimeout = errors.New("challenge timeout")
)

// LandingPageError is returned when a URL expected to be an artifact serves
// HTML instead. The page is kept so callers can look for the real link.
type LandingPageError struct {
	URL  string
	HTML string
}

func (e *LandingPageError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotArtifact, e.URL)
}

func (e *LandingPageError) Unwrap() error { return ErrNotArtifact }
