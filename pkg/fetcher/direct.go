package fetcher

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gocolly/colly/v2"
	"github.com/jmylchreest/apkhunter/internal/logger"
)

// DirectConfig holds configuration for the direct fetcher.
type DirectConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// DefaultDirectConfig returns sensible defaults.
func DefaultDirectConfig() DirectConfig {
	return DirectConfig{
		UserAgent: DefaultUserAgent,
		Timeout:   5 * time.Minute,
	}
}

// DefaultUserAgent is a current desktop Chrome user agent. Many mirrors
// refuse obvious non-browser clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// partialSuffix marks a file that is still being written.
const partialSuffix = ".part"

// DirectFetcher downloads artifacts with Colly, following redirects and
// forwarding browser cookies and referrer.
// It implements the Fetcher interface.
type DirectFetcher struct {
	config DirectConfig
}

// NewDirect creates a new direct fetcher.
func NewDirect(cfg DirectConfig) *DirectFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultDirectConfig().UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultDirectConfig().Timeout
	}
	return &DirectFetcher{config: cfg}
}

// Download retrieves targetURL into dir. The body is written under a
// partial name and renamed once it passed the size check, so dir never
// holds a truncated artifact under its final name.
func (f *DirectFetcher) Download(ctx context.Context, targetURL, dir string, opts Options) (*Artifact, error) {
	logger.Debug("direct fetch starting", "url", targetURL)

	userAgent := coalesce(opts.UserAgent, f.config.UserAgent)
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.StdlibContext(ctx),
	)
	c.MaxBodySize = 0

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	c.SetRequestTimeout(timeout)

	if len(opts.Cookies) > 0 {
		if err := c.SetCookies(targetURL, toHTTPCookies(opts.Cookies)); err != nil {
			logger.Debug("direct fetch cookies rejected", "error", err)
		}
	}

	c.OnRequest(func(r *colly.Request) {
		if opts.Referer != "" {
			r.Headers.Set("Referer", opts.Referer)
		}
		for k, v := range opts.Headers {
			r.Headers.Set(k, v)
		}
	})

	var (
		artifact *Artifact
		fetchErr error
	)

	c.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		finalURL := r.Request.URL.String()
		logger.Debug("direct fetch response received",
			"status", r.StatusCode,
			"content_type", contentType,
			"body_size", humanize.Bytes(uint64(len(r.Body))))

		if isHTML(contentType) {
			fetchErr = &LandingPageError{URL: finalURL, HTML: string(r.Body)}
			return
		}
		size := int64(len(r.Body))
		if size == 0 || size < opts.MinBytes {
			fetchErr = fmt.Errorf("%w: %s is %s", ErrDecoyArtifact, finalURL, humanize.Bytes(uint64(size)))
			return
		}

		name := coalesce(opts.Filename, filenameFrom(r))
		dest := filepath.Join(dir, name)
		tmp := dest + partialSuffix
		if err := r.Save(tmp); err != nil {
			fetchErr = fmt.Errorf("failed to write artifact: %w", err)
			return
		}
		if err := os.Rename(tmp, dest); err != nil {
			_ = os.Remove(tmp)
			fetchErr = fmt.Errorf("failed to finalize artifact: %w", err)
			return
		}

		artifact = &Artifact{
			URL:         finalURL,
			Path:        dest,
			Size:        size,
			ContentType: contentType,
			StatusCode:  r.StatusCode,
			FetchedAt:   time.Now(),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch error (status %d): %w", statusCode, err)
		logger.Debug("direct fetch error", "status", statusCode, "error", err)
	})

	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		logger.Debug("direct fetch visit failed", "url", targetURL, "error", err)
		return nil, fmt.Errorf("failed to visit URL: %w", err)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if artifact == nil {
		return nil, fmt.Errorf("%w: empty response from %s", ErrDecoyArtifact, targetURL)
	}

	logger.Debug("direct fetch complete", "path", artifact.Path, "size", humanize.Bytes(uint64(artifact.Size)))
	return artifact, nil
}

// Type returns the fetcher type.
func (f *DirectFetcher) Type() string {
	return "direct"
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// filenameFrom prefers Content-Disposition, then the last URL path segment.
func filenameFrom(r *colly.Response) string {
	if cd := r.Headers.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := safeName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if name := safeName(path.Base(r.Request.URL.Path)); name != "" && name != "/" && name != "." {
		return name
	}
	return "download.apk"
}

// safeName strips any directory component a server may have sent.
func safeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, "..") {
		return ""
	}
	return name
}

func toHTTPCookies(cookies []Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		p := c.Path
		if p == "" {
			p = "/"
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: p})
	}
	return out
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
