package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/apkhunter/internal/logger"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
)

// ErrFlareSolverrUnavailable indicates the FlareSolverr service is not reachable.
var ErrFlareSolverrUnavailable = errors.New("FlareSolverr service unavailable")

// FlareSolverr is a client for the FlareSolverr API, a proxy that solves
// Cloudflare-style challenges in its own browser and hands back clearance
// cookies.
type FlareSolverr struct {
	baseURL    string
	httpClient *http.Client
	maxTimeout time.Duration
}

type flareRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int64  `json:"maxTimeout,omitempty"`
}

type flareResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Session  string         `json:"session,omitempty"`
	Solution *FlareSolution `json:"solution,omitempty"`
	StartTS  float64        `json:"startTimestamp"`
	EndTS    float64        `json:"endTimestamp"`
}

// FlareSolution contains the solved page and its clearance state.
type FlareSolution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Response  string            `json:"response"`
	Cookies   []FlareCookie     `json:"cookies"`
	UserAgent string            `json:"userAgent"`
}

// FlareCookie is a cookie returned by FlareSolverr.
type FlareCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// NewFlareSolverr creates a client for the service at baseURL (for example
// http://localhost:8191/v1). maxTimeout bounds a single solve on the
// service side; zero means 60s.
func NewFlareSolverr(baseURL string, maxTimeout time.Duration) *FlareSolverr {
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	return &FlareSolverr{
		baseURL: baseURL,
		// FlareSolverr can take a while.
		httpClient: &http.Client{Timeout: maxTimeout + 30*time.Second},
		maxTimeout: maxTimeout,
	}
}

// Clearance solves targetURL in a throwaway FlareSolverr session.
func (f *FlareSolverr) Clearance(ctx context.Context, targetURL string) (*FlareSolution, error) {
	session := "apkhunter-" + uuid.NewString()
	if err := f.CreateSession(ctx, session); err != nil {
		logger.Debug("FlareSolverr session create failed, solving without session", "error", err)
		session = ""
	} else {
		defer func() {
			// Cleanup must run even when ctx has already expired.
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = f.DestroySession(cleanupCtx, session)
		}()
	}
	return f.Solve(ctx, targetURL, session)
}

// Solve sends a URL to FlareSolverr and returns the solution. An empty
// sessionID uses a one-off browser on the service side.
func (f *FlareSolverr) Solve(ctx context.Context, targetURL, sessionID string) (*FlareSolution, error) {
	resp, err := f.call(ctx, flareRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		Session:    sessionID,
		MaxTimeout: f.maxTimeout.Milliseconds(),
	})
	if err != nil {
		logger.Warn("FlareSolverr request failed", "url", targetURL, "error", err)
		return nil, err
	}

	if resp.Status != "ok" {
		logger.Debug("FlareSolverr returned error status",
			"url", targetURL,
			"status", resp.Status,
			"message", resp.Message)
		return nil, classifyFlareError(targetURL, resp.Message)
	}
	if resp.Solution == nil {
		logger.Warn("FlareSolverr returned no solution", "url", targetURL)
		return nil, fmt.Errorf("%w: no solution returned", fetcher.ErrAntiBot)
	}

	logger.Debug("FlareSolverr solved",
		"url", targetURL,
		"session", sessionID,
		"status_code", resp.Solution.Status,
		"cookies", len(resp.Solution.Cookies),
		"duration_s", fmt.Sprintf("%.2f", (resp.EndTS-resp.StartTS)/1000))
	return resp.Solution, nil
}

// CreateSession creates a persistent browser session in FlareSolverr.
func (f *FlareSolverr) CreateSession(ctx context.Context, sessionID string) error {
	resp, err := f.call(ctx, flareRequest{Cmd: "sessions.create", Session: sessionID})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("session create failed: %s", resp.Message)
	}
	logger.Debug("FlareSolverr session created", "session", sessionID)
	return nil
}

// DestroySession destroys a FlareSolverr session. Failures are logged only.
func (f *FlareSolverr) DestroySession(ctx context.Context, sessionID string) error {
	resp, err := f.call(ctx, flareRequest{Cmd: "sessions.destroy", Session: sessionID})
	if err != nil {
		logger.Debug("FlareSolverr session destroy failed", "session", sessionID, "error", err)
		return nil
	}
	if resp.Status == "ok" {
		logger.Debug("FlareSolverr session destroyed", "session", sessionID)
	} else {
		logger.Debug("FlareSolverr session destroy returned error", "session", sessionID, "message", resp.Message)
	}
	return nil
}

func (f *FlareSolverr) call(ctx context.Context, body flareRequest) (*flareResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal FlareSolverr %s request: %w", body.Cmd, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create FlareSolverr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrFlareSolverrUnavailable, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read FlareSolverr response: %w", err)
	}

	// FlareSolverr answers 500 with a JSON body on solve errors.
	var out flareResponse
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Warn("FlareSolverr returned invalid response", "status_code", res.StatusCode, "body", truncate(string(data), 200))
		return nil, fmt.Errorf("parse FlareSolverr response: %w", err)
	}
	return &out, nil
}

// classifyFlareError maps FlareSolverr error messages to typed errors.
func classifyFlareError(url, message string) error {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		logger.Warn("FlareSolverr timed out", "url", url, "message", message)
		return fmt.Errorf("%w: %s", fetcher.ErrChallengeTimeout, message)

	case strings.Contains(msg, "could not be solved"),
		strings.Contains(msg, "unable to solve"),
		strings.Contains(msg, "failed to solve"),
		strings.Contains(msg, "captcha"),
		strings.Contains(msg, "turnstile"),
		strings.Contains(msg, "challenge"):
		logger.Warn("FlareSolverr could not solve challenge", "url", url, "message", message)
		return fmt.Errorf("%w: %s", fetcher.ErrCaptchaChallenge, message)

	case strings.Contains(msg, "blocked"),
		strings.Contains(msg, "denied"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "403"):
		logger.Warn("FlareSolverr blocked by anti-bot", "url", url, "message", message)
		return fmt.Errorf("%w: %s", fetcher.ErrAntiBot, message)

	case strings.Contains(msg, "browser"),
		strings.Contains(msg, "crashed"),
		strings.Contains(msg, "unable to process"):
		logger.Warn("FlareSolverr browser error", "url", url, "message", message)
		return fmt.Errorf("FlareSolverr internal error: %s", message)
	}

	logger.Warn("FlareSolverr failed with unknown error", "url", url, "message", message)
	return fmt.Errorf("%w: %s", fetcher.ErrAntiBot, message)
}

// FetcherCookies converts the solution's cookies for installation in a
// browser or an HTTP fetch.
func (s *FlareSolution) FetcherCookies() []fetcher.Cookie {
	out := make([]fetcher.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		out = append(out, fetcher.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
