package challenge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/browser/browsertest"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
)

var (
	blockedDoc = browser.Document{
		URL:   "https://files.example.com/app",
		Title: "Just a moment...",
		HTML:  `<html><body><div id="challenge-stage"></div></body></html>`,
	}
	clearDoc = browser.Document{
		URL:   "https://files.example.com/app",
		Title: "MyApp APK",
		HTML:  `<html><body><a href="/myapp.apk">Download APK</a></body></html>`,
	}
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestSolver(opts ...Option) *Solver {
	opts = append([]Option{WithSleep(noSleep), WithPointer(NewPointer(1))}, opts...)
	return NewSolver(Config{MaxAttempts: 2, SettleDelay: time.Millisecond}, nil, opts...)
}

func newPage(t *testing.T, doc browser.Document) *browsertest.Page {
	t.Helper()
	p := browsertest.NewPage("tab-1", doc)
	browsertest.NewSession(t.TempDir(), p)
	return p
}

func TestSolver_ClearPageIsUntouched(t *testing.T) {
	page := newPage(t, clearDoc)

	state, err := newTestSolver().Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, Clear, state)
	assert.Empty(t, page.Pointer())
	assert.Zero(t, page.Reloads())
}

func TestSolver_ClicksWidgetNearCenter(t *testing.T) {
	page := newPage(t, blockedDoc)
	widget := browser.Rect{X: 400, Y: 300, Width: 300, Height: 65}
	page.SetWidget(&widget)

	var clickedAt browsertest.Point
	page.OnClickAt = func(p *browsertest.Page, x, y float64) {
		clickedAt = browsertest.Point{X: x, Y: y}
		p.SetDocument(clearDoc)
	}

	state, err := newTestSolver().Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, Clear, state)

	assert.InDelta(t, widget.X+widget.Width/2, clickedAt.X, widget.Width/6+0.001)
	assert.InDelta(t, widget.Y+widget.Height/2, clickedAt.Y, widget.Height/6+0.001)
	assert.Greater(t, len(page.Pointer()), 10, "pointer should travel before clicking")
	assert.Zero(t, page.Reloads())
}

func TestSolver_ReloadsOnceThenFails(t *testing.T) {
	page := newPage(t, blockedDoc)

	state, err := newTestSolver().Resolve(context.Background(), page)
	assert.Equal(t, Failed, state)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrChallengeTimeout)
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, 1, page.Reloads())
}

func TestSolver_ClearedByReload(t *testing.T) {
	page := newPage(t, blockedDoc)
	page.OnReload = func(p *browsertest.Page) { p.SetDocument(clearDoc) }

	state, err := newTestSolver().Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, Clear, state)
	assert.Equal(t, 1, page.Reloads())
}

func TestSolver_ClosedPage(t *testing.T) {
	page := newPage(t, blockedDoc)
	page.Kill()

	state, err := newTestSolver().Resolve(context.Background(), page)
	assert.Equal(t, Failed, state)
	assert.ErrorIs(t, err, browser.ErrClosed)
}

func TestSolver_StopsOnContextCancel(t *testing.T) {
	page := newPage(t, blockedDoc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := newTestSolver().Resolve(ctx, page)
	assert.Equal(t, Failed, state)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolver_FlareSolverrFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req flareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := flareResponse{Status: "ok"}
		if req.Cmd == "request.get" {
			assert.Equal(t, blockedDoc.URL, req.URL)
			resp.Solution = &FlareSolution{
				URL:     req.URL,
				Status:  200,
				Cookies: []FlareCookie{{Name: "cf_clearance", Value: "token", Domain: ".example.com", Path: "/"}},
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	page := newPage(t, blockedDoc)
	page.OnReload = func(p *browsertest.Page) {
		for _, c := range p.CookieJar() {
			if c.Name == "cf_clearance" {
				p.SetDocument(clearDoc)
			}
		}
	}

	solver := newTestSolver(WithFlareSolverr(NewFlareSolverr(srv.URL, time.Second)))
	state, err := solver.Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, Clear, state)
	assert.Equal(t, 2, page.Reloads())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "clear", Clear.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
