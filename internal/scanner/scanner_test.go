package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/browser/browsertest"
	"github.com/jmylchreest/apkhunter/internal/score"
)

func doc(url, title string) browser.Document {
	return browser.Document{URL: url, Title: title, HTML: "<html><body><p>" + title + "</p></body></html>"}
}

func cand(text string) score.Candidate {
	return score.Candidate{Text: text, Visible: true}
}

func TestCollect_AllContextsInOrder(t *testing.T) {
	main := browsertest.NewPage("main", doc("https://a.example/app", "App"), cand("Download APK"), cand("Home"))
	popup := browsertest.NewPage("popup", doc("https://b.example/mirror", "Mirror"), cand("Start Download"))
	sess := browsertest.NewSession(t.TempDir(), main)
	sess.Add(popup)

	scan, err := New(DefaultConfig(), nil).Collect(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, scan.Contexts, 2)
	assert.Zero(t, scan.Dropped)

	flat := scan.Flatten()
	require.Len(t, flat, 3)
	assert.Equal(t, "Download APK", flat[0].Text)
	assert.Equal(t, "main", flat[0].ContextID)
	assert.Equal(t, "Start Download", flat[2].Text)
	assert.Equal(t, "popup", flat[2].ContextID)

	byCtx := scan.Candidates()
	assert.Len(t, byCtx["main"], 2)
	assert.Len(t, byCtx["popup"], 1)

	assert.Equal(t, 1, main.Scrolls())
	assert.Equal(t, 1, popup.Scrolls())
}

func TestCollect_ToleratesFailingContexts(t *testing.T) {
	good := browsertest.NewPage("good", doc("https://a.example", "App"), cand("Download APK"))
	throwing := browsertest.NewPage("throwing", doc("https://b.example", "Ad"), cand("Play"))
	throwing.CandidatesErr = browsertest.ErrBoom
	closed := browsertest.NewPage("closed", doc("https://c.example", "Gone"))
	stuck := browsertest.NewPage("stuck", doc("https://d.example", "Stuck"))
	stuck.Block = true

	sess := browsertest.NewSession(t.TempDir(), good)
	sess.Add(throwing)
	sess.Add(closed)
	sess.Add(stuck)

	pages, err := sess.Pages(context.Background())
	require.NoError(t, err)
	closed.Kill() // closes after enumeration, mid-scan

	start := time.Now()
	s := New(Config{Concurrency: 4, ContextTimeout: 100 * time.Millisecond}, nil)
	scan, err := s.Collect(context.Background(), staticSession{sess, pages})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second, "a stuck context must not stall the scan")
	require.Len(t, scan.Contexts, 1)
	assert.Equal(t, "good", scan.Contexts[0].ID)
	assert.Equal(t, 3, scan.Dropped)
}

func TestCollect_BlockedContextHasNoCandidates(t *testing.T) {
	page := browsertest.NewPage("cf", browser.Document{
		URL:   "https://a.example",
		Title: "Just a moment...",
		HTML:  "<html><body></body></html>",
	}, cand("Download APK"))
	sess := browsertest.NewSession(t.TempDir(), page)

	scan, err := New(DefaultConfig(), nil).Collect(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, scan.Contexts, 1)
	assert.True(t, scan.Contexts[0].Challenge.Blocked)
	assert.Equal(t, "cloudflare", scan.Contexts[0].Challenge.Signature)
	assert.Empty(t, scan.Flatten())
	assert.Len(t, scan.Blocked(), 1)
}

func TestCollect_PagesError(t *testing.T) {
	sess := browsertest.NewSession(t.TempDir(), browsertest.NewPage("main", doc("https://a.example", "App")))
	sess.PagesErr = browser.ErrClosed

	_, err := New(DefaultConfig(), nil).Collect(context.Background(), sess)
	assert.ErrorIs(t, err, browser.ErrClosed)
}

// staticSession replays a fixed page list, so a page can close between
// enumeration and use.
type staticSession struct {
	*browsertest.Session
	pages []browser.Page
}

func (s staticSession) Pages(context.Context) ([]browser.Page, error) { return s.pages, nil }
