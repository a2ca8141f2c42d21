package score

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(text string) Candidate {
	return Candidate{ContextID: "tab-1", Origin: "https://apks.example.com/app/1", Text: text, Visible: true}
}

func find(t *testing.T, ranked []Scored, text string) Scored {
	t.Helper()
	for _, r := range ranked {
		if r.Text == text {
			return r
		}
	}
	t.Fatalf("candidate %q not in ranking", text)
	return Scored{}
}

// --- Scorer Tests ---

func TestScorer_GenuineBeatsDecoys(t *testing.T) {
	s := Default()
	ranked := s.Score([]Candidate{
		cand("Fast Download"),
		cand("Premium"),
		cand("Download Manager"),
		cand("Total Downloads: 5000"),
		cand("Telegram"),
		cand("Download APK — 54 MB"),
	})

	require.NotEmpty(t, ranked)
	best := ranked[0]
	assert.Equal(t, "Download APK — 54 MB", best.Text)
	assert.Equal(t, KindScored, best.Kind)

	runnerUp := ranked[1]
	assert.Greater(t, best.Score, runnerUp.Score, "genuine button must win with a strictly positive margin")
	assert.EqualValues(t, 54*1000*1000, best.SizeHint)

	for _, text := range []string{"Fast Download", "Premium", "Total Downloads: 5000", "Telegram"} {
		r := find(t, ranked, text)
		assert.True(t, r.Disqualified, "%q should be disqualified", text)
		assert.True(t, math.IsInf(r.Score, -1))
	}

	mgr := find(t, ranked, "Download Manager")
	assert.False(t, mgr.Disqualified)
	assert.Contains(t, mgr.Reasons, "reduced-trust:manager")

	d := Decide(ranked, s.Weights().Threshold)
	assert.Equal(t, ActClick, d.Action)
	assert.Equal(t, "Download APK — 54 MB", d.Target.Text)
}

func TestScorer_KillWordPrecedence(t *testing.T) {
	s := Default()
	c := cand("Premium Download APK 54 MB")
	c.Href = "https://cdn.example.com/app.apk"

	ranked := s.Score([]Candidate{c})
	require.Len(t, ranked, 1)
	assert.True(t, ranked[0].Disqualified)
	assert.Equal(t, KindDisqualified, ranked[0].Kind)
	assert.True(t, math.IsInf(ranked[0].Score, -1))
	assert.Equal(t, []string{"kill:premium"}, ranked[0].Reasons)
}

func TestScorer_KillWordNeedsWordBoundary(t *testing.T) {
	s := Default()
	ranked := s.Score([]Candidate{cand("Download")})

	// "ad" is a kill word but must not match inside "download".
	assert.False(t, ranked[0].Disqualified)
	assert.Contains(t, ranked[0].Reasons, "canonical")
}

func TestScorer_ComboLaw(t *testing.T) {
	w := DefaultWeights()
	s, err := New(DefaultVocabulary(), w)
	require.NoError(t, err)

	for _, text := range []string{
		"Download APK 54 MB",
		"Download (12.5 MB)",
		"download now - 1,2 GB",
		"Download APK v2.3.1 (900 KB)",
	} {
		r := s.Score([]Candidate{cand(text)})[0]
		floor := 2*math.Min(w.Canonical, w.Size) + w.Combo
		assert.GreaterOrEqual(t, r.Score, floor, "%q", text)
		assert.Contains(t, r.Reasons, "combo", "%q", text)
	}
}

func TestScorer_Deterministic(t *testing.T) {
	s := Default()
	cands := []Candidate{
		cand("Download"),
		cand("Download APK"),
		cand("Download"),
		cand("Please wait..."),
		cand("Sponsored"),
		cand("Get Link"),
	}

	first := s.Score(cands)
	second := s.Score(cands)
	assert.Equal(t, first, second)
}

func TestScorer_TieKeepsDocumentOrder(t *testing.T) {
	s := Default()
	a := cand("Download")
	a.DOMPath = "a:nth-of-type(1)"
	b := cand("Download")
	b.DOMPath = "a:nth-of-type(2)"

	ranked := s.Score([]Candidate{a, b})
	assert.Equal(t, "a:nth-of-type(1)", ranked[0].DOMPath)
	assert.Equal(t, "a:nth-of-type(2)", ranked[1].DOMPath)
}

func TestScorer_Waiting(t *testing.T) {
	s := Default()
	tests := []string{
		"Generating download link",
		"Please wait",
		"Your download starts in 15 seconds",
		"10s",
		"7",
		"0:45",
	}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			r := s.Score([]Candidate{cand(text)})[0]
			assert.Equal(t, KindWaiting, r.Kind)
			assert.False(t, r.Disqualified)
		})
	}
}

func TestScorer_NotWaiting(t *testing.T) {
	s := Default()
	page := cand("").Origin
	tests := []struct {
		text string
		href string
	}{
		{"2", page + "?page=2"},
		{"Video 3:45", ""},
		{"Wait, is this safe?", ""},
		{"0:45", "https://apks.example.com/video/45"},
		{"Loading screen themes", "https://apks.example.com/app/2"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c := cand(tt.text)
			c.Href = tt.href
			r := s.Score([]Candidate{c})[0]
			assert.NotEqual(t, KindWaiting, r.Kind)
		})
	}
}

func TestScorer_FragmentLinkCanWait(t *testing.T) {
	c := cand("Please wait 10 seconds")
	c.Href = c.Origin + "#"
	r := Default().Score([]Candidate{c})[0]
	assert.Equal(t, KindWaiting, r.Kind)
}

func TestScorer_PaginationBesideDownload(t *testing.T) {
	s := Default()
	button := cand("Download APK (54 MB)")
	cands := []Candidate{button}
	for _, n := range []string{"1", "2", "3"} {
		p := cand(n)
		p.Href = button.Origin + "?page=" + n
		cands = append(cands, p)
	}
	video := cand("Video 3:45")
	faq := cand("Wait, is this safe?")
	faq.Href = button.Origin + "#faq"
	cands = append(cands, video, faq)

	d := Decide(s.Score(cands), s.Weights().Threshold)
	assert.Equal(t, ActClick, d.Action)
	assert.Equal(t, "Download APK (54 MB)", d.Target.Text)
}

func TestScorer_HiddenIsDisqualified(t *testing.T) {
	s := Default()
	c := cand("Download APK 54 MB")
	c.Visible = false

	r := s.Score([]Candidate{c})[0]
	assert.True(t, r.Disqualified)
	assert.Equal(t, []string{"hidden"}, r.Reasons)
}

func TestScorer_GatewayHref(t *testing.T) {
	s := Default()
	plain := cand("Get Link")
	linked := cand("Get Link")
	linked.Href = "https://files.example.org/com.example.app.apk?token=abc"

	ranked := s.Score([]Candidate{plain, linked})
	assert.Equal(t, linked.Href, ranked[0].Href)
	assert.Contains(t, ranked[0].Reasons, "gateway")
	assert.Equal(t, s.Weights().Gateway, ranked[0].Score-ranked[1].Score)
}

func TestScorer_SiteGatewayOnlyOnItsSite(t *testing.T) {
	s := Default()
	onSite := Candidate{ContextID: "t", Origin: "https://en.uptodown.com/android/app", Text: "Get Link", Href: "https://dw.uptodown.net/dwn/abc", Visible: true}
	offSite := onSite
	offSite.Origin = "https://other.example.com/app"

	assert.Contains(t, s.Score([]Candidate{onSite})[0].Reasons, "gateway")
	assert.NotContains(t, s.Score([]Candidate{offSite})[0].Reasons, "gateway")
}

func TestScorer_ReducedTrustWaivedOnGateway(t *testing.T) {
	s := Default()
	c := cand("Direct Download")
	c.Href = "https://example.com/app.apk"

	r := s.Score([]Candidate{c})[0]
	assert.NotContains(t, r.Reasons, "reduced-trust:direct")
	assert.Contains(t, r.Reasons, "gateway")
}

func TestScorer_LongTextPenalty(t *testing.T) {
	s := Default()
	long := cand("Download this application to enjoy the newest features, many bug fixes and better performance on every device you own")
	short := cand("Download this application")

	ranked := s.Score([]Candidate{long, short})
	assert.Equal(t, short.Text, ranked[0].Text)
	assert.Contains(t, find(t, ranked, long.Text).Reasons, "long-text")
}

func TestScorer_OrderByKind(t *testing.T) {
	s := Default()
	ranked := s.Score([]Candidate{
		cand("Telegram"),
		cand("Please wait"),
		cand("Continue"),
	})
	require.Len(t, ranked, 3)
	assert.Equal(t, KindScored, ranked[0].Kind)
	assert.Equal(t, KindWaiting, ranked[1].Kind)
	assert.Equal(t, KindDisqualified, ranked[2].Kind)
}

func TestScorer_IsAdHost(t *testing.T) {
	s := Default()
	assert.True(t, s.IsAdHost("https://ad.doubleclick.net/click?x=1"))
	assert.True(t, s.IsAdHost("https://popads.net/"))
	assert.False(t, s.IsAdHost("https://apks.example.com/app"))
	assert.False(t, s.IsAdHost("not a url"))
}

func TestNew_InvalidPattern(t *testing.T) {
	v := DefaultVocabulary()
	v.WaitingPatterns = []string{"("}

	_, err := New(v, DefaultWeights())
	assert.Error(t, err)
}

func TestLoadVocabulary_MergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kill_words:\n  - mirror\n"), 0o644))

	v, err := LoadVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"mirror"}, v.KillWords)
	assert.Equal(t, DefaultVocabulary().Canonical, v.Canonical)

	s, err := New(v, DefaultWeights())
	require.NoError(t, err)
	assert.True(t, s.Score([]Candidate{cand("Mirror 2")})[0].Disqualified)
	assert.False(t, s.Score([]Candidate{cand("Telegram")})[0].Disqualified)
}

// --- Decide Tests ---

func TestDecide_BelowThreshold(t *testing.T) {
	ranked := []Scored{{Candidate: cand("Continue"), Kind: KindScored, Score: 15}}
	assert.Equal(t, ActNone, Decide(ranked, 20).Action)
}

func TestDecide_WaitingInSameContext(t *testing.T) {
	ranked := []Scored{
		{Candidate: cand("Download"), Kind: KindScored, Score: 65},
		{Candidate: cand("Please wait"), Kind: KindWaiting},
	}
	d := Decide(ranked, 20)
	assert.Equal(t, ActWait, d.Action)
	assert.Equal(t, "Please wait", d.Waiting.Text)
}

func TestDecide_WaitingInOtherContext(t *testing.T) {
	other := cand("Please wait")
	other.ContextID = "tab-2"
	ranked := []Scored{
		{Candidate: cand("Download"), Kind: KindScored, Score: 65},
		{Candidate: other, Kind: KindWaiting},
	}
	d := Decide(ranked, 20)
	assert.Equal(t, ActClick, d.Action)
	assert.Equal(t, "Download", d.Target.Text)
}

func TestDecide_OnlyWaiting(t *testing.T) {
	ranked := []Scored{
		{Candidate: cand("Generating"), Kind: KindWaiting},
		{Candidate: cand("Login"), Kind: KindDisqualified, Disqualified: true, Score: NegInf},
	}
	assert.Equal(t, ActWait, Decide(ranked, 20).Action)
}

func TestDecide_Empty(t *testing.T) {
	assert.Equal(t, ActNone, Decide(nil, 20).Action)
}

func TestCandidate_Key(t *testing.T) {
	a := Candidate{ContextID: "t1", Text: "  Download   APK "}
	b := Candidate{ContextID: "t1", Text: "download apk"}
	c := Candidate{ContextID: "t2", Text: "download apk"}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}
