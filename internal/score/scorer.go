package score

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// Weights are the additive signal weights and penalties. They were tuned
// empirically and are configuration, not constants.
type Weights struct {
	Canonical     float64 `mapstructure:"canonical" yaml:"canonical" json:"canonical"`
	Size          float64 `mapstructure:"size" yaml:"size" json:"size"`
	Secondary     float64 `mapstructure:"secondary" yaml:"secondary" json:"secondary"`
	Gateway       float64 `mapstructure:"gateway" yaml:"gateway" json:"gateway"`
	Combo         float64 `mapstructure:"combo" yaml:"combo" json:"combo"`
	LongText      float64 `mapstructure:"long_text" yaml:"long_text" json:"long_text"`
	ReducedTrust  float64 `mapstructure:"reduced_trust" yaml:"reduced_trust" json:"reduced_trust"`
	LongTextRunes int     `mapstructure:"long_text_runes" yaml:"long_text_runes" json:"long_text_runes"`
	Threshold     float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
}

// DefaultWeights returns the weights the embedded vocabulary was tuned with.
func DefaultWeights() Weights {
	return Weights{
		Canonical:     50,
		Size:          25,
		Secondary:     15,
		Gateway:       20,
		Combo:         40,
		LongText:      30,
		ReducedTrust:  25,
		LongTextRunes: 80,
		Threshold:     20,
	}
}

var (
	sizeRE    = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(kb|mb|gb|tb|kib|mib|gib|bytes)\b`)
	versionRE = regexp.MustCompile(`\bv?\d+(?:\.\d+)+\b`)
	punctRE   = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// Scorer ranks candidates. It is safe for concurrent use.
type Scorer struct {
	vocab   *compiled
	weights Weights
}

// New compiles a vocabulary into a Scorer.
func New(v Vocabulary, w Weights) (*Scorer, error) {
	c, err := compileVocabulary(v)
	if err != nil {
		return nil, err
	}
	if w.LongTextRunes <= 0 {
		w.LongTextRunes = DefaultWeights().LongTextRunes
	}
	return &Scorer{vocab: c, weights: w}, nil
}

var (
	defaultScorer     *Scorer
	defaultScorerOnce sync.Once
)

// Default returns a Scorer built from the embedded vocabulary and
// DefaultWeights.
func Default() *Scorer {
	defaultScorerOnce.Do(func() {
		s, err := New(DefaultVocabulary(), DefaultWeights())
		if err != nil {
			panic(fmt.Sprintf("default scorer: %v", err))
		}
		defaultScorer = s
	})
	return defaultScorer
}

// Weights returns the weights in use.
func (s *Scorer) Weights() Weights { return s.weights }

// Score evaluates every candidate and returns them ranked: scored
// candidates first by descending score, then waiting, then disqualified.
// Ties keep input order.
func (s *Scorer) Score(cands []Candidate) []Scored {
	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = s.scoreOne(c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Score > out[j].Score
	})
	return out
}

func (s *Scorer) scoreOne(c Candidate) Scored {
	res := Scored{Candidate: c}
	text := Normalize(c.Text)

	if !c.Visible {
		return disqualify(res, "hidden")
	}
	if text == "" {
		return disqualify(res, "empty")
	}
	if w, ok := firstMatch(s.vocab.kill, text); ok {
		return disqualify(res, "kill:"+w)
	}

	if !navigates(c) {
		if reason, ok := s.waiting(text); ok {
			res.Kind = KindWaiting
			res.Reasons = append(res.Reasons, reason)
			return res
		}
	}

	w := s.weights
	var canonical, sized bool

	if m := sizeRE.FindStringSubmatch(text); m != nil {
		sized = true
		res.Score += w.Size
		res.Reasons = append(res.Reasons, "size")
		num := strings.ReplaceAll(m[1], ",", ".")
		if n, err := humanize.ParseBytes(num + " " + m[2]); err == nil {
			res.SizeHint = n
		}
	}
	if s.vocab.canonical[bareAction(text)] {
		canonical = true
		res.Score += w.Canonical
		res.Reasons = append(res.Reasons, "canonical")
	}
	if _, ok := firstMatch(s.vocab.secondary, text); ok {
		res.Score += w.Secondary
		res.Reasons = append(res.Reasons, "secondary")
	}
	gateway := s.vocab.isGateway(c.Origin, c.Href)
	if gateway {
		res.Score += w.Gateway
		res.Reasons = append(res.Reasons, "gateway")
	}
	if canonical && sized {
		res.Score += w.Combo
		res.Reasons = append(res.Reasons, "combo")
	}

	if utf8.RuneCountInString(text) > w.LongTextRunes {
		res.Score -= w.LongText
		res.Reasons = append(res.Reasons, "long-text")
	}
	if !gateway {
		if word, ok := firstMatch(s.vocab.reducedTrust, text); ok {
			res.Score -= w.ReducedTrust
			res.Reasons = append(res.Reasons, "reduced-trust:"+word)
		}
	}
	return res
}

func (s *Scorer) waiting(text string) (string, bool) {
	if w, ok := firstMatch(s.vocab.waiting, text); ok {
		return "waiting:" + w, true
	}
	for _, re := range s.vocab.waitingRE {
		if re.MatchString(text) {
			return "waiting:countdown", true
		}
	}
	return "", false
}

// navigates reports whether the candidate links away from the page it sits
// on. Pagination and other plain links are never countdowns.
func navigates(c Candidate) bool {
	href, _, frag := strings.Cut(c.Href, "#")
	if href == "" {
		return false
	}
	if !frag {
		return true
	}
	origin, _, _ := strings.Cut(c.Origin, "#")
	return href != origin
}

func disqualify(res Scored, reason string) Scored {
	res.Kind = KindDisqualified
	res.Disqualified = true
	res.Score = NegInf
	res.Reasons = append(res.Reasons, reason)
	return res
}

// bareAction strips size and version tokens and punctuation so "Download
// APK (v2.1, 54 MB)" compares equal to "download apk".
func bareAction(text string) string {
	text = sizeRE.ReplaceAllString(text, " ")
	text = versionRE.ReplaceAllString(text, " ")
	text = punctRE.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

// IsAdHost reports whether rawURL belongs to a known advertising host.
func (s *Scorer) IsAdHost(rawURL string) bool {
	return s.vocab.isAdHost(rawURL)
}
