package score

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Vocabulary holds the word lists and patterns the scorer matches against.
type Vocabulary struct {
	KillWords       []string            `yaml:"kill_words"`
	WaitingWords    []string            `yaml:"waiting_words"`
	WaitingPatterns []string            `yaml:"waiting_patterns"`
	Canonical       []string            `yaml:"canonical"`
	Secondary       []string            `yaml:"secondary"`
	ReducedTrust    []string            `yaml:"reduced_trust"`
	Gateways        map[string][]string `yaml:"gateways"`
	AdHosts         []string            `yaml:"ad_hosts"`
}

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() Vocabulary {
	v, err := ParseVocabulary(defaultVocabulary)
	if err != nil {
		// The embedded file is part of the binary; failing here is a build defect.
		panic(fmt.Sprintf("embedded vocabulary: %v", err))
	}
	return v
}

// ParseVocabulary decodes a YAML vocabulary document.
func ParseVocabulary(data []byte) (Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	return v, nil
}

// LoadVocabulary reads a vocabulary file. Lists present in the file replace
// the corresponding default lists; absent lists keep their defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("failed to read vocabulary file: %w", err)
	}
	override, err := ParseVocabulary(data)
	if err != nil {
		return Vocabulary{}, err
	}
	return DefaultVocabulary().merge(override), nil
}

func (v Vocabulary) merge(o Vocabulary) Vocabulary {
	pick := func(base, over []string) []string {
		if over != nil {
			return over
		}
		return base
	}
	v.KillWords = pick(v.KillWords, o.KillWords)
	v.WaitingWords = pick(v.WaitingWords, o.WaitingWords)
	v.WaitingPatterns = pick(v.WaitingPatterns, o.WaitingPatterns)
	v.Canonical = pick(v.Canonical, o.Canonical)
	v.Secondary = pick(v.Secondary, o.Secondary)
	v.ReducedTrust = pick(v.ReducedTrust, o.ReducedTrust)
	v.AdHosts = pick(v.AdHosts, o.AdHosts)
	if o.Gateways != nil {
		v.Gateways = o.Gateways
	}
	return v
}

// phrase is a word-bounded matcher for a vocabulary entry.
type phrase struct {
	word string
	re   *regexp.Regexp
}

type gateway struct {
	host     string // "*" or a host suffix
	patterns []*regexp.Regexp
}

// compiled is the matcher form of a Vocabulary.
type compiled struct {
	kill         []phrase
	waiting      []phrase
	waitingRE    []*regexp.Regexp
	canonical    map[string]bool
	secondary    []phrase
	reducedTrust []phrase
	gateways     []gateway
	adHosts      []string
}

func compileVocabulary(v Vocabulary) (*compiled, error) {
	c := &compiled{canonical: make(map[string]bool, len(v.Canonical))}

	var err error
	if c.kill, err = compilePhrases(v.KillWords); err != nil {
		return nil, err
	}
	if c.waiting, err = compilePhrases(v.WaitingWords); err != nil {
		return nil, err
	}
	if c.secondary, err = compilePhrases(v.Secondary); err != nil {
		return nil, err
	}
	if c.reducedTrust, err = compilePhrases(v.ReducedTrust); err != nil {
		return nil, err
	}
	for _, p := range v.WaitingPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid waiting pattern %q: %w", p, err)
		}
		c.waitingRE = append(c.waitingRE, re)
	}
	for _, p := range v.Canonical {
		c.canonical[Normalize(p)] = true
	}

	// Map iteration order is random; keep the "*" entry first and the rest
	// sorted so compiled matchers are reproducible.
	hosts := make([]string, 0, len(v.Gateways))
	for h := range v.Gateways {
		if h != "*" {
			hosts = append(hosts, h)
		}
	}
	sort.Strings(hosts)
	if _, ok := v.Gateways["*"]; ok {
		hosts = append([]string{"*"}, hosts...)
	}
	for _, h := range hosts {
		g := gateway{host: strings.ToLower(h)}
		for _, p := range v.Gateways[h] {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid gateway pattern %q: %w", p, err)
			}
			g.patterns = append(g.patterns, re)
		}
		c.gateways = append(c.gateways, g)
	}

	for _, h := range v.AdHosts {
		c.adHosts = append(c.adHosts, strings.ToLower(strings.TrimSpace(h)))
	}
	return c, nil
}

func compilePhrases(words []string) ([]phrase, error) {
	out := make([]phrase, 0, len(words))
	for _, w := range words {
		w = Normalize(w)
		if w == "" {
			continue
		}
		re, err := regexp.Compile(`(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(w) + `($|[^\p{L}\p{N}])`)
		if err != nil {
			return nil, fmt.Errorf("invalid phrase %q: %w", w, err)
		}
		out = append(out, phrase{word: w, re: re})
	}
	return out, nil
}

// firstMatch returns the first phrase found in text.
func firstMatch(phrases []phrase, text string) (string, bool) {
	for _, p := range phrases {
		if p.re.MatchString(text) {
			return p.word, true
		}
	}
	return "", false
}

// isGateway reports whether href points at a trusted file host for the site
// the element was found on.
func (c *compiled) isGateway(origin, href string) bool {
	if href == "" {
		return false
	}
	href = strings.ToLower(href)
	host := hostOf(origin)
	for _, g := range c.gateways {
		if g.host != "*" && !hostMatches(host, g.host) {
			continue
		}
		for _, re := range g.patterns {
			if re.MatchString(href) {
				return true
			}
		}
	}
	return false
}

func (c *compiled) isAdHost(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, h := range c.adHosts {
		if hostMatches(host, h) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// hostMatches reports whether host equals suffix or is a subdomain of it.
func hostMatches(host, suffix string) bool {
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
