// Package strategy maps target URLs to navigation strategies.
//
// Every target starts with a Strategy. Generic simply opens the target URL
// and leaves the rest to the acquisition loop. Named strategies run a fixed
// recipe for a site with a stable, known flow first and then hand over to
// the same loop.
package strategy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/logger"
)

//go:embed recipes.yaml
var defaultRecipesYAML []byte

// Kind tags a Strategy.
type Kind int

const (
	KindGeneric Kind = iota
	KindNamed
)

// Recipe is a fixed multi-step flow for one site.
type Recipe struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Host string `yaml:"host" mapstructure:"host"`

	// PathID extracts the identifier substituted for {id} in Next.
	PathID string `yaml:"path_id" mapstructure:"path_id"`
	// Next is the secondary URL template. Empty means stay on the target.
	Next string `yaml:"next" mapstructure:"next"`

	Countdown time.Duration `yaml:"countdown" mapstructure:"countdown"`
	// Button is a CSS selector clicked after the countdown.
	Button string `yaml:"button" mapstructure:"button"`

	host   *regexp.Regexp
	pathID *regexp.Regexp
}

func (r *Recipe) compile() error {
	if r.ID == "" {
		return errors.New("recipe has no id")
	}
	if r.Host == "" {
		return fmt.Errorf("recipe %s: host is required", r.ID)
	}
	var err error
	if r.host, err = regexp.Compile(r.Host); err != nil {
		return fmt.Errorf("recipe %s: host: %w", r.ID, err)
	}
	if r.PathID != "" {
		if r.pathID, err = regexp.Compile(r.PathID); err != nil {
			return fmt.Errorf("recipe %s: path_id: %w", r.ID, err)
		}
		if r.pathID.NumSubexp() < 1 {
			return fmt.Errorf("recipe %s: path_id needs a capture group", r.ID)
		}
	}
	if strings.Contains(r.Next, "{id}") && r.pathID == nil {
		return fmt.Errorf("recipe %s: next uses {id} without path_id", r.ID)
	}
	return nil
}

// Matches reports whether the recipe applies to rawURL.
func (r Recipe) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if !r.host.MatchString(strings.ToLower(u.Hostname())) {
		return false
	}
	if r.pathID != nil && strings.Contains(r.Next, "{id}") {
		return r.pathID.MatchString(u.EscapedPath())
	}
	return true
}

// Derive builds the secondary URL for rawURL.
func (r Recipe) Derive(rawURL string) (string, error) {
	if r.Next == "" {
		return rawURL, nil
	}
	if !strings.Contains(r.Next, "{id}") {
		return r.Next, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	m := r.pathID.FindStringSubmatch(u.EscapedPath())
	if m == nil || m[1] == "" {
		return "", fmt.Errorf("recipe %s: no id in %s", r.ID, u.Path)
	}
	return strings.ReplaceAll(r.Next, "{id}", url.PathEscape(m[1])), nil
}

// Strategy is either Generic or Named(recipe).
type Strategy struct {
	Kind   Kind
	Recipe *Recipe
}

// Generic returns the generic strategy.
func Generic() Strategy { return Strategy{Kind: KindGeneric} }

// Named returns the strategy backed by r.
func Named(r Recipe) Strategy { return Strategy{Kind: KindNamed, Recipe: &r} }

// Name is "generic" or the recipe id.
func (s Strategy) Name() string {
	if s.Kind == KindNamed && s.Recipe != nil {
		return s.Recipe.ID
	}
	return "generic"
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Run opens target in page. Named strategies run their recipe first; if
// any recipe step fails the page is sent to target as Generic would.
func (s Strategy) Run(ctx context.Context, page browser.Page, target string, sleep Sleeper) error {
	if sleep == nil {
		sleep = sleepContext
	}
	if s.Kind == KindNamed && s.Recipe != nil {
		err := s.Recipe.run(ctx, page, target, sleep)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("recipe failed, falling back to generic", "recipe", s.Recipe.ID, "error", err)
	}
	return page.Navigate(ctx, target)
}

func (r *Recipe) run(ctx context.Context, page browser.Page, target string, sleep Sleeper) error {
	next, err := r.Derive(target)
	if err != nil {
		return err
	}
	logger.Debug("recipe navigate", "recipe", r.ID, "url", next)
	if err := page.Navigate(ctx, next); err != nil {
		return err
	}
	if r.Countdown > 0 {
		logger.Debug("recipe countdown", "recipe", r.ID, "wait", r.Countdown)
		if err := sleep(ctx, r.Countdown); err != nil {
			return err
		}
	}
	if r.Button == "" {
		return nil
	}
	// The button often renders only when the countdown ends.
	for attempt := 1; ; attempt++ {
		err = page.Click(ctx, r.Button)
		if err == nil || attempt == 3 || errors.Is(err, browser.ErrClosed) {
			break
		}
		if serr := sleep(ctx, time.Second); serr != nil {
			return serr
		}
	}
	if err != nil {
		return fmt.Errorf("recipe %s: click %s: %w", r.ID, r.Button, err)
	}
	logger.Debug("recipe button clicked", "recipe", r.ID)
	return nil
}

// Router selects strategies by URL.
type Router struct {
	recipes []Recipe
}

// NewRouter returns a router over extra recipes followed by the embedded
// ones. An extra recipe with an embedded recipe's id replaces it.
func NewRouter(extra []Recipe) (*Router, error) {
	builtin, err := ParseRecipes(defaultRecipesYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded recipes: %w", err)
	}
	seen := make(map[string]bool)
	var all []Recipe
	for _, r := range append(append([]Recipe{}, extra...), builtin...) {
		if seen[r.ID] {
			continue
		}
		if err := r.compile(); err != nil {
			return nil, err
		}
		seen[r.ID] = true
		all = append(all, r)
	}
	return &Router{recipes: all}, nil
}

var (
	defaultOnce   sync.Once
	defaultRouter *Router
)

// DefaultRouter returns a router over the embedded recipes.
func DefaultRouter() *Router {
	defaultOnce.Do(func() {
		r, err := NewRouter(nil)
		if err != nil {
			panic(err)
		}
		defaultRouter = r
	})
	return defaultRouter
}

// ParseRecipes decodes a recipes document.
func ParseRecipes(data []byte) ([]Recipe, error) {
	var doc struct {
		Recipes []Recipe `yaml:"recipes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse recipes: %w", err)
	}
	return doc.Recipes, nil
}

// Recipes returns the router's recipes in match order.
func (r *Router) Recipes() []Recipe {
	return append([]Recipe(nil), r.recipes...)
}

// Select returns the first matching Named strategy, or Generic.
func (r *Router) Select(rawURL string) Strategy {
	for _, rec := range r.recipes {
		if rec.Matches(rawURL) {
			return Named(rec)
		}
	}
	return Generic()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
