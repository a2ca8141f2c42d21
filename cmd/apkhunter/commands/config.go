package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/challenge"
	"github.com/jmylchreest/apkhunter/internal/hunter"
	"github.com/jmylchreest/apkhunter/internal/scanner"
	"github.com/jmylchreest/apkhunter/internal/score"
	"github.com/jmylchreest/apkhunter/internal/strategy"
	"github.com/jmylchreest/apkhunter/pkg/target"
)

// Config keys, see .apkhunter.yaml:
//
//	targets: targets.yaml
//	browser:   {headless, stealth, user_agent, chrome_path, window_width, window_height, op_timeout}
//	hunt:      {poll_interval, grace, click_settle, click_cooldown, click_rate, click_burst, min_size, direct_links, screenshot_on_fail, screenshot_path}
//	scan:      {concurrency, context_timeout}
//	challenge: {max_attempts, settle_delay, flaresolverr_url, flaresolverr_timeout, signatures}
//	scoring:   {vocabulary, weights: {...}}
//	strategy:  {recipes: [...]}
//	log:       {debug, quiet, json, file: {path, max_size_mb, max_backups, max_age_days, compress}}

func browserOptions() (browser.Options, error) {
	opts := browser.DefaultOptions()
	if err := viper.UnmarshalKey("browser", &opts); err != nil {
		return opts, fmt.Errorf("invalid browser config: %w", err)
	}
	// Flag-bound keys are not part of the "browser" sub-tree.
	opts.Headless = viper.GetBool("browser.headless")
	opts.Stealth = viper.GetBool("browser.stealth")
	return opts, nil
}

func huntConfig() (hunter.Config, error) {
	cfg := hunter.DefaultConfig()
	if err := viper.UnmarshalKey("hunt", &cfg); err != nil {
		return cfg, fmt.Errorf("invalid hunt config: %w", err)
	}
	cfg.ScreenshotOnFail = viper.GetBool("hunt.screenshot_on_fail")
	if s := viper.GetString("hunt.min_size"); s != "" {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return cfg, fmt.Errorf("invalid hunt.min_size %q: %w", s, err)
		}
		cfg.MinBytes = int64(n)
	}
	return cfg, nil
}

func challengeSolver() (*challenge.Solver, error) {
	cfg := challenge.DefaultConfig()
	if err := viper.UnmarshalKey("challenge", &cfg); err != nil {
		return nil, fmt.Errorf("invalid challenge config: %w", err)
	}
	cfg.FlareSolverrURL = viper.GetString("challenge.flaresolverr_url")

	var detector *challenge.Detector
	if path := viper.GetString("challenge.signatures"); path != "" {
		sigs, err := challenge.LoadSignatures(path)
		if err != nil {
			return nil, err
		}
		detector = challenge.NewDetector(sigs)
	}
	return challenge.NewSolver(cfg, detector), nil
}

func scoreRanker() (*score.Scorer, error) {
	vocab := score.DefaultVocabulary()
	if path := viper.GetString("scoring.vocabulary"); path != "" {
		v, err := score.LoadVocabulary(path)
		if err != nil {
			return nil, err
		}
		vocab = v
	}
	weights := score.DefaultWeights()
	if err := viper.UnmarshalKey("scoring.weights", &weights); err != nil {
		return nil, fmt.Errorf("invalid scoring weights: %w", err)
	}
	return score.New(vocab, weights)
}

func strategyRouter() (*strategy.Router, error) {
	var recipes []strategy.Recipe
	if err := viper.UnmarshalKey("strategy.recipes", &recipes); err != nil {
		return nil, fmt.Errorf("invalid strategy recipes: %w", err)
	}
	return strategy.NewRouter(recipes)
}

func contextScanner(detector *challenge.Detector) (*scanner.Scanner, error) {
	cfg := scanner.DefaultConfig()
	if err := viper.UnmarshalKey("scan", &cfg); err != nil {
		return nil, fmt.Errorf("invalid scan config: %w", err)
	}
	return scanner.New(cfg, detector), nil
}

// loadCatalog reads the target catalog, if one is configured.
func loadCatalog() (*target.Catalog, error) {
	path := viper.GetString("targets")
	if path == "" {
		return nil, nil
	}
	return target.FromFile(path)
}
