package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/apkhunter/internal/browser"
	"github.com/jmylchreest/apkhunter/internal/hunter"
	"github.com/jmylchreest/apkhunter/internal/logger"
	"github.com/jmylchreest/apkhunter/internal/output"
	"github.com/jmylchreest/apkhunter/pkg/fetcher"
	"github.com/jmylchreest/apkhunter/pkg/target"
)

var huntCmd = &cobra.Command{
	Use:   "hunt",
	Short: "Acquire one package",
	Long: `Acquire the package for a target and write it to the output path.

The target is looked up by --id in the catalog (--targets or the "targets"
config key). --url, --out, --wait and --mode override the catalog entry; with
--url the id does not need to exist in the catalog at all.

The command exits 0 only when the package was written.

Examples:
  apkhunter hunt --id myapp --targets targets.yaml
  apkhunter hunt --id myapp --url "https://apps.example.org/myapp" --out ./myapp.apk --wait 2m
  apkhunter hunt --id myapp --url "https://apps.example.org/myapp" --report json > report.json`,
	RunE: runHunt,
}

func init() {
	rootCmd.AddCommand(huntCmd)

	flags := huntCmd.Flags()

	// Target
	flags.String("id", "", "target id (required)")
	flags.StringP("url", "u", "", "page URL, overrides the catalog")
	flags.StringP("out", "o", "", "output path (default <id>.apk)")
	flags.String("wait", "", "deadline for the whole hunt, e.g. 90s or 90000 (ms) (default 30s)")
	flags.String("mode", "", "acquisition mode: scrape, direct")
	flags.String("targets", "", "target catalog file (YAML or JSON)")

	// Output
	flags.String("report", "", "write a report to stdout: json, yaml")

	// Browser
	flags.Bool("headless", true, "run the browser without a window")
	flags.Bool("stealth", true, "mask automation fingerprints")

	// Hunt
	flags.String("min-size", "100KB", "smallest file accepted as the package")
	flags.String("vocabulary", "", "scoring vocabulary file; lists in it replace the built-in ones")
	flags.String("flaresolverr-url", "", "FlareSolverr API URL used when a challenge cannot be cleared (e.g., http://localhost:8191/v1)")
	flags.Bool("screenshot-on-fail", false, "save a screenshot of the main page when the deadline passes")

	_ = huntCmd.MarkFlagRequired("id")

	_ = viper.BindPFlag("targets", flags.Lookup("targets"))
	_ = viper.BindPFlag("browser.headless", flags.Lookup("headless"))
	_ = viper.BindPFlag("browser.stealth", flags.Lookup("stealth"))
	_ = viper.BindPFlag("hunt.min_size", flags.Lookup("min-size"))
	_ = viper.BindPFlag("scoring.vocabulary", flags.Lookup("vocabulary"))
	_ = viper.BindPFlag("hunt.screenshot_on_fail", flags.Lookup("screenshot-on-fail"))
	_ = viper.BindPFlag("challenge.flaresolverr_url", flags.Lookup("flaresolverr-url"))
}

func runHunt(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flags := cmd.Flags()
	id, _ := flags.GetString("id")
	reportFormat, _ := flags.GetString("report")
	format, err := output.ParseFormat(reportFormat)
	if err != nil {
		return err
	}

	overrides := target.Overrides{}
	overrides.URL, _ = flags.GetString("url")
	overrides.Output, _ = flags.GetString("out")
	wait, _ := flags.GetString("wait")
	if overrides.Wait, err = target.ParseDuration(wait); err != nil {
		return err
	}
	mode, _ := flags.GetString("mode")
	overrides.Mode = target.Mode(mode)

	catalog, err := loadCatalog()
	if err != nil {
		logger.Error("failed to load target catalog", "error", err)
		return err
	}
	t, err := target.Resolve(catalog, id, overrides)
	if err != nil {
		return err
	}

	h, err := buildHunter()
	if err != nil {
		return err
	}

	res, err := h.Run(ctx, t)

	if format != output.FormatNone {
		w, werr := output.NewWriter(os.Stdout, format)
		if werr != nil {
			return werr
		}
		if werr := w.Write(report(t, res, err)); werr != nil {
			logger.Error("failed to write report", "error", werr)
		}
	}
	return err
}

func buildHunter() (*hunter.Hunter, error) {
	cfg, err := huntConfig()
	if err != nil {
		return nil, err
	}
	bopts, err := browserOptions()
	if err != nil {
		return nil, err
	}
	cfg.UserAgent = bopts.UserAgent
	if cfg.UserAgent == "" {
		cfg.UserAgent = browser.DefaultUserAgent
	}

	solver, err := challengeSolver()
	if err != nil {
		return nil, err
	}
	scan, err := contextScanner(solver.Detector())
	if err != nil {
		return nil, err
	}
	scorer, err := scoreRanker()
	if err != nil {
		return nil, err
	}
	router, err := strategyRouter()
	if err != nil {
		return nil, err
	}

	launch := func(ctx context.Context) (browser.Session, error) {
		s, err := browser.Launch(ctx, bopts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return hunter.New(cfg, launch,
		hunter.WithSolver(solver),
		hunter.WithScanner(scan),
		hunter.WithScorer(scorer),
		hunter.WithRouter(router),
		hunter.WithFetcher(fetcher.NewDirect(fetcher.DirectConfig{UserAgent: cfg.UserAgent})),
	), nil
}

func report(t target.Target, res *hunter.Result, err error) output.Report {
	r := output.Report{
		Target:  t.ID,
		URL:     t.URL,
		Mode:    string(t.Mode),
		Success: err == nil,
	}
	if err != nil {
		r.Error = err.Error()
	}
	if res == nil {
		return r
	}
	r.RunID = res.RunID
	r.Strategy = res.Strategy
	r.Artifact = res.ArtifactPath
	r.Size = res.Size
	if res.Size > 0 {
		r.SizeHuman = humanize.Bytes(uint64(res.Size))
	}
	r.Warnings = res.Warnings
	r.Iterations = res.Iterations
	r.StartedAt = res.StartedAt
	r.Duration = res.Duration.Round(time.Millisecond).String()
	for _, c := range res.Clicks {
		r.Clicks = append(r.Clicks, output.Click{
			Context: c.Context,
			Text:    c.Text,
			Href:    c.Href,
			Score:   c.Score,
			Reasons: c.Reasons,
			Direct:  c.Direct,
		})
	}
	return r
}
