package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/internal/archive"
	"github.com/xkilldash9x/adarchive/internal/browser/session"
	"github.com/xkilldash9x/adarchive/internal/config"
	"github.com/xkilldash9x/adarchive/internal/correlate"
	"github.com/xkilldash9x/adarchive/internal/network"
	"github.com/xkilldash9x/adarchive/internal/observability"
	"github.com/xkilldash9x/adarchive/internal/records"
	"github.com/xkilldash9x/adarchive/internal/store"
)

// scrapeFlags maps each flag to the config key it overrides.
var scrapeFlags = map[string]string{
	"country":       "scrape.country",
	"ad-type":       "scrape.ad_type",
	"active-status": "scrape.active_status",
	"limit":         "scrape.limit",
	"pacing":        "replay.pacing",
	"headless":      "browser.headless",
	"remote-url":    "browser.remote_url",
	"output":        "output.dir",
	"full-page":     "capture.full_page",
	"store":         "store.enabled",
}

// runScrape performs the run once the configuration is final. Tests swap it out.
var runScrape = scrape

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape <query...>",
		Short: "Captures every ad matching a search query",
		Long: `Signs in to the ad archive, searches for the query and walks the results.
Each ad is screenshotted, then the archive's own search and insight requests
are replayed to build the records written to ads.csv.

Credentials are read from ADARCHIVE_EMAIL and ADARCHIVE_PASSWORD, usually via
a .env file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadScrapeConfig(cmd, args)
			if err != nil {
				return err
			}
			runID := uuid.NewString()
			logger := observability.GetLogger().With(zap.String("run_id", runID))
			return runScrape(cmd.Context(), cmd.OutOrStdout(), cfg, runID, logger)
		},
	}

	f := cmd.Flags()
	f.String("country", "", "two letter country code to search in")
	f.String("ad-type", "", "ad type filter, e.g. political_and_issue_ads")
	f.String("active-status", "", "all, active or inactive")
	f.IntP("limit", "n", 0, "stop after this many ads (0 captures every ad)")
	f.Duration("pacing", 0, "minimum delay between replayed requests")
	f.Bool("headless", true, "run the browser without a window")
	f.String("remote-url", "", "DevTools websocket of an already running browser")
	f.StringP("output", "o", "", "directory the run directory is created in")
	f.Bool("full-page", false, "also save a screenshot of the whole results page")
	f.Bool("store", false, "also copy records into PostgreSQL (ADARCHIVE_DATABASE_URL)")
	return cmd
}

// loadScrapeConfig binds the flags that were set onto the command's viper
// instance and produces a validated config.
func loadScrapeConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	v, err := viperFromContext(cmd.Context())
	if err != nil {
		return nil, err
	}
	if err := bindScrapeFlags(cmd, v); err != nil {
		return nil, err
	}
	v.Set("scrape.query", strings.Join(args, " "))
	return config.NewConfigFromViper(v)
}

func bindScrapeFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range scrapeFlags {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			// An unset flag must not shadow the config file or environment.
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func scrape(ctx context.Context, out io.Writer, cfg *config.Config, runID string, logger *zap.Logger) error {
	sess, err := session.New(ctx, cfg.Browser, cfg.Network, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	hc, err := replayClient(cfg.Network, logger)
	if err != nil {
		return err
	}

	deps := archive.Deps{
		Browser:  sess,
		Replayer: correlate.NewReplayer(hc, cfg.Replay.Pacing, logger),
	}
	if cfg.Store.Enabled {
		st, closeStore, err := store.Open(ctx, cfg.Store, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		deps.Store = st
	}

	runner, err := archive.NewRunner(cfg, runID, deps, logger)
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx)
	if err != nil {
		if report != nil && report.Dir != "" {
			logger.Info("Partial artifacts kept", zap.String("dir", report.Dir))
		}
		return err
	}
	return printReport(out, report)
}

func replayClient(n config.NetworkConfig, logger *zap.Logger) (*http.Client, error) {
	cc := network.NewDefaultClientConfig()
	cc.IgnoreTLSErrors = n.IgnoreTLSErrors
	cc.Logger = logger
	if n.Timeout > 0 {
		cc.RequestTimeout = n.Timeout
	}
	if n.ProxyURL != "" {
		proxy, err := url.Parse(n.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", n.ProxyURL, err)
		}
		cc.ProxyURL = proxy
	}
	return network.NewClient(cc), nil
}

func printReport(out io.Writer, report *archive.Report) error {
	switch report.Outcome {
	case archive.OutcomeLoginFailed:
		_, err := fmt.Fprintln(out, "Login failed; check ADARCHIVE_EMAIL and ADARCHIVE_PASSWORD.")
		return err
	case archive.OutcomeNoResults:
		_, err := fmt.Fprintln(out, "No ads match the query.")
		return err
	}
	records.RenderSummary(out, report.Records)
	_, err := fmt.Fprintf(out, "\n%d ads (from %s data) written to %s\n", len(report.Records), report.Source, report.Dir)
	return err
}
