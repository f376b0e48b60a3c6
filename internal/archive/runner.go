// Package archive runs one capture of the ad archive: it signs in, walks the
// result list taking a stitched screenshot of every ad, then replays the
// page's own search and insight requests to build the records.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
	"github.com/xkilldash9x/adarchive/internal/artifacts"
	"github.com/xkilldash9x/adarchive/internal/browser/dom"
	"github.com/xkilldash9x/adarchive/internal/capture"
	"github.com/xkilldash9x/adarchive/internal/config"
	"github.com/xkilldash9x/adarchive/internal/correlate"
	"github.com/xkilldash9x/adarchive/internal/loader"
	"github.com/xkilldash9x/adarchive/internal/markup"
)

const (
	emailSelector    = `input[name="email"]`
	passwordSelector = `input[name="pass"]`
	loginSelector    = `[name="login"]`
)

// Record sources reported in Report.Source.
const (
	SourceNetwork = "network"
	SourceDOM     = "dom"
)

// RecordSink receives the final records of a run.
type RecordSink interface {
	PersistRecords(ctx context.Context, runID string, recs []schemas.AdRecord) error
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Browser  Browser
	Replayer *correlate.Replayer
	// Store is optional.
	Store RecordSink
	// Now defaults to time.Now.
	Now func() time.Time
}

// Report summarises a run.
type Report struct {
	RunID     string
	SessionID string
	Outcome   Outcome
	// Dir is the run directory; set even when the run ends early.
	Dir       string
	Records   []schemas.AdRecord
	Processed int
	Passes    int
	// Source says where the records came from: replayed payloads or container markup.
	Source   string
	Replayed map[string]int
}

// Runner executes a single archive run. It is not safe for concurrent use.
type Runner struct {
	cfg      *config.Config
	runID    string
	deps     Deps
	stitcher *capture.Stitcher
	logger   *zap.Logger
}

// NewRunner validates deps and builds a runner for cfg.
func NewRunner(cfg *config.Config, runID string, deps Deps, logger *zap.Logger) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("archive: nil config")
	}
	if deps.Browser == nil {
		return nil, errors.New("archive: a browser is required")
	}
	if deps.Replayer == nil {
		return nil, errors.New("archive: a replayer is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("archive").With(zap.String("run_id", runID))
	return &Runner{
		cfg:      cfg,
		runID:    runID,
		deps:     deps,
		stitcher: capture.NewStitcher(cfg.Capture.Scale, logger),
		logger:   logger,
	}, nil
}

// Run performs the capture. Login failure and an empty search are reported
// through Report.Outcome with a nil error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	scrape := r.cfg.Scrape
	started := r.deps.Now()

	base, err := r.cfg.Output.ResolveDir()
	if err != nil {
		return nil, err
	}
	dir, err := artifacts.Create(base, scrape.Query, started, r.cfg.Output.CSVName, r.logger)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: r.runID, SessionID: r.deps.Browser.ID(), Dir: dir.Path}

	if err := dir.WriteReadme(artifacts.Manifest{
		Query:     scrape.Query,
		Started:   started,
		Limit:     scrape.Limit,
		RunID:     r.runID,
		SessionID: report.SessionID,
	}); err != nil {
		return report, err
	}

	target, err := SearchURL(scrape)
	if err != nil {
		return report, err
	}
	if err := r.deps.Browser.Navigate(ctx, target); err != nil {
		return report, err
	}

	outcome, err := r.signIn(ctx)
	if err != nil {
		return report, err
	}
	if outcome == OutcomeCompleted {
		outcome, err = r.checkResults(ctx)
		if err != nil {
			return report, err
		}
	}
	if outcome != OutcomeCompleted {
		r.logger.Info("Run ended early", zap.String("outcome", string(outcome)))
		report.Outcome = outcome
		return report, nil
	}

	selector, err := r.preparePage(ctx)
	if err != nil {
		return report, err
	}

	var (
		screenshots []string
		fallback    []schemas.AdRecord
	)
	process := func(ctx context.Context, seq int, h schemas.ElementHandle) error {
		shot, rec, err := r.processAd(ctx, dir, seq, h)
		if err != nil {
			return fmt.Errorf("ad %d: %w", seq, err)
		}
		screenshots = append(screenshots, shot)
		fallback = append(fallback, rec)
		return nil
	}

	page := &listPage{b: r.deps.Browser, loadMoreXPath: scrape.LoadMoreXPath, logger: r.logger}
	l, err := loader.New(page, selector, scrape.Limit, process, r.logger)
	if err != nil {
		return report, err
	}
	res, err := l.Run(ctx)
	if err != nil {
		return report, err
	}
	report.Processed, report.Passes = res.Processed, res.Passes

	if r.cfg.Capture.FullPage {
		if err := r.captureFullPage(ctx, dir); err != nil {
			return report, err
		}
	}

	recs, err := r.correlate(ctx, dir, report)
	if err != nil {
		return report, err
	}
	if len(recs) == 0 && scrape.DOMFallback && len(fallback) > 0 {
		r.logger.Warn("No creative payloads were harvested; building records from container markup")
		recs = fallback
		report.Source = SourceDOM
	}
	recs = correlate.Assign(recs, screenshots, scrape.Limit)
	report.Records = recs

	if _, err := dir.WriteRecords(recs); err != nil {
		return report, err
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.PersistRecords(ctx, r.runID, recs); err != nil {
			return report, fmt.Errorf("failed to store records: %w", err)
		}
	}

	report.Outcome = OutcomeCompleted
	r.logger.Info("Run complete",
		zap.Int("records", len(recs)),
		zap.Int("processed", report.Processed),
		zap.String("source", report.Source),
		zap.String("dir", dir.Path),
	)
	return report, nil
}

// signIn fills the login form when credentials are configured and waits
// until the page shows either the login failure marker or the content root.
func (r *Runner) signIn(ctx context.Context) (Outcome, error) {
	b := r.deps.Browser
	auth := r.cfg.Auth
	scrape := r.cfg.Scrape

	if auth.Email != "" {
		email, ok, err := b.Query(ctx, emailSelector)
		if err != nil {
			return "", err
		}
		if ok {
			if err := r.fillLogin(ctx, email); err != nil {
				return "", err
			}
		} else {
			r.logger.Info("No login form on the page; continuing with the current session")
		}
	}

	outcome := OutcomeCompleted
	err := b.WaitFor(ctx, r.cfg.Network.NavigationTimeout, func(ctx context.Context) (bool, error) {
		if scrape.LoginFailureText != "" {
			marks, err := b.QueryXPath(ctx, schemas.ElementHandle{}, textXPath(scrape.LoginFailureText))
			if err != nil {
				return false, err
			}
			if len(marks) > 0 {
				outcome = OutcomeLoginFailed
				return true, nil
			}
		}
		_, ok, err := b.Query(ctx, scrape.ContentSelector)
		return ok, err
	})
	if err != nil {
		return "", fmt.Errorf("waiting for the archive to load: %w", err)
	}
	if outcome == OutcomeLoginFailed {
		r.logger.Warn("Login failed")
	} else {
		r.logger.Info("Archive loaded")
	}
	return outcome, nil
}

func (r *Runner) fillLogin(ctx context.Context, email schemas.ElementHandle) error {
	b := r.deps.Browser
	pass, ok, err := b.Query(ctx, passwordSelector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("login form has no password field: %w", ErrStructureNotFound)
	}
	submit, ok, err := b.Query(ctx, loginSelector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("login form has no submit control: %w", ErrStructureNotFound)
	}

	if err := b.Type(ctx, email, r.cfg.Auth.Email); err != nil {
		return fmt.Errorf("failed to enter email: %w", err)
	}
	if err := b.Type(ctx, pass, r.cfg.Auth.Password); err != nil {
		return fmt.Errorf("failed to enter password: %w", err)
	}
	if err := b.Click(ctx, submit); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	r.logger.Debug("Login form submitted")
	return b.WaitQuiescent(ctx)
}

func (r *Runner) checkResults(ctx context.Context) (Outcome, error) {
	b := r.deps.Browser
	if err := b.WaitQuiescent(ctx); err != nil {
		return "", err
	}
	if r.cfg.Scrape.NoResultsText == "" {
		return OutcomeCompleted, nil
	}
	marks, err := b.QueryXPath(ctx, schemas.ElementHandle{}, textXPath(r.cfg.Scrape.NoResultsText))
	if err != nil {
		return "", err
	}
	if len(marks) > 0 {
		r.logger.Info("Search returned no ads", zap.String("query", r.cfg.Scrape.Query))
		return OutcomeNoResults, nil
	}
	return OutcomeCompleted, nil
}

// preparePage pins the fixed navigation bar to the top of the document so
// it does not overlay screenshot tiles, and works out the container selector.
func (r *Runner) preparePage(ctx context.Context) (string, error) {
	b := r.deps.Browser
	scrape := r.cfg.Scrape

	content, ok, err := b.Query(ctx, scrape.ContentSelector)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("content root %q: %w", scrape.ContentSelector, ErrStructureNotFound)
	}

	nav, ok, err := dom.FindFirst(ctx, b, content, dom.PropertyEquals("position", "fixed"))
	if err != nil {
		return "", fmt.Errorf("failed to search for the navigation bar: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("fixed navigation bar: %w", ErrStructureNotFound)
	}
	if err := b.SetStyle(ctx, nav, map[string]string{"position": "absolute", "top": "0px"}); err != nil {
		return "", fmt.Errorf("failed to unpin navigation bar: %w", err)
	}

	first, ok, err := dom.FindFirst(ctx, b, content, dom.PropertyEquals("border", scrape.ContainerBorder))
	if err != nil {
		return "", fmt.Errorf("failed to search for an ad container: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("ad container with border %q: %w", scrape.ContainerBorder, ErrStructureNotFound)
	}
	class, _, err := b.Attribute(ctx, first, "class")
	if err != nil {
		return "", err
	}
	selector := dom.ClassSelector(class)
	if selector == "" {
		return "", fmt.Errorf("ad container has no class: %w", ErrStructureNotFound)
	}
	r.logger.Info("Found ad container class", zap.String("selector", selector))
	return selector, nil
}

// processAd captures one container and reads what it can from its markup.
func (r *Runner) processAd(ctx context.Context, dir *artifacts.Dir, seq int, h schemas.ElementHandle) (string, schemas.AdRecord, error) {
	b := r.deps.Browser

	box, err := b.BoundingBox(ctx, h)
	if err != nil {
		return "", schemas.AdRecord{}, err
	}
	img, err := r.stitcher.CaptureElement(ctx, b, box)
	if err != nil {
		return "", schemas.AdRecord{}, err
	}
	shot, err := dir.WriteScreenshot(seq, img)
	if err != nil {
		return "", schemas.AdRecord{}, err
	}

	html, err := b.OuterHTML(ctx, h)
	if err != nil {
		return "", schemas.AdRecord{}, err
	}
	ad, err := markup.Extract(html)
	if err != nil {
		r.logger.Warn("Could not read container markup", zap.Int("seq", seq), zap.Error(err))
	}
	rec := ad.Record(html)

	if err := r.openPerformance(ctx, h); err != nil {
		return "", schemas.AdRecord{}, err
	}

	r.logger.Debug("Processed ad", zap.Int("seq", seq), zap.String("screenshot", shot), zap.String("title", ad.Title))
	return shot, rec, nil
}

// openPerformance clicks the container's performance link so the page
// requests the insight payload, then dismisses the panel.
func (r *Runner) openPerformance(ctx context.Context, h schemas.ElementHandle) error {
	expr := r.cfg.Scrape.PerformanceXPath
	if expr == "" {
		return nil
	}
	b := r.deps.Browser
	links, err := b.QueryXPath(ctx, h, expr)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}
	if err := b.Click(ctx, links[0]); err != nil {
		return fmt.Errorf("failed to open performance panel: %w", err)
	}
	if err := b.WaitQuiescent(ctx); err != nil {
		return err
	}
	return b.PressKey(ctx, kb.Escape)
}

func (r *Runner) captureFullPage(ctx context.Context, dir *artifacts.Dir) error {
	height, err := r.deps.Browser.ScrollHeight(ctx)
	if err != nil {
		return err
	}
	img, err := r.stitcher.CaptureFullPage(ctx, r.deps.Browser, height)
	if err != nil {
		return fmt.Errorf("full page capture failed: %w", err)
	}
	_, err = dir.WriteFullPage(img)
	return err
}

func (r *Runner) correlate(ctx context.Context, dir *artifacts.Dir, report *Report) ([]schemas.AdRecord, error) {
	cookies, err := r.deps.Browser.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read session cookies: %w", err)
	}
	engine := correlate.NewEngine(r.deps.Replayer, dir, correlate.Options{
		Categories:    correlate.CategoriesFromMap(r.cfg.Replay.Categories),
		FramingPrefix: r.cfg.Replay.FramingPrefix,
	}, r.logger)

	res, err := engine.Correlate(ctx, r.deps.Browser.RequestLog(), cookies)
	if err != nil {
		return nil, err
	}
	report.Replayed = res.Replayed
	report.Source = SourceNetwork
	return res.Records, nil
}
