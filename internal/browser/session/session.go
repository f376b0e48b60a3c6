// Package session owns the chromedp browser and exposes the narrow set of
// page operations the archive pipeline needs.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
	"github.com/xkilldash9x/adarchive/internal/browser/stealth"
	"github.com/xkilldash9x/adarchive/internal/capture"
	"github.com/xkilldash9x/adarchive/internal/config"
)

var (
	// ErrWaitTimeout is returned when a bounded wait expires before its condition holds.
	ErrWaitTimeout = errors.New("timed out waiting for the page")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("browser session is closed")
)

const objectGroup = "adarchive"

// Probe is a condition polled by WaitFor.
type Probe func(ctx context.Context) (bool, error)

// Session is a single chromedp tab plus the browser that hosts it.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    config.NetworkConfig

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	harvester *Harvester

	closeOnce sync.Once
}

var _ ActionExecutor = (*Session)(nil)

// New starts (or attaches to) a browser, opens a tab, applies the stealth
// persona and starts recording requests. The caller must Close the session.
func New(ctx context.Context, browserCfg config.BrowserConfig, netCfg config.NetworkConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	log := logger.Named("session").With(zap.String("session_id", id))

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if browserCfg.RemoteURL != "" {
		log.Info("Attaching to remote browser", zap.String("url", browserCfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, browserCfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(browserCfg, netCfg)...)
	}

	sugar := log.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	s := &Session{
		id:          id,
		logger:      log,
		cfg:         netCfg,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
	}
	s.harvester = NewHarvester(tabCtx, log, s)
	s.harvester.Start(tabCtx)

	persona := stealth.PersonaFromConfig(browserCfg, netCfg)
	initCtx, initCancel := context.WithTimeout(context.Background(), sessionInitTimeout(netCfg))
	defer initCancel()
	if err := s.RunActions(initCtx, network.Enable(), stealth.Apply(persona, log)); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}

	log.Info("Browser session ready",
		zap.Bool("headless", browserCfg.Headless),
		zap.Int64("viewport_width", persona.Width),
		zap.Int64("viewport_height", persona.Height),
		zap.Float64("device_scale_factor", persona.DeviceScaleFactor),
	)
	return s, nil
}

func sessionInitTimeout(n config.NetworkConfig) time.Duration {
	if n.NavigationTimeout > 0 {
		return n.NavigationTimeout
	}
	return 60 * time.Second
}

func allocatorOptions(b config.BrowserConfig, n config.NetworkConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", b.Headless))
	if b.Viewport.Width > 0 && b.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(b.Viewport.Width, b.Viewport.Height))
	}
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}
	if b.IgnoreTLSErrors || n.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if n.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(n.ProxyURL))
	}
	for _, arg := range b.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// RunActions runs actions on the tab, bounded by both ctx and the session lifetime.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	combined, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

// RunBackgroundActions runs actions bounded only by ctx.
func (s *Session) RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error {
	combined, cancel := CombineContext(Detach(s.ctx), ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

// Close stops the harvester and shuts the tab and browser down. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		s.harvester.Stop(stopCtx)

		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("Browser did not shut down cleanly", zap.Error(err))
		}
		s.cancel()
		s.allocCancel()
		s.logger.Info("Browser session closed")
	})
}

// -- Navigation & waiting --

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, sessionInitTimeout(s.cfg))
	defer cancel()
	s.logger.Debug("Navigating", zap.String("url", url))
	if err := s.RunActions(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// WaitFor polls probe until it reports true or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, timeout time.Duration, probe Probe) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()
	for {
		ok, err := probe(waitCtx)
		if err != nil && waitCtx.Err() == nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// WaitQuiescent waits until the network has been idle and the document
// height has not changed for the configured quiet period.
func (s *Session) WaitQuiescent(ctx context.Context) error {
	quiet := s.cfg.QuietPeriod
	if quiet <= 0 {
		quiet = 1500 * time.Millisecond
	}
	timeout := s.cfg.SettleTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		if err := s.harvester.WaitNetworkIdle(waitCtx, quiet); err != nil {
			return s.waitErr(ctx, err)
		}
		before, err := s.ScrollHeight(waitCtx)
		if err != nil {
			return s.waitErr(ctx, err)
		}
		timer := time.NewTimer(quiet)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return s.waitErr(ctx, waitCtx.Err())
		case <-timer.C:
		}
		after, err := s.ScrollHeight(waitCtx)
		if err != nil {
			return s.waitErr(ctx, err)
		}
		if after == before && s.harvester.Inflight() == 0 {
			return nil
		}
		s.logger.Debug("Page still settling", zap.Float64("height_before", before), zap.Float64("height_after", after))
	}
}

func (s *Session) waitErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrWaitTimeout
	}
	return err
}

func (s *Session) pollInterval() time.Duration {
	if s.cfg.PollInterval > 0 {
		return s.cfg.PollInterval
	}
	return 250 * time.Millisecond
}

// -- Element lookup --

// Query returns the first element matching a CSS selector.
func (s *Session) Query(ctx context.Context, selector string) (schemas.ElementHandle, bool, error) {
	all, err := s.QueryAll(ctx, selector)
	if err != nil || len(all) == 0 {
		return schemas.ElementHandle{}, false, err
	}
	return all[0], true, nil
}

// QueryAll returns every element matching a CSS selector in document order.
func (s *Session) QueryAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	return s.collect(ctx, schemas.ElementHandle{}, fmt.Sprintf("this.querySelectorAll(%s)", jsonEncode(selector)))
}

// QueryXPath evaluates expr relative to scope (the document when scope is zero).
func (s *Session) QueryXPath(ctx context.Context, scope schemas.ElementHandle, expr string) ([]schemas.ElementHandle, error) {
	list := fmt.Sprintf(`(function(ctx){
		var snap = document.evaluate(%s, ctx, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		var out = [];
		for (var i = 0; i < snap.snapshotLength; i++) { out.push(snap.snapshotItem(i)); }
		return out;
	})(this)`, jsonEncode(expr))
	return s.collect(ctx, scope, list)
}

// Children returns the direct div children of h in document order.
func (s *Session) Children(ctx context.Context, h schemas.ElementHandle) ([]schemas.ElementHandle, error) {
	return s.collect(ctx, h, `Array.prototype.filter.call(this.children, function(c){ return c.tagName === 'DIV'; })`)
}

// collect evaluates list, a JavaScript expression over `this` yielding an
// array-like of nodes, and resolves each node to a handle.
func (s *Session) collect(ctx context.Context, scope schemas.ElementHandle, list string) ([]schemas.ElementHandle, error) {
	var out []schemas.ElementHandle
	err := s.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		defer func() { _ = runtime.ReleaseObjectGroup(objectGroup).Do(c) }()

		scopeID, err := resolveObject(c, scope)
		if err != nil {
			return err
		}

		countObj, exc, err := runtime.CallFunctionOn(fmt.Sprintf("function(){ return (%s).length; }", list)).
			WithObjectID(scopeID).
			WithReturnByValue(true).
			Do(c)
		if err = scriptErr(err, exc); err != nil {
			return err
		}
		var n int
		if err := json.Unmarshal(countObj.Value, &n); err != nil {
			return fmt.Errorf("unexpected node count %s: %w", countObj.Value, err)
		}

		out = make([]schemas.ElementHandle, 0, n)
		for i := 0; i < n; i++ {
			obj, exc, err := runtime.CallFunctionOn(fmt.Sprintf("function(){ return (%s)[%d]; }", list, i)).
				WithObjectID(scopeID).
				WithObjectGroup(objectGroup).
				Do(c)
			if err = scriptErr(err, exc); err != nil {
				return err
			}
			if obj.ObjectID == "" {
				continue
			}
			node, err := dom.DescribeNode().WithObjectID(obj.ObjectID).Do(c)
			if err != nil {
				return fmt.Errorf("failed to describe node %d: %w", i, err)
			}
			out = append(out, schemas.ElementHandle{BackendNodeID: int64(node.BackendNodeID)})
		}
		return nil
	}))
	return out, err
}

// resolveObject returns a remote object id for h, or for the document when h is zero.
func resolveObject(ctx context.Context, h schemas.ElementHandle) (runtime.RemoteObjectID, error) {
	if h.IsZero() {
		obj, exc, err := runtime.Evaluate("document").WithObjectGroup(objectGroup).Do(ctx)
		if err = scriptErr(err, exc); err != nil {
			return "", err
		}
		return obj.ObjectID, nil
	}
	obj, err := dom.ResolveNode().
		WithBackendNodeID(cdp.BackendNodeID(h.BackendNodeID)).
		WithObjectGroup(objectGroup).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("element %d is no longer attached: %w", h.BackendNodeID, err)
	}
	return obj.ObjectID, nil
}

// callOn runs fn with `this` bound to h and decodes its return value into out (if non-nil).
func (s *Session) callOn(ctx context.Context, h schemas.ElementHandle, fn string, out interface{}) error {
	return s.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		defer func() { _ = runtime.ReleaseObjectGroup(objectGroup).Do(c) }()

		id, err := resolveObject(c, h)
		if err != nil {
			return err
		}
		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(id).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(c)
		if err = scriptErr(err, exc); err != nil {
			return err
		}
		if out == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal(res.Value, out)
	}))
}

func scriptErr(err error, exc *runtime.ExceptionDetails) error {
	if err != nil {
		return err
	}
	if exc != nil {
		return fmt.Errorf("script raised: %s", exc.Error())
	}
	return nil
}

// -- Element inspection --

// ComputedStyle returns the resolved value of property on h. Shorthands such
// as "border" resolve to their serialized form.
func (s *Session) ComputedStyle(ctx context.Context, h schemas.ElementHandle, property string) (string, error) {
	var v string
	err := s.callOn(ctx, h, fmt.Sprintf("function(){ return getComputedStyle(this).getPropertyValue(%s); }", jsonEncode(property)), &v)
	return v, err
}

// Attribute returns the named attribute of h and whether it is present.
func (s *Session) Attribute(ctx context.Context, h schemas.ElementHandle, name string) (string, bool, error) {
	var v *string
	if err := s.callOn(ctx, h, fmt.Sprintf("function(){ return this.getAttribute(%s); }", jsonEncode(name)), &v); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// OuterHTML returns the serialized markup of h.
func (s *Session) OuterHTML(ctx context.Context, h schemas.ElementHandle) (string, error) {
	var html string
	err := s.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		html, err = dom.GetOuterHTML().WithBackendNodeID(cdp.BackendNodeID(h.BackendNodeID)).Do(c)
		return err
	}))
	return html, err
}

// BoundingBox returns the box of h relative to the top of the document.
func (s *Session) BoundingBox(ctx context.Context, h schemas.ElementHandle) (schemas.Rect, error) {
	var r schemas.Rect
	err := s.callOn(ctx, h, `function(){
		var b = this.getBoundingClientRect();
		return {top: b.top + window.scrollY, left: b.left + window.scrollX, width: b.width, height: b.height};
	}`, &r)
	return r, err
}

// -- Mutation & input --

// Evaluate runs a JavaScript expression in the page and decodes its value into out.
func (s *Session) Evaluate(ctx context.Context, expr string, out interface{}) error {
	return s.RunActions(ctx, chromedp.Evaluate(expr, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

// SetStyle sets inline style properties on h.
func (s *Session) SetStyle(ctx context.Context, h schemas.ElementHandle, props map[string]string) error {
	return s.callOn(ctx, h, fmt.Sprintf(`function(){
		var p = %s;
		for (var k in p) { this.style.setProperty(k, p[k]); }
		return true;
	}`, jsonEncode(props)), nil)
}

// ExtendBottomMargin pads below h by one viewport height.
func (s *Session) ExtendBottomMargin(ctx context.Context, h schemas.ElementHandle) error {
	return s.callOn(ctx, h, `function(){ this.style.marginBottom = window.innerHeight + 'px'; return true; }`, nil)
}

// Click scrolls h into view and clicks it.
func (s *Session) Click(ctx context.Context, h schemas.ElementHandle) error {
	return s.callOn(ctx, h, `function(){ this.scrollIntoView({block: 'center'}); this.click(); return true; }`, nil)
}

// Type focuses h and inserts text as if typed.
func (s *Session) Type(ctx context.Context, h schemas.ElementHandle, text string) error {
	return s.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := dom.Focus().WithBackendNodeID(cdp.BackendNodeID(h.BackendNodeID)).Do(c); err != nil {
			return fmt.Errorf("failed to focus element: %w", err)
		}
		return input.InsertText(text).Do(c)
	}))
}

// PressKey sends a key to the focused element (see chromedp/kb for names).
func (s *Session) PressKey(ctx context.Context, key string) error {
	return s.RunActions(ctx, chromedp.KeyEvent(key))
}

// -- Viewport --

// ScrollTo scrolls the window to y and waits for the next frame.
func (s *Session) ScrollTo(ctx context.Context, y float64) error {
	var done bool
	return s.Evaluate(ctx, fmt.Sprintf(`new Promise(function(r){
		window.scrollTo(0, %s);
		requestAnimationFrame(function(){ requestAnimationFrame(function(){ r(true); }); });
	})`, formatFloat(y)), &done)
}

// Metrics returns the viewport size in CSS pixels.
func (s *Session) Metrics(ctx context.Context) (capture.Metrics, error) {
	var raw struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := s.Evaluate(ctx, `({width: window.innerWidth, height: window.innerHeight})`, &raw); err != nil {
		return capture.Metrics{}, err
	}
	return capture.Metrics{Width: raw.Width, Height: raw.Height}, nil
}

// ScrollHeight returns the document's scrollable height in CSS pixels.
func (s *Session) ScrollHeight(ctx context.Context) (float64, error) {
	var h float64
	err := s.Evaluate(ctx, `Math.max(document.documentElement.scrollHeight, document.body ? document.body.scrollHeight : 0)`, &h)
	return h, err
}

// CaptureViewport screenshots the visible viewport.
func (s *Session) CaptureViewport(ctx context.Context) (image.Image, error) {
	var buf []byte
	err := s.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return capture.DecodePNG(bytes.NewReader(buf))
}

// -- Network --

// Cookies returns the browser's cookies for use outside the browser.
func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var cookies []*network.Cookie
	err := s.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return convertCookies(cookies), nil
}

// RequestLog returns every request the tab has sent so far, in harvest order.
func (s *Session) RequestLog() []schemas.NetworkLogEntry {
	return s.harvester.Entries()
}

func convertCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		switch c.SameSite {
		case network.CookieSameSiteStrict:
			hc.SameSite = http.SameSiteStrictMode
		case network.CookieSameSiteLax:
			hc.SameSite = http.SameSiteLaxMode
		case network.CookieSameSiteNone:
			hc.SameSite = http.SameSiteNoneMode
		}
		out = append(out, hc)
	}
	return out
}

func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `null`
	}
	return string(b)
}

func formatFloat(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
