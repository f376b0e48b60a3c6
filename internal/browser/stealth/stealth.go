// Package stealth makes a chromedp-driven browser present a consistent,
// ordinary desktop profile to the pages it loads.
package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Timezone  string   `json:"timezone,omitempty"`
	Locale    string   `json:"locale,omitempty"`

	Width             int64   `json:"width"`
	Height            int64   `json:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor"`

	// ExtraHeaders are sent with every request alongside Accept-Language.
	ExtraHeaders map[string]string `json:"-"`
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:          "Win32",
	Languages:         []string{"en-US", "en"},
	Timezone:          "America/New_York",
	Locale:            "en-US",
	Width:             1280,
	Height:            900,
	DeviceScaleFactor: 1,
}

// PersonaFromConfig overlays the configured browser and network settings on DefaultPersona.
func PersonaFromConfig(b config.BrowserConfig, n config.NetworkConfig) Persona {
	p := DefaultPersona
	p.Languages = append([]string(nil), DefaultPersona.Languages...)

	if b.UserAgent != "" {
		p.UserAgent = b.UserAgent
	}
	if b.Timezone != "" {
		p.Timezone = b.Timezone
	}
	if b.Locale != "" {
		p.Locale = strings.ReplaceAll(b.Locale, "_", "-")
		if p.Languages[0] != p.Locale {
			base := strings.SplitN(p.Locale, "-", 2)[0]
			p.Languages = []string{p.Locale}
			if base != p.Locale {
				p.Languages = append(p.Languages, base)
			}
		}
	}
	if b.Viewport.Width > 0 && b.Viewport.Height > 0 {
		p.Width = int64(b.Viewport.Width)
		p.Height = int64(b.Viewport.Height)
	}
	if b.DeviceScaleFactor > 0 {
		p.DeviceScaleFactor = b.DeviceScaleFactor
	}
	if len(n.Headers) > 0 {
		p.ExtraHeaders = make(map[string]string, len(n.Headers))
		for k, v := range n.Headers {
			p.ExtraHeaders[k] = v
		}
	}
	return p
}

// AcceptLanguage formats the persona's languages with descending q-values,
// bottoming out at 0.7.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Languages[0])
	for i := 1; i < len(p.Languages); i++ {
		q := 1.0 - float64(i)*0.1
		if q < 0.7 {
			q = 0.7
		}
		fmt.Fprintf(&b, ",%s;q=%.1f", p.Languages[i], q)
	}
	return b.String()
}

// Headers returns the extra HTTP headers the browser should send.
func (p Persona) Headers() network.Headers {
	h := network.Headers{}
	for k, v := range p.ExtraHeaders {
		h[k] = v
	}
	if al := p.AcceptLanguage(); al != "" {
		h["Accept-Language"] = al
	}
	return h
}

// Script returns the evasion script with the persona prepended as a constant.
func (p Persona) Script() (string, error) {
	personaJSON, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal persona: %w", err)
	}
	return fmt.Sprintf("const ADARCHIVE_PERSONA = %s;\n%s", personaJSON, evasionsScript), nil
}

// Apply constructs the CDP actions that make the browser present p. It must
// run before the first navigation so the evasion script is in place.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := logger.Named("stealth")
	l.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
		zap.Float64("deviceScaleFactor", p.DeviceScaleFactor),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(strings.Join(p.Languages, ",")),

		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := p.Script()
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("stealth: failed to inject evasions script: %w", err)
			}
			return nil
		}),

		chromedp.ActionFunc(func(ctx context.Context) error {
			if p.Timezone == "" {
				return nil
			}
			if err := emulation.SetTimezoneOverride(p.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("stealth: failed to set timezone: %w", err)
			}
			return nil
		}),

		chromedp.ActionFunc(func(ctx context.Context) error {
			if p.Locale == "" {
				return nil
			}
			if err := emulation.SetLocaleOverride().WithLocale(p.Locale).Do(ctx); err != nil {
				return fmt.Errorf("stealth: failed to set locale: %w", err)
			}
			return nil
		}),

		chromedp.ActionFunc(func(ctx context.Context) error {
			if p.Width <= 0 || p.Height <= 0 {
				return nil
			}
			if err := emulation.SetDeviceMetricsOverride(p.Width, p.Height, p.DeviceScaleFactor, false).Do(ctx); err != nil {
				return fmt.Errorf("stealth: failed to set device metrics: %w", err)
			}
			return nil
		}),

		network.SetExtraHTTPHeaders(p.Headers()),
	}
}
