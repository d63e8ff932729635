package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/slopeharvest/config"
	"github.com/use-agent/slopeharvest/models"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// RodClient launches one headless browser and opens per-agent sessions on it.
type RodClient struct {
	browser    *rod.Browser
	browserCfg config.BrowserConfig
	fetchCfg   config.FetchConfig
}

// NewRodClient launches the headless browser shared by all sessions.
func NewRodClient(browserCfg config.BrowserConfig, fetchCfg config.FetchConfig) (*RodClient, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.Proxy != "" {
		l = l.Proxy(browserCfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewHarvestError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewHarvestError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	return &RodClient{
		browser:    browser,
		browserCfg: browserCfg,
		fetchCfg:   fetchCfg,
	}, nil
}

// OpenSession creates one browser tab configured for harvesting: stealth JS,
// browser-like headers, and resource blocking are installed before any
// navigation so they apply to every fetch on the session.
func (c *RodClient) OpenSession(ctx context.Context) (Session, error) {
	page, err := c.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewHarvestError(
			models.ErrCodeBrowserCrash,
			"failed to create page",
			err,
		)
	}

	if c.fetchCfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}

	_ = (proto.NetworkSetUserAgentOverride{UserAgent: userAgent}).Call(page)
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{
			"Accept-Language": "en-US,en;q=0.9",
		}),
	}.Call(page)

	router := setupHijack(page, c.fetchCfg.BlockedResourceTypes)

	return &rodSession{page: page, router: router}, nil
}

// Close kills the browser process. Call on shutdown to prevent zombie
// Chrome processes; sessions must be closed first.
func (c *RodClient) Close() error {
	slog.Info("render client shutting down: closing browser")
	return c.browser.Close()
}

// rodSession wraps one tab. Owned by a single agent, never shared.
type rodSession struct {
	page   *rod.Page
	router *rod.HijackRouter
}

// Render navigates the session's tab and extracts the rendered document.
//
// Lifecycle:
//
//	1. Bind context      – propagate the caller's deadline to all Rod calls
//	2. Navigate          – triggers page load
//	3. Wait              – DOM stable (the portal is an SPA; no load event fires
//	                       for the data itself)
//	4. Extract           – page.HTML() + document.title + final URL
//
// The tab is parked on about:blank afterwards so the SPA's DOM does not
// accumulate across identifiers.
func (s *rodSession) Render(ctx context.Context, url string) (*RenderResult, error) {
	p := s.page.Context(ctx)

	if err := p.Navigate(url); err != nil {
		return nil, categorizeError(err, "navigation to target URL failed")
	}

	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"url", url,
			"error", stableErr,
		)
	}

	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, categorizeError(htmlErr, "failed to extract page HTML")
	}

	title := evalStringOrEmpty(p, `() => document.title`)
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = url
	}

	// Park the tab; uses the ORIGINAL page reference so cleanup succeeds
	// even when the request context has already expired.
	if navErr := s.page.Navigate("about:blank"); navErr != nil {
		slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
	}

	return &RenderResult{
		HTML:     rawHTML,
		Title:    title,
		FinalURL: finalURL,
	}, nil
}

// Close stops the hijack router and closes the tab. Idempotent enough for
// defer-on-every-path use.
func (s *rodSession) Close() error {
	if s.router != nil {
		_ = s.router.Stop()
		s.router = nil
	}
	return s.page.Close()
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into typed HarvestErrors so retry logic
// and failure records can classify them.
func categorizeError(err error, msg string) *models.HarvestError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewHarvestError(models.ErrCodeNavTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewHarvestError(models.ErrCodeNavTimeout, "render canceled", err)
	default:
		return models.NewHarvestError(models.ErrCodeNavigation, msg, err)
	}
}
