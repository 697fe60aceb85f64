// Package adaptive escalates through fetch strategies until a page
// yields real content. The static response is classified first and each
// escalation runs only when the classifier recommended it; a late
// headless pass catches pages that stayed thin regardless.
package adaptive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagesift/pagesift/internal/classify"
	"github.com/pagesift/pagesift/internal/fetch"
	"github.com/pagesift/pagesift/internal/heuristics"
	"github.com/pagesift/pagesift/internal/plugin"
	"github.com/pagesift/pagesift/internal/render"
)

// Strategy names recorded on results.
const (
	StrategyStatic             = "static"
	StrategyAMP                = "amp"
	StrategyMobileUA           = "mobile_ua"
	StrategyPlaywright         = "playwright"
	StrategyPlaywrightForced   = "playwright_forced"
	StrategyPlaywrightFallback = "playwright_fallback"
	StrategyStaticBestEffort   = "static_best_effort"
	StrategyPreFetched         = "pre_fetched"
)

// ErrNoRenderer is returned when a forced render is requested without a
// browser wired.
var ErrNoRenderer = errors.New("no renderer configured")

// mobileWinRatio: the mobile variant must beat static by a margin, since
// mobile pages repeat nav text that inflates raw counts slightly.
const mobileWinRatio = 1.3

const (
	fieldURL      = "url"
	fieldStrategy = "strategy"
	fieldWords    = "words"
)

// Result is the winning fetch.
type Result struct {
	HTML           string
	FinalURL       string
	Status         int
	Strategy       string
	Attempts       []string
	Classification classify.Result
}

// Fetcher runs the strategy chain. renderer may be nil when no browser
// is available; the headless steps are then skipped.
type Fetcher struct {
	client   *fetch.Client
	renderer render.Renderer
	registry *plugin.Registry
	actions  []render.PageAction
	log      *zerolog.Logger
}

// NewFetcher wires the chain.
func NewFetcher(client *fetch.Client, renderer render.Renderer, registry *plugin.Registry, log *zerolog.Logger) *Fetcher {
	return &Fetcher{client: client, renderer: renderer, registry: registry, log: log}
}

// SetPageActions installs scripted interactions run on every headless
// render.
func (f *Fetcher) SetPageActions(actions []render.PageAction) {
	f.actions = actions
}

// Fetch retrieves the page, escalating along the classifier's
// recommendation. It fails only when the initial static fetch fails.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*Result, error) {
	static, err := f.client.Get(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}

	cls := classify.Classify(static.Body, rawURL)

	best := &Result{
		HTML:           static.Body,
		FinalURL:       static.URL,
		Status:         static.Status,
		Strategy:       StrategyStatic,
		Attempts:       []string{StrategyStatic},
		Classification: cls,
	}

	staticWords := heuristics.CountWords(static.Body)
	bestWords := staticWords

	if cls.Strategy == classify.StrategyStatic && cls.BodyWordCount >= classify.MinContentWords {
		return best, nil
	}

	if cls.Strategy == classify.StrategyAMP && cls.AMPURL != "" {
		if ampURL := resolveAgainst(static.URL, cls.AMPURL); ampURL != "" {
			if resp, err := f.client.Get(ctx, ampURL, opts); err == nil {
				best.Attempts = append(best.Attempts, StrategyAMP)

				if wc := heuristics.CountWords(resp.Body); wc > staticWords {
					f.adopt(best, resp, StrategyAMP, wc)
					bestWords = wc
				}
			}
		}
	}

	if cls.Strategy == classify.StrategyMobileUA {
		mobileOpts := opts
		mobileOpts.UserAgent = fetch.MobileUserAgent

		if resp, err := f.client.Get(ctx, rawURL, mobileOpts); err == nil {
			best.Attempts = append(best.Attempts, StrategyMobileUA)

			if wc := heuristics.CountWords(resp.Body); float64(wc) > float64(staticWords)*mobileWinRatio {
				f.adopt(best, resp, StrategyMobileUA, wc)
				bestWords = wc
			}
		}
	}

	rendered := false

	if cls.Strategy == classify.StrategyPlaywright && f.renderer != nil {
		rendered = true

		if wc, html, ok := f.render(ctx, best, rawURL, StrategyPlaywright, opts); ok && wc > staticWords {
			f.adoptHTML(best, html, rawURL, StrategyPlaywright, wc)
			bestWords = wc
		}
	}

	// Headless fallback: whatever the recommendation, a page still thin
	// after the cheap strategies gets one render.
	if !rendered && best.Strategy != StrategyPlaywright &&
		bestWords < classify.MinContentWords && f.renderer != nil {
		if wc, html, ok := f.render(ctx, best, rawURL, StrategyPlaywrightFallback, opts); ok && wc > bestWords {
			f.adoptHTML(best, html, rawURL, StrategyPlaywrightFallback, wc)
			bestWords = wc
		}
	}

	f.applyPlugins(ctx, best, &bestWords, rawURL, opts.Timeout)

	if best.Strategy == StrategyStatic && bestWords < classify.MinContentWords {
		best.Strategy = StrategyStaticBestEffort
	}

	return best, nil
}

// FetchRendered bypasses the chain and goes straight to the headless
// browser.
func (f *Fetcher) FetchRendered(ctx context.Context, rawURL string, opts fetch.Options) (*Result, error) {
	if f.renderer == nil {
		return nil, ErrNoRenderer
	}

	html, err := f.renderer.Render(ctx, rawURL, f.renderOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}

	return &Result{
		HTML:           html,
		FinalURL:       rawURL,
		Status:         http.StatusOK,
		Strategy:       StrategyPlaywrightForced,
		Attempts:       []string{StrategyPlaywrightForced},
		Classification: classify.Classify(html, rawURL),
	}, nil
}

// render runs one headless attempt, recording it on the attempt list.
func (f *Fetcher) render(ctx context.Context, best *Result, rawURL, strategy string, opts fetch.Options) (int, string, bool) {
	best.Attempts = append(best.Attempts, strategy)

	html, err := f.renderer.Render(ctx, rawURL, f.renderOptions(opts))
	if err != nil {
		return 0, "", false
	}

	return heuristics.CountWords(html), html, true
}

func (f *Fetcher) renderOptions(opts fetch.Options) render.Options {
	return render.Options{
		UserAgent:     opts.UserAgent,
		Headers:       opts.Headers,
		Timeout:       opts.Timeout,
		ExpandContent: true,
		PageActions:   f.actions,
	}
}

func (f *Fetcher) adopt(best *Result, resp *fetch.Response, strategy string, words int) {
	best.HTML = resp.Body
	best.FinalURL = resp.URL
	best.Status = resp.Status
	best.Strategy = strategy

	f.log.Debug().
		Str(fieldURL, resp.URL).
		Str(fieldStrategy, strategy).
		Int(fieldWords, words).
		Msg("Strategy adopted")
}

func (f *Fetcher) adoptHTML(best *Result, html, rawURL, strategy string, words int) {
	best.HTML = html
	best.FinalURL = rawURL
	best.Strategy = strategy

	f.log.Debug().
		Str(fieldURL, rawURL).
		Str(fieldStrategy, strategy).
		Int(fieldWords, words).
		Msg("Strategy adopted")
}

// applyPlugins consults registered fetch strategies in registration
// order; the first one that recovers more text wins.
func (f *Fetcher) applyPlugins(ctx context.Context, best *Result, bestWords *int, rawURL string, timeout time.Duration) {
	if f.registry == nil {
		return
	}

	signals := map[string]any{
		"kind":            best.Classification.Kind,
		"frameworks":      best.Classification.Frameworks,
		"body_word_count": best.Classification.BodyWordCount,
	}

	for _, strategy := range f.registry.FetchStrategies() {
		if !strategy.CanHandle(rawURL, signals) {
			continue
		}

		html, err := strategy.Fetch(ctx, rawURL, timeout)
		if err != nil {
			continue
		}

		best.Attempts = append(best.Attempts, strategy.Name())

		if wc := heuristics.CountWords(html); wc > *bestWords {
			best.HTML = html
			best.Strategy = strategy.Name()
			*bestWords = wc

			return
		}
	}
}

func resolveAgainst(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return base.ResolveReference(ref).String()
}
