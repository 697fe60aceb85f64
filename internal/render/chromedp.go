package render

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

const (
	minRenderTimeout  = 60 * time.Second
	networkIdleWindow = 1500 * time.Millisecond
	networkIdleWait   = 12 * time.Second
	bodyTextWait      = 12 * time.Second
	postExpandIdle    = 6 * time.Second
	settleFallback    = 1500 * time.Millisecond
	minBodyTokens     = 50
	maxPooledBrowsers = 2

	fieldURL   = "url"
	fieldPhase = "phase"
)

// ChromeRenderer renders pages with chromedp. Browser processes are
// pooled per (user agent, proxy, extra headers) identity so repeated
// renders against the same site reuse a warm browser. The pool holds at
// most maxPooledBrowsers entries; the least recently used identity is
// evicted when a new one arrives.
type ChromeRenderer struct {
	mu    sync.Mutex
	pool  map[string]*pooledBrowser
	order []string
	log   *zerolog.Logger
	flags []chromedp.ExecAllocatorOption
}

type pooledBrowser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewChromeRenderer builds a renderer. Extra exec allocator flags may be
// supplied for sandboxed environments.
func NewChromeRenderer(log *zerolog.Logger, flags ...chromedp.ExecAllocatorOption) *ChromeRenderer {
	return &ChromeRenderer{
		pool:  make(map[string]*pooledBrowser),
		log:   log,
		flags: flags,
	}
}

// Render loads the page and waits through four settle phases: document
// load, network idle, visible body text, then optional content
// expansion. Every phase is soft; the capture happens regardless so a
// slow page still yields whatever rendered.
func (r *ChromeRenderer) Render(ctx context.Context, url string, opts Options) (string, error) {
	timeout := opts.Timeout
	if timeout < minRenderTimeout {
		timeout = minRenderTimeout
	}

	browser := r.browserFor(opts)

	tabCtx, tabCancel := chromedp.NewContext(browser.allocCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	if len(opts.Headers) > 0 {
		headers := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			headers[k] = v
		}

		if err := chromedp.Run(runCtx, network.Enable(), network.SetExtraHTTPHeaders(headers)); err != nil {
			return "", fmt.Errorf("set headers: %w", err)
		}
	}

	// Phase 1: navigate. A timeout here is tolerated; heavy pages often
	// fire load late while the DOM is already usable.
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil && runCtx.Err() == nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}

	r.softPhase(runCtx, url, "ready", 10*time.Second, chromedp.WaitReady("body", chromedp.ByQuery))

	// Phase 2: network idle.
	r.softPhase(runCtx, url, "network_idle", networkIdleWait, waitForNetworkIdle(networkIdleWindow))

	// Phase 3: wait for real text in the body.
	r.softPhase(runCtx, url, "body_text", bodyTextWait, waitForBodyText(minBodyTokens))

	// Phase 4: expand collapsed content, then let triggered requests
	// finish.
	if opts.ExpandContent {
		r.softPhase(runCtx, url, "expand", 10*time.Second, expandCollapsed())

		if err := runWithTimeout(runCtx, postExpandIdle, waitForNetworkIdle(networkIdleWindow)); err != nil {
			time.Sleep(settleFallback)
		}
	}

	if len(opts.PageActions) > 0 {
		r.runPageActions(runCtx, url, opts.PageActions)

		if err := runWithTimeout(runCtx, postExpandIdle, waitForNetworkIdle(networkIdleWindow)); err != nil {
			time.Sleep(settleFallback)
		}
	}

	var html string

	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture %s: %w", url, err)
	}

	if strings.TrimSpace(html) == "" || html == "<html><head></head><body></body></html>" {
		return "", ErrEmptyDocument
	}

	return html, nil
}

// runPageActions executes scripted interactions in order. A failed
// action is logged and skipped.
func (r *ChromeRenderer) runPageActions(ctx context.Context, url string, actions []PageAction) {
	for _, a := range actions {
		var err error

		switch a.Type {
		case ActionClick:
			err = runWithTimeout(ctx, 5*time.Second, chromedp.Click(a.Selector, chromedp.ByQuery))
		case ActionScroll:
			err = runWithTimeout(ctx, 5*time.Second,
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
		case ActionWait:
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(time.Duration(a.Duration)):
			}
		case ActionEvaluate:
			err = runWithTimeout(ctx, 10*time.Second, chromedp.Evaluate(a.Script, nil))
		default:
			r.log.Warn().Str(fieldURL, url).Str("action", a.Type).Msg("Unknown page action type")

			continue
		}

		if err != nil {
			r.log.Debug().Str(fieldURL, url).Str("action", a.Type).Err(err).Msg("Page action failed")
		}
	}
}

func (r *ChromeRenderer) softPhase(ctx context.Context, url, phase string, timeout time.Duration, action chromedp.Action) {
	if err := runWithTimeout(ctx, timeout, action); err != nil {
		r.log.Debug().
			Str(fieldURL, url).
			Str(fieldPhase, phase).
			Err(err).
			Msg("Render phase timed out")
	}
}

func runWithTimeout(parent context.Context, timeout time.Duration, action chromedp.Action) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	return chromedp.Run(ctx, action)
}

// browserFor returns the pooled browser for the render identity,
// creating it on first use and evicting the least recently used
// identity when the pool is full.
func (r *ChromeRenderer) browserFor(opts Options) *pooledBrowser {
	key := poolKey(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.pool[key]; ok {
		r.touch(key)

		return b
	}

	if len(r.pool) >= maxPooledBrowsers {
		r.evictOldest()
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}

	allocOpts = append(allocOpts, r.flags...)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	b := &pooledBrowser{allocCtx: allocCtx, allocCancel: allocCancel}
	r.pool[key] = b
	r.order = append(r.order, key)

	return b
}

// touch moves a pool key to the most-recently-used position.
func (r *ChromeRenderer) touch(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(append(r.order[:i:i], r.order[i+1:]...), key)

			return
		}
	}
}

func (r *ChromeRenderer) evictOldest() {
	if len(r.order) == 0 {
		return
	}

	oldest := r.order[0]
	r.order = r.order[1:]

	if b, ok := r.pool[oldest]; ok {
		b.allocCancel()
		delete(r.pool, oldest)
	}
}

func poolKey(opts Options) string {
	keys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var sb strings.Builder

	sb.WriteString(opts.UserAgent)
	sb.WriteByte('|')
	sb.WriteString(opts.Proxy)

	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(opts.Headers[k])
	}

	return sb.String()
}

// Close tears down every pooled browser.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, b := range r.pool {
		b.allocCancel()
		delete(r.pool, key)
	}

	r.order = nil

	return nil
}

// waitForNetworkIdle resolves once no resource activity has been seen
// for the given window, observed from inside the page.
func waitForNetworkIdle(window time.Duration) chromedp.ActionFunc {
	js := `(function(waitMs){
  return new Promise((resolve) => {
    if (!('PerformanceObserver' in window)) { setTimeout(resolve, waitMs); return; }
    let last = Date.now();
    const obs = new PerformanceObserver(() => { last = Date.now(); });
    try { obs.observe({entryTypes: ['resource', 'navigation']}); } catch (e) {}
    const tick = () => {
      if (Date.now() - last >= waitMs) { try { obs.disconnect(); } catch (e) {} resolve(); return; }
      setTimeout(tick, 100);
    };
    tick();
  });
})(%d);`

	return func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(js, int(window.Milliseconds())), nil,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}))
	}
}

// waitForBodyText polls until the body holds at least minTokens words.
func waitForBodyText(minTokens int) chromedp.ActionFunc {
	js := fmt.Sprintf(
		`document.body && document.body.innerText.split(/\s+/).filter(Boolean).length > %d`,
		minTokens,
	)

	return func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Poll(js, nil, chromedp.WithPollingInterval(200*time.Millisecond)))
	}
}

// expandCollapsed opens the common collapsed-content patterns: aria
// accordions, details elements, material expansion panels and Bootstrap
// collapse toggles.
func expandCollapsed() chromedp.ActionFunc {
	js := `(function(){
  document.querySelectorAll('[aria-expanded="false"]').forEach(el => { try { el.click(); } catch (e) {} });
  document.querySelectorAll('details:not([open])').forEach(el => { el.open = true; });
  document.querySelectorAll('mat-expansion-panel-header').forEach(el => { try { el.click(); } catch (e) {} });
  document.querySelectorAll('.collapse:not(.show)').forEach(el => { el.classList.add('show'); });
  document.querySelectorAll('[data-bs-toggle="collapse"], [data-toggle="collapse"]').forEach(el => { try { el.click(); } catch (e) {} });
  return true;
})();`

	return func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Evaluate(js, nil))
	}
}
