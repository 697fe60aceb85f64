// Package crawler walks one site breadth-first within a page budget,
// seeding its frontier from sitemaps and feeds and writing extracted
// articles as JSON files plus an index.
//
// Traversal and extraction are gated separately: an include pattern
// keeps a page out of the output but its links are still followed, and
// every enqueued page consumes a budget slot whether or not it yields
// an article.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pagesift/pagesift/internal/blockdetect"
	"github.com/pagesift/pagesift/internal/content"
	"github.com/pagesift/pagesift/internal/feed"
	"github.com/pagesift/pagesift/internal/fetch"
	"github.com/pagesift/pagesift/internal/heuristics"
	"github.com/pagesift/pagesift/internal/platform/observability"
	"github.com/pagesift/pagesift/internal/query"
	"github.com/pagesift/pagesift/internal/render"
	"github.com/pagesift/pagesift/internal/urlnorm"
)

// Skip log reasons.
const (
	skipNonHTML         = "non_html_content_type"
	skipEmptyExtraction = "extraction_returned_empty"
	skipIncludeMismatch = "include_regex_mismatch"
	skipLowScore        = "low_article_score"
	skipDuplicate       = "duplicate_content"
	skipRobots          = "robots_disallowed"
	skipNotModified     = "not_modified_304"
	skipRenderFailed    = "render_failed"
)

// Run end reasons recorded in telemetry.
const (
	reasonCompleted = "completed"
	reasonMaxPages  = "max_pages_reached"
	reasonCanceled  = "canceled"
)

// An article under this many words is treated as an empty extraction.
const minArticleWords = 10

// Fetch labels for metrics.
const (
	viaStatic   = "static"
	viaHeadless = "playwright"
)

const (
	fieldURL    = "url"
	fieldDepth  = "depth"
	fieldSlug   = "slug"
	fieldReason = "reason"
	fieldCount  = "count"
	fieldRunID  = "run_id"
)

// Link URL patterns never worth visiting: build artifacts, CDN plumbing
// and CMS endpoints that cannot hold article content.
var hardExcludes = []*regexp.Regexp{
	regexp.MustCompile(`/_next/static/`),
	regexp.MustCompile(`/cdn-cgi/`),
	regexp.MustCompile(`/wp-content/uploads/`),
	regexp.MustCompile(`/__webpack`),
	regexp.MustCompile(`/wp-json/`),
	regexp.MustCompile(`/wp-admin/`),
	regexp.MustCompile(`/xmlrpc\.php`),
	regexp.MustCompile(`\.amp(\?|$)`),
}

// Crawler runs one bounded crawl over a configured domain set.
type Crawler struct {
	cfg      *Config
	engine   *query.Engine
	client   *fetch.Client
	renderer render.Renderer
	frontier *frontier
	store    *store
	robots   *robotsGate
	limiter  *rate.Limiter
	include  *regexp.Regexp
	exclude  *regexp.Regexp
	tel      *telemetry
	minConf  float64
	log      *zerolog.Logger
}

// New builds a crawler. The engine handles extraction; the client does
// the raw fetching so headers and status stay visible to the crawl
// loop. renderer may be nil, in which case headless render modes
// degrade to static fetching.
func New(cfg *Config, engine *query.Engine, client *fetch.Client, renderer render.Renderer, log *zerolog.Logger) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var include, exclude *regexp.Regexp
	if cfg.IncludePattern != "" {
		include = regexp.MustCompile(cfg.IncludePattern)
	}

	if cfg.ExcludePattern != "" {
		exclude = regexp.MustCompile(cfg.ExcludePattern)
	}

	st, err := newStore(cfg.OutputDir, cfg.Resume)
	if err != nil {
		return nil, err
	}

	agent := cfg.UserAgent
	if agent == "" {
		agent = fetch.DefaultUserAgent
	}

	c := &Crawler{
		cfg:      cfg,
		engine:   engine,
		client:   client,
		renderer: renderer,
		frontier: newFrontier(cfg.MaxPages),
		store:    st,
		robots:   newRobotsGate(client, agent, cfg.RespectRobots, log),
		limiter:  rate.NewLimiter(rate.Every(cfg.Delay), 1),
		include:  include,
		exclude:  exclude,
		tel:      newTelemetry(),
		minConf:  heuristics.Confidence(heuristics.ArticleScoreThreshold),
		log:      log,
	}

	if cfg.Resume {
		seen := st.seenURLs()
		for _, u := range seen {
			c.frontier.markSeen(u)
		}

		log.Info().Int(fieldCount, len(seen)).Msg("Resuming crawl with seen URLs preloaded")
	}

	return c, nil
}

// Run crawls until the frontier drains, the page budget is spent or the
// context is canceled. Outputs and telemetry are flushed before return.
func (c *Crawler) Run(ctx context.Context) error {
	c.log.Info().
		Str(fieldRunID, c.tel.runID).
		Str(fieldURL, c.cfg.StartURL).
		Int("max_pages", c.cfg.MaxPages).
		Int("max_depth", c.cfg.MaxDepth).
		Msg("Starting crawl")

	c.seed()

	reason := reasonCompleted

	for {
		if ctx.Err() != nil {
			reason = reasonCanceled

			break
		}

		batch := c.nextBatch()
		if len(batch) == 0 {
			if c.frontier.exhausted() {
				reason = reasonMaxPages
			}

			break
		}

		g, gctx := errgroup.WithContext(ctx)

		for _, it := range batch {
			g.Go(func() error {
				c.process(gctx, it)

				return nil
			})
		}

		_ = g.Wait()
	}

	if err := c.finish(reason); err != nil {
		return err
	}

	if reason == reasonCanceled {
		return fmt.Errorf("crawl canceled: %w", ctx.Err())
	}

	return nil
}

func (c *Crawler) finish(reason string) error {
	snap := c.tel.snapshot(reason)

	c.log.Info().
		Str(fieldRunID, snap.RunID).
		Str(fieldReason, reason).
		Int("responses", snap.Responses).
		Int("articles", snap.Articles).
		Int("errors", snap.Errors).
		Float64("block_rate", snap.BlockRate).
		Msg("Crawl finished")

	if err := c.tel.write(c.cfg.OutputDir, reason); err != nil {
		c.log.Error().Err(err).Msg("Failed to write telemetry")
	}

	return c.store.close()
}

// seed enqueues the start page plus sitemap and feed probes at the
// start URL's origin. Probes outrank the start page so one sitemap hit
// can shape the whole frontier.
func (c *Crawler) seed() {
	c.enqueuePage(c.cfg.StartURL, 0, prioPage)

	u, err := url.Parse(urlnorm.Normalize(c.cfg.StartURL))
	if err != nil || u.Host == "" {
		return
	}

	origin := u.Scheme + "://" + u.Host

	for _, path := range sitemapProbePaths {
		c.frontier.add(origin+path, 0, prioSitemapProbe, kindSitemap)
	}

	for _, path := range feedProbePaths {
		c.frontier.add(origin+path, 0, prioFeed, kindFeed)
	}
}

func (c *Crawler) nextBatch() []item {
	batch := make([]item, 0, c.cfg.Concurrency)

	for len(batch) < c.cfg.Concurrency {
		it, ok := c.frontier.pop()
		if !ok {
			break
		}

		batch = append(batch, it)
	}

	return batch
}

func (c *Crawler) process(ctx context.Context, it item) {
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}

	switch it.kind {
	case kindSitemap:
		c.processSitemap(ctx, it)
	case kindFeed:
		c.processFeed(ctx, it)
	default:
		c.processPage(ctx, it)
	}
}

// processSitemap fetches one sitemap document. Probe misses are routine
// and only logged at debug.
func (c *Crawler) processSitemap(ctx context.Context, it item) {
	res, err := c.client.Get(ctx, it.url, fetch.Options{UserAgent: c.userAgent(), Retries: 1})
	if err != nil {
		c.log.Debug().Str(fieldURL, it.url).Err(err).Msg("Sitemap probe missed")

		return
	}

	c.tel.recordResponse(res.Status, len(res.Body), res.Elapsed)

	nested, pages := parseSitemap(res.Body)

	for _, sm := range nested {
		if !c.domainAllowed(urlnorm.Domain(sm)) {
			continue
		}

		c.frontier.add(sm, 0, prioNestedSitemap, kindSitemap)
	}

	for _, page := range pages {
		c.enqueuePage(page, 1, prioPage)
	}

	if len(nested)+len(pages) > 0 {
		c.log.Info().
			Str(fieldURL, it.url).
			Int(fieldCount, len(nested)+len(pages)).
			Msg("Seeded URLs from sitemap")
	}
}

// processFeed fetches one feed probe and enqueues its entry URLs.
func (c *Crawler) processFeed(ctx context.Context, it item) {
	res, err := c.client.Get(ctx, it.url, fetch.Options{UserAgent: c.userAgent(), Retries: 1})
	if err != nil {
		c.log.Debug().Str(fieldURL, it.url).Err(err).Msg("Feed probe missed")

		return
	}

	c.tel.recordResponse(res.Status, len(res.Body), res.Elapsed)

	parsed := feed.Parse(res.Body, it.url)
	if parsed.Total == 0 {
		return
	}

	for _, entry := range parsed.Entries {
		c.enqueuePage(entry.URL, 1, prioPage)
	}

	c.log.Info().
		Str(fieldURL, it.url).
		Int(fieldCount, parsed.Total).
		Msg("Seeded URLs from feed")
}

func (c *Crawler) processPage(ctx context.Context, it item) {
	if !c.robots.allowed(ctx, it.url) {
		c.store.logSkip(it.url, skipRobots, it.depth)

		return
	}

	if c.renderer != nil && (it.rendered || c.cfg.RenderJS == RenderAlways) {
		c.renderPage(ctx, it)

		return
	}

	opts := fetch.Options{UserAgent: c.userAgent()}
	if c.cfg.Delta {
		opts.Conditional = c.store.validators(it.url)
	}

	res, err := c.client.Get(ctx, it.url, opts)
	if err != nil {
		c.handleFetchError(it, err)

		return
	}

	c.tel.recordResponse(res.Status, len(res.Body), res.Elapsed)
	observability.FetchDuration.WithLabelValues(viaStatic).Observe(res.Elapsed.Seconds())

	contentType := res.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		c.store.logSkip(it.url, skipNonHTML, it.depth)

		return
	}

	c.store.setValidators(it.url, res.Header.Get("ETag"), res.Header.Get("Last-Modified"))

	// An empty verdict is a thin page, not a bot wall: its links still
	// get discovered and the render heuristic still applies.
	if det := blockdetect.Classify(res.Body, res.Status, it.url); det.Blocked && det.Kind != blockdetect.KindEmpty {
		c.tel.recordBlock(det.Kind)
		observability.BlocksDetected.WithLabelValues(det.Kind).Inc()
		c.store.logSkip(it.url, "blocked_"+det.Kind, it.depth)

		return
	}

	if c.shouldRender(it, res.Body) {
		c.frontier.requeue(it)
		c.log.Debug().Str(fieldURL, it.url).Msg("Re-enqueued for headless render")

		return
	}

	c.emit(it, res.Body, viaStatic)
}

// renderPage fetches one page through the headless browser.
func (c *Crawler) renderPage(ctx context.Context, it item) {
	html, err := c.renderer.Render(ctx, it.url, render.Options{
		UserAgent:     c.userAgent(),
		ExpandContent: true,
		PageActions:   c.cfg.PageActions,
	})
	if err != nil {
		c.tel.recordError()
		observability.FetchErrors.WithLabelValues("render").Inc()
		c.store.logSkip(it.url, skipRenderFailed, it.depth)
		c.log.Warn().Str(fieldURL, it.url).Err(err).Msg("Render failed")

		return
	}

	c.tel.recordResponse(200, len(html), 0)

	if det := blockdetect.Classify(html, 200, it.url); det.Blocked && det.Kind != blockdetect.KindEmpty {
		c.tel.recordBlock(det.Kind)
		observability.BlocksDetected.WithLabelValues(det.Kind).Inc()
		c.store.logSkip(it.url, "blocked_"+det.Kind, it.depth)

		return
	}

	c.emit(it, html, viaHeadless)
}

// shouldRender reports whether a statically fetched page should go back
// on the queue for a headless pass.
func (c *Crawler) shouldRender(it item, body string) bool {
	if c.cfg.RenderJS != RenderAuto || c.renderer == nil || it.rendered {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}

	return heuristics.NeedsJS(doc, body, 0)
}

// emit runs link discovery and, when the page passes the extraction
// gates, writes the article.
func (c *Crawler) emit(it item, body, via string) {
	c.discoverLinks(body, it)

	if c.include != nil && !c.include.MatchString(it.url) {
		c.store.logSkip(it.url, skipIncludeMismatch, it.depth)

		return
	}

	art := c.engine.Parse(body, it.url)

	if art.WordCount < minArticleWords {
		c.store.logSkip(it.url, skipEmptyExtraction, it.depth)

		return
	}

	if art.Confidence < c.minConf {
		c.store.logSkip(it.url, skipLowScore, it.depth)

		return
	}

	if c.store.isDuplicate(art.ContentText, it.url) {
		c.store.logSkip(it.url, skipDuplicate, it.depth)

		return
	}

	slug, err := c.store.saveArticle(art)
	if err != nil {
		c.tel.recordError()
		c.log.Error().Str(fieldURL, it.url).Err(err).Msg("Failed to save article")

		return
	}

	c.tel.recordArticle()
	observability.ArticlesEmitted.Inc()
	observability.PagesFetched.WithLabelValues(via).Inc()
	observability.ExtractionMethods.WithLabelValues(art.ExtractionMethod).Inc()

	c.log.Info().
		Str(fieldURL, it.url).
		Str(fieldSlug, slug).
		Int(fieldDepth, it.depth).
		Int("words", art.WordCount).
		Msg("Saved article")
}

func (c *Crawler) handleFetchError(it item, err error) {
	if errors.Is(err, fetch.ErrNotModified) {
		c.tel.recordUnchanged()
		c.store.logSkip(it.url, skipNotModified, it.depth)
		c.log.Debug().Str(fieldURL, it.url).Msg("Page unchanged since last crawl")

		return
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		c.tel.recordResponse(fe.Status, len(fe.Body), 0)

		if det := blockdetect.Classify(fe.Body, fe.Status, it.url); det.Blocked {
			c.tel.recordBlock(det.Kind)
			observability.BlocksDetected.WithLabelValues(det.Kind).Inc()
		}

		c.store.logSkip(it.url, fmt.Sprintf("http_status_%d", fe.Status), it.depth)

		return
	}

	c.tel.recordError()
	observability.FetchErrors.WithLabelValues("transport").Inc()
	c.log.Warn().Str(fieldURL, it.url).Err(err).Msg("Fetch failed")
}

// discoverLinks enqueues internal links one level deeper, rel=next
// pagination targets at the current depth with elevated priority, and
// advertised feeds.
func (c *Crawler) discoverLinks(body string, it item) {
	for _, link := range content.ExtractLinks(body, it.url) {
		c.enqueuePage(link.URL, it.depth+1, prioPage)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return
	}

	if next := relNext(doc, it.url); next != "" {
		c.enqueuePage(next, it.depth, prioNextPage)
	}

	for _, feedURL := range feedLinks(doc, it.url) {
		if !c.domainAllowed(urlnorm.Domain(feedURL)) {
			continue
		}

		c.frontier.add(feedURL, it.depth, prioFeed, kindFeed)
	}
}

// enqueuePage normalizes and filters a candidate page URL, reserving a
// budget slot when it is accepted.
func (c *Crawler) enqueuePage(raw string, depth, priority int) {
	norm := urlnorm.Normalize(raw)
	if norm == "" || depth > c.cfg.MaxDepth {
		return
	}

	if !c.domainAllowed(urlnorm.Domain(norm)) {
		return
	}

	if urlnorm.IsAsset(norm) || excludedLink(norm) {
		return
	}

	if c.exclude != nil && c.exclude.MatchString(norm) {
		return
	}

	if c.frontier.add(norm, depth, priority, kindPage) {
		c.store.markSeen(norm)
	}
}

// domainAllowed checks a hostname against the allowed domain, the extra
// domains and, when enabled, their subdomains.
func (c *Crawler) domainAllowed(domain string) bool {
	if domain == "" {
		return false
	}

	allowed := append([]string{c.cfg.AllowedDomain}, c.cfg.ExtraDomains...)

	for _, d := range allowed {
		if domain == d {
			return true
		}

		if c.cfg.AllowSubdomains && strings.HasSuffix(domain, "."+d) {
			return true
		}
	}

	return false
}

func (c *Crawler) userAgent() string {
	if c.cfg.RotateUA {
		return fetch.RotatingUserAgent()
	}

	return c.cfg.UserAgent
}

func excludedLink(u string) bool {
	for _, re := range hardExcludes {
		if re.MatchString(u) {
			return true
		}
	}

	return false
}

// relNext finds a rel=next pagination link.
func relNext(doc *goquery.Document, baseURL string) string {
	href, ok := doc.Find(`link[rel="next"], a[rel="next"]`).First().Attr("href")
	if !ok || href == "" {
		return ""
	}

	return resolveRef(baseURL, href)
}

// feedLinks collects advertised rss/atom alternates.
func feedLinks(doc *goquery.Document, baseURL string) []string {
	var out []string

	doc.Find(`link[rel="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		typ := strings.ToLower(s.AttrOr("type", ""))
		if !strings.Contains(typ, "rss") && !strings.Contains(typ, "atom") {
			return
		}

		if u := resolveRef(baseURL, strings.TrimSpace(s.AttrOr("href", ""))); u != "" {
			out = append(out, u)
		}
	})

	return out
}

func resolveRef(baseURL, href string) string {
	if href == "" {
		return ""
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return base.ResolveReference(ref).String()
}
