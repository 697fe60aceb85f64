// Package query is the single-URL face of the engine: parse HTML you
// already have, fetch one URL adaptively with block-aware proxy retry,
// fan out over a URL batch, or walk a feed.
package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pagesift/pagesift/internal/adaptive"
	"github.com/pagesift/pagesift/internal/article"
	"github.com/pagesift/pagesift/internal/blockdetect"
	"github.com/pagesift/pagesift/internal/blocks"
	"github.com/pagesift/pagesift/internal/classify"
	"github.com/pagesift/pagesift/internal/content"
	"github.com/pagesift/pagesift/internal/feed"
	"github.com/pagesift/pagesift/internal/fetch"
	"github.com/pagesift/pagesift/internal/heuristics"
	"github.com/pagesift/pagesift/internal/markdownconv"
	"github.com/pagesift/pagesift/internal/metadata"
	"github.com/pagesift/pagesift/internal/plugin"
	"github.com/pagesift/pagesift/internal/urlnorm"
)

// OnError policies for FetchBatch.
const (
	OnErrorSkip    = "skip"
	OnErrorRaise   = "raise"
	OnErrorInclude = "include"
)

// emptyWordThreshold: below this many words an article is flagged empty.
const emptyWordThreshold = 20

const maxBlockRetries = 5

const (
	fieldURL   = "url"
	fieldProxy = "proxy"
	fieldKind  = "kind"
)

// Errors returned by the engine.
var ErrBadOnError = errors.New("unknown on_error policy")

// Engine assembles the full pipeline.
type Engine struct {
	fetcher    *adaptive.Fetcher
	extractor  *content.Extractor
	client     *fetch.Client
	registry   *plugin.Registry
	maxWorkers int
	log        *zerolog.Logger
}

// Config wires an Engine.
type Config struct {
	Client     *fetch.Client
	Fetcher    *adaptive.Fetcher
	Registry   *plugin.Registry
	MaxWorkers int
}

// New builds the engine. MaxWorkers defaults to 8.
func New(cfg Config, log *zerolog.Logger) *Engine {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 8
	}

	return &Engine{
		fetcher:    cfg.Fetcher,
		extractor:  content.NewExtractor(cfg.Registry, log),
		client:     cfg.Client,
		registry:   cfg.Registry,
		maxWorkers: workers,
		log:        log,
	}
}

// Parse runs the extraction pipeline over HTML already in hand. It never
// touches the network; block detection runs against the body as if it
// arrived with a 200.
func (e *Engine) Parse(rawHTML, pageURL string) *article.Article {
	normalized := urlnorm.Normalize(pageURL)

	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))

	var meta metadata.Meta
	if docErr == nil {
		meta = metadata.Extract(doc, pageURL)
	}

	body := e.extractor.Extract(rawHTML, pageURL)

	score := heuristicScore(doc, docErr, normalized, meta)
	score += e.pluginScore(pageURL, rawHTML, normalized)

	canonical := meta.Canonical
	if canonical == "" {
		canonical = normalized
	}

	cls := classify.Classify(rawHTML, pageURL)
	det := blockdetect.Classify(rawHTML, http.StatusOK, pageURL)

	art := &article.Article{
		URL:          normalized,
		CanonicalURL: canonical,
		Title:        meta.Title,
		Author:       meta.Author,
		PublishedAt:  meta.PublishedAt,
		UpdatedAt:    meta.UpdatedAt,
		SiteName:     meta.SiteName,
		Summary:      meta.Summary,
		Language:     meta.Language,
		Tags:         meta.Tags,

		WordCount:          body.WordCount,
		ReadingTimeMinutes: heuristics.ReadingTime(body.WordCount),
		IsEmpty:            body.WordCount < emptyWordThreshold,
		ArticleScore:       score,
		Confidence:         heuristics.Confidence(score),
		ExtractionMethod:   body.Method,
		FetchStrategy:      adaptive.StrategyPreFetched,
		ScrapedAt:          time.Now().UTC().Format(time.RFC3339),

		IsBlocked: det.Blocked,

		ContentHTML:     body.HTML,
		ContentMarkdown: markdownconv.Convert(body.HTML),
		ContentText:     body.Text,

		Blocks: blocks.Extract(body.HTML),
		Images: mergeImages(meta.Images, content.ExtractImages(body.HTML, pageURL)),
		Links:  content.ExtractLinks(rawHTML, pageURL),

		Raw: article.RawMetadata{
			OpenGraph: meta.OpenGraph,
			Twitter:   meta.Twitter,
			JSONLD:    meta.JSONLD,
		},
		Classification: classificationRecord(cls),
	}

	if det.Blocked {
		art.BlockType = det.Kind
		art.BlockReason = det.Reason
	}

	return art
}

func classificationRecord(cls classify.Result) *article.Classification {
	return &article.Classification{
		Kind:             cls.Kind,
		Strategy:         cls.Strategy,
		Confidence:       cls.Confidence,
		Reason:           cls.Reason,
		Frameworks:       cls.Frameworks,
		AMPURL:           cls.AMPURL,
		FeedURL:          cls.FeedURL,
		BodyWordCount:    cls.BodyWordCount,
		HasArticleSchema: cls.HasArticleSchema,
	}
}

// Fetch retrieves and parses one URL. When a proxy pool is configured,
// block-classified responses rotate through it; once the retry budget
// is spent the last observed article is returned with its block fields
// set rather than an error.
func (e *Engine) Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*article.Article, error) {
	proxies := e.client.Proxies()

	retries := 0
	if proxies != nil {
		retries = proxies.Len()
		if retries > maxBlockRetries {
			retries = maxBlockRetries
		}
	}

	for attempt := 0; ; attempt++ {
		current, _ := proxies.Get()

		res, err := e.fetcher.Fetch(ctx, rawURL, opts)
		if err != nil {
			if !errorLooksBlocked(err, rawURL) {
				return nil, err
			}

			if attempt < retries && proxies.HasProxies() {
				e.rotateAfterBlock(current, rawURL, "blocked response")
				continue
			}

			return e.blockedFromError(err, rawURL)
		}

		det := blockdetect.Classify(res.HTML, res.Status, rawURL)
		if det.Blocked && attempt < retries && proxies.HasProxies() {
			e.rotateAfterBlock(current, rawURL, det.Kind)
			continue
		}

		if !det.Blocked {
			proxies.MarkSuccess(current)
		}

		return e.articleFrom(res, det, rawURL), nil
	}
}

// FetchRendered retrieves one URL straight through the headless browser
// and parses the rendered document.
func (e *Engine) FetchRendered(ctx context.Context, rawURL string, opts fetch.Options) (*article.Article, error) {
	res, err := e.fetcher.FetchRendered(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}

	det := blockdetect.Classify(res.HTML, res.Status, rawURL)

	return e.articleFrom(res, det, rawURL), nil
}

// articleFrom parses a fetch result, recording the strategy that
// produced the HTML, the live classification and any block verdict.
func (e *Engine) articleFrom(res *adaptive.Result, det blockdetect.Result, rawURL string) *article.Article {
	art := e.Parse(res.HTML, rawURL)
	art.FetchStrategy = res.Strategy
	art.Classification = classificationRecord(res.Classification)

	art.IsBlocked = det.Blocked
	art.BlockType = ""
	art.BlockReason = ""

	if det.Blocked {
		art.BlockType = det.Kind
		art.BlockReason = det.Reason

		e.log.Warn().
			Str(fieldURL, rawURL).
			Str(fieldKind, det.Kind).
			Msg("Returning blocked article")
	}

	return art
}

// blockedFromError turns an HTTP-level failure with a block-classified
// body into a blocked article record.
func (e *Engine) blockedFromError(err error, rawURL string) (*article.Article, error) {
	var fe *fetch.FetchError
	if !errors.As(err, &fe) {
		return nil, err
	}

	det := blockdetect.Classify(fe.Body, fe.Status, rawURL)
	if !det.Blocked {
		det = blockdetect.Result{
			Blocked:    true,
			Kind:       blockdetect.KindIPBan,
			Confidence: 0.7,
			Reason:     fmt.Sprintf("HTTP %d", fe.Status),
		}
	}

	art := e.Parse(fe.Body, rawURL)
	art.FetchStrategy = adaptive.StrategyStatic
	art.IsBlocked = true
	art.BlockType = det.Kind
	art.BlockReason = det.Reason

	e.log.Warn().
		Str(fieldURL, rawURL).
		Str(fieldKind, det.Kind).
		Msg("Returning blocked article")

	return art, nil
}

// errorLooksBlocked runs block detection over an HTTP error body, with
// the auth-flavored statuses as fallback when the body says nothing.
func errorLooksBlocked(err error, rawURL string) bool {
	var fe *fetch.FetchError
	if !errors.As(err, &fe) {
		return false
	}

	if det := blockdetect.Classify(fe.Body, fe.Status, rawURL); det.Blocked {
		return true
	}

	switch fe.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusProxyAuthRequired:
		return true
	}

	return false
}

func (e *Engine) rotateAfterBlock(proxy, rawURL, kind string) {
	proxies := e.client.Proxies()
	proxies.MarkFailed(proxy)
	proxies.Rotate()

	e.log.Warn().
		Str(fieldURL, rawURL).
		Str(fieldProxy, proxy).
		Str(fieldKind, kind).
		Msg("Rotating proxy after block")
}

// BatchResult is one slot of a FetchBatch call.
type BatchResult struct {
	URL     string
	Article *article.Article
	Err     error
}

// FetchBatch fetches URLs concurrently, bounded by MaxWorkers. Result
// order follows input order. onError selects the failure policy: skip
// drops failed slots, raise aborts on the first failure, include keeps
// one slot per input URL with the error recorded.
func (e *Engine) FetchBatch(ctx context.Context, urls []string, onError string, opts fetch.Options) ([]BatchResult, error) {
	switch onError {
	case OnErrorSkip, OnErrorRaise, OnErrorInclude:
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadOnError, onError)
	}

	slots := make([]BatchResult, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)

	for i, u := range urls {
		g.Go(func() error {
			art, err := e.Fetch(gctx, u, opts)
			slots[i] = BatchResult{URL: u, Article: art, Err: err}

			if err != nil && onError == OnErrorRaise {
				return fmt.Errorf("fetch %s: %w", u, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if onError == OnErrorInclude {
		return slots, nil
	}

	out := slots[:0:0]

	for _, slot := range slots {
		if slot.Err == nil {
			out = append(out, slot)
		}
	}

	return out, nil
}

// FetchFeed fetches a feed document, parses it and retrieves up to
// maxArticles entries with the skip policy.
func (e *Engine) FetchFeed(ctx context.Context, feedURL string, maxArticles int, opts fetch.Options) ([]BatchResult, error) {
	resp, err := e.client.Get(ctx, feedURL, opts)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	parsed := feed.Parse(resp.Body, feedURL)

	entries := parsed.Entries
	if maxArticles > 0 && len(entries) > maxArticles {
		entries = entries[:maxArticles]
	}

	urls := make([]string, 0, len(entries))
	for _, entry := range entries {
		urls = append(urls, entry.URL)
	}

	return e.FetchBatch(ctx, urls, OnErrorSkip, opts)
}

func (e *Engine) pluginScore(pageURL, rawHTML, baseURL string) int {
	if e.registry == nil {
		return 0
	}

	total := 0

	for _, scorer := range e.registry.Scorers() {
		total += scorer.Score(pageURL, rawHTML, baseURL)
	}

	return total
}

func heuristicScore(doc *goquery.Document, docErr error, normalizedURL string, meta metadata.Meta) int {
	score := heuristics.ScoreURL(normalizedURL)

	if docErr != nil {
		return score
	}

	return score + heuristics.ScoreContent(doc, heuristics.ContentSignals{
		HasAuthor:     meta.HasAuthor,
		HasDate:       meta.HasDate,
		HasJSONLD:     meta.HasJSONLD,
		OGTypeArticle: meta.OGTypeArticle,
	})
}

// mergeImages puts metadata-declared images (OG, JSON-LD) first, then
// content images, deduplicated by URL.
func mergeImages(declared, found []article.ImageRef) []article.ImageRef {
	seen := make(map[string]struct{}, len(declared)+len(found))

	var out []article.ImageRef

	for _, img := range append(append([]article.ImageRef{}, declared...), found...) {
		if _, dup := seen[img.URL]; dup {
			continue
		}

		seen[img.URL] = struct{}{}
		out = append(out, img)
	}

	return out
}
