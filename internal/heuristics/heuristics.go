// Package heuristics scores URLs and page content for article-ness and
// detects pages that cannot render without JavaScript. The scores feed the
// crawler's skip decisions and the extraction confidence.
package heuristics

import (
	"math"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ArticleScoreThreshold is the minimum combined score for a page to count
// as an article.
const ArticleScoreThreshold = 35

// DefaultJSWordThreshold is the body word count below which an empty JS
// application root marks the page as JavaScript-dependent.
const DefaultJSWordThreshold = 100

const wordsPerMinute = 200

// Path segments that usually indicate long-form writing.
var articleSegments = map[string]struct{}{
	"blog": {}, "blogs": {}, "post": {}, "posts": {},
	"article": {}, "articles": {}, "news": {}, "story": {}, "stories": {},
	"essay": {}, "essays": {}, "journal": {}, "write": {}, "writing": {},
	"p": {}, "entry": {}, "entries": {},
	"publication": {}, "publications": {},
	"insight": {}, "insights": {},
	"tutorial": {}, "tutorials": {}, "guide": {}, "guides": {},
	"learn": {}, "thought": {}, "thoughts": {},
}

// URL patterns that disqualify a page outright.
var excludedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/tags?/`),
	regexp.MustCompile(`/categor(y|ies)/`),
	regexp.MustCompile(`/search(\?|$|/)`),
	regexp.MustCompile(`/login`),
	regexp.MustCompile(`/signin`),
	regexp.MustCompile(`/signup`),
	regexp.MustCompile(`/register`),
	regexp.MustCompile(`/logout`),
	regexp.MustCompile(`/privacy`),
	regexp.MustCompile(`/terms`),
	regexp.MustCompile(`/feed`),
	regexp.MustCompile(`/rss`),
	regexp.MustCompile(`/sitemap`),
	regexp.MustCompile(`/archives?`),
	regexp.MustCompile(`/_next/static/`),
	regexp.MustCompile(`/cdn-cgi/`),
	regexp.MustCompile(`/wp-content/uploads/`),
	regexp.MustCompile(`/__webpack`),
	regexp.MustCompile(`/page/\d+`),
}

var (
	datePathRe   = regexp.MustCompile(`/\d{4}/\d{2}(/\d{2})?`)
	pageParamRe  = regexp.MustCompile(`[?&]page=\d+|/page/\d+`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	extScriptRe  = regexp.MustCompile(`(?i)<script[^>]+\bsrc\s*=\s*["']https?://`)
	authorPathRe = regexp.MustCompile(`/author/`)
)

// Phrases that pages show when they refuse to render without JavaScript.
var jsRequiredPhrases = []string{
	"enable javascript",
	"javascript is required",
	"please enable javascript",
	"javascript must be enabled",
	"this site requires javascript",
	"you need to enable javascript",
	"requires javascript to function",
}

// Root selectors used by client-side frameworks. An essentially empty
// match means the real content arrives via JavaScript.
var jsRootSelectors = []string{
	"#__next", "#app", "#root", "#__nuxt", "#app-root",
	"#gatsby-focus-wrapper", "[data-reactroot]", "[data-server-rendered]",
	"div[ng-app]", "#angular-app", "#ember-application",
}

// CountWords strips tags from an HTML fragment and counts the remaining
// whitespace-separated tokens.
func CountWords(html string) int {
	return len(strings.Fields(tagRe.ReplaceAllString(html, " ")))
}

// CountExternalScripts counts script tags whose src points at another
// origin's absolute URL.
func CountExternalScripts(html string) int {
	return len(extScriptRe.FindAllStringIndex(html, -1))
}

// ScoreURL scores a URL path by shape alone. Excluded patterns
// short-circuit with a strongly negative score.
func ScoreURL(rawURL string) int {
	lower := strings.ToLower(rawURL)

	for _, re := range excludedPatterns {
		if re.MatchString(lower) {
			return -30
		}
	}

	score := 0

	pathPart := lower
	if idx := strings.Index(pathPart, "://"); idx >= 0 {
		pathPart = pathPart[idx+3:]
	}

	if idx := strings.IndexByte(pathPart, '/'); idx >= 0 {
		pathPart = pathPart[idx:]
	} else {
		pathPart = "/"
	}

	if idx := strings.IndexByte(pathPart, '?'); idx >= 0 {
		pathPart = pathPart[:idx]
	}

	segments := splitSegments(pathPart)

	for _, seg := range segments {
		if _, ok := articleSegments[seg]; ok {
			score += 15
			break
		}
	}

	if datePathRe.MatchString(pathPart) {
		score += 10
	}

	switch n := len(segments); {
	case n >= 4:
		score += 5
	case n == 2:
		score += 3
	case n <= 1:
		score -= 20
	}

	if pageParamRe.MatchString(lower) {
		score -= 15
	}

	if authorPathRe.MatchString(pathPart) && len(segments) <= 2 {
		score -= 10
	}

	return score
}

func splitSegments(path string) []string {
	var segments []string

	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	return segments
}

// ContentSignals are the page-level facts ScoreContent needs beyond the
// parsed document itself.
type ContentSignals struct {
	HasAuthor     bool
	HasDate       bool
	HasJSONLD     bool
	OGTypeArticle bool
}

// ScoreContent scores a parsed document for article-ness.
func ScoreContent(doc *goquery.Document, sig ContentSignals) int {
	score := 0

	words := len(strings.Fields(doc.Find("body").Text()))

	switch {
	case words > 300:
		score += 20
	case words >= 150:
		score += 10
	case words < 50:
		score -= 20
	}

	h1s := doc.Find("h1").Length()

	switch {
	case h1s == 1:
		score += 15
	case h1s > 3:
		score -= 5
	}

	longParas := 0

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if len(strings.Fields(s.Text())) >= 20 {
			longParas++
		}
	})

	if longParas >= 3 {
		score += 5
	}

	if sig.HasAuthor {
		score += 10
	}

	if sig.HasDate {
		score += 10
	}

	if sig.HasJSONLD {
		score += 10
	}

	if sig.OGTypeArticle {
		score += 5
	}

	if doc.Find("a[href]").Length() > 30 {
		score -= 10
	}

	if doc.Find(`link[rel="next"], link[rel="prev"]`).Length() > 0 {
		score -= 15
	}

	return score
}

// Confidence converts a raw score to the clamped [0, 1] range.
func Confidence(score int) float64 {
	c := float64(score) / 80

	return math.Min(1, math.Max(0, c))
}

// NeedsJS reports whether the page likely requires JavaScript to show its
// content. wordThreshold gates the empty-app-root check; pass 0 for the
// default.
func NeedsJS(doc *goquery.Document, rawHTML string, wordThreshold int) bool {
	if wordThreshold <= 0 {
		wordThreshold = DefaultJSWordThreshold
	}

	fullText := strings.ToLower(doc.Text())

	for _, phrase := range jsRequiredPhrases {
		if strings.Contains(fullText, phrase) {
			return true
		}
	}

	needsJS := false

	doc.Find("noscript").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(strings.Fields(s.Text())) > 15 {
			needsJS = true
			return false
		}

		return true
	})

	if needsJS {
		return true
	}

	bodyWords := len(strings.Fields(doc.Find("body").Text()))

	if bodyWords < wordThreshold {
		for _, sel := range jsRootSelectors {
			if doc.Find(sel).Length() > 0 {
				return true
			}
		}
	}

	if bodyWords < 50 && CountExternalScripts(rawHTML) > 8 {
		return true
	}

	return false
}

// ReadingTime estimates minutes to read at 200 words per minute, never
// less than one.
func ReadingTime(wordCount int) int {
	if wordCount <= 0 {
		return 1
	}

	minutes := (wordCount + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		minutes = 1
	}

	return minutes
}
