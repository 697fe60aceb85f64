// Package classify judges what kind of page a static fetch produced and
// which fetch strategy is likely to recover its content: server-rendered
// article, JavaScript application shell, cookie wall or paywall.
package classify

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pagesift/pagesift/internal/content"
	"github.com/pagesift/pagesift/internal/heuristics"
)

// Page kinds.
const (
	KindStatic     = "static_html"
	KindJSSPA      = "js_spa"
	KindCookieWall = "cookie_walled"
	KindPaywall    = "paywalled"
	KindUnknown    = "unknown"
)

// Recommended fetch strategies.
const (
	StrategyStatic     = "static"
	StrategyAMP        = "amp"
	StrategyMobileUA   = "mobile_ua"
	StrategyPlaywright = "playwright"
)

// MinContentWords is the visible word count below which a page is not
// considered fully rendered.
const MinContentWords = 150

// spaWordThreshold: with framework fingerprints present, a body this
// thin marks an unhydrated app shell.
const spaWordThreshold = 100

// Result is the classification outcome plus the signals that produced it.
type Result struct {
	Kind             string
	Strategy         string
	Confidence       float64
	Reason           string
	Frameworks       []string
	AMPURL           string
	FeedURL          string
	BodyWordCount    int
	HasJSRoot        bool
	HasMetaTitle     bool
	HasArticleSchema bool
	Paywalled        bool
	CookieWalled     bool
}

type framework struct {
	name string
	re   *regexp.Regexp
}

var frameworks = []framework{
	{"Next.js", regexp.MustCompile(`/_next/static/|window\.__NEXT_DATA__`)},
	{"Nuxt.js", regexp.MustCompile(`/__nuxt/|window\.__NUXT__`)},
	{"React/CRA", regexp.MustCompile(`/static/js/main\.[a-f0-9]+\.js`)},
	{"Webpack", regexp.MustCompile(`chunk\.[a-f0-9]+\.js`)},
	{"Angular", regexp.MustCompile(`angular(?:\.min)?\.js|ng-app`)},
	{"Vue", regexp.MustCompile(`vue(?:\.min)?\.js|data-v-app`)},
	{"Ember", regexp.MustCompile(`ember(?:\.min)?\.js`)},
	{"Gatsby", regexp.MustCompile(`gatsby-focus-wrapper|window\.__gatsby`)},
	{"Svelte", regexp.MustCompile(`svelte(?:kit)?|__svelte`)},
	{"Remix", regexp.MustCompile(`__remixContext`)},
	{"Astro", regexp.MustCompile(`astro-island|astro:page-load`)},
}

var jsRootIDRe = regexp.MustCompile(`^(root|app|__next|__nuxt|app-root|gatsby-focus-wrapper|ember-application)$`)

var articleSchemaMarkers = []string{"Article", "BlogPosting", "NewsArticle"}

var paywallSelectors = []string{
	".paywall", ".paid-content", ".premium-content", "#piano-paywall",
	".tp-modal", ".tp-iframe-wrapper", ".subscriber-only",
	".metered-paywall", `[class*="paywall"]`, `[id*="paywall"]`,
	".subscription-required", ".access-denied", ".piano-container",
	".reg-wall",
}

var paywallPhrases = []string{
	"subscribe to continue",
	"subscribe to read",
	"sign in to read",
	"this article is for subscribers",
	"become a member to",
	"unlock this article",
	"member-only content",
	"you've reached your free article limit",
	"you have read your free articles",
	"subscribe for unlimited",
	"create a free account to continue",
}

var cookieWallPhrases = []string{
	"cookie preferences",
	"essential cookies enable",
	"cookie consent",
	"manage your cookie",
	"accept all cookies",
	"reject all cookies",
	"cookieyes",
	"cookiebot",
}

// Elements dropped before counting visible words. Script and style text
// would otherwise inflate the count on app shells.
const noiseSelector = "script, style, nav, header, footer, noscript, aside"

// Classify inspects a statically fetched page. The HTML is parsed twice:
// once intact for structural signals, once with noise tags and consent
// UI stripped for the visible word count.
func Classify(rawHTML, pageURL string) Result {
	rawHTML = content.StripTemplates(rawHTML)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Result{Kind: KindUnknown, Strategy: StrategyStatic, Confidence: 0.5, Reason: "unparseable html"}
	}

	res := Result{
		Frameworks:       detectFrameworks(doc),
		AMPURL:           strings.TrimSpace(doc.Find(`link[rel="amphtml"]`).First().AttrOr("href", "")),
		FeedURL:          feedLink(doc),
		BodyWordCount:    visibleWordCount(rawHTML),
		HasJSRoot:        hasEmptyJSRoot(doc),
		HasMetaTitle:     strings.TrimSpace(doc.Find("title").First().Text()) != "",
		HasArticleSchema: hasArticleSchema(doc),
	}

	lowerText := strings.ToLower(doc.Text())
	res.Paywalled = detectPaywall(doc, lowerText)
	res.CookieWalled = detectCookieWall(lowerText, res.BodyWordCount)

	isSPA := len(res.Frameworks) > 0 && (res.HasJSRoot || res.BodyWordCount < spaWordThreshold)
	if !isSPA && res.BodyWordCount < 10 && heuristics.CountExternalScripts(rawHTML) > 0 {
		isSPA = true
	}

	switch {
	case isSPA:
		res.Kind = KindJSSPA
		res.Strategy = StrategyPlaywright
		res.Confidence = 0.80
		res.Reason = "client-side application shell with thin body"

		if res.AMPURL != "" {
			res.Strategy = StrategyAMP
		}

		if len(res.Frameworks) > 0 {
			res.Confidence = 0.90
			res.Reason = "client-side framework fingerprints with unhydrated shell"
		}
	case res.CookieWalled:
		res.Kind = KindCookieWall
		res.Strategy = StrategyPlaywright
		res.Confidence = 0.85
		res.Reason = "cookie consent wall covers the content"
	case res.Paywalled && res.BodyWordCount < 500:
		res.Kind = KindPaywall
		res.Strategy = StrategyPlaywright
		res.Confidence = 0.75
		res.Reason = "paywall markers with truncated body"
	case res.AMPURL != "" && res.BodyWordCount < MinContentWords:
		res.Kind = KindStatic
		res.Strategy = StrategyAMP
		res.Confidence = 0.70
		res.Reason = "thin page advertising an AMP variant"
	case res.BodyWordCount >= MinContentWords:
		res.Kind = KindStatic
		res.Strategy = StrategyStatic
		res.Confidence = 0.90
		res.Reason = "server-rendered content present"
	case res.HasMetaTitle && res.BodyWordCount < MinContentWords:
		res.Kind = KindUnknown
		res.Strategy = StrategyMobileUA
		res.Confidence = 0.50
		res.Reason = "titled page with little content"

		if res.AMPURL != "" {
			res.Strategy = StrategyAMP
		}
	default:
		res.Kind = KindStatic
		res.Strategy = StrategyStatic
		res.Confidence = 0.55
		res.Reason = "no strong signal"
	}

	return res
}

// visibleWordCount counts words on a second parse with noise tags and
// consent UI removed.
func visibleWordCount(rawHTML string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return 0
	}

	doc.Find(noiseSelector).Remove()
	content.RemoveConsent(doc)

	return len(strings.Fields(doc.Text()))
}

func detectFrameworks(doc *goquery.Document) []string {
	var sb strings.Builder

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			sb.WriteString(src)
			sb.WriteByte('\n')
		}

		sb.WriteString(s.Text())
		sb.WriteByte('\n')
	})

	scripts := sb.String()

	var found []string

	for _, fw := range frameworks {
		if fw.re.MatchString(scripts) {
			found = append(found, fw.name)
		}
	}

	return found
}

// hasEmptyJSRoot reports a framework mount point holding fewer than 20
// words, the shape of an unhydrated single-page app.
func hasEmptyJSRoot(doc *goquery.Document) bool {
	found := false

	doc.Find("div[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")

		if jsRootIDRe.MatchString(id) && len(strings.Fields(s.Text())) < 20 {
			found = true
			return false
		}

		return true
	})

	return found
}

func hasArticleSchema(doc *goquery.Document) bool {
	found := false

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()

		for _, marker := range articleSchemaMarkers {
			if strings.Contains(text, marker) {
				found = true
				return false
			}
		}

		return true
	})

	return found
}

func detectPaywall(doc *goquery.Document, lowerText string) bool {
	for _, sel := range paywallSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}

	for _, phrase := range paywallPhrases {
		if strings.Contains(lowerText, phrase) {
			return true
		}
	}

	return false
}

func detectCookieWall(lowerText string, bodyWords int) bool {
	hits := 0

	for _, phrase := range cookieWallPhrases {
		if strings.Contains(lowerText, phrase) {
			hits++
		}
	}

	return hits >= 2 || (hits >= 1 && bodyWords < MinContentWords)
}

func feedLink(doc *goquery.Document) string {
	link := ""

	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		typ := strings.ToLower(s.AttrOr("type", ""))

		if strings.Contains(typ, "rss") || strings.Contains(typ, "atom") {
			link = strings.TrimSpace(s.AttrOr("href", ""))
			return false
		}

		return true
	})

	return link
}
