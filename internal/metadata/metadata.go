// Package metadata harvests page metadata from JSON-LD, Open Graph,
// Twitter cards and plain meta tags, coalescing each field through a
// fixed priority chain. JSON-LD wins where present; markup-level hints
// fill the gaps.
package metadata

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/pagesift/pagesift/internal/article"
)

const (
	minYear = 1990
	maxYear = 2099
)

// Meta is the coalesced page metadata plus the raw maps it came from.
type Meta struct {
	Title       string
	Author      string
	PublishedAt string
	UpdatedAt   string
	SiteName    string
	Summary     string
	Language    string
	Canonical   string
	Tags        []string
	Images      []article.ImageRef

	OpenGraph map[string]string
	Twitter   map[string]string
	JSONLD    []map[string]any

	HasAuthor     bool
	HasDate       bool
	HasJSONLD     bool
	OGTypeArticle bool
}

// Extract harvests metadata from a parsed document. baseURL resolves
// relative canonical and image URLs.
func Extract(doc *goquery.Document, baseURL string) Meta {
	base, _ := url.Parse(baseURL)

	og := collectProps(doc, "og:", "article:")
	tw := collectNames(doc, "twitter:")
	nodes := parseJSONLD(doc)
	ld := articleNode(nodes)

	m := Meta{
		OpenGraph: og,
		Twitter:   tw,
		JSONLD:    nodes,
		HasJSONLD: ld != nil && hasArticleType(ld),
	}

	m.Title = coalesce(
		ldString(ld, "headline"),
		ldString(ld, "name"),
		og["og:title"],
		tw["twitter:title"],
		strings.TrimSpace(doc.Find("title").First().Text()),
		strings.TrimSpace(doc.Find("h1").First().Text()),
	)

	m.Author = coalesce(
		ldName(ld, "author"),
		og["article:author"],
		tw["twitter:creator"],
		metaContent(doc, "author"),
	)
	m.HasAuthor = m.Author != ""

	m.PublishedAt = normalizeDate(coalesce(
		ldString(ld, "datePublished"),
		og["article:published_time"],
		metaContent(doc, "pubdate"),
		firstTimeDatetime(doc),
	))

	m.UpdatedAt = normalizeDate(coalesce(
		ldString(ld, "dateModified"),
		og["article:modified_time"],
		og["og:updated_time"],
	))
	m.HasDate = m.PublishedAt != ""

	m.SiteName = coalesce(
		og["og:site_name"],
		ldName(ld, "publisher"),
		hostName(base),
	)

	m.Summary = coalesce(
		ldString(ld, "description"),
		og["og:description"],
		tw["twitter:description"],
		metaContent(doc, "description"),
	)

	m.Language = extractLanguage(doc, og, ld)
	m.Canonical = extractCanonical(doc, og, base)
	m.Tags = extractTags(doc, ld)
	m.Images = extractImages(doc, og, ld, base)
	m.OGTypeArticle = strings.EqualFold(og["og:type"], "article")

	return m
}

func hasArticleType(node map[string]any) bool {
	for _, typ := range nodeTypes(node) {
		if _, ok := articleTypes[typ]; ok {
			return true
		}
	}

	return false
}

// collectProps gathers meta tags keyed by property with any of the given
// prefixes. First occurrence wins.
func collectProps(doc *goquery.Document, prefixes ...string) map[string]string {
	out := make(map[string]string)

	doc.Find("meta[property]").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		prop = strings.ToLower(strings.TrimSpace(prop))
		content = strings.TrimSpace(content)

		if content == "" {
			return
		}

		for _, prefix := range prefixes {
			if strings.HasPrefix(prop, prefix) {
				if _, seen := out[prop]; !seen {
					out[prop] = content
				}

				return
			}
		}
	})

	return out
}

// collectNames gathers meta tags keyed by name with the given prefix.
// Twitter cards use name rather than property, but some sites emit
// property anyway, so both attributes are read.
func collectNames(doc *goquery.Document, prefix string) map[string]string {
	out := make(map[string]string)

	doc.Find("meta[name], meta[property]").Each(func(_ int, s *goquery.Selection) {
		key, ok := s.Attr("name")
		if !ok || key == "" {
			key, _ = s.Attr("property")
		}

		key = strings.ToLower(strings.TrimSpace(key))
		content := strings.TrimSpace(s.AttrOr("content", ""))

		if content == "" || !strings.HasPrefix(key, prefix) {
			return
		}

		if _, seen := out[key]; !seen {
			out[key] = content
		}
	})

	return out
}

func metaContent(doc *goquery.Document, name string) string {
	sel := doc.Find(`meta[name="` + name + `"]`).First()

	return strings.TrimSpace(sel.AttrOr("content", ""))
}

func firstTimeDatetime(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("time[datetime]").First().AttrOr("datetime", ""))
}

func hostName(base *url.URL) string {
	if base == nil {
		return ""
	}

	return strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")
}

func extractLanguage(doc *goquery.Document, og map[string]string, ld map[string]any) string {
	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		return truncate(lang, 10)
	}

	if locale := og["og:locale"]; locale != "" {
		locale = strings.ReplaceAll(locale, "_", "-")
		if idx := strings.IndexByte(locale, '-'); idx > 0 {
			locale = locale[:idx]
		}

		return truncate(locale, 5)
	}

	if lang := ldString(ld, "inLanguage"); lang != "" {
		return truncate(lang, 10)
	}

	if lang := strings.TrimSpace(doc.Find(`meta[http-equiv="content-language"]`).AttrOr("content", "")); lang != "" {
		return truncate(lang, 10)
	}

	return truncate(metaContent(doc, "language"), 10)
}

func extractCanonical(doc *goquery.Document, og map[string]string, base *url.URL) string {
	if href := strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", "")); href != "" {
		return resolve(base, href)
	}

	return og["og:url"]
}

func extractTags(doc *goquery.Document, ld map[string]any) []string {
	var tags []string

	tags = append(tags, ldKeywords(ld)...)

	doc.Find(`meta[property="article:tag"]`).Each(func(_ int, s *goquery.Selection) {
		if tag := strings.TrimSpace(s.AttrOr("content", "")); tag != "" {
			tags = append(tags, tag)
		}
	})

	if len(tags) == 0 {
		for _, kw := range strings.Split(metaContent(doc, "keywords"), ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				tags = append(tags, kw)
			}
		}
	}

	return dedupFold(tags)
}

func extractImages(doc *goquery.Document, og map[string]string, ld map[string]any, base *url.URL) []article.ImageRef {
	var images []article.ImageRef

	seen := make(map[string]struct{})

	add := func(rawURL, alt string) {
		resolved := resolve(base, rawURL)
		if resolved == "" {
			return
		}

		if _, dup := seen[resolved]; dup {
			return
		}

		seen[resolved] = struct{}{}
		images = append(images, article.ImageRef{URL: resolved, Alt: alt})
	}

	if ogImage := og["og:image"]; ogImage != "" {
		add(ogImage, og["og:image:alt"])
	}

	for _, img := range ldImages(ld) {
		add(img[0], img[1])
	}

	return images
}

// normalizeDate parses a date in any reasonable format and renders it as
// UTC RFC3339. Years outside [1990, 2099] are treated as parser noise and
// dropped.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return ""
	}

	if t.Year() < minYear || t.Year() > maxYear {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return ""
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	if base == nil {
		return ref.String()
	}

	return base.ResolveReference(ref).String()
}

func dedupFold(values []string) []string {
	var out []string

	seen := make(map[string]struct{})

	for _, v := range values {
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, v)
	}

	return out
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}

	return s
}
