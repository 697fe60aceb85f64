package crawler

import (
	"encoding/xml"
	"strings"
)

const maxSitemapURLs = 500

// Well-known probe paths tried against the start URL's origin.
var (
	sitemapProbePaths = []string{
		"/sitemap.xml",
		"/sitemap_index.xml",
		"/sitemap-index.xml",
	}

	feedProbePaths = []string{
		"/feed.xml",
		"/feed",
		"/rss.xml",
		"/rss",
		"/blog/feed.xml",
		"/blog/feed",
		"/blog/rss.xml",
		"/blog/rss",
	}
)

type sitemapIndex struct {
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type urlSet struct {
	URLs []sitemapLoc `xml:"url"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// parseSitemap reads a sitemap document. A sitemapindex yields nested
// sitemap URLs; a urlset yields page URLs, capped at maxSitemapURLs.
func parseSitemap(body string) (nested, pages []string) {
	var index sitemapIndex
	if err := xml.Unmarshal([]byte(body), &index); err == nil && len(index.Sitemaps) > 0 {
		for _, sm := range index.Sitemaps {
			if loc := strings.TrimSpace(sm.Loc); loc != "" {
				nested = append(nested, loc)
			}
		}

		return nested, nil
	}

	var set urlSet
	if err := xml.Unmarshal([]byte(body), &set); err != nil {
		return nil, nil
	}

	for _, u := range set.URLs {
		if len(pages) >= maxSitemapURLs {
			break
		}

		if loc := strings.TrimSpace(u.Loc); loc != "" {
			pages = append(pages, loc)
		}
	}

	return nil, pages
}
