package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tags that never carry article text.
const boilerplateTags = "nav, header, footer, aside, script, style, noscript, form, button, input, select, textarea"

// Class/id/role substrings that mark navigational or promotional
// containers.
var noiseMarkers = []string{
	"sidebar", "comment", "advertisement", "banner", "promo", "related",
	"share", "social", "newsletter", "cookie", "popup", "modal", "widget",
}

// Selectors tried first, most specific containers before generic ones.
var prioritySelectors = []string{
	"article",
	"main",
	`[role="main"]`,
	`[itemprop="articleBody"]`,
	".post-content", ".article-content", ".entry-content",
	".post-body", ".article-body",
	"#article-content", "#post-content", "#entry-content",
	"#content", "#main-content",
	".content-body", ".story-body", ".blog-post",
	".post", ".single-content",
}

const (
	domMinSelectorWords = 10
	domBodyShare        = 0.55
)

// domExtract is the heuristic fallback when readability and trafilatura
// both come up short. It strips obvious boilerplate, tries the priority
// selectors, then scores generic containers by paragraph density.
func domExtract(doc *goquery.Document) (string, string) {
	doc.Find(boilerplateTags).Remove()

	doc.Find("div, section, aside").Each(func(_ int, s *goquery.Selection) {
		marker := strings.ToLower(
			s.AttrOr("class", "") + " " + s.AttrOr("id", "") + " " + s.AttrOr("role", ""),
		)

		for _, kw := range noiseMarkers {
			if strings.Contains(marker, kw) {
				s.Remove()
				return
			}
		}
	})

	body := doc.Find("body")
	bodyWords := wordCount(body.Text())

	var best *goquery.Selection

	bestWords := 0

	for _, sel := range prioritySelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if w := wordCount(s.Text()); w > bestWords {
				best = s
				bestWords = w
			}
		})

		if best != nil && bestWords >= domMinSelectorWords {
			return outerHTML(best), text(best)
		}

		best = nil
		bestWords = 0
	}

	// Generic containers scored by paragraph mass relative to their
	// total text: long paragraphs in a tight container win.
	var top *goquery.Selection

	topScore := 0.0

	doc.Find("div, section").Each(func(_ int, s *goquery.Selection) {
		paraWords := 0

		s.Find("p").Each(func(_ int, p *goquery.Selection) {
			paraWords += wordCount(p.Text())
		})

		total := wordCount(s.Text())
		if total == 0 {
			total = 1
		}

		score := float64(paraWords) * float64(paraWords) / float64(total)

		if score > topScore {
			top = s
			topScore = score
		}
	})

	if top != nil && bodyWords > 0 {
		if float64(wordCount(top.Text()))/float64(bodyWords) >= domBodyShare {
			return outerHTML(top), text(top)
		}
	}

	return innerHTML(body), text(body)
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func outerHTML(s *goquery.Selection) string {
	html, err := goquery.OuterHtml(s)
	if err != nil {
		return ""
	}

	return html
}

func innerHTML(s *goquery.Selection) string {
	html, err := s.Html()
	if err != nil {
		return ""
	}

	return html
}
