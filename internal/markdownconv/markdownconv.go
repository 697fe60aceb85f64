// Package markdownconv renders extracted content HTML as markdown.
package markdownconv

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Convert renders HTML as markdown with atx headings, fenced code blocks
// and dash bullets. When conversion fails or produces nothing, the
// stripped-tags plaintext of the fragment is returned instead so a bad
// fragment never sinks the whole article.
func Convert(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	// Empty domain: full URLs in the source stay untouched.
	conv := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		Fence:            "```",
	})

	conv.Remove("script", "style", "nav", "noscript")

	out, err := conv.ConvertString(html)
	if err != nil || strings.TrimSpace(out) == "" {
		return plaintext(html)
	}

	return strings.TrimSpace(out)
}

// plaintext strips tags and joins the block-level texts with newlines.
func plaintext(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, noscript").Remove()

	var parts []string

	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, figcaption, td").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})

	if len(parts) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}

	return strings.Join(parts, "\n")
}
