package content

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pagesift/pagesift/internal/article"
	"github.com/pagesift/pagesift/internal/urlnorm"
)

var skippedLinkPrefixes = []string{
	"#", "mailto:", "javascript:", "tel:", "data:", "sms:",
}

// ExtractImages collects the images inside the extracted content with
// their alt text and, when the image sits in a figure, its caption.
func ExtractImages(contentHTML, baseURL string) []article.ImageRef {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(contentHTML))
	if err != nil {
		return nil
	}

	base, _ := url.Parse(baseURL)

	var images []article.ImageRef

	seen := make(map[string]struct{})

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" {
			src = firstSrcset(img.AttrOr("srcset", ""))
		}

		if src == "" {
			return
		}

		resolved := resolveURL(base, src)
		if resolved == "" {
			return
		}

		if _, dup := seen[resolved]; dup {
			return
		}

		seen[resolved] = struct{}{}

		caption := ""
		if figure := img.Closest("figure"); figure.Length() > 0 {
			caption = strings.Join(strings.Fields(figure.Find("figcaption").First().Text()), " ")
		}

		images = append(images, article.ImageRef{
			URL:     resolved,
			Alt:     strings.TrimSpace(img.AttrOr("alt", "")),
			Caption: caption,
		})
	})

	return images
}

// ExtractLinks collects every http(s) hyperlink on the full page in
// document order, deduplicated, marking links that stay on the page's
// domain.
func ExtractLinks(pageHTML, baseURL string) []article.LinkRef {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}

	base, _ := url.Parse(baseURL)
	baseDomain := urlnorm.Domain(baseURL)

	var links []article.LinkRef

	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}

		lower := strings.ToLower(href)

		for _, prefix := range skippedLinkPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return
			}
		}

		resolved := resolveURL(base, href)
		if resolved == "" {
			return
		}

		parsed, err := url.Parse(resolved)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return
		}

		if _, dup := seen[resolved]; dup {
			return
		}

		seen[resolved] = struct{}{}

		links = append(links, article.LinkRef{
			URL:      resolved,
			Text:     strings.Join(strings.Fields(a.Text()), " "),
			Rel:      strings.TrimSpace(a.AttrOr("rel", "")),
			Internal: urlnorm.Domain(resolved) == baseDomain,
		})
	})

	return links
}

// firstSrcset returns the URL of the first srcset candidate.
func firstSrcset(srcset string) string {
	srcset = strings.TrimSpace(srcset)
	if srcset == "" {
		return ""
	}

	first := strings.Split(srcset, ",")[0]

	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	if base != nil {
		ref = base.ResolveReference(ref)
	}

	return ref.String()
}
