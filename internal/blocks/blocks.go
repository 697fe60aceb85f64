// Package blocks decomposes extracted content HTML into an ordered list
// of structural blocks (headings, paragraphs, images, code, lists,
// quotes, tables) for consumers that want structure rather than markup.
package blocks

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pagesift/pagesift/internal/article"
)

var blockTags = map[string]struct{}{
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"p": {}, "img": {}, "figure": {}, "pre": {},
	"ul": {}, "ol": {}, "blockquote": {}, "table": {},
}

// Containers whose inner markup is consumed as a whole rather than
// recursed into.
var leafContainers = map[string]struct{}{
	"pre": {}, "table": {}, "ul": {}, "ol": {}, "blockquote": {},
}

var strippedTags = "nav, header, footer, script, style, noscript"

var langClassRe = regexp.MustCompile(`language-(\w+)`)

// Extract walks the content HTML and emits blocks in document order.
func Extract(contentHTML string) []article.Block {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(contentHTML))
	if err != nil {
		return nil
	}

	doc.Find(strippedTags).Remove()

	var out []article.Block

	doc.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		walk(s, &out)
	})

	return out
}

func walk(s *goquery.Selection, out *[]article.Block) {
	tag := goquery.NodeName(s)

	if _, isBlock := blockTags[tag]; isBlock {
		emit(tag, s, out)
		return
	}

	// Non-block containers (div, section, article, ...) are transparent.
	s.Children().Each(func(_ int, child *goquery.Selection) {
		walk(child, out)
	})
}

func emit(tag string, s *goquery.Selection, out *[]article.Block) {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		if text := collapse(s.Text()); text != "" {
			*out = append(*out, article.Heading(int(tag[1]-'0'), text))
		}
	case "p":
		emitParagraph(s, out)
	case "img":
		emitImage(s, "", out)
	case "figure":
		caption := collapse(s.Find("figcaption").First().Text())
		s.Find("img").Each(func(_ int, img *goquery.Selection) {
			emitImage(img, caption, out)
		})
	case "pre":
		emitCode(s, out)
	case "ul", "ol":
		emitList(tag == "ol", s, out)
	case "blockquote":
		if text := collapse(s.Text()); text != "" {
			*out = append(*out, article.Blockquote(text))
		}
	case "table":
		emitTable(s, out)
	}
}

// emitParagraph treats a paragraph holding only images as a run of image
// blocks; anything with text stays a paragraph.
func emitParagraph(s *goquery.Selection, out *[]article.Block) {
	text := collapse(s.Text())

	if text == "" {
		s.Find("img").Each(func(_ int, img *goquery.Selection) {
			emitImage(img, "", out)
		})

		return
	}

	*out = append(*out, article.Paragraph(text))
}

func emitImage(img *goquery.Selection, caption string, out *[]article.Block) {
	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" {
		return
	}

	*out = append(*out, article.Image(src, strings.TrimSpace(img.AttrOr("alt", "")), caption))
}

func emitCode(pre *goquery.Selection, out *[]article.Block) {
	code := pre.Find("code").First()

	lang := language(pre.AttrOr("class", ""))
	if lang == "" && code.Length() > 0 {
		lang = language(code.AttrOr("class", ""))
	}

	text := pre.Text()
	if code.Length() > 0 {
		text = code.Text()
	}

	text = strings.Trim(text, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}

	*out = append(*out, article.Code(lang, text))
}

func language(class string) string {
	m := langClassRe.FindStringSubmatch(class)
	if m == nil {
		return ""
	}

	return m[1]
}

func emitList(ordered bool, s *goquery.Selection, out *[]article.Block) {
	items := listItems(s.ChildrenFiltered("li"))
	if len(items) == 0 {
		items = listItems(s.Find("li"))
	}

	if len(items) == 0 {
		return
	}

	*out = append(*out, article.List(ordered, items))
}

func listItems(lis *goquery.Selection) []string {
	var items []string

	lis.Each(func(_ int, li *goquery.Selection) {
		if text := collapse(li.Text()); text != "" {
			items = append(items, text)
		}
	})

	return items
}

func emitTable(s *goquery.Selection, out *[]article.Block) {
	var rows [][]string

	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string

		empty := true

		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			text := collapse(cell.Text())
			if text != "" {
				empty = false
			}

			row = append(row, text)
		})

		if !empty {
			rows = append(rows, row)
		}
	})

	if len(rows) == 0 {
		return
	}

	*out = append(*out, article.Table(rows))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
