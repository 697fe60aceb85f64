// Package content finds the main article body in a page. Two library
// extractors run first (readability, trafilatura) with a DOM heuristic
// as the fallback; registered extractor plugins may override the winner
// when they find strictly more text.
package content

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/markusmobius/go-trafilatura"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/pagesift/pagesift/internal/plugin"
)

// Extraction method labels recorded on the article.
const (
	MethodReadability = "readability"
	MethodTrafilatura = "trafilatura"
	MethodDOM         = "dom_heuristic"
)

// Acceptance thresholds in words. Trafilatura tends to be terser, so it
// gets a lower bar; it only beats an accepted readability result when it
// finds substantially more text.
const (
	minReadabilityWords = 50
	minTrafilaturaWords = 30
	minDOMWords         = 10
	trafilaturaWinRatio = 1.4
)

const (
	fieldURL    = "url"
	fieldMethod = "method"
	fieldWords  = "words"
)

// Result is the chosen main content.
type Result struct {
	HTML      string
	Text      string
	WordCount int
	Method    string
}

// Extractor runs the cascade. The registry may be nil when no plugins
// are in play.
type Extractor struct {
	registry *plugin.Registry
	log      *zerolog.Logger
}

// NewExtractor wires the cascade with a plugin registry and logger.
func NewExtractor(registry *plugin.Registry, log *zerolog.Logger) *Extractor {
	return &Extractor{registry: registry, log: log}
}

// Extract picks the main content of the page.
func (e *Extractor) Extract(rawHTML, pageURL string) Result {
	cleaned := StripTemplates(rawHTML)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleaned))
	if err != nil {
		return Result{}
	}

	RemoveConsent(doc)

	// Re-serialize so both extractors see the scrubbed document.
	scrubbed, err := doc.Html()
	if err != nil {
		scrubbed = cleaned
	}

	res := e.cascade(scrubbed, pageURL, doc)
	res = e.applyPlugins(res, scrubbed, pageURL)

	e.log.Debug().
		Str(fieldURL, pageURL).
		Str(fieldMethod, res.Method).
		Int(fieldWords, res.WordCount).
		Msg("Content extracted")

	return res
}

func (e *Extractor) cascade(scrubbed, pageURL string, doc *goquery.Document) Result {
	rd := e.tryReadability(scrubbed, pageURL)
	tf := e.tryTrafilatura(scrubbed, pageURL)

	rdOK := rd.WordCount >= minReadabilityWords
	tfOK := tf.WordCount >= minTrafilaturaWords

	switch {
	case rdOK && tfOK:
		if float64(tf.WordCount) >= float64(rd.WordCount)*trafilaturaWinRatio {
			return tf
		}

		return rd
	case rdOK:
		return rd
	case tfOK:
		return tf
	}

	htmlOut, textOut := domExtract(doc)

	return Result{
		HTML:      htmlOut,
		Text:      textOut,
		WordCount: wordCount(textOut),
		Method:    MethodDOM,
	}
}

func (e *Extractor) tryReadability(pageHTML, pageURL string) Result {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = nil
	}

	art, err := readability.FromReader(strings.NewReader(pageHTML), u)
	if err != nil {
		return Result{Method: MethodReadability}
	}

	text := strings.Join(strings.Fields(art.TextContent), " ")

	return Result{
		HTML:      art.Content,
		Text:      text,
		WordCount: wordCount(text),
		Method:    MethodReadability,
	}
}

func (e *Extractor) tryTrafilatura(pageHTML, pageURL string) Result {
	u, _ := url.Parse(pageURL)

	res, err := trafilatura.Extract(strings.NewReader(pageHTML), trafilatura.Options{
		OriginalURL:   u,
		IncludeImages: true,
		IncludeLinks:  false,
		Focus:         trafilatura.Balanced,
	})
	if err != nil || res == nil {
		return Result{Method: MethodTrafilatura}
	}

	text := strings.Join(strings.Fields(res.ContentText), " ")

	return Result{
		HTML:      renderNode(res.ContentNode),
		Text:      text,
		WordCount: wordCount(text),
		Method:    MethodTrafilatura,
	}
}

// applyPlugins lets registered extractors override the cascade when they
// recover strictly more words. First improvement wins.
func (e *Extractor) applyPlugins(current Result, pageHTML, pageURL string) Result {
	if e.registry == nil {
		return current
	}

	for _, ext := range e.registry.Extractors() {
		if !ext.CanExtract(pageURL, pageHTML) {
			continue
		}

		candidate, ok := ext.Extract(pageHTML, pageURL)
		if !ok {
			continue
		}

		candText := htmlText(candidate)

		if wc := wordCount(candText); wc > current.WordCount {
			e.log.Debug().
				Str(fieldURL, pageURL).
				Str(fieldMethod, ext.Name()).
				Int(fieldWords, wc).
				Msg("Extractor plugin override")

			return Result{
				HTML:      candidate,
				Text:      candText,
				WordCount: wc,
				Method:    ext.Name(),
			}
		}
	}

	return current
}

func renderNode(node *html.Node) string {
	if node == nil {
		return ""
	}

	var buf bytes.Buffer

	if err := html.Render(&buf, node); err != nil {
		return ""
	}

	return buf.String()
}

func htmlText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}
