// Package article defines the record model produced by the extraction
// pipeline: the article itself, its structural blocks, media references
// and the raw metadata maps kept for downstream consumers.
package article

import (
	"encoding/json"
	"fmt"
)

// Block kinds.
const (
	BlockHeading    = "heading"
	BlockParagraph  = "paragraph"
	BlockImage      = "image"
	BlockCode       = "code"
	BlockList       = "list"
	BlockBlockquote = "blockquote"
	BlockTable      = "table"
)

// Article is the full extraction result for one page.
type Article struct {
	URL          string   `json:"url"`
	CanonicalURL string   `json:"canonical_url"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	PublishedAt  string   `json:"published_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
	SiteName     string   `json:"site_name"`
	Summary      string   `json:"summary"`
	Language     string   `json:"language"`
	Tags         []string `json:"tags"`

	WordCount          int     `json:"word_count"`
	ReadingTimeMinutes int     `json:"reading_time_minutes"`
	IsEmpty            bool    `json:"is_empty"`
	ArticleScore       int     `json:"article_score"`
	Confidence         float64 `json:"confidence"`
	ExtractionMethod   string  `json:"extraction_method_used"`
	FetchStrategy      string  `json:"fetch_strategy"`
	ScrapedAt          string  `json:"scraped_at"`

	IsBlocked   bool   `json:"is_blocked"`
	BlockType   string `json:"block_type,omitempty"`
	BlockReason string `json:"block_reason,omitempty"`

	ContentHTML     string `json:"content_html"`
	ContentMarkdown string `json:"content_markdown"`
	ContentText     string `json:"content_text"`

	Blocks []Block    `json:"blocks"`
	Images []ImageRef `json:"images"`
	Links  []LinkRef  `json:"links"`

	Raw            RawMetadata     `json:"raw_metadata"`
	Classification *Classification `json:"classification,omitempty"`
}

// RawMetadata keeps the harvested page metadata before any coalescing, so
// consumers can apply their own priority rules.
type RawMetadata struct {
	OpenGraph map[string]string `json:"open_graph"`
	Twitter   map[string]string `json:"twitter"`
	JSONLD    []map[string]any  `json:"json_ld"`
}

// ImageRef is one image found inside the extracted content.
type ImageRef struct {
	URL     string `json:"url"`
	Alt     string `json:"alt,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// LinkRef is one hyperlink found on the page.
type LinkRef struct {
	URL      string `json:"href"`
	Text     string `json:"text,omitempty"`
	Rel      string `json:"rel,omitempty"`
	Internal bool   `json:"is_internal"`
}

// Classification records how the page was judged before fetching content:
// the page kind, the strategy evidence and the word count that drove the
// decision.
type Classification struct {
	Kind             string   `json:"kind"`
	Strategy         string   `json:"recommended_strategy"`
	Confidence       float64  `json:"confidence"`
	Reason           string   `json:"reason"`
	Frameworks       []string `json:"frameworks,omitempty"`
	AMPURL           string   `json:"amp_url,omitempty"`
	FeedURL          string   `json:"feed_url,omitempty"`
	BodyWordCount    int      `json:"body_word_count"`
	HasArticleSchema bool     `json:"has_article_schema"`
}

// Block is one structural unit of the article body. Exactly the fields
// relevant to its Type are populated; JSON encoding keeps a flat shape
// with a "type" discriminator.
type Block struct {
	Type string

	// heading
	Level int
	// heading, paragraph, code, blockquote
	Text string
	// image
	Src     string
	Alt     string
	Caption string
	// code
	Language string
	// list
	Ordered bool
	Items   []string
	// table
	Rows [][]string
}

// Heading builds a heading block.
func Heading(level int, text string) Block {
	return Block{Type: BlockHeading, Level: level, Text: text}
}

// Paragraph builds a paragraph block.
func Paragraph(text string) Block {
	return Block{Type: BlockParagraph, Text: text}
}

// Image builds an image block.
func Image(src, alt, caption string) Block {
	return Block{Type: BlockImage, Src: src, Alt: alt, Caption: caption}
}

// Code builds a code block.
func Code(language, text string) Block {
	return Block{Type: BlockCode, Language: language, Text: text}
}

// List builds a list block.
func List(ordered bool, items []string) Block {
	return Block{Type: BlockList, Ordered: ordered, Items: items}
}

// Blockquote builds a blockquote block.
func Blockquote(text string) Block {
	return Block{Type: BlockBlockquote, Text: text}
}

// Table builds a table block.
func Table(rows [][]string) Block {
	return Block{Type: BlockTable, Rows: rows}
}

// MarshalJSON emits only the fields meaningful for the block type.
func (b Block) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockHeading:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Level int    `json:"level"`
			Text  string `json:"text"`
		}{b.Type, b.Level, b.Text})
	case BlockParagraph, BlockBlockquote:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case BlockImage:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Src     string `json:"src"`
			Alt     string `json:"alt,omitempty"`
			Caption string `json:"caption,omitempty"`
		}{b.Type, b.Src, b.Alt, b.Caption})
	case BlockCode:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Language string `json:"language,omitempty"`
			Text     string `json:"text"`
		}{b.Type, b.Language, b.Text})
	case BlockList:
		return json.Marshal(struct {
			Type    string   `json:"type"`
			Ordered bool     `json:"ordered"`
			Items   []string `json:"items"`
		}{b.Type, b.Ordered, b.Items})
	case BlockTable:
		return json.Marshal(struct {
			Type string     `json:"type"`
			Rows [][]string `json:"rows"`
		}{b.Type, b.Rows})
	default:
		return nil, fmt.Errorf("unknown block type %q", b.Type)
	}
}

// UnmarshalJSON restores a block from its flat JSON form.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string     `json:"type"`
		Level    int        `json:"level"`
		Text     string     `json:"text"`
		Src      string     `json:"src"`
		Alt      string     `json:"alt"`
		Caption  string     `json:"caption"`
		Language string     `json:"language"`
		Ordered  bool       `json:"ordered"`
		Items    []string   `json:"items"`
		Rows     [][]string `json:"rows"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = Block{
		Type:     raw.Type,
		Level:    raw.Level,
		Text:     raw.Text,
		Src:      raw.Src,
		Alt:      raw.Alt,
		Caption:  raw.Caption,
		Language: raw.Language,
		Ordered:  raw.Ordered,
		Items:    raw.Items,
		Rows:     raw.Rows,
	}

	return nil
}
