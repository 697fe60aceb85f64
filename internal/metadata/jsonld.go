package metadata

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// JSON-LD @type values that describe long-form writing.
var articleTypes = map[string]struct{}{
	"article":          {},
	"blogging":         {},
	"blogposting":      {},
	"newsarticle":      {},
	"techarticle":      {},
	"scholarlyarticle": {},
	"liveblogposting":  {},
	"reportage":        {},
}

// Page-level types used only when no article node was found.
var pageTypes = map[string]struct{}{
	"webpage": {},
	"website": {},
}

// parseJSONLD collects every ld+json object on the page, flattening
// top-level arrays and @graph containers.
func parseJSONLD(doc *goquery.Document) []map[string]any {
	var out []map[string]any

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}

		var payload any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return
		}

		out = append(out, flattenLD(payload)...)
	})

	return out
}

func flattenLD(payload any) []map[string]any {
	switch v := payload.(type) {
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			var out []map[string]any

			for _, item := range graph {
				out = append(out, flattenLD(item)...)
			}

			return out
		}

		return []map[string]any{v}
	case []any:
		var out []map[string]any

		for _, item := range v {
			out = append(out, flattenLD(item)...)
		}

		return out
	default:
		return nil
	}
}

// articleNode picks the most relevant JSON-LD object: the first with an
// article type, falling back to a webpage/website node.
func articleNode(nodes []map[string]any) map[string]any {
	var pageFallback map[string]any

	for _, node := range nodes {
		for _, typ := range nodeTypes(node) {
			if _, ok := articleTypes[typ]; ok {
				return node
			}

			if _, ok := pageTypes[typ]; ok && pageFallback == nil {
				pageFallback = node
			}
		}
	}

	return pageFallback
}

func nodeTypes(node map[string]any) []string {
	switch v := node["@type"].(type) {
	case string:
		return []string{strings.ToLower(v)}
	case []any:
		var out []string

		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, strings.ToLower(s))
			}
		}

		return out
	default:
		return nil
	}
}

// ldString returns a string field from a JSON-LD node, or "".
func ldString(node map[string]any, key string) string {
	if node == nil {
		return ""
	}

	if s, ok := node[key].(string); ok {
		return strings.TrimSpace(s)
	}

	return ""
}

// ldName resolves a person or organization field that may be a string, an
// object with a name, or a list of either.
func ldName(node map[string]any, key string) string {
	if node == nil {
		return ""
	}

	return nameOf(node[key])
}

func nameOf(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		if name, ok := val["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	case []any:
		for _, item := range val {
			if name := nameOf(item); name != "" {
				return name
			}
		}
	}

	return ""
}

// ldKeywords normalizes the keywords field, which may be a CSV string or
// a list.
func ldKeywords(node map[string]any) []string {
	if node == nil {
		return nil
	}

	switch v := node["keywords"].(type) {
	case string:
		var out []string

		for _, kw := range strings.Split(v, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				out = append(out, kw)
			}
		}

		return out
	case []any:
		var out []string

		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}

		return out
	default:
		return nil
	}
}

// ldImages extracts image URLs with optional descriptions from a JSON-LD
// node. Entries may be plain strings or ImageObject maps.
func ldImages(node map[string]any) [][2]string {
	if node == nil {
		return nil
	}

	var out [][2]string

	collect := func(v any) {
		switch img := v.(type) {
		case string:
			if img = strings.TrimSpace(img); img != "" {
				out = append(out, [2]string{img, ""})
			}
		case map[string]any:
			u, _ := img["url"].(string)
			desc, _ := img["description"].(string)

			if u = strings.TrimSpace(u); u != "" {
				out = append(out, [2]string{u, strings.TrimSpace(desc)})
			}
		}
	}

	switch v := node["image"].(type) {
	case []any:
		for _, item := range v {
			collect(item)
		}
	default:
		collect(v)
	}

	return out
}
