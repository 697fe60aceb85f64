// Package feed parses RSS and Atom documents into a flat entry list for
// seeding fetches and crawls.
package feed

import (
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Entry is one feed item reduced to the fields the engine consumes.
type Entry struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Published string `json:"published,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Result is the parsed feed.
type Result struct {
	Kind    string  `json:"kind"` // "rss" or "atom"
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
}

// Parse reads an RSS or Atom document. Relative entry links are resolved
// against baseURL. Malformed XML yields an empty result rather than an
// error; the caller treats a feed with no entries as a non-feed. External
// entities are never resolved by the underlying parser.
func Parse(xml, baseURL string) Result {
	fp := gofeed.NewParser()

	parsed, err := fp.ParseString(xml)
	if err != nil || parsed == nil {
		return Result{}
	}

	base, _ := url.Parse(baseURL)

	res := Result{
		Kind:  strings.ToLower(parsed.FeedType),
		Title: strings.TrimSpace(parsed.Title),
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}

		link := entryLink(item, base)
		if link == "" {
			continue
		}

		res.Entries = append(res.Entries, Entry{
			URL:       link,
			Title:     strings.TrimSpace(item.Title),
			Author:    entryAuthor(item),
			Published: entryPublished(item),
			Summary:   entrySummary(item),
		})
	}

	res.Total = len(res.Entries)

	return res
}

// entryLink prefers the item link, falling back to a GUID that is itself
// a URL (RSS permalink guids).
func entryLink(item *gofeed.Item, base *url.URL) string {
	link := strings.TrimSpace(item.Link)

	if link == "" {
		guid := strings.TrimSpace(item.GUID)
		if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
			link = guid
		}
	}

	if link == "" {
		return ""
	}

	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}

	if base != nil {
		ref = base.ResolveReference(ref)
	}

	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}

	return ref.String()
}

func entryAuthor(item *gofeed.Item) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}

	for _, person := range item.Authors {
		if person != nil && strings.TrimSpace(person.Name) != "" {
			return strings.TrimSpace(person.Name)
		}
	}

	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return strings.TrimSpace(item.DublinCoreExt.Creator[0])
	}

	return ""
}

func entryPublished(item *gofeed.Item) string {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC().Format(time.RFC3339)
	}

	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Date) > 0 {
		return strings.TrimSpace(item.DublinCoreExt.Date[0])
	}

	return strings.TrimSpace(item.Published)
}

func entrySummary(item *gofeed.Item) string {
	if desc := strings.TrimSpace(item.Description); desc != "" {
		return desc
	}

	return strings.TrimSpace(item.Content)
}
