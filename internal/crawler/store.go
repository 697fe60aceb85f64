package crawler

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pagesift/pagesift/internal/article"
	"github.com/pagesift/pagesift/internal/fetch"
	"github.com/pagesift/pagesift/internal/platform/observability"
	"github.com/pagesift/pagesift/internal/urlnorm"
)

const (
	articlesDirName = "articles"
	indexFileName   = "index.json"
	seenFileName    = "seen_urls.txt"
	skipFileName    = "skipped.jsonl"
	cacheFileName   = "cache.json"
	telemetryFile   = "telemetry.json"

	// Content hashing covers at most this many characters; shorter
	// documents than dedupMinChars are never deduplicated.
	dedupHashChars = 5000
	dedupMinChars  = 100
	dedupHashLen   = 16
)

// indexEntry is one row of index.json.
type indexEntry struct {
	Slug               string   `json:"slug"`
	URL                string   `json:"url"`
	Title              string   `json:"title"`
	Author             string   `json:"author,omitempty"`
	PublishedAt        string   `json:"published_at,omitempty"`
	Summary            string   `json:"summary,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	WordCount          int      `json:"word_count"`
	ReadingTimeMinutes int      `json:"reading_time_minutes"`
	ExtractionMethod   string   `json:"extraction_method_used"`
}

type skipRecord struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Depth  int    `json:"depth"`
	At     string `json:"at"`
}

type cacheEntry struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// store owns the flat-file outputs of a crawl: per-article JSON under
// articles/, index.json, the append-only seen list, the skip log and the
// conditional request cache.
type store struct {
	mu      sync.Mutex
	dir     string
	entries []indexEntry
	slugs   map[string]int
	hashes  map[string]string
	cache   map[string]cacheEntry

	seenFile *os.File
	skipFile *os.File
}

func newStore(dir string, resume bool) (*store, error) {
	if err := os.MkdirAll(filepath.Join(dir, articlesDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	seenFile, err := os.OpenFile(filepath.Join(dir, seenFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open seen list: %w", err)
	}

	skipFlags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		skipFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	skipFile, err := os.OpenFile(filepath.Join(dir, skipFileName), skipFlags, 0o644)
	if err != nil {
		_ = seenFile.Close()

		return nil, fmt.Errorf("open skip log: %w", err)
	}

	s := &store{
		dir:      dir,
		slugs:    make(map[string]int),
		hashes:   make(map[string]string),
		cache:    make(map[string]cacheEntry),
		seenFile: seenFile,
		skipFile: skipFile,
	}

	s.loadCache()

	if resume {
		if err := s.loadIndex(); err != nil {
			_ = seenFile.Close()
			_ = skipFile.Close()

			return nil, err
		}
	}

	return s, nil
}

// seenURLs returns the URLs a resumed run must not revisit: every line
// of seen_urls.txt plus the index entries, re-normalized.
func (s *store) seenURLs() []string {
	data, err := os.ReadFile(filepath.Join(s.dir, seenFileName))
	if err != nil {
		data = nil
	}

	var urls []string

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			urls = append(urls, urlnorm.Normalize(line))
		}
	}

	for _, entry := range s.entries {
		urls = append(urls, urlnorm.Normalize(entry.URL))
	}

	return urls
}

func (s *store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read index: %w", err)
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}

	for _, entry := range s.entries {
		s.slugs[baseSlug(entry.Slug)]++
	}

	return nil
}

func (s *store) loadCache() {
	data, err := os.ReadFile(filepath.Join(s.dir, cacheFileName))
	if err != nil {
		return
	}

	_ = json.Unmarshal(data, &s.cache)
}

// markSeen appends one URL to the on-disk seen list.
func (s *store) markSeen(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.seenFile.WriteString(url + "\n")
}

// logSkip appends a skip record and bumps the skip counter.
func (s *store) logSkip(url, reason string, depth int) {
	rec := skipRecord{
		URL:    url,
		Reason: reason,
		Depth:  depth,
		At:     time.Now().UTC().Format(time.RFC3339),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return
	}

	s.mu.Lock()
	_, _ = s.skipFile.Write(append(line, '\n'))
	s.mu.Unlock()

	observability.CrawlSkips.WithLabelValues(reason).Inc()
}

// isDuplicate hashes the leading content text and reports whether the
// same hash was emitted before. Short documents are never deduplicated.
func (s *store) isDuplicate(text, url string) bool {
	if len(text) < dedupMinChars {
		return false
	}

	if len(text) > dedupHashChars {
		text = text[:dedupHashChars]
	}

	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])[:dedupHashLen]

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.hashes[hash]; dup {
		return true
	}

	s.hashes[hash] = url

	return false
}

// saveArticle writes one article JSON under articles/ and records its
// index entry. Slug collisions get -2, -3 suffixes.
func (s *store) saveArticle(art *article.Article) (string, error) {
	s.mu.Lock()

	base := urlnorm.Slug(art.URL)

	slug := base

	s.slugs[base]++
	if n := s.slugs[base]; n > 1 {
		slug = base + "-" + strconv.Itoa(n)
	}

	s.entries = append(s.entries, indexEntry{
		Slug:               slug,
		URL:                art.URL,
		Title:              art.Title,
		Author:             art.Author,
		PublishedAt:        art.PublishedAt,
		Summary:            art.Summary,
		Tags:               art.Tags,
		WordCount:          art.WordCount,
		ReadingTimeMinutes: art.ReadingTimeMinutes,
		ExtractionMethod:   art.ExtractionMethod,
	})
	s.mu.Unlock()

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal article: %w", err)
	}

	path := filepath.Join(s.dir, articlesDirName, slug+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write article: %w", err)
	}

	return slug, nil
}

// validators returns cached conditional headers for a URL, if any.
func (s *store) validators(url string) *fetch.ConditionalHeaders {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[url]
	if !ok || (entry.ETag == "" && entry.LastModified == "") {
		return nil
	}

	return &fetch.ConditionalHeaders{ETag: entry.ETag, LastModified: entry.LastModified}
}

// setValidators records the validators a response carried.
func (s *store) setValidators(url, etag, lastModified string) {
	if etag == "" && lastModified == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[url] = cacheEntry{ETag: etag, LastModified: lastModified}
}

// close writes index.json and cache.json and releases the log files.
// Index entries sort by published_at descending with undated entries
// last, ties broken by slug.
func (s *store) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i].PublishedAt, s.entries[j].PublishedAt

		if (a == "") != (b == "") {
			return a != ""
		}

		if a != b {
			return a > b
		}

		return s.entries[i].Slug < s.entries[j].Slug
	})

	entries := s.entries
	if entries == nil {
		entries = []indexEntry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, indexFileName), data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	if cacheData, err := json.MarshalIndent(s.cache, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(s.dir, cacheFileName), cacheData, 0o644)
	}

	if err := s.seenFile.Close(); err != nil {
		return fmt.Errorf("close seen list: %w", err)
	}

	if err := s.skipFile.Close(); err != nil {
		return fmt.Errorf("close skip log: %w", err)
	}

	return nil
}

// baseSlug strips a numeric uniqueness suffix.
func baseSlug(slug string) string {
	i := strings.LastIndex(slug, "-")
	if i <= 0 {
		return slug
	}

	if _, err := strconv.Atoi(slug[i+1:]); err != nil {
		return slug
	}

	return slug[:i]
}
