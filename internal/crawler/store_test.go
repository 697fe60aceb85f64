package crawler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagesift/pagesift/internal/article"
)

func TestStoreSlugUniqueness(t *testing.T) {
	s, err := newStore(t.TempDir(), false)
	require.NoError(t, err)

	first, err := s.saveArticle(&article.Article{URL: "https://example.com/posts/go", Title: "One"})
	require.NoError(t, err)
	require.Equal(t, "posts-go", first)

	second, err := s.saveArticle(&article.Article{URL: "https://example.com/posts/go", Title: "Two"})
	require.NoError(t, err)
	require.Equal(t, "posts-go-2", second)

	third, err := s.saveArticle(&article.Article{URL: "https://example.com/posts/go", Title: "Three"})
	require.NoError(t, err)
	require.Equal(t, "posts-go-3", third)

	require.NoError(t, s.close())
}

func TestStoreIndexSortedByPublished(t *testing.T) {
	dir := t.TempDir()

	s, err := newStore(dir, false)
	require.NoError(t, err)

	_, err = s.saveArticle(&article.Article{URL: "https://example.com/old", PublishedAt: "2022-01-01T00:00:00Z"})
	require.NoError(t, err)

	_, err = s.saveArticle(&article.Article{URL: "https://example.com/undated"})
	require.NoError(t, err)

	_, err = s.saveArticle(&article.Article{URL: "https://example.com/new", PublishedAt: "2024-06-01T00:00:00Z"})
	require.NoError(t, err)

	require.NoError(t, s.close())

	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	require.NoError(t, err)

	var entries []indexEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 3)

	require.Equal(t, "https://example.com/new", entries[0].URL)
	require.Equal(t, "https://example.com/old", entries[1].URL)
	require.Equal(t, "https://example.com/undated", entries[2].URL)
}

func TestStoreDuplicateDetection(t *testing.T) {
	s, err := newStore(t.TempDir(), false)
	require.NoError(t, err)

	defer func() { require.NoError(t, s.close()) }()

	long := strings.Repeat("the same body text appears on both pages ", 20)

	require.False(t, s.isDuplicate(long, "https://example.com/a"))
	require.True(t, s.isDuplicate(long, "https://example.com/b"))

	// Short documents are never deduplicated.
	require.False(t, s.isDuplicate("tiny", "https://example.com/c"))
	require.False(t, s.isDuplicate("tiny", "https://example.com/d"))
}

func TestStoreValidatorsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := newStore(dir, false)
	require.NoError(t, err)

	s.setValidators("https://example.com/x", `"abc"`, "Mon, 01 Jan 2024 00:00:00 GMT")
	require.NoError(t, s.close())

	reopened, err := newStore(dir, false)
	require.NoError(t, err)

	defer func() { require.NoError(t, reopened.close()) }()

	v := reopened.validators("https://example.com/x")
	require.NotNil(t, v)
	require.Equal(t, `"abc"`, v.ETag)

	require.Nil(t, reopened.validators("https://example.com/unknown"))
}

func TestStoreResumeLoadsSeen(t *testing.T) {
	dir := t.TempDir()

	s, err := newStore(dir, false)
	require.NoError(t, err)

	s.markSeen("https://example.com/a")

	_, err = s.saveArticle(&article.Article{URL: "https://example.com/b", Title: "B"})
	require.NoError(t, err)
	require.NoError(t, s.close())

	resumed, err := newStore(dir, true)
	require.NoError(t, err)

	defer func() { require.NoError(t, resumed.close()) }()

	seen := resumed.seenURLs()
	require.Contains(t, seen, "https://example.com/a")
	require.Contains(t, seen, "https://example.com/b")

	// A resumed run continues slug numbering past the loaded index.
	slug, err := resumed.saveArticle(&article.Article{URL: "https://example.com/b", Title: "B again"})
	require.NoError(t, err)
	require.Equal(t, "b-2", slug)
}
