package crawler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pagesift/pagesift/internal/adaptive"
	"github.com/pagesift/pagesift/internal/fetch"
	"github.com/pagesift/pagesift/internal/plugin"
	"github.com/pagesift/pagesift/internal/query"
	"github.com/pagesift/pagesift/internal/render"
)

func articlePage(title, topic string) string {
	para := "<p>" + strings.Repeat(topic+" explained in depth with plenty of unique detail ", 12) + "</p>"

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<title>%s</title>
<meta property="og:type" content="article">
<script type="application/ld+json">
{"@type": "BlogPosting", "headline": %q, "author": {"name": "Jane Dev"},
 "datePublished": "2024-03-15T10:00:00Z"}
</script>
</head>
<body><article><h1>%s</h1>%s</article></body>
</html>`, title, title, title, strings.Repeat(para, 4))
}

func hubPage(links ...string) string {
	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html><html><head><title>Hub</title></head><body><h1>Hub</h1>")

	for _, link := range links {
		sb.WriteString(fmt.Sprintf(`<p><a href=%q>%s</a></p>`, link, link))
	}

	sb.WriteString("</body></html>")

	return sb.String()
}

func testSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write([]byte(hubPage("/posts/alpha", "/posts/beta", "/wp-admin/options.php", "https://elsewhere.example/off-site")))
	})
	mux.HandleFunc("/posts/alpha", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articlePage("Alpha", "goroutine scheduling")))
	})
	mux.HandleFunc("/posts/beta", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articlePage("Beta", "garbage collector tuning")))
	})
	mux.HandleFunc("/posts/gamma", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articlePage("Gamma", "profile guided optimization")))
	})
	mux.HandleFunc("/posts/delta", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articlePage("Delta", "escape analysis internals")))
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")

		body := `<?xml version="1.0"?><urlset><url><loc>http://` + r.Host + `/posts/gamma</loc></url></urlset>`
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")

		body := `<?xml version="1.0"?><rss version="2.0"><channel><title>Site</title>
<item><title>Delta</title><link>http://` + r.Host + `/posts/delta</link></item>
</channel></rss>`
		_, _ = w.Write([]byte(body))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func testCrawler(t *testing.T, cfg *Config) *Crawler {
	return testCrawlerWithRenderer(t, cfg, nil)
}

func testCrawlerWithRenderer(t *testing.T, cfg *Config, renderer render.Renderer) *Crawler {
	t.Helper()

	log := zerolog.Nop()
	client := fetch.NewClient(nil, nil, &log)
	engine := query.New(query.Config{
		Client:   client,
		Fetcher:  adaptive.NewFetcher(client, nil, nil, &log),
		Registry: plugin.NewRegistry(),
	}, &log)

	c, err := New(cfg, engine, client, renderer, &log)
	require.NoError(t, err)

	return c
}

func baseConfig(srvURL, dir string) *Config {
	return &Config{
		StartURL:      srvURL,
		MaxPages:      20,
		MaxDepth:      2,
		Delay:         time.Millisecond,
		Concurrency:   2,
		RespectRobots: false,
		OutputDir:     dir,
	}
}

func readIndex(t *testing.T, dir string) []indexEntry {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	require.NoError(t, err)

	var entries []indexEntry
	require.NoError(t, json.Unmarshal(data, &entries))

	return entries
}

func TestCrawlCollectsArticles(t *testing.T) {
	srv := testSite(t)
	dir := t.TempDir()

	c := testCrawler(t, baseConfig(srv.URL, dir))
	require.NoError(t, c.Run(context.Background()))

	entries := readIndex(t, dir)

	urls := make(map[string]bool, len(entries))
	for _, e := range entries {
		urls[e.URL] = true
	}

	for _, path := range []string{"/posts/alpha", "/posts/beta", "/posts/gamma", "/posts/delta"} {
		if !urls[srv.URL+path] {
			t.Errorf("article %s missing from index", path)
		}
	}

	for u := range urls {
		require.Contains(t, u, srv.URL, "index holds off-domain URL %s", u)
	}

	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, articlesDirName, e.Slug+".json"))
		require.NoError(t, err)
		require.Contains(t, string(data), e.URL)
	}

	var snap Snapshot

	data, err := os.ReadFile(filepath.Join(dir, telemetryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &snap))
	require.NotEmpty(t, snap.RunID)
	require.Equal(t, len(entries), snap.Articles)
	require.Greater(t, snap.Responses, 0)
}

func TestCrawlExcludesAdminAndOffsite(t *testing.T) {
	srv := testSite(t)
	dir := t.TempDir()

	c := testCrawler(t, baseConfig(srv.URL, dir))
	require.NoError(t, c.Run(context.Background()))

	seenData, err := os.ReadFile(filepath.Join(dir, seenFileName))
	require.NoError(t, err)

	sc := bufio.NewScanner(strings.NewReader(string(seenData)))
	for sc.Scan() {
		line := sc.Text()

		require.NotContains(t, line, "wp-admin", "hard-excluded URL was enqueued")
		require.NotContains(t, line, "elsewhere.example", "off-domain URL was enqueued")
	}
}

func TestCrawlIncludePatternGatesExtractionOnly(t *testing.T) {
	srv := testSite(t)
	dir := t.TempDir()

	cfg := baseConfig(srv.URL, dir)
	cfg.IncludePattern = `/posts/(alpha|beta)`

	c := testCrawler(t, cfg)
	require.NoError(t, c.Run(context.Background()))

	entries := readIndex(t, dir)
	for _, e := range entries {
		require.Regexp(t, `/posts/(alpha|beta)$`, e.URL)
	}

	skipData, err := os.ReadFile(filepath.Join(dir, skipFileName))
	require.NoError(t, err)
	require.Contains(t, string(skipData), skipIncludeMismatch)
}

func TestCrawlHonorsPageBudget(t *testing.T) {
	srv := testSite(t)
	dir := t.TempDir()

	cfg := baseConfig(srv.URL, dir)
	cfg.MaxPages = 2

	c := testCrawler(t, cfg)
	require.NoError(t, c.Run(context.Background()))

	entries := readIndex(t, dir)
	require.LessOrEqual(t, len(entries), 2)

	var snap Snapshot

	data, err := os.ReadFile(filepath.Join(dir, telemetryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, reasonMaxPages, snap.Reason)
}

func TestCrawlResumeSkipsSeen(t *testing.T) {
	srv := testSite(t)
	dir := t.TempDir()

	c := testCrawler(t, baseConfig(srv.URL, dir))
	require.NoError(t, c.Run(context.Background()))

	firstCount := len(readIndex(t, dir))
	require.Greater(t, firstCount, 0)

	cfg := baseConfig(srv.URL, dir)
	cfg.Resume = true

	second := testCrawler(t, cfg)
	require.NoError(t, second.Run(context.Background()))

	require.Len(t, readIndex(t, dir), firstCount, "resume re-crawled seen pages")
}

func TestCrawlRespectsRobots(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /posts/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(hubPage("/posts/alpha")))

			return
		}

		_, _ = w.Write([]byte(articlePage("Alpha", "goroutine scheduling")))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	cfg := baseConfig(srv.URL, dir)
	cfg.RespectRobots = true

	c := testCrawler(t, cfg)
	require.NoError(t, c.Run(context.Background()))

	require.Empty(t, readIndex(t, dir))

	skipData, err := os.ReadFile(filepath.Join(dir, skipFileName))
	require.NoError(t, err)
	require.Contains(t, string(skipData), skipRobots)
}

type recordingRenderer struct {
	mu    sync.Mutex
	html  string
	calls []string
}

func (r *recordingRenderer) Render(_ context.Context, url string, _ render.Options) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, url)

	return r.html, nil
}

func (r *recordingRenderer) Close() error { return nil }

func spaShell() string {
	return `<!DOCTYPE html><html><head><title>App</title></head>
<body><div id="root"></div><script src="/static/js/main.js"></script></body></html>`
}

func TestCrawlRenderAutoEscalatesScriptDrivenPages(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write([]byte(hubPage("/app")))
	})
	mux.HandleFunc("/app", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(spaShell()))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	cfg := baseConfig(srv.URL, dir)
	cfg.RenderJS = RenderAuto

	renderer := &recordingRenderer{html: articlePage("App", "webassembly runtime internals")}

	c := testCrawlerWithRenderer(t, cfg, renderer)
	require.NoError(t, c.Run(context.Background()))

	require.Contains(t, renderer.calls, srv.URL+"/app", "script-driven page never reached the renderer")

	entries := readIndex(t, dir)
	require.Len(t, entries, 1)
	require.Equal(t, srv.URL+"/app", entries[0].URL)
}

func TestCrawlRenderNeverStaysStatic(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(spaShell()))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	cfg := baseConfig(srv.URL, dir)
	cfg.RenderJS = RenderNever

	renderer := &recordingRenderer{html: articlePage("App", "never used")}

	c := testCrawlerWithRenderer(t, cfg, renderer)
	require.NoError(t, c.Run(context.Background()))

	require.Empty(t, renderer.calls, "renderer ran despite render mode never")
	require.Empty(t, readIndex(t, dir))
}

func TestCrawlExcludePatternBlocksTraversal(t *testing.T) {
	srv := testSite(t)
	dir := t.TempDir()

	cfg := baseConfig(srv.URL, dir)
	cfg.ExcludePattern = `/posts/beta`

	c := testCrawler(t, cfg)
	require.NoError(t, c.Run(context.Background()))

	for _, e := range readIndex(t, dir) {
		require.NotContains(t, e.URL, "/posts/beta")
	}

	seenData, err := os.ReadFile(filepath.Join(dir, seenFileName))
	require.NoError(t, err)
	require.NotContains(t, string(seenData), "/posts/beta", "excluded URL was enqueued")
}

func TestCrawlDiscoversAdvertisedFeed(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write([]byte(`<!DOCTYPE html><html><head><title>Home</title>
<link rel="alternate" type="application/rss+xml" href="/updates.rss">
</head><body><h1>Home</h1><p>Short landing page.</p></body></html>`))
	})
	mux.HandleFunc("/updates.rss", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")

		body := `<?xml version="1.0"?><rss version="2.0"><channel><title>Updates</title>
<item><title>Delta</title><link>http://` + r.Host + `/posts/delta</link></item>
</channel></rss>`
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/posts/delta", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articlePage("Delta", "escape analysis internals")))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()

	c := testCrawler(t, baseConfig(srv.URL, dir))
	require.NoError(t, c.Run(context.Background()))

	entries := readIndex(t, dir)
	require.Len(t, entries, 1)
	require.Equal(t, srv.URL+"/posts/delta", entries[0].URL)
}

func TestCrawlDeltaSkipsUnchangedPages(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)

			return
		}

		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)

			return
		}

		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(articlePage("Alpha", "goroutine scheduling")))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()

	cfg := baseConfig(srv.URL, dir)
	cfg.Delta = true

	c := testCrawler(t, cfg)
	require.NoError(t, c.Run(context.Background()))
	require.Len(t, readIndex(t, dir), 1)

	cfg = baseConfig(srv.URL, dir)
	cfg.Delta = true

	second := testCrawler(t, cfg)
	require.NoError(t, second.Run(context.Background()))

	skipData, err := os.ReadFile(filepath.Join(dir, skipFileName))
	require.NoError(t, err)
	require.Contains(t, string(skipData), skipNotModified)
}

func TestCrawlAllowSubdomainsAndExtraDomains(t *testing.T) {
	dir := t.TempDir()

	cfg := &Config{
		StartURL:        "https://example.com",
		ExtraDomains:    []string{"cdn.example.net"},
		AllowSubdomains: true,
		OutputDir:       dir,
	}

	c := testCrawler(t, cfg)

	require.True(t, c.domainAllowed("example.com"))
	require.True(t, c.domainAllowed("blog.example.com"))
	require.True(t, c.domainAllowed("cdn.example.net"))
	require.False(t, c.domainAllowed("example.org"))
	require.False(t, c.domainAllowed("notexample.com"))

	cfg = &Config{StartURL: "https://example.com", OutputDir: t.TempDir()}

	strict := testCrawler(t, cfg)

	require.True(t, strict.domainAllowed("example.com"))
	require.False(t, strict.domainAllowed("blog.example.com"))
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.ErrorIs(t, cfg.Validate(), errNoStartURL)

	cfg = &Config{StartURL: "https://Example.com/blog"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "example.com", cfg.AllowedDomain)
	require.Equal(t, 200, cfg.MaxPages)
	require.Equal(t, 1, cfg.Concurrency)
	require.Equal(t, RenderAuto, cfg.RenderJS)

	cfg = &Config{StartURL: "https://example.com", IncludePattern: "("}
	require.ErrorIs(t, cfg.Validate(), errBadPattern)

	cfg = &Config{StartURL: "https://example.com", ExcludePattern: "("}
	require.ErrorIs(t, cfg.Validate(), errBadPattern)

	cfg = &Config{StartURL: "https://example.com", RenderJS: "sometimes"}
	require.ErrorIs(t, cfg.Validate(), errBadRenderJS)

	cfg = &Config{StartURL: "https://example.com", PageActionsJSON: "not json"}
	require.ErrorIs(t, cfg.Validate(), errBadActions)

	cfg = &Config{
		StartURL:        "https://example.com",
		PageActionsJSON: `[{"type":"click","selector":".more"},{"type":"wait","duration":"500ms"}]`,
	}
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.PageActions, 2)
	require.Equal(t, render.ActionClick, cfg.PageActions[0].Type)
	require.Equal(t, ".more", cfg.PageActions[0].Selector)
}

func TestParseSitemapVariants(t *testing.T) {
	nested, pages := parseSitemap(`<?xml version="1.0"?>
<sitemapindex><sitemap><loc>https://example.com/sitemap-posts.xml</loc></sitemap></sitemapindex>`)
	require.Equal(t, []string{"https://example.com/sitemap-posts.xml"}, nested)
	require.Empty(t, pages)

	nested, pages = parseSitemap(`<?xml version="1.0"?>
<urlset><url><loc>https://example.com/a</loc></url><url><loc> https://example.com/b </loc></url></urlset>`)
	require.Empty(t, nested)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, pages)

	nested, pages = parseSitemap("not xml at all")
	require.Empty(t, nested)
	require.Empty(t, pages)
}
