package adaptive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pagesift/pagesift/internal/fetch"
	"github.com/pagesift/pagesift/internal/render"
)

func newFetcher(r render.Renderer) *Fetcher {
	log := zerolog.Nop()

	return NewFetcher(fetch.NewClient(nil, nil, &log), r, nil, &log)
}

func fullArticle() string {
	return "<html><head><title>T</title></head><body><article>" +
		strings.Repeat("plenty of static words here ", 60) +
		"</article></body></html>"
}

func thinPage() string {
	return "<html><head><title>Thin</title></head><body><p>stub page with very little in it at all honestly just filler tokens to pass twenty words</p></body></html>"
}

func TestStaticPageShortCircuits(t *testing.T) {
	var mobileSeen bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("User-Agent"), "iPhone") {
			mobileSeen = true
		}

		w.Write([]byte(fullArticle()))
	}))
	defer srv.Close()

	res, err := newFetcher(nil).Fetch(context.Background(), srv.URL, fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if res.Strategy != StrategyStatic {
		t.Errorf("strategy = %q, want static", res.Strategy)
	}

	if len(res.Attempts) != 1 {
		t.Errorf("attempts = %v, want only static", res.Attempts)
	}

	if mobileSeen {
		t.Error("mobile strategy ran for a fully static page")
	}
}

func TestMobileAdoptedWhenRecommended(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("User-Agent"), "iPhone") {
			w.Write([]byte(fullArticle()))
			return
		}

		// Titled and thin: the classifier recommends the mobile identity.
		w.Write([]byte(thinPage()))
	}))
	defer srv.Close()

	res, err := newFetcher(nil).Fetch(context.Background(), srv.URL, fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if res.Strategy != StrategyMobileUA {
		t.Errorf("strategy = %q, want mobile_ua (attempts %v)", res.Strategy, res.Attempts)
	}
}

func TestAMPVariantAdopted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>P</title><link rel="amphtml" href="/post/amp"></head><body><p>teaser words only, not nearly enough to satisfy anyone reading</p></body></html>`))
	})
	mux.HandleFunc("/post/amp", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fullArticle()))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := newFetcher(nil).Fetch(context.Background(), srv.URL+"/post", fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if res.Strategy != StrategyAMP {
		t.Errorf("strategy = %q, want amp (attempts %v)", res.Strategy, res.Attempts)
	}

	if res.Classification.AMPURL == "" {
		t.Error("classification lost the AMP link")
	}
}

// Escalations run only on the classifier's recommendation: a cookie
// wall wants a browser, so the AMP variant and mobile identity stay
// untouched even though an AMP link exists.
func TestEscalationsGatedOnRecommendation(t *testing.T) {
	var ampSeen, mobileSeen bool

	mux := http.NewServeMux()
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("User-Agent"), "iPhone") {
			mobileSeen = true
		}

		w.Write([]byte(`<html><head><link rel="amphtml" href="/post/amp"></head><body><div>Please accept all cookies or reject all cookies. Manage your cookie preferences.</div></body></html>`))
	})
	mux.HandleFunc("/post/amp", func(w http.ResponseWriter, r *http.Request) {
		ampSeen = true
		w.Write([]byte(fullArticle()))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := newFetcher(nil).Fetch(context.Background(), srv.URL+"/post", fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if ampSeen {
		t.Error("AMP fetched although the recommendation was playwright")
	}

	if mobileSeen {
		t.Error("mobile identity fetched although the recommendation was playwright")
	}

	if res.Strategy != StrategyStaticBestEffort {
		t.Errorf("strategy = %q, want static_best_effort with no renderer wired", res.Strategy)
	}
}

type stubRenderer struct {
	html   string
	called int
}

func (s *stubRenderer) Render(_ context.Context, _ string, _ render.Options) (string, error) {
	s.called++

	return s.html, nil
}

func (s *stubRenderer) Close() error { return nil }

func TestPlaywrightRunsForSPAShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><script src="/_next/static/chunks/main.js"></script></head><body><div id="__next"></div></body></html>`))
	}))
	defer srv.Close()

	renderer := &stubRenderer{html: fullArticle()}

	res, err := newFetcher(renderer).Fetch(context.Background(), srv.URL, fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if renderer.called == 0 {
		t.Fatal("renderer never invoked for SPA shell")
	}

	if res.Strategy != StrategyPlaywright {
		t.Errorf("strategy = %q, want playwright (attempts %v)", res.Strategy, res.Attempts)
	}
}

// A page the classifier did not route to the browser still gets one
// render when every cheap strategy left it thin.
func TestPlaywrightFallbackForThinPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(thinPage()))
	}))
	defer srv.Close()

	renderer := &stubRenderer{html: fullArticle()}

	res, err := newFetcher(renderer).Fetch(context.Background(), srv.URL, fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if res.Strategy != StrategyPlaywrightFallback {
		t.Errorf("strategy = %q, want playwright_fallback (attempts %v)", res.Strategy, res.Attempts)
	}

	if renderer.called != 1 {
		t.Errorf("renderer invoked %d times, want exactly one fallback render", renderer.called)
	}
}

func TestStaticBestEffortWhenNothingWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(thinPage()))
	}))
	defer srv.Close()

	res, err := newFetcher(nil).Fetch(context.Background(), srv.URL, fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if res.Strategy != StrategyStaticBestEffort {
		t.Errorf("strategy = %q, want static_best_effort (attempts %v)", res.Strategy, res.Attempts)
	}
}

func TestPlaywrightSkippedWithoutRenderer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div id="__next"></div><script src="https://x.com/a.js"></script></body></html>`))
	}))
	defer srv.Close()

	res, err := newFetcher(nil).Fetch(context.Background(), srv.URL, fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	for _, a := range res.Attempts {
		if a == StrategyPlaywright || a == StrategyPlaywrightFallback {
			t.Error("headless attempted with no renderer wired")
		}
	}
}

func TestFetchRendered(t *testing.T) {
	renderer := &stubRenderer{html: fullArticle()}

	res, err := newFetcher(renderer).FetchRendered(context.Background(), "https://example.com/app", fetch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if res.Strategy != StrategyPlaywrightForced {
		t.Errorf("strategy = %q, want playwright_forced", res.Strategy)
	}

	if res.Status != http.StatusOK || res.HTML == "" {
		t.Errorf("result = %d/%d bytes", res.Status, len(res.HTML))
	}

	if _, err := newFetcher(nil).FetchRendered(context.Background(), "https://example.com/app", fetch.Options{}); !errors.Is(err, ErrNoRenderer) {
		t.Errorf("err = %v, want ErrNoRenderer", err)
	}
}
