package crawler

import "testing"

func TestFrontierPriorityOrder(t *testing.T) {
	f := newFrontier(10)

	f.add("https://example.com/page-a", 1, prioPage, kindPage)
	f.add("https://example.com/sitemap.xml", 0, prioSitemapProbe, kindSitemap)
	f.add("https://example.com/sitemap-posts.xml", 0, prioNestedSitemap, kindSitemap)
	f.add("https://example.com/page-b", 1, prioPage, kindPage)

	want := []string{
		"https://example.com/sitemap.xml",
		"https://example.com/sitemap-posts.xml",
		"https://example.com/page-a",
		"https://example.com/page-b",
	}

	for i, expected := range want {
		it, ok := f.pop()
		if !ok {
			t.Fatalf("pop %d: frontier empty", i)
		}

		if it.url != expected {
			t.Errorf("pop %d = %q, want %q", i, it.url, expected)
		}
	}

	if _, ok := f.pop(); ok {
		t.Error("frontier should be drained")
	}
}

func TestFrontierDedup(t *testing.T) {
	f := newFrontier(10)

	if !f.add("https://example.com/x", 0, prioPage, kindPage) {
		t.Fatal("first add rejected")
	}

	if f.add("https://example.com/x", 0, prioPage, kindPage) {
		t.Error("duplicate add accepted")
	}

	f.markSeen("https://example.com/y")

	if f.add("https://example.com/y", 0, prioPage, kindPage) {
		t.Error("preloaded seen URL accepted")
	}
}

func TestFrontierBudget(t *testing.T) {
	f := newFrontier(2)

	f.add("https://example.com/1", 0, prioPage, kindPage)
	f.add("https://example.com/2", 0, prioPage, kindPage)

	if f.add("https://example.com/3", 0, prioPage, kindPage) {
		t.Error("add beyond page budget accepted")
	}

	if !f.exhausted() {
		t.Error("budget should be exhausted")
	}

	// Non-page entries never consume page budget.
	if !f.add("https://example.com/sitemap.xml", 0, prioSitemapProbe, kindSitemap) {
		t.Error("sitemap rejected by page budget")
	}
}

func TestFrontierPaginationOutranksPages(t *testing.T) {
	f := newFrontier(10)

	f.add("https://example.com/page-a", 1, prioPage, kindPage)
	f.add("https://example.com/archive?page=2", 1, prioNextPage, kindPage)
	f.add("https://example.com/page-b", 1, prioPage, kindPage)

	it, ok := f.pop()
	if !ok {
		t.Fatal("frontier empty")
	}

	if it.url != "https://example.com/archive?page=2" {
		t.Errorf("first pop = %q, want pagination link first", it.url)
	}
}

func TestFrontierRequeueKeepsBudgetAndSeen(t *testing.T) {
	f := newFrontier(1)

	f.add("https://example.com/app", 0, prioPage, kindPage)

	it, ok := f.pop()
	if !ok {
		t.Fatal("frontier empty")
	}

	f.requeue(it)

	again, ok := f.pop()
	if !ok {
		t.Fatal("requeued item missing")
	}

	if !again.rendered {
		t.Error("requeued item not flagged for rendering")
	}

	if again.url != it.url || again.depth != it.depth {
		t.Errorf("requeue changed identity: %+v", again)
	}
}

func TestFrontierBudgetNotRefunded(t *testing.T) {
	f := newFrontier(1)

	f.add("https://example.com/1", 0, prioPage, kindPage)
	f.pop()

	if f.add("https://example.com/2", 0, prioPage, kindPage) {
		t.Error("popping must not refund the budget slot")
	}
}
