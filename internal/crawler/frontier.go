package crawler

import (
	"container/heap"
	"sync"

	"github.com/pagesift/pagesift/internal/platform/observability"
)

// Frontier priorities. Sitemap probes jump the queue because one fetch
// can seed hundreds of page URLs; nested sitemaps and feed probes come
// next; rel=next pagination targets outrank ordinary page links so long
// archives drain before their leaves.
const (
	prioSitemapProbe  = 10
	prioNestedSitemap = 8
	prioFeed          = 7
	prioNextPage      = 6
	prioPage          = 5
)

type itemKind int

const (
	kindPage itemKind = iota
	kindSitemap
	kindFeed
)

type item struct {
	url      string
	depth    int
	priority int
	kind     itemKind
	rendered bool
	seq      int
}

// frontier is a priority queue of pending URLs with a shared seen set.
// Page entries reserve a slot of the page budget when enqueued; the slot
// is never given back, so a failed fetch still counts against the run.
type frontier struct {
	mu     sync.Mutex
	heap   itemHeap
	seen   map[string]struct{}
	budget int
	seq    int
}

func newFrontier(maxPages int) *frontier {
	return &frontier{
		seen:   make(map[string]struct{}),
		budget: maxPages,
	}
}

// add enqueues a URL unless it was already seen or, for pages, the page
// budget is exhausted. Accepted URLs are marked seen immediately.
func (f *frontier) add(url string, depth, priority int, kind itemKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.seen[url]; dup {
		return false
	}

	if kind == kindPage {
		if f.budget <= 0 {
			return false
		}

		f.budget--
	}

	f.seen[url] = struct{}{}
	f.seq++

	heap.Push(&f.heap, item{url: url, depth: depth, priority: priority, kind: kind, seq: f.seq})
	observability.FrontierSize.Set(float64(len(f.heap)))

	return true
}

// requeue puts an already-budgeted page back on the queue flagged for a
// headless render. The seen set and budget are untouched: the page has
// been fetched once and keeps its original slot.
func (f *frontier) requeue(it item) {
	f.mu.Lock()
	defer f.mu.Unlock()

	it.rendered = true
	f.seq++
	it.seq = f.seq

	heap.Push(&f.heap, it)
	observability.FrontierSize.Set(float64(len(f.heap)))
}

// markSeen preloads a URL into the seen set without enqueueing it. Used
// when resuming a previous run.
func (f *frontier) markSeen(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen[url] = struct{}{}
}

// pop removes and returns the highest-priority item.
func (f *frontier) pop() (item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.heap) == 0 {
		return item{}, false
	}

	it := heap.Pop(&f.heap).(item)
	observability.FrontierSize.Set(float64(len(f.heap)))

	return it, true
}

func (f *frontier) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.heap)
}

func (f *frontier) exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.budget <= 0
}

// itemHeap orders by priority descending, then insertion order.
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}

	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]

	return it
}
