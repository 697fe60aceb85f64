// Package plugin holds the extension points of the engine: alternative
// fetch strategies, extra content extractors, score adjusters and output
// formatters. Registration is process-wide and safe for concurrent use.
package plugin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pagesift/pagesift/internal/article"
)

// FetchStrategy fetches a page in some site-specific way (API endpoint,
// cache mirror, authenticated session). Strategies are consulted in
// registration order after the built-in chain.
type FetchStrategy interface {
	Name() string
	CanHandle(url string, signals map[string]any) bool
	Fetch(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// Extractor pulls main content out of HTML. Higher priority runs first;
// a result replaces the cascade's pick only when it has strictly more
// words.
type Extractor interface {
	Name() string
	Priority() int
	CanExtract(url, html string) bool
	Extract(html, url string) (contentHTML string, ok bool)
}

// Scorer adjusts the article score for a page. The returned delta is
// added to the heuristic score.
type Scorer interface {
	Name() string
	Score(url, html, baseURL string) int
}

// OutputFormatter renders a finished article in an alternative format.
type OutputFormatter interface {
	Name() string
	Extension() string
	Format(a *article.Article) ([]byte, error)
}

// Registry collects plugins of all four kinds.
type Registry struct {
	mu         sync.RWMutex
	strategies []FetchStrategy
	extractors []Extractor
	scorers    []Scorer
	formatters map[string]OutputFormatter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{formatters: make(map[string]OutputFormatter)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// RegisterFetchStrategy appends a fetch strategy.
func (r *Registry) RegisterFetchStrategy(s FetchStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies = append(r.strategies, s)
}

// FetchStrategies returns registered strategies in registration order.
func (r *Registry) FetchStrategies() []FetchStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FetchStrategy, len(r.strategies))
	copy(out, r.strategies)

	return out
}

// RegisterExtractor appends an extractor.
func (r *Registry) RegisterExtractor(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extractors = append(r.extractors, e)
}

// Extractors returns extractors sorted by descending priority. Ties keep
// registration order.
func (r *Registry) Extractors() []Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Extractor, len(r.extractors))
	copy(out, r.extractors)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})

	return out
}

// RegisterScorer appends a scorer.
func (r *Registry) RegisterScorer(s Scorer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scorers = append(r.scorers, s)
}

// Scorers returns registered scorers in registration order.
func (r *Registry) Scorers() []Scorer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Scorer, len(r.scorers))
	copy(out, r.scorers)

	return out
}

// RegisterFormatter adds an output formatter keyed by name. A later
// registration with the same name replaces the earlier one.
func (r *Registry) RegisterFormatter(f OutputFormatter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.formatters[f.Name()] = f
}

// Formatter looks up a formatter by name.
func (r *Registry) Formatter(name string) (OutputFormatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[name]

	return f, ok
}

// Clear removes every registered plugin. Intended for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies = nil
	r.extractors = nil
	r.scorers = nil
	r.formatters = make(map[string]OutputFormatter)
}
