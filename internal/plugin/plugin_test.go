package plugin

import (
	"testing"

	"github.com/pagesift/pagesift/internal/article"
)

type fakeExtractor struct {
	name     string
	priority int
}

func (f fakeExtractor) Name() string  { return f.name }
func (f fakeExtractor) Priority() int { return f.priority }
func (f fakeExtractor) CanExtract(_, _ string) bool {
	return true
}
func (f fakeExtractor) Extract(_, _ string) (string, bool) { return "", false }

type fakeFormatter struct{ name string }

func (f fakeFormatter) Name() string      { return f.name }
func (f fakeFormatter) Extension() string { return ".txt" }
func (f fakeFormatter) Format(*article.Article) ([]byte, error) {
	return []byte("x"), nil
}

func TestExtractorsSortedByPriority(t *testing.T) {
	r := NewRegistry()

	r.RegisterExtractor(fakeExtractor{name: "low", priority: 1})
	r.RegisterExtractor(fakeExtractor{name: "high", priority: 10})
	r.RegisterExtractor(fakeExtractor{name: "mid", priority: 5})

	got := r.Extractors()

	want := []string{"high", "mid", "low"}

	for i, name := range want {
		if got[i].Name() != name {
			t.Errorf("extractor %d = %q, want %q", i, got[i].Name(), name)
		}
	}
}

func TestFormatterLookup(t *testing.T) {
	r := NewRegistry()

	r.RegisterFormatter(fakeFormatter{name: "plain"})

	if _, ok := r.Formatter("plain"); !ok {
		t.Error("registered formatter not found")
	}

	if _, ok := r.Formatter("missing"); ok {
		t.Error("unexpected formatter")
	}
}

func TestClear(t *testing.T) {
	r := NewRegistry()

	r.RegisterExtractor(fakeExtractor{name: "x"})
	r.RegisterFormatter(fakeFormatter{name: "y"})
	r.Clear()

	if len(r.Extractors()) != 0 {
		t.Error("extractors not cleared")
	}

	if _, ok := r.Formatter("y"); ok {
		t.Error("formatters not cleared")
	}
}
