package markdownconv

import (
	"strings"
	"testing"
)

func TestConvert(t *testing.T) {
	html := `<h2>Title</h2><p>Hello <strong>world</strong>.</p><ul><li>one</li><li>two</li></ul>`

	got := Convert(html)

	if !strings.Contains(got, "## Title") {
		t.Errorf("missing atx heading in %q", got)
	}

	if !strings.Contains(got, "**world**") {
		t.Errorf("missing bold in %q", got)
	}

	if !strings.Contains(got, "- one") {
		t.Errorf("missing dash bullet in %q", got)
	}
}

func TestConvertFencedCode(t *testing.T) {
	got := Convert(`<pre><code>x := 1</code></pre>`)

	if !strings.Contains(got, "```") || !strings.Contains(got, "x := 1") {
		t.Errorf("missing fenced code in %q", got)
	}
}

func TestPlaintextFallback(t *testing.T) {
	got := plaintext(`<h2>Title</h2><p>first paragraph</p><p>second paragraph</p><script>alert(1)</script>`)

	want := "Title\nfirst paragraph\nsecond paragraph"
	if got != want {
		t.Errorf("plaintext = %q, want %q", got, want)
	}

	if got := plaintext("bare text without tags"); got != "bare text without tags" {
		t.Errorf("bare text = %q", got)
	}
}

func TestConvertStripsScripts(t *testing.T) {
	got := Convert(`<p>text</p><script>alert(1)</script>`)

	if strings.Contains(got, "alert") {
		t.Errorf("script leaked into %q", got)
	}
}

func TestConvertEmpty(t *testing.T) {
	if got := Convert("   "); got != "" {
		t.Errorf("Convert(blank) = %q, want empty", got)
	}
}
