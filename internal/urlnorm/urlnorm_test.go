package urlnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Path",
			want: "https://example.com/Path",
		},
		{
			name: "adds https to bare host",
			in:   "example.com/post",
			want: "https://example.com/post",
		},
		{
			name: "strips default https port",
			in:   "https://example.com:443/a",
			want: "https://example.com/a",
		},
		{
			name: "keeps custom port",
			in:   "https://example.com:8443/a",
			want: "https://example.com:8443/a",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/a#section-2",
			want: "https://example.com/a",
		},
		{
			name: "drops tracking params entirely",
			in:   "https://example.com/a?utm_source=x&utm_medium=y&fbclid=z",
			want: "https://example.com/a",
		},
		{
			name: "sorts surviving query keys",
			in:   "https://example.com/a?b=2&a=1&utm_campaign=spring",
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "preserves repeated values",
			in:   "https://example.com/a?tag=go&tag=web",
			want: "https://example.com/a?tag=go&tag=web",
		},
		{
			name: "collapses duplicate slashes",
			in:   "https://example.com//blog///post",
			want: "https://example.com/blog/post",
		},
		{
			name: "strips trailing slash",
			in:   "https://example.com/blog/",
			want: "https://example.com/blog",
		},
		{
			name: "keeps root slash",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	urls := []string{
		"HTTP://Example.com:80//a//b/?z=1&a=2&utm_source=t#frag",
		"example.com",
		"https://blog.example.com/2024/03/post/",
	}

	for _, u := range urls {
		once := Normalize(u)
		twice := Normalize(once)

		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", u, once, twice)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/blog/my-first-post", "blog-my-first-post"},
		{"https://example.com/", "example-com"},
		{"https://example.com/a b/c!!d", "a-b-c-d"},
		{"https://example.com/%20%20/", "index"},
	}

	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugTruncation(t *testing.T) {
	long := "https://example.com/" + string(make([]byte, 0))
	for i := 0; i < 30; i++ {
		long += "segment-"
	}

	slug := Slug(long)

	if len(slug) > 100 {
		t.Errorf("slug length %d exceeds 100", len(slug))
	}

	if slug[len(slug)-1] == '-' {
		t.Errorf("slug %q has trailing dash after truncation", slug)
	}
}

func TestIsAsset(t *testing.T) {
	assets := []string{
		"https://example.com/style.css",
		"https://example.com/doc.PDF",
		"https://example.com/img/pic.jpeg?w=100",
		"https://example.com/bundle.min.js",
	}
	pages := []string{
		"https://example.com/blog/post",
		"https://example.com/",
		"https://example.com/file.html",
	}

	for _, u := range assets {
		if !IsAsset(u) {
			t.Errorf("IsAsset(%q) = false, want true", u)
		}
	}

	for _, u := range pages {
		if IsAsset(u) {
			t.Errorf("IsAsset(%q) = true, want false", u)
		}
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Example.com/a", "example.com"},
		{"https://blog.example.com:8080/a", "blog.example.com"},
		{"example.com", "example.com"},
	}

	for _, tt := range tests {
		if got := Domain(tt.in); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
