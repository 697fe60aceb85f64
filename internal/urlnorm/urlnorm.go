// Package urlnorm canonicalizes URLs so that the same page is always
// represented by the same string. Deduplication, the crawl frontier and
// the conditional request cache all key on the normalized form.
package urlnorm

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultScheme = "https"
	maxSlugLen    = 100
	fallbackSlug  = "index"
)

// Query parameters that only carry tracking state. They are dropped during
// normalization so that otherwise identical URLs collapse together.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"utm_reader":   {},
	"fbclid":       {},
	"gclid":        {},
	"gclsrc":       {},
	"dclid":        {},
	"msclkid":      {},
	"ref":          {},
	"source":       {},
	"via":          {},
	"_ga":          {},
	"_gac":         {},
	"mc_cid":       {},
	"mc_eid":       {},
	"igshid":       {},
	"s_kwcid":      {},
	"ef_id":        {},
	"affiliate_id": {},
	"clickid":      {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
}

var assetExtensions = map[string]struct{}{
	".pdf": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".webp": {}, ".svg": {}, ".ico": {}, ".bmp": {}, ".tiff": {},
	".css": {}, ".js": {}, ".mjs": {}, ".json": {}, ".xml": {},
	".txt": {}, ".csv": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".7z": {}, ".rar": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".otf": {},
	".mp3": {}, ".mp4": {}, ".wav": {}, ".ogg": {}, ".avi": {},
	".mov": {}, ".mkv": {}, ".webm": {}, ".flac": {}, ".m4a": {},
}

var (
	nonWordRe        = regexp.MustCompile(`[^a-zA-Z0-9_]+`)
	dashRunRe        = regexp.MustCompile(`-{2,}`)
	multiSlashRe     = regexp.MustCompile(`/{2,}`)
	trailingDigitsRe = regexp.MustCompile(`:\d+$`)
)

// Normalize returns the canonical form of raw. The transformation is
// idempotent: Normalize(Normalize(u)) == Normalize(u). Unparseable input
// is returned unchanged.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if u.Scheme == "" {
		// Re-parse so a leading host is not mistaken for a path.
		u, err = url.Parse(defaultScheme + "://" + raw)
		if err != nil {
			return raw
		}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if port := u.Port(); port != "" && defaultPorts[u.Scheme] == port {
		u.Host = trailingDigitsRe.ReplaceAllString(u.Host, "")
	}

	u.Path = multiSlashRe.ReplaceAllString(u.Path, "/")
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	u.RawQuery = normalizeQuery(u.Query())

	return u.String()
}

// normalizeQuery drops tracking parameters and re-encodes the remaining
// ones with sorted keys, preserving repeated values in their original
// order.
func normalizeQuery(values url.Values) string {
	keys := make([]string, 0, len(values))

	for key := range values {
		if _, tracking := trackingParams[strings.ToLower(key)]; tracking {
			continue
		}

		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return ""
	}

	sort.Strings(keys)

	var sb strings.Builder

	for _, key := range keys {
		for _, v := range values[key] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}

			sb.WriteString(url.QueryEscape(key))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}

	return sb.String()
}

// Slug derives a filesystem-safe identifier from a URL. The path drives
// the slug; for root URLs the host is used with dots turned into dashes.
func Slug(raw string) string {
	u, err := url.Parse(Normalize(raw))
	if err != nil {
		return fallbackSlug
	}

	base := strings.Trim(u.Path, "/")
	if base == "" {
		base = strings.ReplaceAll(u.Hostname(), ".", "-")
	} else {
		base = strings.ReplaceAll(base, "/", "-")
	}

	slug := nonWordRe.ReplaceAllString(base, "-")
	slug = dashRunRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}

	if slug == "" {
		return fallbackSlug
	}

	return strings.ToLower(slug)
}

// IsAsset reports whether the URL points at a static asset rather than a
// page worth crawling.
func IsAsset(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}

	_, ok := assetExtensions[ext]

	return ok
}

// Domain returns the lowercase registrable host of the URL without port
// or leading "www.". Unparseable input yields an empty string.
func Domain(raw string) string {
	u, err := url.Parse(Normalize(raw))
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())

	return strings.TrimPrefix(host, "www.")
}
