// Package blockdetect classifies fetch responses that look like bot
// countermeasures: IP bans, Cloudflare challenges, CAPTCHA walls and the
// vendor-specific fingerprints of DataDome, PerimeterX and Akamai.
// Detection order is fixed; the first matching detector wins.
package blockdetect

import (
	"fmt"
	"regexp"
	"strings"
)

// Block kinds in detection priority order.
const (
	KindIPBan      = "ip_ban"
	KindCloudflare = "cloudflare"
	KindCaptcha    = "captcha"
	KindDataDome   = "datadome"
	KindPerimeterX = "perimeterx"
	KindAkamai     = "akamai"
	KindSoftBlock  = "soft_block"
	KindEmpty      = "empty"
	KindNone       = "none"
)

// Result is the outcome of block classification.
type Result struct {
	Blocked    bool
	Kind       string
	Confidence float64
	Reason     string
}

var (
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	extScriptRe = regexp.MustCompile(`(?i)<script[^>]+\bsrc\s*=\s*["']https?://`)
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

var cloudflareTitles = []string{"attention required", "just a moment"}

var cloudflareMarkers = []string{
	"just a moment",
	"cf-browser-verification",
	"challenges.cloudflare.com",
	"cf-challenge",
	"__cf_bm",
	"cf-ray",
}

var captchaMarkers = []string{
	"g-recaptcha",
	"h-captcha",
	"hcaptcha.com",
	"cf-turnstile",
	"friendlycaptcha",
	"recaptcha.net",
}

var datadomeMarkers = []string{"datadome", "ddcaptcha", "_dd_s"}

var perimeterxMarkers = []string{"px-captcha", "pxi_loader", "_pxappid", "perimeterx"}

var akamaiMarkers = []string{"ak_bmsc", "_abck", "bmak.js"}

// Classify inspects an HTTP response body and status for block signatures.
func Classify(body string, status int, url string) Result {
	lower := strings.ToLower(body)
	words := len(strings.Fields(tagRe.ReplaceAllString(body, " ")))

	if (status == 401 || status == 403 || status == 407) && words < 200 {
		return Result{
			Blocked:    true,
			Kind:       KindIPBan,
			Confidence: 0.95,
			Reason:     fmt.Sprintf("HTTP %d from %s with sparse content (%d words)", status, url, words),
		}
	}

	title := pageTitle(lower)

	for _, t := range cloudflareTitles {
		if strings.Contains(title, t) {
			return Result{Blocked: true, Kind: KindCloudflare, Confidence: 0.95, Reason: "cloudflare challenge title: " + t}
		}
	}

	if marker, ok := containsAny(lower, cloudflareMarkers); ok {
		return Result{Blocked: true, Kind: KindCloudflare, Confidence: 0.95, Reason: "cloudflare marker: " + marker}
	}

	if marker, ok := containsAny(lower, captchaMarkers); ok {
		return Result{Blocked: true, Kind: KindCaptcha, Confidence: 0.90, Reason: "captcha marker: " + marker}
	}

	if marker, ok := containsAny(lower, datadomeMarkers); ok {
		return Result{Blocked: true, Kind: KindDataDome, Confidence: 0.92, Reason: "datadome marker: " + marker}
	}

	if marker, ok := containsAny(lower, perimeterxMarkers); ok {
		return Result{Blocked: true, Kind: KindPerimeterX, Confidence: 0.92, Reason: "perimeterx marker: " + marker}
	}

	if marker, ok := containsAny(lower, akamaiMarkers); ok {
		return Result{Blocked: true, Kind: KindAkamai, Confidence: 0.90, Reason: "akamai marker: " + marker}
	}

	if words < 30 && len(extScriptRe.FindAllStringIndex(body, -1)) > 6 {
		return Result{
			Blocked:    true,
			Kind:       KindSoftBlock,
			Confidence: 0.75,
			Reason:     fmt.Sprintf("sparse page (%d words) with heavy external scripting", words),
		}
	}

	if status == 200 && words < 20 {
		return Result{
			Blocked:    true,
			Kind:       KindEmpty,
			Confidence: 0.80,
			Reason:     fmt.Sprintf("HTTP 200 with near-empty body (%d words)", words),
		}
	}

	return Result{Blocked: false, Kind: KindNone, Confidence: 1.0}
}

func pageTitle(lowerBody string) string {
	m := titleRe.FindStringSubmatch(lowerBody)
	if m == nil {
		return ""
	}

	return strings.TrimSpace(m[1])
}

func containsAny(haystack string, markers []string) (string, bool) {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return m, true
		}
	}

	return "", false
}
