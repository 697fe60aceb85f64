package blockdetect

import (
	"strings"
	"testing"
)

func TestClassifyPriority(t *testing.T) {
	longText := strings.Repeat("word ", 250)

	tests := []struct {
		name        string
		body        string
		status      int
		wantKind    string
		wantConf    float64
		wantBlocked bool
	}{
		{
			name:        "sparse 403 is ip ban",
			body:        "<html><body>Forbidden</body></html>",
			status:      403,
			wantKind:    KindIPBan,
			wantConf:    0.95,
			wantBlocked: true,
		},
		{
			name:        "403 with real content is not ip ban",
			body:        "<html><body>" + longText + "</body></html>",
			status:      403,
			wantKind:    KindNone,
			wantConf:    1.0,
			wantBlocked: false,
		},
		{
			name:        "cloudflare title",
			body:        "<html><head><title>Just a moment...</title></head><body>" + longText + "</body></html>",
			status:      503,
			wantKind:    KindCloudflare,
			wantConf:    0.95,
			wantBlocked: true,
		},
		{
			name:        "cloudflare beats captcha when both present",
			body:        "<html><body>cf-browser-verification g-recaptcha " + longText + "</body></html>",
			status:      200,
			wantKind:    KindCloudflare,
			wantConf:    0.95,
			wantBlocked: true,
		},
		{
			name:        "recaptcha widget",
			body:        `<html><body><div class="g-recaptcha"></div>` + longText + "</body></html>",
			status:      200,
			wantKind:    KindCaptcha,
			wantConf:    0.90,
			wantBlocked: true,
		},
		{
			name:        "datadome",
			body:        "<html><body>ddCaptcha " + longText + "</body></html>",
			status:      200,
			wantKind:    KindDataDome,
			wantConf:    0.92,
			wantBlocked: true,
		},
		{
			name:        "perimeterx",
			body:        `<html><body><div id="px-captcha"></div>` + longText + "</body></html>",
			status:      200,
			wantKind:    KindPerimeterX,
			wantConf:    0.92,
			wantBlocked: true,
		},
		{
			name:        "akamai",
			body:        "<html><body>_abck " + longText + "</body></html>",
			status:      200,
			wantKind:    KindAkamai,
			wantConf:    0.90,
			wantBlocked: true,
		},
		{
			name: "soft block",
			body: "<html><body>wait" +
				strings.Repeat(`<script src="https://cdn.x.com/a.js"></script>`, 8) +
				"</body></html>",
			status:      200,
			wantKind:    KindSoftBlock,
			wantConf:    0.75,
			wantBlocked: true,
		},
		{
			name:        "empty 200",
			body:        "<html><body>hi</body></html>",
			status:      200,
			wantKind:    KindEmpty,
			wantConf:    0.80,
			wantBlocked: true,
		},
		{
			name:        "clean page",
			body:        "<html><body>" + longText + "</body></html>",
			status:      200,
			wantKind:    KindNone,
			wantConf:    1.0,
			wantBlocked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.body, tt.status, "https://example.com/x")

			if got.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.wantKind)
			}

			if got.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}

			if got.Blocked != tt.wantBlocked {
				t.Errorf("blocked = %v, want %v", got.Blocked, tt.wantBlocked)
			}
		})
	}
}

func TestClassifyReasonMentionsStatus(t *testing.T) {
	got := Classify("<html><body>denied</body></html>", 403, "https://example.com/y")

	if !strings.Contains(got.Reason, "HTTP 403") || !strings.Contains(got.Reason, "example.com") {
		t.Errorf("reason %q should mention status and url", got.Reason)
	}
}
