package content

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Consent-manager containers removed before extraction. Covers the major
// vendors plus common hand-rolled banner ids.
var consentSelectors = []string{
	// CookieYes
	".cky-consent-container", ".cookieyes-modal", "#cookie-law-info-bar",
	".cli-modal", ".cli-settings-overlay",
	// Cookiebot
	"#CybotCookiebotDialog", "#CybotCookiebotDialogBodyContent",
	// OneTrust
	"#onetrust-consent-sdk", "#onetrust-banner-sdk", "#onetrust-pc-sdk",
	// Complianz
	"#cmplz-cookiebanner-container", ".cmplz-cookiebanner",
	// Borlabs
	"#BorlabsCookieBox",
	// Generic
	"#cookie_notice", "#gdpr-cookie-notice",
	".cookie-banner", ".cookie-notice", ".cookie-popup", ".cookie-modal",
	".cookie-overlay", ".cookie-consent",
	"#cookie-notice", "#cookie-banner", "#cookie-popup",
	".gdpr-overlay", "#gdpr_overlay", ".gdpr-banner",
	`[aria-label="cookieconsent"]`,
}

// Class/id substrings that identify consent tooling missed by the
// selector list.
var consentKeywords = []string{
	"cookieyes", "cookiebot", "cookiehub", "onetrust", "borlabs",
	"complianz", "cookielawinfo", "cky-", "wpconsent", "cookie-consent",
	"gdpr-consent",
}

var templateRe = regexp.MustCompile(`(?is)<template\b[^>]*>.*?</template>`)

// StripTemplates removes <template> elements at the text level. HTML
// parsers reparent template children, so this has to happen before
// parsing.
func StripTemplates(html string) string {
	return templateRe.ReplaceAllString(html, "")
}

// RemoveConsent drops cookie-consent UI from the document.
func RemoveConsent(doc *goquery.Document) {
	doc.Find(strings.Join(consentSelectors, ", ")).Remove()

	doc.Find("div, section, aside").Each(func(_ int, s *goquery.Selection) {
		marker := strings.ToLower(s.AttrOr("class", "") + " " + s.AttrOr("id", ""))

		for _, kw := range consentKeywords {
			if strings.Contains(marker, kw) {
				s.Remove()
				return
			}
		}
	})
}
