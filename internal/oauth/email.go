package oauth

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bobch27/signupwatch/internal/safety"
)

// PendingEmail is reported when no email can be found after an OAuth return. The
// report also carries pending_identity=true so the receiver can reconcile it later.
const PendingEmail = "oauth-pending@placeholder.invalid"

// emailSelectors are tried in order.
var emailSelectors = []string{
	"[data-email]",
	"[data-user-email]",
	".user-email",
	"#user-email",
	".profile-email",
	".account-email",
	".email",
	"#email",
	`input[type="email"]`,
	`input[name*="email"]`,
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// DiscoverEmail looks for the signed-in user's email in a rendered document: first in
// elements that usually hold it, then anywhere in the visible text.
func DiscoverEmail(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	for _, sel := range emailSelectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if isHidden(s) {
				return true
			}
			for _, candidate := range candidates(s) {
				if safety.IsValidEmail(candidate) {
					found = safety.NormalizeEmail(candidate)
					return false
				}
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}

	doc.Find("script, style, noscript, template, head").Remove()
	doc.Find("[hidden], [style*='display:none'], [style*='display: none']").Remove()

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}
	for _, match := range emailPattern.FindAllString(text, -1) {
		if safety.IsValidEmail(match) {
			return safety.NormalizeEmail(match), true
		}
	}

	return "", false
}

func candidates(s *goquery.Selection) []string {
	var out []string
	for _, attr := range []string{"data-email", "data-user-email", "value"} {
		if v, ok := s.Attr(attr); ok {
			out = append(out, strings.TrimSpace(v))
		}
	}
	if goquery.NodeName(s) != "input" {
		out = append(out, strings.TrimSpace(s.Text()))
	}
	return out
}

func isHidden(s *goquery.Selection) bool {
	if strings.EqualFold(s.AttrOr("type", ""), "hidden") {
		return true
	}
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(s.AttrOr("style", "")), " ", "")
	return strings.Contains(style, "display:none")
}
