// Package safety decides which fields, elements and URLs may be captured. Every
// function is pure and safe for concurrent use.
package safety

import (
	"net/url"
	"strings"
)

// Attributes are the optional element details consulted next to the field name.
type Attributes struct {
	Placeholder  string
	AriaLabel    string
	Autocomplete string
	// Rendered is nil when the element could not be inspected.
	Rendered *bool
}

var blockedTypes = map[string]bool{
	"password": true,
	"hidden":   true,
	"file":     true,
}

var safeTypes = map[string]bool{
	"email":  true,
	"text":   true,
	"tel":    true,
	"url":    true,
	"search": true,
}

// sensitiveTerms are matched as case-insensitive substrings
var sensitiveTerms = []string{
	"password", "passwd", "pwd", "passcode",
	"token", "secret", "private",
	"credit", "card", "cvv", "cvc", "expiry",
	"ssn", "social-security", "social_security", "socialsecurity",
	"pin", "bank", "iban", "routing", "swift",
	"api key", "api_key", "api-key", "apikey",
	"tax-id", "tax_id", "taxid",
}

var safeTerms = []string{
	"email", "mail", "name", "company", "organization", "organisation",
	"phone", "mobile", "tel", "title", "industry", "role", "job",
	"website", "country", "city", "size", "plan", "referral",
}

// IsSafeToCapture reports whether a field may be captured. The first matching rule
// wins: blocked type, sensitive term, not rendered, safe type, safe name, reject.
func IsSafeToCapture(name, fieldType string, attrs *Attributes) bool {
	fieldType = strings.ToLower(strings.TrimSpace(fieldType))
	if blockedTypes[fieldType] {
		return false
	}

	if containsAny(name, sensitiveTerms) {
		return false
	}
	if attrs != nil {
		if containsAny(attrs.Placeholder, sensitiveTerms) ||
			containsAny(attrs.AriaLabel, sensitiveTerms) ||
			containsAny(attrs.Autocomplete, sensitiveTerms) {
			return false
		}

		if attrs.Rendered != nil && !*attrs.Rendered {
			return false
		}
	}

	if safeTypes[fieldType] {
		return true
	}

	return containsAny(name, safeTerms)
}

// IsValidEmail is a capture filter, not a verifier: exactly one "@", non-empty local
// and domain parts, and a dot in the domain.
func IsValidEmail(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, " \t\r\n") {
		return false
	}

	local, domain, ok := strings.Cut(value, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return false
	}

	dot := strings.Index(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

var sensitivePathTerms = []string{
	"password", "checkout", "billing", "payment", "admin",
	"account", "settings", "wallet", "bank", "invoice",
}

// IsSafeURL reports whether a page URL may be sent as metadata. URLs whose path points
// at sensitive pages are rejected, as are URLs that cannot be parsed.
func IsSafeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	for _, segment := range strings.Split(strings.ToLower(u.Path), "/") {
		if segment == "" {
			continue
		}
		for _, term := range sensitivePathTerms {
			if strings.Contains(segment, term) {
				return false
			}
		}
	}

	return true
}

// ScrubURL reduces a URL before it leaves the page: unsafe pages are cut back to their
// origin, and privacy mode drops the query and fragment.
func ScrubURL(rawURL string, privacy bool) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	if !IsSafeURL(rawURL) {
		return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
	}

	if privacy {
		u.RawQuery = ""
		u.Fragment = ""
		u.RawFragment = ""
	}

	return u.String()
}

var safeClickTags = map[string]bool{
	"a": true, "button": true, "div": true, "span": true, "p": true,
	"li": true, "img": true, "label": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var sensitiveClickTerms = []string{
	"password", "credit", "card", "payment", "billing", "ssn",
	"secret", "token", "bank", "cvv", "private",
}

// IsSafeClickTarget reports whether a click on the element counts toward engagement.
func IsSafeClickTarget(tag, id, class string) bool {
	if !safeClickTags[strings.ToLower(tag)] {
		return false
	}
	return !containsAny(id, sensitiveClickTerms) && !containsAny(class, sensitiveClickTerms)
}

func containsAny(s string, terms []string) bool {
	if s == "" {
		return false
	}

	s = strings.ToLower(s)
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
