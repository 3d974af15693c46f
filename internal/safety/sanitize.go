package safety

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxValueLength caps every captured text value, in runes.
const MaxValueLength = 255

// stripPolicy removes all markup, leaving only text
var stripPolicy = bluemonday.StrictPolicy()

// FieldInfo describes a raw field for SanitizeFormData.
type FieldInfo struct {
	Type       string
	Attributes *Attributes
}

// FormContext maps field names to what is known about their elements.
type FormContext map[string]FieldInfo

// SanitizeFormData keeps only fields that are safe to capture and non-empty. Email
// fields are validated and normalised; other values are stripped of markup and
// truncated to MaxValueLength.
func SanitizeFormData(raw map[string]string, form FormContext) map[string]string {
	clean := make(map[string]string, len(raw))

	for name, value := range raw {
		if name == "" || strings.TrimSpace(value) == "" {
			continue
		}

		info := form[name]
		if !IsSafeToCapture(name, info.Type, info.Attributes) {
			continue
		}

		if isEmailField(name, info.Type) {
			if !IsValidEmail(value) {
				continue
			}
			clean[name] = NormalizeEmail(value)
			continue
		}

		// the strict policy escapes entities, undo that for plain text
		text := strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(value)))
		text = truncate(text, MaxValueLength)
		if text == "" {
			continue
		}
		clean[name] = text
	}

	return clean
}

func isEmailField(name, fieldType string) bool {
	return strings.EqualFold(fieldType, "email") || strings.Contains(strings.ToLower(name), "email")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
