package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestIsSafeToCapture(t *testing.T) {
	tests := []struct {
		name      string
		field     string
		fieldType string
		attrs     *Attributes
		want      bool
	}{
		{"email type", "email", "email", nil, true},
		{"text name", "full_name", "text", nil, true},
		{"password type", "password", "password", nil, false},
		{"hidden with safe name", "email", "hidden", nil, false},
		{"file with safe name", "company_logo", "file", nil, false},
		{"uppercase blocked type", "name", "PASSWORD", nil, false},
		{"sensitive name on text", "api_key", "text", nil, false},
		{"sensitive name mixed case", "CreditCardNumber", "tel", nil, false},
		{"sensitive placeholder", "field1", "text", &Attributes{Placeholder: "Your SSN"}, false},
		{"sensitive aria label", "field2", "text", &Attributes{AriaLabel: "Bank account"}, false},
		{"sensitive autocomplete", "field3", "text", &Attributes{Autocomplete: "new-password"}, false},
		{"not rendered", "email", "email", &Attributes{Rendered: boolPtr(false)}, false},
		{"rendered", "email", "email", &Attributes{Rendered: boolPtr(true)}, true},
		{"unknown rendering", "email", "email", &Attributes{}, true},
		{"safe name on select", "industry", "select-one", nil, true},
		{"unknown name on select", "favourite_colour", "select-one", nil, false},
		{"checkbox without safe name", "agree", "checkbox", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSafeToCapture(tt.field, tt.fieldType, tt.attrs))
		})
	}
}

func TestSensitiveTermsAlwaysRejected(t *testing.T) {
	for _, term := range sensitiveTerms {
		for _, name := range []string{term, strings.ToUpper(term), "user_" + term + "_field"} {
			for _, typ := range []string{"text", "email", "tel", "url", "search", ""} {
				assert.False(t, IsSafeToCapture(name, typ, nil), "name=%q type=%q", name, typ)
			}
		}
	}
}

func TestBlockedTypesAlwaysRejected(t *testing.T) {
	for typ := range blockedTypes {
		for _, name := range safeTerms {
			assert.False(t, IsSafeToCapture(name, typ, nil), "name=%q type=%q", name, typ)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"a@b.com", true},
		{"  First.Last@Example.co.uk ", true},
		{"a@b", false},
		{"@b.com", false},
		{"a@", false},
		{"a@@b.com", false},
		{"a@b@c.com", false},
		{"a b@c.com", false},
		{"a@.com", false},
		{"a@b.", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidEmail(tt.in), tt.in)
	}
}

func TestIsSafeURL(t *testing.T) {
	assert.True(t, IsSafeURL("https://example.com/signup?plan=pro"))
	assert.True(t, IsSafeURL("https://example.com/"))
	assert.False(t, IsSafeURL("https://example.com/account/profile"))
	assert.False(t, IsSafeURL("https://example.com/Checkout"))
	assert.False(t, IsSafeURL("https://example.com/user/reset-password"))
	assert.False(t, IsSafeURL("https://example.com/admin"))
	assert.False(t, IsSafeURL("://bad"))
}

func TestScrubURL(t *testing.T) {
	assert.Equal(t, "https://example.com", ScrubURL("https://example.com/billing/invoices?id=9", false))
	assert.Equal(t, "https://example.com/signup?ref=ad#top", ScrubURL("https://example.com/signup?ref=ad#top", false))
	assert.Equal(t, "https://example.com/signup", ScrubURL("https://example.com/signup?ref=ad#top", true))
	assert.Equal(t, "", ScrubURL("", true))
}

func TestIsSafeClickTarget(t *testing.T) {
	assert.True(t, IsSafeClickTarget("BUTTON", "cta", "btn primary"))
	assert.True(t, IsSafeClickTarget("a", "", ""))
	assert.False(t, IsSafeClickTarget("input", "", ""))
	assert.False(t, IsSafeClickTarget("div", "credit-card-form", ""))
	assert.False(t, IsSafeClickTarget("button", "", "pay-with-Card"))
}
