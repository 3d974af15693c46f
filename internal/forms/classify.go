package forms

import (
	"strings"

	"github.com/bobch27/signupwatch/internal/page"
	"github.com/bobch27/signupwatch/internal/safety"
)

// exclusionTerms disqualify a form even when it has an email field
var exclusionTerms = []string{
	"login", "signin", "sign-in", "sign_in", "password", "reset", "forgot",
	"search", "newsletter", "contact", "comment", "review", "feedback", "support",
}

var signupTerms = []string{"signup", "sign-up", "sign_up", "register", "join", "create", "account", "member"}

var signupPhrases = []string{"sign up", "signup", "register", "join", "create account", "create an account"}

// IsSignupForm reports whether f looks like an account-creation form. It needs an
// email-capable field, must not mention an exclusion term, and must then show a
// signup term, a password plus at least two text/email inputs, or a signup-worded
// submit control.
func IsSignupForm(f page.Form) bool {
	if !hasEmailField(f) {
		return false
	}

	text := strings.ToLower(strings.Join([]string{f.Action, f.ID, f.Class, f.Name}, " "))
	for _, term := range exclusionTerms {
		if strings.Contains(text, term) {
			return false
		}
	}

	for _, term := range signupTerms {
		if strings.Contains(text, term) {
			return true
		}
	}

	hasPassword := false
	textInputs := 0
	for _, field := range f.Fields {
		if !isInput(field) {
			continue
		}
		switch strings.ToLower(field.Type) {
		case "password":
			hasPassword = true
		case "", "text", "email":
			textInputs++
		}
	}
	if hasPassword && textInputs >= 2 {
		return true
	}

	for _, label := range f.SubmitLabels {
		label = strings.ToLower(strings.Join(strings.Fields(label), " "))
		for _, phrase := range signupPhrases {
			if strings.Contains(label, phrase) {
				return true
			}
		}
	}

	return false
}

func isInput(field page.Field) bool {
	return field.Tag == "" || strings.EqualFold(field.Tag, "input")
}

func hasEmailField(f page.Form) bool {
	for _, field := range f.Fields {
		if isEmailCapable(field) {
			return true
		}
	}
	return false
}

func isEmailCapable(field page.Field) bool {
	if strings.EqualFold(field.Type, "email") {
		return true
	}
	name := strings.ToLower(field.Name + " " + field.ID)
	return strings.Contains(name, "email") || strings.Contains(name, "mail")
}

// ExtractEmail returns the submitted email, preferring type=email inputs over inputs
// whose name or id mentions email. Only syntactically valid values are returned.
func ExtractEmail(f page.Form) (string, bool) {
	for _, field := range f.Fields {
		if strings.EqualFold(field.Type, "email") && safety.IsValidEmail(field.Value) {
			return safety.NormalizeEmail(field.Value), true
		}
	}

	for _, field := range f.Fields {
		if isEmailCapable(field) && safety.IsValidEmail(field.Value) {
			return safety.NormalizeEmail(field.Value), true
		}
	}

	return "", false
}

// ExtractFields returns the sanitised values of every safe field other than the email,
// which travels separately.
func ExtractFields(f page.Form) map[string]string {
	raw := make(map[string]string, len(f.Fields))
	ctx := make(safety.FormContext, len(f.Fields))

	for _, field := range f.Fields {
		key := field.Key()
		if key == "" || isEmailCapable(field) {
			continue
		}
		switch strings.ToLower(field.Type) {
		case "submit", "button", "reset", "image":
			continue
		}

		raw[key] = field.Value
		ctx[key] = safety.FieldInfo{
			Type: field.Type,
			Attributes: &safety.Attributes{
				Placeholder:  field.Placeholder,
				AriaLabel:    field.AriaLabel,
				Autocomplete: field.Autocomplete,
				Rendered:     field.Rendered,
			},
		}
	}

	return safety.SanitizeFormData(raw, ctx)
}
