// Package oauth recognises a page load that completes an OAuth round trip and reports
// it as a signup. Token values are never read, stored or reported.
package oauth

import (
	"net/url"
	"slices"
	"strings"
	"time"
)

// FlowType classifies an OAuth return.
type FlowType string

const (
	AuthorizationCode FlowType = "authorization_code"
	Implicit          FlowType = "implicit"
	ErrorReturn       FlowType = "error"
)

// Unknown is the provider reported when attribution fails.
const Unknown = "unknown"

// RecentLoadWindow is how fresh a document load must be to corroborate a return.
const RecentLoadWindow = 10 * time.Second

// tokenParams are stripped from the address bar after detection.
var tokenParams = []string{"code", "access_token", "id_token", "refresh_token", "token_type", "expires_in", "scope"}

// Flow is what was learned from the URL. It records the presence of credentials, never
// their values.
type Flow struct {
	Type     FlowType
	Provider string
	// State is the opaque state parameter, used only for attribution.
	State    string
	HasCode  bool
	HasToken bool
	HasError bool
	// Error is the provider's error code, e.g. access_denied.
	Error string
}

type provider struct {
	name    string
	domains []string
}

// providers is checked in order.
var providers = []provider{
	{"google", []string{"accounts.google.com", "google.com"}},
	{"github", []string{"github.com"}},
	{"microsoft", []string{"login.microsoftonline.com", "login.live.com", "microsoft.com", "live.com"}},
	{"facebook", []string{"facebook.com", "fb.com"}},
	{"twitter", []string{"twitter.com", "x.com"}},
	{"linkedin", []string{"linkedin.com"}},
	{"apple", []string{"appleid.apple.com", "apple.com"}},
}

var authHostTerms = []string{"auth", "login", "accounts", "sso", "signin", "identity"}

var callbackPathTerms = []string{"callback", "redirect", "auth", "oauth"}

type param struct {
	raw, key, value string
}

// splitParams splits a query or fragment on both '&' and ';'. A pair with a bad
// escape keeps its raw text as key and value.
func splitParams(raw string) []param {
	var out []param
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == '&' || r == ';' }) {
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		if key == "" {
			continue
		}
		out = append(out, param{raw: part, key: key, value: value})
	}
	return out
}

// without drops the named pairs from raw, keeping the others verbatim and in order.
func without(raw string, names []string) (string, bool) {
	var kept []string
	removed := false
	for _, p := range splitParams(raw) {
		if slices.Contains(names, p.key) {
			removed = true
			continue
		}
		kept = append(kept, p.raw)
	}
	return strings.Join(kept, "&"), removed
}

// params merges query and fragment parameters; the query wins on conflicts.
func params(u *url.URL) url.Values {
	merged := url.Values{}

	fragment := u.Fragment
	if i := strings.IndexByte(fragment, '?'); i >= 0 {
		fragment = fragment[i+1:]
	}
	for _, p := range splitParams(fragment) {
		merged.Add(p.key, p.value)
	}

	query := url.Values{}
	for _, p := range splitParams(u.RawQuery) {
		query.Add(p.key, p.value)
	}
	for k, v := range query {
		merged[k] = v
	}

	return merged
}

// DetectFlow inspects rawURL for OAuth return parameters.
func DetectFlow(rawURL, referrer string) (Flow, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Flow{}, false
	}
	p := params(u)

	f := Flow{
		State:    p.Get("state"),
		HasCode:  p.Has("code"),
		HasToken: p.Has("access_token") || p.Has("id_token"),
		HasError: p.Has("error"),
		Error:    p.Get("error"),
	}

	switch {
	case f.HasError:
		f.Type = ErrorReturn
	case f.HasCode:
		f.Type = AuthorizationCode
	case f.HasToken:
		f.Type = Implicit
	default:
		return Flow{}, false
	}

	f.Provider = InferProvider(referrer, rawURL, f.State)
	return f, true
}

// InferProvider attributes a return to a provider by referrer domain, then URL domain,
// then a provider name inside the state parameter.
func InferProvider(referrer, rawURL, state string) string {
	if name, ok := providerForHost(hostOf(referrer)); ok {
		return name
	}
	if name, ok := providerForHost(hostOf(rawURL)); ok {
		return name
	}

	state = strings.ToLower(state)
	if state != "" {
		for _, p := range providers {
			if strings.Contains(state, p.name) {
				return p.name
			}
		}
	}

	return Unknown
}

func providerForHost(host string) (string, bool) {
	if host == "" {
		return "", false
	}
	for _, p := range providers {
		for _, d := range p.domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return p.name, true
			}
		}
	}
	return "", false
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Signals corroborate a parameter match.
type Signals struct {
	Referrer        string
	URL             string
	NavigationStart time.Time
	Now             time.Time
}

// ValidateReturn reports whether a detected flow is backed by at least one
// corroborating signal: an auth-looking referrer, a callback-looking path, or a
// document load within RecentLoadWindow.
func ValidateReturn(f Flow, s Signals) bool {
	if f.Type == "" {
		return false
	}

	if host := hostOf(s.Referrer); host != "" {
		if _, ok := providerForHost(host); ok {
			return true
		}
		for _, term := range authHostTerms {
			if strings.Contains(host, term) {
				return true
			}
		}
	}

	if u, err := url.Parse(s.URL); err == nil {
		path := strings.ToLower(u.Path)
		for _, term := range callbackPathTerms {
			if strings.Contains(path, term) {
				return true
			}
		}
	}

	if !s.NavigationStart.IsZero() && !s.Now.IsZero() {
		age := s.Now.Sub(s.NavigationStart)
		if age >= 0 && age <= RecentLoadWindow {
			return true
		}
	}

	return false
}

// CleanURL removes token-bearing parameters from the query and the fragment. A
// fragment left empty is dropped.
func CleanURL(rawURL string) (string, error) {
	return strip(rawURL, tokenParams)
}

// FlowKey identifies the shape of a return: the URL without token-bearing parameters
// or state.
func FlowKey(rawURL string) string {
	key, err := strip(rawURL, append([]string{"state", "session_state"}, tokenParams...))
	if err != nil {
		return rawURL
	}
	return key
}

// HasTokens reports whether rawURL still carries any token-bearing parameter.
func HasTokens(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := params(u)
	for _, name := range tokenParams {
		if p.Has(name) {
			return true
		}
	}
	return false
}

func strip(rawURL string, names []string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	if rest, removed := without(u.RawQuery, names); removed {
		u.RawQuery = rest
	}

	if u.Fragment != "" {
		prefix, fragment := "", u.Fragment
		if i := strings.IndexByte(fragment, '?'); i >= 0 {
			prefix, fragment = fragment[:i+1], fragment[i+1:]
		}

		if rest, removed := without(fragment, names); removed {
			switch {
			case rest != "":
				u.Fragment = prefix + rest
			case prefix != "":
				u.Fragment = strings.TrimSuffix(prefix, "?")
			default:
				u.Fragment = ""
			}
			u.RawFragment = ""
		}
	}

	return u.String(), nil
}
