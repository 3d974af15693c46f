package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFlow(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		referrer string
		wantOK   bool
		wantType FlowType
		provider string
	}{
		{
			name:     "authorization code",
			url:      "https://app.example.com/auth/callback?code=abc&state=xyz",
			referrer: "https://accounts.google.com/",
			wantOK:   true,
			wantType: AuthorizationCode,
			provider: "google",
		},
		{
			name:     "implicit token in fragment",
			url:      "https://app.example.com/#access_token=tok&token_type=bearer",
			referrer: "https://github.com/login",
			wantOK:   true,
			wantType: Implicit,
			provider: "github",
		},
		{
			name:     "id token in hash route",
			url:      "https://app.example.com/#/welcome?id_token=jwt",
			wantOK:   true,
			wantType: Implicit,
			provider: Unknown,
		},
		{
			name:     "error return",
			url:      "https://app.example.com/callback?error=access_denied&state=linkedin-123",
			wantOK:   true,
			wantType: ErrorReturn,
			provider: "linkedin",
		},
		{
			name:   "nothing",
			url:    "https://app.example.com/pricing?plan=pro",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := DetectFlow(tt.url, tt.referrer)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantType, f.Type)
			assert.Equal(t, tt.provider, f.Provider)
		})
	}
}

func TestDetectFlowNeverKeepsTokenValues(t *testing.T) {
	f, ok := DetectFlow("https://app.example.com/cb?code=s3cr3t#access_token=t0k3n", "")
	require.True(t, ok)
	assert.True(t, f.HasCode)
	assert.True(t, f.HasToken)
	assert.NotContains(t, f.State+f.Error+f.Provider, "s3cr3t")
	assert.NotContains(t, f.State+f.Error+f.Provider, "t0k3n")
}

func TestInferProvider(t *testing.T) {
	tests := []struct {
		referrer, url, state, want string
	}{
		{"https://login.microsoftonline.com/common", "https://app.example.com/", "", "microsoft"},
		{"https://evil-github.com/", "https://app.example.com/", "", Unknown},
		{"", "https://www.facebook.com/dialog", "", "facebook"},
		{"https://accounts.google.com/", "https://github.com/", "apple", "google"},
		{"", "https://app.example.com/", "Provider:Apple:123", "apple"},
		{"not a url %%", "", "", Unknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, InferProvider(tt.referrer, tt.url, tt.state), tt)
	}
}

func TestValidateReturn(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rawURL := "https://app.example.com/dashboard?code=abc&state=xyz"

	f, ok := DetectFlow(rawURL, "https://accounts.google.com/")
	require.True(t, ok)
	require.Equal(t, AuthorizationCode, f.Type)

	assert.True(t, ValidateReturn(f, Signals{Referrer: "https://accounts.google.com/", URL: rawURL, Now: now}))

	// the same URL with nothing backing it up
	bare, ok := DetectFlow(rawURL, "")
	require.True(t, ok)
	assert.False(t, ValidateReturn(bare, Signals{URL: rawURL, Now: now}))

	assert.True(t, ValidateReturn(bare, Signals{Referrer: "https://sso.corp.example/", URL: rawURL, Now: now}))
	assert.True(t, ValidateReturn(bare, Signals{URL: "https://app.example.com/oauth2/return?code=abc", Now: now}))
	assert.True(t, ValidateReturn(bare, Signals{URL: rawURL, NavigationStart: now.Add(-3 * time.Second), Now: now}))
	assert.False(t, ValidateReturn(bare, Signals{URL: rawURL, NavigationStart: now.Add(-time.Minute), Now: now}))
	assert.False(t, ValidateReturn(Flow{}, Signals{Referrer: "https://accounts.google.com/", URL: rawURL, Now: now}))
}

func TestCleanURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{
			"https://app.example.com/cb?code=abc&state=xyz&ref=nav",
			"https://app.example.com/cb?state=xyz&ref=nav",
		},
		{
			"https://app.example.com/cb#access_token=abc;x=1",
			"https://app.example.com/cb#x=1",
		},
		{
			"https://app.example.com/cb?code=abc;ref=nav",
			"https://app.example.com/cb?ref=nav",
		},
		{
			"https://app.example.com/#access_token=t&token_type=bearer&expires_in=3600&scope=email",
			"https://app.example.com/",
		},
		{
			"https://app.example.com/#/home?id_token=jwt&tab=2",
			"https://app.example.com/#/home?tab=2",
		},
		{
			"https://app.example.com/#/home?id_token=jwt",
			"https://app.example.com/#/home",
		},
		{
			"https://app.example.com/docs#section-2",
			"https://app.example.com/docs#section-2",
		},
	}

	for _, tt := range tests {
		got, err := CleanURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.False(t, HasTokens(got))
	}
}

func TestSemicolonSeparatedFragment(t *testing.T) {
	rawURL := "https://app.example.com/cb#access_token=abc;x=1"
	require.True(t, HasTokens(rawURL))

	f, ok := DetectFlow(rawURL, "")
	require.True(t, ok)
	assert.Equal(t, Implicit, f.Type)
	assert.True(t, f.HasToken)
}

func TestFlowKeyIgnoresTokensAndState(t *testing.T) {
	a := FlowKey("https://app.example.com/cb?code=one&state=a")
	b := FlowKey("https://app.example.com/cb?code=two&state=b")
	c := FlowKey("https://app.example.com/other?code=one&state=a")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "https://app.example.com/cb", a)
}
