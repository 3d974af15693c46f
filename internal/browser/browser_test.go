package browser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobch27/signupwatch/internal/forms"
	"github.com/bobch27/signupwatch/internal/page"
)

func TestDecodePayload(t *testing.T) {
	raw := `{"kind":"submit","t":1767268800123.5,"form":{"key":"id:signup","action":"/join","id":"signup","class":"card",` +
		`"name":"","fields":[{"tag":"input","type":"email","name":"email","id":"","value":"jane@example.com",` +
		`"placeholder":"","ariaLabel":"","autocomplete":"email","rendered":true}],"submitLabels":["Join"]}}`

	ev, err := decodePayload(raw)
	require.NoError(t, err)

	assert.Equal(t, page.EventSubmit, ev.Kind)
	assert.Equal(t, int64(1767268800123), ev.Time.UnixMilli())
	require.NotNil(t, ev.Form)
	assert.Equal(t, "id:signup", ev.Form.Key)
	require.Len(t, ev.Form.Fields, 1)
	require.NotNil(t, ev.Form.Fields[0].Rendered)
	assert.True(t, *ev.Form.Fields[0].Rendered)

	// the decoded form is what the detector classifies
	assert.True(t, forms.IsSignupForm(*ev.Form))
	email, ok := forms.ExtractEmail(*ev.Form)
	assert.True(t, ok)
	assert.Equal(t, "jane@example.com", email)
}

func TestDecodePayloadEvents(t *testing.T) {
	ev, err := decodePayload(`{"kind":"visibility","visible":true}`)
	require.NoError(t, err)
	assert.True(t, ev.Visible)
	assert.WithinDuration(t, time.Now(), ev.Time, time.Second)

	ev, err = decodePayload(`{"kind":"consent","accepted":true,"t":1}`)
	require.NoError(t, err)
	assert.True(t, ev.Accepted)

	ev, err = decodePayload(`{"kind":"scroll","scroll":{"top":100,"viewportHeight":800,"documentHeight":3000}}`)
	require.NoError(t, err)
	require.NotNil(t, ev.Scroll)
	assert.Equal(t, 3000.0, ev.Scroll.DocumentHeight)

	_, err = decodePayload(`{"visible":true}`)
	assert.Error(t, err)

	_, err = decodePayload(`not json`)
	assert.Error(t, err)
}

func TestScriptsReferenceBinding(t *testing.T) {
	assert.Contains(t, hookScript, "window."+bindingName+"(")
	assert.Contains(t, bannerScript, "window."+bindingName+"(")
}

func TestBannerQuotesText(t *testing.T) {
	script, err := bannerFor(`Say "yes" </script>`)
	require.NoError(t, err)
	assert.Contains(t, script, `text.textContent = "Say \"yes\" \u003c/script\u003e";`)
	assert.False(t, strings.Contains(script, "%s"))
	assert.False(t, strings.Contains(script, "%!"))
}

func TestReplaceURLIsNotANavigation(t *testing.T) {
	script, err := replaceURLFor("https://app.example.com/cb?state=x")
	require.NoError(t, err)

	assert.Contains(t, script, "window."+silentFlag+" = true;")
	assert.Contains(t, script, `history.replaceState(history.state, '', "https://app.example.com/cb?state=x");`)
	assert.Contains(t, script, "window."+silentFlag+" = false;")
	assert.False(t, strings.Contains(script, "%!"))

	// the history hook only reports rewrites made outside the flag
	assert.Contains(t, hookScript, "if (!window."+silentFlag+") urlChanged();")
}

func TestHookPinsFormKeys(t *testing.T) {
	assert.Contains(t, hookScript, "const keyAttr = '"+forms.KeyAttr+"';")
	assert.Contains(t, hookScript, "form.setAttribute(keyAttr, key);")
	assert.Contains(t, hookScript, "if (pinned) return pinned;")
}
