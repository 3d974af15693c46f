package forms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signupPage = `<html><body>
<form id="search" action="/search"><input name="q"></form>
<form action="/join" class="card">
  <input type="email" name="email" placeholder="Work email">
  <input name="company" value="Acme &amp; Co">
  <input type="hidden" name="csrf" value="t0k3n">
  <input name="honeypot" style="display: none">
  <textarea name="about">hello</textarea>
  <select name="plan"><option>pro</option></select>
  <input type="submit" value="Get started">
  <button>Join now</button>
</form>
</body></html>`

func TestScanHTML(t *testing.T) {
	forms, err := ScanHTML(signupPage)
	require.NoError(t, err)
	require.Len(t, forms, 2)

	assert.Equal(t, "id:search", forms[0].Key)
	assert.False(t, IsSignupForm(forms[0]))

	f := forms[1]
	assert.Equal(t, "index:1", f.Key)
	assert.Equal(t, "/join", f.Action)
	assert.Equal(t, []string{"Get started", "Join now"}, f.SubmitLabels)
	assert.True(t, IsSignupForm(f))

	byName := map[string]int{}
	for i, fld := range f.Fields {
		byName[fld.Name] = i
	}

	assert.Equal(t, "email", f.Fields[byName["email"]].Type)
	assert.Equal(t, "Acme & Co", f.Fields[byName["company"]].Value)
	assert.Equal(t, "text", f.Fields[byName["company"]].Type)
	assert.Equal(t, "textarea", f.Fields[byName["about"]].Type)
	assert.Equal(t, "hello", f.Fields[byName["about"]].Value)
	assert.Equal(t, "select-one", f.Fields[byName["plan"]].Type)

	assert.Nil(t, f.Fields[byName["company"]].Rendered)
	require.NotNil(t, f.Fields[byName["honeypot"]].Rendered)
	assert.False(t, *f.Fields[byName["honeypot"]].Rendered)
}

func TestFormKey(t *testing.T) {
	assert.Equal(t, "id:signup", FormKey("signup", 3))
	assert.Equal(t, "index:3", FormKey("", 3))
}

func TestScanHTMLKeepsPinnedKeys(t *testing.T) {
	// a promo form was inserted ahead of the join form after it was first keyed
	html := `<html><body>
<form action="/promo"><input type="email" name="email"></form>
<form action="/join" ` + KeyAttr + `="index:0"><input type="email" name="email"></form>
<form action="/later" ` + KeyAttr + `="seq:0"><input name="q"></form>
</body></html>`

	forms, err := ScanHTML(html)
	require.NoError(t, err)
	require.Len(t, forms, 2)

	assert.Equal(t, "index:0", forms[0].Key)
	assert.Equal(t, "/join", forms[0].Action)
	assert.Equal(t, "seq:0", forms[1].Key)
	assert.Equal(t, "/later", forms[1].Action)
}
