package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscoverEmail(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		want   string
		wantOK bool
	}{
		{
			name:   "data attribute",
			html:   `<div class="avatar" data-email="Jane@Example.com"></div>`,
			want:   "jane@example.com",
			wantOK: true,
		},
		{
			name:   "class hint",
			html:   `<nav><span class="user-email"> jane@example.com </span></nav>`,
			want:   "jane@example.com",
			wantOK: true,
		},
		{
			name:   "input value",
			html:   `<form><input type="email" name="email" value="jane@example.com"></form>`,
			want:   "jane@example.com",
			wantOK: true,
		},
		{
			name:   "hidden input skipped",
			html:   `<input type="hidden" name="email" value="ghost@example.com"><p>Welcome back</p>`,
			wantOK: false,
		},
		{
			name:   "visible text fallback",
			html:   `<main><p>Signed in as jane@example.com</p><script>var x = "bot@example.com"</script></main>`,
			want:   "jane@example.com",
			wantOK: true,
		},
		{
			name:   "script only",
			html:   `<script>var x = "bot@example.com"</script><p>Hello</p>`,
			wantOK: false,
		},
		{
			name:   "nothing",
			html:   `<h1>Welcome!</h1>`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DiscoverEmail(tt.html)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
