package forms

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobch27/signupwatch/internal/models"
	"github.com/bobch27/signupwatch/internal/page"
	"github.com/bobch27/signupwatch/internal/page/pagetest"
)

type recorder struct {
	mu      sync.Mutex
	signups []models.Signup
}

func (r *recorder) ReportSignup(_ context.Context, s models.Signup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signups = append(r.signups, s)
	return nil
}

func (r *recorder) all() []models.Signup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Signup(nil), r.signups...)
}

type consentFlag struct{ on atomic.Bool }

func (c *consentFlag) HasConsent(context.Context) bool { return c.on.Load() }

func granted() *consentFlag {
	c := &consentFlag{}
	c.on.Store(true)
	return c
}

func signupForm(email string) page.Form {
	return page.Form{
		Key:    "id:signup-form",
		ID:     "signup-form",
		Action: "/signup",
		Fields: []page.Field{
			field("email", "email", email),
			field("text", "name", "Jane"),
			field("password", "password", "hunter2"),
		},
	}
}

func newDetector(t *testing.T, p page.Page, c ConsentChecker, r Reporter) *Detector {
	t.Helper()
	d := NewDetector(p, c, r, Config{}, nil)
	t.Cleanup(d.Stop)
	return d
}

func TestSubmitReportsSignup(t *testing.T) {
	p := pagetest.New("https://example.com/signup")
	p.SetReferrer("https://google.com/")
	rec := &recorder{}
	d := newDetector(t, p, granted(), rec)

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, Active, d.State())

	f := signupForm("Jane@Example.com ")
	p.Emit(page.Event{Kind: page.EventFormAdded, Form: &f})
	p.Emit(page.Event{Kind: page.EventSubmit, Form: &f})

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)

	s := rec.all()[0]
	assert.Equal(t, "jane@example.com", s.Email)
	assert.Equal(t, models.MethodForm, s.Method)
	assert.Equal(t, "https://example.com/signup", s.PageURL)
	assert.Equal(t, "https://google.com/", s.Referrer)
	assert.Equal(t, map[string]string{"name": "Jane"}, s.Fields)
	assert.NotContains(t, s.Fields, "password")
	assert.Equal(t, 1, d.Observed())
}

func TestDuplicateSubmitsWithinWindow(t *testing.T) {
	p := pagetest.New("https://example.com/")
	rec := &recorder{}
	d := newDetector(t, p, granted(), rec)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	f := signupForm("jane@example.com")
	ctx := context.Background()

	assert.True(t, d.HandleSubmit(ctx, f))
	now = now.Add(200 * time.Millisecond)
	assert.False(t, d.HandleSubmit(ctx, f))

	// a different email is a different submission
	assert.True(t, d.HandleSubmit(ctx, signupForm("john@example.com")))

	now = now.Add(time.Second)
	assert.True(t, d.HandleSubmit(ctx, f))

	d.Wait()
	assert.Len(t, rec.all(), 3)
	assert.Equal(t, 3, d.Reported())
}

func TestSubmitWithoutConsentIsIgnored(t *testing.T) {
	p := pagetest.New("https://example.com/")
	rec := &recorder{}
	c := &consentFlag{}
	d := newDetector(t, p, c, rec)

	assert.False(t, d.HandleSubmit(context.Background(), signupForm("jane@example.com")))
	assert.Equal(t, 0, d.Observed())

	c.on.Store(true)
	assert.True(t, d.HandleSubmit(context.Background(), signupForm("jane@example.com")))

	d.Wait()
	assert.Len(t, rec.all(), 1)
}

func TestSubmitWithoutEmailIsIgnored(t *testing.T) {
	d := newDetector(t, pagetest.New("https://example.com/"), granted(), &recorder{})

	assert.False(t, d.HandleSubmit(context.Background(), signupForm("")))
	assert.False(t, d.HandleSubmit(context.Background(), signupForm("nope")))
	assert.Equal(t, 0, d.Reported())
}

func TestLoginSubmitIsNeverReported(t *testing.T) {
	rec := &recorder{}
	d := newDetector(t, pagetest.New("https://example.com/"), granted(), rec)

	login := page.Form{
		Key: "id:login",
		ID:  "login",
		Fields: []page.Field{
			field("email", "email", "jane@example.com"),
			field("password", "password", "hunter2"),
		},
	}
	assert.False(t, d.HandleSubmit(context.Background(), login))
	d.Wait()
	assert.Empty(t, rec.all())
}

func TestInitialScanAndCap(t *testing.T) {
	p := pagetest.New("https://example.com/")
	p.SetHTML(`<form id="a" action="/signup"><input type="email" name="email"></form>
<form id="b" action="/register"><input type="email" name="email"></form>
<form id="c" action="/login"><input type="email" name="email"></form>`)

	d := NewDetector(p, granted(), &recorder{}, Config{MaxForms: 1}, nil)
	t.Cleanup(d.Stop)

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 1, d.Observed())

	extra := page.Form{Key: "id:d", ID: "signup-d", Fields: []page.Field{field("email", "email", "")}}
	assert.False(t, d.Observe(extra))
}

func TestStartStop(t *testing.T) {
	p := pagetest.New("https://example.com/")
	d := NewDetector(p, granted(), &recorder{}, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Start(ctx))
	assert.Equal(t, 1, p.Len())

	d.Stop()
	assert.Equal(t, Idle, d.State())
	assert.Equal(t, 0, p.Len())

	d.Stop()
	require.NoError(t, d.Start(ctx))
	assert.Equal(t, Active, d.State())
	d.Stop()
}

func TestStartFailsOnClosedPage(t *testing.T) {
	p := pagetest.New("https://example.com/")
	p.Close()

	d := NewDetector(p, granted(), &recorder{}, Config{}, nil)
	assert.ErrorIs(t, d.Start(context.Background()), page.ErrClosed)
	assert.Equal(t, Idle, d.State())
}
