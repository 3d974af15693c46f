package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobch27/signupwatch/internal/consent"
	"github.com/bobch27/signupwatch/internal/models"
	"github.com/bobch27/signupwatch/sdk"
)

func TestNewWebsite(t *testing.T) {
	w, err := newWebsite("Example.COM/pricing")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", w.origin())
	assert.Equal(t, "https://Example.COM/pricing", w.originalURL)

	_, err = newWebsite("ftp://files.example.com")
	assert.Error(t, err)

	_, err = newWebsite("https://")
	assert.Error(t, err)
}

func TestFilterWebsites(t *testing.T) {
	websites := filterWebsites([]string{
		"https://example.com/signup",
		" https://example.com/signup ",
		"https://example.com/login",
		"https://www.googletagmanager.com/gtm.js",
		"",
		"ftp://nope.example.com",
	})

	require.Len(t, websites, 2)
	assert.Equal(t, "https://example.com/signup", websites[0].originalURL)
	assert.Equal(t, "https://example.com/login", websites[1].originalURL)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVSourceExtract(t *testing.T) {
	path := writeFile(t, "sites.csv", "url,notes\nhttps://a.example.com,first\n\nb.example.com\n")

	source, err := NewCSVSource(path)
	require.NoError(t, err)

	urls, err := source.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "b.example.com"}, urls)

	// no header
	path = writeFile(t, "bare.csv", "https://c.example.com\n")
	source, err = NewCSVSource(path)
	require.NoError(t, err)
	urls, err = source.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://c.example.com"}, urls)
}

func TestCSVSourceMissingFile(t *testing.T) {
	_, err := NewCSVSource(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	source, err := NewCSVSource("")
	require.NoError(t, err)
	urls, err := source.Extract(context.Background())
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestExtractWebsites(t *testing.T) {
	path := writeFile(t, "sites.csv", "url\nhttps://a.example.com\nhttps://b.example.com\n")

	websites, err := extractWebsites(context.Background(), "https://a.example.com", path)
	require.NoError(t, err)
	require.Len(t, websites, 2)
	assert.Equal(t, "a.example.com", websites[0].domain)
	assert.Equal(t, "b.example.com", websites[1].domain)
}

func TestCSVSinkWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	err = sink.WriteResults([]watchResult{
		{
			website: "https://example.com",
			status: sdk.Status{
				Initialized:     true,
				Consent:         consent.Granted,
				Detecting:       true,
				FormsObserved:   2,
				SignupsReported: 1,
				Activity:        models.ActivityMetrics{TimeOnPageSeconds: 42, ScrollDepthPercent: 80, Clicks: 3},
			},
		},
		{website: "https://down.example.com", watchErrs: []string{"failed to load page", "timeout"}},
	})
	require.NoError(t, err)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, resultHeaders, rows[0])
	assert.Equal(t, []string{
		"https://example.com", "✅", "❌", "granted", "✅", "2", "1", "0", "0", "42", "80", "3", "",
	}, rows[1])
	assert.Equal(t, "failed to load page;\ntimeout", rows[2][len(rows[2])-1])
}

func TestConfigValidate(t *testing.T) {
	c := config{watch: 1}
	assert.Error(t, c.validate())

	c.url = "https://example.com"
	assert.Error(t, c.validate(), "api key missing")

	c.sdk.APIKey = "k"
	assert.NoError(t, c.validate())

	c.db, c.redis = "x.db", "redis://localhost:6379"
	assert.Error(t, c.validate())
}
