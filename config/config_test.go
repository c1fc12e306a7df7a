package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModels(t *testing.T) {
	c := &Config{LLMModel: "gemini-2.5-flash", LLMFallbackModels: " gemini-2.5-flash-lite, gemini-2.5-flash,,gemini-2.0-flash "}
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-flash-lite", "gemini-2.0-flash"}, c.Models())

	c = &Config{LLMFallbackModels: "only-fallback"}
	assert.Equal(t, []string{"only-fallback"}, c.Models())
}

func TestArchiveEnabled(t *testing.T) {
	assert.False(t, (&Config{ArchiveS3URL: "https://s3.example.com"}).ArchiveEnabled())
	assert.True(t, (&Config{ArchiveS3URL: "https://s3.example.com", ArchiveS3Bucket: "raw"}).ArchiveEnabled())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "forge")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "cases")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "host=localhost user=forge password=secret dbname=cases port=5432 sslmode=disable", c.DSN())
	assert.Equal(t, 800, c.SynthPerSourceChars)
	assert.Equal(t, 9000, c.SynthTotalChars)
	assert.True(t, c.LocalFallbackEnabled)
	assert.True(t, c.NewsAPIStrictFilter)
	assert.Equal(t, 6*time.Hour, c.GNewsCacheTTL)
}
