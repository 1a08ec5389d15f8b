package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "repolens", cfg.Name)
		assert.Equal(t, "gemini-2.5-flash", cfg.Models.Discovery.Model)
		assert.Equal(t, 4, cfg.Runner.MaxConcurrent)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "repolens.yaml")
		content := `
models:
  analysis:
    provider: openai
    model: gpt-4.1
    max_input_tokens: 200000
runner:
  max_concurrent: 8
  call_timeout: 90s
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.Models.Analysis.Provider)
		assert.Equal(t, "gpt-4.1", cfg.Models.Analysis.Model)
		assert.Equal(t, 200000, cfg.Models.Analysis.MaxInputTokens)
		assert.Equal(t, 8, cfg.Runner.MaxConcurrent)
		assert.Equal(t, 90*time.Second, cfg.Runner.CallTimeoutDuration())

		// Untouched sections keep their defaults.
		assert.Equal(t, "gemini-2.5-flash", cfg.Models.Discovery.Model)
		assert.Equal(t, 2000, cfg.Batching.SummaryMaxChars)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("models: [broken"), 0644))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("env api keys win over file values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "repolens.yaml")
		content := "providers:\n  gemini_api_key: from-file\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		t.Setenv("GEMINI_API_KEY", "from-env")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Providers.GeminiAPIKey)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "repolens.yaml")

	cfg := DefaultConfig()
	cfg.Models.Final.Model = "gpt-4.1"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", loaded.Models.Final.Model)
}

func TestModelSpecLimits(t *testing.T) {
	t.Run("default margin is 10 percent for large windows", func(t *testing.T) {
		spec := ModelSpec{MaxInputTokens: 1_000_000}
		limit, margin, effective := spec.EffectiveLimits()
		assert.Equal(t, 1_000_000, limit)
		assert.Equal(t, 100_000, margin)
		assert.Equal(t, 900_000, effective)
	})

	t.Run("default margin floors at 4000 for small windows", func(t *testing.T) {
		spec := ModelSpec{MaxInputTokens: 16_000}
		_, margin, effective := spec.EffectiveLimits()
		assert.Equal(t, 4_000, margin)
		assert.Equal(t, 12_000, effective)
	})

	t.Run("explicit margin is respected", func(t *testing.T) {
		spec := ModelSpec{MaxInputTokens: 100_000, ReservedOutputMargin: 25_000}
		assert.Equal(t, 75_000, spec.Ceiling())
	})

	t.Run("margin clamps below the limit", func(t *testing.T) {
		spec := ModelSpec{MaxInputTokens: 3_000}
		_, margin, effective := spec.EffectiveLimits()
		assert.Equal(t, 2_999, margin)
		assert.Equal(t, 1, effective)
	})

	t.Run("unknown window assumes conservative default", func(t *testing.T) {
		spec := ModelSpec{}
		limit, _, _ := spec.EffectiveLimits()
		assert.Equal(t, defaultMaxInputTokens, limit)
	})
}

func TestForPhase(t *testing.T) {
	models := DefaultModels()
	assert.Equal(t, "gemini-2.5-flash", models.ForPhase("Discovery").Model)
	assert.Equal(t, "gemini-2.5-pro", models.ForPhase("final").Model)
	assert.Equal(t, models.Analysis, models.ForPhase("unknown-phase"))
}
