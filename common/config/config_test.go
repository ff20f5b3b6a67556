package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REASONING_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load("seed-improver")
	require.NoError(t, err)

	assert.Equal(t, "seed-improver", cfg.Service.Name)
	assert.Equal(t, 30, cfg.Improver.SampleSize)
	assert.Equal(t, 30*time.Minute, cfg.Improver.RunTimeout)
	assert.False(t, cfg.Features.GeneralAutoApply)
	assert.False(t, cfg.Features.StrategyAutoApply)
	assert.False(t, cfg.Features.HighRiskAutoApproval)
	assert.False(t, cfg.Features.AutoImplement)
	assert.False(t, cfg.ReasoningEnabled())
	assert.Contains(t, cfg.Improver.AllowedPatchPaths, "/telemetry")
}

func TestLoad_FeatureFlagsAndCredential(t *testing.T) {
	t.Setenv("SEED_IMPROVER_AUTO_APPLY", "true")
	t.Setenv("SEED_IMPROVER_AUTO_IMPLEMENT", "1")
	t.Setenv("GEMINI_API_KEY", "key-from-gemini")
	t.Setenv("REASONING_API_KEY", "")
	t.Setenv("SEED_IMPROVER_PATCH_PATHS", "/telemetry, /execution ,")

	cfg, err := Load("seed-improver")
	require.NoError(t, err)

	assert.True(t, cfg.Features.GeneralAutoApply)
	assert.True(t, cfg.Features.AutoImplement)
	assert.True(t, cfg.ReasoningEnabled())
	assert.Equal(t, "key-from-gemini", cfg.Reasoning.APIKey)
	assert.Equal(t, []string{"/telemetry", "/execution"}, cfg.Improver.AllowedPatchPaths)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORE_TYPE", "sqlite")
	_, err := Load("seed-improver")
	assert.ErrorContains(t, err, "unknown store type")

	t.Setenv("STORE_TYPE", "memory")
	t.Setenv("SEED_IMPROVER_SAMPLE_SIZE", "0")
	_, err = Load("seed-improver")
	assert.ErrorContains(t, err, "sample size")
}
