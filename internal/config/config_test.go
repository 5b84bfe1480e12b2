package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-review-go/internal/types"
)

func mockEnv(t *testing.T) {
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	t.Setenv("USE_MOCK_LLM", "true")
	t.Setenv("CONFIG_PATH", "")
}

func TestDefaultsValidateWithMocks(t *testing.T) {
	mockEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderMock, cfg.Providers.Transcription.Kind)
	assert.Equal(t, ProviderMock, cfg.Providers.LLM.Kind)
	assert.Equal(t, 16000, cfg.Pipeline.CanonicalSampleRate)
	assert.Equal(t, []types.Language{types.LangEnglish, types.LangArabic}, cfg.Pipeline.Languages())
}

func TestLoadYAML(t *testing.T) {
	mockEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  max_call_duration: 10m
  stage_timeout: 20s
  stage_timeouts:
    summarization: 45s
  concurrency: 2
  summary_languages: [ar]
rubric:
  weights:
    clarity: 0.25
    compliance: 0.25
    empathy: 0.25
    resolution: 0.25
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.MaxCallDuration)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.TimeoutFor(types.StageSummarization))
	assert.Equal(t, 20*time.Second, cfg.Pipeline.TimeoutFor(types.StageTranscription))
	assert.Equal(t, 2, cfg.Pipeline.Concurrency)
	assert.Equal(t, 0.25, cfg.Rubric.Weights[types.CategoryResolution])
	assert.Equal(t, []types.Language{types.LangEnglish, types.LangArabic}, cfg.Pipeline.Languages())
}

func TestMaxStageTimeout(t *testing.T) {
	p := Default().Pipeline
	p.StageTimeout = 30 * time.Second
	assert.Equal(t, 30*time.Second, p.MaxStageTimeout())

	p.StageTimeouts = map[string]time.Duration{
		string(types.StageTranscription): 5 * time.Minute,
		string(types.StageQuality):       time.Second,
	}
	assert.Equal(t, 5*time.Minute, p.MaxStageTimeout())
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Providers.Transcription.Kind = ProviderMock
	cfg.Providers.LLM.Kind = ProviderMock
	cfg.Rubric.Weights[types.CategoryClarity] = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1")
}

func TestValidateRejectsUnknownStageAndLanguage(t *testing.T) {
	cfg := Default()
	cfg.Providers.Transcription.Kind = ProviderMock
	cfg.Providers.LLM.Kind = ProviderMock
	cfg.Pipeline.StageTimeouts["ingest"] = time.Second
	cfg.Pipeline.SummaryLanguages = []string{"fr"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown stage "ingest"`)
	assert.Contains(t, err.Error(), `unsupported language "fr"`)
}

func TestOpenAIRequiresKey(t *testing.T) {
	cfg := Default()
	cfg.Providers.Transcription.Kind = ProviderOpenAI
	cfg.Providers.LLM.Kind = ProviderMock
	assert.ErrorContains(t, cfg.Validate(), "OPENAI_API_KEY")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("USE_MOCK_TRANSCRIBE", "")
	t.Setenv("USE_MOCK_LLM", "true")
	t.Setenv("TRANSCRIBE_URL", "http://stt.local")
	t.Setenv("PORT", "9090")
	t.Setenv("PIPELINE_CONCURRENCY", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderHTTP, cfg.Providers.Transcription.Kind)
	assert.Equal(t, "http://stt.local", cfg.Providers.Transcription.URL)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 7, cfg.Pipeline.Concurrency)
}
