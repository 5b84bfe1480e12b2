package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"call-review-go/internal/types"
)

const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderHTTP   = "http"
)

type Config struct {
	Pipeline  Pipeline  `yaml:"pipeline"`
	Rubric    Rubric    `yaml:"rubric"`
	Providers Providers `yaml:"providers"`
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
}

type Pipeline struct {
	MaxCallDuration      time.Duration            `yaml:"max_call_duration"`
	CanonicalSampleRate  int                      `yaml:"canonical_sample_rate"`
	StageTimeout         time.Duration            `yaml:"stage_timeout"`
	StageTimeouts        map[string]time.Duration `yaml:"stage_timeouts"`
	TranscriptionRetries int                      `yaml:"transcription_retries"`
	SummaryRetries       int                      `yaml:"summary_retries"`
	RetryInitialInterval time.Duration            `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration            `yaml:"retry_max_interval"`
	Concurrency          int                      `yaml:"concurrency"`
	QueueSize            int                      `yaml:"queue_size"`
	SummaryLanguages     []string                 `yaml:"summary_languages"`
	MergeGap             time.Duration            `yaml:"merge_gap"`
	AgentSpeakerLabel    string                   `yaml:"agent_speaker_label"`
}

// TimeoutFor returns the configured timeout for a stage, falling back to
// StageTimeout.
func (p Pipeline) TimeoutFor(stage types.Stage) time.Duration {
	if d, ok := p.StageTimeouts[string(stage)]; ok && d > 0 {
		return d
	}
	return p.StageTimeout
}

// MaxStageTimeout is the longest timeout any stage may run for.
func (p Pipeline) MaxStageTimeout() time.Duration {
	longest := p.StageTimeout
	for _, stage := range types.Stages {
		if d := p.TimeoutFor(stage); d > longest {
			longest = d
		}
	}
	return longest
}

// Languages returns the parsed summary languages, English always first.
func (p Pipeline) Languages() []types.Language {
	out := []types.Language{types.LangEnglish}
	for _, l := range p.SummaryLanguages {
		lang := types.ParseLanguage(l)
		if lang == types.LangAuto || lang == types.LangEnglish {
			continue
		}
		dup := false
		for _, have := range out {
			if have == lang {
				dup = true
			}
		}
		if !dup {
			out = append(out, lang)
		}
	}
	return out
}

type Rubric struct {
	Weights    map[string]float64 `yaml:"weights"`
	ModelBlend float64            `yaml:"model_blend"`
}

type Providers struct {
	Transcription TranscriptionProvider `yaml:"transcription"`
	LLM           LLMProvider           `yaml:"llm"`
}

type TranscriptionProvider struct {
	Kind   string `yaml:"kind"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type LLMProvider struct {
	Kind            string  `yaml:"kind"`
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	Temperature     float32 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	AssessorEnabled bool    `yaml:"assessor_enabled"`
}

type Storage struct {
	ReportsDir string `yaml:"reports_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	AMQPURL    string `yaml:"amqp_url"`
	AMQPQueue  string `yaml:"amqp_queue"`
}

type Server struct {
	Port string `yaml:"port"`
}

// Default returns the documented defaults. Rubric weights and retry
// parameters are starting points, not calibrated values.
func Default() *Config {
	return &Config{
		Pipeline: Pipeline{
			MaxCallDuration:      30 * time.Minute,
			CanonicalSampleRate:  16000,
			StageTimeout:         90 * time.Second,
			StageTimeouts:        map[string]time.Duration{},
			TranscriptionRetries: 3,
			SummaryRetries:       1,
			RetryInitialInterval: 500 * time.Millisecond,
			RetryMaxInterval:     8 * time.Second,
			Concurrency:          4,
			QueueSize:            64,
			SummaryLanguages:     []string{"en", "ar"},
			MergeGap:             300 * time.Millisecond,
			AgentSpeakerLabel:    "SPEAKER_00",
		},
		Rubric: Rubric{
			Weights: map[string]float64{
				types.CategoryClarity:    0.20,
				types.CategoryCompliance: 0.25,
				types.CategoryEmpathy:    0.25,
				types.CategoryResolution: 0.30,
			},
			ModelBlend: 0.5,
		},
		Providers: Providers{
			Transcription: TranscriptionProvider{Model: "whisper-1"},
			LLM:           LLMProvider{Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 1200},
		},
		Storage: Storage{
			ReportsDir: "outputs",
			AMQPQueue:  "call_reports",
		},
		Server: Server{Port: "8080"},
	}
}

// Load reads .env, the optional YAML file at path (or CONFIG_PATH), then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // loads .env

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	tp := &c.Providers.Transcription
	llm := &c.Providers.LLM

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if tp.APIKey == "" {
			tp.APIKey = v
		}
		if llm.APIKey == "" {
			llm.APIKey = v
		}
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		llm.APIKey = v
	}
	if v := os.Getenv("LLM_GATEWAY_URL"); v != "" {
		llm.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		llm.Model = v
	}
	if v := os.Getenv("TRANSCRIBE_URL"); v != "" {
		tp.URL = v
		if tp.Kind == "" {
			tp.Kind = ProviderHTTP
		}
	}
	if os.Getenv("USE_MOCK_TRANSCRIBE") == "true" {
		tp.Kind = ProviderMock
	}
	if os.Getenv("USE_MOCK_LLM") == "true" {
		llm.Kind = ProviderMock
	}
	if tp.Kind == "" {
		tp.Kind = ProviderOpenAI
	}
	if llm.Kind == "" {
		llm.Kind = ProviderOpenAI
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("REPORTS_DIR"); v != "" {
		c.Storage.ReportsDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		c.Storage.AMQPURL = v
	}
	if v := os.Getenv("PIPELINE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Concurrency = n
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	p := c.Pipeline
	if p.MaxCallDuration <= 0 {
		problems = append(problems, "pipeline.max_call_duration must be positive")
	}
	if p.CanonicalSampleRate < 8000 {
		problems = append(problems, "pipeline.canonical_sample_rate must be at least 8000")
	}
	if p.StageTimeout <= 0 {
		problems = append(problems, "pipeline.stage_timeout must be positive")
	}
	for stage := range p.StageTimeouts {
		if !knownStage(stage) {
			problems = append(problems, fmt.Sprintf("pipeline.stage_timeouts: unknown stage %q", stage))
		}
	}
	if p.TranscriptionRetries < 0 || p.SummaryRetries < 0 {
		problems = append(problems, "retry counts must not be negative")
	}
	if p.Concurrency <= 0 {
		problems = append(problems, "pipeline.concurrency must be positive")
	}
	if p.QueueSize < 0 {
		problems = append(problems, "pipeline.queue_size must not be negative")
	}
	for _, l := range p.SummaryLanguages {
		if types.ParseLanguage(l) == types.LangAuto {
			problems = append(problems, fmt.Sprintf("pipeline.summary_languages: unsupported language %q", l))
		}
	}

	sum := 0.0
	for k, w := range c.Rubric.Weights {
		if !knownCategory(k) {
			problems = append(problems, fmt.Sprintf("rubric.weights: unknown category %q", k))
		}
		if w < 0 {
			problems = append(problems, fmt.Sprintf("rubric.weights.%s must not be negative", k))
		}
		sum += w
	}
	if len(c.Rubric.Weights) != len(types.Categories) {
		problems = append(problems, "rubric.weights must define every category")
	}
	if math.Abs(sum-1) > 1e-6 {
		problems = append(problems, fmt.Sprintf("rubric.weights must sum to 1 (got %.4f)", sum))
	}
	if c.Rubric.ModelBlend < 0 || c.Rubric.ModelBlend > 1 {
		problems = append(problems, "rubric.model_blend must be within [0,1]")
	}

	tp := c.Providers.Transcription
	switch tp.Kind {
	case ProviderMock:
	case ProviderOpenAI:
		if tp.APIKey == "" {
			problems = append(problems, "transcription provider openai requires OPENAI_API_KEY")
		}
	case ProviderHTTP:
		if tp.URL == "" {
			problems = append(problems, "transcription provider http requires TRANSCRIBE_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown transcription provider %q", tp.Kind))
	}
	switch c.Providers.LLM.Kind {
	case ProviderMock:
	case ProviderOpenAI:
		if c.Providers.LLM.APIKey == "" {
			problems = append(problems, "llm provider openai requires OPENAI_API_KEY or LLM_API_KEY")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown llm provider %q", c.Providers.LLM.Kind))
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func knownStage(s string) bool {
	for _, st := range types.Stages {
		if string(st) == s {
			return true
		}
	}
	return false
}

func knownCategory(c string) bool {
	for _, k := range types.Categories {
		if k == c {
			return true
		}
	}
	return false
}
