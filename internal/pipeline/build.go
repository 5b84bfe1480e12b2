package pipeline

import (
	"github.com/sirupsen/logrus"

	"call-review-go/internal/config"
	"call-review-go/internal/evaluation"
	"call-review-go/internal/ingest"
	"call-review-go/internal/llm"
	"call-review-go/internal/metrics"
	"call-review-go/internal/quality"
	"call-review-go/internal/summary"
	"call-review-go/internal/transcription"
)

// maxRecordingBytes bounds a single upload or download.
const maxRecordingBytes = 512 << 20

// Build wires the stage implementations selected by cfg.
func Build(cfg *config.Config, m *metrics.Metrics, sinks []Sink, log *logrus.Entry) (*Orchestrator, error) {
	p := cfg.Pipeline

	backend, err := transcription.FromConfig(cfg.Providers.Transcription, log)
	if err != nil {
		return nil, err
	}

	var (
		summaries summary.Backend = summary.Mock{}
		assessor  evaluation.Assessor
	)
	if cfg.Providers.LLM.Kind == config.ProviderOpenAI {
		client := llm.NewOpenAI(cfg.Providers.LLM, log)
		summaries = summary.NewLLMBackend(client)
		if cfg.Providers.LLM.AssessorEnabled {
			assessor = evaluation.NewLLMAssessor(client)
		}
	}

	stages := Stages{
		Ingestor: ingest.New(ingest.Options{
			MaxDuration:   p.MaxCallDuration,
			CanonicalRate: p.CanonicalSampleRate,
			MaxBytes:      maxRecordingBytes,
		}, nil, log),
		Analyzer: quality.NewAnalyzer(),
		Transcriber: transcription.New(backend, transcription.Options{
			Retries:         p.TranscriptionRetries,
			InitialInterval: p.RetryInitialInterval,
			MaxInterval:     p.RetryMaxInterval,
			MergeGap:        p.MergeGap,
			AgentLabel:      p.AgentSpeakerLabel,
			OnRetry:         m.RetryHook("transcription"),
		}, log),
		Evaluator: evaluation.New(cfg.Rubric.Weights, cfg.Rubric.ModelBlend, assessor, log),
		Summarizer: summary.New(summaries, summary.Options{
			Languages:     p.Languages(),
			Retries:       p.SummaryRetries,
			RetryInterval: p.RetryInitialInterval,
			OnRetry:       m.RetryHook("summary"),
		}, log),
	}
	return New(p, stages, Options{Sinks: sinks, Metrics: m, Log: log}), nil
}
