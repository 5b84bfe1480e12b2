// Package summary produces per-language call summaries with
// recommendations. Arabic output is shaped for right-to-left display.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-review-go/internal/errs"
	"call-review-go/internal/logger"
	"call-review-go/internal/rtl"
	"call-review-go/internal/types"
)

type Options struct {
	// Languages always produced. English is added when missing.
	Languages     []types.Language
	Retries       int
	RetryInterval time.Duration
	OnRetry       func(err error, wait time.Duration)
}

type Summarizer struct {
	backend Backend
	opts    Options
	log     *logrus.Entry
}

func New(backend Backend, opts Options, log *logrus.Entry) *Summarizer {
	return &Summarizer{backend: backend, opts: opts, log: logger.Component(log, "summary")}
}

// Languages returns the required summary languages: English, the configured
// list, and Arabic when either the hint or the detected language is Arabic.
func (s *Summarizer) Languages(hint, detected types.Language) []types.Language {
	out := []types.Language{types.LangEnglish}
	add := func(l types.Language) {
		if l != types.LangEnglish && l != types.LangArabic {
			return
		}
		for _, have := range out {
			if have == l {
				return
			}
		}
		out = append(out, l)
	}
	for _, l := range s.opts.Languages {
		add(l)
	}
	add(hint)
	add(detected)
	return out
}

// Summarize returns one Summary per required language. A language whose
// generation keeps failing gets the extractive fallback, and the returned
// error (a CapabilityFailure) lists those languages; the summaries are
// complete either way.
func (s *Summarizer) Summarize(ctx context.Context, tr *types.Transcript, scores *types.EvaluationScore, hint types.Language) ([]types.Summary, error) {
	var detected types.Language
	if tr != nil {
		detected = tr.Language
	}
	langs := s.Languages(hint, detected)
	out := make([]types.Summary, 0, len(langs))
	var failures []error
	for _, lang := range langs {
		sum, err := s.generate(ctx, Request{Transcript: tr, Scores: scores, Language: lang})
		if err != nil {
			s.log.WithError(err).WithField("language", lang).Warn("summary generation failed, using extractive fallback")
			failures = append(failures, fmt.Errorf("%s: %w", lang, err))
			sum = finalize(extractive(tr, scores, lang), lang, types.SourceFallback)
		}
		out = append(out, sum)
	}
	if len(failures) > 0 {
		return out, &errs.CapabilityFailure{Capability: "summary", Err: errors.Join(failures...)}
	}
	return out, nil
}

// Fallback builds the extractive summary for every required language
// without calling the backend.
func (s *Summarizer) Fallback(tr *types.Transcript, scores *types.EvaluationScore, hint types.Language) []types.Summary {
	var detected types.Language
	if tr != nil {
		detected = tr.Language
	}
	langs := s.Languages(hint, detected)
	out := make([]types.Summary, 0, len(langs))
	for _, lang := range langs {
		out = append(out, finalize(extractive(tr, scores, lang), lang, types.SourceFallback))
	}
	return out
}

func (s *Summarizer) generate(ctx context.Context, req Request) (types.Summary, error) {
	var sum types.Summary
	op := func() error {
		resp, err := s.backend.Generate(ctx, req)
		if err == nil {
			sum, err = accept(resp, req.Language)
		}
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryInterval), uint64(s.opts.Retries)), ctx)
	notify := func(err error, wait time.Duration) {
		s.log.WithError(err).WithField("language", req.Language).Debug("retrying summary")
		if s.opts.OnRetry != nil {
			s.opts.OnRetry(err, wait)
		}
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return types.Summary{}, err
	}
	return sum, nil
}

// accept validates a backend response and shapes it for its language.
func accept(resp Response, lang types.Language) (types.Summary, error) {
	sum := finalize(resp, lang, types.SourceModel)
	switch {
	case sum.Text == "":
		return sum, malformed("empty summary")
	case len(sum.Recommendations) == 0:
		return sum, malformed("no recommendations")
	case lang == types.LangArabic && !hasArabic(sum.Text):
		return sum, malformed("arabic summary contains no arabic text")
	}
	if lang == types.LangArabic {
		for _, t := range append([]string{sum.Text}, sum.Recommendations...) {
			if err := rtl.Validate(t); err != nil {
				return sum, malformed(err.Error())
			}
		}
	}
	return sum, nil
}

func malformed(reason string) error {
	return &errs.CapabilityFailure{Capability: "summary", Err: errors.New(reason)}
}

func finalize(resp Response, lang types.Language, source string) types.Summary {
	shape := strings.TrimSpace
	if lang == types.LangArabic {
		shape = func(s string) string {
			s = strings.TrimSpace(rtl.Strip(s))
			if s == "" {
				return ""
			}
			return rtl.Shape(s)
		}
	}
	sum := types.Summary{
		Language:        lang,
		Text:            shape(resp.Summary),
		Direction:       rtl.DirectionFor(lang),
		Source:          source,
		Recommendations: []string{},
	}
	for _, r := range resp.Recommendations {
		if r = shape(r); r != "" {
			sum.Recommendations = append(sum.Recommendations, r)
		}
	}
	return sum
}

func hasArabic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
