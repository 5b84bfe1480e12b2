package transcription

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-review-go/internal/errs"
	"call-review-go/internal/logger"
	"call-review-go/internal/types"
)

// Audio is the part of the canonical audio handle the transcriber reads.
type Audio interface {
	WAV() io.Reader
	DurationMs() int64
}

type Options struct {
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MergeGap        time.Duration
	AgentLabel      string
	// OnRetry is called before each retry with the error that caused it.
	OnRetry func(err error, wait time.Duration)
}

type Transcriber struct {
	backend Backend
	opts    Options
	norm    normalizer
	log     *logrus.Entry
}

func New(backend Backend, opts Options, log *logrus.Entry) *Transcriber {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 8 * time.Second
	}
	return &Transcriber{
		backend: backend,
		opts:    opts,
		norm:    newNormalizer(opts.MergeGap, opts.AgentLabel),
		log:     logger.Component(log, "transcription"),
	}
}

// Transcribe runs the backend with bounded exponential backoff on transient
// errors. When every attempt fails but some attempt produced segments, the
// best partial result is returned, marked incomplete, alongside a
// TranscriptionFailedError.
func (t *Transcriber) Transcribe(ctx context.Context, audio Audio, name string, hint types.Language) (*types.Transcript, error) {
	var (
		attempts int
		partial  Response
		result   Response
	)
	op := func() error {
		attempts++
		resp, err := t.backend.Transcribe(ctx, Request{
			Audio:      audio.WAV(),
			Filename:   name,
			DurationMs: audio.DurationMs(),
			Language:   hint,
		})
		if err == nil {
			result = resp
			return nil
		}
		if len(resp.Segments) > len(partial.Segments) {
			partial = resp
		}
		if errs.IsTransient(err) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.opts.InitialInterval
	bo.MaxInterval = t.opts.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(t.opts.Retries)), ctx)

	notify := func(err error, wait time.Duration) {
		t.log.WithError(err).WithFields(logrus.Fields{"attempt": attempts, "wait": wait}).Warn("transcription attempt failed, retrying")
		if t.opts.OnRetry != nil {
			t.opts.OnRetry(err, wait)
		}
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		failure := &errs.TranscriptionFailedError{Attempts: attempts, Err: unwrapPermanent(err)}
		if len(partial.Segments) == 0 {
			return nil, failure
		}
		tr := t.norm.normalize(partial, hint)
		tr.Incomplete = true
		t.log.WithFields(logrus.Fields{"segments": len(tr.Segments), "attempts": attempts}).Warn("keeping partial transcript")
		return tr, failure
	}

	tr := t.norm.normalize(result, hint)
	t.log.WithFields(logrus.Fields{
		"segments": len(tr.Segments),
		"language": tr.Language,
		"attempts": attempts,
	}).Debug("transcription done")
	return tr, nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
