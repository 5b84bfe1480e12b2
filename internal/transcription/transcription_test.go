package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-review-go/internal/config"
	"call-review-go/internal/errs"
	"call-review-go/internal/ingest"
	"call-review-go/internal/types"
)

func testAudio() *ingest.Audio {
	return ingest.NewAudio(make([]float64, 16000*2), 16000)
}

func fastOptions(retries int) Options {
	return Options{
		Retries:         retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MergeGap:        300 * time.Millisecond,
		AgentLabel:      "SPEAKER_00",
	}
}

func assertOrdered(t *testing.T, tr *types.Transcript) {
	t.Helper()
	require.NoError(t, tr.Validate())
	for i := 1; i < len(tr.Segments); i++ {
		assert.LessOrEqual(t, tr.Segments[i-1].EndMs, tr.Segments[i].StartMs)
	}
}

func TestNormalizeOrdersAndMerges(t *testing.T) {
	n := newNormalizer(300*time.Millisecond, "SPEAKER_00")
	tr := n.normalize(Response{Segments: []Segment{
		{StartMs: 5000, EndMs: 6000, Speaker: "SPEAKER_01", Text: "second customer turn", Confidence: 0.8},
		{StartMs: 0, EndMs: 1000, Speaker: "SPEAKER_00", Text: "hello", Confidence: 0.9},
		{StartMs: 1100, EndMs: 2000, Speaker: "SPEAKER_00", Text: "how can I help", Confidence: 0.7},
		{StartMs: 1900, EndMs: 3000, Speaker: "SPEAKER_01", Text: "my bill is wrong", Confidence: 1.4},
		{StartMs: 2200, EndMs: 2500, Speaker: "SPEAKER_00", Text: "mm", Confidence: 0.5},
		{StartMs: 3500, EndMs: 3600, Speaker: "", Text: "   ", Confidence: 0.5},
	}}, types.LangAuto)

	assertOrdered(t, tr)
	require.Len(t, tr.Segments, 4)

	agent := tr.Segments[0]
	assert.Equal(t, types.RoleAgent, agent.SpeakerRole)
	assert.Equal(t, "hello how can I help", agent.Text)
	assert.Equal(t, int64(2000), agent.EndMs)
	assert.InDelta(t, (0.9*1000+0.7*900)/1900, agent.Confidence, 1e-9)

	cust := tr.Segments[1]
	assert.Equal(t, types.RoleCustomer, cust.SpeakerRole)
	assert.Equal(t, int64(2000), cust.StartMs, "overlap clamped to previous end")
	assert.Equal(t, "my bill is wrong", cust.Text)
	assert.LessOrEqual(t, cust.Confidence, 1.0)

	backchannel := tr.Segments[2]
	assert.Equal(t, types.RoleAgent, backchannel.SpeakerRole, "contained segment of another speaker keeps its role")
	assert.Equal(t, "mm", backchannel.Text)
	assert.Equal(t, int64(3000), backchannel.StartMs)
	assert.Equal(t, int64(3000), backchannel.EndMs)

	assert.Equal(t, int64(5000), tr.Segments[3].StartMs)
	assert.Equal(t, types.LangEnglish, tr.Language)
}

func TestNormalizeKeepsCustomerInsideAgentTurn(t *testing.T) {
	n := newNormalizer(300*time.Millisecond, "SPEAKER_00")
	tr := n.normalize(Response{Segments: []Segment{
		{StartMs: 0, EndMs: 5000, Speaker: "SPEAKER_00", Text: "Thank you for calling, how can I help", Confidence: 0.9},
		{StartMs: 1000, EndMs: 2000, Speaker: "SPEAKER_01", Text: "my card was charged twice", Confidence: 0.8},
	}}, types.LangAuto)

	assertOrdered(t, tr)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "Thank you for calling, how can I help", tr.Segments[0].Text)
	assert.Equal(t, types.RoleAgent, tr.Segments[0].SpeakerRole)
	assert.Equal(t, int64(5000), tr.Segments[0].EndMs)

	cust := tr.Segments[1]
	assert.Equal(t, types.RoleCustomer, cust.SpeakerRole)
	assert.Equal(t, "SPEAKER_01", cust.SpeakerLabel)
	assert.Equal(t, "my card was charged twice", cust.Text)
	assert.Equal(t, int64(5000), cust.StartMs)
	assert.Equal(t, int64(5000), cust.EndMs)
	assert.Contains(t, tr.Text(), "my card was charged twice")
}

func TestNormalizeRoles(t *testing.T) {
	n := newNormalizer(0, "SPEAKER_00")
	assert.Equal(t, types.RoleAgent, n.role("agent"))
	assert.Equal(t, types.RoleAgent, n.role("speaker_00"))
	assert.Equal(t, types.RoleCustomer, n.role("customer"))
	assert.Equal(t, types.RoleCustomer, n.role("SPEAKER_02"))
	assert.Equal(t, types.RoleUnknown, n.role(""))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, types.LangArabic, DetectLanguage("أريد استرداد المبلغ للطلب 4521", types.LangAuto))
	assert.Equal(t, types.LangEnglish, DetectLanguage("I want a refund", types.LangArabic))
	assert.Equal(t, types.LangArabic, DetectLanguage("4521", types.LangArabic))
	assert.Equal(t, types.LangEnglish, DetectLanguage("...", types.LangAuto))
}

func TestTranscribeRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	backend := BackendFunc(func(ctx context.Context, req Request) (Response, error) {
		b, err := io.ReadAll(req.Audio)
		require.NoError(t, err)
		assert.NotEmpty(t, b)
		if calls.Add(1) < 3 {
			return Response{}, errs.Transient("stt", errors.New("rate limited"))
		}
		return Mock{}.Transcribe(ctx, req)
	})

	var retries int
	opts := fastOptions(3)
	opts.OnRetry = func(error, time.Duration) { retries++ }
	tr, err := New(backend, opts, nil).Transcribe(context.Background(), testAudio(), "call.wav", types.LangEnglish)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, retries)
	assert.False(t, tr.Incomplete)
	assert.Len(t, tr.Segments, 7)
	assertOrdered(t, tr)
}

func TestTranscribeGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	backend := BackendFunc(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{}, errs.Transient("stt", errors.New("503"))
	})

	tr, err := New(backend, fastOptions(2), nil).Transcribe(context.Background(), testAudio(), "", types.LangAuto)
	require.Error(t, err)
	assert.Nil(t, tr)
	assert.Equal(t, int32(3), calls.Load())

	var failed *errs.TranscriptionFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 3, failed.Attempts)
	assert.True(t, errors.Is(err, errs.ErrCapability))
}

func TestTranscribeDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	backend := BackendFunc(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{}, &errs.CapabilityFailure{Capability: "stt", Err: errors.New("401")}
	})

	_, err := New(backend, fastOptions(3), nil).Transcribe(context.Background(), testAudio(), "", types.LangAuto)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTranscribeKeepsPartialTranscript(t *testing.T) {
	backend := BackendFunc(func(context.Context, Request) (Response, error) {
		return Response{Segments: []Segment{
			{StartMs: 0, EndMs: 900, Speaker: "SPEAKER_00", Text: "thanks for calling", Confidence: 0.9},
			{StartMs: 1500, EndMs: 2500, Speaker: "SPEAKER_01", Text: "my internet is down", Confidence: 0.8},
		}}, &errs.CapabilityFailure{Capability: "stt", Err: errors.New("stream reset")}
	})

	tr, err := New(backend, fastOptions(1), nil).Transcribe(context.Background(), testAudio(), "", types.LangAuto)
	require.Error(t, err)
	require.NotNil(t, tr)
	assert.True(t, tr.Incomplete)
	assert.Len(t, tr.Segments, 2)
	assertOrdered(t, tr)
}

func TestMockArabic(t *testing.T) {
	tr, err := New(Mock{}, fastOptions(0), nil).Transcribe(context.Background(), testAudio(), "", types.LangArabic)
	require.NoError(t, err)
	assert.Equal(t, types.LangArabic, tr.Language)
	assert.Equal(t, types.RoleAgent, tr.Segments[0].SpeakerRole)
	assert.Equal(t, types.RoleCustomer, tr.Segments[1].SpeakerRole)
}

func TestHTTPServicePublishPollDownload(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("audio")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "call.wav", hdr.Filename)
		assert.Equal(t, "en", r.FormValue("language"))
		_, _ = w.Write([]byte(`{"Code":200,"Status":"ok","Data":{"MediaId":"m-1","Status":"Queued"}}`))
	})
	mux.HandleFunc("/getstatus", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "m-1", r.URL.Query().Get("mediaId"))
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"Code":200,"Data":{"Status":"Processing"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"Code":200,"Data":{"Status":"Success","TranscriptionTextURL":"` + srvURL + `/doc/m-1"}}`))
	})
	mux.HandleFunc("/doc/m-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Language: "en", Segments: []Segment{
			{StartMs: 0, EndMs: 1000, Speaker: "agent", Text: "hello", Confidence: 0.9},
			{StartMs: 1200, EndMs: 2000, Speaker: "customer", Text: "hi", Confidence: 0.8},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	svc := NewHTTPService(srv.URL, "", time.Millisecond, nil)
	resp, err := svc.Transcribe(context.Background(), Request{Audio: testAudio().WAV(), Filename: "call.wav", Language: types.LangEnglish})
	require.NoError(t, err)
	assert.Len(t, resp.Segments, 2)
	assert.Equal(t, int32(3), polls.Load())
}

func TestHTTPServiceClassifiesErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, "", time.Millisecond, nil)
	_, err := svc.Transcribe(context.Background(), Request{Audio: testAudio().WAV()})
	assert.True(t, errs.IsTransient(err))

	status = http.StatusBadRequest
	_, err = svc.Transcribe(context.Background(), Request{Audio: testAudio().WAV()})
	assert.False(t, errs.IsTransient(err))
	assert.True(t, errors.Is(err, errs.ErrCapability))
}

func TestHTTPServicePartialOnFailedJob(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Code":200,"Data":{"MediaId":"m-2"}}`))
	})
	mux.HandleFunc("/getstatus", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Code":200,"Reason":"worker crashed","Data":{"Status":"Failed","TranscriptionTextURL":"` + srvURL + `/partial"}}`))
	})
	mux.HandleFunc("/partial", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"segments":[{"start_ms":0,"end_ms":800,"speaker":"agent","text":"hello","confidence":0.9}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	resp, err := NewHTTPService(srv.URL, "", time.Millisecond, nil).Transcribe(context.Background(), Request{Audio: testAudio().WAV()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker crashed")
	assert.Len(t, resp.Segments, 1)
}

func TestWhisperBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "ar", r.FormValue("language"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task":"transcribe","language":"arabic","duration":2.0,"text":"مرحبا بك",
			"segments":[{"id":0,"seek":0,"start":0.0,"end":1.25,"text":" مرحبا بك","avg_logprob":-0.2,"compression_ratio":1.0,"no_speech_prob":0.01}]}`))
	}))
	defer srv.Close()

	w := NewWhisper(config.TranscriptionProvider{URL: srv.URL, APIKey: "k"})
	resp, err := w.Transcribe(context.Background(), Request{Audio: testAudio().WAV(), Filename: "c.wav", Language: types.LangArabic, DurationMs: 2000})
	require.NoError(t, err)
	assert.Equal(t, "ar", resp.Language)
	require.Len(t, resp.Segments, 1)
	assert.Equal(t, int64(1250), resp.Segments[0].EndMs)
	assert.InDelta(t, 0.8187, resp.Segments[0].Confidence, 1e-3)
}

func TestFromConfig(t *testing.T) {
	b, err := FromConfig(config.TranscriptionProvider{Kind: config.ProviderMock}, nil)
	require.NoError(t, err)
	assert.IsType(t, Mock{}, b)

	_, err = FromConfig(config.TranscriptionProvider{Kind: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
