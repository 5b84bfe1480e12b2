package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-review-go/internal/errs"
	"call-review-go/internal/metrics"
	"call-review-go/internal/pipeline"
	"call-review-go/internal/store"
	"call-review-go/internal/types"
)

type memStore map[string]types.Report

func (m memStore) Put(_ context.Context, rep types.Report) error {
	m[rep.CallID] = rep
	return nil
}

func (m memStore) Get(_ context.Context, id string) (types.Report, error) {
	rep, ok := m[id]
	if !ok {
		return types.Report{}, store.ErrNotFound
	}
	return rep, nil
}

func multipartBody(t *testing.T, fields map[string]string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "call.wav")
		require.NoError(t, err)
		_, err = fw.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestProcessUpload(t *testing.T) {
	var got pipeline.Job
	proc := ProcessorFunc(func(_ context.Context, job pipeline.Job) (types.Report, error) {
		got = job
		return types.Report{CallID: job.CallID, OverallStatus: types.OverallComplete}, nil
	})
	srv := httptest.NewServer(New(proc, nil, nil, nil).Handler())
	defer srv.Close()

	body, ct := multipartBody(t, map[string]string{"call_id": "c-9", "language": "ar", "context": "billing dispute"}, []byte("RIFF...."))
	resp, err := http.Post(srv.URL+"/process", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep types.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, "c-9", rep.CallID)
	assert.Equal(t, types.OverallComplete, rep.OverallStatus)

	assert.Equal(t, "c-9", got.CallID)
	assert.Equal(t, types.LangArabic, got.Language)
	assert.Equal(t, "billing dispute", got.Context)
	assert.Equal(t, []byte("RIFF...."), got.Source.Data)
	assert.Equal(t, "call.wav", got.Source.Filename)
}

func TestProcessAudioURL(t *testing.T) {
	var got pipeline.Job
	proc := ProcessorFunc(func(_ context.Context, job pipeline.Job) (types.Report, error) {
		got = job
		return types.Report{CallID: "call-abc", OverallStatus: types.OverallPartial}, nil
	})
	h := New(proc, nil, nil, nil).Handler()

	form := url.Values{"audio_url": {"https://example.com/a.wav"}}
	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com/a.wav", got.Source.URI)
	assert.Nil(t, got.Source.Data)
	assert.Equal(t, types.LangAuto, got.Language)
}

func TestProcessRejected(t *testing.T) {
	proc := ProcessorFunc(func(context.Context, pipeline.Job) (types.Report, error) {
		return types.Report{}, &errs.InvalidAudioError{Reason: "corrupt wav"}
	})
	h := New(proc, nil, nil, nil).Handler()

	body, ct := multipartBody(t, nil, []byte("not audio"))
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var eb errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	assert.Contains(t, eb.Error, "corrupt wav")
}

func TestProcessErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{pipeline.ErrPoolClosed, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		proc := ProcessorFunc(func(context.Context, pipeline.Job) (types.Report, error) {
			return types.Report{}, tc.err
		})
		rec := httptest.NewRecorder()
		New(proc, nil, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process?audio_url=x.wav", nil))
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestReports(t *testing.T) {
	reports := memStore{"c-1": {CallID: "c-1", OverallStatus: types.OverallFailed}}
	h := New(nil, reports, nil, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/c-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rep types.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, types.OverallFailed, rep.OverallStatus)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	New(nil, nil, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/c-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.New()
	m.ObserveReport(types.OverallComplete)
	h := New(nil, nil, m, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `callreview_reports_total{status="complete"} 1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/process", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
