// Package api serves the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"call-review-go/internal/errs"
	"call-review-go/internal/ingest"
	"call-review-go/internal/logger"
	"call-review-go/internal/metrics"
	"call-review-go/internal/pipeline"
	"call-review-go/internal/store"
	"call-review-go/internal/types"
)

// Processor runs one call to completion.
type Processor interface {
	Process(ctx context.Context, job pipeline.Job) (types.Report, error)
}

type ProcessorFunc func(ctx context.Context, job pipeline.Job) (types.Report, error)

func (f ProcessorFunc) Process(ctx context.Context, job pipeline.Job) (types.Report, error) {
	return f(ctx, job)
}

// maxUploadBytes bounds a multipart upload held in memory and on disk.
const maxUploadBytes = 256 << 20

type Server struct {
	proc    Processor
	reports store.Store
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New returns a server. reports and m may be nil, which disables
// /reports and /metrics respectively.
func New(proc Processor, reports store.Store, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{proc: proc, reports: reports, metrics: m, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("POST /process", s.process)
	mux.HandleFunc("GET /reports/{id}", s.report)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.log.WithRequest(r).Debug("health check")
	fmt.Fprint(w, "ok")
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "process")
	reqLog.Info("process request received")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			reqLog.WithError(err).Warn("bad multipart form")
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad multipart form: " + err.Error()})
			return
		}
		defer r.MultipartForm.RemoveAll()
	}

	job := pipeline.Job{
		CallID:   r.FormValue("call_id"),
		Language: types.ParseLanguage(r.FormValue("language")),
		Context:  r.FormValue("context"),
		Source:   ingest.Source{URI: r.FormValue("audio_url")},
	}
	file, hdr, err := r.FormFile("audio")
	switch {
	case err == nil:
		data, rerr := io.ReadAll(file)
		file.Close()
		if rerr != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "read upload: " + rerr.Error()})
			return
		}
		job.Source = ingest.Source{Data: data, Filename: hdr.Filename}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	reqLog = reqLog.WithField("call_id", job.CallID).WithField("audio_url", job.Source.URI)

	rep, err := s.proc.Process(r.Context(), job)
	if err != nil {
		switch {
		case errs.IsInput(err):
			reqLog.WithError(err).Warn("recording rejected")
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
		case errors.Is(err, pipeline.ErrPoolClosed):
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "shutting down"})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			reqLog.WithError(err).Warn("request abandoned")
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		default:
			reqLog.WithError(err).Error("processing failed")
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		}
		return
	}
	reqLog.WithField("call_id", rep.CallID).WithField("overall_status", rep.OverallStatus).
		WithField("duration_ms", rep.DurationMs).Info("report ready")
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.reports == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "report storage disabled"})
		return
	}
	rep, err := s.reports.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "report not found"})
		return
	}
	if err != nil {
		s.log.WithRequest(r).WithError(err).Error("report lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "report lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
