package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-review-go/internal/errs"
	"call-review-go/internal/logger"
)

// HTTPService talks to an asynchronous transcription service:
//
//	POST {base}/transcribe            multipart upload, returns a media id
//	GET  {base}/getstatus?mediaId=ID  Queued | Processing | Success | Failed
//	GET  {TranscriptionURL}           the segment document (Response JSON)
//
// A Failed status that still carries a transcription URL yields the partial
// document plus an error.
type HTTPService struct {
	base         string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	log          *logrus.Entry
}

type PublishResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		MediaId          string `json:"MediaId"`
		Status           string `json:"Status"`
		TranscriptionURL string `json:"TranscriptionURL"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type StatusResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		Status               string `json:"Status"`
		TranscriptionTextURL string `json:"TranscriptionTextURL"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

func NewHTTPService(base, apiKey string, pollInterval time.Duration, log *logrus.Entry) *HTTPService {
	if pollInterval <= 0 {
		pollInterval = 1500 * time.Millisecond
	}
	return &HTTPService{
		base:         strings.TrimRight(base, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		log:          logger.Component(log, "transcription-http"),
	}
}

func (h *HTTPService) Transcribe(ctx context.Context, req Request) (Response, error) {
	mediaID, existingURL, err := h.publish(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if existingURL != "" {
		return h.download(ctx, existingURL)
	}
	finalURL, err := h.poll(ctx, mediaID)
	if err != nil {
		var failed *jobFailedError
		if errors.As(err, &failed) && failed.partialURL != "" {
			resp, derr := h.download(ctx, failed.partialURL)
			if derr == nil {
				return resp, err
			}
		}
		return Response{}, err
	}
	h.log.WithField("media_id", mediaID).Debug("download final transcript")
	return h.download(ctx, finalURL)
}

func (h *HTTPService) publish(ctx context.Context, r Request) (string, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	name := r.Filename
	if name == "" {
		name = "call.wav"
	}
	fw, err := w.CreateFormFile("audio", name)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(fw, r.Audio); err != nil {
		return "", "", fmt.Errorf("read audio: %w", err)
	}
	_ = w.WriteField("language", string(r.Language))
	_ = w.WriteField("diarize", "true")
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/transcribe", &b)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp PublishResponse
	if err := h.doJSON(req, &resp); err != nil {
		return "", "", err
	}
	if resp.Code != http.StatusOK {
		err := fmt.Errorf("transcribe publish error: code=%d reason=%s", resp.Code, resp.Reason)
		if errs.RetryableStatus(resp.Code) {
			return "", "", errs.Transient("transcribe publish", err)
		}
		return "", "", &errs.CapabilityFailure{Capability: "transcription", Err: err}
	}
	if resp.Data.TranscriptionURL != "" && strings.EqualFold(resp.Data.Status, "success") {
		return "", resp.Data.TranscriptionURL, nil
	}
	if resp.Data.MediaId == "" {
		return "", "", &errs.CapabilityFailure{Capability: "transcription", Err: errors.New("publish returned no media id")}
	}
	return resp.Data.MediaId, "", nil
}

type jobFailedError struct {
	reason     string
	partialURL string
}

func (e *jobFailedError) Error() string        { return "transcription job failed: " + e.reason }
func (e *jobFailedError) Is(target error) bool { return target == errs.ErrCapability }

func (h *HTTPService) poll(ctx context.Context, mediaID string) (string, error) {
	u, err := url.Parse(h.base + "/getstatus")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("mediaId", mediaID)
	u.RawQuery = q.Encode()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", errs.Transient("transcription poll", ctx.Err())
		case <-ticker.C:
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return "", err
		}
		var s StatusResponse
		if err := h.doJSON(req, &s); err != nil {
			if errs.IsTransient(err) && ctx.Err() == nil {
				h.log.WithError(err).Debug("status poll failed")
				continue
			}
			return "", err
		}
		switch s.Data.Status {
		case "Success":
			return s.Data.TranscriptionTextURL, nil
		case "Queued", "Processing":
			continue
		case "Failed":
			return "", &jobFailedError{reason: s.Reason, partialURL: s.Data.TranscriptionTextURL}
		default:
			return "", &errs.CapabilityFailure{Capability: "transcription", Err: fmt.Errorf("unknown job status %q", s.Data.Status)}
		}
	}
}

func (h *HTTPService) download(ctx context.Context, u string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, err
	}
	var out Response
	if err := h.doJSON(req, &out); err != nil {
		return Response{}, err
	}
	return out, nil
}

// doJSON performs one request and classifies failures: transport errors,
// 429 and 5xx are transient; other statuses and undecodable bodies are
// capability failures.
func (h *HTTPService) doJSON(req *http.Request, target any) error {
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return errs.Transient(req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Transient(req.URL.Path, err)
	}
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("%s: %s: %s", req.URL.Path, resp.Status, truncate(body, 256))
		if errs.RetryableStatus(resp.StatusCode) {
			return errs.Transient(req.URL.Path, err)
		}
		return &errs.CapabilityFailure{Capability: "transcription", Err: err}
	}
	if len(body) == 0 {
		return &errs.CapabilityFailure{Capability: "transcription", Err: errors.New("empty body")}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &errs.CapabilityFailure{Capability: "transcription", Err: fmt.Errorf("json decode error: %v body=%s", err, truncate(body, 256))}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
