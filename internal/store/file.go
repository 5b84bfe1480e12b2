package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"call-review-go/internal/logger"
	"call-review-go/internal/types"
)

const processingLogName = "processing_log.json"

// LogEntry is one line of the processing log.
type LogEntry struct {
	CallID       string              `json:"call_id"`
	Status       types.OverallStatus `json:"status"`
	SourceURI    string              `json:"source_uri,omitempty"`
	FailedStages []string            `json:"failed_stages,omitempty"`
	ReportFile   string              `json:"report_file"`
	GeneratedAt  time.Time           `json:"generated_at"`
	DurationMs   int64               `json:"duration_ms"`
}

// FileStore keeps one JSON file per report plus a processing log of every
// call seen, keyed by call id.
type FileStore struct {
	dir string
	mu  sync.Mutex
	log *logrus.Entry
}

func NewFileStore(dir string, log *logrus.Entry) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	return &FileStore{dir: dir, log: logger.Component(log, "store.file")}, nil
}

func (s *FileStore) path(id string) string { return filepath.Join(s.dir, id+".json") }

func (s *FileStore) Put(_ context.Context, rep types.Report) error {
	if err := checkID(rep.CallID); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path(rep.CallID), raw); err != nil {
		return err
	}
	entries, err := s.readLog()
	if err != nil {
		return err
	}
	entries[rep.CallID] = LogEntry{
		CallID:       rep.CallID,
		Status:       rep.OverallStatus,
		SourceURI:    rep.Recording.SourceURI,
		FailedStages: failedStages(rep),
		ReportFile:   filepath.Base(s.path(rep.CallID)),
		GeneratedAt:  rep.GeneratedAt,
		DurationMs:   rep.DurationMs,
	}
	if err := s.writeLog(entries); err != nil {
		return err
	}
	s.log.WithField("call_id", rep.CallID).WithField("status", rep.OverallStatus).Debug("report saved")
	return nil
}

func (s *FileStore) Get(_ context.Context, callID string) (types.Report, error) {
	if err := checkID(callID); err != nil {
		return types.Report{}, ErrNotFound
	}
	raw, err := os.ReadFile(s.path(callID))
	if errors.Is(err, fs.ErrNotExist) {
		return types.Report{}, ErrNotFound
	}
	if err != nil {
		return types.Report{}, fmt.Errorf("read report: %w", err)
	}
	var rep types.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return types.Report{}, fmt.Errorf("decode report %s: %w", callID, err)
	}
	return rep, nil
}

// ProcessingLog returns the log entries ordered by generation time.
func (s *FileStore) ProcessingLog() ([]LogEntry, error) {
	s.mu.Lock()
	entries, err := s.readLog()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.Before(out[j].GeneratedAt)
		}
		return out[i].CallID < out[j].CallID
	})
	return out, nil
}

func (s *FileStore) readLog() (map[string]LogEntry, error) {
	entries := map[string]LogEntry{}
	raw, err := os.ReadFile(filepath.Join(s.dir, processingLogName))
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read processing log: %w", err)
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode processing log: %w", err)
	}
	return entries, nil
}

func (s *FileStore) writeLog(entries map[string]LogEntry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode processing log: %w", err)
	}
	return writeAtomic(filepath.Join(s.dir, processingLogName), raw)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
