package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-review-go/internal/logger"
	"call-review-go/internal/rtl"
	"call-review-go/internal/types"
)

func ptr(v float64) *float64 { return &v }

func sampleReport(id string, status types.OverallStatus, at time.Time) types.Report {
	arabic := rtl.Shape("اتصل العميل بخصوص الفاتورة INV-2291 وتم حل المشكلة خلال 3 دقائق.")
	return types.Report{
		CallID:    id,
		Recording: types.CallRecording{ID: id, SourceURI: "file://" + id + ".wav", Format: "wav", DurationMs: 61000, SampleRate: 16000},
		Scores: &types.EvaluationScore{
			Categories: map[string]*float64{
				types.CategoryClarity:    ptr(82),
				types.CategoryCompliance: ptr(90),
				types.CategoryEmpathy:    ptr(64),
				types.CategoryResolution: nil,
			},
			Overall: ptr(78.7),
			Source:  "heuristic",
		},
		Summaries: []types.Summary{
			{Language: types.LangEnglish, Text: "Customer called about invoice INV-2291.", Recommendations: []string{"Acknowledge the customer's frustration."}, Direction: types.DirLTR, Source: types.SourceModel},
			{Language: types.LangArabic, Text: arabic, Recommendations: []string{"اعترف بإحباط العميل."}, Direction: types.DirRTL, Source: types.SourceModel},
		},
		StageStatus: map[types.Stage]types.StageStatus{
			types.StageQuality:       {Status: types.StatusOK},
			types.StageTranscription: {Status: types.StatusOK},
			types.StageEvaluation:    {Status: types.StatusOK},
			types.StageSummarization: {Status: types.StatusFailed, Reason: "summary: ar: timeout"},
		},
		OverallStatus: status,
		GeneratedAt:   at,
		DurationMs:    1834,
	}
}

var t0 = time.Date(2025, 12, 3, 10, 15, 0, 0, time.UTC)

func assertRTLPreserved(t *testing.T, want, got types.Report) {
	t.Helper()
	w, ok := want.Summary(types.LangArabic)
	require.True(t, ok)
	g, ok := got.Summary(types.LangArabic)
	require.True(t, ok)
	assert.Equal(t, []byte(w.Text), []byte(g.Text), "shaped text is stored byte for byte")
	assert.Equal(t, rtl.Runs(w.Text), rtl.Runs(g.Text))
	assert.Equal(t, types.DirRTL, g.Direction)
	assert.NoError(t, rtl.Validate(g.Text))
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, logger.Discard().Entry)
	require.NoError(t, err)
	ctx := context.Background()

	rep := sampleReport("call-001", types.OverallPartial, t0)
	require.NoError(t, s.Put(ctx, rep))

	got, err := s.Get(ctx, "call-001")
	require.NoError(t, err)
	assert.Equal(t, rep.CallID, got.CallID)
	assert.Equal(t, types.OverallPartial, got.OverallStatus)
	assert.True(t, rep.GeneratedAt.Equal(got.GeneratedAt))
	assert.Nil(t, got.Scores.Categories[types.CategoryResolution], "null scores stay null")
	assertRTLPreserved(t, rep, got)

	_, err = os.Stat(filepath.Join(dir, "call-001.json"))
	assert.NoError(t, err)
}

func TestFileStoreProcessingLog(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleReport("call-b", types.OverallPartial, t0.Add(time.Minute))))
	require.NoError(t, s.Put(ctx, sampleReport("call-a", types.OverallComplete, t0)))
	// Re-processing replaces the entry rather than appending.
	require.NoError(t, s.Put(ctx, sampleReport("call-b", types.OverallFailed, t0.Add(2*time.Minute))))

	entries, err := s.ProcessingLog()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "call-a", entries[0].CallID)
	assert.Equal(t, "call-b", entries[1].CallID)
	assert.Equal(t, types.OverallFailed, entries[1].Status)
	assert.Equal(t, []string{"summarization:failed"}, entries[1].FailedStages)
	assert.Equal(t, "call-b.json", entries[1].ReportFile)
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		assert.Error(t, s.Put(ctx, sampleReport(id, types.OverallComplete, t0)), id)
		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestFileStoreNotFound(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	rep := sampleReport("call-001", types.OverallComplete, t0)
	require.NoError(t, s.Put(ctx, rep))

	got, err := s.Get(ctx, "call-001")
	require.NoError(t, err)
	assert.Equal(t, rep.CallID, got.CallID)
	require.NotNil(t, got.Scores)
	assert.InDelta(t, 78.7, *got.Scores.Overall, 1e-9)
	assertRTLPreserved(t, rep, got)

	want, _ := rep.Summary(types.LangArabic)
	text, dir, err := s.SummaryText(ctx, "call-001", types.LangArabic)
	require.NoError(t, err)
	assert.Equal(t, []byte(want.Text), []byte(text))
	assert.Equal(t, types.DirRTL, dir)
}

func TestSQLiteUpsertReplacesSummaries(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleReport("call-001", types.OverallComplete, t0)))

	rep := sampleReport("call-001", types.OverallPartial, t0.Add(time.Hour))
	rep.Summaries = rep.Summaries[:1]
	rep.Scores = nil
	require.NoError(t, s.Put(ctx, rep))

	got, err := s.Get(ctx, "call-001")
	require.NoError(t, err)
	assert.Equal(t, types.OverallPartial, got.OverallStatus)
	assert.Len(t, got.Summaries, 1)

	_, _, err = s.SummaryText(ctx, "call-001", types.LangArabic)
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Score)
}

func TestSQLiteList(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleReport("call-1", types.OverallComplete, t0)))
	require.NoError(t, s.Put(ctx, sampleReport("call-2", types.OverallPartial, t0.Add(time.Minute))))
	require.NoError(t, s.Put(ctx, sampleReport("call-3", types.OverallComplete, t0.Add(2*time.Minute))))

	rows, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "call-3", rows[0].CallID, "newest first")
	assert.True(t, rows[0].GeneratedAt.Equal(t0.Add(2*time.Minute)))

	rows, err = s.List(ctx, types.OverallComplete, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "call-3", rows[0].CallID)
	require.NotNil(t, rows[0].Score)
}

func TestSQLiteNotFound(t *testing.T) {
	s := openTestDB(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
