package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"call-review-go/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps reports in a SQLite database, with summaries broken out
// per language for querying.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, rep types.Report) error {
	if err := checkID(rep.CallID); err != nil {
		return err
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	var score sql.NullFloat64
	if rep.Scores != nil && rep.Scores.Overall != nil {
		score = sql.NullFloat64{Float64: *rep.Scores.Overall, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (call_id, overall_status, overall_score, source_uri, generated_at, duration_ms, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET
			overall_status = excluded.overall_status,
			overall_score  = excluded.overall_score,
			source_uri     = excluded.source_uri,
			generated_at   = excluded.generated_at,
			duration_ms    = excluded.duration_ms,
			report_json    = excluded.report_json
	`, rep.CallID, string(rep.OverallStatus), score, rep.Recording.SourceURI,
		rep.GeneratedAt.UTC().Format(time.RFC3339Nano), rep.DurationMs, string(raw))
	if err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE call_id = ?`, rep.CallID); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}
	for _, sum := range rep.Summaries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summaries (call_id, language, direction, source, text) VALUES (?, ?, ?, ?, ?)`,
			rep.CallID, string(sum.Language), string(sum.Direction), sum.Source, sum.Text,
		); err != nil {
			return fmt.Errorf("insert %s summary: %w", sum.Language, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, callID string) (types.Report, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT report_json FROM reports WHERE call_id = ?`, callID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Report{}, ErrNotFound
	}
	if err != nil {
		return types.Report{}, fmt.Errorf("query report: %w", err)
	}
	var rep types.Report
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		return types.Report{}, fmt.Errorf("decode report %s: %w", callID, err)
	}
	return rep, nil
}

// SummaryText returns the stored summary text for one language.
func (s *SQLiteStore) SummaryText(ctx context.Context, callID string, lang types.Language) (string, types.Direction, error) {
	var text, dir string
	err := s.db.QueryRowContext(ctx,
		`SELECT text, direction FROM summaries WHERE call_id = ? AND language = ?`, callID, string(lang),
	).Scan(&text, &dir)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("query summary: %w", err)
	}
	return text, types.Direction(dir), nil
}

// Row is a report listing entry.
type Row struct {
	CallID      string
	Status      types.OverallStatus
	Score       *float64
	GeneratedAt time.Time
}

// List returns the most recent reports, optionally filtered by status.
func (s *SQLiteStore) List(ctx context.Context, status types.OverallStatus, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT call_id, overall_status, overall_score, generated_at FROM reports`
	args := []any{}
	if status != "" {
		q += ` WHERE overall_status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY generated_at DESC, call_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r     Row
			st    string
			score sql.NullFloat64
			ts    string
		)
		if err := rows.Scan(&r.CallID, &st, &score, &ts); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		r.Status = types.OverallStatus(st)
		if score.Valid {
			v := score.Float64
			r.Score = &v
		}
		if r.GeneratedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse generated_at %q: %w", ts, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
