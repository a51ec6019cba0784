// Package runlog records collection runs and detected changes in SQLite.
package runlog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"policywatch/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Operation types.
const (
	OperationCollect = "collect"
	OperationWeekly  = "weekly"
	OperationDetect  = "detect"
)

var (
	// ErrEntryNotFound is returned by Finish for an unknown entry id.
	ErrEntryNotFound = errors.New("run log entry not found")
	// ErrAlreadyFinished is returned by Finish for an entry that is no longer running.
	ErrAlreadyFinished = errors.New("run log entry already finished")
	// ErrCountryRunning is returned by Claim while another run holds the country.
	ErrCountryRunning = errors.New("country collection already running")
)

// Entry is one country's part of a collection run.
type Entry struct {
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	ID              string     `json:"id"`
	RunID           string     `json:"run_id"`
	CountryCode     string     `json:"country_code"`
	OperationType   string     `json:"operation_type"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	RecordsScraped  int        `json:"records_scraped"`
	RecordsUpdated  int        `json:"records_updated"`
	RecordsFailed   int        `json:"records_failed"`
}

// Outcome closes a running entry.
type Outcome struct {
	Err            error
	RecordsScraped int
	RecordsUpdated int
	RecordsFailed  int
}

// ChangeEvent is one persisted change detection finding.
type ChangeEvent struct {
	DetectedAt  time.Time `json:"detected_at"`
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	CountryCode string    `json:"country_code"`
	ChangeType  string    `json:"change_type"`
	PolicyID    string    `json:"policy_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	Kind        string    `json:"kind,omitempty"`
}

// Store is a SQLite-backed run log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the run log at path and applies the schema.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run log dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Other processes may hold the write lock briefly while claiming a country.
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Claim inserts a running entry unless countryCode already has one started
// within staleAfter. The check and the insert are a single statement, so two
// processes sharing the database cannot both claim the same country.
func (s *Store) Claim(ctx context.Context, runID, countryCode, operation string, staleAfter time.Duration) (string, error) {
	id := uuid.NewString()
	code := strings.ToUpper(countryCode)
	now := s.now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collection_runs (id, run_id, country_code, operation_type, status, started_at)
		 SELECT ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
		     SELECT 1 FROM collection_runs
		     WHERE country_code = ? AND status = ? AND started_at >= ?
		 )`,
		id, runID, code, operation, StatusRunning, now.UnixMilli(),
		code, StatusRunning, now.Add(-staleAfter).UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to claim run log entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to claim run log entry: %w", err)
	}

	if n == 0 {
		return "", fmt.Errorf("%w: %s", ErrCountryRunning, code)
	}

	return id, nil
}

// Finish marks a running entry as success, or failed when out.Err is set.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	var (
		status    string
		startedAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT status, started_at FROM collection_runs WHERE id = ?`, id).Scan(&status, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	if err != nil {
		return fmt.Errorf("failed to load run log entry: %w", err)
	}

	if status != StatusRunning {
		return fmt.Errorf("%w: %s", ErrAlreadyFinished, id)
	}

	now := s.now()
	duration := now.Sub(time.UnixMilli(startedAt)).Seconds()

	status = StatusSuccess
	message := ""

	if out.Err != nil {
		status = StatusFailed
		message = out.Err.Error()
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE collection_runs
		 SET status = ?, records_scraped = ?, records_updated = ?, records_failed = ?,
		     error_message = ?, duration_seconds = ?, completed_at = ?
		 WHERE id = ?`,
		status, out.RecordsScraped, out.RecordsUpdated, out.RecordsFailed,
		message, duration, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run log entry: %w", err)
	}

	return nil
}

// Recent returns up to limit entries, newest first. An empty countryCode
// matches all countries.
func (s *Store) Recent(ctx context.Context, countryCode string, limit int) ([]Entry, error) {
	query := `SELECT id, run_id, country_code, operation_type, status, records_scraped,
		records_updated, records_failed, error_message, duration_seconds, started_at, completed_at
		FROM collection_runs`
	args := []any{}

	if countryCode != "" {
		query += ` WHERE country_code = ?`
		args = append(args, strings.ToUpper(countryCode))
	}

	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query run log: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e         Entry
			startedAt int64
			completed sql.NullInt64
		)

		if err := rows.Scan(&e.ID, &e.RunID, &e.CountryCode, &e.OperationType, &e.Status,
			&e.RecordsScraped, &e.RecordsUpdated, &e.RecordsFailed, &e.ErrorMessage,
			&e.DurationSeconds, &startedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan run log entry: %w", err)
		}

		e.StartedAt = time.UnixMilli(startedAt).UTC()

		if completed.Valid {
			t := time.UnixMilli(completed.Int64).UTC()
			e.CompletedAt = &t
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// RecordChanges stores one event per changed policy, or one per country for
// new_country records.
func (s *Store) RecordChanges(ctx context.Context, runID string, records []models.ChangeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO change_events (id, run_id, country_code, change_type, policy_id, title, kind, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	at := s.now().UnixMilli()

	for _, rec := range records {
		if len(rec.Details) == 0 {
			if _, err := stmt.ExecContext(ctx, uuid.NewString(), runID, rec.CountryCode,
				string(rec.ChangeType), "", "", "", at); err != nil {
				return fmt.Errorf("failed to insert change event: %w", err)
			}

			continue
		}

		for _, d := range rec.Details {
			if _, err := stmt.ExecContext(ctx, uuid.NewString(), runID, rec.CountryCode,
				string(rec.ChangeType), d.ID, d.Title, d.Kind, at); err != nil {
				return fmt.Errorf("failed to insert change event: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit change events: %w", err)
	}

	return nil
}

// ChangeEvents returns the events of a run in insertion order.
func (s *Store) ChangeEvents(ctx context.Context, runID string) ([]ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, country_code, change_type, policy_id, title, kind, detected_at
		 FROM change_events WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query change events: %w", err)
	}
	defer rows.Close()

	var events []ChangeEvent

	for rows.Next() {
		var (
			e  ChangeEvent
			at int64
		)

		if err := rows.Scan(&e.ID, &e.RunID, &e.CountryCode, &e.ChangeType, &e.PolicyID, &e.Title, &e.Kind, &at); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}

		e.DetectedAt = time.UnixMilli(at).UTC()
		events = append(events, e)
	}

	return events, rows.Err()
}
