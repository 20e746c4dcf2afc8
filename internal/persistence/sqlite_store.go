package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultListLimit = 20

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the run ledger.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS always uses forward slashes
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// StartRun inserts run, or replaces an existing row with the same id.
func (s *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return s.upsertRun(ctx, run)
}

// FinishRun stores the final counters of run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	return s.upsertRun(ctx, run)
}

func (s *SQLiteStore) upsertRun(ctx context.Context, run Run) error {
	var finished sql.NullTime
	if !run.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
			id, trigger, status, started_at, finished_at, total, visited, extracted, already_present, tagged, skipped, failed, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			finished_at=excluded.finished_at,
			total=excluded.total,
			visited=excluded.visited,
			extracted=excluded.extracted,
			already_present=excluded.already_present,
			tagged=excluded.tagged,
			skipped=excluded.skipped,
			failed=excluded.failed,
			error=excluded.error`,
		run.ID,
		run.Trigger,
		string(run.Status),
		run.StartedAt.UTC(),
		finished,
		run.Total,
		run.Visited,
		run.Extracted,
		run.AlreadyPresent,
		run.Tagged,
		run.Skipped,
		run.Failed,
		run.Error,
	)
	return err
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, outcome Outcome) error {
	languages := outcome.Languages
	if languages == nil {
		languages = []string{}
	}
	languagesJSON, err := json.Marshal(languages)
	if err != nil {
		return err
	}
	createdAt := outcome.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO record_outcomes (
			run_id, seq, scene_id, title, media_path, status, tracks, extracted, already_present, tagged, cues, languages_json, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO UPDATE SET
			scene_id=excluded.scene_id,
			title=excluded.title,
			media_path=excluded.media_path,
			status=excluded.status,
			tracks=excluded.tracks,
			extracted=excluded.extracted,
			already_present=excluded.already_present,
			tagged=excluded.tagged,
			cues=excluded.cues,
			languages_json=excluded.languages_json,
			error=excluded.error`,
		outcome.RunID,
		outcome.Seq,
		outcome.SceneID,
		outcome.Title,
		outcome.MediaPath,
		outcome.Status,
		outcome.Tracks,
		outcome.Extracted,
		outcome.AlreadyPresent,
		boolToInt(outcome.Tagged),
		outcome.Cues,
		string(languagesJSON),
		outcome.Error,
		createdAt,
	)
	return err
}

const runColumns = `id, trigger, status, started_at, finished_at, total, visited, extracted, already_present, tagged, skipped, failed, error`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return run, true, nil
}

// ListRuns returns the most recent runs first. limit <= 0 uses a default.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, seq, scene_id, title, media_path, status, tracks, extracted, already_present, tagged, cues, languages_json, error, created_at
		 FROM record_outcomes
		 WHERE run_id = ?
		 ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Outcome, 0)
	for rows.Next() {
		var item Outcome
		var tagged int
		var languagesJSON string
		if err := rows.Scan(
			&item.RunID,
			&item.Seq,
			&item.SceneID,
			&item.Title,
			&item.MediaPath,
			&item.Status,
			&item.Tracks,
			&item.Extracted,
			&item.AlreadyPresent,
			&tagged,
			&item.Cues,
			&languagesJSON,
			&item.Error,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		item.Tagged = tagged == 1
		if err := json.Unmarshal([]byte(languagesJSON), &item.Languages); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteRunsBefore removes runs started before cutoff along with their outcomes.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM record_outcomes WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff.UTC()); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var status string
	var finished sql.NullTime
	if err := row.Scan(
		&run.ID,
		&run.Trigger,
		&status,
		&run.StartedAt,
		&finished,
		&run.Total,
		&run.Visited,
		&run.Extracted,
		&run.AlreadyPresent,
		&run.Tagged,
		&run.Skipped,
		&run.Failed,
		&run.Error,
	); err != nil {
		return Run{}, err
	}
	run.Status = RunStatus(status)
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return run, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
