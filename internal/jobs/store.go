package jobs

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trestle/internal/services"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists transcode jobs in SQLite. The webhook handler exclusively
// owns writes after creation; status readers only read.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a freshly submitted job in processing state.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.Status = StatusProcessing
	job.CreatedAt = time.Now().UTC()

	qualitiesJSON, err := json.Marshal(job.Qualities)
	if err != nil {
		return fmt.Errorf("marshal qualities: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO transcode_jobs (
            id, provider_job_id, status, source_cid, qualities_json,
            keep_original, requester, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		nullableString(job.ProviderJobID),
		job.Status,
		nullableString(job.SourceCID),
		string(qualitiesJSON),
		boolToInt(job.KeepOriginal),
		nullableString(job.Requester),
		job.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM transcode_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListRecent returns jobs newest first, bounded by limit.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM transcode_jobs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// MarkComplete transitions a processing job to complete with its result
// identifier. A job already in a terminal state is left untouched, which
// makes webhook redelivery a no-op.
func (s *Store) MarkComplete(ctx context.Context, id, resultCID string) error {
	return s.transition(ctx, id, func(now string) (string, []any) {
		return `UPDATE transcode_jobs
            SET status = ?, result_cid = ?, completed_at = ?
            WHERE id = ? AND status = ?`,
			[]any{StatusComplete, resultCID, now, id, StatusProcessing}
	})
}

// MarkFailed transitions a processing job to failed with the error recorded.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	return s.transition(ctx, id, func(now string) (string, []any) {
		return `UPDATE transcode_jobs
            SET status = ?, error_message = ?, failed_at = ?
            WHERE id = ? AND status = ?`,
			[]any{StatusFailed, message, now, id, StatusProcessing}
	})
}

func (s *Store) transition(ctx context.Context, id string, build func(now string) (string, []any)) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query, args := build(now)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "jobs", "transition", fmt.Sprintf("job %s not found", id), nil)
	}
	// Terminal already; the guard held.
	return nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		var count int
		row := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}
	return tx.Commit()
}

const jobColumns = "id, provider_job_id, status, source_cid, qualities_json, keep_original, requester, result_cid, error_message, created_at, completed_at, failed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            string
		providerJobID sql.NullString
		statusStr     string
		sourceCID     sql.NullString
		qualitiesJSON sql.NullString
		keepOriginal  sql.NullInt64
		requester     sql.NullString
		resultCID     sql.NullString
		errorMessage  sql.NullString
		createdRaw    string
		completedRaw  sql.NullString
		failedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&providerJobID,
		&statusStr,
		&sourceCID,
		&qualitiesJSON,
		&keepOriginal,
		&requester,
		&resultCID,
		&errorMessage,
		&createdRaw,
		&completedRaw,
		&failedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:            id,
		ProviderJobID: providerJobID.String,
		Status:        Status(statusStr),
		SourceCID:     sourceCID.String,
		Requester:     requester.String,
		ResultCID:     resultCID.String,
		ErrorMessage:  errorMessage.String,
	}
	if keepOriginal.Valid {
		job.KeepOriginal = keepOriginal.Int64 != 0
	}
	if qualitiesJSON.Valid && qualitiesJSON.String != "" {
		if err := json.Unmarshal([]byte(qualitiesJSON.String), &job.Qualities); err != nil {
			return nil, fmt.Errorf("unmarshal qualities: %w", err)
		}
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		job.CreatedAt = created
	}
	if completedRaw.Valid {
		if completed, err := time.Parse(time.RFC3339Nano, completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	if failedRaw.Valid {
		if failed, err := time.Parse(time.RFC3339Nano, failedRaw.String); err == nil {
			job.FailedAt = &failed
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
