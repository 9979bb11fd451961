// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore persists job records in Postgres. Sheets and results are stored
// as JSONB so the row mirrors the crawler.Job entity one to one.
type JobStore struct {
	pool  pgxPool
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool pgxPool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Migrate creates the jobs table when it does not exist yet.
func (s *JobStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	sheets JSONB NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	control TEXT NOT NULL,
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_sheet TEXT NOT NULL DEFAULT '',
	current_row INTEGER NOT NULL DEFAULT 0,
	total_rows INTEGER NOT NULL DEFAULT 0,
	total_emails INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	error_text TEXT NOT NULL DEFAULT '',
	output_uri TEXT NOT NULL DEFAULT '',
	results JSONB NOT NULL DEFAULT '[]'
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, source, sheets, status, control, progress, current_sheet,
	current_row, total_rows, total_emails, created_at, started_at, completed_at,
	error_text, output_uri, results`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	sheets, err := json.Marshal(job.Sheets)
	if err != nil {
		return fmt.Errorf("marshal sheets: %w", err)
	}
	results, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		s.table, jobColumns)
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.Source,
		sheets,
		string(job.Status),
		string(job.Control),
		job.Progress,
		job.CurrentSheet,
		job.CurrentRow,
		job.TotalRows,
		job.TotalEmails,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.ErrorText,
		job.OutputURI,
		results,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs ordered by creation time, oldest first.
func (s *JobStore) ListJobs(ctx context.Context) ([]crawler.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, id`, jobColumns, s.table)
	return s.queryJobs(ctx, query)
}

// ListPending returns jobs waiting for a worker, oldest first.
func (s *JobStore) ListPending(ctx context.Context) ([]crawler.Job, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at, id`, jobColumns, s.table)
	return s.queryJobs(ctx, query, string(crawler.JobStatusPending))
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]crawler.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var jobs []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob applies a partial update. COALESCE keeps columns whose update
// field is nil at their stored value, so the read-modify-write happens
// inside the database in one statement.
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, update crawler.JobUpdate) error {
	results, err := marshalResults(update.Results)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = COALESCE($2, status),
	progress = COALESCE($3, progress),
	current_sheet = COALESCE($4, current_sheet),
	current_row = COALESCE($5, current_row),
	total_rows = COALESCE($6, total_rows),
	total_emails = COALESCE($7, total_emails),
	started_at = COALESCE($8, started_at),
	completed_at = COALESCE($9, completed_at),
	error_text = COALESCE($10, error_text),
	output_uri = COALESCE($11, output_uri),
	results = COALESCE($12, results)
WHERE id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		jobID,
		statusArg(update.Status),
		update.Progress,
		update.CurrentSheet,
		update.CurrentRow,
		update.TotalRows,
		update.TotalEmails,
		update.StartedAt,
		update.CompletedAt,
		update.ErrorText,
		update.OutputURI,
		results,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrJobNotFound
	}
	return nil
}

// GetControl reads the control signal for a job.
func (s *JobStore) GetControl(ctx context.Context, jobID string) (crawler.JobControl, error) {
	query := fmt.Sprintf(`SELECT control FROM %s WHERE id = $1`, s.table)
	var control string
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&control)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", crawler.ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select control: %w", err)
	}
	return crawler.JobControl(control), nil
}

// SetControl flips the control signal for a job.
func (s *JobStore) SetControl(ctx context.Context, jobID string, control crawler.JobControl) error {
	query := fmt.Sprintf(`UPDATE %s SET control = $2 WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(control))
	if err != nil {
		return fmt.Errorf("update control: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a terminal job. Active jobs are refused.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table)
	var status string
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("select status: %w", err)
	}
	if !crawler.JobStatus(status).Terminal() {
		return crawler.ErrJobActive
	}
	del := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, del, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (crawler.Job, error) {
	var (
		job         crawler.Job
		sheets      []byte
		status      string
		control     string
		startedAt   *time.Time
		completedAt *time.Time
		results     []byte
	)
	err := row.Scan(
		&job.ID,
		&job.Source,
		&sheets,
		&status,
		&control,
		&job.Progress,
		&job.CurrentSheet,
		&job.CurrentRow,
		&job.TotalRows,
		&job.TotalEmails,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.ErrorText,
		&job.OutputURI,
		&results,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	job.Control = crawler.JobControl(control)
	job.StartedAt = startedAt
	job.CompletedAt = completedAt
	if len(sheets) > 0 {
		if err := json.Unmarshal(sheets, &job.Sheets); err != nil {
			return crawler.Job{}, fmt.Errorf("unmarshal sheets: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &job.Results); err != nil {
			return crawler.Job{}, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return job, nil
}

func marshalResults(results []crawler.EmailRecord) (any, error) {
	if results == nil {
		return nil, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return data, nil
}

func statusArg(status *crawler.JobStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}
