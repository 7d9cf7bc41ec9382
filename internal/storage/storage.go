package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/lineageq/internal/backoff"
	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/jmoiron/sqlx"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite3"
)

const jobColumns = `
	id, created_at, scheduled_at, started_at, finished_at, status, type,
	priority, attempts, max_attempts, error, repo_path, git_url, git_branch,
	conn_name, owner, run_id`

// DefaultListLimit is used when a list request leaves the limit unset
const DefaultListLimit = 100

// MaxListLimit bounds a single page requested through the API or CLI
const MaxListLimit = 1000

// Options configures a Storage
type Options struct {
	Backoff backoff.Policy
	Clock   func() time.Time
	Logger  *slog.Logger
}

// Storage is the job store: the jobs table, the events log, and the claim protocol.
// Every operation is a short, self-contained transaction.
type Storage struct {
	db      *sqlx.DB
	dialect string
	backoff backoff.Policy
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates a Storage over an open database handle
func New(db *sqlx.DB, opts Options) *Storage {
	dialect := dialectPostgres
	if db.DriverName() == dialectSQLite {
		dialect = dialectSQLite
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Storage{
		db:      db,
		dialect: dialect,
		backoff: opts.Backoff,
		clock:   clock,
		logger:  logger,
	}
}

// now is UTC at the precision Postgres keeps, so values round-trip unchanged
func (s *Storage) now() time.Time {
	return normalizeTime(s.clock())
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (s *Storage) claimLock() string {
	if s.dialect == dialectPostgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	// sqlite serializes writers; the single UPDATE statement is already exclusive
	return ""
}

func (s *Storage) rowLock() string {
	if s.dialect == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func nullString(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

// InsertJob validates the spec and creates a queued job
func (s *Storage) InsertJob(ctx context.Context, spec domain.JobSpec) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	id, err := s.insertJob(ctx, s.db, spec, s.now())
	if err != nil {
		return 0, err
	}

	s.logger.Info("Job inserted",
		slog.Int64("job_id", id),
		slog.String("conn_name", spec.ConnName),
		slog.Int("priority", spec.Priority),
	)

	return id, nil
}

func (s *Storage) insertJob(ctx context.Context, q sqlx.QueryerContext, spec domain.JobSpec, now time.Time) (int64, error) {
	scheduledAt := now
	if spec.ScheduledAt != nil {
		scheduledAt = normalizeTime(*spec.ScheduledAt)
	}

	maxAttempts := spec.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	jobType := spec.Type
	if jobType == "" {
		jobType = domain.JobTypeIngest
	}

	query := s.db.Rebind(`
		INSERT INTO jobs (
			created_at, scheduled_at, status, type, priority, attempts, max_attempts,
			repo_path, git_url, git_branch, conn_name, owner
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	var id int64
	err := q.QueryRowxContext(ctx, query,
		now,
		scheduledAt,
		domain.JobStatusQueued,
		jobType,
		spec.Priority,
		maxAttempts,
		nullString(spec.RepoPath),
		nullString(spec.GitURL),
		nullString(spec.GitBranch),
		spec.ConnName,
		spec.Owner,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}

	return id, nil
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	return s.getJob(ctx, s.db, id)
}

func (s *Storage) getJob(ctx context.Context, q sqlx.QueryerContext, id int64) (*domain.Job, error) {
	var job domain.Job
	err := sqlx.GetContext(ctx, q, &job, s.db.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ClaimNext atomically moves the best eligible queued job to running.
// Highest priority wins, ties go to the lowest id. Returns nil when nothing is eligible.
func (s *Storage) ClaimNext(ctx context.Context, runID string) (*domain.Job, error) {
	now := s.now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := s.db.Rebind(`
		UPDATE jobs
		SET status = ?,
		    started_at = ?,
		    run_id = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND scheduled_at <= ?
			ORDER BY priority DESC, id ASC
			LIMIT 1` + s.claimLock() + `
		)
		  AND status = ?
		RETURNING id
	`)

	var id int64
	err = tx.QueryRowxContext(ctx, query,
		domain.JobStatusRunning,
		now,
		runID,
		domain.JobStatusQueued,
		now,
		domain.JobStatusQueued,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job, err := s.getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.Int64("job_id", job.ID),
		slog.String("run_id", runID),
		slog.Int("attempts", job.Attempts),
	)

	return job, nil
}

// Complete records the outcome of a running job.
// Success finishes it; failure re-queues it with backoff until attempts run out, then marks it error.
// A job that is no longer running (canceled or already terminal) is left untouched and
// ErrJobNotRunning is returned.
func (s *Storage) Complete(ctx context.Context, id int64, outcome domain.Outcome) (*domain.Job, error) {
	now := s.now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin complete transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current struct {
		Status      domain.JobStatus `db:"status"`
		Attempts    int              `db:"attempts"`
		MaxAttempts int              `db:"max_attempts"`
	}
	err = tx.GetContext(ctx, &current,
		s.db.Rebind(`SELECT status, attempts, max_attempts FROM jobs WHERE id = ?`+s.rowLock()), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to read job for completion: %w", err)
	}

	if current.Status != domain.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %d is %s", domain.ErrJobNotRunning, id, current.Status)
	}

	var (
		query string
		args  []interface{}
	)
	nextAttempts := current.Attempts + 1

	switch {
	case outcome.Success:
		query = `UPDATE jobs SET status = ?, finished_at = ?, error = NULL`
		args = []interface{}{domain.JobStatusDone, now}

	case nextAttempts < current.MaxAttempts:
		delay := s.backoff.Delay(nextAttempts)
		query = `UPDATE jobs SET status = ?, attempts = ?, scheduled_at = ?, error = ?`
		args = []interface{}{domain.JobStatusQueued, nextAttempts, now.Add(delay), outcome.Message}

		s.logger.Info("Job will be retried",
			slog.Int64("job_id", id),
			slog.Int("attempts", nextAttempts),
			slog.Int("max_attempts", current.MaxAttempts),
			slog.Duration("retry_after", delay),
		)

	default:
		query = `UPDATE jobs SET status = ?, finished_at = ?, attempts = ?, error = ?`
		args = []interface{}{domain.JobStatusError, now, nextAttempts, outcome.Message}

		s.logger.Warn("Job exhausted its attempts",
			slog.Int64("job_id", id),
			slog.Int("attempts", nextAttempts),
			slog.Int("max_attempts", current.MaxAttempts),
		)
	}

	query += ` WHERE id = ? AND status = ? AND attempts = ?`
	args = append(args, id, domain.JobStatusRunning, current.Attempts)

	result, err := tx.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: job %d changed concurrently", domain.ErrJobNotRunning, id)
	}

	job, err := s.getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.Int64("job_id", id),
		slog.String("status", string(job.Status)),
	)

	return job, nil
}

// CancelJob moves a queued or running job to canceled.
// It reports whether a transition happened; canceling a terminal job is a no-op.
func (s *Storage) CancelJob(ctx context.Context, id int64) (bool, error) {
	query := s.db.Rebind(`
		UPDATE jobs
		SET status = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)
	`)

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCanceled,
		s.now(),
		id,
		domain.JobStatusQueued,
		domain.JobStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Info("Job canceled", slog.Int64("job_id", id))
		return true, nil
	}

	var exists int
	err = s.db.GetContext(ctx, &exists, s.db.Rebind(`SELECT COUNT(*) FROM jobs WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to check job: %w", err)
	}
	if exists == 0 {
		return false, domain.ErrJobNotFound
	}

	return false, nil
}

// JobFilter narrows a job listing
type JobFilter struct {
	Status   domain.JobStatus
	Limit    int
	BeforeID int64
}

// ListJobs returns jobs newest id first. Callers bound Limit.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}

	if filter.BeforeID > 0 {
		query += ` AND id < ?`
		args = append(args, filter.BeforeID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// QueueDepth counts queued jobs that are eligible now
func (s *Storage) QueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := s.db.GetContext(ctx, &depth,
		s.db.Rebind(`SELECT COUNT(*) FROM jobs WHERE status = ? AND scheduled_at <= ?`),
		domain.JobStatusQueued, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to count queued jobs: %w", err)
	}
	return depth, nil
}

// JobStats counts jobs per status
func (s *Storage) JobStats(ctx context.Context) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status domain.JobStatus `db:"status"`
		Total  int64            `db:"total"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS total FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}

	stats := map[domain.JobStatus]int64{
		domain.JobStatusQueued:   0,
		domain.JobStatusRunning:  0,
		domain.JobStatusDone:     0,
		domain.JobStatusError:    0,
		domain.JobStatusCanceled: 0,
	}
	for _, r := range rows {
		stats[r.Status] = r.Total
	}
	return stats, nil
}
