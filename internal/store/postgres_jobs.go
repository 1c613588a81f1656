package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

const jobColumns = `id, run_id, type, status, idempotency_key, attempts, payload, last_error,
	next_attempt_at, lease_expires_at, started_at, finished_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.RunID, &j.Type, &j.Status, &j.IdempotencyKey, &j.Attempts,
		&j.Payload, &j.LastError, &j.NextAttemptAt, &j.LeaseExpiresAt,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJobs batch-inserts jobs. Duplicate idempotency keys are silently
// skipped, so re-allocating the same run is a no-op. Returns the number of
// rows actually inserted.
func (s *PostgresStore) CreateJobs(ctx context.Context, jobs []*models.Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin create jobs: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, j := range jobs {
		tag, err := tx.Exec(ctx,
			`INSERT INTO jobs (id, run_id, type, status, idempotency_key, payload, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (idempotency_key) DO NOTHING`,
			j.ID, j.RunID, j.Type, j.Status, j.IdempotencyKey, j.Payload, j.CreatedAt, j.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("insert job: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit create jobs: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClaimJob attempts to claim one eligible job of the given type: oldest
// first, skipping ids the caller already holds in memory. The claim is a
// conditional update guarded on the exact status the candidate was selected
// with; zero rows affected means another worker won the race and no job is
// claimed this attempt. No lock is held across the decision.
func (s *PostgresStore) ClaimJob(ctx context.Context, jobType string, exclude []uuid.UUID, lease time.Duration) (*models.Job, error) {
	now := time.Now().UTC()

	excludeIDs := make([]string, 0, len(exclude))
	for _, id := range exclude {
		excludeIDs = append(excludeIDs, id.String())
	}

	var candidateID uuid.UUID
	var candidateStatus string
	err := s.pool.QueryRow(ctx, `
		SELECT id, status FROM jobs
		WHERE type = $1
		  AND (status = 'pending' OR (status = 'retrying' AND next_attempt_at <= $2))
		  AND NOT (id::text = ANY($3))
		ORDER BY created_at ASC
		LIMIT 1`,
		jobType, now, excludeIDs,
	).Scan(&candidateID, &candidateStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
		    status = 'running',
		    started_at = COALESCE(started_at, $2),
		    attempts = attempts + 1,
		    lease_expires_at = $3,
		    updated_at = $2
		WHERE id = $1 AND status = $4`,
		candidateID, now, now.Add(lease), candidateStatus)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Another worker won the race; report nothing claimed.
		return nil, nil
	}

	return s.GetJob(ctx, candidateID)
}

// ReleaseClaim returns a claimed job to pending and hands back the attempt
// the claim consumed. Used when a worker claims a job it turns out unable to
// dispatch, so an undispatched claim never eats into the retry budget.
func (s *PostgresStore) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
		    status = 'pending',
		    attempts = GREATEST(attempts - 1, 0),
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkJobSucceeded transitions a running job to succeeded.
func (s *PostgresStore) MarkJobSucceeded(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, finished_at = now(), lease_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, models.JobStatusSucceeded, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkJobFailed transitions a running job to failed with its error message.
func (s *PostgresStore) MarkJobFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, last_error = $3, finished_at = now(), lease_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, models.JobStatusFailed, errMsg, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkJobRetrying re-queues a running job for another attempt after
// nextAttemptAt.
func (s *PostgresStore) MarkJobRetrying(ctx context.Context, id uuid.UUID, errMsg string, nextAttemptAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, last_error = $3, next_attempt_at = $4, lease_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = $5`,
		id, models.JobStatusRetrying, errMsg, nextAttemptAt, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("mark job retrying: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepExpiredLeases returns running jobs whose lease has expired to
// pending, so work abandoned by a crashed worker becomes claimable again.
// The extra attempt the abandoned claim consumed is handed back.
func (s *PostgresStore) SweepExpiredLeases(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
		    status = 'pending',
		    attempts = GREATEST(attempts - 1, 0),
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("sweep expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResolveRunIfComplete applies the run-completion rule: once no execute
// jobs remain open, the run is failed when every execute job failed and
// completed otherwise (partial success still counts). The write is guarded
// on the run still being queued or running, so two concurrent completion
// checks cannot both transition — the loser observes zero rows affected and
// no-ops. Returns the terminal status and whether this call applied it.
func (s *PostgresStore) ResolveRunIfComplete(ctx context.Context, runID uuid.UUID) (string, bool, error) {
	var open, failed, total int
	err := s.pool.QueryRow(ctx, `
		SELECT
		    count(*) FILTER (WHERE status IN ('pending', 'running', 'retrying')),
		    count(*) FILTER (WHERE status = 'failed'),
		    count(*)
		FROM jobs WHERE run_id = $1 AND type = $2`,
		runID, models.JobTypeExecuteQuestion,
	).Scan(&open, &failed, &total)
	if err != nil {
		return "", false, fmt.Errorf("count run jobs: %w", err)
	}

	if total == 0 || open > 0 {
		return "", false, nil
	}

	terminal := models.RunStatusCompleted
	if failed == total {
		terminal = models.RunStatusFailed
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE survey_runs SET status = $2, completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ($3, $4)`,
		runID, terminal, models.RunStatusQueued, models.RunStatusRunning)
	if err != nil {
		return "", false, fmt.Errorf("resolve run: %w", err)
	}
	return terminal, tag.RowsAffected() > 0, nil
}
