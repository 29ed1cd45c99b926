package bus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue states for analysis_jobs rows.
const (
	jobPending = "pending"
	jobClaimed = "claimed"
	jobDone    = "done"
	jobFailed  = "failed"
)

// ErrQueueEmpty is returned by Claim when no job is ready.
var ErrQueueEmpty = errors.New("queue empty")

// ClaimedJob is a job handed to a worker slot. Complete or Fail must be
// called exactly once per claim; a crashed worker's claim expires after the
// visibility timeout and the job becomes claimable again (at-least-once).
type ClaimedJob struct {
	ID      uuid.UUID
	Attempt int
	Job     AnalysisJob
}

// JobQueue is a durable Postgres-backed work queue for analysis jobs.
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers never contend
// on the same row. Ordering across jobs is best-effort only; consumers must
// tolerate out-of-order and duplicate delivery.
type JobQueue struct {
	db                *sql.DB
	visibilityTimeout time.Duration
	maxAttempts       int
}

// JobQueueOption customizes queue behaviour.
type JobQueueOption func(*JobQueue)

// WithVisibilityTimeout overrides how long a claim holds a job before it is
// considered abandoned (default 5m).
func WithVisibilityTimeout(d time.Duration) JobQueueOption {
	return func(q *JobQueue) { q.visibilityTimeout = d }
}

// WithMaxAttempts overrides how many delivery attempts a job gets before it
// is parked as failed (default 5).
func WithMaxAttempts(n int) JobQueueOption {
	return func(q *JobQueue) { q.maxAttempts = n }
}

// NewJobQueue creates a queue over an existing Postgres pool.
func NewJobQueue(db *sql.DB, opts ...JobQueueOption) *JobQueue {
	q := &JobQueue{
		db:                db,
		visibilityTimeout: 5 * time.Minute,
		maxAttempts:       5,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue inserts one analysis job. The (lead, conversation, message) key is
// unique; re-enqueueing the same inbound message is a no-op, which keeps
// webhook retries from fanning out into duplicate jobs.
func (q *JobQueue) Enqueue(ctx context.Context, job AnalysisJob) error {
	if job.JobType == "" {
		job.JobType = JobTypeAnalyze
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO analysis_jobs (
		    id, lead_id, conversation_id, message_id, language,
		    context_window, prompt_version, job_type, status, attempts, run_after, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)
		 ON CONFLICT (lead_id, conversation_id, message_id) DO NOTHING`,
		uuid.Must(uuid.NewV7()), job.LeadID, job.ConversationID, job.MessageID,
		job.Language, job.ContextWindow, job.PromptVersion, job.JobType,
		jobPending, time.Now())
	if err != nil {
		return fmt.Errorf("enqueue analysis job: %w", err)
	}
	return nil
}

// Claim atomically takes the oldest ready job. Ready means pending with
// run_after elapsed, or claimed past the visibility timeout (abandoned by a
// crashed worker). Returns ErrQueueEmpty when nothing is ready.
func (q *JobQueue) Claim(ctx context.Context) (*ClaimedJob, error) {
	now := time.Now()
	row := q.db.QueryRowContext(ctx,
		`UPDATE analysis_jobs SET status = $1, claimed_at = $2, attempts = attempts + 1
		 WHERE id = (
		     SELECT id FROM analysis_jobs
		     WHERE (status = $3 AND run_after <= $2)
		        OR (status = $1 AND claimed_at < $4)
		     ORDER BY created_at
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 RETURNING id, attempts, lead_id, conversation_id, message_id,
		           language, context_window, prompt_version, job_type`,
		jobClaimed, now, jobPending, now.Add(-q.visibilityTimeout))

	var c ClaimedJob
	err := row.Scan(&c.ID, &c.Attempt, &c.Job.LeadID, &c.Job.ConversationID,
		&c.Job.MessageID, &c.Job.Language, &c.Job.ContextWindow,
		&c.Job.PromptVersion, &c.Job.JobType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim analysis job: %w", err)
	}
	return &c, nil
}

// Complete marks a claimed job done.
func (q *JobQueue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE analysis_jobs SET status = $1, completed_at = $2 WHERE id = $3",
		jobDone, time.Now(), id)
	if err != nil {
		return fmt.Errorf("complete analysis job %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. The job is rescheduled with exponential
// backoff until maxAttempts, then parked as failed for operator review.
func (q *JobQueue) Fail(ctx context.Context, c *ClaimedJob, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if c.Attempt >= q.maxAttempts {
		_, err := q.db.ExecContext(ctx,
			"UPDATE analysis_jobs SET status = $1, last_error = $2 WHERE id = $3",
			jobFailed, msg, c.ID)
		if err != nil {
			return fmt.Errorf("park analysis job %s: %w", c.ID, err)
		}
		return nil
	}

	_, err := q.db.ExecContext(ctx,
		"UPDATE analysis_jobs SET status = $1, last_error = $2, run_after = $3 WHERE id = $4",
		jobPending, msg, time.Now().Add(retryBackoff(c.Attempt)), c.ID)
	if err != nil {
		return fmt.Errorf("reschedule analysis job %s: %w", c.ID, err)
	}
	return nil
}

// retryBackoff returns the delay before attempt n+1: 30s, 1m, 2m, 4m, ...
// capped at 15m.
func retryBackoff(attempt int) time.Duration {
	d := 30 * time.Second << (attempt - 1)
	if d > 15*time.Minute || d <= 0 {
		return 15 * time.Minute
	}
	return d
}
