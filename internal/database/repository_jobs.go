package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateJob inserts a new backtest job row.
func (r *Repository) CreateJob(ctx context.Context, job *BacktestJob) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO backtest_jobs (job_id, status, total_tasks) VALUES ($1, $2, $3)`,
		job.JobID, job.Status, job.TotalTasks)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// MarkJobRunning transitions a job to RUNNING and stamps its start time.
func (r *Repository) MarkJobRunning(ctx context.Context, jobID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE backtest_jobs SET status = $1, started_at = NOW() WHERE job_id = $2`,
		JobStatusRunning, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// IncrementJobProgress bumps the completed or failed counter after a task.
func (r *Repository) IncrementJobProgress(ctx context.Context, jobID string, failed bool) error {
	column := "completed_tasks"
	if failed {
		column = "failed_tasks"
	}
	query := fmt.Sprintf(`UPDATE backtest_jobs SET %s = %s + 1 WHERE job_id = $1`, column, column)
	if _, err := r.db.Pool.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to increment job progress: %w", err)
	}
	return nil
}

// FinishJob records a job's terminal state.
func (r *Repository) FinishJob(ctx context.Context, jobID, status, errorMessage string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE backtest_jobs SET status = $1, error_message = $2, finished_at = NOW() WHERE job_id = $3`,
		status, errorMessage, jobID)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// GetJob returns a job by id, or ErrNotFound.
func (r *Repository) GetJob(ctx context.Context, jobID string) (*BacktestJob, error) {
	query := `
		SELECT job_id, status, total_tasks, completed_tasks, failed_tasks,
		       COALESCE(error_message, ''), started_at, finished_at, created_at
		FROM backtest_jobs
		WHERE job_id = $1
	`

	var j BacktestJob
	err := r.db.Pool.QueryRow(ctx, query, jobID).Scan(
		&j.JobID, &j.Status, &j.TotalTasks, &j.CompletedTasks, &j.FailedTasks,
		&j.ErrorMessage, &j.StartedAt, &j.FinishedAt, &j.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}
