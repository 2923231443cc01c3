// Package jobs runs batched backtests off the request thread. A submitted
// (models × folds) matrix becomes one job row; a single worker per job runs
// the tasks sequentially and persists progress after each.
package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"upbit-trading-bot/internal/backtest"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/logging"
)

// JobStore is the persistence capability the runner needs.
type JobStore interface {
	CreateJob(ctx context.Context, job *database.BacktestJob) error
	MarkJobRunning(ctx context.Context, jobID string) error
	IncrementJobProgress(ctx context.Context, jobID string, failed bool) error
	FinishJob(ctx context.Context, jobID, status, errorMessage string) error
	GetJob(ctx context.Context, jobID string) (*database.BacktestJob, error)
}

// BatchRequest is a (models × folds) matrix sharing one base configuration.
type BatchRequest struct {
	Models []string              `json:"models"`
	Folds  []int                 `json:"folds"`
	Base   backtest.TPSLRequest  `json:"base"`
}

// JobStatus is the progress view returned to pollers. Per-task results are
// not persisted; this endpoint reports progress only.
type JobStatus struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	FailedTasks    int    `json:"failed_tasks"`
	ProgressPct    int    `json:"progress_pct"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Runner owns the background worker pool for backtest batches.
type Runner struct {
	store JobStore
	tpsl  *backtest.TPSLBacktester
	slots chan struct{} // bounds concurrently running jobs
	log   *logging.Logger
}

// NewRunner creates a runner allowing up to maxConcurrentJobs jobs at once.
func NewRunner(store JobStore, tpsl *backtest.TPSLBacktester, maxConcurrentJobs int) *Runner {
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = 2
	}
	return &Runner{
		store: store,
		tpsl:  tpsl,
		slots: make(chan struct{}, maxConcurrentJobs),
		log:   logging.WithComponent("jobs"),
	}
}

// Submit registers the batch and returns immediately with an opaque job id.
func (r *Runner) Submit(ctx context.Context, req BatchRequest) (string, error) {
	if len(req.Models) == 0 || len(req.Folds) == 0 {
		return "", fmt.Errorf("%w: models and folds must not be empty", backtest.ErrValidation)
	}
	for _, fold := range req.Folds {
		if fold < 1 || fold > 8 {
			return "", fmt.Errorf("%w: fold number %d out of range", backtest.ErrValidation, fold)
		}
	}

	jobID := uuid.NewString()
	job := &database.BacktestJob{
		JobID:      jobID,
		Status:     database.JobStatusPending,
		TotalTasks: len(req.Models) * len(req.Folds),
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return "", err
	}

	go r.run(jobID, req)

	return jobID, nil
}

// run executes all tasks sequentially, updating the job row after each. A
// failure not attributable to a single task marks the job FAILED.
func (r *Runner) run(jobID string, req BatchRequest) {
	r.slots <- struct{}{}
	defer func() { <-r.slots }()

	// Detached from the submitting request: the job outlives it.
	ctx := context.Background()

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("panic in backtest batch: %v", rec)
			r.log.Error("job panicked", "job_id", jobID, "panic", rec)
			_ = r.store.FinishJob(ctx, jobID, database.JobStatusFailed, msg)
		}
	}()

	if err := r.store.MarkJobRunning(ctx, jobID); err != nil {
		r.log.Error("failed to mark job running", "job_id", jobID, "error", err)
		_ = r.store.FinishJob(ctx, jobID, database.JobStatusFailed, err.Error())
		return
	}

	for _, model := range req.Models {
		for _, fold := range req.Folds {
			task := req.Base
			task.ModelName = model
			task.FoldNumber = fold

			_, err := r.tpsl.Run(ctx, task)
			if err != nil {
				r.log.Warn("batch task failed", "job_id", jobID, "model", model, "fold", fold, "error", err)
			}
			if perr := r.store.IncrementJobProgress(ctx, jobID, err != nil); perr != nil {
				r.log.Error("failed to persist job progress", "job_id", jobID, "error", perr)
				_ = r.store.FinishJob(ctx, jobID, database.JobStatusFailed, perr.Error())
				return
			}
		}
	}

	if err := r.store.FinishJob(ctx, jobID, database.JobStatusCompleted, ""); err != nil {
		r.log.Error("failed to finish job", "job_id", jobID, "error", err)
		return
	}

	r.log.Info("job completed", "job_id", jobID)
}

// Status returns progress for a job; database.ErrNotFound for unknown ids.
func (r *Runner) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &JobStatus{
		JobID:          job.JobID,
		Status:         job.Status,
		TotalTasks:     job.TotalTasks,
		CompletedTasks: job.CompletedTasks,
		FailedTasks:    job.FailedTasks,
		ProgressPct:    job.Progress(),
		ErrorMessage:   job.ErrorMessage,
	}, nil
}
