// Package reembed rebuilds index entries from the recorded raw answers in the
// background. Jobs are queued in the SQLite job table and drained by Worker.
package reembed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/kindred/internal/profile"
	"github.com/kalambet/kindred/internal/storage"
)

// JobType is the job queue type handled by Worker.
const JobType = "profile_reembed"

// JobStore abstracts the job queue and raw-answer reads.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetProfile(id string) (storage.StoredProfile, error)
}

// Indexer embeds a profile and upserts it without searching.
type Indexer interface {
	Index(ctx context.Context, p profile.Profile) error
}

// Worker processes profile_reembed jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	indexer Indexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer Indexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// WithLogger replaces the default logger.
func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	w.logger = l
	return w
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("reembed iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("reembed job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type jobPayload struct {
	ProfileID string `json:"profile_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	sp, err := w.store.GetProfile(payload.ProfileID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted after the job was queued.
		w.logger.Debug("profile gone, skipping reembed", "id", payload.ProfileID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading profile %s: %w", payload.ProfileID, err)
	}

	if err := w.indexer.Index(ctx, sp.Profile); err != nil {
		return fmt.Errorf("reindexing %s: %w", payload.ProfileID, err)
	}
	w.logger.Debug("profile reembedded", "id", payload.ProfileID)
	return nil
}
