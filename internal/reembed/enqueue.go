package reembed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/kindred/internal/storage"
)

// Queue is the subset of the store needed to schedule a rebuild.
type Queue interface {
	ListProfileIDs() ([]string, error)
	EnqueueJob(job storage.Job) error
	CountJobs(jobType string) (storage.JobCounts, error)
}

// Resetter clears every index entry.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Planner schedules a reembed job for every recorded profile.
type Planner struct {
	queue Queue
	index Resetter
}

// NewPlanner returns a Planner. idx may be nil when resets are not allowed.
func NewPlanner(queue Queue, idx Resetter) *Planner {
	return &Planner{queue: queue, index: idx}
}

// Reindex queues one job per recorded profile and returns how many were
// queued. With reset the index is emptied first, which is required after
// switching to a model with a different dimension.
func (p *Planner) Reindex(ctx context.Context, reset bool) (int, error) {
	if reset {
		if p.index == nil {
			return 0, fmt.Errorf("index reset not supported")
		}
		if err := p.index.Reset(ctx); err != nil {
			return 0, fmt.Errorf("resetting index: %w", err)
		}
	}

	ids, err := p.queue.ListProfileIDs()
	if err != nil {
		return 0, fmt.Errorf("listing profiles: %w", err)
	}
	for i, id := range ids {
		payload, _ := json.Marshal(jobPayload{ProfileID: id})
		job := storage.Job{
			ID:          uuid.NewString(),
			Type:        JobType,
			PayloadJSON: string(payload),
		}
		if err := p.queue.EnqueueJob(job); err != nil {
			return i, fmt.Errorf("enqueueing %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// Progress reports the job counts of the current and past rebuilds.
func (p *Planner) Progress() (storage.JobCounts, error) {
	return p.queue.CountJobs(JobType)
}
