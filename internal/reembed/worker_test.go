package reembed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/kindred/internal/index"
	"github.com/kalambet/kindred/internal/match"
	"github.com/kalambet/kindred/internal/profile"
	"github.com/kalambet/kindred/internal/storage"
)

type mockIndexer struct {
	mu      sync.Mutex
	indexed []profile.Profile
	indexFn func(ctx context.Context, p profile.Profile) error
}

func (m *mockIndexer) Index(ctx context.Context, p profile.Profile) error {
	if m.indexFn != nil {
		if err := m.indexFn(ctx, p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed = append(m.indexed, p)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTestProfile(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	p := profile.Profile{
		ID:           id,
		Name:         "Name " + id,
		SocialEnergy: profile.Ambivert,
		Hobbies:      "cooking",
	}
	if _, err := store.SaveProfile(p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
}

func enqueueTestJob(t *testing.T, store *storage.Store, profileID string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"profile_id": profileID})
	job := storage.Job{
		ID:          "job-" + profileID,
		Type:        JobType,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", jobID, err)
	}
	return status, attempts
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	saveTestProfile(t, store, "u1")
	enqueueTestJob(t, store, "u1")

	indexer := &mockIndexer{}
	w := NewWorker(store, indexer, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	indexer.mu.Lock()
	defer indexer.mu.Unlock()
	if len(indexer.indexed) != 1 {
		t.Fatalf("indexed %d profiles, want 1", len(indexer.indexed))
	}
	if got := indexer.indexed[0]; got.ID != "u1" || got.Hobbies != "cooking" {
		t.Errorf("indexed %+v", got)
	}
	if status, _ := jobStatus(t, store, "job-u1"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockIndexer{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_DeletedProfileCompletes(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "ghost")

	indexer := &mockIndexer{}
	w := NewWorker(store, indexer, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if len(indexer.indexed) != 0 {
		t.Errorf("indexed %d profiles, want 0", len(indexer.indexed))
	}
	if status, _ := jobStatus(t, store, "job-ghost"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	saveTestProfile(t, store, "u-r")
	enqueueTestJob(t, store, "u-r")

	var calls atomic.Int32
	w := NewWorker(store, &mockIndexer{
		indexFn: func(_ context.Context, _ profile.Profile) error {
			n := calls.Add(1)
			if n <= 2 {
				return fmt.Errorf("transient error %d", n)
			}
			return nil
		},
	}, 0)

	ctx := context.Background()
	for attempt := 1; attempt <= 2; attempt++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil || !didWork {
			t.Fatalf("RunOnce %d = %v, %v", attempt, didWork, err)
		}
		status, attempts := jobStatus(t, store, "job-u-r")
		if status != "pending" || attempts != attempt {
			t.Errorf("after fail %d: status=%q attempts=%d, want pending/%d", attempt, status, attempts, attempt)
		}
		resetRunAfter(t, store, "job-u-r")
	}

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 3 error: %v", err)
	}
	if status, _ := jobStatus(t, store, "job-u-r"); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	saveTestProfile(t, store, "u-m")
	enqueueTestJob(t, store, "u-m")

	w := NewWorker(store, &mockIndexer{
		indexFn: func(_ context.Context, _ profile.Profile) error {
			return fmt.Errorf("permanent error")
		},
	}, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, "job-u-m")
		}
	}

	if status, _ := jobStatus(t, store, "job-u-m"); status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockIndexer{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.6, 0.8}, nil
}

func TestPlanner_ReindexRebuildsIndex(t *testing.T) {
	store := openTestStore(t)
	idx, err := index.NewSQLite(store.DB(), "profile_vectors")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	ctx := context.Background()

	const n = 12
	for i := 0; i < n; i++ {
		saveTestProfile(t, store, fmt.Sprintf("u%02d", i))
	}
	// A stale entry with another dimension must not survive a reset.
	if err := idx.Upsert(ctx, index.Entry{ID: "stale", Vector: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	planner := NewPlanner(store, idx)
	queued, err := planner.Reindex(ctx, true)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if queued != n {
		t.Fatalf("queued %d jobs, want %d", queued, n)
	}

	svc := match.NewService(constEmbedder{}, idx, store, match.DefaultConfig())
	w := NewWorker(store, svc, 0)
	for i := 0; i < n; i++ {
		if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
			t.Fatalf("RunOnce %d = %v, %v", i, didWork, err)
		}
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n {
		t.Errorf("index has %d entries, want %d", count, n)
	}
	dim, _ := idx.Dimension(ctx)
	if dim != 2 {
		t.Errorf("dimension = %d, want 2", dim)
	}

	progress, err := planner.Progress()
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Completed != n || progress.Pending != 0 {
		t.Errorf("progress = %+v, want %d completed", progress, n)
	}
}

func TestPlanner_ResetWithoutIndex(t *testing.T) {
	store := openTestStore(t)
	if _, err := NewPlanner(store, nil).Reindex(context.Background(), true); err == nil {
		t.Fatal("expected error when reset has no index")
	}
}
