package storage

import (
	"errors"
	"time"

	"github.com/kalambet/kindred/internal/profile"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job is a unit of background work. PayloadJSON is opaque to the store.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// JobCounts tallies jobs of one type by status.
type JobCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// StoredProfile holds the latest raw answers for an id and the time the id
// was first recorded.
type StoredProfile struct {
	profile.Profile
	CreatedAt time.Time `json:"created_at"`
}
