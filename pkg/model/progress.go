package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the lifecycle state of a resumable sync run.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncRunning   SyncStatus = "running"
	SyncPaused    SyncStatus = "paused"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// FailedItem is an identifier the run gave up on, with the failure class that caused it.
type FailedItem struct {
	ID       string    `json:"id"`
	Reason   string    `json:"reason"`
	Class    string    `json:"class"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// SyncProgress is the persisted checkpoint of one domain's run.
// Processed never exceeds Total.
type SyncProgress struct {
	Domain        string       `json:"domain"`
	RunID         uuid.UUID    `json:"run_id"`
	LastProcessed string       `json:"last_processed,omitempty"`
	Total         int          `json:"total"`
	Processed     int          `json:"processed"`
	Skipped       int          `json:"skipped"`
	Updated       int64        `json:"updated"`
	Failed        []FailedItem `json:"failed"`
	StartedAt     time.Time    `json:"started_at"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
	Status        SyncStatus   `json:"status"`
	LastError     string       `json:"last_error,omitempty"`
}

// NewSyncProgress starts a fresh run for domain.
func NewSyncProgress(domain string, now time.Time) *SyncProgress {
	return &SyncProgress{
		Domain:        domain,
		RunID:         uuid.New(),
		Failed:        []FailedItem{},
		StartedAt:     now,
		LastUpdatedAt: now,
		Status:        SyncRunning,
	}
}

// Clone returns a deep copy safe to hand out to readers.
func (p *SyncProgress) Clone() SyncProgress {
	out := *p
	out.Failed = append([]FailedItem(nil), p.Failed...)
	if out.Failed == nil {
		out.Failed = []FailedItem{}
	}
	return out
}

// Remaining is the number of identifiers not yet processed.
func (p *SyncProgress) Remaining() int {
	if p.Total <= p.Processed {
		return 0
	}
	return p.Total - p.Processed
}

// Percent is the processed share in [0,100].
func (p *SyncProgress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) * 100 / float64(p.Total)
}

// Terminal reports whether the run has finished, successfully or not.
func (p *SyncProgress) Terminal() bool {
	return p.Status == SyncCompleted || p.Status == SyncFailed
}
