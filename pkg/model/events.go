package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the sync engine.
const (
	EventSyncCompleted     = "sync.completed"
	EventSyncFailed        = "sync.failed"
	EventSyncPaused        = "sync.paused"
	EventIntegrityFindings = "integrity.findings"
	EventIntegrityRepaired = "integrity.repaired"
)

// Envelope is the canonical wrapper for every published event.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Source        string          `json:"source"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload; correlation is the run ID when the event belongs to a sync run.
func NewEnvelope(source, eventType string, correlation uuid.UUID, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if correlation == uuid.Nil {
		correlation = uuid.New()
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: correlation,
		Source:        source,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}

// IntegrityEvent summarizes one integrity check or repair.
type IntegrityEvent struct {
	WindowDays    int              `json:"window_days"`
	FindingsCount int64            `json:"findings_count"`
	Counts        map[string]int64 `json:"counts"`
	Repaired      int64            `json:"repaired,omitempty"`
}
