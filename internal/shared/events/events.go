package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	MigrationRunSucceeded = "migration.run.succeeded"
	MigrationRunFailed    = "migration.run.failed"
)

// Event represents a domain event
type Event struct {
	ID            string                 `json:"id"`
	AggregateID   string                 `json:"aggregateId"`
	AggregateType string                 `json:"aggregateType"`
	EventType     string                 `json:"eventType"`
	EventVersion  int                    `json:"eventVersion"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlationId"`
	Metadata      map[string]interface{} `json:"metadata"`
	Payload       json.RawMessage        `json:"payload"`
}

// NewEvent creates a new event
func NewEvent(aggregateID, aggregateType, eventType string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventVersion:  1,
		Timestamp:     time.Now().UTC(),
		Metadata:      make(map[string]interface{}),
		Payload:       payloadBytes,
	}, nil
}

// Migration Events
type MigrationRunCompleted struct {
	RunID      string               `json:"runId"`
	Mode       string               `json:"mode"` // up or status
	ExitCode   int                  `json:"exitCode"`
	FailedIn   string               `json:"failedIn,omitempty"`
	Error      string               `json:"error,omitempty"`
	Pending    []string             `json:"pending"`
	Applied    []MigrationApplied   `json:"applied"`
	Failed     *MigrationFailed     `json:"failed,omitempty"`
	Skipped    []string             `json:"skipped,omitempty"`
	Mismatches []ChecksumMismatched `json:"mismatches,omitempty"`
	Missing    []string             `json:"missing,omitempty"`
	Host       string               `json:"host"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	DurationMs int64                `json:"durationMs"`
}

type MigrationApplied struct {
	Filename   string    `json:"filename"`
	Checksum   string    `json:"checksum"`
	AppliedAt  time.Time `json:"appliedAt"`
	DurationMs int64     `json:"durationMs"`
}

type MigrationFailed struct {
	Filename   string `json:"filename"`
	Error      string `json:"error"`
	DurationMs int64  `json:"durationMs"`
}

type ChecksumMismatched struct {
	Filename string `json:"filename"`
	Recorded string `json:"recorded"`
	Current  string `json:"current"`
}

// GetEventType returns the event type of a run payload
func GetEventType(run *MigrationRunCompleted) string {
	if run.ExitCode == 0 {
		return MigrationRunSucceeded
	}
	return MigrationRunFailed
}
