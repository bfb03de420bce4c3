package models

import "time"

// EventType identifies a progress event published to the status UI.
type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventRunFinished    EventType = "run.finished"
	EventRecordStarted  EventType = "record.started"
	EventRecordFinished EventType = "record.finished"
	EventRecordsSkipped EventType = "records.skipped"
	EventLogLine        EventType = "log.line"
)

// Event is the fire-and-forget progress payload broadcast to observers.
// Failures on the consumer side must never affect the run.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
