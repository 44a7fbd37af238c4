package model

import (
	"time"
)

// EventType represents the type of demo lifecycle event.
type EventType string

const (
	EventTypeStarted       EventType = "started"
	EventTypeStopped       EventType = "stopped"
	EventTypeCycleComplete EventType = "cycle_complete"
	EventTypeError         EventType = "error"
)

// DemoEvent represents a lifecycle event of a demo session.
type DemoEvent struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Type       EventType      `json:"type"`
	ScriptID   string         `json:"script_id,omitempty"`
	Generation uint64         `json:"generation"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Sequence   uint64         `json:"sequence,omitempty"`
}

// TranscriptRecord is a transcript entry as persisted in the event log.
type TranscriptRecord struct {
	SessionID  string    `json:"session_id"`
	ScriptID   string    `json:"script_id"`
	Generation uint64    `json:"generation"`
	Entry      Entry     `json:"entry"`
	RecordedAt time.Time `json:"recorded_at"`

	// JetStream Metadata (populated on read)
	Sequence uint64 `json:"sequence,omitempty"`
}

// ErrorEvent represents an error event on a stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
