package model

import (
	"time"
)

// Author identifies who wrote a transcript entry.
type Author string

const (
	AuthorLead Author = "lead"
	AuthorAI   Author = "ai"
)

// Entry is one line of a demo transcript.
type Entry struct {
	ID     string `json:"id"`
	Author Author `json:"author"`
	Text   string `json:"text"`
}

// Snapshot is a read-only copy of a player's observable state.
type Snapshot struct {
	Generation uint64  `json:"generation"`
	Running    bool    `json:"running"`
	Input      string  `json:"input"`
	Transcript []Entry `json:"transcript"`
	Typing     bool    `json:"typing"`
	SendPulse  bool    `json:"send_pulse"`
}

// PlaybackMode selects how a session reacts to the end of a script.
type PlaybackMode string

const (
	// ModeLoop replays one script forever.
	ModeLoop PlaybackMode = "loop"
	// ModeCarousel plays each card once and advances to the next.
	ModeCarousel PlaybackMode = "carousel"
)

// Session is the API view of a demo session.
type Session struct {
	ID        string       `json:"id"`
	Mode      PlaybackMode `json:"mode"`
	ScriptIDs []string     `json:"script_ids"`
	Card      int          `json:"card"`
	ScriptID  string       `json:"script_id"`
	Active    bool         `json:"active"`
	Cycles    int          `json:"cycles"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Snapshot  Snapshot     `json:"snapshot"`
}

// CreateDemoRequest is the request to create a demo session.
type CreateDemoRequest struct {
	ScriptID  string       `json:"script_id,omitempty"`
	ScriptIDs []string     `json:"script_ids,omitempty"`
	Mode      PlaybackMode `json:"mode,omitempty"`
	Active    bool         `json:"active"`
}

// ListSessionsResponse is the response for listing demo sessions.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}

// HistoryResponse is the response for reading a session's recorded transcript.
type HistoryResponse struct {
	Records      []TranscriptRecord `json:"records"`
	HasMore      bool               `json:"has_more"`
	LastSequence uint64             `json:"last_sequence"`
}
