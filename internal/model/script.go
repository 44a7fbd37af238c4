// Package model defines data structures for the demo chat service.
package model

import (
	"time"
)

// EventKind discriminates script events.
type EventKind string

const (
	KindLeadMessage EventKind = "lead_message"
	KindAIReply     EventKind = "ai_reply"
	KindPause       EventKind = "pause"
)

// ScriptEvent is one step of a demo script. Text is set for lead_message and
// ai_reply, DurationMs for pause.
type ScriptEvent struct {
	Kind       EventKind `json:"type"`
	Text       string    `json:"text,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// LeadMessage builds an event simulating a visitor typing and sending text.
func LeadMessage(text string) ScriptEvent {
	return ScriptEvent{Kind: KindLeadMessage, Text: text}
}

// AIReply builds an event simulating an automated reply.
func AIReply(text string) ScriptEvent {
	return ScriptEvent{Kind: KindAIReply, Text: text}
}

// Pause builds an explicit idle delay.
func Pause(d time.Duration) ScriptEvent {
	return ScriptEvent{Kind: KindPause, DurationMs: d.Milliseconds()}
}

// Duration returns the pause length.
func (e ScriptEvent) Duration() time.Duration {
	return time.Duration(e.DurationMs) * time.Millisecond
}

// Script is an ordered list of events replayed by a player.
type Script struct {
	ID          string        `json:"id"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Events      []ScriptEvent `json:"events"`
	Source      string        `json:"source,omitempty"` // file path or "generated"
}

// Clone returns a copy that shares no backing array with s.
func (s Script) Clone() Script {
	out := s
	out.Events = append([]ScriptEvent(nil), s.Events...)
	return out
}

// ScriptSummary is the catalog listing view of a script.
type ScriptSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	EventCount  int    `json:"event_count"`
	Source      string `json:"source,omitempty"`
}

// Summary returns the listing view of s.
func (s Script) Summary() ScriptSummary {
	return ScriptSummary{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		EventCount:  len(s.Events),
		Source:      s.Source,
	}
}

// ListScriptsResponse is the response for listing scripts.
type ListScriptsResponse struct {
	Scripts []ScriptSummary `json:"scripts"`
	Total   int             `json:"total"`
}

// GenerateScriptRequest asks an LLM to write a demo script.
type GenerateScriptRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Business string `json:"business"`
	Model    string `json:"model,omitempty"`
}
