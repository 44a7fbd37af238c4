package service

import (
	"context"

	"github.com/capitalize-ai/chat-demo/internal/model"
)

// EventLog persists demo playback for later replay.
// *nats.StreamManager implements it.
type EventLog interface {
	PublishEntry(ctx context.Context, rec *model.TranscriptRecord) (uint64, error)
	PublishEvent(ctx context.Context, event *model.DemoEvent) (uint64, error)
	GetEntries(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.TranscriptRecord, uint64, bool, error)
}

// NopEventLog discards every record. It is used when NATS is disabled.
type NopEventLog struct{}

// PublishEntry implements EventLog.
func (NopEventLog) PublishEntry(context.Context, *model.TranscriptRecord) (uint64, error) {
	return 0, nil
}

// PublishEvent implements EventLog.
func (NopEventLog) PublishEvent(context.Context, *model.DemoEvent) (uint64, error) {
	return 0, nil
}

// GetEntries implements EventLog. It always returns an empty page.
func (NopEventLog) GetEntries(_ context.Context, _ string, afterSequence uint64, _ int) ([]model.TranscriptRecord, uint64, bool, error) {
	return nil, afterSequence, false, nil
}
