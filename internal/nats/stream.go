package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chat-demo/internal/model"
)

const (
	// StreamName is the name of the demo playback stream.
	StreamName = "DEMOS"

	// SubjectPrefix is the prefix for all demo subjects.
	SubjectPrefix = "demo"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the demos stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024, // 1GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Demo chat transcripts and playback lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EntrySubject returns the subject for a transcript entry.
func EntrySubject(sessionID string, author model.Author) string {
	return fmt.Sprintf("%s.%s.entry.%s", SubjectPrefix, sessionID, author)
}

// EventSubject returns the subject for a lifecycle event.
func EventSubject(sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, sessionID, eventType)
}

// EntryFilter returns the filter subject matching every transcript entry of a session.
func EntryFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.entry.>", SubjectPrefix, sessionID)
}

// PublishEntry publishes a transcript entry to JetStream.
func (m *StreamManager) PublishEntry(ctx context.Context, rec *model.TranscriptRecord) (uint64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal entry: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EntrySubject(rec.SessionID, rec.Entry.Author), data,
		jetstream.WithMsgID(rec.Entry.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish entry: %w", err)
	}

	return ack.Sequence, nil
}

// PublishEvent publishes a lifecycle event to JetStream.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.DemoEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(event.SessionID, event.Type), data,
		jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// GetEntries retrieves recorded transcript entries of a session starting after a sequence.
func (m *StreamManager) GetEntries(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.TranscriptRecord, uint64, bool, error) {
	js := m.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     EntryFilter(sessionID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, consumer.CachedInfo().Name)

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch entries: %w", err)
	}

	var records []model.TranscriptRecord
	lastSequence := afterSequence

	for msg := range batch.Messages() {
		var rec model.TranscriptRecord
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			rec.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		records = append(records, rec)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return records, lastSequence, len(records) == limit, nil
}
