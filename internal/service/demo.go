// Package service provides business logic for the demo chat service.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/player"
	"github.com/capitalize-ai/chat-demo/internal/script"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
	"github.com/capitalize-ai/chat-demo/pkg/metrics"
)

var (
	// ErrSessionNotFound is returned for an unknown or deleted session ID.
	ErrSessionNotFound = errors.New("demo session not found")
	// ErrScriptNotFound is returned when a request names a script missing from the catalog.
	ErrScriptNotFound = errors.New("script not found")
	// ErrTooManySessions is returned when the session cap is reached.
	ErrTooManySessions = errors.New("too many demo sessions")
	// ErrInvalidRequest is returned for a malformed create or generate request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrLLMUnavailable is returned when script generation has no provider.
	ErrLLMUnavailable = errors.New("no LLM provider configured")
	// ErrGeneratedScriptRejected is returned when provider output is not a valid script.
	ErrGeneratedScriptRejected = errors.New("generated script rejected")
)

const (
	defaultMaxSessions = 1000
	defaultSessionTTL  = 30 * time.Minute
	maxCarouselCards   = 20
	maxHistoryLimit    = 500
)

var tracer = otel.Tracer("github.com/capitalize-ai/chat-demo/internal/service")

// Option configures a DemoService.
type Option func(*DemoService)

// WithClock sets the clock shared by the service and every player it creates.
func WithClock(c clockwork.Clock) Option {
	return func(s *DemoService) {
		s.clock = c
	}
}

// WithMaxSessions caps the number of registered sessions.
func WithMaxSessions(n int) Option {
	return func(s *DemoService) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithSessionTTL sets how long an unwatched session may sit untouched before
// the janitor removes it.
func WithSessionTTL(d time.Duration) Option {
	return func(s *DemoService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// DemoService manages demo sessions.
type DemoService struct {
	catalog     *script.Catalog
	events      EventLog
	clock       clockwork.Clock
	logger      *logger.Logger
	maxSessions int
	ttl         time.Duration

	sessions map[string]*session
	mu       sync.RWMutex
}

// NewDemoService creates a new demo service.
func NewDemoService(catalog *script.Catalog, events EventLog, log *logger.Logger, opts ...Option) *DemoService {
	if events == nil {
		events = NopEventLog{}
	}

	s := &DemoService{
		catalog:     catalog,
		events:      events,
		clock:       clockwork.NewRealClock(),
		logger:      log,
		maxSessions: defaultMaxSessions,
		ttl:         defaultSessionTTL,
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new demo session. It starts playing immediately when
// req.Active is set.
func (s *DemoService) Create(ctx context.Context, req *model.CreateDemoRequest) (*model.Session, error) {
	ctx, span := tracer.Start(ctx, "DemoService.Create")
	defer span.End()

	ids := req.ScriptIDs
	if len(ids) == 0 && req.ScriptID != "" {
		ids = []string{req.ScriptID}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: script_id or script_ids is required", ErrInvalidRequest)
	}
	if len(ids) > maxCarouselCards {
		return nil, fmt.Errorf("%w: at most %d scripts per session", ErrInvalidRequest, maxCarouselCards)
	}

	mode := req.Mode
	switch mode {
	case "":
		mode = model.ModeLoop
		if len(ids) > 1 {
			mode = model.ModeCarousel
		}
	case model.ModeLoop:
		if len(ids) > 1 {
			return nil, fmt.Errorf("%w: loop mode plays a single script", ErrInvalidRequest)
		}
	case model.ModeCarousel:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mode)
	}

	scripts := make([]model.Script, 0, len(ids))
	for _, id := range ids {
		sc, ok := s.catalog.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
		}
		scripts = append(scripts, sc)
	}

	now := s.clock.Now()
	id := uuid.Must(uuid.NewV7()).String()
	sess := &session{
		id:        id,
		mode:      mode,
		scripts:   scripts,
		createdAt: now,
		touched:   now,
		logger:    s.logger.WithSession(id),
		events:    s.events,
		now:       s.clock.Now,
		outbox:    make(chan model.Snapshot, outboxSize),
		subs:      make(map[int]chan model.Snapshot),
		done:      make(chan struct{}),
	}
	sess.player = player.New(
		player.WithClock(s.clock),
		player.WithLogger(sess.logger),
		player.WithObserver(sess.enqueue),
	)
	sess.last = sess.player.Snapshot()
	sess.onCycle = func(finished, next model.Script, gen uint64) {
		s.recordEvent(context.Background(), sess.id, model.EventTypeCycleComplete, finished.ID, gen,
			map[string]any{"next_script_id": next.ID})
	}

	s.mu.Lock()
	if len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	go sess.pump()
	metrics.DemoSessionsActive.Inc()

	span.SetAttributes(
		attribute.String("demo.session_id", id),
		attribute.String("demo.mode", string(mode)),
	)
	sess.logger.Info("demo session created",
		zap.String("mode", string(mode)),
		zap.Strings("script_ids", ids),
	)

	if req.Active {
		if gen, ok := sess.start(); ok {
			s.recordEvent(ctx, id, model.EventTypeStarted, scripts[0].ID, gen, nil)
		}
	}

	return sess.view(), nil
}

// Get returns the current view of a session.
func (s *DemoService) Get(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	sess.touch()
	return sess.view(), nil
}

// List returns every registered session, oldest first.
func (s *DemoService) List(ctx context.Context) []model.Session {
	s.mu.RLock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	out := make([]model.Session, 0, len(all))
	for _, sess := range all {
		out = append(out, *sess.view())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Start (re)starts playback of the session's current card from the beginning.
func (s *DemoService) Start(ctx context.Context, id string) (*model.Session, error) {
	ctx, span := tracer.Start(ctx, "DemoService.Start")
	defer span.End()
	span.SetAttributes(attribute.String("demo.session_id", id))

	sess, err := s.lookup(id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	gen, ok := sess.start()
	if !ok {
		span.RecordError(ErrSessionNotFound)
		return nil, ErrSessionNotFound
	}
	s.recordEvent(ctx, id, model.EventTypeStarted, sess.currentScript().ID, gen, nil)
	sess.logger.Debug("demo session started", zap.Uint64("generation", gen))

	return sess.view(), nil
}

// Stop halts playback and clears the widget.
func (s *DemoService) Stop(ctx context.Context, id string) (*model.Session, error) {
	ctx, span := tracer.Start(ctx, "DemoService.Stop")
	defer span.End()
	span.SetAttributes(attribute.String("demo.session_id", id))

	sess, err := s.lookup(id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	sess.stop()
	view := sess.view()
	s.recordEvent(ctx, id, model.EventTypeStopped, view.ScriptID, view.Snapshot.Generation, nil)
	sess.logger.Debug("demo session stopped", zap.Uint64("generation", view.Snapshot.Generation))

	return view, nil
}

// Delete stops and unregisters a session. Open subscriptions are closed.
func (s *DemoService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	sess.close()
	metrics.DemoSessionsActive.Dec()
	sess.logger.Info("demo session deleted")
	return nil
}

// Subscribe returns a channel of snapshots for a session, starting with the
// most recent one. Slow readers skip intermediate snapshots. The channel is
// closed by cancel or when the session is deleted.
func (s *DemoService) Subscribe(ctx context.Context, id string) (<-chan model.Snapshot, func(), error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	ch, cancel := sess.subscribe()
	return ch, cancel, nil
}

// History returns recorded transcript entries of a session from the event log.
// Records outlive the session, so an unregistered ID is not an error.
func (s *DemoService) History(ctx context.Context, id string, afterSequence uint64, limit int) (*model.HistoryResponse, error) {
	ctx, span := tracer.Start(ctx, "DemoService.History")
	defer span.End()
	span.SetAttributes(attribute.String("demo.session_id", id))

	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, last, hasMore, err := s.events.GetEntries(ctx, id, afterSequence, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if records == nil {
		records = []model.TranscriptRecord{}
	}

	return &model.HistoryResponse{
		Records:      records,
		HasMore:      hasMore,
		LastSequence: last,
	}, nil
}

// Len returns the number of registered sessions.
func (s *DemoService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RunJanitor removes idle sessions every interval until ctx is done.
func (s *DemoService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := s.reapExpired(); n > 0 {
				s.logger.Info("reaped idle demo sessions", zap.Int("count", n))
			}
		}
	}
}

// reapExpired deletes sessions that have no subscribers and were not
// touched within the TTL.
func (s *DemoService) reapExpired() int {
	cutoff := s.clock.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*session
	for id, sess := range s.sessions {
		if sess.idleSince(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
		metrics.DemoSessionsActive.Dec()
	}
	return len(expired)
}

// Close deletes every session.
func (s *DemoService) Close() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.close()
		metrics.DemoSessionsActive.Dec()
	}
}

func (s *DemoService) lookup(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// recordEvent publishes a lifecycle event. Failures are logged, never returned.
func (s *DemoService) recordEvent(ctx context.Context, sessionID string, typ model.EventType, scriptID string, gen uint64, meta map[string]any) {
	event := &model.DemoEvent{
		ID:         uuid.Must(uuid.NewV7()).String(),
		SessionID:  sessionID,
		Type:       typ,
		ScriptID:   scriptID,
		Generation: gen,
		Metadata:   meta,
		CreatedAt:  s.clock.Now(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish demo event",
			zap.String("session_id", sessionID),
			zap.String("event_type", string(typ)),
			zap.Error(err),
		)
	}
}
