package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/player"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
	"github.com/capitalize-ai/chat-demo/pkg/metrics"
)

const (
	outboxSize     = 64
	subscriberSize = 16
	publishTimeout = 5 * time.Second
)

// session is one registered demo: a player plus the card state that decides
// which script it plays next.
type session struct {
	id        string
	mode      model.PlaybackMode
	scripts   []model.Script
	createdAt time.Time

	logger *logger.Logger
	events EventLog
	now    func() time.Time
	player *player.Player

	// onCycle is called outside mu when a carousel card finished and the
	// next one started.
	onCycle func(finished model.Script, next model.Script, gen uint64)

	mu      sync.Mutex
	card    int
	active  bool
	epoch   uint64
	cycles  int
	touched time.Time

	outMu  sync.Mutex
	outbox chan model.Snapshot
	closed bool

	subMu   sync.Mutex
	subs    map[int]chan model.Snapshot
	nextSub int
	last    model.Snapshot

	done chan struct{}
}

// start begins playback from the current card. It reports false once the
// session is closed.
func (s *session) start() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return 0, false
	}
	s.active = true
	s.epoch++
	s.touched = s.now()
	return s.playLocked(), true
}

// stop halts playback. The current card is kept.
func (s *session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.epoch++
	s.touched = s.now()
	s.player.Stop()
}

func (s *session) playLocked() uint64 {
	sc := s.scripts[s.card]
	if s.mode != model.ModeCarousel {
		return s.player.Start(sc, nil)
	}

	epoch := s.epoch
	return s.player.Start(sc, func() { s.advance(epoch) })
}

// advance moves a carousel to its next card. A callback from a run that
// was started before the latest start or stop is ignored.
func (s *session) advance(epoch uint64) {
	s.mu.Lock()
	if !s.active || s.epoch != epoch || s.isClosed() {
		s.mu.Unlock()
		return
	}

	finished := s.scripts[s.card]
	s.cycles++
	s.card = (s.card + 1) % len(s.scripts)
	next := s.scripts[s.card]
	gen := s.playLocked()
	s.mu.Unlock()

	if s.onCycle != nil {
		s.onCycle(finished, next, gen)
	}
}

func (s *session) isClosed() bool {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return s.closed
}

func (s *session) touch() {
	s.mu.Lock()
	s.touched = s.now()
	s.mu.Unlock()
}

func (s *session) view() *model.Session {
	s.mu.Lock()
	ids := make([]string, len(s.scripts))
	for i, sc := range s.scripts {
		ids[i] = sc.ID
	}
	v := &model.Session{
		ID:        s.id,
		Mode:      s.mode,
		ScriptIDs: ids,
		Card:      s.card,
		ScriptID:  s.scripts[s.card].ID,
		Active:    s.active,
		Cycles:    s.cycles,
		CreatedAt: s.createdAt,
		UpdatedAt: s.touched,
	}
	s.mu.Unlock()

	v.Snapshot = s.player.Snapshot()
	return v
}

// idleSince reports whether the session has no subscribers and was last
// touched before cutoff.
func (s *session) idleSince(cutoff time.Time) bool {
	s.subMu.Lock()
	watched := len(s.subs) > 0
	s.subMu.Unlock()
	if watched {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched.Before(cutoff)
}

func (s *session) countLoop() {
	s.mu.Lock()
	if s.mode == model.ModeLoop {
		s.cycles++
	}
	s.mu.Unlock()
}

func (s *session) currentScript() model.Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scripts[s.card]
}

// enqueue is the player observer. It runs under the player lock, so it never
// blocks: a full outbox drops the snapshot.
func (s *session) enqueue(snap model.Snapshot) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.outbox <- snap:
	default:
		metrics.SnapshotsDroppedTotal.Inc()
	}
}

// pump delivers queued snapshots to subscribers and records new transcript
// entries in the event log.
func (s *session) pump() {
	defer close(s.done)

	var gen uint64
	published := 0

	for snap := range s.outbox {
		s.fanout(snap)

		if snap.Generation == gen && len(snap.Transcript) < published && snap.Running {
			// A looping run cleared its transcript after the cooldown.
			s.countLoop()
		}
		if snap.Generation != gen || len(snap.Transcript) < published {
			gen = snap.Generation
			published = 0
		}
		for _, entry := range snap.Transcript[published:] {
			s.record(snap.Generation, entry)
		}
		published = len(snap.Transcript)
	}
}

func (s *session) record(gen uint64, entry model.Entry) {
	rec := &model.TranscriptRecord{
		SessionID:  s.id,
		ScriptID:   s.currentScript().ID,
		Generation: gen,
		Entry:      entry,
		RecordedAt: s.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := s.events.PublishEntry(ctx, rec); err != nil {
		metrics.EntriesPublishedTotal.WithLabelValues(string(entry.Author), "error").Inc()
		s.logger.Warn("failed to publish transcript entry",
			zap.String("entry_id", entry.ID),
			zap.Error(err),
		)
		return
	}
	metrics.EntriesPublishedTotal.WithLabelValues(string(entry.Author), "success").Inc()
}

// fanout hands a snapshot to every subscriber. A subscriber that has not
// read its previous snapshots loses the oldest one.
func (s *session) fanout(snap model.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.last = snap
	for _, ch := range s.subs {
		deliver(ch, snap)
	}
}

func deliver(ch chan model.Snapshot, snap model.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}

		select {
		case <-ch:
			metrics.SnapshotsDroppedTotal.Inc()
		default:
		}
	}
}

// subscribe registers a snapshot channel seeded with the last delivered
// snapshot, so a subscriber never sees state move backwards. The
// channel is closed when the returned cancel func is called or the session
// is closed.
func (s *session) subscribe() (<-chan model.Snapshot, func()) {
	ch := make(chan model.Snapshot, subscriberSize)

	s.subMu.Lock()
	if s.subs == nil {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.last
	s.subMu.Unlock()

	s.touch()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
			s.subMu.Unlock()
			s.touch()
		})
	}
}

// close stops playback, drains the outbox and closes every subscriber.
// Marking the session closed before stopping keeps a racing start from
// leaving a run behind.
func (s *session) close() {
	s.outMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.outbox)
	}
	s.outMu.Unlock()

	s.stop()
	<-s.done

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subs = nil
	s.subMu.Unlock()
}
