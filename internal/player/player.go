// Package player replays demo chat scripts with simulated typing delays.
//
// A Player runs at most one playback loop at a time. Every Start or Stop
// advances the player's generation; a run captured the generation it was
// started with and applies a mutation only while that generation is still
// current. Pending timers of a superseded run therefore resume into a no-op.
package player

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
	"github.com/capitalize-ai/chat-demo/pkg/metrics"
)

const (
	// TypeSpeed is the simulated time to type one character.
	TypeSpeed = 49 * time.Millisecond
	// TypingPadding is added to every simulated typing delay.
	TypingPadding = 100 * time.Millisecond
	// SendDelay separates the send pulse from the message landing in the transcript.
	SendDelay = 90 * time.Millisecond
	// PulseHold is how long the send pulse stays on after the message lands.
	PulseHold = 100 * time.Millisecond
	// Cooldown is the idle time between the end of a script and the reset.
	Cooldown = 8000 * time.Millisecond
	// MinTypingLength is the reply length at or below which no typing indicator is shown.
	MinTypingLength = 5
)

// TypingDuration returns the simulated time needed to type text.
func TypingDuration(text string) time.Duration {
	return time.Duration(utf8.RuneCountInString(text))*TypeSpeed + TypingPadding
}

// Observer receives a snapshot after every state change, in mutation order.
// It is called with the player's lock held: it must not block and must not
// call back into the player.
type Observer func(model.Snapshot)

// Option configures a Player.
type Option func(*Player)

// WithClock sets the clock used for every delay.
func WithClock(c clockwork.Clock) Option {
	return func(p *Player) {
		p.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Player) {
		p.logger = l
	}
}

// WithObserver registers a state observer.
func WithObserver(o Observer) Option {
	return func(p *Player) {
		p.observer = o
	}
}

// Player drives the observable state of one demo chat widget.
type Player struct {
	clock    clockwork.Clock
	logger   *logger.Logger
	observer Observer

	mu         sync.Mutex
	generation uint64
	running    bool
	input      string
	transcript []model.Entry
	typing     bool
	sendPulse  bool
	cancel     context.CancelFunc
}

// New creates an idle player.
func New(opts ...Option) *Player {
	p := &Player{
		clock:  clockwork.NewRealClock(),
		logger: logger.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins a fresh run of script and returns its generation. Any earlier
// run is invalidated, even when it plays the same script.
//
// With a nil onCycleComplete the script loops until Stop. Otherwise the run
// ends after one traversal and cooldown, and onCycleComplete is called once
// from the run's goroutine.
func (p *Player) Start(script model.Script, onCycleComplete func()) uint64 {
	events := append([]model.ScriptEvent(nil), script.Events...)
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.releaseLocked()
	p.generation++
	gen := p.generation
	p.running = true
	p.cancel = cancel
	p.resetLocked()
	p.emitLocked()
	p.mu.Unlock()

	metrics.PlaybackRunsTotal.Inc()
	p.logger.Debug("playback run started",
		zap.Uint64("generation", gen),
		zap.String("script_id", script.ID),
		zap.Int("events", len(events)),
		zap.Bool("one_shot", onCycleComplete != nil),
	)

	go p.run(ctx, gen, script.ID, events, onCycleComplete)
	return gen
}

// Stop invalidates the current run and clears the widget. Calling it again,
// or on an idle player, leaves the same state.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := p.running || p.input != "" || len(p.transcript) > 0 || p.typing || p.sendPulse
	p.releaseLocked()
	p.generation++
	p.running = false
	p.resetLocked()
	if changed {
		p.emitLocked()
		p.logger.Debug("playback stopped", zap.Uint64("generation", p.generation))
	}
}

// Snapshot returns a copy of the current state.
func (p *Player) Snapshot() model.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Generation returns the current generation token.
func (p *Player) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

func (p *Player) run(ctx context.Context, gen uint64, scriptID string, events []model.ScriptEvent, onCycleComplete func()) {
	metrics.PlaybackActiveRuns.Inc()
	defer metrics.PlaybackActiveRuns.Dec()

	oneShot := onCycleComplete != nil
	for {
		for _, ev := range events {
			if !p.play(ctx, gen, ev) {
				return
			}
			metrics.PlaybackEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		}

		if !p.wait(ctx, gen, Cooldown) {
			return
		}
		ok := p.apply(gen, func() {
			p.resetLocked()
			if oneShot {
				p.running = false
				p.releaseLocked()
			}
		})
		if !ok {
			return
		}

		if oneShot {
			metrics.PlaybackCyclesTotal.WithLabelValues(string(model.ModeCarousel)).Inc()
			p.logger.Debug("playback cycle complete", zap.Uint64("generation", gen), zap.String("script_id", scriptID))
			onCycleComplete()
			return
		}
		metrics.PlaybackCyclesTotal.WithLabelValues(string(model.ModeLoop)).Inc()
	}
}

// play runs a single event and reports whether the run is still current.
func (p *Player) play(ctx context.Context, gen uint64, ev model.ScriptEvent) bool {
	switch ev.Kind {
	case model.KindLeadMessage:
		return p.playLead(ctx, gen, ev.Text)
	case model.KindAIReply:
		return p.playReply(ctx, gen, ev.Text)
	case model.KindPause:
		return p.wait(ctx, gen, ev.Duration())
	default:
		return p.current(gen)
	}
}

func (p *Player) playLead(ctx context.Context, gen uint64, text string) bool {
	if !p.apply(gen, func() { p.input = text }) {
		return false
	}
	if !p.wait(ctx, gen, TypingDuration(text)) {
		return false
	}
	if !p.apply(gen, func() {
		p.sendPulse = true
		p.input = ""
	}) {
		return false
	}
	if !p.wait(ctx, gen, SendDelay) {
		return false
	}
	if !p.apply(gen, func() { p.appendLocked(model.AuthorLead, text) }) {
		return false
	}
	go p.releasePulse(ctx, gen)
	return true
}

func (p *Player) playReply(ctx context.Context, gen uint64, text string) bool {
	if utf8.RuneCountInString(text) > MinTypingLength {
		if !p.apply(gen, func() { p.typing = true }) {
			return false
		}
		if !p.wait(ctx, gen, TypingDuration(text)) {
			return false
		}
	}
	return p.apply(gen, func() {
		p.typing = false
		p.appendLocked(model.AuthorAI, text)
	})
}

// releasePulse turns the send pulse off once PulseHold has passed. The run
// loop does not wait for it.
func (p *Player) releasePulse(ctx context.Context, gen uint64) {
	if !p.wait(ctx, gen, PulseHold) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation || !p.sendPulse {
		return
	}
	p.sendPulse = false
	p.emitLocked()
}

// wait suspends for d and reports whether gen is still current on resumption.
func (p *Player) wait(ctx context.Context, gen uint64, d time.Duration) bool {
	if d > 0 {
		timer := p.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.Chan():
		}
	}
	return p.current(gen)
}

func (p *Player) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.generation
}

// apply runs mutate under the lock if gen is still current.
func (p *Player) apply(gen uint64, mutate func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return false
	}
	mutate()
	p.emitLocked()
	return true
}

// releaseLocked cancels the context of the run in flight, if any.
func (p *Player) releaseLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	if p.running {
		metrics.PlaybackSupersededTotal.Inc()
	}
}

func (p *Player) resetLocked() {
	p.input = ""
	p.transcript = nil
	p.typing = false
	p.sendPulse = false
}

func (p *Player) appendLocked(author model.Author, text string) {
	p.transcript = append(p.transcript, model.Entry{
		ID:     uuid.Must(uuid.NewV7()).String(),
		Author: author,
		Text:   text,
	})
}

func (p *Player) emitLocked() {
	if p.observer != nil {
		p.observer(p.snapshotLocked())
	}
}

func (p *Player) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		Generation: p.generation,
		Running:    p.running,
		Input:      p.input,
		Transcript: append([]model.Entry{}, p.transcript...),
		Typing:     p.typing,
		SendPulse:  p.sendPulse,
	}
}
