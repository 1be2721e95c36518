// Package runtime keeps the timeline of a chat session in sync with its live channel.
// It orchestrates the history loader, the connection supervisor and the event workers
// without knowing how messages are rendered.
package runtime

import (
	"chat-sync/auth"
	"chat-sync/codec"
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/grpc/backoff"
)

const (
	DefaultBufferSize      = 256
	DefaultSinkTimeout     = 2 * time.Second
	DefaultDegradedGrace   = 10 * time.Second
	DefaultMaxContentRunes = 2000
	DefaultSampleInterval  = 5 * time.Second
	drainTimeout           = 5 * time.Second
)

var DefaultBackoff = backoff.Config{
	BaseDelay:  500 * time.Millisecond,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   30 * time.Second,
}

// Options tune an Engine. Zero values fall back to the defaults above.
type Options struct {
	Backoff          backoff.Config
	Scheduler        contract.Scheduler
	Metrics          *observability.Metrics
	Sinks            []contract.EventSink
	Handlers         []event.Handler
	BufferSize       int
	SinkTimeout      time.Duration
	RestartInterval  time.Duration
	DegradedGrace    time.Duration
	MaxContentRunes  int
	LatencyThreshold time.Duration
	SampleInterval   time.Duration
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Backoff == (backoff.Config{}) {
		o.Backoff = DefaultBackoff
	}
	if o.Scheduler == nil {
		o.Scheduler = ClockScheduler{}
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = DefaultSinkTimeout
	}
	if o.DegradedGrace == 0 {
		o.DegradedGrace = DefaultDegradedGrace
	}
	if o.MaxContentRunes <= 0 {
		o.MaxContentRunes = DefaultMaxContentRunes
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine is the façade consumers talk to. One session instantiation is
// active at a time; opening another one disposes the previous first.
type Engine struct {
	log       *slog.Logger
	loader    contract.HistoryLoader
	transport contract.Transport
	opts      Options
	backoff   Backoff
	registry  *Registry
	seq       atomic.Uint64

	// opMu serializes Open and Close. Reads never take it.
	opMu       sync.Mutex
	current    atomic.Pointer[syncSession]
	generation atomic.Uint64
	closed     atomic.Bool
}

func NewEngine(log *slog.Logger, loader contract.HistoryLoader, transport contract.Transport, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		log:       log,
		loader:    loader,
		transport: transport,
		opts:      opts,
		backoff:   NewBackoff(opts.Backoff),
		registry:  NewRegistry(),
	}
}

// Open starts a new instantiation for (sessionID, token), disposing the
// current one first. The history fetch and the live channel start
// concurrently; failures are reported as events.
// Cancelling ctx closes the instantiation.
func (e *Engine) Open(ctx context.Context, sessionID domain.SessionID, token string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	// The previous instantiation goes away even when the new one is refused.
	e.closeCurrent()
	if sessionID.IsZero() {
		return errors.ErrInvalidSession
	}
	claims, err := auth.CheckUsable(token, e.opts.Now())
	if err != nil {
		return err
	}
	var userID string
	if claims != nil {
		userID = claims.Participant()
	}

	generation := e.generation.Add(1)
	s := newSyncSession(e, sessionID, token, userID, generation)
	e.current.Store(s)
	e.closed.Store(false)
	s.start()
	s.stopWatch = context.AfterFunc(ctx, func() { e.closeIfCurrent(s) })

	e.log.Info("Session opened", "session_id", sessionID, "generation", generation)
	return nil
}

// Close disposes the current instantiation. Pending events are delivered
// before it returns. Calling it again is a no-op.
func (e *Engine) Close() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.closeCurrent()
}

func (e *Engine) closeIfCurrent(s *syncSession) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.current.Load() == s {
		e.closeCurrent()
	}
}

func (e *Engine) closeCurrent() {
	s := e.current.Load()
	if s == nil {
		return
	}
	s.close()
	e.current.Store(nil)
	e.closed.Store(true)
}

// Send posts user content on the live channel. Nothing is appended locally:
// the message shows up when the server echoes it.
func (e *Engine) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.ErrEmptyContent
	}
	if n := utf8.RuneCountInString(content); n > e.opts.MaxContentRunes {
		return fmt.Errorf("%w: %d characters, limit is %d", errors.ErrContentTooLong, n, e.opts.MaxContentRunes)
	}
	s := e.current.Load()
	if s == nil {
		return errors.ErrNotOpen
	}
	payload, err := codec.EncodeOutbound(content)
	if err != nil {
		return err
	}
	return s.send(ctx, payload)
}

// Subscription is the point from which a sink follows the engine.
// The sink receives exactly the events emitted after Snapshot was taken.
type Subscription struct {
	ID         string
	SessionID  domain.SessionID
	Generation uint64
	Snapshot   []domain.Message
	State      domain.ConnectionState
	cancel     func()
}

func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (e *Engine) Subscribe(ctx context.Context, sink contract.EventSink) (Subscription, error) {
	id := uuid.NewString()
	cancel := func() { e.registry.Unsubscribe(id) }

	if s := e.current.Load(); s != nil {
		reply := make(chan Subscription, 1)
		var abandoned atomic.Bool
		posted := s.postWith(ctx, func() {
			if abandoned.Load() {
				return
			}
			e.registry.Subscribe(id, sink, e.seq.Load())
			reply <- Subscription{
				ID:         id,
				SessionID:  s.id,
				Generation: s.generation,
				Snapshot:   s.timeline.Snapshot(),
				State:      s.conn.State(),
				cancel:     cancel,
			}
		})
		if posted {
			select {
			case sub := <-reply:
				return sub, nil
			case <-ctx.Done():
				abandoned.Store(true)
				e.registry.Unsubscribe(id)
				return Subscription{}, ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return Subscription{}, ctx.Err()
		}
	}

	// No live instantiation: only later generations will feed the sink.
	e.registry.Subscribe(id, sink, e.seq.Load())
	return Subscription{ID: id, State: e.State(), Generation: e.generation.Load(), cancel: cancel}, nil
}

// Timeline returns a snapshot of the current timeline, nil when nothing is open.
func (e *Engine) Timeline() []domain.Message {
	if s := e.current.Load(); s != nil {
		return s.timeline.Snapshot()
	}
	return nil
}

// TimelineSince returns the messages after the first n, for consumers
// catching up from a known length.
func (e *Engine) TimelineSince(n int) []domain.Message {
	if s := e.current.Load(); s != nil {
		return s.timeline.Since(n)
	}
	return nil
}

func (e *Engine) State() domain.ConnectionState {
	if s := e.current.Load(); s != nil {
		return s.conn.State()
	}
	if e.closed.Load() {
		return domain.StateClosed
	}
	return domain.StateIdle
}

func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

func (e *Engine) SessionID() domain.SessionID {
	if s := e.current.Load(); s != nil {
		return s.id
	}
	return ""
}

// CurrentUserID is the participant id carried by the token, empty for opaque tokens.
// Consumers compare it with Message.AuthorID to recognize their own messages.
func (e *Engine) CurrentUserID() string {
	if s := e.current.Load(); s != nil {
		return s.userID
	}
	return ""
}
