package runtime

import (
	"chat-sync/codec"
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/projection"
	"chat-sync/runtime/workers"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type pendingFrame struct {
	frame      codec.Frame
	receivedAt time.Time
}

// syncSession is one (sessionID, token) instantiation. Its timeline and
// connection are only mutated by commands running on the sequencer.
type syncSession struct {
	engine     *Engine
	log        *slog.Logger
	id         domain.SessionID
	token      string
	userID     string
	generation uint64
	now        func() time.Time

	timeline   *projection.Timeline
	conn       *ConnectionSupervisor
	inbox      chan func()
	events     chan event.Event
	fanout     *workers.EventFanout
	supervisor *workers.Supervisor

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	stopWatch func() bool

	// Owned by the sequencer.
	pending       []pendingFrame
	cancelHistory context.CancelFunc
	disposed      bool
	rejected      bool
	eventsClosed  bool
}

func newSyncSession(e *Engine, id domain.SessionID, token, userID string, generation uint64) *syncSession {
	ctx, cancel := context.WithCancel(context.Background())
	log := e.log.With("session_id", id, "generation", generation)
	s := &syncSession{
		engine:     e,
		log:        log,
		id:         id,
		token:      token,
		userID:     userID,
		generation: generation,
		now:        e.opts.Now,
		timeline:   projection.NewTimeline(log),
		inbox:      make(chan func(), e.opts.BufferSize),
		events:     make(chan event.Event, e.opts.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.conn = NewConnectionSupervisor(log, e.transport, e.opts.Scheduler, e.backoff,
		contract.Target{SessionID: id, Token: token},
		e.opts.DegradedGrace,
		connectionHooks{
			post:       s.post,
			onState:    s.onState,
			onFrame:    s.onFrame,
			onRejected: s.onRejected,
		},
		e.opts.Now,
	)

	sinks := append([]contract.EventSink(nil), e.opts.Sinks...)
	if e.opts.Metrics != nil {
		sinks = append(sinks, e.opts.Metrics)
	}
	telemetry := make(chan event.Event, e.opts.BufferSize)
	s.fanout = workers.NewEventFanout(log, sinks, e.registry, s.events, telemetry, e.opts.SinkTimeout)
	handlers := append([]event.Handler{event.NewLatencyHandler(log, e.opts.LatencyThreshold)}, e.opts.Handlers...)

	var observe workers.CapacityObserver
	if e.opts.Metrics != nil {
		observe = e.opts.Metrics.ObserveChannel
	}
	buffers := []workers.NamedChannel{
		{Name: "inbox", Channel: s.inbox},
		{Name: "events", Channel: s.events},
		{Name: "telemetry", Channel: telemetry},
	}

	s.supervisor = workers.NewSupervisor(log, e.opts.RestartInterval)
	s.supervisor.Add(
		workers.NewSequencer(s.inbox, log),
		s.fanout,
		workers.NewTelemetryWorker(log, telemetry, handlers),
		workers.NewChannelCapacityWorker(log, buffers, observe, e.opts.SampleInterval),
	)
	return s
}

func (s *syncSession) start() {
	go func() {
		defer close(s.done)
		s.supervisor.Run(s.ctx)
	}()
	s.post(s.bootstrap)
}

func (s *syncSession) post(cmd func()) bool {
	return s.postWith(context.Background(), cmd)
}

func (s *syncSession) postWith(ctx context.Context, cmd func()) bool {
	select {
	case s.inbox <- cmd:
		return true
	case <-s.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// close disposes the instantiation and waits for the workers to stop.
func (s *syncSession) close() {
	s.closeOnce.Do(func() {
		if s.stopWatch != nil {
			s.stopWatch()
		}
		if s.post(s.dispose) {
			select {
			case <-s.fanout.Drained():
			case <-time.After(drainTimeout):
				s.log.Warn("Pending events not delivered before close")
			}
		}
		s.cancel()
		<-s.done
		s.log.Info("Session closed", "worker_restarts", s.supervisor.Restarts())
	})
}

func (s *syncSession) bootstrap() {
	if s.disposed {
		return
	}
	s.conn.Connect()

	historyCtx, cancel := context.WithCancel(s.ctx)
	s.cancelHistory = cancel
	go func() {
		messages, err := s.engine.loader.Load(historyCtx, s.id, s.token)
		s.post(func() { s.seed(messages, err) })
	}()
}

func (s *syncSession) seed(messages []domain.Message, err error) {
	if s.disposed || s.rejected {
		return
	}
	s.stopHistory()
	if err != nil {
		s.log.Warn("History unavailable", "error", err)
		s.emit(event.HistoryUnavailable{Session: s.id, Err: err})
		messages = nil
	}
	if err := s.timeline.Seed(messages); err != nil {
		s.log.Error("Unable to seed timeline", "error", err)
		return
	}
	s.emit(event.HistoryLoaded{Session: s.id, Messages: s.timeline.Snapshot()})

	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		s.admit(p.frame, p.receivedAt)
	}
}

func (s *syncSession) onFrame(data []byte, receivedAt time.Time) {
	if s.disposed {
		return
	}
	if m := s.engine.opts.Metrics; m != nil {
		m.FrameReceived()
	}
	f, err := codec.Decode(data)
	if err != nil {
		s.log.Debug("Discarding malformed frame", "error", err)
		if m := s.engine.opts.Metrics; m != nil {
			m.FrameDiscarded()
		}
		return
	}
	if !s.timeline.Seeded() {
		s.pending = append(s.pending, pendingFrame{frame: f, receivedAt: receivedAt})
		return
	}
	s.admit(f, receivedAt)
}

func (s *syncSession) admit(f codec.Frame, receivedAt time.Time) {
	msg, admitted, err := s.timeline.AdmitLive(f, receivedAt)
	if err != nil {
		s.log.Error("Unable to admit live frame", "error", err)
		return
	}
	if !admitted {
		s.log.Debug("Dropping duplicate live message", "message_id", msg.ID)
		s.emit(event.MessageDropped{Session: s.id, Message: msg, Reason: event.DropDuplicate})
		return
	}
	s.emit(event.MessageAppended{Session: s.id, Message: msg, Index: s.timeline.Len() - 1})
}

func (s *syncSession) onState(change event.StateChanged) {
	attrs := []any{"from", change.From, "to", change.To, "attempt", change.Attempt}
	if change.Delay > 0 {
		attrs = append(attrs, "delay", change.Delay)
	}
	if change.Err != nil {
		attrs = append(attrs, "error", change.Err)
	}
	s.log.Info("Connection state changed", attrs...)
	s.emit(change)
}

func (s *syncSession) onRejected(err error) {
	s.rejected = true
	s.stopHistory()
	s.pending = nil
	s.emit(event.CredentialRejected{Session: s.id, Err: err})
}

func (s *syncSession) dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.stopHistory()
	s.pending = nil
	s.conn.Dispose()
	s.eventsClosed = true
	close(s.events)
}

func (s *syncSession) stopHistory() {
	if s.cancelHistory != nil {
		s.cancelHistory()
		s.cancelHistory = nil
	}
}

func (s *syncSession) emit(payload event.DomainEvent) {
	if s.eventsClosed {
		return
	}
	evt := event.Event{
		Seq:        s.engine.seq.Add(1),
		Generation: s.generation,
		At:         s.now(),
		Payload:    payload,
	}
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

type sendGrant struct {
	channel contract.Channel
	tag     uint64
	err     error
}

func (s *syncSession) send(ctx context.Context, payload []byte) error {
	reply := make(chan sendGrant, 1)
	if !s.postWith(ctx, func() {
		ch, tag, err := s.conn.Sendable()
		reply <- sendGrant{channel: ch, tag: tag, err: err}
	}) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.ErrNotOpen
	}

	var grant sendGrant
	select {
	case grant = <-reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.ErrNotOpen
	}
	if grant.err != nil {
		return grant.err
	}

	err := grant.channel.Send(ctx, payload)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, errors.ErrTransportFailure) {
		err = fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
	}
	s.log.Warn("Send failed", "error", err)
	cause, tag := err, grant.tag
	s.post(func() { s.conn.SendFailed(tag, cause) })
	return cause
}
