package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// connectionHooks are invoked from the sequencing loop only.
type connectionHooks struct {
	post       func(cmd func()) bool
	onState    func(change event.StateChanged)
	onFrame    func(data []byte, receivedAt time.Time)
	onRejected func(err error)
}

// ConnectionSupervisor owns the live channel of one session instantiation.
// Every method except State runs on the sequencing loop. Dial attempts and
// timers are tagged with the attempt number so late results are ignored.
type ConnectionSupervisor struct {
	log           *slog.Logger
	transport     contract.Transport
	scheduler     contract.Scheduler
	backoff       Backoff
	target        contract.Target
	degradedGrace time.Duration
	hooks         connectionHooks
	now           func() time.Time

	mu    sync.RWMutex
	state domain.ConnectionState

	attempt    uint64
	failures   int
	lastDelay  time.Duration
	channel    contract.Channel
	channelTag uint64
	cancelDial context.CancelFunc
	timer      contract.Timer

	// Channels handed out by the transport and not yet closed, shared with dial goroutines.
	trackMu  sync.Mutex
	tracked  map[contract.Channel]struct{}
	disposed bool
}

func NewConnectionSupervisor(
	log *slog.Logger,
	transport contract.Transport,
	scheduler contract.Scheduler,
	backoff Backoff,
	target contract.Target,
	degradedGrace time.Duration,
	hooks connectionHooks,
	now func() time.Time,
) *ConnectionSupervisor {
	return &ConnectionSupervisor{
		log:           log,
		transport:     transport,
		scheduler:     scheduler,
		backoff:       backoff,
		target:        target,
		degradedGrace: degradedGrace,
		hooks:         hooks,
		now:           now,
		state:         domain.StateIdle,
		tracked:       make(map[contract.Channel]struct{}),
	}
}

func (s *ConnectionSupervisor) State() domain.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connect leaves idle and starts the first dial attempt.
func (s *ConnectionSupervisor) Connect() {
	if !s.transition(domain.StateConnecting, 0, nil) {
		return
	}
	s.startAttempt()
}

func (s *ConnectionSupervisor) startAttempt() {
	s.attempt++
	tag := s.attempt
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel
	handler := &attemptHandler{supervisor: s, tag: tag, gate: make(chan struct{}), now: s.now}

	go func() {
		// Frames and close notifications wait for the ready command to be queued first.
		defer close(handler.gate)
		ch, err := s.transport.Connect(ctx, s.target, handler)
		if err != nil {
			s.hooks.post(func() { s.handleFailed(tag, err) })
			return
		}
		if !s.track(ch) {
			_ = ch.Close()
			return
		}
		if !s.hooks.post(func() { s.handleReady(tag, ch) }) {
			s.release(ch)
		}
	}()
}

func (s *ConnectionSupervisor) handleReady(tag uint64, ch contract.Channel) {
	if tag != s.attempt || s.State() != domain.StateConnecting {
		s.log.Debug("Discarding stale channel", "attempt", tag)
		s.release(ch)
		return
	}
	s.stopDial()
	s.channel = ch
	s.channelTag = tag
	s.failures = 0
	s.lastDelay = 0
	s.transition(domain.StateOpen, 0, nil)
}

func (s *ConnectionSupervisor) handleFailed(tag uint64, err error) {
	if tag != s.attempt || s.State() != domain.StateConnecting {
		return
	}
	if stderrors.Is(err, errors.ErrCredentialRejected) {
		s.reject(err)
		return
	}
	s.log.Debug("Dial attempt failed", "attempt", tag, "error", err)
	s.scheduleRetry(err)
}

func (s *ConnectionSupervisor) handleClosed(tag uint64, err error) {
	if s.channel == nil || tag != s.channelTag || err == nil {
		return
	}
	if stderrors.Is(err, errors.ErrCredentialRejected) {
		s.reject(err)
		return
	}
	if s.State().IsLive() {
		s.log.Info("Live channel closed unexpectedly", "attempt", tag, "error", err)
		s.scheduleRetry(err)
	}
}

// handleFrame forwards frames of the current channel only.
func (s *ConnectionSupervisor) handleFrame(tag uint64, data []byte, receivedAt time.Time) {
	if s.channel == nil || tag != s.channelTag || !s.State().IsLive() {
		return
	}
	if s.State() == domain.StateDegraded {
		s.stopTimer()
		s.transition(domain.StateOpen, 0, nil)
	}
	s.hooks.onFrame(data, receivedAt)
}

func (s *ConnectionSupervisor) handleRetryElapsed(tag uint64) {
	if tag != s.attempt || s.State() != domain.StateReconnecting {
		return
	}
	s.timer = nil
	if s.transition(domain.StateConnecting, 0, nil) {
		s.startAttempt()
	}
}

// Sendable grants the current channel to a writer.
func (s *ConnectionSupervisor) Sendable() (contract.Channel, uint64, error) {
	if s.State() != domain.StateOpen || s.channel == nil {
		return nil, 0, errors.ErrNotOpen
	}
	return s.channel, s.channelTag, nil
}

// SendFailed moves an open channel to degraded. Without inbound traffic
// within the grace period the channel is replaced.
func (s *ConnectionSupervisor) SendFailed(tag uint64, err error) {
	if tag != s.channelTag || s.State() != domain.StateOpen {
		return
	}
	if !s.transition(domain.StateDegraded, 0, err) {
		return
	}
	if s.degradedGrace <= 0 {
		return
	}
	s.stopTimer()
	s.timer = s.scheduler.AfterFunc(s.degradedGrace, func() {
		s.hooks.post(func() { s.handleDegradedElapsed(tag) })
	})
}

func (s *ConnectionSupervisor) handleDegradedElapsed(tag uint64) {
	if tag != s.channelTag || s.State() != domain.StateDegraded {
		return
	}
	s.scheduleRetry(fmt.Errorf("%w: no traffic after failed send", errors.ErrTransportFailure))
}

func (s *ConnectionSupervisor) scheduleRetry(cause error) {
	s.closeChannel()
	s.stopDial()
	s.stopTimer()
	s.failures++
	delay := s.backoff.Delay(s.failures)
	if delay < s.lastDelay {
		delay = s.lastDelay
	}
	s.lastDelay = delay
	if !s.transition(domain.StateReconnecting, delay, cause) {
		return
	}
	tag := s.attempt
	s.timer = s.scheduler.AfterFunc(delay, func() {
		s.hooks.post(func() { s.handleRetryElapsed(tag) })
	})
}

func (s *ConnectionSupervisor) reject(err error) {
	s.log.Warn("Credential rejected by live channel", "session_id", s.target.SessionID, "error", err)
	s.teardown()
	s.transition(domain.StateClosed, 0, err)
	s.hooks.onRejected(err)
}

// Close tears the channel down through closing to closed. It is idempotent.
func (s *ConnectionSupervisor) Close() {
	s.teardown()
	s.transition(domain.StateClosing, 0, nil)
	s.transition(domain.StateClosed, 0, nil)
}

// Dispose releases every channel, including those still being dialed.
// Later dial results close themselves.
func (s *ConnectionSupervisor) Dispose() {
	s.Close()
	s.trackMu.Lock()
	s.disposed = true
	pending := s.tracked
	s.tracked = make(map[contract.Channel]struct{})
	s.trackMu.Unlock()
	for ch := range pending {
		_ = ch.Close()
	}
}

func (s *ConnectionSupervisor) teardown() {
	s.closeChannel()
	s.stopDial()
	s.stopTimer()
}

func (s *ConnectionSupervisor) transition(to domain.ConnectionState, delay time.Duration, cause error) bool {
	s.mu.Lock()
	from := s.state
	if !domain.CanTransition(from, to) {
		s.mu.Unlock()
		if from != to {
			s.log.Debug("Ignoring connection transition", "from", from, "to", to)
		}
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.hooks.onState(event.StateChanged{
		Session: s.target.SessionID,
		From:    from,
		To:      to,
		Attempt: s.attempt,
		Delay:   delay,
		Err:     cause,
	})
	return true
}

func (s *ConnectionSupervisor) closeChannel() {
	if s.channel == nil {
		return
	}
	s.release(s.channel)
	s.channel = nil
	s.channelTag = 0
}

func (s *ConnectionSupervisor) stopDial() {
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
}

func (s *ConnectionSupervisor) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *ConnectionSupervisor) track(ch contract.Channel) bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if s.disposed {
		return false
	}
	s.tracked[ch] = struct{}{}
	return true
}

func (s *ConnectionSupervisor) release(ch contract.Channel) {
	s.trackMu.Lock()
	_, ok := s.tracked[ch]
	delete(s.tracked, ch)
	s.trackMu.Unlock()
	if ok {
		_ = ch.Close()
	}
}

// attemptHandler routes what a channel reads back into the sequencing loop.
type attemptHandler struct {
	supervisor *ConnectionSupervisor
	tag        uint64
	gate       chan struct{}
	now        func() time.Time
}

func (h *attemptHandler) OnFrame(data []byte) {
	receivedAt := h.now()
	<-h.gate
	h.supervisor.hooks.post(func() { h.supervisor.handleFrame(h.tag, data, receivedAt) })
}

func (h *attemptHandler) OnClose(err error) {
	<-h.gate
	h.supervisor.hooks.post(func() { h.supervisor.handleClosed(h.tag, err) })
}
