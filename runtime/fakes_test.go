package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeTransport answers dial attempts from a script: results[i] is the
// outcome of attempt i, attempts past the script succeed.
type fakeTransport struct {
	mu        sync.Mutex
	results   []error
	targets   []contract.Target
	block     chan struct{}
	connected chan *fakeChannel
}

func newFakeTransport(results ...error) *fakeTransport {
	return &fakeTransport{results: results, connected: make(chan *fakeChannel, 16)}
}

func (f *fakeTransport) Connect(ctx context.Context, target contract.Target, handler contract.FrameHandler) (contract.Channel, error) {
	f.mu.Lock()
	i := len(f.targets)
	f.targets = append(f.targets, target)
	var err error
	if i < len(f.results) {
		err = f.results[i]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	ch := &fakeChannel{handler: handler, closedCh: make(chan struct{})}
	f.connected <- ch
	return ch, nil
}

func (f *fakeTransport) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

func (f *fakeTransport) nextChannel(t *testing.T) *fakeChannel {
	t.Helper()
	select {
	case ch := <-f.connected:
		return ch
	case <-time.After(waitFor):
		require.Fail(t, "no channel connected")
		return nil
	}
}

type fakeChannel struct {
	handler  contract.FrameHandler
	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	closed   atomic.Bool
	closedCh chan struct{}
	once     sync.Once
}

func (c *fakeChannel) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.closedCh)
	})
	return nil
}

func (c *fakeChannel) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeChannel) sentPayloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeChannel) deliver(frame string) {
	c.handler.OnFrame([]byte(frame))
}

// manualScheduler only fires timers when the test says so.
type manualScheduler struct {
	added chan *manualTimer
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{added: make(chan *manualTimer, 64)}
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) contract.Timer {
	timer := &manualTimer{delay: d, f: f}
	s.added <- timer
	return timer
}

func (s *manualScheduler) next(t *testing.T) *manualTimer {
	t.Helper()
	select {
	case timer := <-s.added:
		return timer
	case <-time.After(waitFor):
		require.Fail(t, "no timer scheduled")
		return nil
	}
}

type manualTimer struct {
	delay   time.Duration
	f       func()
	stopped atomic.Bool
	fired   atomic.Bool
}

func (m *manualTimer) Stop() bool {
	return !m.stopped.Swap(true) && !m.fired.Load()
}

func (m *manualTimer) fire() {
	if m.stopped.Load() || m.fired.Swap(true) {
		return
	}
	m.f()
}

// fakeLoader returns its script once release is closed (immediately when nil).
type fakeLoader struct {
	messages []domain.Message
	err      error
	release  chan struct{}
}

func (l *fakeLoader) Load(ctx context.Context, _ domain.SessionID, _ string) ([]domain.Message, error) {
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.messages, l.err
}

// recorder is an event sink keeping everything it consumed.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Consume(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *recorder) payloads() []event.DomainEvent {
	var res []event.DomainEvent
	for _, e := range r.all() {
		res = append(res, e.Payload)
	}
	return res
}

func (r *recorder) transitions() []domain.ConnectionState {
	var res []domain.ConnectionState
	for _, e := range r.all() {
		if change, ok := e.Payload.(event.StateChanged); ok {
			res = append(res, change.To)
		}
	}
	return res
}

func (r *recorder) count(kind event.Type) int {
	n := 0
	for _, e := range r.all() {
		if e.Type() == kind {
			n++
		}
	}
	return n
}

func (r *recorder) waitCount(t *testing.T, kind event.Type, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(kind) >= n }, waitFor, 5*time.Millisecond,
		"expected %d %s events", n, kind)
}

func waitState(t *testing.T, e *Engine, state domain.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State() == state }, waitFor, 5*time.Millisecond,
		"expected state %s, got %s", state, e.State())
}
