package sink

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"sync"
)

// Timeline mirrors the engine timeline from the event stream alone.
// A HistoryLoaded event starts a new generation and resets the mirror.
type Timeline struct {
	mu         sync.RWMutex
	generation uint64
	messages   []domain.Message
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

// Reset starts the mirror from a snapshot, as returned by a subscription.
func (t *Timeline) Reset(generation uint64, snapshot []domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation = generation
	t.messages = append([]domain.Message(nil), snapshot...)
}

func (t *Timeline) Consume(_ context.Context, e event.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch evt := e.Payload.(type) {
	case event.HistoryLoaded:
		t.generation = e.Generation
		t.messages = append([]domain.Message(nil), evt.Messages...)
	case event.MessageAppended:
		if e.Generation == t.generation {
			t.messages = append(t.messages, evt.Message)
		}
	}
	return nil
}

func (t *Timeline) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Message(nil), t.messages...)
}
