package sink

import (
	"chat-sync/domain/event"
	"context"
)

// Channel hands events over to a consumer goroutine, typically a UI loop.
type Channel struct {
	Events chan event.Event
}

func NewChannel(bufferSize int) *Channel {
	return &Channel{Events: make(chan event.Event, bufferSize)}
}

// Consume is called by fanout
// It waits for room in the buffer: dropping would leave holes in the consumer timeline.
// The fanout sink timeout bounds the wait.
func (s *Channel) Consume(ctx context.Context, e event.Event) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
