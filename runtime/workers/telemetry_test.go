package workers

import (
	"chat-sync/domain/event"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	seen chan event.Event
}

func (h countingHandler) Handle(e event.Event) { h.seen <- e }

func TestTelemetryWorker_Dispatches_To_Handlers(t *testing.T) {
	req := require.New(t)
	telemetry := make(chan event.Event, 1)
	h1 := countingHandler{seen: make(chan event.Event, 1)}
	h2 := countingHandler{seen: make(chan event.Event, 1)}
	worker := NewTelemetryWorker(slog.Default(), telemetry, []event.Handler{h1, h2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// When
	telemetry <- event.Event{Seq: 4}

	// Then
	for _, h := range []countingHandler{h1, h2} {
		select {
		case e := <-h.seen:
			req.Equal(uint64(4), e.Seq)
		case <-time.After(time.Second):
			req.Fail("handler not called")
		}
	}
}
