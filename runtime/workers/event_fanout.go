package workers

import (
	"chat-sync/contract"
	"chat-sync/domain/event"
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventFanout delivers every event, in order, to the permanent sinks and to
// the subscribers registered before the event was emitted.
//
// Each sink gets at most sinkTimeout per event. A slow or failing sink is
// logged and skipped, it never blocks the following ones for longer.
//
// Telemetry handlers receive a best-effort copy: when the telemetry channel is
// full the copy is lost.
type EventFanout struct {
	log            *slog.Logger
	permanentSinks []contract.EventSink
	registry       contract.IRegistry
	events         <-chan event.Event
	telemetry      chan<- event.Event
	sinkTimeout    time.Duration
	drained        chan struct{}
	drainOnce      *sync.Once
}

func NewEventFanout(
	log *slog.Logger,
	permanentSinks []contract.EventSink,
	registry contract.IRegistry,
	events <-chan event.Event,
	telemetry chan<- event.Event,
	sinkTimeout time.Duration,
) *EventFanout {
	return &EventFanout{
		log:            log,
		permanentSinks: permanentSinks,
		registry:       registry,
		events:         events,
		telemetry:      telemetry,
		sinkTimeout:    sinkTimeout,
		drained:        make(chan struct{}),
		drainOnce:      &sync.Once{},
	}
}

// Run stops with nil once the events channel is closed and emptied.
func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt, ok := <-w.events:
			if !ok {
				w.drainOnce.Do(func() { close(w.drained) })
				return nil
			}
			w.Fanout(ctx, evt)
			select {
			case w.telemetry <- evt:
			default:
				w.log.Debug("Observability telemetry event lost", "seq", evt.Seq)
			}
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		}
	}
}

// Drained is closed once every emitted event has been delivered.
func (w *EventFanout) Drained() <-chan struct{} {
	return w.drained
}

// Fanout One sink after the other for each event, keeping per-sink ordering
func (w *EventFanout) Fanout(ctx context.Context, evt event.Event) {
	sinks := append([]contract.EventSink(nil), w.permanentSinks...)
	if w.registry != nil {
		sinks = append(sinks, w.registry.SinksFor(evt.Seq)...)
	}
	for _, sink := range sinks {
		w.deliver(ctx, sink, evt)
	}
}

func (w *EventFanout) deliver(ctx context.Context, sink contract.EventSink, evt event.Event) {
	sinkCtx := ctx
	if w.sinkTimeout > 0 {
		var cancel context.CancelFunc
		sinkCtx, cancel = context.WithTimeout(ctx, w.sinkTimeout)
		defer cancel()
	}
	if err := sink.Consume(sinkCtx, evt); err != nil {
		w.log.Warn("Sink failed to consume event", "seq", evt.Seq, "type", evt.Type(), "error", err)
	}
}
