// Package observability exposes the prometheus metrics of the sync engine.
package observability

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat_sync"

var states = []domain.ConnectionState{
	domain.StateIdle,
	domain.StateConnecting,
	domain.StateOpen,
	domain.StateDegraded,
	domain.StateReconnecting,
	domain.StateClosing,
	domain.StateClosed,
}

// Metrics is a permanent event sink. Frame counters are fed directly by the
// engine because malformed frames never become events.
type Metrics struct {
	framesReceived       prometheus.Counter
	framesDiscarded      prometheus.Counter
	messagesAppended     *prometheus.CounterVec
	messagesDropped      *prometheus.CounterVec
	reconnects           prometheus.Counter
	historyFailures      prometheus.Counter
	credentialRejections prometheus.Counter
	connectionState      *prometheus.GaugeVec
	channelLength        *prometheus.GaugeVec
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Live frames read from the channel.",
		}),
		framesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_discarded_total",
			Help: "Live frames discarded as malformed.",
		}),
		messagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_appended_total",
			Help: "Messages added to the timeline.",
		}, []string{"source"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dropped_total",
			Help: "Live messages dropped by the reconciler.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Entries into the reconnecting state.",
		}),
		historyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "history_failures_total",
			Help: "Backfills that could not be loaded.",
		}),
		credentialRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "credential_rejections_total",
			Help: "Instantiations ended by a rejected credential.",
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		channelLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channel_fill_ratio",
			Help: "Sampled length over capacity of the session buffers.",
		}, []string{"channel"}),
	}
	collectors := []prometheus.Collector{
		m.framesReceived, m.framesDiscarded, m.messagesAppended, m.messagesDropped,
		m.reconnects, m.historyFailures, m.credentialRejections, m.connectionState, m.channelLength,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	m.setState(domain.StateIdle)
	return m, nil
}

func (m *Metrics) FrameReceived()  { m.framesReceived.Inc() }
func (m *Metrics) FrameDiscarded() { m.framesDiscarded.Inc() }

func (m *Metrics) ObserveChannel(name string, length, capacity int) {
	if capacity == 0 {
		return
	}
	m.channelLength.WithLabelValues(name).Set(float64(length) / float64(capacity))
}

func (m *Metrics) Consume(_ context.Context, e event.Event) error {
	switch payload := e.Payload.(type) {
	case event.HistoryLoaded:
		m.messagesAppended.WithLabelValues(string(domain.SourceHistory)).Add(float64(len(payload.Messages)))
	case event.HistoryUnavailable:
		m.historyFailures.Inc()
	case event.MessageAppended:
		m.messagesAppended.WithLabelValues(string(payload.Message.Source)).Inc()
	case event.MessageDropped:
		m.messagesDropped.WithLabelValues(string(payload.Reason)).Inc()
	case event.StateChanged:
		if payload.To == domain.StateReconnecting {
			m.reconnects.Inc()
		}
		m.setState(payload.To)
	case event.CredentialRejected:
		m.credentialRejections.Inc()
	}
	return nil
}

func (m *Metrics) setState(current domain.ConnectionState) {
	for _, s := range states {
		value := 0.0
		if s == current {
			value = 1
		}
		m.connectionState.WithLabelValues(string(s)).Set(value)
	}
}
