package event

import (
	"chat-sync/domain"
	"log/slog"
	"time"
)

// LatencyHandler logs how long live messages took between the server
// timestamp and their admission into the timeline.
type LatencyHandler struct {
	log              *slog.Logger
	latencyThreshold time.Duration
}

func NewLatencyHandler(log *slog.Logger, latencyThreshold time.Duration) *LatencyHandler {
	return &LatencyHandler{log: log, latencyThreshold: latencyThreshold}
}

func (h *LatencyHandler) Handle(e Event) {
	payload, ok := e.Payload.(MessageAppended)
	if !ok || payload.Message.Source != domain.SourceLive {
		return
	}
	leadTime := e.At.Sub(payload.Message.SentAt)
	if leadTime < 0 {
		// Client clock is behind the server, nothing meaningful to report.
		return
	}

	h.log.Debug("telemetry: delivery latency",
		"session_id", payload.Session,
		"message_id", payload.Message.ID,
		"lead_time_ms", leadTime.Milliseconds(),
	)

	if h.latencyThreshold > 0 && leadTime > h.latencyThreshold {
		h.log.Warn("high delivery latency detected", "lead_time", leadTime, "session_id", payload.Session)
	}
}
