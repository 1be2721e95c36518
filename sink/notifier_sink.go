package sink

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a transient, user-facing message.
type Notification struct {
	Level Level
	Text  string
	At    time.Time
}

const (
	HistoryFailedText      = "Failed to load chat history."
	ConnectionLostText     = "Connection lost, reconnecting."
	ReconnectedText        = "Reconnected."
	CredentialRejectedText = "Session expired, please log in again."
)

// Notifier turns engine events into notifications. Only the first
// reconnection of an outage is reported, and its recovery.
type Notifier struct {
	mu       sync.Mutex
	notify   func(Notification)
	inOutage bool
}

func NewNotifier(notify func(Notification)) *Notifier {
	return &Notifier{notify: notify}
}

func (n *Notifier) Consume(_ context.Context, e event.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch evt := e.Payload.(type) {
	case event.HistoryUnavailable:
		n.notify(Notification{Level: LevelError, Text: HistoryFailedText, At: e.At})
	case event.CredentialRejected:
		n.inOutage = false
		n.notify(Notification{Level: LevelError, Text: CredentialRejectedText, At: e.At})
	case event.StateChanged:
		switch {
		case evt.To == domain.StateReconnecting && !n.inOutage:
			n.inOutage = true
			n.notify(Notification{Level: LevelWarning, Text: ConnectionLostText, At: e.At})
		case evt.To == domain.StateOpen && n.inOutage:
			n.inOutage = false
			n.notify(Notification{Level: LevelInfo, Text: ReconnectedText, At: e.At})
		case evt.To == domain.StateClosed:
			n.inOutage = false
		}
	}
	return nil
}
