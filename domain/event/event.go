package event

import (
	"chat-sync/domain"
	"time"
)

type Type string

const (
	HistoryLoadedType      Type = "HISTORY_LOADED"
	HistoryUnavailableType Type = "HISTORY_UNAVAILABLE"
	MessageAppendedType    Type = "MESSAGE_APPENDED"
	MessageDroppedType     Type = "MESSAGE_DROPPED"
	StateChangedType       Type = "STATE_CHANGED"
	CredentialRejectedType Type = "CREDENTIAL_REJECTED"
)

// DomainEvent is the payload of an Event.
type DomainEvent interface {
	SessionID() domain.SessionID
	Type() Type
}

// Event wraps a DomainEvent with its position in the engine-wide stream.
// Seq is strictly increasing across generations.
type Event struct {
	Seq        uint64
	Generation uint64
	At         time.Time
	Payload    DomainEvent
}

func (e Event) Type() Type {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Type()
}

// HistoryLoaded carries the backfill seeded into the timeline, oldest first.
// It is emitted once per generation, with an empty slice when history failed.
type HistoryLoaded struct {
	Session  domain.SessionID
	Messages []domain.Message
}

func (h HistoryLoaded) SessionID() domain.SessionID { return h.Session }
func (h HistoryLoaded) Type() Type                  { return HistoryLoadedType }

type HistoryUnavailable struct {
	Session domain.SessionID
	Err     error
}

func (h HistoryUnavailable) SessionID() domain.SessionID { return h.Session }
func (h HistoryUnavailable) Type() Type                  { return HistoryUnavailableType }

type MessageAppended struct {
	Session domain.SessionID
	Message domain.Message
	// Index is the position of Message in the timeline.
	Index int
}

func (m MessageAppended) SessionID() domain.SessionID { return m.Session }
func (m MessageAppended) Type() Type                  { return MessageAppendedType }

type DropReason string

const (
	DropDuplicate DropReason = "duplicate"
)

type MessageDropped struct {
	Session domain.SessionID
	Message domain.Message
	Reason  DropReason
}

func (m MessageDropped) SessionID() domain.SessionID { return m.Session }
func (m MessageDropped) Type() Type                  { return MessageDroppedType }

type StateChanged struct {
	Session domain.SessionID
	From    domain.ConnectionState
	To      domain.ConnectionState
	Attempt uint64
	// Delay is set when To is reconnecting.
	Delay time.Duration
	Err   error
}

func (s StateChanged) SessionID() domain.SessionID { return s.Session }
func (s StateChanged) Type() Type                  { return StateChangedType }

type CredentialRejected struct {
	Session domain.SessionID
	Err     error
}

func (c CredentialRejected) SessionID() domain.SessionID { return c.Session }
func (c CredentialRejected) Type() Type                  { return CredentialRejectedType }
