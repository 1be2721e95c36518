//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"reflect"
	"time"
)

// ISupervisor keeps a set of workers running until its context ends.
type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// IRegistry tracks the dynamic subscribers of an engine.
// A subscriber only receives events whose Seq is strictly greater than afterSeq.
type IRegistry interface {
	Subscribe(subscriberID string, sink EventSink, afterSeq uint64)
	Unsubscribe(subscriberID string)
	SinksFor(seq uint64) []EventSink
}

// HistoryLoader fetches the backfill of a session, oldest first.
type HistoryLoader interface {
	Load(ctx context.Context, sessionID domain.SessionID, token string) ([]domain.Message, error)
}

// Target identifies what a live channel is opened for.
type Target struct {
	SessionID domain.SessionID
	Token     string
}

// Transport opens live channels.
// Connect blocks until the channel is ready or the attempt failed.
type Transport interface {
	Connect(ctx context.Context, target Target, handler FrameHandler) (Channel, error)
}

type Channel interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// FrameHandler receives what a Channel reads, from the channel's own goroutine.
// OnClose is called at most once, with nil when the channel was closed locally.
type FrameHandler interface {
	OnFrame(data []byte)
	OnClose(err error)
}

type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// CredentialSource exposes the current bearer token and signals every change.
type CredentialSource interface {
	Token() string
	Changed() <-chan struct{}
}
