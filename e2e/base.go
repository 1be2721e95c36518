package e2e

import (
	"chat-sync/contract"
	"chat-sync/domain/event"
	"chat-sync/history"
	"chat-sync/live"
	"chat-sync/runtime"
	"chat-sync/sink"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

// BaseSessionSuite wires a real engine against the backend named by the environment.
type BaseSessionSuite struct {
	suite.Suite
	Config Config
	Log    *slog.Logger
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSessionSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	s.Log = logs.GetLoggerFromLevel(slog.LevelDebug)
}

// Step prints a colorized header for a scenario step.
func (s *BaseSessionSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// NewEngine builds an engine over the websocket transport, recording every event.
func (s *BaseSessionSuite) NewEngine() (*runtime.Engine, *Recorder) {
	loader, err := history.NewLoader(s.Log, s.Config.APIURL, history.DefaultLimit, s.Config.Timeout)
	s.Require().NoError(err)
	transport, err := live.NewWebSocketTransport(s.Log, s.Config.LiveBaseURL(), s.Config.Timeout, 5*time.Second)
	s.Require().NoError(err)

	recorder := &Recorder{timeline: sink.NewTimeline()}
	engine := runtime.NewEngine(s.Log, loader, transport, runtime.Options{
		Sinks: []contract.EventSink{recorder},
	})
	s.T().Cleanup(engine.Close)
	return engine, recorder
}

// WithSession opens the configured session for the duration of fn.
func (s *BaseSessionSuite) WithSession(name string, fn func(ctx context.Context, engine *runtime.Engine, recorder *Recorder)) {
	s.Step(name)
	engine, recorder := s.NewEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 2*s.Config.Timeout)
	defer cancel()

	fn(ctx, engine, recorder)
}

// Recorder keeps the events of the session under test.
type Recorder struct {
	mu       sync.Mutex
	events   []event.Event
	timeline *sink.Timeline
}

func (r *Recorder) Consume(ctx context.Context, e event.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return r.timeline.Consume(ctx, e)
}

func (r *Recorder) Count(kind event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type() == kind {
			n++
		}
	}
	return n
}

func (r *Recorder) Timeline() *sink.Timeline {
	return r.timeline
}
