package main

import (
	"bytes"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/sink"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.Disable()
	os.Exit(m.Run())
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.env")
}

func TestRun_Invalid_Config_Exits_With_Config_Code(t *testing.T) {
	req := require.New(t)
	t.Setenv("CHAT_API_URL", "")
	os.Unsetenv("CHAT_API_URL")

	code, err := run([]string{"history", "s1", "--env-file", missingEnvFile(t)})

	req.Equal(exitConfig, code)
	req.ErrorIs(err, errors.ErrInvalidConfig)
}

func TestRun_History_Failure_Exits_With_Runtime_Code(t *testing.T) {
	req := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	t.Setenv("CHAT_API_URL", srv.URL)

	code, err := run([]string{"history", "s1", "--env-file", missingEnvFile(t)})

	req.Equal(exitRuntime, code)
	req.ErrorIs(err, errors.ErrHistoryUnavailable)
}

func TestHistoryCmd_Prints_Table(t *testing.T) {
	req := require.New(t)
	router := mux.NewRouter()
	router.HandleFunc("/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "h1", "role": "user", "content": "hi there", "user_id": "u1", "username": "ann", "created_at": "2024-01-01T10:00:00Z"},
			{"id": "h2", "role": "agent", "content": "hello ann", "created_at": "2024-01-01T10:00:01Z"},
		})
	}).Methods(http.MethodGet)
	srv := httptest.NewServer(router)
	defer srv.Close()
	t.Setenv("CHAT_API_URL", srv.URL)
	t.Setenv("CHAT_TOKEN", "opaque")

	// When
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"history", "s1", "--env-file", missingEnvFile(t)})
	err := root.Execute()

	// Then
	req.NoError(err)
	req.Contains(out.String(), "hi there")
	req.Contains(out.String(), "ann")
	req.Contains(out.String(), "hello ann")
	req.Contains(out.String(), "agent")
}

func TestPrinter_Labels_Own_Messages(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	p := newPrinter(&out, func() string { return "u1" })
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local)

	p.Event(event.Event{Generation: 1, Payload: event.HistoryLoaded{Session: "s1", Messages: []domain.Message{
		{ID: "h1", Role: domain.RoleUser, Content: "mine", AuthorID: "u1", AuthorLabel: "ann", SentAt: at},
		{ID: "h2", Role: domain.RoleUser, Content: "theirs", AuthorID: "u2", AuthorLabel: "bob", SentAt: at},
		{ID: "h3", Role: domain.RoleSystem, Content: "bob joined", SentAt: at},
	}}})
	p.Event(event.Event{Generation: 1, Payload: event.MessageAppended{Session: "s1", Message: domain.Message{ID: "l1", Role: domain.RoleAgent, Content: "answer"}}})

	lines := out.String()
	req.Contains(lines, "10:00:00  You: mine")
	req.Contains(lines, "bob: theirs")
	req.Contains(lines, "10:00:00  bob joined")
	req.Contains(lines, "--:--:--  agent: answer")
}

func TestPrinter_States_And_Reopen(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	p := newPrinter(&out, func() string { return "" })

	p.Event(event.Event{Generation: 1, Payload: event.HistoryLoaded{Session: "s1"}})
	p.Event(event.Event{Generation: 1, Payload: event.StateChanged{Session: "s1", From: domain.StateOpen, To: domain.StateReconnecting, Delay: time.Second}})
	p.Event(event.Event{Generation: 2, Payload: event.HistoryLoaded{Session: "s1"}})
	p.Notify(sink.Notification{Level: sink.LevelError, Text: sink.HistoryFailedText})

	lines := out.String()
	req.Contains(lines, "[open -> reconnecting] retry in 1s")
	req.Contains(lines, "--- s1 reopened ---")
	req.Contains(lines, "* Failed to load chat history.")
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, content)
	return nil
}

func TestSendLines(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	p := newPrinter(&out, func() string { return "" })
	sender := &fakeSender{}
	lines := make(chan string, 3)
	lines <- "hello"
	lines <- "   "
	lines <- "world"
	close(lines)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- sendLines(ctx, sender, lines, p) }()
	req.Eventually(func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	req.NoError(<-done)
	req.Equal([]string{"hello", "world"}, sender.sent)
}

func TestSendLines_Reports_Failures(t *testing.T) {
	cases := map[string]struct {
		err  error
		text string
	}{
		"not open":          {err: errors.ErrNotOpen, text: "* Not connected, message not sent."},
		"transport failure": {err: fmt.Errorf("%w: broken pipe", errors.ErrTransportFailure), text: "* Message not sent: transport failure: broken pipe"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			var out bytes.Buffer
			p := newPrinter(&out, func() string { return "" })
			lines := make(chan string, 1)
			lines <- "hello"
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			req.NoError(sendLines(ctx, &fakeSender{err: tc.err}, lines, p))

			req.Contains(out.String(), tc.text)
		})
	}
}

func TestReadLines_Stops_After_Cancel(t *testing.T) {
	req := require.New(t)
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	lines := readLines(ctx, r)

	// Given a line was read
	go func() { _, _ = w.Write([]byte("first\n")) }()
	req.Equal("first", <-lines)

	// When the session ends and another line is typed
	cancel()
	written := make(chan struct{})
	go func() {
		_, _ = w.Write([]byte("second\n"))
		close(written)
	}()
	<-written

	// Then the reader gives up instead of waiting for a receiver
	req.Eventually(func() bool {
		select {
		case _, ok := <-lines:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
