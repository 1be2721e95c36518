package live

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type wsBackend struct {
	upgrader websocket.Upgrader
	// behaviour once accepted
	onAccept func(conn *websocket.Conn)
	received chan []byte
}

func newWSBackend(t *testing.T, onAccept func(conn *websocket.Conn)) (*wsBackend, *httptest.Server) {
	b := &wsBackend{onAccept: onAccept, received: make(chan []byte, 16)}
	router := mux.NewRouter()
	router.HandleFunc("/ws/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		b.onAccept(conn)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return b, srv
}

func newWSTransport(t *testing.T, url string) *WebSocketTransport {
	transport, err := NewWebSocketTransport(logs.GetLoggerFromLevel(slog.LevelDebug), url, time.Second, time.Second)
	require.NoError(t, err)
	return transport
}

func TestWebSocketTransport_Frames_Both_Ways(t *testing.T) {
	req := require.New(t)
	var backend *wsBackend
	backend, srv := newWSBackend(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"l1","role":"agent","content":"hello"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			backend.received <- data
		}
	})
	transport := newWSTransport(t, srv.URL)
	handler := newRecordingHandler()

	// When
	ch, err := transport.Connect(context.Background(), contract.Target{SessionID: "s1", Token: "good"}, handler)
	req.NoError(err)

	// Then the server frame is delivered raw
	req.JSONEq(`{"id":"l1","role":"agent","content":"hello"}`, string(handler.nextFrame(t)))

	// And outbound payloads reach the server
	req.NoError(ch.Send(context.Background(), []byte(`{"role":"user","content":"hi"}`)))
	select {
	case data := <-backend.received:
		req.JSONEq(`{"role":"user","content":"hi"}`, string(data))
	case <-time.After(2 * time.Second):
		req.Fail("server did not receive the frame")
	}

	// When closed locally
	req.NoError(ch.Close())

	// Then OnClose reports a clean close and sending fails
	req.NoError(handler.closeErr(t))
	req.ErrorIs(ch.Send(context.Background(), []byte(`{}`)), errors.ErrTransportFailure)
}

func TestWebSocketTransport_Handshake_Rejected(t *testing.T) {
	req := require.New(t)
	_, srv := newWSBackend(t, func(*websocket.Conn) {})
	transport := newWSTransport(t, srv.URL)

	_, err := transport.Connect(context.Background(), contract.Target{SessionID: "s1", Token: "bad"}, newRecordingHandler())

	req.ErrorIs(err, errors.ErrCredentialRejected)
}

func TestWebSocketTransport_Policy_Violation_Close(t *testing.T) {
	req := require.New(t)
	_, srv := newWSBackend(t, func(conn *websocket.Conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"),
			time.Now().Add(time.Second))
		time.Sleep(100 * time.Millisecond)
	})
	transport := newWSTransport(t, srv.URL)
	handler := newRecordingHandler()

	_, err := transport.Connect(context.Background(), contract.Target{SessionID: "s1", Token: "good"}, handler)
	req.NoError(err)

	req.ErrorIs(handler.closeErr(t), errors.ErrCredentialRejected)
}

func TestWebSocketTransport_Unexpected_Close(t *testing.T) {
	req := require.New(t)
	_, srv := newWSBackend(t, func(conn *websocket.Conn) {
		// returning drops the connection
	})
	transport := newWSTransport(t, srv.URL)
	handler := newRecordingHandler()

	_, err := transport.Connect(context.Background(), contract.Target{SessionID: "s1", Token: "good"}, handler)
	req.NoError(err)

	req.ErrorIs(handler.closeErr(t), errors.ErrTransportFailure)
}

func TestWebSocketTransport_Unreachable(t *testing.T) {
	req := require.New(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	transport := newWSTransport(t, url)

	_, err := transport.Connect(context.Background(), contract.Target{SessionID: "s1", Token: "good"}, newRecordingHandler())

	req.ErrorIs(err, errors.ErrTransportFailure)
}
