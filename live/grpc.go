package live

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// JoinMethod is the bidirectional stream joining a session room.
// Frames travel as google.protobuf.Struct in both directions.
const JoinMethod = "/chat.v1.SessionService/Join"

const (
	authorizationKey = "authorization"
	sessionIDKey     = "x-session-id"
)

var joinStreamDesc = &grpc.StreamDesc{
	StreamName:    "Join",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCTransport joins the session room through a long-lived stream on a shared client connection.
type GRPCTransport struct {
	log  *slog.Logger
	conn *grpc.ClientConn
}

// NewGRPCTransport creates a non-blocking client. The connection backoff only
// governs the underlying HTTP/2 link; session reconnection stays with the engine.
func NewGRPCTransport(log *slog.Logger, addr string, connectBackoff backoff.Config, opts ...grpc.DialOption) (*GRPCTransport, error) {
	options := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: connectBackoff}),
	}, opts...)
	conn, err := grpc.NewClient(addr, options...)
	if err != nil {
		return nil, fmt.Errorf("grpc client for %s: %w", addr, err)
	}
	return &GRPCTransport{log: log, conn: conn}, nil
}

func (t *GRPCTransport) Connect(ctx context.Context, target contract.Target, handler contract.FrameHandler) (contract.Channel, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	streamCtx = metadata.AppendToOutgoingContext(streamCtx,
		authorizationKey, "Bearer "+target.Token,
		sessionIDKey, target.SessionID.String(),
	)

	// The dial context only bounds the attempt, not the stream lifetime.
	ready := make(chan struct{})
	defer close(ready)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-ready:
		}
	}()

	stream, err := t.conn.NewStream(streamCtx, joinStreamDesc, JoinMethod)
	if err != nil {
		cancel()
		return nil, classifyStatus(err)
	}
	// Header blocks until the server accepted the stream.
	md, err := stream.Header()
	if err == nil && md == nil {
		// Trailers-only response: the status is only visible through RecvMsg.
		if err = stream.RecvMsg(&structpb.Struct{}); err == nil || stderrors.Is(err, io.EOF) {
			err = status.Error(codes.Unavailable, "stream ended before headers")
		}
	}
	if err != nil {
		cancel()
		return nil, classifyStatus(err)
	}
	if ctx.Err() != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", errors.ErrTransportFailure, ctx.Err())
	}

	ch := &grpcChannel{stream: stream, cancel: cancel}
	go ch.readLoop(t.log.With("session_id", target.SessionID), handler)
	return ch, nil
}

func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

type grpcChannel struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	sendMu sync.Mutex
	closed atomic.Bool
}

func (c *grpcChannel) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: channel closed", errors.ErrTransportFailure)
	}
	var frame structpb.Struct
	if err := protojson.Unmarshal(payload, &frame); err != nil {
		return fmt.Errorf("encode outbound frame: %w", err)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
	}
	if err := c.stream.SendMsg(&frame); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
	}
	return nil
}

func (c *grpcChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.sendMu.Lock()
	err := c.stream.CloseSend()
	c.sendMu.Unlock()
	c.cancel()
	return err
}

func (c *grpcChannel) readLoop(log *slog.Logger, handler contract.FrameHandler) {
	for {
		var frame structpb.Struct
		if err := c.stream.RecvMsg(&frame); err != nil {
			handler.OnClose(c.classify(log, err))
			return
		}
		data, err := protojson.Marshal(&frame)
		if err != nil {
			log.Debug("Unable to re-encode grpc frame", "error", err)
			continue
		}
		handler.OnFrame(data)
	}
}

func (c *grpcChannel) classify(log *slog.Logger, err error) error {
	if c.closed.Load() {
		return nil
	}
	c.cancel()
	if stderrors.Is(err, io.EOF) {
		return fmt.Errorf("%w: stream ended by server", errors.ErrTransportFailure)
	}
	log.Debug("Grpc stream read failed", "error", err)
	return classifyStatus(err)
}

func classifyStatus(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w", errors.ErrCredentialRejected, err)
	default:
		return fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
	}
}

// DefaultConnectBackoff mirrors the grpc defaults with a shorter ceiling.
var DefaultConnectBackoff = backoff.Config{
	BaseDelay:  100 * time.Millisecond,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   3 * time.Second,
}
