package main

import (
	"bufio"
	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/history"
	"chat-sync/internal"
	"chat-sync/live"
	"chat-sync/observability"
	"chat-sync/runtime"
	"chat-sync/sink"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newJoinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "join <session-id>",
		Short: "Follow a session and send each stdin line as a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.join(ctx, domain.SessionID(args[0]), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) join(ctx context.Context, sessionID domain.SessionID, in io.Reader, out io.Writer) error {
	if sessionID.IsZero() {
		return errors.ErrInvalidSession
	}
	config := a.config

	loader, err := history.NewLoader(a.log, config.APIURL, config.HistoryLimit, config.HistoryTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	transport, closeTransport, err := newTransport(a.log, config)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	defer func() { _ = closeTransport() }()

	registry := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		return err
	}

	var engine *runtime.Engine
	p := newPrinter(out, func() string { return engine.CurrentUserID() })
	events := sink.NewChannel(config.BufferSize)
	engine = runtime.NewEngine(a.log, loader, transport, runtime.Options{
		Backoff:          config.Backoff(),
		Metrics:          metrics,
		Sinks:            []contract.EventSink{events, sink.NewNotifier(p.Notify)},
		BufferSize:       config.BufferSize,
		SinkTimeout:      config.SinkTimeout,
		RestartInterval:  config.RestartInterval,
		DegradedGrace:    config.DegradedGrace,
		MaxContentRunes:  config.MaxContentLength,
		LatencyThreshold: config.LatencyThreshold,
	})
	credentials := auth.NewTokenHolder(config.Token)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runtime.Follow(gctx, engine, sessionID, credentials)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case e := <-events.Events:
				p.Event(e)
			}
		}
	})
	g.Go(func() error {
		return a.reloadOnHangup(gctx, credentials)
	})
	g.Go(func() error {
		return sendLines(gctx, engine, readLines(gctx, in), p)
	})
	if config.MetricsAddr != "" {
		g.Go(func() error {
			return internal.ServeDebug(gctx, a.log, config.MetricsAddr, internal.NewDebugRouter(registry, engine))
		})
	}
	return g.Wait()
}

func newTransport(log *slog.Logger, config internal.Config) (contract.Transport, func() error, error) {
	switch config.Transport {
	case internal.TransportGRPC:
		t, err := live.NewGRPCTransport(log, config.GRPCAddr, live.DefaultConnectBackoff)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	default:
		t, err := live.NewWebSocketTransport(log, config.LiveBaseURL(), config.DialTimeout, config.WriteTimeout)
		if err != nil {
			return nil, nil, err
		}
		return t, func() error { return nil }, nil
	}
}

// reloadOnHangup re-reads CHAT_TOKEN from the dotenv file on every SIGHUP.
func (a *app) reloadOnHangup(ctx context.Context, credentials *auth.TokenHolder) error {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hangup:
			token, err := internal.ReadToken(a.envFile)
			if err != nil {
				a.log.Warn("Credential reload failed", "file", a.envFile, "error", err)
				continue
			}
			a.log.Info("Credential reloaded", "file", a.envFile, "empty", token == "")
			credentials.Set(token)
		}
	}
}

// readLines scans in until EOF or until a line is read after ctx is done.
// A blocked stdin read cannot be interrupted.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

type sender interface {
	Send(ctx context.Context, content string) error
}

func sendLines(ctx context.Context, engine sender, lines <-chan string, p *printer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			err := engine.Send(ctx, line)
			switch {
			case err == nil:
			case stderrors.Is(err, errors.ErrNotOpen):
				p.Notify(sink.Notification{Level: sink.LevelWarning, Text: "Not connected, message not sent."})
			default:
				p.Notify(sink.Notification{Level: sink.LevelError, Text: fmt.Sprintf("Message not sent: %v", err)})
			}
		}
	}
}
