package runtime

import (
	"chat-sync/auth"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFollow_Reopens_On_Credential_Change(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	transport := newFakeTransport()
	engine := newTestEngine(t, &fakeLoader{}, transport, newManualScheduler(), rec)
	credentials := auth.NewTokenHolder("first")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	// Given a followed session
	go func() { done <- Follow(ctx, engine, "s1", credentials) }()
	first := transport.nextChannel(t)
	waitState(t, engine, domain.StateOpen)

	// When the credential is refreshed
	credentials.Set("second")

	// Then the session is re-opened with it
	transport.nextChannel(t)
	require.Eventually(t, func() bool { return engine.Generation() == 2 }, waitFor, 5*time.Millisecond)
	req.True(first.closed.Load())
	transport.mu.Lock()
	req.Equal("second", transport.targets[1].Token)
	transport.mu.Unlock()

	// When the user logs out
	credentials.Set("")

	// Then the session is closed
	waitState(t, engine, domain.StateClosed)

	// When the credential comes back, then cancelled
	credentials.Set("third")
	rec.waitCount(t, event.HistoryLoadedType, 3)
	cancel()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(waitFor):
		req.Fail("Follow did not return")
	}
	req.Equal(domain.StateClosed, engine.State())
}

func TestFollow_Waits_When_Credential_Refused(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	transport := newFakeTransport()
	engine := newTestEngine(t, &fakeLoader{}, transport, newManualScheduler(), rec)
	expired, err := auth.GenerateToken("u1", nil, -time.Minute, []byte("k"))
	req.NoError(err)
	credentials := auth.NewTokenHolder(expired)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	// Given an expired credential
	go func() { done <- Follow(ctx, engine, "s1", credentials) }()

	// Then nothing connects until a usable one shows up
	req.Never(func() bool { return transport.attempts() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	credentials.Set("fresh")
	transport.nextChannel(t)
	waitState(t, engine, domain.StateOpen)

	cancel()
	req.NoError(<-done)
}
