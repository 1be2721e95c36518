package projection

import (
	"chat-sync/codec"
	"chat-sync/domain"
	"chat-sync/errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newTimeline() *Timeline {
	return NewTimeline(logs.GetLoggerFromLevel(slog.LevelDebug))
}

func frame(t *testing.T, raw string) codec.Frame {
	t.Helper()
	f, err := codec.Decode([]byte(raw))
	require.NoError(t, err)
	return f
}

func ids(messages []domain.Message) []string {
	return lo.Map(messages, func(m domain.Message, _ int) string { return m.ID })
}

func TestTimeline_History_Precedes_Live(t *testing.T) {
	req := require.New(t)
	timeline := newTimeline()
	now := time.Now()

	// Given a seeded timeline with h1
	req.NoError(timeline.Seed([]domain.Message{{ID: "h1", Role: domain.RoleUser, Content: "first"}}))

	// When l1 arrives, with a timestamp older than h1
	msg, admitted, err := timeline.AdmitLive(frame(t, `{"id":"l1","role":"agent","content":"hello","created_at":"2000-01-01T00:00:00Z"}`), now)

	// Then order is by source, never by timestamp
	req.NoError(err)
	req.True(admitted)
	req.Equal(domain.SourceLive, msg.Source)
	req.Equal([]string{"h1", "l1"}, ids(timeline.Snapshot()))
	req.Equal(domain.SourceHistory, timeline.Snapshot()[0].Source)
}

func TestTimeline_Duplicate_Live_Is_Dropped(t *testing.T) {
	req := require.New(t)
	timeline := newTimeline()
	req.NoError(timeline.Seed([]domain.Message{{ID: "m1", Role: domain.RoleUser, Content: "history copy"}}))

	// When the same id arrives live with different content
	_, admitted, err := timeline.AdmitLive(frame(t, `{"id":"m1","role":"user","content":"live copy"}`), time.Now())

	// Then the first copy wins
	req.NoError(err)
	req.False(admitted)
	req.Equal(1, timeline.Len())
	req.Equal("history copy", timeline.Snapshot()[0].Content)
}

func TestTimeline_Admit_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	timeline := newTimeline()
	req.NoError(timeline.Seed(nil))
	f := frame(t, `{"id":"x","role":"user","content":"once"}`)

	// When the same frame is admitted three times
	for range 3 {
		_, _, err := timeline.AdmitLive(f, time.Now())
		req.NoError(err)
	}

	// Then
	req.Equal(1, timeline.Len())
}

func TestTimeline_Live_Without_ID_Gets_Distinct_Synthesized_IDs(t *testing.T) {
	req := require.New(t)
	timeline := newTimeline()
	req.NoError(timeline.Seed(nil))
	now := time.Now()
	f := frame(t, `{"role":"agent","content":"streamed"}`)

	// When two broadcast frames without id arrive at the same instant
	m1, ok1, err1 := timeline.AdmitLive(f, now)
	m2, ok2, err2 := timeline.AdmitLive(f, now)

	// Then both are kept, in arrival order
	req.NoError(err1)
	req.NoError(err2)
	req.True(ok1)
	req.True(ok2)
	req.NotEqual(m1.ID, m2.ID)
	req.True(strings.HasPrefix(m1.ID, "live-1-"))
	req.True(strings.HasPrefix(m2.ID, "live-2-"))
	req.Equal([]string{m1.ID, m2.ID}, ids(timeline.Snapshot()))
}

func TestTimeline_Seed_Guards(t *testing.T) {
	req := require.New(t)
	timeline := newTimeline()

	// Given an unseeded timeline, live admission is refused
	_, _, err := timeline.AdmitLive(frame(t, `{"id":"l1","role":"user","content":"x"}`), time.Now())
	req.ErrorIs(err, errors.ErrNotSeeded)

	// When seeding twice
	req.NoError(timeline.Seed(nil))
	err = timeline.Seed(nil)

	// Then
	req.ErrorIs(err, errors.ErrAlreadySeeded)
	req.True(timeline.Seeded())
}

func TestTimeline_Seed_Removes_Duplicate_History_IDs(t *testing.T) {
	req := require.New(t)
	timeline := newTimeline()

	req.NoError(timeline.Seed([]domain.Message{
		{ID: "a", Content: "1"}, {ID: "b", Content: "2"}, {ID: "a", Content: "3"},
	}))

	req.Equal([]string{"a", "b"}, ids(timeline.Snapshot()))
	req.Equal("1", timeline.Snapshot()[0].Content)
}

func TestTimeline_Since(t *testing.T) {
	req := require.New(t)
	timeline := newTimeline()
	req.NoError(timeline.Seed([]domain.Message{{ID: "h1"}, {ID: "h2"}}))
	_, _, err := timeline.AdmitLive(frame(t, `{"id":"l1","role":"user","content":"x"}`), time.Now())
	req.NoError(err)

	req.Equal([]string{"l1"}, ids(timeline.Since(2)))
	req.Equal([]string{"h1", "h2", "l1"}, ids(timeline.Since(-1)))
	req.Nil(timeline.Since(3))
}

func TestTimeline_Snapshot_Is_A_Copy(t *testing.T) {
	req := require.New(t)
	timeline := newTimeline()
	req.NoError(timeline.Seed([]domain.Message{{ID: "h1", Content: "original"}}))

	snapshot := timeline.Snapshot()
	snapshot[0].Content = "mutated"

	req.Equal("original", timeline.Snapshot()[0].Content)
}
