// Package projection builds the local timeline of a session.
// Handles ordering and deduplication between the history backfill and live frames.
// Does not emit events or interact with the transport directly.
package projection

import (
	"chat-sync/codec"
	"chat-sync/domain"
	"chat-sync/errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Timeline is the ordered, unique-by-id message list of one session instantiation.
// History always precedes live messages; arrival order is kept within each source.
type Timeline struct {
	mu       sync.RWMutex
	log      *slog.Logger
	messages []domain.Message
	index    map[string]int
	seeded   bool
	arrivals uint64
}

func NewTimeline(log *slog.Logger) *Timeline {
	return &Timeline{
		log:   log,
		index: make(map[string]int),
	}
}

// Seed installs the backfill. It must be called exactly once, before any live admission.
func (t *Timeline) Seed(history []domain.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seeded {
		return errors.ErrAlreadySeeded
	}
	unique := lo.UniqBy(history, func(m domain.Message) string { return m.ID })
	if skipped := len(history) - len(unique); skipped > 0 {
		t.log.Warn("Duplicate ids in history backfill", "skipped", skipped)
	}
	t.messages = make([]domain.Message, 0, len(unique))
	for _, m := range unique {
		m.Source = domain.SourceHistory
		t.index[m.ID] = len(t.messages)
		t.messages = append(t.messages, m)
	}
	t.seeded = true
	return nil
}

// AdmitLive appends a live frame unless a message with the same id is already present.
// The returned bool is false when the frame was dropped as a duplicate.
func (t *Timeline) AdmitLive(frame codec.Frame, receivedAt time.Time) (domain.Message, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seeded {
		return domain.Message{}, false, errors.ErrNotSeeded
	}
	t.arrivals++
	arrival := t.arrivals
	msg := frame.Normalize(domain.SourceLive, receivedAt, func(sentAt time.Time) string {
		return fmt.Sprintf("live-%d-%d", arrival, sentAt.UnixNano())
	})

	if i, ok := t.index[msg.ID]; ok {
		if existing := t.messages[i]; !existing.SameContent(msg) {
			t.log.Warn("Live message diverges from timeline copy, keeping first",
				"message_id", msg.ID, "kept_source", existing.Source)
		}
		return msg, false, nil
	}
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
	return msg, true, nil
}

// Snapshot returns a copy of the ordered timeline.
func (t *Timeline) Snapshot() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Message(nil), t.messages...)
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Since returns the messages appended after the first n.
func (t *Timeline) Since(n int) []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(t.messages) {
		return nil
	}
	return append([]domain.Message(nil), t.messages[n:]...)
}

func (t *Timeline) Seeded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seeded
}
