// Package codec translates between wire frames and domain messages.
// Both the history payload items and the live frames share the same shape.
package codec

import (
	"bytes"
	"chat-sync/domain"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frame is a decoded inbound message, not yet normalized.
// A zero SentAt means the server timestamp was absent or unparseable.
type Frame struct {
	ID          string
	Role        domain.Role
	Content     string
	AuthorID    string
	AuthorLabel string
	SentAt      time.Time
	ToolCalls   json.RawMessage
}

type wireFrame struct {
	ID          json.RawMessage `json:"id"`
	Role        *string         `json:"role"`
	Content     *string         `json:"content"`
	UserID      json.RawMessage `json:"user_id"`
	AuthorID    json.RawMessage `json:"author_id"`
	Username    *string         `json:"username"`
	AuthorLabel *string         `json:"author_label"`
	CreatedAt   *string         `json:"created_at"`
	SentAt      *string         `json:"sent_at"`
	ToolCalls   json.RawMessage `json:"tool_calls"`
}

type outboundFrame struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Decode parses one frame. Every rejection wraps errors.ErrMalformedFrame.
func Decode(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, fmt.Errorf("%w: not a json object", errors.ErrMalformedFrame)
	}
	var w wireFrame
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}

	id, err := scalar(w.ID)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: id: %v", errors.ErrMalformedFrame, err)
	}
	authorID, err := scalar(firstPresent(w.UserID, w.AuthorID))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: author id: %v", errors.ErrMalformedFrame, err)
	}

	f := Frame{
		ID:          id,
		Role:        domain.RoleSystem,
		AuthorID:    authorID,
		AuthorLabel: deref(w.Username, w.AuthorLabel),
		SentAt:      parseTimestamp(deref(w.CreatedAt, w.SentAt)),
	}
	if w.Role != nil && strings.TrimSpace(*w.Role) != "" {
		f.Role = domain.ParseRole(*w.Role)
	}
	if w.Content != nil {
		f.Content = *w.Content
	}
	if hasToolCalls(w.ToolCalls) {
		f.ToolCalls = append(json.RawMessage(nil), w.ToolCalls...)
	}

	if f.Content == "" && f.Role != domain.RoleSystem && f.ToolCalls == nil {
		return Frame{}, fmt.Errorf("%w: empty %s message", errors.ErrMalformedFrame, f.Role)
	}
	return f, nil
}

// Normalize builds the domain message. fallbackID is called with the
// effective timestamp when the frame carries no id.
func (f Frame) Normalize(source domain.Source, receivedAt time.Time, fallbackID func(sentAt time.Time) string) domain.Message {
	sentAt := f.SentAt
	if sentAt.IsZero() {
		sentAt = receivedAt
	}
	id := f.ID
	if id == "" && fallbackID != nil {
		id = fallbackID(sentAt)
	}
	return domain.Message{
		ID:          id,
		Role:        f.Role,
		Content:     f.Content,
		AuthorID:    f.AuthorID,
		AuthorLabel: f.AuthorLabel,
		SentAt:      sentAt,
		Source:      source,
		ToolCalls:   f.ToolCalls,
	}
}

// EncodeOutbound builds the frame sent when the local user posts content.
func EncodeOutbound(content string) ([]byte, error) {
	return json.Marshal(outboundFrame{Role: domain.RoleUser, Content: content})
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// scalar accepts a JSON string or number and returns its textual form.
func scalar(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String(), nil
		}
	}
	return "", fmt.Errorf("expected string or number, got %s", raw)
}

func firstPresent(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if !isNull(v) {
			return v
		}
	}
	return nil
}

func deref(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func hasToolCalls(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	s := string(bytes.TrimSpace(raw))
	return s != "[]" && s != "{}"
}
