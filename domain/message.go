// Package domain contains core concepts of the chat session client.
// This file defines Message and its role enumeration.
// Messages are immutable once they have been reconciled into a timeline.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
	// RoleOther is the generic bubble every unknown role folds into.
	RoleOther Role = "other"
)

// ParseRole never fails: unknown values fold to RoleOther.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser
	case RoleAgent:
		return RoleAgent
	case RoleSystem:
		return RoleSystem
	default:
		return RoleOther
	}
}

type Source string

const (
	SourceHistory Source = "history"
	SourceLive    Source = "live"
)

// Message represents an immutable chat message.
// AuthorLabel is the raw display name sent by the server; resolving it to
// "You" is left to the consumer.
type Message struct {
	ID          string
	Role        Role
	Content     string
	AuthorID    string
	AuthorLabel string
	SentAt      time.Time
	Source      Source
	ToolCalls   json.RawMessage
}

func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}

// SameContent reports whether two copies of a message carry the same payload.
func (m Message) SameContent(other Message) bool {
	return m.Role == other.Role &&
		m.Content == other.Content &&
		m.AuthorID == other.AuthorID
}
