package domain

import "strings"

// SessionID identifies a named conversation scope.
type SessionID string

func (id SessionID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (id SessionID) String() string {
	return string(id)
}
