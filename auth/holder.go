package auth

import "sync"

// TokenHolder is an in-memory credential source.
// Every Set that changes the token signals Changed once; signals coalesce.
type TokenHolder struct {
	mu      sync.RWMutex
	token   string
	changed chan struct{}
}

func NewTokenHolder(token string) *TokenHolder {
	return &TokenHolder{token: token, changed: make(chan struct{}, 1)}
}

func (h *TokenHolder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Set replaces the token. An empty token means logout.
func (h *TokenHolder) Set(token string) {
	h.mu.Lock()
	if h.token == token {
		h.mu.Unlock()
		return
	}
	h.token = token
	h.mu.Unlock()

	select {
	case h.changed <- struct{}{}:
	default:
	}
}

func (h *TokenHolder) Changed() <-chan struct{} {
	return h.changed
}
