package live

import (
	"chat-sync/domain"
	"fmt"
	"net/url"
)

// BaseURL derives the websocket origin from the HTTP API base:
// http becomes ws and https becomes wss. The path prefix is kept.
func BaseURL(apiURL string) (*url.URL, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", apiURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid url %q: unsupported scheme %q", apiURL, u.Scheme)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// SessionURL is the session-scoped live address. The token travels as a
// connection credential in the query string, never inside a frame.
func SessionURL(base *url.URL, sessionID domain.SessionID, token string) string {
	u := base.JoinPath("ws", "sessions", sessionID.String())
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
