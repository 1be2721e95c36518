// Package history fetches the one-time backfill of a session over HTTP.
package history

import (
	"chat-sync/codec"
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/samber/lo"
)

const DefaultLimit = 200

// Loader performs a single GET per call and never retries: the engine decides
// what a failed backfill means.
type Loader struct {
	log     *slog.Logger
	client  *http.Client
	baseURL *url.URL
	limit   int
	now     func() time.Time
}

func NewLoader(log *slog.Logger, apiURL string, limit int, timeout time.Duration) (*Loader, error) {
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", apiURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", apiURL)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Loader{
		log:     log,
		client:  &http.Client{Timeout: timeout},
		baseURL: base,
		limit:   limit,
		now:     time.Now,
	}, nil
}

// Load returns the session messages oldest first.
// Every failure wraps errors.ErrHistoryUnavailable.
func (l *Loader) Load(ctx context.Context, sessionID domain.SessionID, token string) ([]domain.Message, error) {
	endpoint := l.endpoint(sessionID)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrHistoryUnavailable, err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")

	response, err := l.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrHistoryUnavailable, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", errors.ErrHistoryUnavailable, response.StatusCode)
	}

	var items []json.RawMessage
	if err = json.NewDecoder(response.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", errors.ErrHistoryUnavailable, err)
	}

	frames := make([]codec.Frame, 0, len(items))
	for i, item := range items {
		f, err := codec.Decode(item)
		if err != nil {
			l.log.Warn("Skipping malformed history item", "session_id", sessionID, "position", i, "error", err)
			continue
		}
		frames = append(frames, f)
	}
	if isDescending(frames) {
		slices.Reverse(frames)
	}

	receivedAt := l.now()
	messages := lo.Map(frames, func(f codec.Frame, i int) domain.Message {
		return f.Normalize(domain.SourceHistory, receivedAt, func(sentAt time.Time) string {
			return fmt.Sprintf("history-%d-%d", i, sentAt.UnixNano())
		})
	})
	l.log.Debug("History loaded", "session_id", sessionID, "count", len(messages))
	return messages, nil
}

func (l *Loader) endpoint(sessionID domain.SessionID) string {
	u := l.baseURL.JoinPath("sessions", sessionID.String(), "messages")
	q := u.Query()
	q.Set("limit", strconv.Itoa(l.limit))
	q.Set("order_desc", "false")
	u.RawQuery = q.Encode()
	return u.String()
}

// isDescending compares the first and last server timestamps.
func isDescending(frames []codec.Frame) bool {
	stamped := lo.Filter(frames, func(f codec.Frame, _ int) bool { return !f.SentAt.IsZero() })
	if len(stamped) < 2 {
		return false
	}
	return stamped[0].SentAt.After(stamped[len(stamped)-1].SentAt)
}
