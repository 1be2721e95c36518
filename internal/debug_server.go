package internal

import (
	"chat-sync/domain"
	"context"
	"embed"
	stderrors "errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

//go:embed inspect.html
var templatesFS embed.FS

// SessionView is the read side of the engine shown by the debug server.
type SessionView interface {
	SessionID() domain.SessionID
	Generation() uint64
	State() domain.ConnectionState
	TimelineSince(n int) []domain.Message
}

type InspectRow struct {
	ID        string
	Role      string
	Author    string
	Timestamp string
	Source    string
	Content   string
}

type PageData struct {
	SessionID  string
	Generation uint64
	State      string
	From       int
	Items      []InspectRow
}

// NewDebugRouter serves the prometheus metrics on /metrics and the current
// timeline on /inspect. /inspect?from=N skips the first N messages.
func NewDebugRouter(gatherer prometheus.Gatherer, view SessionView) *mux.Router {
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		from, err := strconv.Atoi(r.URL.Query().Get("from"))
		if err != nil || from < 0 {
			from = 0
		}
		data := PageData{
			SessionID:  view.SessionID().String(),
			Generation: view.Generation(),
			State:      string(view.State()),
			From:       from,
			Items:      lo.Map(view.TimelineSince(from), func(m domain.Message, _ int) InspectRow { return ToRow(m) }),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	}).Methods(http.MethodGet)
	return router
}

// ServeDebug runs the debug router on addr until ctx is done.
func ServeDebug(ctx context.Context, log *slog.Logger, addr string, handler http.Handler) error {
	server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting debug server", "address", addr)
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func ToRow(m domain.Message) InspectRow {
	row := InspectRow{
		ID:        m.ID,
		Role:      string(m.Role),
		Author:    m.AuthorLabel,
		Timestamp: "--:--:--",
		Source:    string(m.Source),
		Content:   m.Content,
	}
	if row.Author == "" {
		row.Author = m.AuthorID
	}
	if !m.SentAt.IsZero() {
		row.Timestamp = m.SentAt.UTC().Format("15:04:05")
	}
	if len(row.ID) > 8 {
		row.ID = row.ID[:8]
	}
	return row
}
