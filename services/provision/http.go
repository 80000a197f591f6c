package provision

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// maxFieldBytes bounds one field value; credentials are short strings.
const maxFieldBytes = 4 << 10

// HTTPTransport serves the provisioning API on the setup network.
type HTTPTransport struct {
	Addr string
	log  *slog.Logger
}

func NewHTTPTransport(addr string, log *slog.Logger) *HTTPTransport {
	return &HTTPTransport{Addr: addr, log: log.With("service", "provision.http")}
}

func (t *HTTPTransport) Serve(ctx context.Context, g *Gateway) error {
	r := mux.NewRouter()
	r.HandleFunc("/provision/status", t.handleStatus(g)).Methods(http.MethodGet)
	r.HandleFunc("/provision/commit", t.handleCommit(g)).Methods(http.MethodPost)
	r.HandleFunc("/provision/{field}", t.handleField(g)).Methods(http.MethodPut)

	srv := &http.Server{
		Addr:              t.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (t *HTTPTransport) handleField(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		field := mux.Vars(r)["field"]
		body, err := io.ReadAll(io.LimitReader(r.Body, maxFieldBytes))
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}
		if err := g.Apply(field, string(body)); err != nil {
			t.log.Warn("field rejected", "field", field, "err", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (t *HTTPTransport) handleCommit(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.Commit(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (t *HTTPTransport) handleStatus(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session":  g.Session(),
			"fields":   g.Fields(),
			"complete": g.Complete(),
		})
	}
}
