package visualization

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nvandessel/cablex/internal/morph"
)

// Source loads the cell to show. It is called on every request so that a
// cell file edited on disk shows up on reload.
type Source func(ctx context.Context) (*morph.Cell, Options, error)

// Server serves a cell as HTML, DOT and JSON.
type Server struct {
	source     Source
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
	addr       string
}

// NewServer creates a new cell visualization server.
func NewServer(source Source) *Server {
	return &Server{source: source}
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle(FormatHTML, "text/html; charset=utf-8"))
	mux.HandleFunc("/graph.dot", s.handle(FormatDOT, "text/vnd.graphviz; charset=utf-8"))
	mux.HandleFunc("/graph.json", s.handle(FormatJSON, "application/json"))
	return mux
}

// ListenAndServe starts the HTTP server on an OS-assigned port and blocks
// until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handle(f Format, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f == FormatHTML && r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		c, opts, err := s.source(r.Context())
		if err != nil {
			http.Error(w, "load error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		body, err := Render(c, opts, f)
		if err != nil {
			http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}
}
