package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const readHeaderTimeout = 10 * time.Second

// Server exposes exactly one file over HTTP. The file is reachable under its
// absolute path and under its basename; every other path is a 404. Files are
// opened through an os.Root fixed to the file's directory, so nothing outside
// that directory can be read even if the route check were bypassed.
type Server struct {
	filePath string
	base     string
	route    string
	root     *os.Root
	logger   *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

func New(filePath string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve media path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("media file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("media path %s is a directory", abs)
	}

	root, err := os.OpenRoot(filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("open media directory: %w", err)
	}

	return &Server{
		filePath: abs,
		base:     filepath.Base(abs),
		route:    RoutePath(abs),
		root:     root,
		logger:   logger,
	}, nil
}

// RoutePath is the URL path a file is served under: its absolute path in
// slash form, always with a single leading slash.
func RoutePath(absPath string) string {
	return "/" + strings.TrimPrefix(filepath.ToSlash(absPath), "/")
}

func (s *Server) Route() string {
	return s.route
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Get("/*", s.serveMedia)
	r.Head("/*", s.serveMedia)
	return r
}

// Start binds addr and serves in the background. The listener is bound
// before Start returns, so the receiver can connect as soon as it is told
// to play.
func (s *Server) Start(addr string) error {
	if s.httpServer != nil {
		return errors.New("media server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("media_server_failed", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("media_server_start", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown waits for in-flight responses until ctx is done and then closes
// the remaining connections. A receiver mid-stream keeps its connection open
// indefinitely, so the hard close is the normal path at teardown.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = s.httpServer.Close()
		}
		<-s.done
	}
	if closeErr := s.root.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (s *Server) serveMedia(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	f, err := s.root.Open(s.base)
	if err != nil {
		s.logger.Warn("media_open_failed", slog.String("error", err.Error()))
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "media unavailable", http.StatusInternalServerError)
		return
	}

	// ServeContent handles Range, If-Range and HEAD.
	http.ServeContent(w, r, s.base, info.ModTime(), f)
}

func (s *Server) allowed(requestPath string) bool {
	cleaned := path.Clean("/" + requestPath)
	return cleaned == s.route || cleaned == "/"+s.base
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("media_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("range", r.Header.Get("Range")),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("took", time.Since(start)),
		)
	})
}
