// ABOUTME: HTTP server wiring: router construction and lifecycle.
// ABOUTME: Routes map the session API onto the pipeline executor and the session index.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seqmill/seqmill/pipeline"
	"github.com/seqmill/seqmill/store"
)

// Server exposes the session API.
type Server struct {
	Addr           string
	MaxUploadBytes int64
	Exec           *pipeline.Executor
	Index          *store.SessionIndex
	Log            *slog.Logger
}

// NewServer builds a server over an executor and session index.
func NewServer(addr string, exec *pipeline.Executor, index *store.SessionIndex, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Addr:           addr,
		MaxUploadBytes: 1 << 30,
		Exec:           exec,
		Index:          index,
		Log:            log,
	}
}

// Router assembles the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(s.Log))
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/health", s.handleHealth)
	r.Get("/sessions", s.handleListSessions)

	r.Post("/session/start", s.handleStartSession)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/units", s.handleListUnits)
		r.Post("/upload", s.handleUpload)
		r.Post("/upload-aux", s.handleUploadAux)
		r.Post("/run", s.handleRun)
		r.Get("/state", s.handleState)
		r.Get("/download/{artifact}", s.handleDownload)
		r.Get("/log/{step}", s.handleStepLog)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully. Write
// timeouts stay disabled because a run request blocks for as long as its
// tool invocation does.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.Log.Info("listening", "addr", s.Addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
