// Package api implements spec.md §6's HTTP/WS signalling surface: the
// browser client creates a session, exchanges SDP and ICE candidates,
// triggers the console handshake, and polls stream health, all against
// a pkg/session.Manager. Grounded on pkg/api/server.go's middleware,
// responseWriter, and timeout conventions; route dispatch uses Go
// 1.22+'s method-and-wildcard ServeMux patterns instead of the
// teacher's manual prefix-trimming, since this module already targets
// go 1.24.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethan/remote-play-relay/pkg/config"
	"github.com/ethan/remote-play-relay/pkg/logger"
	"github.com/ethan/remote-play-relay/pkg/session"
)

// Server exposes §6's route list over the session Manager.
type Server struct {
	mgr        *session.Manager
	cfg        *config.Config
	httpServer *http.Server
}

// NewServer builds an API server bound to mgr. cfg supplies the
// turn-config response; the Manager itself owns signalling.Config.
func NewServer(mgr *session.Manager, cfg *config.Config) *Server {
	return &Server{mgr: mgr, cfg: cfg}
}

// Start builds the route table and serves it on addr. It returns the
// listener's error if it fails within 100ms, and nil after that wait
// otherwise; it does not confirm that the listener is up.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/answer", s.handleSetAnswer)
	mux.HandleFunc("POST /sessions/{id}/candidates", s.handleAddCandidate)
	mux.HandleFunc("GET /sessions/{id}/candidates", s.handleGetCandidates)
	mux.HandleFunc("POST /sessions/{id}/connect-stream", s.handleConnectStream)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleStopSession)
	mux.HandleFunc("POST /playstation/stop-session", s.handleStopSessionByQuery)
	mux.HandleFunc("POST /sessions/{id}/keyframe", s.handleKeyframe)
	mux.HandleFunc("GET /sessions/{id}/stream-health", s.handleStreamHealth)
	mux.HandleFunc("GET /turn-config", s.handleTURNConfig)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           withLogging(withCORS(mux)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("signalling HTTP server error", "error", err)
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		logger.Info("signalling HTTP server started", "address", addr)
		return nil
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
