package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/observability"
)

// NewRouter wires the status routes and middleware around h.
func NewRouter(h *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.HandleFunc("/session", h.GetSession).Methods("GET")
	router.HandleFunc("/locations", h.GetLocations).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")
	return router
}

// Server runs the status router on a local address.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
	errc   chan error
}

// Listen binds addr. Use ":0" or "127.0.0.1:0" for an ephemeral port.
func Listen(addr string, handler http.Handler, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		srv: &http.Server{
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		ln:     ln,
		logger: observability.OrNop(logger),
		errc:   make(chan error, 1),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve starts serving in the background. Errors other than a clean shutdown
// are delivered on the returned channel.
func (s *Server) Serve() <-chan error {
	go func() {
		s.logger.Info("status server starting", zap.String("addr", s.Addr()))
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
		close(s.errc)
	}()
	return s.errc
}

// Shutdown stops accepting requests and waits for active ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
