package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"pulseoracle/internal/config"
)

type Server struct {
	log logger.Logger
	srv *http.Server
}

func NewServer(log logger.Logger, cfg *config.HTTPConfig, handler http.Handler) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 10 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	return &Server{
		log: log,
		srv: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: readTimeout,
			// no WriteTimeout: /ws responses are open-ended streams
			IdleTimeout: idleTimeout,
		},
	}
}

func (s *Server) Addr() string {
	return s.srv.Addr
}

// Start blocks serving requests. A failure to bind is returned immediately;
// the caller treats it as fatal.
func (s *Server) Start() error {
	s.log.Infof("HTTP server listening on %s", s.srv.Addr)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
