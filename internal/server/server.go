package server

import (
	"context"
	"net/http"
	"time"
)

type Server struct {
	http *http.Server
}

func New(cfg RouterConfig, address string) *Server {
	return &Server{
		http: &http.Server{
			Addr:              address,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Run() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
