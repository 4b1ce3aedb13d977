// Package server wraps net/http with the timeouts and TLS posture the
// gateway exposes to the device fleet and operator clients.
package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"telemetry-gateway/internal/common/logging"
)

// Server is the gateway's HTTP listener.
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
}

// New creates a server. Field devices upload over constrained links, so
// read timeouts are generous relative to the payload cap.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
	}
}

// Start begins serving in a background goroutine. TLS is used when both
// certificate and key paths are configured.
func (s *Server) Start() error {
	serve := s.srv.ListenAndServe
	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		serve = func() error {
			return s.srv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		}
	}

	go func() {
		if err := serve(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server stopped unexpectedly", err)
		}
	}()
	return nil
}

// Shutdown stops accepting new requests and waits for in-flight ones
// until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
