package httpserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/infra/tlsroots"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	certs      *certReloader
	clientCAs  *x509.CertPool
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClientCAs makes the TLS listener require client certificates issued
// by one of pool.
func WithClientCAs(pool *x509.CertPool) Option {
	return func(s *Server) {
		s.clientCAs = pool
	}
}

// New creates a new HTTP server.
func New(addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer.ErrorLog = slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn)
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	return s.httpServer.Serve(l)
}

// ListenAndServeTLS starts the HTTPS server. The certificate pair is
// reloaded when either file changes.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	addr := s.httpServer.Addr
	if addr == "" {
		addr = ":https"
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeTLS(l, certFile, keyFile)
}

// ServeTLS accepts TLS connections on l.
func (s *Server) ServeTLS(l net.Listener, certFile, keyFile string) error {
	certs, err := newCertReloader(certFile, keyFile, s.logger)
	if err != nil {
		l.Close()
		return err
	}
	s.certs = certs
	s.httpServer.TLSConfig = &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: certs.GetCertificate,
	}
	if s.clientCAs != nil {
		tlsroots.RequireClientCerts(s.httpServer.TLSConfig, s.clientCAs)
	}
	return s.httpServer.ServeTLS(l, "", "")
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.certs != nil {
		err = errors.Join(err, s.certs.Close())
	}
	return err
}
