package ductserver

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

// Ducts is the engine side of the duct handshake.
type Ducts interface {
	Attach(ctx context.Context, name string) (string, error)
	Detach(ctx context.Context, name, session string) error
	Dequeue(ctx context.Context, name string) (*service.Outbound, error)
	XmitSucceeded(ctx context.Context, id domain.BundleID) error
	XmitFailed(ctx context.Context, id domain.BundleID) error
	XmitRefused(ctx context.Context, id domain.BundleID, reason domain.Reason) error
	Enqueue(ctx context.Context, raw []byte, senderNode uint64) (domain.BundleID, bool, error)
}

// DefaultWriteTimeout bounds writing one answer.
const DefaultWriteTimeout = 30 * time.Second

// Server is the duct socket server.
type Server struct {
	path         string
	ducts        Ducts
	logger       *slog.Logger
	writeTimeout time.Duration

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithWriteTimeout sets the per-answer write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// New creates a duct server on socketPath.
func New(socketPath string, ducts Ducts, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		path:         socketPath,
		ducts:        ducts,
		logger:       slog.Default(),
		writeTimeout: DefaultWriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		conns:        make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ductserver")
	return s
}

// ListenAndServe listens on the socket path and serves until Shutdown.
// A stale socket left by a previous run is removed.
func (s *Server) ListenAndServe() error {
	if fi, err := os.Lstat(s.path); err == nil && fi.Mode()&fs.ModeSocket != 0 {
		if err := os.Remove(s.path); err != nil {
			return err
		}
	}
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		l.Close()
		return err
	}
	return s.Serve(l)
}

// Serve accepts daemon connections on l.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.running.Store(true)
	s.logger.Info("duct server listening", "address", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Shutdown stops accepting, ends every session and waits for them to
// release their bundles.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	s.mu.Lock()
	s.cancel()
	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	sess := &session{
		s:        s,
		conn:     conn,
		br:       bufio.NewReader(conn),
		inflight: make(map[domain.BundleID]struct{}),
		logger:   s.logger,
	}
	defer sess.release()

	for {
		t, payload, err := ReadFrame(sess.br)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedFrame) || errors.Is(err, ErrFrameTooLarge) {
				s.logger.Warn("bad frame from daemon", "error", err)
				sess.replyError(domain.ErrMalformedFrame.WithDetails(err.Error()))
			}
			return
		}
		if err := sess.handle(t, payload); err != nil {
			s.logger.Debug("daemon connection closed", "duct", sess.duct, "error", err)
			return
		}
	}
}
