package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/sync/semaphore"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("tcpserver: server closed")

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Handler serves one accepted connection. It owns conn from the moment
// ServeConn is called and must close it.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

type HandlerFunc func(ctx context.Context, conn net.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

type Option func(*Server)

// WithMaxSessions caps the number of concurrently served connections.
// Zero or a negative value keeps concurrency unbounded.
func WithMaxSessions(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
			s.sessions = semaphore.NewWeighted(n)
		}
	}
}

// Server is a TCP accept loop with per-connection goroutines.
type Server struct {
	addr        string
	handler     Handler
	logger      *slog.Logger
	maxSessions int64
	sessions    *semaphore.Weighted

	mutex       sync.Mutex
	listener    net.Listener
	stopAcquire context.CancelFunc
	closed      bool
}

// New creates a Server for addr. The address is validated before any socket
// is opened.
func New(addr string, handler Handler, logger *slog.Logger, opts ...Option) (*Server, error) {
	if err := validateHost(addr); err != nil {
		return nil, err
	}

	s := &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start binds the configured address and serves it. It returns nil after a
// clean Close and an error if binding fails or the listener becomes unusable.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	err = s.Serve(ctx, ln)
	if err != nil && !errors.Is(err, ErrServerClosed) {
		return err
	}

	return nil
}

// Serve accepts connections on ln until Close is called, ctx is cancelled, or
// the listener fails. Connections are served with ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	// Waiting for a session slot must end on Close as well as on ctx.
	acquireCtx, stopAcquire := context.WithCancel(ctx)
	s.listener = ln
	s.stopAcquire = stopAcquire
	s.mutex.Unlock()

	defer stopAcquire()
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("listener started",
		slog.String("address", ln.Addr().String()),
		slog.Int64("max_sessions", s.maxSessions))

	var backoff time.Duration

	for {
		if err := s.acquire(acquireCtx); err != nil {
			return ErrServerClosed
		}

		conn, err := ln.Accept()
		if err != nil {
			s.release()

			if s.isClosed() {
				return ErrServerClosed
			}

			if isListenerFatal(err) {
				return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
			}

			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed",
				slog.Any("err", err),
				slog.Duration("retry_in", backoff))

			select {
			case <-time.After(backoff):
			case <-acquireCtx.Done():
				return ErrServerClosed
			}
			continue
		}

		backoff = 0
		go s.serveConn(ctx, conn)
	}
}

// Close stops accepting, including a Serve that is waiting for a free session
// slot. Sessions already handed to the handler are not waited for.
func (s *Server) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.stopAcquire != nil {
		s.stopAcquire()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.release()
	s.handler.ServeConn(ctx, conn)
}

func (s *Server) acquire(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Acquire(ctx, 1)
}

func (s *Server) release() {
	if s.sessions != nil {
		s.sessions.Release(1)
	}
}

func (s *Server) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

// isListenerFatal reports whether err means the listening socket itself is
// gone, as opposed to a failure tied to a single pending connection.
func isListenerFatal(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EBADF) ||
		errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTSOCK)
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}

	current *= 2
	if current > maxAcceptBackoff {
		current = maxAcceptBackoff
	}
	return current
}

func validateHost(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cant be empty")
	}

	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return validation.NewError("validation_invalid_port", "port must be between 0 and 65535")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
