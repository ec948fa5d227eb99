package gateway

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/protojour/pymoriam/errors"
)

// ServerConfig configures the process listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TLS serves HTTPS when set.
	TLS *tls.Config
}

// Server owns the process listener. It serves once: after Stop or the end
// of Start's context it cannot be started again.
type Server struct {
	cfg    ServerConfig
	http   *http.Server
	logger *slog.Logger

	mu      sync.Mutex
	addr    net.Addr
	running bool
}

// NewServer serves handler on cfg.Addr, :5002 when empty.
func NewServer(cfg ServerConfig, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer", "handler is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5002"
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "http-server"),
		http: &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			TLSConfig:    cfg.TLS,
		},
	}, nil
}

// Start binds the listener, closes ready and serves until ctx is done or
// Stop is called. Both end with a nil error.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	ln, err := s.bind()
	if err != nil {
		return err
	}
	s.logger.Info("Server starting", "address", ln.Addr().String(), "tls", s.cfg.TLS != nil)
	if ready != nil {
		close(ready)
	}

	served := make(chan error, 1)
	go func() { served <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		err := s.Stop(30 * time.Second)
		<-served
		return err
	case err := <-served:
		s.setRunning(false)
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WrapFatal(err, "Server", "Start", "serve")
	}
}

func (s *Server) bind() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "bind")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, errors.WrapFatal(err, "Server", "Start", "listen")
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	s.running, s.addr = true, ln.Addr()
	return ln, nil
}

// Stop lets in-flight requests finish within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.IsRunning() {
		return nil
	}
	s.logger.Info("Server stopping")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.setRunning(false)
	if err != nil {
		s.logger.Error("Server did not shut down gracefully", "error", err)
		return errors.WrapTransient(err, "Server", "Stop", "graceful shutdown")
	}
	s.logger.Info("Server stopped")
	return nil
}

// Addr is the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}
