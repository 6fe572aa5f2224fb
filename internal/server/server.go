// Package server exposes the control endpoint of the daemon: JSON-RPC 2.0
// over HTTP and websocket, guarded by a bearer token.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP listener of the control endpoint.
type Server struct {
	addr string
	rpc  *RPCServer
	log  logger.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(addr string, rpc *RPCServer, l logger.Logger) *Server {
	return &Server{addr: addr, rpc: rpc, log: logger.OrNop(l)}
}

// Listen binds the listen address. Start calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	return ln.Addr(), nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	s.srv = &http.Server{
		Handler:           s.rpc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv, ln := s.srv, s.ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.Warning("RPC: shutdown: %v", err)
		}
	}()

	s.log.Info("RPC: listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
