package rpcsource

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/rs/zerolog"

	"github.com/torosent/mechafeed/internal/source"
)

// Server exposes a source.Source over JSON-RPC.
type Server struct {
	logger zerolog.Logger
	srv    *http.Server
	rpc    *jsonrpc.RPCServer

	mu       sync.Mutex
	listener net.Listener
	started  atomic.Bool
}

// recordsAPI provides the actual RPC methods.
type recordsAPI struct {
	logger zerolog.Logger
	src    source.Source
}

// TotalCount implements the RPC method.
func (a *recordsAPI) TotalCount(ctx context.Context) (uint64, error) {
	a.logger.Debug().Msg("RPC server: TotalCount called")
	return a.src.TotalCount(ctx)
}

// RawDataAt implements the RPC method.
func (a *recordsAPI) RawDataAt(ctx context.Context, position uint64) ([]byte, error) {
	a.logger.Debug().Uint64("position", position).Msg("RPC server: RawDataAt called")
	raw, err := a.src.RawDataAt(ctx, position)
	if err != nil {
		return nil, err
	}
	return raw.Payload, nil
}

// NewServer creates a server for src listening on addr once started.
func NewServer(logger zerolog.Logger, addr string, src source.Source) *Server {
	rpc := jsonrpc.NewServer()
	s := &Server{
		logger: logger,
		rpc:    rpc,
		srv: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 2 * time.Second,
		},
	}
	s.srv.Handler = http.HandlerFunc(rpc.ServeHTTP)
	rpc.Register(Namespace, &recordsAPI{logger: logger, src: src})
	return s
}

// Handler returns the JSON-RPC handler, for mounting in another server.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens and serves in the background. Calling Start on a running
// server is a no-op.
func (s *Server) Start(context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("cannot start server: already started")
		return nil
	}
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		s.started.Store(false)
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().Str("address", listener.Addr().String()).Msg("server started")
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// Stop shuts the server down. Calling Stop on a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.started.CompareAndSwap(true, false) {
		s.logger.Warn().Msg("cannot stop server: already stopped")
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	s.logger.Info().Msg("server stopped")
	return nil
}
