package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/torosent/mechafeed/internal/config"
	"github.com/torosent/mechafeed/internal/httpsource"
	"github.com/torosent/mechafeed/internal/logging"
	"github.com/torosent/mechafeed/internal/rpcsource"
	"github.com/torosent/mechafeed/internal/source"
)

// runServe exposes the configured local source until ctx is done. ready, if
// set, receives the bound address once the listener is up.
func runServe(ctx context.Context, cfg *config.Config, stderr io.Writer, ready func(addr string)) error {
	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	logger = logger.With().Str("session", ulid.Make().String()).Logger()

	base, closeSource, err := openSource(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeSource()

	src := serveSource(base, cfg, logger)

	if ready == nil {
		ready = func(string) {}
	}
	logger.Info().Str("source", string(cfg.Source)).Str("transport", string(cfg.Transport)).Msg("serving records")

	switch cfg.Transport {
	case config.TransportHTTP:
		return serveHTTP(ctx, logger, cfg.Listen, src, ready)
	default:
		return serveRPC(ctx, logger, cfg.Listen, src, ready)
	}
}

// serveSource puts the raw cache in front of base so repeated client reads of
// the same position are answered locally.
func serveSource(base source.Source, cfg *config.Config, logger zerolog.Logger) source.Source {
	return source.Chain(base,
		func(s source.Source) source.Source { return source.WithRawCache(s, cfg.CacheSize, cfg.CacheTTL) },
		func(s source.Source) source.Source { return source.WithLogging(s, logger) },
	)
}

func serveRPC(ctx context.Context, logger zerolog.Logger, addr string, src source.Source, ready func(string)) error {
	srv := rpcsource.NewServer(logger, addr, src)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	ready(srv.Addr())
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func serveHTTP(ctx context.Context, logger zerolog.Logger, addr string, src source.Source, ready func(string)) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           httpsource.NewHandler(src, logger),
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info().Str("address", listener.Addr().String()).Msg("server started")
	ready(listener.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
