// Package server exposes a mounted game view over HTTP
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/auth"
	"github.com/anhbaysgalan1/homegame/internal/config"
	"github.com/anhbaysgalan1/homegame/internal/handlers"
	"github.com/anhbaysgalan1/homegame/internal/hub"
	custommiddleware "github.com/anhbaysgalan1/homegame/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

type LedgerServer struct {
	config              *config.Config
	view                handlers.ViewSession
	viewOptions         []handlers.ViewOption
	hub                 *hub.Hub
	apiRateLimiter      *custommiddleware.RateLimiter
	mutationRateLimiter *custommiddleware.RateLimiter
	server              *http.Server
	logger              *slog.Logger

	// cancelled on shutdown so open event streams end
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewLedgerServer(cfg *config.Config, view handlers.ViewSession, logger *slog.Logger, opts ...handlers.ViewOption) *LedgerServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &LedgerServer{
		config:              cfg,
		view:                view,
		viewOptions:         append([]handlers.ViewOption{handlers.WithViewLogger(logger)}, opts...),
		apiRateLimiter:      custommiddleware.NewAPIRateLimiter(),
		mutationRateLimiter: custommiddleware.NewMutationRateLimiter(),
		hub:                 hub.New(view, logger),
		logger:              logger,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	return s
}

// Run serves until ctx is cancelled or the listener fails, then shuts down
func (s *LedgerServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener
func (s *LedgerServer) Serve(ctx context.Context, listener net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting ledger server", "addr", listener.Addr().String())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.hub.Run(ctx)
	})

	g.Go(func() error {
		return s.hub.Feed(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

func (s *LedgerServer) Shutdown() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.cancelBase()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", "error", err)
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	s.apiRateLimiter.Close()
	s.mutationRateLimiter.Close()

	s.logger.Info("Server shutdown complete")
	return nil
}

func (s *LedgerServer) Router() chi.Router {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.apiRateLimiter.RateLimit)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health(s.view))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.OptionalIdentity)

		viewHandler := handlers.NewViewHandler(s.view, s.viewOptions...)
		r.Mount("/view", viewHandler.Routes(s.mutationRateLimiter.RateLimit))

		// live updates and edits over a websocket
		r.Get("/ws", s.hub.ServeWs)
	})

	return r
}
