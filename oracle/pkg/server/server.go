// Package server exposes the oracle over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	limiter *RateLimiter
	router  chi.Router
	metrics http.Handler
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		metrics: promhttp.Handler(),
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitPerMinute)
	}
	s.router = s.routes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/metrics", s.handleMetrics)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Get("/oracle", s.handleOracle)
		r.Get("/rewards", s.handleWalletRewards)
		r.Get("/active-devices", s.handleActiveDevices)
		r.Get("/", s.handleCurrentRewards)
		r.Post("/bulk-rewards", s.handleBulkRewards)

		r.Post("/", s.handleSign)
		r.Post("/bulk-sign", s.handleBulkSign)
		r.Post("/v1/sign", s.handleSignClaimMessages)

		r.Route("/v1/tuktuk", func(r chi.Router) {
			r.Post("/asset/{assetId}", s.handleTuktukAsset)
			r.Post("/kta/{keyToAsset}", s.handleTuktukKeyToAsset)
			r.Post("/wallet/{wallet}", s.handleTuktukWallet)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Run(ctx)
			return nil
		})
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer shutdownCancel()
			if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown server: %w", err)
			}
			s.log.Info("server: http server shutdown complete")
			return nil
		case err := <-serveErrCh:
			s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
			return err
		}
	})

	return g.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write health response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	s.cfg.RewardsCache.RefreshIfStale(ctx)
	s.metrics.ServeHTTP(w, r)
}

type oracleResponse struct {
	Oracle          string `json:"oracle"`
	OracleIndex     uint16 `json:"oracleIndex"`
	LazyDistributor string `json:"lazyDistributor"`
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, oracleResponse{
		Oracle:          s.cfg.Oracle.String(),
		OracleIndex:     s.cfg.OracleIndex,
		LazyDistributor: s.cfg.LazyDistributor.String(),
	})
}
