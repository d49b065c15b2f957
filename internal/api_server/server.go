// Package api_server assembles the HTTP server: router, middleware
// stack, health endpoints and graceful shutdown.
package api_server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/signalbeam/signalbeam/internal/config"
	"github.com/signalbeam/signalbeam/internal/instrumentation"
	"github.com/signalbeam/signalbeam/internal/service"
	"github.com/signalbeam/signalbeam/internal/store"
	"github.com/signalbeam/signalbeam/internal/transport"
	"github.com/sirupsen/logrus"
)

const gracefulShutdownTimeout = 30 * time.Second

type Server struct {
	log     logrus.FieldLogger
	cfg     *config.Config
	store   store.Store
	handler *service.ServiceHandler
}

func New(log logrus.FieldLogger, cfg *config.Config, st store.Store, handler *service.ServiceHandler) *Server {
	return &Server{log: log, cfg: cfg, store: st, handler: handler}
}

func (s *Server) Router() chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(time.Duration(s.cfg.Service.RequestTimeoutSec) * time.Second))
	router.Use(transport.RequestLogger(s.log))
	router.Use(transport.Metrics)

	router.Get("/health", s.healthCheck)
	router.Get("/health/live", s.livenessCheck)
	router.Get("/health/ready", s.readinessCheck)
	router.Method(http.MethodGet, "/metrics", instrumentation.Handler())

	transport.NewHandler(s.handler, s.cfg, s.log).Register(router)
	return router
}

// Run serves until the context is cancelled, then drains in-flight
// requests for up to the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Service.Address,
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.cfg.Service.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Service.RequestTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.cfg.Service.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
