package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropmesh/relay-hub/internal/config"
	"github.com/dropmesh/relay-hub/internal/health"
	"github.com/dropmesh/relay-hub/internal/hub"
	"github.com/dropmesh/relay-hub/internal/identity"
	"github.com/dropmesh/relay-hub/internal/logs"
	"github.com/dropmesh/relay-hub/internal/metrics"
	"github.com/dropmesh/relay-hub/internal/rendezvous"
	"github.com/dropmesh/relay-hub/internal/ws"
	"go.uber.org/zap"
)

func main() {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger := logs.New(cfg.LogLevel)
	defer logger.Sync()

	metrics.Init()

	h := hub.New(cfg, logger)
	defer h.Shutdown()

	idr := identity.NewResolver(cfg.PeerIDCookieName, cfg.TrustProxyHeader)

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Healthz())
	mux.Handle("/readyz", health.Readyz())
	mux.Handle(cfg.MetricsRoute, metrics.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"relay-hub","ok":true}`))
	})

	mux.Handle("/ws", ws.NewHandler(cfg, logger, h, idr))
	rendezvous.Routes(mux, h)

	srv := &http.Server{
		Addr:              cfg.BindAddr(),
		Handler:           logs.RequestLogger(logger, mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info("listening", logs.F("addr", cfg.BindAddr()))
		var err error
		if cfg.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("bye")
}
