package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/config"
	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/rules"
	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/telemetry"
	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/ws"
)

const serviceName = "goban-server"

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	opts := []game.Option{game.WithLogger(logger.Named("game"))}
	if cfg.RulesScript != "" {
		policy, err := rules.LoadFile(cfg.RulesScript, rules.WithTimeout(cfg.RulesTimeout))
		if err != nil {
			return err
		}
		defer policy.Close()
		opts = append(opts, game.WithMovePolicy(policy))
		logger.Info("house rules loaded", zap.String("script", cfg.RulesScript))
	}

	registry := game.NewRegistry(opts...)
	hub := ws.NewHub(registry, logger.Named("ws"), cfg.OriginAllowlist)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           cors(cfg.OriginAllowlist, hub.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Int("connections", hub.Connections()))
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// cors answers preflight requests and echoes allowed origins. Origins are
// matched by host against the same patterns the websocket upgrade uses.
func cors(allow []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allow, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allow []string, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, pattern := range allow {
		if ok, _ := path.Match(pattern, u.Host); ok {
			return true
		}
	}
	return false
}
