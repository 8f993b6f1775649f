package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/31iotA1d3rs0n/blind-test-musical/catalog"
	"github.com/31iotA1d3rs0n/blind-test-musical/config"
	"github.com/31iotA1d3rs0n/blind-test-musical/handlers"
	"github.com/31iotA1d3rs0n/blind-test-musical/logging"
	"github.com/31iotA1d3rs0n/blind-test-musical/routes"
	"github.com/31iotA1d3rs0n/blind-test-musical/services"
)

const (
	loopBuffer      = 1024
	deezerTimeout   = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, serve).Execute())
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		log.Warn().Msg("No session secret configured, rejoin tokens will not survive a restart")
	}

	loop := services.NewLoop(loopBuffer, log)
	go loop.Run(ctx)
	sched := services.NewScheduler(loop)

	provider := catalog.NewDeezer(cfg.DeezerURL, &http.Client{Timeout: deezerTimeout}, newCache(ctx, cfg, log), log)

	hub := services.NewHub(log)
	orch := services.NewOrchestrator(services.OrchestratorConfig{
		Rooms:           services.NewRoomDirectory(sched, log),
		Provider:        provider,
		Publisher:       hub,
		Executor:        loop,
		Scheduler:       sched,
		Tokens:          services.NewSessionTokens(secret, sched),
		ProviderTimeout: cfg.ProviderTimeout,
		Logger:          log,
	})
	hub.Attach(orch)
	go hub.Run(ctx)

	sweeper := orch.StartSweeper()
	defer sweeper.Cancel()

	gin.SetMode(gin.ReleaseMode)
	router := routes.NewRouter(handlers.NewRoomHandler(orch, cfg.PublicURL, log), hub, cfg.CORSOrigins, log)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", cmd.Version).Msg("Server starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newCache falls back to no caching when Redis is not configured or not
// reachable at startup.
func newCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) catalog.Cache {
	client := config.NewRedisClient(cfg)
	if client == nil {
		log.Info().Msg("Catalog cache disabled")
		return catalog.NopCache{}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, catalog cache disabled")
		_ = client.Close()
		return catalog.NopCache{}
	}

	log.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CacheTTL).Msg("Catalog cache enabled")
	return catalog.NewRedisCache(client, cfg.CacheTTL)
}
