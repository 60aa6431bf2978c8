// Command rt-gateway serves the RT operation catalog over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/bulk"
	"github.com/Sternrassler/rt-gateway/pkg/catalog"
	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/Sternrassler/rt-gateway/pkg/config"
	"github.com/Sternrassler/rt-gateway/pkg/logging"
	"github.com/Sternrassler/rt-gateway/pkg/ratelimit"
	"github.com/Sternrassler/rt-gateway/pkg/refdata"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	probeTimeout    = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("rt-gateway failed")
		os.Exit(1)
	}
}

// run wires the gateway and serves until a signal arrives or the listener
// fails. Deferred cleanup runs on both paths.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(cfg.Logging())

	session, err := client.Open(cfg.Session())
	if err != nil {
		return fmt.Errorf("open RT session: %w", err)
	}
	defer session.Close()

	log.Info().
		Str("url", cfg.APIURL()).
		Str("auth", cfg.AuthMode()).
		Bool("verify_tls", cfg.VerifyTLS).
		Dur("timeout", cfg.Timeout).
		Msg("RT session opened")

	probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	if err := session.Probe(probeCtx); err != nil {
		log.Warn().Err(err).Msg("RT probe failed; continuing")
	}
	cancel()

	redisClient := connectRedis(cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	gw := client.NewGateway(session, client.WithPageSize(cfg.PageSize))
	tracker := ratelimit.NewTracker(redisClient, log.With().Str("component", "ratelimit").Logger())
	coord := bulk.NewCoordinator(gw,
		bulk.WithConcurrency(cfg.BulkConcurrency),
		bulk.WithTracker(tracker),
	)
	reg := catalog.New(gw,
		catalog.WithCoordinator(coord),
		catalog.WithPageSize(cfg.PageSize),
		catalog.WithMaxSearchResults(cfg.MaxSearchResults),
	)

	loaderOpts := []refdata.LoaderOption{refdata.WithTTL(cfg.RefDataTTL)}
	if redisClient != nil {
		loaderOpts = append(loaderOpts, refdata.WithManager(refdata.NewManager(redisClient)))
	}
	loader := refdata.NewLoader(gw, loaderOpts...)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           newServer(reg, loader, session, redisClient).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", srv.Addr).
		Int("operations", reg.Len()).
		Bool("redis", redisClient != nil).
		Msg("Starting rt-gateway")
	if err := serve(ctx, srv); err != nil {
		return err
	}
	log.Info().Msg("rt-gateway stopped")
	return nil
}

// serve runs srv until ctx ends, then shuts it down gracefully. A listener
// failure is returned rather than logged.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
		return nil
	}
}

// connectRedis returns nil when no URL is set or Redis is unreachable; the
// gateway then runs without the reference-data cache and with in-process
// cooldowns.
func connectRedis(rawURL string) *redis.Client {
	if rawURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid REDIS_URL; running without Redis")
		return nil
	}
	rc := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unreachable; running without Redis")
		rc.Close()
		return nil
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return rc
}
