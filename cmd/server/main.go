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

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/voicechat/internal/adapters/http"
	wssignal "github.com/dkeye/voicechat/internal/adapters/signal"
	"github.com/dkeye/voicechat/internal/app/orch"
	"github.com/dkeye/voicechat/internal/config"
	"github.com/dkeye/voicechat/internal/datastore"
	"github.com/dkeye/voicechat/internal/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logger until the configured one is installed.
	if err := logging.Setup(logging.Options{}); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	store, err := datastore.NewSQLStore(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	seed, err := datastore.LoadChannelsFile(cfg.DB.ChannelsFile)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	n, err := datastore.SeedChannels(ctx, store, seed)
	if err != nil {
		return fmt.Errorf("seed channels: %w", err)
	}
	if n > 0 {
		log.Info().Int("channels", n).Msg("seeded default channels")
	}

	o, err := orch.New(orch.Config{
		Audio:      cfg.Audio,
		Admission:  cfg.Admission,
		History:    cfg.History,
		AudioQueue: cfg.Transport.AudioQueue,
		SlowLimit:  cfg.Transport.SlowLimit,
	}, store)
	if err != nil {
		return err
	}

	limiter := wssignal.NewRateLimiter(cfg.RateLimit.MessagesPerSecond, cfg.RateLimit.Burst, 10*time.Minute)
	go limiter.Run(ctx.Done())

	ws := wssignal.NewSignalWSController(o, limiter, wssignal.Options{
		SendBuffer: cfg.Transport.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
	})

	r := router.SetupRouter(ctx, cfg, o, store, ws)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Voice chat server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		// Hijacked websocket connections are not tracked by Shutdown.
		o.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})
	return g.Wait()
}
