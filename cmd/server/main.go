package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/pet-battle-backend/internal/arena"
	"github.com/DoyleJ11/pet-battle-backend/internal/config"
	"github.com/DoyleJ11/pet-battle-backend/internal/deadline"
	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
	"github.com/DoyleJ11/pet-battle-backend/internal/httpapi"
	"github.com/DoyleJ11/pet-battle-backend/internal/hub"
	"github.com/DoyleJ11/pet-battle-backend/internal/identity"
	"github.com/DoyleJ11/pet-battle-backend/internal/logging"
	"github.com/DoyleJ11/pet-battle-backend/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules, err := cfg.Rules()
	if err != nil {
		return err
	}
	random, err := engine.NewProcessSource()
	if err != nil {
		return err
	}

	trigger, err := deadline.New(logger.Named("deadline"), cfg.ReservationCapacity, cfg.ReservationTTL)
	if err != nil {
		return err
	}
	defer trigger.Close()

	deps := arena.Deps{
		Identity:        identity.NewClient(cfg.IdentityURL, cfg.IdentityTimeout, logger.Named("identity")),
		Scheduler:       trigger,
		Random:          random,
		Logger:          logger.Named("arena"),
		IdentityTimeout: cfg.IdentityTimeout,
	}

	var store *storage.Store
	if cfg.DatabaseURL != "" {
		store, err = storage.Open(cfg.DatabaseURL, logger.Named("storage"))
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Store = store
	} else {
		logger.Warn("DATABASE_URL not set; battles are kept in memory only")
	}

	var h *hub.Hub
	if store != nil {
		h = hub.NewHub(ctx, deps, store)
		restoreUnfinished(ctx, h, store, logger)
	} else {
		h = hub.NewHub(ctx, deps, nil)
	}

	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(httpapi.New(h, rules, logger.Named("http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Inbox() <- hub.ShutdownHub{}
		<-h.Done()
		return err
	})
	return g.Wait()
}

// restoreUnfinished brings back battles a previous process left running so
// their deadline checks are armed again.
func restoreUnfinished(ctx context.Context, h *hub.Hub, store *storage.Store, logger *zap.Logger) {
	codes, err := store.Unfinished(ctx)
	if err != nil {
		logger.Error("list unfinished battles", zap.Error(err))
		return
	}
	for _, code := range codes {
		if _, err := h.Ensure(ctx, code); err != nil {
			logger.Error("restore battle", zap.String("battle", code), zap.Error(err))
		}
	}
	logger.Info("battles restored", zap.Int("count", len(codes)))
}
