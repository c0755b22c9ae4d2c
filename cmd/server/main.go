package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/skoolup/internal/api"
	"github.com/p-n-ai/skoolup/internal/curriculum"
	"github.com/p-n-ai/skoolup/internal/platform/cache"
	"github.com/p-n-ai/skoolup/internal/platform/config"
	"github.com/p-n-ai/skoolup/internal/platform/database"
	"github.com/p-n-ai/skoolup/internal/platform/metrics"
	"github.com/p-n-ai/skoolup/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Log.NewLogger())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.handler.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Backend, "cache", cfg.Cache.Enabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// app is the wired process: catalog, stores, event sinks and routes.
type app struct {
	handler *api.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	catalog, err := curriculum.NewLoader(curriculum.LoaderConfig{
		RootDir:          cfg.CurriculumPath,
		DefaultStepXP:    cfg.Progress.DefaultStepXP,
		DefaultChapterXP: cfg.Progress.DefaultChapterXP,
	})
	if err != nil {
		return nil, err
	}

	var (
		store  session.SnapshotStore = session.NewMemoryStore()
		events session.EventLogger   = session.NopEventLogger{}
	)

	if cfg.Store.Backend == config.StorePostgres {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		if _, err := database.Migrate(ctx, db.Pool); err != nil {
			a.close()
			return nil, err
		}
		pg, err := session.NewPostgresStore(db.Pool)
		if err != nil {
			a.close()
			return nil, err
		}
		store = pg
		events = session.NewPostgresEventLogger(db.Pool)
	}

	broker := session.NewBroker()
	var publisher session.Publisher = broker

	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL, cfg.CacheTTL())
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { c.Close() })
		store = session.NewCachedStore(store, c)

		// Events go through Redis so every instance's subscribers see them.
		bus := session.NewRedisBus(c.Client, cfg.Events.Channel)
		if err := bus.StartForwarder(ctx, func(e session.Event) {
			_ = broker.Publish(ctx, e)
		}); err != nil {
			a.close()
			return nil, err
		}
		publisher = bus
	}

	m := metrics.New()
	svc, err := session.NewService(session.ServiceConfig{
		Catalog:      catalog,
		Store:        store,
		Events:       events,
		Publisher:    publisher,
		Metrics:      m,
		DefaultGrade: cfg.Progress.DefaultGrade,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.handler = api.New(api.Config{
		Service:  svc,
		Subjects: catalog,
		Broker:   broker,
		Metrics:  m,
	})
	return a, nil
}
