package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/chatbridge/internal/absorber"
	"github.com/nextlevelbuilder/chatbridge/internal/bus"
	"github.com/nextlevelbuilder/chatbridge/internal/classifier"
	"github.com/nextlevelbuilder/chatbridge/internal/config"
	"github.com/nextlevelbuilder/chatbridge/internal/dispatch"
	"github.com/nextlevelbuilder/chatbridge/internal/engine"
	"github.com/nextlevelbuilder/chatbridge/internal/httpapi"
	"github.com/nextlevelbuilder/chatbridge/internal/inbox"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
	"github.com/nextlevelbuilder/chatbridge/internal/store/memory"
	"github.com/nextlevelbuilder/chatbridge/internal/store/sqlstore"
	"github.com/nextlevelbuilder/chatbridge/internal/telemetry"
)

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	links, closeStore, storeMode, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open conversation store", "error", err)
		os.Exit(1)
	}
	if closeStore != nil {
		defer closeStore()
	}

	msgBus := bus.New(cfg.Dispatch.QueueSize)
	inboxClient := inbox.NewClient(cfg.Inbox)
	engineClient := engine.NewClient(cfg.Engine)

	cls := classifier.New(links)
	coordinator := dispatch.New(links, engineClient, inboxClient, msgBus, cfg.Dispatch)
	abs := absorber.New(links, inboxClient)
	reaper := dispatch.NewReaper(links, cfg.Dispatch.ReaperCron, cfg.Dispatch.StaleAfter())

	mux := http.NewServeMux()
	limiter := httpapi.NewRateLimiter(cfg.Server.RateLimitRPM, cfg.Server.RateLimitRPM)
	srv := httpapi.NewServer(cls, coordinator, abs, links, cfg.Server.Token, limiter)
	srv.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := httpServer.Shutdown(stopCtx); err != nil {
			slog.Warn("http shutdown failed", "error", err)
		}
	}()

	slog.Info("chatbridge starting",
		"version", Version,
		"addr", httpServer.Addr,
		"store", storeMode,
		"workers", cfg.Dispatch.Workers,
		"inbox", cfg.Inbox.APIURL,
		"engine", cfg.Engine.APIURL,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coordinator.Start(ctx)
	})
	g.Go(func() error {
		return reaper.Start(ctx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("chatbridge stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("chatbridge stopped")
}

// openStore selects the ConversationLink backing store by mode:
// managed → Postgres, standalone → SQLite, anything else → in-memory.
func openStore(cfg *config.Config) (store.ConversationStore, func(), string, error) {
	switch {
	case cfg.IsManagedMode():
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, "", fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		return sqlstore.New(db, sqlstore.DialectPostgres), func() { db.Close() }, "postgres", nil

	case cfg.Database.Mode == "standalone" && cfg.Database.SQLitePath != "":
		path := config.ExpandHome(cfg.Database.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, "", fmt.Errorf("create database directory: %w", err)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		// modernc sqlite serializes writes; one connection avoids lock errors.
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, "", fmt.Errorf("ping sqlite: %w", err)
		}
		return sqlstore.New(db, "sqlite"), func() { db.Close() }, "sqlite", nil

	default:
		slog.Warn("no database configured, conversation links are in-memory only")
		return memory.New(), nil, "memory", nil
	}
}
