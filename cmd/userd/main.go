package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arllen133/userd/internal/config"
	"github.com/arllen133/userd/internal/db"
	"github.com/arllen133/userd/internal/httpapi"
	"github.com/arllen133/userd/internal/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFile(".env"); err != nil {
		return err
	}
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	dialect, err := db.DialectFor(cfg.Driver)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("setting up database", "driver", cfg.Driver)
	session, err := db.Open(ctx, dialect, cfg.DatabaseURL,
		db.WithLogger(logger),
		db.WithDefaultTracer(),
		db.WithDefaultMeter(),
		db.WithSlowQueryThreshold(cfg.SlowQuery),
		db.WithQueryLogging(cfg.LogQueries),
	)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer session.Close()

	if err := users.EnsureTable(ctx, session); err != nil {
		return err
	}

	var opts []httpapi.Option
	if cfg.RateLimit > 0 {
		opts = append(opts, httpapi.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}
	handler := httpapi.NewHandler(db.NewGuard(session), logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(handler, logger, opts...),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
