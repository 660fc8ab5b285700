package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"microblog/internal/app"
	"microblog/internal/db"
	httpx "microblog/internal/http"
)

func main() {
	cfg := app.LoadConfig()
	log, err := app.NewLogger(cfg.LogLevel)
	app.Must(err)
	defer log.Sync()

	root := &cobra.Command{
		Use:           "microblog",
		Short:         "Microblog server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "database URL or SQLite path")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Apply the schema and serve HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg, log)
		},
	}
	serve.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := openAndMigrate(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			log.Info("schema applied", zap.String("dialect", string(db.DialectOf(cfg.DatabaseURL))))
			return d.Close()
		},
	}

	root.AddCommand(serve, migrate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func openAndMigrate(ctx context.Context, dsn string) (*sql.DB, error) {
	d, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, d, db.DialectOf(dsn)); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func runServe(ctx context.Context, cfg app.Config, log *zap.Logger) error {
	d, err := openAndMigrate(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer d.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpx.NewServer(d, cfg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
