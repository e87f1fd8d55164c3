package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/irislikesuall/Luna-Calendar-Todo/internal/auth"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/model"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/realtime"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/store"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/sync"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/web"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "lunacal",
	})

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("exiting", "error", err)
	}
}

func run(configPath string, logger *log.Logger) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	loc := time.Local
	if cfg.Calendar.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Calendar.Timezone)
		if err != nil {
			return err
		}
	}

	local, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer local.Close()

	var (
		remote   store.Remote
		authc    *auth.Client
		syncAuth sync.AuthClient
		listener sync.ChangeListener
	)
	if cfg.CloudEnabled() {
		pg, err := store.NewPostgresStore(cfg.Cloud.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		remote = pg

		authc = auth.NewClient(cfg.Cloud.AuthURL, auth.KeyringSessions(), logger)
		syncAuth = authc

		rt := realtime.NewListener(cfg.Cloud.DSN, logger)
		defer rt.Close()
		listener = rt

		logger.Info("cloud sync enabled", "auth", cfg.Cloud.AuthURL)
	} else {
		logger.Info("running local-only, no cloud configured")
	}

	syncer := sync.New(local, remote, syncAuth, listener, logger)

	now := time.Now().In(loc)
	anchor := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A failed initial load or pending migration is not fatal: the
	// session still comes up and the migration retries on a later login.
	if err := syncer.Initialize(ctx, anchor); err != nil {
		logger.Error("initializing synchronizer", "err", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      web.NewServer(syncer, authc, loc, logger).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
