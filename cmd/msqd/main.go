package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/kvosk/msq/internal/api"
	"github.com/kvosk/msq/internal/config"
	"github.com/kvosk/msq/internal/engine"
	"github.com/kvosk/msq/internal/logging"
	"github.com/kvosk/msq/internal/mega"
	"github.com/kvosk/msq/internal/queue"
	"github.com/kvosk/msq/internal/store"
	"github.com/kvosk/msq/internal/upload"
)

var version string

func main() {
	_ = godotenv.Load()
	cfgPath := flag.String("config", os.Getenv("MSQ_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info("msqd starting", slog.String("version", versionString()))

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("open database", slog.String("path", cfg.DBPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	st := store.New(db)

	fs := afero.NewOsFs()
	client := mega.NewClient(log)
	client.SetMaxAttempts(cfg.MaxAttempts)
	dl := mega.NewDownloader(client, fs, log)
	dl.SetMaxAttempts(cfg.MaxAttempts)

	eng, err := engine.Select(cfg.Backend, engine.NewNative(dl), engine.NewMegatools(log), log)
	if err != nil {
		log.Error("select backend", slog.String("backend", cfg.Backend), slog.Any("error", err))
		os.Exit(1)
	}

	svc := queue.New(queue.Config{
		DownloadDir:    cfg.DownloadDir,
		MaxDownloads:   cfg.MaxDownloads,
		MaxUploads:     cfg.MaxUploads,
		StatusInterval: cfg.StatusInterval(),
	}, queue.Deps{
		Engine:   eng,
		Uploader: upload.NewLocalExport(fs, cfg.ExportDir, log),
		Premium:  st,
		Settings: st,
		History:  st,
		FS:       fs,
		Log:      log,
	})

	apiSrv := &api.Server{Tasks: svc, Accounts: st, AdminToken: cfg.AdminToken, Log: log}
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiSrv.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.HTTPAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", slog.Any("error", err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warn("queue shutdown", slog.Any("error", err))
	}
	log.Info("stopped")
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}
