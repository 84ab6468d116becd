package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/almatkai/woolet-sub002/internal/config"
	"github.com/almatkai/woolet-sub002/internal/database"
	"github.com/almatkai/woolet-sub002/internal/router"
	"github.com/almatkai/woolet-sub002/internal/service"
)

func main() {
	// load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		fatal("load config", err)
	}

	// ensure basic directories exist
	if cfg.Database.Driver == "sqlite" {
		if err := ensureDir(filepath.Dir(cfg.Database.Path)); err != nil {
			fatal("create data dir", err)
		}
	}
	if err := ensureDir(filepath.Dir(cfg.Log.File)); err != nil {
		fatal("create log dir", err)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		fatal("open log file", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	// init database
	db, err := database.Init(cfg.Database)
	if err != nil {
		fatal("init database", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		fatal("migrate database", err)
	}
	categories, err := database.SeedCategories(db)
	if err != nil {
		fatal("seed categories", err)
	}

	svc := service.New(db, categories,
		service.WithLogger(logger),
		service.WithRetries(cfg.Ledger.TxRetries),
		service.WithPurgeAfter(cfg.Ledger.PurgeAfter()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc.StartPurger(ctx, cfg.Ledger.PurgeInterval())

	r := router.SetupRouter(cfg, db, svc)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	logger.Info("server listening", "addr", addr, "driver", cfg.Database.Driver)
	if err := r.Run(addr); err != nil {
		fatal("run server", err)
	}
}

// newLogger writes to stdout and, when configured, to the log file.
func newLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), closeFn, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
