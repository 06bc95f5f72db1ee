package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"activist-bot/internal/config"
	"activist-bot/internal/engine"
	"activist-bot/internal/media"
	"activist-bot/internal/models"
	"activist-bot/internal/scheduler"
	"activist-bot/internal/server"
	"activist-bot/internal/sheets"
	"activist-bot/internal/store"
	"activist-bot/internal/tgbot"
)

// csvLinks signs export URLs for the bot's messages.
type csvLinks struct{ cfg config.Config }

func (l csvLinks) ProjectCSV(ref models.ProjectRef) string { return server.ProjectCSVURL(l.cfg, ref) }
func (l csvLinks) LeaderboardCSV() string                  { return server.LeaderboardCSVURL(l.cfg) }

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.Open(cfg.UsersFile, cfg.ProjectsFile)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	images, err := media.New(cfg.MediaDir)
	if err != nil {
		logger.Fatal("media", zap.Error(err))
	}
	eng := engine.New(st, engine.WithMedia(images), engine.WithLogger(logger.Named("engine")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []tgbot.Option{tgbot.WithLogger(logger.Named("bot")), tgbot.WithLinks(csvLinks{cfg: cfg})}
	if cfg.SpreadsheetID != "" {
		sheetsClient, err := sheets.New(ctx, cfg.GoogleServiceAccountJSON, cfg.SpreadsheetID)
		if err != nil {
			logger.Fatal("sheets", zap.Error(err))
		}
		opts = append(opts, tgbot.WithExporter(sheetsClient))
	}

	botApp, err := tgbot.New(cfg, eng, images, opts...)
	if err != nil {
		logger.Fatal("telegram", zap.Error(err))
	}

	httpSrv := server.New(cfg, eng, logger.Named("http"))

	// Start HTTP server
	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	// Expired project reminders
	sched := scheduler.New(eng, botApp, cfg.ExpiryCheckInterval, scheduler.WithLogger(logger.Named("scheduler")))
	go func() { _ = sched.Run(ctx) }()

	// Start Telegram
	go func() {
		if err := botApp.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("bot stopped", zap.Error(err))
			cancel()
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	cancel()
	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = httpSrv.Shutdown(ctxTimeout)

	logger.Info("bye")
}
