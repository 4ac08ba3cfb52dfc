package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tg_group_relay_bot/internal/access"
	"tg_group_relay_bot/internal/broadcast"
	"tg_group_relay_bot/internal/config"
	"tg_group_relay_bot/internal/feature/group"
	"tg_group_relay_bot/internal/health"
	"tg_group_relay_bot/internal/logging"
	"tg_group_relay_bot/internal/messages"
	"tg_group_relay_bot/internal/store"
	"tg_group_relay_bot/internal/telegram"
)

const (
	storeOpenTimeout        = 10 * time.Second
	storeCloseTimeout       = 5 * time.Second
	healthShutdownTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	admins := access.NewAdminSet(cfg.AdminIDs)

	logger.WithFields(logging.Fields{
		"event":   "startup",
		"mode":    cfg.Mode,
		"backend": cfg.StoreBackend,
		"admins":  admins.Len(),
		"proxy":   cfg.UseProxy(),
	}).Info("configuration loaded")

	if config.PartialProxy() {
		logger.WithField("event", "proxy_partial").Warn("proxy settings are incomplete, connecting directly")
	}

	openCtx, cancelOpen := context.WithTimeout(context.Background(), storeOpenTimeout)
	backend, err := store.Open(openCtx, cfg, logger)
	cancelOpen()
	if err != nil {
		logger.WithError(err).Error("store setup error")
		fmt.Fprintf(os.Stderr, "store setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "store_ready").Info("group store opened")

	texts := messages.For(cfg.BotLanguage)

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		closeStore(backend, logger)
		os.Exit(1)
	}

	dispatcher := broadcast.NewDispatcher(tgClient.Sender(), admins, cfg.BroadcastConcurrency, logger)
	registrar := group.NewRegistrar(backend, dispatcher, texts, logger)
	tgClient.Route(telegram.NewRouter(admins, registrar, dispatcher, tgClient.Sender(), texts, logger))

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	var healthServer *health.Server
	if cfg.HTTPPort > 0 {
		healthServer = health.NewServer(cfg.HTTPPort, backend, logger)
		go func() {
			if err := healthServer.ListenAndServe(); err != nil {
				logger.WithError(err).Error("health server error")
			}
		}()
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	closeStore(backend, logger)

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func closeStore(backend store.Backend, logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
	defer cancel()

	if err := backend.Close(ctx); err != nil {
		logger.WithError(err).Error("store close error")
		return
	}
	logger.WithField("event", "store_closed").Info("group store closed")
}
