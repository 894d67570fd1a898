package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"echobot/internal/bus"
	"echobot/internal/channel"
	"echobot/internal/config"
	"echobot/internal/echo"
	"echobot/internal/journal"
	"echobot/internal/logging"
	"echobot/internal/metrics"
	"echobot/internal/status"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (long polling)",
		Long:  "Connects to Telegram and echoes every text message until interrupted. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateForRun(cfg); err != nil {
		return err
	}

	log, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus(logger)
	collector := metrics.NewMetricsCollector()
	metrics.NewBotMetrics(collector).Attach(events)

	var statsSource status.StatsSource
	if cfg.Journal.Enabled {
		j, err := journal.NewSQLiteJournal(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer j.Close()

		retention := time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour
		if n, err := j.Prune(ctx, retention); err != nil {
			logger.Warn("journal prune failed", "err", err)
		} else if n > 0 {
			logger.Info("journal pruned", "deleted", n, "retention_days", cfg.Journal.RetentionDays)
		}
		j.Attach(events)
		statsSource = j
	}

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		PollTimeout: cfg.Telegram.PollTimeout,
		RetryDelay:  time.Duration(cfg.Telegram.RetryDelay) * time.Second,
		SendRetries: cfg.Telegram.SendRetries,
		SendRate:     cfg.Telegram.SendRate,
		ChatSendRate: cfg.Telegram.ChatSendRate,
		SendBurst:    cfg.Telegram.SendBurst,
		AllowFrom:   cfg.Telegram.AllowFrom,
		Debug:       cfg.Telegram.Debug,
		Events:      events,
		Logger:      logger,
	})
	if err := tg.Connect(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.Status.Enabled {
		srv := status.New(status.Config{
			Host:           cfg.Status.Host,
			Port:           cfg.Status.Port,
			AllowedOrigins: cfg.Status.AllowedOrigins,
			Version:        version,
		}, tg, collector, statsSource, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				logger.Error("status server error", "err", err)
			}
		}()
	}

	responder := echo.NewResponder(tg)
	logger.Info("echobot started. Press Ctrl+C to stop.", "version", version, "config", cfgPath)

	runErr := tg.Start(ctx, responder.Handler())
	stop()
	logger.Info("shutting down echobot...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		runErr = errors.Join(runErr, fmt.Errorf("shutdown timed out"))
	}
	return runErr
}
