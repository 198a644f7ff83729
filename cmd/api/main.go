package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/slotwatch/internal/browser"
	"github.com/hamed0406/slotwatch/internal/config"
	"github.com/hamed0406/slotwatch/internal/httpapi"
	apimw "github.com/hamed0406/slotwatch/internal/httpapi/middleware"
	"github.com/hamed0406/slotwatch/internal/logging"
	"github.com/hamed0406/slotwatch/internal/navigator"
	"github.com/hamed0406/slotwatch/internal/notify"
	"github.com/hamed0406/slotwatch/internal/repo"
	"github.com/hamed0406/slotwatch/internal/repo/memory"
	"github.com/hamed0406/slotwatch/internal/repo/sqlite"
	"github.com/hamed0406/slotwatch/internal/scheduler"
	"github.com/hamed0406/slotwatch/internal/settings"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel, cfg.LogConsole)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := settings.Open(cfg.SettingsPath, settings.Settings{
		StepTimeout: cfg.StepTimeout.String(),
		SettleDelay: cfg.SettleDelay.String(),
	})
	if err != nil {
		logger.Fatal("settings_open_failed", zap.String("path", cfg.SettingsPath), zap.Error(err))
	}

	var db repo.Store
	if cfg.DatabasePath != "" {
		db, err = sqlite.New(ctx, cfg.DatabasePath, logger)
		if err != nil {
			logger.Fatal("db_open_failed", zap.Error(err))
		}
		logger.Info("store_sqlite", zap.String("path", cfg.DatabasePath))
	} else {
		db = memory.New()
		logger.Info("store_memory")
	}
	defer db.Close()

	launcher := &browser.ChromeLauncher{
		Logger:    logger.Named("browser"),
		ExecPath:  cfg.ChromePath,
		Headless:  cfg.Headless,
		UserAgent: store.UserAgent(),
	}
	nav := navigator.New(logger.Named("navigator"), launcher, navigator.DefaultLayout(), store.StepTimeout(), store.SettleDelay())

	mon := scheduler.New(logger.Named("monitor"), nav, store, scheduler.Options{
		HistorySize: cfg.HistorySize,
		Events:      db,
	})
	if err := mon.Restore(ctx); err != nil {
		logger.Warn("history_restore_failed", zap.Error(err))
	}

	var bg sync.WaitGroup
	dispatcher := buildDispatcher(cfg, logger)
	if len(dispatcher.Channels()) > 0 {
		relay := notify.NewRelay(logger.Named("notify"), dispatcher, notify.RelayConfig{
			NotifyUnavailable: cfg.NotifyUnavailable,
			NotifyErrors:      cfg.NotifyErrors,
			RatePerSec:        cfg.NotifyRPS,
		})
		events, unsubscribe := mon.Subscribe()
		defer unsubscribe()
		bg.Add(1)
		go func() {
			defer bg.Done()
			relay.Run(context.Background(), events)
		}()
		logger.Info("notify_enabled", zap.Strings("channels", dispatcher.Channels()))
	}

	bg.Add(1)
	go func() {
		defer bg.Done()
		_ = store.Watch(ctx, logger.Named("settings"), func(settings.Settings) {
			mon.SyncDates(ctx)
		})
	}()

	if cfg.CheckCron != "" {
		trigger, err := scheduler.NewCronTrigger(logger.Named("cron"), cfg.CheckCron, mon, 0)
		if err != nil {
			logger.Fatal("cron_invalid", zap.String("spec", cfg.CheckCron), zap.Error(err))
		}
		bg.Add(1)
		go func() {
			defer bg.Done()
			trigger.Run(ctx)
		}()
	}

	if cfg.AutoStartMinutes*60+cfg.AutoStartSeconds > 0 {
		if err := mon.Start(cfg.AutoStartMinutes, cfg.AutoStartSeconds); err != nil {
			logger.Error("auto_start_failed", zap.Error(err))
		}
	}

	api := httpapi.NewServer(logger.Named("api"), mon, dispatcher, store)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_listen_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown_started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown", zap.Error(err))
	}
	// Close drains the bus, which lets the relay finish what is queued.
	if err := mon.Close(shutdownCtx); err != nil {
		logger.Warn("monitor_close", zap.Error(err))
	}
	bg.Wait()
	logger.Info("shutdown_complete")
}

func buildDispatcher(cfg config.Config, logger *zap.Logger) *notify.Dispatcher {
	var channels []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, notify.NewSlack(cfg.SlackWebhookURL))
	}
	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		logger.Warn("telegram_disabled", zap.Error(err))
	} else if tg != nil {
		channels = append(channels, tg)
	}
	if mail := notify.NewEmail(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom, cfg.SMTPTo); mail != nil {
		channels = append(channels, mail)
	}
	return notify.NewDispatcher(logger.Named("dispatch"), cfg.NotifyTimeout, channels...)
}
