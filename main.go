package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptopay-bot/config"
	"cryptopay-bot/cryptopay"
	"cryptopay-bot/db"
	"cryptopay-bot/handlers"
	"cryptopay-bot/notify"
	"cryptopay-bot/reconcile"
	"cryptopay-bot/webhook"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// sweepDelay — пауза между обращениями к провайдеру при массовой
// проверке, чтобы не упереться в rate limit.
const sweepDelay = 500 * time.Millisecond

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	// Инициализация базы данных
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer store.Close()

	// Создание бота
	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.Fatal("Failed to create bot: ", err)
	}
	slog.Info("bot authorized", "username", bot.Self.UserName)

	gateway := cryptopay.NewClient(cfg.CryptoPay.APIToken, cfg.CryptoPay.UseTestnet)
	dispatcher := notify.New(bot, cfg.Bot.AdminIDs)
	engine := reconcile.New(store, gateway, dispatcher, sweepDelay)
	handler := handlers.New(bot, store, engine, gateway, cfg)
	server := webhook.New(engine, store, cfg.CryptoPay.APIToken, cfg.Webhook.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Обработчик обновлений Telegram
	g.Go(func() error {
		return handler.Run(ctx)
	})

	// Вебхук-сервер
	g.Go(func() error {
		slog.Info("webhook server listening", "addr", cfg.Webhook.ListenAddr, "path", cfg.Webhook.Path)
		return server.Listen(cfg.Webhook.ListenAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown()
	})

	// Периодическая проверка ожидающих заказов
	c := cron.New()
	_, err = c.AddFunc(cfg.Webhook.SweepSchedule, func() {
		report, err := engine.SweepPending(ctx)
		if err != nil {
			slog.Warn("scheduled sweep failed", "error", err)
			return
		}
		slog.Info("scheduled sweep finished",
			"checked", report.Checked, "confirmed", report.Confirmed,
			"expired", report.Expired, "failed", report.Failed)
	})
	if err != nil {
		log.Fatal("Failed to schedule sweep: ", err)
	}
	c.Start()
	defer c.Stop()

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("shutting down", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}
