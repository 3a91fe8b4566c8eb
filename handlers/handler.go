package handlers

import (
	"context"
	"log/slog"

	"cryptopay-bot/config"
	"cryptopay-bot/cryptopay"
	"cryptopay-bot/db"
	"cryptopay-bot/reconcile"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Handler обрабатывает обновления Telegram-бота: клиентский поток
// покупки и админ-панель.
type Handler struct {
	bot     *tgbotapi.BotAPI
	store   *db.Store
	engine  *reconcile.Engine
	gateway *cryptopay.Client
	cfg     *config.Config
	log     *slog.Logger
}

// New создаёт обработчик бота.
func New(bot *tgbotapi.BotAPI, store *db.Store, engine *reconcile.Engine, gateway *cryptopay.Client, cfg *config.Config) *Handler {
	return &Handler{
		bot:     bot,
		store:   store,
		engine:  engine,
		gateway: gateway,
		cfg:     cfg,
		log:     slog.Default().With("component", "bot"),
	}
}

// Run получает обновления и обрабатывает их до отмены контекста.
func (h *Handler) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := h.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			h.handleUpdate(ctx, update)
		}
	}
}

func (h *Handler) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if h.cfg.Bot.IsAdmin(update.Message.From.ID) && h.handleAdminMessage(ctx, update.Message) {
			return
		}
		h.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

func (h *Handler) send(msg tgbotapi.Chattable) {
	if _, err := h.bot.Send(msg); err != nil {
		h.log.Warn("failed to send message", "error", err)
	}
}

func (h *Handler) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	h.send(msg)
}

func (h *Handler) answerCallback(id, text string) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		h.log.Warn("failed to answer callback", "error", err)
	}
}
