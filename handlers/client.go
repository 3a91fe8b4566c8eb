package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cryptopay-bot/config"
	"cryptopay-bot/models"
	"cryptopay-bot/reconcile"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const welcomeText = `🔐 <b>Добро пожаловать в CryptoPay Bot!</b>

Здесь вы можете безопасно оплатить товары с помощью криптовалюты.

💰 Доступные способы оплаты: USDT, TON, BTC, ETH

📦 Откройте каталог, чтобы выбрать товар.`

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// Пользователь создаётся при первом обращении
	if _, err := h.store.GetOrCreateUser(msg.From.ID, msg.From.UserName, msg.From.FirstName); err != nil {
		h.log.Error("failed to register user", "userID", msg.From.ID, "error", err)
	}

	switch msg.Text {
	case "/start":
		m := tgbotapi.NewMessage(msg.Chat.ID, welcomeText)
		m.ParseMode = tgbotapi.ModeHTML
		m.ReplyMarkup = mainMenu()
		h.send(m)

	case "/help", "❓ Помощь":
		h.reply(msg.Chat.ID, fmt.Sprintf(
			"❓ <b>Помощь</b>\n\n"+
				"/start — запустить бота\n"+
				"/help — помощь\n\n"+
				"💬 Поддержка: @%s", h.cfg.Bot.SupportUsername))

	case "🛒 Каталог":
		m := tgbotapi.NewMessage(msg.Chat.ID, "📦 <b>Выберите товар:</b>")
		m.ParseMode = tgbotapi.ModeHTML
		m.ReplyMarkup = catalogKeyboard()
		h.send(m)

	case "📦 Мои заказы":
		h.showOrders(msg.Chat.ID, msg.From.ID)

	case "👤 Профиль":
		h.showProfile(msg.Chat.ID, msg.From.ID)
	}
}

func (h *Handler) showOrders(chatID, userID int64) {
	orders, err := h.store.GetUserOrders(userID, 20)
	if err != nil {
		h.log.Error("failed to get user orders", "userID", userID, "error", err)
		h.reply(chatID, "Ошибка при получении заказов.")
		return
	}
	if len(orders) == 0 {
		h.reply(chatID, "У вас пока нет заказов. 🛒")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>Ваши заказы</b>\n\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, o := range orders {
		sb.WriteString(fmt.Sprintf("%s <b>#%s</b>\n   %s — $%.2f\n   %s\n\n",
			o.Status.Emoji(), o.OrderID, o.ProductName, o.AmountUSD, o.Status.Human()))
		if o.Status == models.StatusPending {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("⏳ #"+o.OrderID, "order:"+o.OrderID),
			))
		}
	}

	m := tgbotapi.NewMessage(chatID, sb.String())
	m.ParseMode = tgbotapi.ModeHTML
	if len(rows) > 0 {
		m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	h.send(m)
}

func (h *Handler) showProfile(chatID, userID int64) {
	user, err := h.store.GetUser(userID)
	if err != nil {
		h.log.Error("failed to get user", "userID", userID, "error", err)
		h.reply(chatID, "Ошибка при получении профиля.")
		return
	}
	h.reply(chatID, fmt.Sprintf(
		"👤 <b>Профиль</b>\n\n"+
			"🆔 ID: %d\n"+
			"💰 Всего потрачено: $%.2f\n"+
			"🛍 Количество покупок: %d",
		user.ID, user.TotalSpent, user.OrdersCount))
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	switch {
	case data == "catalog":
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, cb.Message.MessageID,
			"📦 <b>Выберите товар:</b>", catalogKeyboard())
		edit.ParseMode = tgbotapi.ModeHTML
		h.send(edit)
		h.answerCallback(cb.ID, "")

	case data == "orders":
		h.showOrders(chatID, cb.From.ID)
		h.answerCallback(cb.ID, "")

	case strings.HasPrefix(data, "buy:"):
		h.selectProduct(cb, strings.TrimPrefix(data, "buy:"))

	case strings.HasPrefix(data, "asset:"):
		parts := strings.SplitN(strings.TrimPrefix(data, "asset:"), ":", 2)
		if len(parts) != 2 {
			h.answerCallback(cb.ID, "Неизвестное действие")
			return
		}
		h.createPayment(ctx, cb, parts[0], parts[1])

	case strings.HasPrefix(data, "check:"):
		h.checkPayment(ctx, cb, strings.TrimPrefix(data, "check:"))

	case strings.HasPrefix(data, "cancel:"):
		h.cancelOrder(ctx, cb, strings.TrimPrefix(data, "cancel:"))

	case strings.HasPrefix(data, "order:"):
		h.showOrderDetail(cb, strings.TrimPrefix(data, "order:"))

	default:
		h.answerCallback(cb.ID, "Неизвестное действие")
	}
}

func (h *Handler) selectProduct(cb *tgbotapi.CallbackQuery, productID string) {
	product, ok := config.ProductByID(productID)
	if !ok {
		h.answerCallback(cb.ID, "❌ Товар не найден")
		return
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
		fmt.Sprintf("💳 <b>Создание платежа</b>\n\n"+
			"Товар: <b>%s</b>\nСумма: <b>$%.2f</b>\n\n"+
			"Выберите криптовалюту для оплаты:", product.Name, product.PriceUSD),
		assetsKeyboard(productID))
	edit.ParseMode = tgbotapi.ModeHTML
	h.send(edit)
	h.answerCallback(cb.ID, "")
}

func (h *Handler) createPayment(ctx context.Context, cb *tgbotapi.CallbackQuery, productID, asset string) {
	product, ok := config.ProductByID(productID)
	if !ok {
		h.answerCallback(cb.ID, "❌ Товар не найден")
		return
	}

	order, err := h.engine.PlaceOrder(ctx, cb.From.ID, product, asset)
	if err != nil {
		h.log.Error("failed to place order", "userID", cb.From.ID, "error", err)
		h.reply(cb.Message.Chat.ID, fmt.Sprintf(
			"❌ <b>Ошибка создания платежа</b>\n\n"+
				"Попробуйте позже или обратитесь в поддержку @%s", h.cfg.Bot.SupportUsername))
		h.answerCallback(cb.ID, "")
		return
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
		fmt.Sprintf("✅ <b>Платёж создан!</b>\n\n"+
			"🛒 <b>Заказ #%s</b>\n"+
			"Товар: %s\n"+
			"Сумма: $%.2f (%s)\n\n"+
			"⚠️ Счёт действителен 24 часа.\n"+
			"После оплаты нажмите «Проверить оплату».",
			order.OrderID, order.ProductName, order.AmountUSD, order.Asset),
		paymentKeyboard(order.PaymentURL, order.OrderID))
	edit.ParseMode = tgbotapi.ModeHTML
	h.send(edit)
	h.answerCallback(cb.ID, "")
}

// checkPayment — пользовательская проверка «я оплатил».
func (h *Handler) checkPayment(ctx context.Context, cb *tgbotapi.CallbackQuery, orderID string) {
	outcome, err := h.engine.Reconcile(ctx, orderID)
	if errors.Is(err, reconcile.ErrOrderNotFound) {
		h.answerCallback(cb.ID, "❌ Заказ не найден")
		return
	}
	if err != nil {
		h.log.Error("reconcile failed", "orderID", orderID, "error", err)
		h.answerCallback(cb.ID, "❌ Ошибка проверки, попробуйте позже")
		return
	}

	switch outcome.Kind {
	case reconcile.OutcomeConfirmed:
		h.reply(cb.Message.Chat.ID, fmt.Sprintf(
			"🎉 <b>Платёж успешно получен!</b>\n\n"+
				"✅ Заказ #%s оплачен\n\n"+
				"Спасибо за покупку! 🎁", orderID))
		h.answerCallback(cb.ID, "")

	case reconcile.OutcomeStillPending:
		h.answerCallback(cb.ID, "⏳ Платёж пока не поступил")

	case reconcile.OutcomeExpired:
		h.reply(cb.Message.Chat.ID, fmt.Sprintf(
			"⏰ <b>Срок оплаты истёк</b>\n\n"+
				"Заказ #%s не был оплачен вовремя.\n\n"+
				"🔄 Хотите создать новый платёж?", orderID))
		h.answerCallback(cb.ID, "")

	case reconcile.OutcomeAlreadyFinal:
		h.answerCallback(cb.ID, fmt.Sprintf("Заказ уже обработан: %s", outcome.FinalStatus.Human()))

	case reconcile.OutcomeCheckFailed:
		h.answerCallback(cb.ID, "❌ Не удалось проверить платёж, попробуйте позже")
	}
}

func (h *Handler) cancelOrder(ctx context.Context, cb *tgbotapi.CallbackQuery, orderID string) {
	err := h.engine.Cancel(ctx, orderID)
	switch {
	case errors.Is(err, reconcile.ErrOrderNotFound):
		h.answerCallback(cb.ID, "❌ Заказ не найден")
	case errors.Is(err, reconcile.ErrAlreadyFinal):
		h.answerCallback(cb.ID, "Заказ уже обработан")
	case err != nil:
		h.log.Error("cancel failed", "orderID", orderID, "error", err)
		h.answerCallback(cb.ID, "❌ Ошибка отмены")
	default:
		h.reply(cb.Message.Chat.ID, fmt.Sprintf(
			"🚫 <b>Заказ #%s отменён</b>\n\nХотите создать новый платёж?", orderID))
		h.answerCallback(cb.ID, "")
	}
}

func (h *Handler) showOrderDetail(cb *tgbotapi.CallbackQuery, orderID string) {
	order, err := h.store.GetOrder(orderID)
	if err != nil {
		h.answerCallback(cb.ID, "❌ Заказ не найден")
		return
	}

	text := fmt.Sprintf("%s <b>Заказ #%s</b>\n\n"+
		"Товар: %s\n"+
		"Сумма: $%.2f (%s)\n"+
		"Статус: %s\n"+
		"Создан: %s",
		order.Status.Emoji(), order.OrderID, order.ProductName,
		order.AmountUSD, order.Asset, order.Status.Human(),
		order.CreatedAt.Format("02.01.2006 15:04"))
	if order.PaidAt != nil {
		text += fmt.Sprintf("\nОплачен: %s", order.PaidAt.Format("02.01.2006 15:04"))
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
		text, orderDetailKeyboard(order))
	edit.ParseMode = tgbotapi.ModeHTML
	h.send(edit)
	h.answerCallback(cb.ID, "")
}
