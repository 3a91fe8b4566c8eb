package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// handleAdminMessage обрабатывает команды админ-панели. Возвращает
// true, если сообщение было админской командой и дальше его
// обрабатывать не нужно.
func (h *Handler) handleAdminMessage(ctx context.Context, msg *tgbotapi.Message) bool {
	switch msg.Text {
	case "/admin":
		m := tgbotapi.NewMessage(msg.Chat.ID, "Админ-панель. Выберите действие:")
		m.ReplyMarkup = adminMenu()
		h.send(m)

	case "📊 Статистика":
		h.showStats(msg.Chat.ID)

	case "🔄 Проверить платежи":
		h.sweepPending(ctx, msg.Chat.ID)

	case "📋 Последние заказы":
		h.showRecentOrders(msg.Chat.ID)

	case "🏆 Топ покупателей":
		h.showTopUsers(msg.Chat.ID)

	case "💼 Баланс CryptoBot":
		h.showBalance(ctx, msg.Chat.ID)

	case "⬅️ Обычное меню":
		m := tgbotapi.NewMessage(msg.Chat.ID, "Главное меню:")
		m.ReplyMarkup = mainMenu()
		h.send(m)

	default:
		return false
	}
	return true
}

func (h *Handler) showStats(chatID int64) {
	stats, err := h.store.GetStats()
	if err != nil {
		h.log.Error("failed to get stats", "error", err)
		h.reply(chatID, "Ошибка при получении статистики.")
		return
	}
	h.reply(chatID, fmt.Sprintf(
		"📊 <b>Статистика</b>\n\n"+
			"💰 <b>За сегодня:</b>\n"+
			"• Заказов: %d\n"+
			"• Получено: $%.2f\n\n"+
			"📈 <b>За всё время:</b>\n"+
			"• Всего заказов: %d\n"+
			"• Оплачено: %d\n"+
			"• Всего получено: $%.2f\n"+
			"• Пользователей: %d",
		stats.TodayOrders, stats.TodayAmount,
		stats.TotalOrders, stats.PaidOrders, stats.TotalAmount, stats.UsersCount))
}

// sweepPending запускает массовую проверку ожидающих заказов.
func (h *Handler) sweepPending(ctx context.Context, chatID int64) {
	h.reply(chatID, "🔄 Проверяю ожидающие платежи...")

	report, err := h.engine.SweepPending(ctx)
	if err != nil {
		h.log.Error("sweep failed", "error", err)
		h.reply(chatID, "Ошибка при проверке платежей.")
		return
	}
	h.reply(chatID, fmt.Sprintf(
		"✅ <b>Проверка завершена</b>\n\n"+
			"Проверено: %d\n"+
			"Подтверждено: %d\n"+
			"Истекло: %d\n"+
			"Ошибок: %d",
		report.Checked, report.Confirmed, report.Expired, report.Failed))
}

func (h *Handler) showRecentOrders(chatID int64) {
	orders, err := h.store.GetRecentOrders(7, 20)
	if err != nil {
		h.log.Error("failed to get recent orders", "error", err)
		h.reply(chatID, "Ошибка при получении заказов.")
		return
	}
	if len(orders) == 0 {
		h.reply(chatID, "Заказов за последнюю неделю нет.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>Заказы за 7 дней</b>\n\n")
	for _, o := range orders {
		sb.WriteString(fmt.Sprintf("%s <b>#%s</b>\n   %s — $%.2f — %d\n   %s\n\n",
			o.Status.Emoji(), o.OrderID, o.ProductName, o.AmountUSD, o.UserID,
			o.CreatedAt.Format("02.01 15:04")))
	}
	h.reply(chatID, sb.String())
}

func (h *Handler) showTopUsers(chatID int64) {
	users, err := h.store.GetTopUsers(10)
	if err != nil {
		h.log.Error("failed to get top users", "error", err)
		h.reply(chatID, "Ошибка при получении топа покупателей.")
		return
	}
	if len(users) == 0 {
		h.reply(chatID, "Пользователей пока нет.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🏆 <b>Топ покупателей</b>\n\n")
	for i, u := range users {
		name := u.Username
		if name == "" {
			name = fmt.Sprintf("%d", u.ID)
		}
		sb.WriteString(fmt.Sprintf("%d. %s — $%.2f (%d покупок)\n",
			i+1, name, u.TotalSpent, u.OrdersCount))
	}
	h.reply(chatID, sb.String())
}

func (h *Handler) showBalance(ctx context.Context, chatID int64) {
	balances, err := h.gateway.GetBalance(ctx)
	if err != nil {
		h.log.Error("failed to get balance", "error", err)
		h.reply(chatID, "Ошибка при получении баланса CryptoBot.")
		return
	}

	var sb strings.Builder
	sb.WriteString("💼 <b>Баланс CryptoBot</b>\n\n")
	nonZero := 0
	for _, b := range balances {
		if float64(b.Available) == 0 && float64(b.Onhold) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("• %s: %.8f (в холде: %.8f)\n",
			b.CurrencyCode, float64(b.Available), float64(b.Onhold)))
		nonZero++
	}
	if nonZero == 0 {
		sb.WriteString("Все балансы нулевые.")
	}
	h.reply(chatID, sb.String())
}
