package notify

import (
	"fmt"
	"log/slog"
	"time"

	"cryptopay-bot/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender — минимальный интерфейс отправки сообщений, который
// реализует *tgbotapi.BotAPI. Выделен для подмены в тестах.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Dispatcher отправляет шаблонные уведомления о судьбе заказа.
// Доставка best-effort: ошибки логируются и не возвращаются, чтобы
// сбой отправки никогда не откатывал уже зафиксированный переход.
type Dispatcher struct {
	bot      Sender
	adminIDs []int64
	log      *slog.Logger
}

// New создаёт диспетчер уведомлений.
func New(bot Sender, adminIDs []int64) *Dispatcher {
	return &Dispatcher{
		bot:      bot,
		adminIDs: adminIDs,
		log:      slog.Default().With("component", "notify"),
	}
}

func (d *Dispatcher) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := d.bot.Send(msg); err != nil {
		d.log.Warn("failed to send notification", "chatID", chatID, "error", err)
	}
}

// PaymentConfirmed уведомляет владельца заказа об успешной оплате,
// а администраторов — о новом платеже.
func (d *Dispatcher) PaymentConfirmed(o *models.Order, settledAmount float64, settledAsset string) {
	d.send(o.UserID, fmt.Sprintf(
		"🎉 <b>Платёж успешно получен!</b>\n\n"+
			"✅ Заказ #%s оплачен\n"+
			"💰 Сумма: %.2f %s ($%.2f)\n"+
			"📅 Дата: %s\n\n"+
			"Спасибо за покупку! 🎁",
		o.OrderID, settledAmount, settledAsset, o.AmountUSD,
		time.Now().Format("02.01.2006 15:04")))

	for _, adminID := range d.adminIDs {
		d.send(adminID, fmt.Sprintf(
			"💰 <b>Новый платёж!</b>\n\n"+
				"Заказ: #%s\n"+
				"Товар: %s\n"+
				"Сумма: $%.2f\n"+
				"Пользователь: %d",
			o.OrderID, o.ProductName, o.AmountUSD, o.UserID))
	}
}

// PaymentExpired уведомляет владельца, что срок оплаты истёк.
func (d *Dispatcher) PaymentExpired(o *models.Order) {
	d.send(o.UserID, fmt.Sprintf(
		"⏰ <b>Срок оплаты истёк</b>\n\n"+
			"Заказ #%s не был оплачен вовремя.\n\n"+
			"🔄 Хотите создать новый платёж?",
		o.OrderID))
}

// PaymentCancelled уведомляет владельца об отмене заказа.
func (d *Dispatcher) PaymentCancelled(o *models.Order) {
	d.send(o.UserID, fmt.Sprintf(
		"🚫 <b>Заказ #%s отменён</b>\n\n"+
			"Хотите создать новый платёж?",
		o.OrderID))
}
