package models

import "time"

// OrderStatus — статус заказа. pending является начальным,
// остальные статусы терминальные.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusCancelled OrderStatus = "cancelled"
	StatusExpired   OrderStatus = "expired"
)

// IsTerminal сообщает, достиг ли заказ конечного статуса.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo проверяет допустимость перехода. Разрешены только
// переходы pending -> {paid, cancelled, expired}.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == StatusPending && next.IsTerminal()
}

// Emoji возвращает значок статуса для сообщений бота.
func (s OrderStatus) Emoji() string {
	switch s {
	case StatusPending:
		return "⏳"
	case StatusPaid:
		return "✅"
	case StatusCancelled:
		return "🚫"
	case StatusExpired:
		return "⏰"
	}
	return "📦"
}

// Human возвращает статус на русском для сообщений бота.
func (s OrderStatus) Human() string {
	switch s {
	case StatusPending:
		return "Ожидает оплаты"
	case StatusPaid:
		return "Оплачен"
	case StatusCancelled:
		return "Отменён"
	case StatusExpired:
		return "Истёк"
	}
	return string(s)
}

// User — пользователь бота. Создаётся при первом обращении,
// TotalSpent и OrdersCount изменяются только при переходе заказа в paid.
type User struct {
	ID          int64
	Username    string
	FirstName   string
	CreatedAt   time.Time
	TotalSpent  float64
	OrdersCount int
}

// Order — заказ. OrderID генерируется при создании и служит якорем
// идемпотентности, InvoiceID присваивается платёжным провайдером.
type Order struct {
	ID          int64
	OrderID     string
	UserID      int64
	ProductID   string
	ProductName string
	AmountUSD   float64
	Asset       string
	InvoiceID   int64
	PaymentURL  string
	Status      OrderStatus
	CreatedAt   time.Time
	PaidAt      *time.Time
}

// Transaction — запись в журнале подтверждённых платежей.
// На один invoice_id может существовать не более одной записи.
type Transaction struct {
	ID        int64
	InvoiceID int64
	OrderID   string
	Amount    float64
	Asset     string
	Status    string
	CreatedAt time.Time
}
