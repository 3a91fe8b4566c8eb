// Package reconcile реализует сверку заказов с платёжным провайдером:
// решает, когда заказ переходит из pending в paid/cancelled/expired,
// и гарантирует, что денежные побочные эффекты применяются ровно один
// раз, даже когда ручная проверка и вебхук обрабатывают один и тот же
// платёж одновременно.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cryptopay-bot/config"
	"cryptopay-bot/cryptopay"
	"cryptopay-bot/db"
	"cryptopay-bot/models"

	"github.com/google/uuid"
)

var (
	// ErrOrderNotFound — заказ не найден в хранилище.
	ErrOrderNotFound = db.ErrOrderNotFound
	// ErrAlreadyFinal — попытка отменить заказ в терминальном статусе.
	ErrAlreadyFinal = errors.New("order already finalized")
)

// Store — операции хранилища, нужные движку сверки.
type Store interface {
	GetOrder(orderID string) (*models.Order, error)
	GetOrderByInvoice(invoiceID int64) (*models.Order, error)
	CreateOrder(o *models.Order) error
	GetPendingOrders(limit int) ([]models.Order, error)
	MarkOrderPaid(o *models.Order, settledAmount float64, settledAsset string, paidAt time.Time) (bool, error)
	SetOrderStatus(orderID string, status models.OrderStatus) (bool, error)
}

// Gateway — операции платёжного провайдера, нужные движку.
type Gateway interface {
	CreateInvoice(ctx context.Context, params cryptopay.CreateInvoiceParams) (*cryptopay.Invoice, error)
	CheckPayment(ctx context.Context, invoiceID int64) (cryptopay.PaymentCheck, error)
}

// Notifier — отправка уведомлений после зафиксированного перехода.
// Реализация обязана быть best-effort: ошибки доставки не влияют
// на результат сверки.
type Notifier interface {
	PaymentConfirmed(o *models.Order, settledAmount float64, settledAsset string)
	PaymentExpired(o *models.Order)
	PaymentCancelled(o *models.Order)
}

// OutcomeKind — вид результата сверки.
type OutcomeKind int

const (
	// OutcomeConfirmed — заказ переведён в paid этим вызовом.
	OutcomeConfirmed OutcomeKind = iota
	// OutcomeStillPending — счёт ещё не оплачен, изменений нет.
	OutcomeStillPending
	// OutcomeExpired — заказ переведён в expired этим вызовом.
	OutcomeExpired
	// OutcomeAlreadyFinal — заказ уже был в терминальном статусе.
	OutcomeAlreadyFinal
	// OutcomeCheckFailed — проверка не удалась, изменений нет,
	// можно повторить позже.
	OutcomeCheckFailed
)

// Outcome — результат одной сверки.
type Outcome struct {
	Kind OutcomeKind
	// FinalStatus заполнен для OutcomeAlreadyFinal.
	FinalStatus models.OrderStatus
	// Err заполнен для OutcomeCheckFailed.
	Err error
}

// Engine — движок сверки. Все зависимости внедряются при создании.
type Engine struct {
	store      Store
	gateway    Gateway
	notifier   Notifier
	sweepDelay time.Duration
	sweepLimit int
	log        *slog.Logger
}

// New создаёт движок сверки. sweepDelay — пауза между обращениями к
// провайдеру при массовой проверке, чтобы не упереться в rate limit.
func New(store Store, gateway Gateway, notifier Notifier, sweepDelay time.Duration) *Engine {
	return &Engine{
		store:      store,
		gateway:    gateway,
		notifier:   notifier,
		sweepDelay: sweepDelay,
		sweepLimit: 100,
		log:        slog.Default().With("component", "reconcile"),
	}
}

// Reconcile сверяет заказ с провайдером и применяет переход статуса.
// Терминальный заказ возвращается как AlreadyFinal без обращения к
// провайдеру — это основная защита от двойного начисления при гонке
// ручной проверки и вебхука.
func (e *Engine) Reconcile(ctx context.Context, orderID string) (Outcome, error) {
	order, err := e.store.GetOrder(orderID)
	if err != nil {
		return Outcome{}, err
	}

	if order.Status.IsTerminal() {
		return Outcome{Kind: OutcomeAlreadyFinal, FinalStatus: order.Status}, nil
	}

	// Сетевой вызов выполняется до открытия транзакции хранилища
	check, err := e.gateway.CheckPayment(ctx, order.InvoiceID)
	if err != nil {
		e.log.Warn("payment check failed", "orderID", orderID, "error", err)
		return Outcome{Kind: OutcomeCheckFailed, Err: err}, nil
	}

	switch check.Status {
	case cryptopay.StatusPaid:
		return e.applyPaid(order, check.Amount, check.Asset)
	case cryptopay.StatusExpired:
		applied, err := e.store.SetOrderStatus(order.OrderID, models.StatusExpired)
		if err != nil {
			return Outcome{Kind: OutcomeCheckFailed, Err: err}, nil
		}
		if !applied {
			return e.alreadyFinal(order.OrderID)
		}
		order.Status = models.StatusExpired
		e.notifier.PaymentExpired(order)
		return Outcome{Kind: OutcomeExpired}, nil
	default:
		return Outcome{Kind: OutcomeStillPending}, nil
	}
}

// applyPaid выполняет переход pending -> paid. Вся атомарность живёт
// в хранилище: MarkOrderPaid либо применяет переход целиком, либо
// сообщает, что его уже применил другой вызов.
func (e *Engine) applyPaid(order *models.Order, settledAmount float64, settledAsset string) (Outcome, error) {
	now := time.Now()
	applied, err := e.store.MarkOrderPaid(order, settledAmount, settledAsset, now)
	if err != nil {
		e.log.Error("mark order paid failed", "orderID", order.OrderID, "error", err)
		return Outcome{Kind: OutcomeCheckFailed, Err: err}, nil
	}
	if !applied {
		return e.alreadyFinal(order.OrderID)
	}

	order.Status = models.StatusPaid
	order.PaidAt = &now
	e.log.Info("payment confirmed", "orderID", order.OrderID, "invoiceID", order.InvoiceID,
		"amount", settledAmount, "asset", settledAsset)
	e.notifier.PaymentConfirmed(order, settledAmount, settledAsset)
	return Outcome{Kind: OutcomeConfirmed}, nil
}

// alreadyFinal перечитывает заказ, чтобы сообщить его фактический
// терминальный статус после проигранной гонки.
func (e *Engine) alreadyFinal(orderID string) (Outcome, error) {
	order, err := e.store.GetOrder(orderID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeAlreadyFinal, FinalStatus: order.Status}, nil
}

// Cancel отменяет заказ по инициативе пользователя или администратора.
// Разрешена только отмена pending-заказа; для терминального заказа
// возвращается ErrAlreadyFinal без каких-либо изменений.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	order, err := e.store.GetOrder(orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return ErrAlreadyFinal
	}

	applied, err := e.store.SetOrderStatus(orderID, models.StatusCancelled)
	if err != nil {
		return err
	}
	if !applied {
		return ErrAlreadyFinal
	}

	order.Status = models.StatusCancelled
	e.log.Info("order cancelled", "orderID", orderID)
	e.notifier.PaymentCancelled(order)
	return nil
}

// ApplyWebhookPaidEvent — push-эквивалент оплаченной ветки Reconcile.
// Заказ ищется сначала по payload (order_id, вшитый при создании
// счёта), затем по invoice_id. Защита от двойного начисления та же,
// что и у Reconcile, поэтому их можно безопасно вызывать параллельно
// для одного заказа.
func (e *Engine) ApplyWebhookPaidEvent(ctx context.Context, invoiceID int64, orderPayload string, settledAmount float64, settledAsset string) (Outcome, error) {
	var order *models.Order
	var err error

	if orderPayload != "" {
		order, err = e.store.GetOrder(orderPayload)
		if err != nil && !errors.Is(err, ErrOrderNotFound) {
			return Outcome{}, err
		}
	}
	if order == nil {
		order, err = e.store.GetOrderByInvoice(invoiceID)
		if err != nil {
			return Outcome{}, err
		}
	}

	if order.Status.IsTerminal() {
		return Outcome{Kind: OutcomeAlreadyFinal, FinalStatus: order.Status}, nil
	}
	return e.applyPaid(order, settledAmount, settledAsset)
}

// PlaceOrder создаёт счёт у провайдера и сохраняет pending-заказ.
// order_id вшивается в payload счёта, чтобы вебхук мог найти заказ.
func (e *Engine) PlaceOrder(ctx context.Context, userID int64, product config.Product, asset string) (*models.Order, error) {
	orderID := newOrderID()

	invoice, err := e.gateway.CreateInvoice(ctx, cryptopay.CreateInvoiceParams{
		Asset:       asset,
		Amount:      product.PriceUSD,
		Description: fmt.Sprintf("Оплата заказа #%s", orderID),
		Payload:     orderID,
		ExpiresIn:   config.InvoiceExpiresIn,
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	order := &models.Order{
		OrderID:     orderID,
		UserID:      userID,
		ProductID:   product.ID,
		ProductName: product.Name,
		AmountUSD:   product.PriceUSD,
		Asset:       invoice.Asset,
		InvoiceID:   invoice.InvoiceID,
		PaymentURL:  invoice.PaymentURL(),
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := e.store.CreateOrder(order); err != nil {
		return nil, err
	}

	e.log.Info("order placed", "orderID", orderID, "invoiceID", invoice.InvoiceID,
		"userID", userID, "product", product.ID)
	return order, nil
}

func newOrderID() string {
	return fmt.Sprintf("%s_%s", time.Now().Format("20060102150405"), uuid.NewString()[:8])
}

// SweepReport — итог массовой проверки ожидающих заказов.
type SweepReport struct {
	Checked   int
	Confirmed int
	Expired   int
	Failed    int
}

// SweepPending последовательно сверяет все ожидающие заказы с паузой
// между обращениями к провайдеру. Ошибка проверки одного заказа не
// прерывает обход остальных.
func (e *Engine) SweepPending(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	orders, err := e.store.GetPendingOrders(e.sweepLimit)
	if err != nil {
		return report, err
	}

	for i, order := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, err := e.Reconcile(ctx, order.OrderID)
		if err != nil {
			e.log.Warn("sweep reconcile failed", "orderID", order.OrderID, "error", err)
			report.Failed++
			continue
		}
		report.Checked++
		switch outcome.Kind {
		case OutcomeConfirmed:
			report.Confirmed++
		case OutcomeExpired:
			report.Expired++
		case OutcomeCheckFailed:
			report.Failed++
		}

		if i < len(orders)-1 && e.sweepDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(e.sweepDelay):
			}
		}
	}
	return report, nil
}
