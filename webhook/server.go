// Package webhook принимает уведомления Crypto Pay об оплате счетов
// и отдаёт статус заказа по HTTP.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"cryptopay-bot/cryptopay"
	"cryptopay-bot/models"
	"cryptopay-bot/reconcile"

	"github.com/gofiber/fiber/v2"
)

// Reconciler — операции движка сверки, нужные вебхук-серверу.
type Reconciler interface {
	ApplyWebhookPaidEvent(ctx context.Context, invoiceID int64, orderPayload string, settledAmount float64, settledAsset string) (reconcile.Outcome, error)
}

// OrderGetter — чтение заказа для API статуса.
type OrderGetter interface {
	GetOrder(orderID string) (*models.Order, error)
}

// update — тело вебхука Crypto Pay.
type update struct {
	UpdateID    int64          `json:"update_id"`
	UpdateType  string         `json:"update_type"`
	RequestDate string         `json:"request_date"`
	Payload     invoicePayload `json:"payload"`
}

// invoicePayload — объект Invoice внутри вебхука. Суммы провайдер
// передаёт строками.
type invoicePayload struct {
	InvoiceID int64                   `json:"invoice_id"`
	Status    string                  `json:"status"`
	Amount    cryptopay.Float64String `json:"amount"`
	Asset     string                  `json:"asset"`
	Payload   string                  `json:"payload"`
}

// Server — HTTP-сервер вебхуков на fiber.
type Server struct {
	app      *fiber.App
	engine   Reconciler
	store    OrderGetter
	apiToken string
	log      *slog.Logger
}

// New создаёт сервер и регистрирует маршруты. path — путь вебхука
// из конфигурации.
func New(engine Reconciler, store OrderGetter, apiToken, path string) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           10 * time.Second,
		}),
		engine:   engine,
		store:    store,
		apiToken: apiToken,
		log:      slog.Default().With("component", "webhook"),
	}

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/api/status/:order_id", s.handleOrderStatus)
	s.app.Post(path, s.handleWebhook)
	return s
}

// App возвращает fiber-приложение, используется в тестах.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen запускает сервер на указанном адресе.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown останавливает сервер, дожидаясь активных запросов.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleOrderStatus(c *fiber.Ctx) error {
	order, err := s.store.GetOrder(c.Params("order_id"))
	if errors.Is(err, reconcile.ErrOrderNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Order not found"})
	}
	if err != nil {
		s.log.Error("order status lookup failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return c.JSON(fiber.Map{
		"status":  string(order.Status),
		"amount":  order.AmountUSD,
		"product": order.ProductName,
	})
}

// handleWebhook обрабатывает уведомление провайдера. Запросы с
// отсутствующей или неверной подписью отклоняются: поддельное
// подтверждение оплаты не должно доходить до движка сверки.
func (s *Server) handleWebhook(c *fiber.Ctx) error {
	body := c.Body()
	signature := c.Get("crypto-pay-api-signature")

	if !cryptopay.VerifySignature(s.apiToken, body, signature) {
		s.log.Warn("rejected webhook with invalid signature")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
	}

	var upd update
	if err := json.Unmarshal(body, &upd); err != nil {
		s.log.Warn("invalid webhook body", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	s.log.Info("webhook received", "updateID", upd.UpdateID, "updateType", upd.UpdateType)

	if upd.UpdateType != "invoice_paid" {
		return c.JSON(fiber.Map{"status": "ignored"})
	}
	if upd.Payload.InvoiceID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no invoice_id"})
	}

	outcome, err := s.engine.ApplyWebhookPaidEvent(
		c.Context(),
		upd.Payload.InvoiceID,
		upd.Payload.Payload,
		float64(upd.Payload.Amount),
		upd.Payload.Asset,
	)
	if errors.Is(err, reconcile.ErrOrderNotFound) {
		s.log.Warn("order not found for webhook", "invoiceID", upd.Payload.InvoiceID)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Order not found"})
	}
	if err != nil {
		s.log.Error("webhook processing failed", "invoiceID", upd.Payload.InvoiceID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing failed"})
	}

	if outcome.Kind == reconcile.OutcomeAlreadyFinal {
		return c.JSON(fiber.Map{"status": "already_processed"})
	}
	if outcome.Kind == reconcile.OutcomeCheckFailed {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing failed"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
