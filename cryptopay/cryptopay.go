package cryptopay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	BaseURL        = "https://pay.crypt.bot/api"
	TestnetBaseURL = "https://testnet-pay.crypt.bot/api"
)

// ErrInvoiceNotFound возвращается, когда провайдер не знает такой счёт.
var ErrInvoiceNotFound = errors.New("invoice not found")

// Status — нормализованный статус счёта. Провайдер отдаёт "active",
// который здесь приводится к pending; неизвестный счёт считается expired.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
)

func normalizeStatus(raw string) Status {
	switch raw {
	case "active":
		return StatusPending
	case "paid":
		return StatusPaid
	default:
		return StatusExpired
	}
}

// Client представляет клиента для работы с Crypto Pay API.
type Client struct {
	apiToken string
	baseURL  string
	http     *http.Client
}

// NewClient создает новый экземпляр клиента Crypto Pay.
func NewClient(apiToken string, useTestnet bool) *Client {
	base := BaseURL
	if useTestnet {
		base = TestnetBaseURL
	}
	return &Client{
		apiToken: apiToken,
		baseURL:  base,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithBaseURL используется в тестах для подмены адреса API.
func NewClientWithBaseURL(apiToken, baseURL string) *Client {
	return &Client{
		apiToken: apiToken,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateInvoiceParams определяет параметры для создания счета.
type CreateInvoiceParams struct {
	Asset       string  `json:"asset"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	Payload     string  `json:"payload,omitempty"`
	ExpiresIn   int     `json:"expires_in,omitempty"`
}

// Float64String - кастомный тип для разбора строки в float64.
type Float64String float64

func (f *Float64String) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = Float64String(val)
	return nil
}

// TimeString - кастомный тип для разбора строки ISO 8601 в time.Time.
type TimeString struct {
	time.Time
}

func (t *TimeString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Invoice представляет структуру счета, возвращаемого API.
type Invoice struct {
	InvoiceID     int64         `json:"invoice_id"`
	Status        string        `json:"status"`
	Hash          string        `json:"hash"`
	Asset         string        `json:"asset"`
	Amount        Float64String `json:"amount"`
	PayURL        string        `json:"pay_url"`
	BotInvoiceURL string        `json:"bot_invoice_url"`
	Description   string        `json:"description"`
	CreatedAt     TimeString    `json:"created_at"`
	ExpiresAt     TimeString    `json:"expiration_date"`
	PaidAt        TimeString    `json:"paid_at,omitempty"`
	Payload       string        `json:"payload"`
}

// PaymentURL возвращает актуальную ссылку на оплату: новые версии API
// отдают bot_invoice_url, старые pay_url.
func (i *Invoice) PaymentURL() string {
	if i.BotInvoiceURL != "" {
		return i.BotInvoiceURL
	}
	return i.PayURL
}

// apiError — структура ошибки в ответе API.
type apiError struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *apiError) text() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Name != "" {
		return e.Name
	}
	return "unknown error"
}

// apiResponse представляет общую структуру ответа от API.
type apiResponse struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error,omitempty"`
}

func (c *Client) request(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Crypto-Pay-API-Token", c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if !apiResp.Ok {
		if apiResp.Error != nil && strings.Contains(apiResp.Error.text(), "INVOICE_NOT_FOUND") {
			return nil, ErrInvoiceNotFound
		}
		var msg string
		if apiResp.Error != nil {
			msg = apiResp.Error.text()
		} else {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("api error on %s: %s", endpoint, msg)
	}
	return apiResp.Result, nil
}

// CreateInvoice создает счет для оплаты.
func (c *Client) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	result, err := c.request(ctx, http.MethodPost, "createInvoice", params)
	if err != nil {
		return nil, err
	}
	var invoice Invoice
	if err := json.Unmarshal(result, &invoice); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	return &invoice, nil
}

// GetInvoice получает информацию о счете по его ID.
func (c *Client) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	result, err := c.request(ctx, http.MethodGet, fmt.Sprintf("getInvoice/%d", invoiceID), nil)
	if err != nil {
		return nil, err
	}
	var invoice Invoice
	if err := json.Unmarshal(result, &invoice); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	return &invoice, nil
}

// PaymentCheck — нормализованный результат проверки счёта.
type PaymentCheck struct {
	InvoiceID int64
	Status    Status
	Amount    float64
	Asset     string
}

// Paid сообщает, оплачен ли счёт.
func (p PaymentCheck) Paid() bool {
	return p.Status == StatusPaid
}

// CheckPayment запрашивает у провайдера статус счёта и нормализует его.
// Неизвестный провайдеру счёт считается expired: прогресс по нему
// невозможен. Транспортные ошибки возвращаются как есть, чтобы
// вызывающая сторона могла повторить попытку позже.
func (c *Client) CheckPayment(ctx context.Context, invoiceID int64) (PaymentCheck, error) {
	invoice, err := c.GetInvoice(ctx, invoiceID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return PaymentCheck{InvoiceID: invoiceID, Status: StatusExpired}, nil
	}
	if err != nil {
		return PaymentCheck{}, err
	}
	return PaymentCheck{
		InvoiceID: invoice.InvoiceID,
		Status:    normalizeStatus(invoice.Status),
		Amount:    float64(invoice.Amount),
		Asset:     invoice.Asset,
	}, nil
}

// Balance представляет баланс приложения по одному активу.
type Balance struct {
	CurrencyCode string        `json:"currency_code"`
	Available    Float64String `json:"available"`
	Onhold       Float64String `json:"onhold"`
}

// GetBalance возвращает балансы приложения.
func (c *Client) GetBalance(ctx context.Context) ([]Balance, error) {
	result, err := c.request(ctx, http.MethodGet, "getBalance", nil)
	if err != nil {
		return nil, err
	}
	var balances []Balance
	if err := json.Unmarshal(result, &balances); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	return balances, nil
}

// AppInfo — информация о приложении Crypto Pay.
type AppInfo struct {
	AppID   int64  `json:"app_id"`
	Name    string `json:"name"`
	BotName string `json:"payment_processing_bot_username"`
}

// GetMe возвращает информацию о приложении, полезно для проверки токена.
func (c *Client) GetMe(ctx context.Context) (*AppInfo, error) {
	result, err := c.request(ctx, http.MethodGet, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var info AppInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("decode app info: %w", err)
	}
	return &info, nil
}

// VerifySignature проверяет подпись вебхука: hex HMAC-SHA256 от тела
// запроса, где ключом служит SHA256 от API-токена.
func VerifySignature(apiToken string, body []byte, signature string) bool {
	if signature == "" || len(body) == 0 {
		return false
	}
	secret := sha256.Sum256([]byte(apiToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign вычисляет подпись тела запроса. Используется в тестах вебхука.
func Sign(apiToken string, body []byte) string {
	secret := sha256.Sum256([]byte(apiToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
