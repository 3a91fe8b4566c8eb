package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config — конфигурация приложения. Загружается один раз в main
// и передаётся компонентам явно.
type Config struct {
	Bot       BotConfig
	CryptoPay CryptoPayConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
}

// BotConfig — настройки Telegram-бота.
type BotConfig struct {
	Token           string
	AdminIDs        []int64
	SupportUsername string
}

// CryptoPayConfig — настройки Crypto Pay API.
type CryptoPayConfig struct {
	APIToken   string
	UseTestnet bool
}

// DatabaseConfig — настройки базы данных.
type DatabaseConfig struct {
	Path string
}

// WebhookConfig — настройки вебхук-сервера.
type WebhookConfig struct {
	Path          string
	ListenAddr    string
	SweepSchedule string
}

// Load читает конфигурацию из .env файла и переменных окружения.
// Переменные окружения имеют приоритет над .env.
func Load() (*Config, error) {
	// .env может отсутствовать (Docker, CI) — это не ошибка
	_ = godotenv.Load()

	cfg := &Config{
		Bot: BotConfig{
			Token:           getEnv("BOT_TOKEN", ""),
			SupportUsername: getEnv("SUPPORT_USERNAME", "support"),
		},
		CryptoPay: CryptoPayConfig{
			APIToken:   getEnv("CRYPTOBOT_API_TOKEN", ""),
			UseTestnet: getEnv("CRYPTOBOT_TESTNET", "false") == "true",
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "payments.db"),
		},
		Webhook: WebhookConfig{
			Path:          getEnv("WEBHOOK_PATH", "/webhook"),
			ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
			SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 5m"),
		},
	}

	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("BOT_TOKEN is not set")
	}
	if cfg.CryptoPay.APIToken == "" {
		return nil, fmt.Errorf("CRYPTOBOT_API_TOKEN is not set")
	}

	adminIDs, err := parseAdminIDs(getEnv("ADMIN_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}
	cfg.Bot.AdminIDs = adminIDs

	return cfg, nil
}

// IsAdmin проверяет, входит ли пользователь в список администраторов.
func (c *BotConfig) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Product — товар из фиксированного каталога.
type Product struct {
	ID       string
	Name     string
	PriceUSD float64
}

// Products — каталог товаров. Порядок важен для клавиатуры.
var Products = []Product{
	{ID: "basic", Name: "Базовый тариф", PriceUSD: 9.99},
	{ID: "standard", Name: "Стандартный тариф", PriceUSD: 29.99},
	{ID: "premium", Name: "Премиум тариф", PriceUSD: 99.99},
}

// ProductByID ищет товар в каталоге.
func ProductByID(id string) (Product, bool) {
	for _, p := range Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// SupportedAssets — криптовалюты, доступные для оплаты.
var SupportedAssets = []string{"USDT", "TON", "BTC", "ETH"}

// InvoiceExpiresIn — время жизни счёта в секундах (24 часа).
const InvoiceExpiresIn = 86400
