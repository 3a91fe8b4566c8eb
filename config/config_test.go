package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("CRYPTOBOT_API_TOKEN", "456:def")
	t.Setenv("ADMIN_IDS", "111, 222")
	t.Setenv("CRYPTOBOT_TESTNET", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, []int64{111, 222}, cfg.Bot.AdminIDs)
	assert.True(t, cfg.CryptoPay.UseTestnet)
	assert.Equal(t, "payments.db", cfg.Database.Path)
	assert.Equal(t, ":8080", cfg.Webhook.ListenAddr)
	assert.Equal(t, "@every 5m", cfg.Webhook.SweepSchedule)
}

func TestLoadRequiresTokens(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("CRYPTOBOT_API_TOKEN", "456:def")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadAdminIDs(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("CRYPTOBOT_API_TOKEN", "456:def")
	t.Setenv("ADMIN_IDS", "111,notanumber")

	_, err := Load()
	assert.Error(t, err)
}

func TestIsAdmin(t *testing.T) {
	cfg := BotConfig{AdminIDs: []int64{111, 222}}
	assert.True(t, cfg.IsAdmin(111))
	assert.False(t, cfg.IsAdmin(333))
}

func TestProductByID(t *testing.T) {
	p, ok := ProductByID("basic")
	require.True(t, ok)
	assert.Equal(t, 9.99, p.PriceUSD)

	_, ok = ProductByID("missing")
	assert.False(t, ok)
}
