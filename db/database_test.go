package db

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cryptopay-bot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestOrder(userID int64, orderID string, invoiceID int64) *models.Order {
	return &models.Order{
		OrderID:     orderID,
		UserID:      userID,
		ProductID:   "basic",
		ProductName: "Базовый тариф",
		AmountUSD:   9.99,
		Asset:       "USDT",
		InvoiceID:   invoiceID,
		PaymentURL:  "https://t.me/CryptoBot?start=test",
		CreatedAt:   time.Now(),
	}
}

func TestGetOrCreateUser(t *testing.T) {
	store := newTestStore(t)

	user, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Zero(t, user.TotalSpent)

	// Повторный вызов не перезаписывает существующего пользователя
	again, err := store.GetOrCreateUser(100, "renamed", "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
}

func TestGetUserNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetUser(404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateAndGetOrder(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	order := newTestOrder(100, "20260830120000_ab12cd34", 555)
	require.NoError(t, store.CreateOrder(order))
	assert.NotZero(t, order.ID)

	got, err := store.GetOrder(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, int64(555), got.InvoiceID)
	assert.Nil(t, got.PaidAt)

	byInvoice, err := store.GetOrderByInvoice(555)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, byInvoice.OrderID)

	_, err = store.GetOrder("missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = store.GetOrderByInvoice(999)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMarkOrderPaidAppliesOnce(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	order := newTestOrder(100, "order-1", 555)
	require.NoError(t, store.CreateOrder(order))

	paidAt := time.Now()
	applied, err := store.MarkOrderPaid(order, 9.99, "USDT", paidAt)
	require.NoError(t, err)
	assert.True(t, applied)

	// Повторное начисление по тому же заказу не проходит
	applied, err = store.MarkOrderPaid(order, 9.99, "USDT", time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.GetOrder(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)

	user, err := store.GetUser(100)
	require.NoError(t, err)
	assert.InDelta(t, 9.99, user.TotalSpent, 0.001)
	assert.Equal(t, 1, user.OrdersCount)

	count, err := store.CountTransactions(555)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	txn, err := store.GetTransactionByInvoice(555)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, txn.OrderID)
	assert.InDelta(t, 9.99, txn.Amount, 0.001)
	assert.Equal(t, "USDT", txn.Asset)
}

func TestMarkOrderPaidDuplicateInvoice(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	// Два разных заказа указывают на один счёт провайдера
	first := newTestOrder(100, "order-1", 555)
	second := newTestOrder(100, "order-2", 555)
	require.NoError(t, store.CreateOrder(first))
	require.NoError(t, store.CreateOrder(second))

	applied, err := store.MarkOrderPaid(first, 9.99, "USDT", time.Now())
	require.NoError(t, err)
	assert.True(t, applied)

	// UNIQUE по invoice_id откатывает весь переход второго заказа
	applied, err = store.MarkOrderPaid(second, 9.99, "USDT", time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.GetOrder("order-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	user, err := store.GetUser(100)
	require.NoError(t, err)
	assert.InDelta(t, 9.99, user.TotalSpent, 0.001)
	assert.Equal(t, 1, user.OrdersCount)

	count, err := store.CountTransactions(555)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkOrderPaidConcurrent(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	order := newTestOrder(100, "order-1", 555)
	require.NoError(t, store.CreateOrder(order))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := store.MarkOrderPaid(order, 9.99, "USDT", time.Now())
			assert.NoError(t, err)
			results <- applied
		}()
	}
	wg.Wait()
	close(results)

	appliedCount := 0
	for applied := range results {
		if applied {
			appliedCount++
		}
	}
	assert.Equal(t, 1, appliedCount)

	user, err := store.GetUser(100)
	require.NoError(t, err)
	assert.InDelta(t, 9.99, user.TotalSpent, 0.001)
	assert.Equal(t, 1, user.OrdersCount)

	count, err := store.CountTransactions(555)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSetOrderStatus(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	order := newTestOrder(100, "order-1", 555)
	require.NoError(t, store.CreateOrder(order))

	applied, err := store.SetOrderStatus("order-1", models.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, applied)

	// Терминальный статус менять нельзя
	applied, err = store.SetOrderStatus("order-1", models.StatusExpired)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.GetOrder("order-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestSetOrderStatusRejectsNonTerminal(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SetOrderStatus("order-1", models.StatusPending)
	assert.Error(t, err)
}

func TestGetPendingOrders(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	older := newTestOrder(100, "order-1", 1)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newTestOrder(100, "order-2", 2)
	paid := newTestOrder(100, "order-3", 3)
	require.NoError(t, store.CreateOrder(older))
	require.NoError(t, store.CreateOrder(newer))
	require.NoError(t, store.CreateOrder(paid))

	_, err = store.MarkOrderPaid(paid, 9.99, "USDT", time.Now())
	require.NoError(t, err)

	pending, err := store.GetPendingOrders(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// Старые заказы идут первыми
	assert.Equal(t, "order-1", pending[0].OrderID)
	assert.Equal(t, "order-2", pending[1].OrderID)
}

func TestGetUserOrders(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)
	_, err = store.GetOrCreateUser(200, "bob", "Bob")
	require.NoError(t, err)

	mine := newTestOrder(100, "order-1", 1)
	other := newTestOrder(200, "order-2", 2)
	require.NoError(t, store.CreateOrder(mine))
	require.NoError(t, store.CreateOrder(other))

	orders, err := store.GetUserOrders(100, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "order-1", orders[0].OrderID)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	paid := newTestOrder(100, "order-1", 1)
	pending := newTestOrder(100, "order-2", 2)
	require.NoError(t, store.CreateOrder(paid))
	require.NoError(t, store.CreateOrder(pending))
	_, err = store.MarkOrderPaid(paid, 9.99, "USDT", time.Now())
	require.NoError(t, err)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, 1, stats.PaidOrders)
	assert.InDelta(t, 9.99, stats.TotalAmount, 0.001)
	assert.Equal(t, 1, stats.UsersCount)
}

func TestDeleteOldCancelled(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	old := newTestOrder(100, "order-1", 1)
	old.CreatedAt = time.Now().AddDate(0, 0, -40)
	fresh := newTestOrder(100, "order-2", 2)
	require.NoError(t, store.CreateOrder(old))
	require.NoError(t, store.CreateOrder(fresh))

	_, err = store.SetOrderStatus("order-1", models.StatusCancelled)
	require.NoError(t, err)
	_, err = store.SetOrderStatus("order-2", models.StatusCancelled)
	require.NoError(t, err)

	deleted, err := store.DeleteOldCancelled(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetOrder("order-1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = store.GetOrder("order-2")
	assert.NoError(t, err)
}

func TestTransactionExists(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrCreateUser(100, "alice", "Alice")
	require.NoError(t, err)

	order := newTestOrder(100, "order-1", 555)
	require.NoError(t, store.CreateOrder(order))

	exists, err := store.TransactionExists(555)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.MarkOrderPaid(order, 9.99, "USDT", time.Now())
	require.NoError(t, err)

	exists, err = store.TransactionExists(555)
	require.NoError(t, err)
	assert.True(t, exists)
}
