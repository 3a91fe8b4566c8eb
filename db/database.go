package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cryptopay-bot/models"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUserNotFound  = errors.New("user not found")
)

// Store — хранилище пользователей, заказов и транзакций поверх SQLite.
// Гарантии идемпотентности обеспечиваются на уровне хранилища:
// CAS-переход по статусу заказа плюс UNIQUE-ограничение на
// transactions.invoice_id.
type Store struct {
	db *sql.DB
}

// Open открывает базу данных и создаёт схему при необходимости.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			username TEXT,
			first_name TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			total_spent REAL DEFAULT 0.0,
			orders_count INTEGER DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT UNIQUE NOT NULL,
			user_id INTEGER NOT NULL,
			product_id TEXT,
			product_name TEXT,
			amount_usd REAL,
			asset TEXT,
			invoice_id INTEGER,
			payment_url TEXT,
			status TEXT DEFAULT 'pending',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			paid_at TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(user_id)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invoice_id INTEGER UNIQUE NOT NULL,
			order_id TEXT NOT NULL,
			amount REAL,
			asset TEXT,
			status TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
		CREATE INDEX IF NOT EXISTS idx_orders_invoice_id ON orders(invoice_id);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// ============ Пользователи ============

// GetOrCreateUser возвращает пользователя, создавая его при первом обращении.
func (s *Store) GetOrCreateUser(userID int64, username, firstName string) (*models.User, error) {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO users (user_id, username, first_name) VALUES (?, ?, ?)",
		userID, username, firstName)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUser(userID)
}

// GetUser возвращает пользователя по ID.
func (s *Store) GetUser(userID int64) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRow(
		"SELECT user_id, username, first_name, created_at, total_spent, orders_count FROM users WHERE user_id = ?",
		userID).Scan(&u.ID, &u.Username, &u.FirstName, &u.CreatedAt, &u.TotalSpent, &u.OrdersCount)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetTopUsers возвращает пользователей с наибольшими тратами.
func (s *Store) GetTopUsers(limit int) ([]models.User, error) {
	rows, err := s.db.Query(
		"SELECT user_id, username, first_name, created_at, total_spent, orders_count FROM users ORDER BY total_spent DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("get top users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.CreatedAt, &u.TotalSpent, &u.OrdersCount); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ============ Заказы ============

const orderColumns = "id, order_id, user_id, product_id, product_name, amount_usd, asset, invoice_id, payment_url, status, created_at, paid_at"

// CreateOrder сохраняет новый заказ в статусе pending.
func (s *Store) CreateOrder(o *models.Order) error {
	res, err := s.db.Exec(`
		INSERT INTO orders (order_id, user_id, product_id, product_name, amount_usd, asset, invoice_id, payment_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.UserID, o.ProductID, o.ProductName, o.AmountUSD, o.Asset,
		o.InvoiceID, o.PaymentURL, string(models.StatusPending), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	o.Status = models.StatusPending
	o.ID, _ = res.LastInsertId()
	return nil
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	o := &models.Order{}
	var paidAt sql.NullTime
	var status string
	err := row.Scan(&o.ID, &o.OrderID, &o.UserID, &o.ProductID, &o.ProductName,
		&o.AmountUSD, &o.Asset, &o.InvoiceID, &o.PaymentURL, &status, &o.CreatedAt, &paidAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = models.OrderStatus(status)
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	return o, nil
}

// GetOrder возвращает заказ по его идентификатору.
func (s *Store) GetOrder(orderID string) (*models.Order, error) {
	return scanOrder(s.db.QueryRow(
		"SELECT "+orderColumns+" FROM orders WHERE order_id = ?", orderID))
}

// GetOrderByInvoice возвращает заказ по идентификатору счёта провайдера.
func (s *Store) GetOrderByInvoice(invoiceID int64) (*models.Order, error) {
	return scanOrder(s.db.QueryRow(
		"SELECT "+orderColumns+" FROM orders WHERE invoice_id = ?", invoiceID))
}

func (s *Store) queryOrders(query string, args ...any) ([]models.Order, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var paidAt sql.NullTime
		var status string
		if err := rows.Scan(&o.ID, &o.OrderID, &o.UserID, &o.ProductID, &o.ProductName,
			&o.AmountUSD, &o.Asset, &o.InvoiceID, &o.PaymentURL, &status, &o.CreatedAt, &paidAt); err != nil {
			return nil, err
		}
		o.Status = models.OrderStatus(status)
		if paidAt.Valid {
			o.PaidAt = &paidAt.Time
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetUserOrders возвращает заказы пользователя, новые первыми.
func (s *Store) GetUserOrders(userID int64, limit int) ([]models.Order, error) {
	return s.queryOrders(
		"SELECT "+orderColumns+" FROM orders WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit)
}

// GetPendingOrders возвращает заказы, ожидающие оплаты, старые первыми.
func (s *Store) GetPendingOrders(limit int) ([]models.Order, error) {
	return s.queryOrders(
		"SELECT "+orderColumns+" FROM orders WHERE status = ? ORDER BY created_at ASC LIMIT ?",
		string(models.StatusPending), limit)
}

// GetRecentOrders возвращает заказы за последние days дней.
func (s *Store) GetRecentOrders(days, limit int) ([]models.Order, error) {
	since := time.Now().AddDate(0, 0, -days)
	return s.queryOrders(
		"SELECT "+orderColumns+" FROM orders WHERE created_at >= ? ORDER BY created_at DESC LIMIT ?",
		since, limit)
}

// MarkOrderPaid атомарно переводит заказ pending -> paid: в одной
// SQL-транзакции выполняется CAS по статусу, начисление статистики
// владельцу и вставка записи в журнал транзакций. Возвращает false,
// если переход уже выполнен другим вызовом: либо CAS не прошёл, либо
// запись с таким invoice_id уже есть в журнале (UNIQUE-ограничение
// откатывает транзакцию целиком).
func (s *Store) MarkOrderPaid(o *models.Order, settledAmount float64, settledAsset string, paidAt time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE orders SET status = ?, paid_at = ? WHERE order_id = ? AND status = ?",
		string(models.StatusPaid), paidAt, o.OrderID, string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Заказ уже не pending, переход выполнен ранее
		return false, nil
	}

	_, err = tx.Exec(
		"UPDATE users SET total_spent = total_spent + ?, orders_count = orders_count + 1 WHERE user_id = ?",
		o.AmountUSD, o.UserID)
	if err != nil {
		return false, fmt.Errorf("update user stats: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO transactions (invoice_id, order_id, amount, asset, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		o.InvoiceID, o.OrderID, settledAmount, settledAsset, string(models.StatusPaid), paidAt)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			// Платёж по этому счёту уже учтён, откатываем весь переход
			return false, nil
		}
		return false, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// SetOrderStatus переводит заказ pending -> status без денежных
// побочных эффектов. Возвращает false, если заказ уже не pending.
func (s *Store) SetOrderStatus(orderID string, status models.OrderStatus) (bool, error) {
	if !models.StatusPending.CanTransitionTo(status) {
		return false, fmt.Errorf("illegal transition pending -> %s", status)
	}
	res, err := s.db.Exec(
		"UPDATE orders SET status = ? WHERE order_id = ? AND status = ?",
		string(status), orderID, string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("set order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ============ Транзакции ============

// TransactionExists проверяет, учтён ли уже платёж по данному счёту.
func (s *Store) TransactionExists(invoiceID int64) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM transactions WHERE invoice_id = ? LIMIT 1", invoiceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transaction exists: %w", err)
	}
	return true, nil
}

// GetTransactionByInvoice возвращает запись журнала по счёту провайдера.
func (s *Store) GetTransactionByInvoice(invoiceID int64) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := s.db.QueryRow(
		"SELECT id, invoice_id, order_id, amount, asset, status, created_at FROM transactions WHERE invoice_id = ?",
		invoiceID).Scan(&t.ID, &t.InvoiceID, &t.OrderID, &t.Amount, &t.Asset, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// CountTransactions возвращает число записей журнала по счёту.
func (s *Store) CountTransactions(invoiceID int64) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM transactions WHERE invoice_id = ?", invoiceID).Scan(&n)
	return n, err
}

// ============ Статистика и обслуживание ============

// Stats — сводная статистика для админ-панели.
type Stats struct {
	TotalOrders int
	PaidOrders  int
	TotalAmount float64
	TodayOrders int
	TodayAmount float64
	UsersCount  int
}

// GetStats собирает сводную статистику по заказам и пользователям.
func (s *Store) GetStats() (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'paid' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'paid' THEN amount_usd ELSE 0 END), 0)
		FROM orders`).Scan(&st.TotalOrders, &st.PaidOrders, &st.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	today := time.Now().Truncate(24 * time.Hour)
	err = s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'paid' THEN amount_usd ELSE 0 END), 0)
		FROM orders WHERE created_at >= ?`, today).Scan(&st.TodayOrders, &st.TodayAmount)
	if err != nil {
		return nil, fmt.Errorf("get today stats: %w", err)
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&st.UsersCount); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	return st, nil
}

// DeleteOldCancelled удаляет отменённые заказы старше days дней.
func (s *Store) DeleteOldCancelled(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res, err := s.db.Exec(
		"DELETE FROM orders WHERE status = ? AND created_at < ?",
		string(models.StatusCancelled), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old cancelled: %w", err)
	}
	return res.RowsAffected()
}
