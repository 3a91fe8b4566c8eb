package cryptopay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "12345:TESTTOKEN"

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithBaseURL(testToken, srv.URL)
}

func invoiceResponse(invoiceID int64, status, amount, asset string) string {
	return fmt.Sprintf(`{"ok":true,"result":{
		"invoice_id":%d,"status":%q,"asset":%q,"amount":%q,
		"bot_invoice_url":"https://t.me/CryptoBot?start=IVxyz",
		"created_at":"2026-08-30T12:00:00Z"}}`,
		invoiceID, status, asset, amount)
}

func TestCreateInvoice(t *testing.T) {
	var gotParams CreateInvoiceParams
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/createInvoice", r.URL.Path)
		assert.Equal(t, testToken, r.Header.Get("Crypto-Pay-API-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotParams))
		fmt.Fprint(w, invoiceResponse(42, "active", "9.99", "USDT"))
	})

	invoice, err := client.CreateInvoice(context.Background(), CreateInvoiceParams{
		Asset:     "USDT",
		Amount:    9.99,
		Payload:   "order-1",
		ExpiresIn: 86400,
	})
	require.NoError(t, err)

	assert.Equal(t, "USDT", gotParams.Asset)
	assert.Equal(t, 9.99, gotParams.Amount)
	assert.Equal(t, "order-1", gotParams.Payload)
	assert.Equal(t, 86400, gotParams.ExpiresIn)

	assert.Equal(t, int64(42), invoice.InvoiceID)
	assert.Equal(t, "active", invoice.Status)
	assert.InDelta(t, 9.99, float64(invoice.Amount), 0.001)
	assert.Equal(t, "https://t.me/CryptoBot?start=IVxyz", invoice.PaymentURL())
}

func TestCheckPaymentNormalizesStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"active", StatusPending},
		{"paid", StatusPaid},
		{"expired", StatusExpired},
		{"something_new", StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/getInvoice/42", r.URL.Path)
				fmt.Fprint(w, invoiceResponse(42, tt.raw, "9.99", "USDT"))
			})

			check, err := client.CheckPayment(context.Background(), 42)
			require.NoError(t, err)
			assert.Equal(t, tt.want, check.Status)
			assert.Equal(t, int64(42), check.InvoiceID)
			assert.InDelta(t, 9.99, check.Amount, 0.001)
			assert.Equal(t, "USDT", check.Asset)
		})
	}
}

func TestCheckPaymentUnknownInvoice(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":{"code":400,"name":"INVOICE_NOT_FOUND"}}`)
	})

	// Неизвестный счёт трактуется как истёкший, а не как ошибка
	check, err := client.CheckPayment(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, check.Status)
	assert.False(t, check.Paid())
}

func TestCheckPaymentTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := NewClientWithBaseURL(testToken, srv.URL)
	srv.Close()

	_, err := client.CheckPayment(context.Background(), 42)
	assert.Error(t, err)
}

func TestGetInvoiceAPIError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":{"code":401,"name":"UNAUTHORIZED"}}`)
	})

	_, err := client.GetInvoice(context.Background(), 42)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvoiceNotFound)
	assert.Contains(t, err.Error(), "UNAUTHORIZED")
}

func TestGetBalance(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getBalance", r.URL.Path)
		fmt.Fprint(w, `{"ok":true,"result":[
			{"currency_code":"USDT","available":"125.50","onhold":"0.00"},
			{"currency_code":"TON","available":"0.00","onhold":"1.50"}]}`)
	})

	balances, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "USDT", balances[0].CurrencyCode)
	assert.InDelta(t, 125.50, float64(balances[0].Available), 0.001)
	assert.InDelta(t, 1.50, float64(balances[1].Onhold), 0.001)
}

func TestFloat64StringDecode(t *testing.T) {
	var f Float64String
	require.NoError(t, json.Unmarshal([]byte(`"9.99"`), &f))
	assert.InDelta(t, 9.99, float64(f), 0.001)

	assert.Error(t, json.Unmarshal([]byte(`"not-a-number"`), &f))
}

func TestTimeStringDecode(t *testing.T) {
	var ts TimeString
	require.NoError(t, json.Unmarshal([]byte(`"2026-08-30T12:00:00Z"`), &ts))
	assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), ts.Time)

	// Пустая строка допустима: поле paid_at может отсутствовать
	var empty TimeString
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsZero())
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"update_id":1,"update_type":"invoice_paid"}`)

	sig := Sign(testToken, body)
	assert.True(t, VerifySignature(testToken, body, sig))

	// Изменённое тело, чужой токен и пустая подпись отклоняются
	assert.False(t, VerifySignature(testToken, append(body, ' '), sig))
	assert.False(t, VerifySignature("other-token", body, sig))
	assert.False(t, VerifySignature(testToken, body, ""))
	assert.False(t, VerifySignature(testToken, nil, sig))
}
