package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a Client configured to use it.
func setupTestServer(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	c := &Client{
		client:  resty.New().SetBaseURL(server.URL),
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}
	return c, server
}

func TestGetQuote(t *testing.T) {
	creds := Credentials{APIKey: "user_key", APISecret: "user_secret"}

	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/quote", r.URL.Path)
			assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
			assert.Equal(t, "user_key", r.Header.Get("X-API-KEY"))
			assert.Equal(t, sign("user_secret", r.URL.Query().Encode()), r.Header.Get("X-API-SIGN"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol": "AAPL", "price": 182.5}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		price, err := c.GetQuote(context.Background(), creds, "AAPL")

		assert.NoError(t, err)
		assert.InDelta(t, 182.5, price, 0.001)
	})

	t.Run("NonPositivePrice", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol": "AAPL", "price": 0}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetQuote(context.Background(), creds, "AAPL")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "non-positive price")
	})

	t.Run("ClientError", func(t *testing.T) {
		// 4xx responses are not retried and surface immediately
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "bad api key"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetQuote(context.Background(), creds, "AAPL")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "request failed")
	})
}

func TestGetDailyBars(t *testing.T) {
	creds := Credentials{APIKey: "user_key", APISecret: "user_secret"}

	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/history", r.URL.Path)
			assert.Equal(t, "MSFT", r.URL.Query().Get("symbol"))
			assert.Equal(t, "1d", r.URL.Query().Get("interval"))
			assert.Equal(t, sign("user_secret", r.URL.Query().Encode()), r.Header.Get("X-API-SIGN"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[
				{"date": "2025-08-28T00:00:00Z", "open": 100, "high": 105, "low": 99, "close": 104, "volume": 1000},
				{"date": "2025-08-29T00:00:00Z", "open": 104, "high": 110, "low": 103, "close": 109, "volume": 1200}
			]`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		to := time.Now().UTC()
		bars, err := c.GetDailyBars(context.Background(), creds, "MSFT", to.AddDate(0, 0, -7), to)

		assert.NoError(t, err)
		assert.Len(t, bars, 2)
		assert.InDelta(t, 104.0, bars[0].Close, 0.001)
		assert.InDelta(t, 109.0, bars[1].Close, 0.001)
	})

	t.Run("Empty", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		to := time.Now().UTC()
		bars, err := c.GetDailyBars(context.Background(), creds, "MSFT", to.AddDate(0, 0, -7), to)

		assert.NoError(t, err)
		assert.Empty(t, bars)
	})
}
