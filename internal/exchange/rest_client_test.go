package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func setupTestClient(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	c := &RestClient{
		client:    resty.New().SetBaseURL(server.URL),
		apiKey:    "test_api_key",
		secretKey: "test_secret_key",
		logger:    zap.NewNop(),
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
	return c, server
}

func TestExecute_Success(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "test_api_key", r.Header.Get("X-API-KEY"))

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "AAPL", r.PostForm.Get("symbol"))
		assert.Equal(t, OrderSideBuy, r.PostForm.Get("side"))
		assert.Equal(t, OrderKindMarket, r.PostForm.Get("type"))
		assert.NotEmpty(t, r.PostForm.Get("signature"))
		assert.NotEmpty(t, r.PostForm.Get("timestamp"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId": "ex-42", "symbol": "AAPL", "status": "FILLED", "executedPrice": 94.2, "executedQty": 2}`))
	})

	c, server := setupTestClient(handler)
	defer server.Close()

	execution, err := c.Execute(context.Background(), Order{
		Symbol:         "AAPL",
		Side:           OrderSideBuy,
		Quantity:       2,
		ReferencePrice: 94,
	})

	assert.NoError(t, err)
	assert.Equal(t, "ex-42", execution.OrderID)
	assert.InDelta(t, 94.2, execution.ExecutedPrice, 0.001)
	assert.InDelta(t, 2.0, execution.ExecutedQuantity, 0.001)
}

func TestExecute_Rejection(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorCode": "INSUFFICIENT_FUNDS", "errorMessage": "not enough margin"}`))
	})

	c, server := setupTestClient(handler)
	defer server.Close()

	execution, err := c.Execute(context.Background(), Order{
		Symbol:   "AAPL",
		Side:     OrderSideBuy,
		Quantity: 2,
	})

	assert.Nil(t, execution)
	var rejection *RejectionError
	assert.ErrorAs(t, err, &rejection)
	assert.Equal(t, "INSUFFICIENT_FUNDS", rejection.Code)
	assert.Equal(t, "not enough margin", rejection.Message)
}

func TestExecute_NoResponseIsAmbiguous(t *testing.T) {
	// A server that is already gone stands in for a connection that broke
	// after the request went out.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	c, server := setupTestClient(handler)
	server.Close()

	execution, err := c.Execute(context.Background(), Order{
		Symbol:   "AAPL",
		Side:     OrderSideSell,
		Quantity: 1,
	})

	assert.Nil(t, execution)
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestSign_Deterministic(t *testing.T) {
	c := &RestClient{secretKey: "secret"}

	first := c.sign("symbol=AAPL&side=BUY")
	second := c.sign("symbol=AAPL&side=BUY")
	other := c.sign("symbol=AAPL&side=SELL")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Len(t, first, 64) // hex-encoded SHA-256
}
