package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"portfolio-trader-go/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const recvWindow = "5000" // how long a signed request stays valid, in milliseconds

// RestClient places orders against the exchange REST API.
// It implements Executor.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

var _ Executor = (*RestClient)(nil)

// NewRestClient creates a new exchange REST client.
func NewRestClient(cfg *config.Exchange, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// createOrderResponse is the exchange's fill confirmation payload.
type createOrderResponse struct {
	OrderID          string  `json:"orderId"`
	Symbol           string  `json:"symbol"`
	Status           string  `json:"status"`
	ExecutedPrice    float64 `json:"executedPrice"`
	ExecutedQuantity float64 `json:"executedQty"`
	ErrorCode        string  `json:"errorCode"`
	ErrorMessage     string  `json:"errorMessage"`
}

// Execute places a single order. Exactly one request is issued: a transport
// failure after the request was sent is reported as ErrAmbiguous, an exchange
// rejection as *RejectionError. No internal retry.
func (c *RestClient) Execute(ctx context.Context, order Order) (*Execution, error) {
	if order.Kind == "" {
		order.Kind = OrderKindMarket
	}

	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", order.Side)
	params.Set("type", order.Kind)
	params.Set("quantity", fmt.Sprintf("%f", order.Quantity))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	signature := c.sign(queryString)
	params.Set("signature", signature)

	if err := c.limiter.Wait(ctx); err != nil {
		// Nothing was sent yet, so this is a plain transport-level failure.
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&createOrderResponse{}).
		SetError(&createOrderResponse{})

	resp, err := req.Execute("POST", "/order")
	if err != nil {
		// The request may have reached the exchange before the connection
		// broke. Treating this as a definite failure could double-trade.
		c.logger.Error("No response for order request",
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrAmbiguous, err)
	}

	if resp.IsError() {
		rejection := resp.Error().(*createOrderResponse)
		code := rejection.ErrorCode
		if code == "" {
			code = resp.Status()
		}
		return nil, &RejectionError{Code: code, Message: rejection.ErrorMessage}
	}

	result := resp.Result().(*createOrderResponse)
	c.logger.Info("Order executed",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("order_id", result.OrderID),
		zap.Float64("executed_price", result.ExecutedPrice),
	)

	return &Execution{
		OrderID:          result.OrderID,
		ExecutedPrice:    result.ExecutedPrice,
		ExecutedQuantity: result.ExecutedQuantity,
	}, nil
}
