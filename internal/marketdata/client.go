package marketdata

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"portfolio-trader-go/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Credentials are the per-user API credentials for the market data provider.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Bar is one day of OHLCV data as returned by the provider.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// ClientInterface defines the market data operations the pipeline depends on.
type ClientInterface interface {
	GetQuote(ctx context.Context, creds Credentials, symbol string) (float64, error)
	GetDailyBars(ctx context.Context, creds Credentials, symbol string, from, to time.Time) ([]Bar, error)
}

// Client is a REST client for the external market data provider.
// It implements ClientInterface.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new market data client.
func NewClient(cfg *config.MarketData, logger *zap.Logger) *Client {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:  client,
		logger:  logger,
		limiter: limiter,
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// Retries apply to throttling (429), server errors and transport failures only.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// sign creates a HMAC-SHA256 signature over the encoded query string using the
// user's API secret. The provider verifies it against the X-API-SIGN header.
func sign(secret, queryString string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(queryString))
	return hex.EncodeToString(h.Sum(nil))
}

// signedRequest builds a request carrying the user's key and the signature of
// its query parameters.
func (c *Client) signedRequest(creds Credentials, params url.Values) *resty.Request {
	return c.client.R().
		SetHeader("X-API-KEY", creds.APIKey).
		SetHeader("X-API-SIGN", sign(creds.APISecret, params.Encode())).
		SetQueryParamsFromValues(params)
}

// quoteResponse is the provider's latest-price payload.
type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// GetQuote fetches the latest price for a symbol.
func (c *Client) GetQuote(ctx context.Context, creds Credentials, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	req := c.signedRequest(creds, params).SetResult(&quoteResponse{})

	resp, err := c.doRequest(ctx, "GET", "/quote", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}

	result := resp.Result().(*quoteResponse)
	if result.Price <= 0 {
		return 0, fmt.Errorf("provider returned non-positive price %f for %s", result.Price, symbol)
	}
	return result.Price, nil
}

// GetDailyBars fetches daily OHLCV history for a symbol in [from, to].
func (c *Client) GetDailyBars(ctx context.Context, creds Credentials, symbol string, from, to time.Time) ([]Bar, error) {
	var bars []Bar

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("from", from.Format("2006-01-02"))
	params.Set("to", to.Format("2006-01-02"))
	params.Set("interval", "1d")

	req := c.signedRequest(creds, params).SetResult(&bars)

	resp, err := c.doRequest(ctx, "GET", "/history", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily bars for %s: %w", symbol, err)
	}

	result := resp.Result().(*[]Bar)
	return *result, nil
}
