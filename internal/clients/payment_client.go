package clients

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vaidashi/storefront-api/internal/config"
	"github.com/vaidashi/storefront-api/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
	"github.com/vaidashi/storefront-api/pkg/retry"
)

const threeDSInitializePath = "/payment/3dsecure/initialize"

// Buyer as the provider expects it
type Buyer struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Surname             string `json:"surname"`
	GsmNumber           string `json:"gsmNumber,omitempty"`
	Email               string `json:"email"`
	IdentityNumber      string `json:"identityNumber"`
	RegistrationAddress string `json:"registrationAddress"`
	IP                  string `json:"ip"`
	City                string `json:"city"`
	Country             string `json:"country"`
	ZipCode             string `json:"zipCode"`
}

type Address struct {
	ContactName string `json:"contactName"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Address     string `json:"address"`
	ZipCode     string `json:"zipCode"`
}

type BasketItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category1 string `json:"category1"`
	Category2 string `json:"category2"`
	ItemType  string `json:"itemType"`
	Price     string `json:"price"`
}

// ThreeDSRequest starts a 3-D Secure payment. Prices are decimal strings with two places.
type ThreeDSRequest struct {
	Locale          string       `json:"locale"`
	ConversationID  string       `json:"conversationId"`
	Price           string       `json:"price"`
	PaidPrice       string       `json:"paidPrice"`
	Currency        string       `json:"currency"`
	Installment     int          `json:"installment"`
	PaymentChannel  string       `json:"paymentChannel"`
	PaymentGroup    string       `json:"paymentGroup"`
	CallbackURL     string       `json:"callbackUrl"`
	Buyer           Buyer        `json:"buyer"`
	ShippingAddress Address      `json:"shippingAddress"`
	BillingAddress  Address      `json:"billingAddress"`
	BasketItems     []BasketItem `json:"basketItems"`
}

type threeDSResponse struct {
	Status             string `json:"status"`
	ErrorCode          string `json:"errorCode,omitempty"`
	ErrorMessage       string `json:"errorMessage,omitempty"`
	ConversationID     string `json:"conversationId,omitempty"`
	ThreeDSHTMLContent string `json:"threeDSHtmlContent,omitempty"`
}

// ThreeDSResult carries the decoded page the client must render
type ThreeDSResult struct {
	ConversationID string
	HTMLContent    string
}

// PaymentClient talks to the payment provider. Every call runs under a
// deadline, through a circuit breaker and a retry policy.
type PaymentClient struct {
	baseURL     string
	apiKey      string
	secretKey   string
	timeout     time.Duration
	httpClient  *http.Client
	logger      logger.Logger
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
	now         func() time.Time
}

func NewPaymentClient(cfg config.PaymentConfig, logger logger.Logger) *PaymentClient {
	maxAttempts := cfg.MaxAttempts

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &PaymentClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		retryConfig: &retry.RetryConfig{
			MaxAttempts: maxAttempts,
			BackoffStrategy: &retry.ExponentialBackoff{
				InitialInterval: 300 * time.Millisecond,
				MaxInterval:     2 * time.Second,
				Multiplier:      2,
				JitterFactor:    0.2,
			},
			Logger: logger,
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			Name:             "payment-gateway",
			FailureThreshold: cfg.BreakerThreshold,
			ResetTimeout:     cfg.BreakerResetTimeout,
			HalfOpenMaxCalls: 1,
			IsFailure:        apperrors.IsRetryable,
		}),
		now: time.Now,
	}
}

// Breaker exposes the circuit breaker for the admin endpoints
func (c *PaymentClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// InitializeThreeDS asks the provider for the 3-D Secure page of a payment
func (c *PaymentClient) InitializeThreeDS(ctx context.Context, request *ThreeDSRequest) (*ThreeDSResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(request)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to marshal request: %v", err))
	}

	var response threeDSResponse

	attempt := func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.post(ctx, threeDSInitializePath, body, &response)
		})
	}

	if err := retry.Retry(ctx, attempt, c.retryConfig); err != nil {
		c.logger.Error("Payment initialization failed",
			"error", err,
			"conversationID", request.ConversationID,
			"breaker", c.breaker.GetState().String())
		return nil, err
	}

	if response.Status != "success" {
		c.logger.Warn("Payment provider rejected initialization",
			"conversationID", request.ConversationID,
			"errorCode", response.ErrorCode,
			"errorMessage", response.ErrorMessage)
		return nil, apperrors.NewAppError(
			apperrors.ErrExternalService,
			fmt.Sprintf("payment provider rejected request: %s", response.ErrorCode),
			http.StatusBadGateway,
			false,
		)
	}

	html, err := base64.StdEncoding.DecodeString(response.ThreeDSHTMLContent)

	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrExternalService, "payment provider returned malformed content", http.StatusBadGateway, false)
	}

	return &ThreeDSResult{
		ConversationID: request.ConversationID,
		HTMLContent:    string(html),
	}, nil
}

func (c *PaymentClient) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))

	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
	}

	randomKey, err := c.randomKey()

	if err != nil {
		return apperrors.NewInternalError(err.Error())
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-iyzi-rnd", randomKey)
	req.Header.Set("Authorization", Authorization(c.apiKey, c.secretKey, randomKey, path, body))

	resp, err := c.httpClient.Do(req)

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			return apperrors.NewTimeoutError("payment request timed out")
		}
		return apperrors.NewTemporaryError(fmt.Sprintf("failed to send payment request: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)

	if err != nil {
		return apperrors.NewTemporaryError(fmt.Sprintf("failed to read response body: %v", err))
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
			return apperrors.NewTimeoutError("payment provider timed out")
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return apperrors.NewTemporaryError(fmt.Sprintf("payment provider error: %d", resp.StatusCode))
		}

		return apperrors.NewAppError(
			apperrors.ErrExternalService,
			fmt.Sprintf("payment provider returned error: %d", resp.StatusCode),
			http.StatusBadGateway,
			false,
		)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NewAppError(apperrors.ErrExternalService, fmt.Sprintf("failed to parse response: %v", err), http.StatusBadGateway, false)
	}

	return nil
}

func (c *PaymentClient) randomKey() (string, error) {
	var buf [4]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return strconv.FormatInt(c.now().UnixMilli(), 10) + hex.EncodeToString(buf[:]), nil
}

// Authorization builds the IYZWSv2 header: an HMAC-SHA256 over the random
// key, the request path and the body, packed with the api key.
func Authorization(apiKey, secretKey, randomKey, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(randomKey))
	mac.Write([]byte(path))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	params := "apiKey:" + apiKey + "&randomKey:" + randomKey + "&signature:" + signature

	return "IYZWSv2 " + base64.StdEncoding.EncodeToString([]byte(params))
}
