package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"paygate/internal/types"
)

const razorpayAPIBase = "https://api.razorpay.com"

// Razorpay caps receipts at 40 characters and notes at 15 keys.
const (
	razorpayMaxReceipt = 40
	razorpayMaxNotes   = 15
)

type RazorpayClientConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Logger    *slog.Logger
}

// RazorpayClient creates Razorpay orders. Requests authenticate with HTTP
// basic auth using the key id and key secret.
type RazorpayClient struct {
	base      *BaseClient
	keyID     string
	keySecret string
	baseURL   string
	logger    *slog.Logger
}

func NewRazorpayClient(httpClient *http.Client, cfg RazorpayClientConfig, opts ...BaseClientOption) *RazorpayClient {
	opts = append([]BaseClientOption{WithUpstreamCode(types.ErrCodeUpstreamRazorpay)}, opts...)
	base := NewBaseClient(httpClient, "razorpay", DefaultRetryPolicy(), "PayGate/1.0", opts...)
	return NewRazorpayClientWithBase(base, cfg)
}

func NewRazorpayClientWithBase(base *BaseClient, cfg RazorpayClientConfig) *RazorpayClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = razorpayAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RazorpayClient{
		base:      base,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

func (c *RazorpayClient) Provider() types.Provider { return types.ProviderRazorpay }

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Field       string `json:"field"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

// CreateOrder posts to /v1/orders. Metadata travels as order notes and comes
// back on every payment and order webhook for that order.
func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if len(req.Metadata) > razorpayMaxNotes {
		return OrderResult{}, types.NewAppError(types.ErrCodeValidationInvalidArgument,
			fmt.Sprintf("razorpay accepts at most %d notes", razorpayMaxNotes), nil)
	}
	receipt := req.Receipt
	if len(receipt) > razorpayMaxReceipt {
		receipt = receipt[:razorpayMaxReceipt]
	}

	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
		Receipt:  receipt,
		Notes:    req.Metadata,
	})
	if err != nil {
		return OrderResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode Razorpay order", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return OrderResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Razorpay request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.base.Do(httpReq)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return OrderResult{}, err
		}
		return OrderResult{}, types.NewAppError(types.ErrCodeUpstreamRazorpay, "CreateOrder: Razorpay request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return OrderResult{}, c.handleErrorResponse(resp)
	}

	var order razorpayOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return OrderResult{}, types.NewAppError(types.ErrCodeUpstreamRazorpay, "failed to decode Razorpay order", err)
	}

	c.logger.InfoContext(ctx, "razorpay order created", "order_id", order.ID, "amount", order.Amount)
	return OrderResult{
		ProviderOrderID: order.ID,
		Amount:          order.Amount,
		Currency:        order.Currency,
	}, nil
}

// handleErrorResponse maps Razorpay 4xx responses. BAD_REQUEST_ERROR is the
// caller's fault and is not retried; bad credentials are an outage from the
// caller's point of view.
func (c *RazorpayClient) handleErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var rzpErr razorpayErrorResponse
	_ = json.Unmarshal(raw, &rzpErr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return types.NewAppError(types.ErrCodeUpstreamRazorpay, "Razorpay rejected the API credentials", nil)
	case rzpErr.Error.Code == "BAD_REQUEST_ERROR":
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamPaymentError,
			"Razorpay rejected the order: "+rzpErr.Error.Description, nil,
			map[string]any{"field": rzpErr.Error.Field, "reason": rzpErr.Error.Reason})
	default:
		return types.NewAppError(types.ErrCodeUpstreamRazorpay,
			fmt.Sprintf("Razorpay returned %d: %s", resp.StatusCode, rzpErr.Error.Description), nil)
	}
}

var _ PaymentProviderClient = (*RazorpayClient)(nil)
