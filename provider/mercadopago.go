// Package provider talks to the PIX payment provider (Mercado Pago).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.nhat.io/otelsql/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultURL     = "https://api.mercadopago.com"
	DefaultTimeout = 30 * time.Second
)

// ErrUnavailable marks failures worth retrying on the next tick: transport
// errors, throttling and 5xx answers.
var ErrUnavailable = errors.New("payment provider unavailable")

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// MapStatus folds the provider's payment states onto ours.
func MapStatus(s string) Status {
	switch strings.ToLower(s) {
	case "approved", "authorized":
		return StatusApproved
	case "cancelled", "rejected", "refunded", "charged_back":
		return StatusCancelled
	case "expired":
		return StatusExpired
	}
	return StatusPending
}

type PixRequest struct {
	Amount      decimal.Decimal
	Description string
	// Reference ends up as external_reference on the provider side.
	Reference  string
	PayerEmail string
	ExpiresAt  time.Time
}

type PixPayment struct {
	ID          string
	Status      Status
	QRCode      string
	QRCodeImage string
	ExpiresAt   time.Time
}

type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

func NewClient(baseURL, accessToken string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: DefaultTimeout},
	}
}

type paymentBody struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	DateOfExpiration  string  `json:"date_of_expiration"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`

	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// mpTime is the provider's timestamp layout (millisecond precision, numeric zone).
const mpTime = "2006-01-02T15:04:05.000-07:00"

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		j, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("could not marshal data: %w", err)
		}
		body = bytes.NewReader(j)
	}

	r, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	requestId, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("could not generate request id: %w", err)
	}

	r.Header.Add("Content-Type", "application/json")
	r.Header.Add("Authorization", "Bearer "+c.AccessToken)
	r.Header.Add("X-Request-ID", requestId.String())
	if method == http.MethodPost {
		r.Header.Add("X-Idempotency-Key", requestId.String())
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.KeyValue("mp.request_id", requestId.String()))

	rsp, err := c.HTTPClient.Do(r)
	if err != nil {
		return nil, fmt.Errorf("%w: could not execute request: %v", ErrUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.Debug().Err(err).Msg("could not close response body")
		}
	}(rsp.Body)

	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, err)
	}

	switch {
	case rsp.StatusCode == http.StatusTooManyRequests || rsp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: mercado pago returned %d", ErrUnavailable, rsp.StatusCode)
	case rsp.StatusCode >= 300:
		return nil, fmt.Errorf("mercado pago returned a non-OK status code %d: %s", rsp.StatusCode, string(data))
	}
	return data, nil
}

// CreatePixPayment registers a PIX charge and returns its QR code.
func (c *Client) CreatePixPayment(ctx context.Context, req PixRequest) (*PixPayment, error) {
	amount, _ := req.Amount.Float64()
	payload := map[string]any{
		"transaction_amount": amount,
		"description":        req.Description,
		"payment_method_id":  "pix",
		"external_reference": req.Reference,
		"payer":              map[string]string{"email": req.PayerEmail},
	}
	if !req.ExpiresAt.IsZero() {
		payload["date_of_expiration"] = req.ExpiresAt.Format(mpTime)
	}

	data, err := c.do(ctx, http.MethodPost, "/v1/payments", payload)
	if err != nil {
		return nil, err
	}

	var res paymentBody
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("could not unmarshal payment: %w", err)
	}

	pmt := &PixPayment{
		ID:          fmt.Sprint(res.ID),
		Status:      MapStatus(res.Status),
		QRCode:      res.PointOfInteraction.TransactionData.QRCode,
		QRCodeImage: res.PointOfInteraction.TransactionData.QRCodeBase64,
		ExpiresAt:   req.ExpiresAt,
	}
	if t, err := time.Parse(mpTime, res.DateOfExpiration); err == nil {
		pmt.ExpiresAt = t
	}
	return pmt, nil
}

// GetPaymentStatus reads the current state of a provider payment.
func (c *Client) GetPaymentStatus(ctx context.Context, externalID string) (Status, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/payments/"+externalID, nil)
	if err != nil {
		return "", err
	}

	var res paymentBody
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("could not unmarshal payment: %w", err)
	}
	return MapStatus(res.Status), nil
}
