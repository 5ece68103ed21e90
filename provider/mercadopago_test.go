package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]Status{
		"approved":     StatusApproved,
		"authorized":   StatusApproved,
		"cancelled":    StatusCancelled,
		"rejected":     StatusCancelled,
		"refunded":     StatusCancelled,
		"charged_back": StatusCancelled,
		"expired":      StatusExpired,
		"pending":      StatusPending,
		"in_process":   StatusPending,
		"":             StatusPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapStatus(in), in)
	}
}

func TestCreatePixPayment(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer mp-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"id": 123456789,
			"status": "pending",
			"date_of_expiration": "2026-10-16T12:30:00.000-03:00",
			"point_of_interaction": {"transaction_data": {"qr_code": "00020126...", "qr_code_base64": "iVBORw0..."}}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mp-token")
	pmt, err := c.CreatePixPayment(context.Background(), PixRequest{
		Amount:      decimal.RequireFromString("25.90"),
		Description: "30 credits",
		Reference:   "tenant-1:42",
		PayerEmail:  "reseller@example.com",
		ExpiresAt:   time.Now().Add(30 * time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, "123456789", pmt.ID)
	assert.Equal(t, StatusPending, pmt.Status)
	assert.Equal(t, "00020126...", pmt.QRCode)
	assert.Equal(t, "iVBORw0...", pmt.QRCodeImage)
	assert.Equal(t, 2026, pmt.ExpiresAt.Year())

	assert.Equal(t, "pix", got["payment_method_id"])
	assert.Equal(t, 25.9, got["transaction_amount"])
	assert.Equal(t, "tenant-1:42", got["external_reference"])
	assert.Contains(t, got, "date_of_expiration")
}

func TestGetPaymentStatus(t *testing.T) {
	statuses := map[string]string{"/v1/payments/1": "approved", "/v1/payments/2": "rejected"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := statuses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "status": s})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mp-token")

	st, err := c.GetPaymentStatus(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	st, err = c.GetPaymentStatus(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st)

	_, err = c.GetPaymentStatus(context.Background(), "3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestUnavailable(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		_, err := NewClient(srv.URL, "t").GetPaymentStatus(context.Background(), "1")
		assert.ErrorIs(t, err, ErrUnavailable, "status %d", code)
		srv.Close()
	}

	// nothing listens there anymore
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := NewClient(url, "t").GetPaymentStatus(context.Background(), "1")
	assert.ErrorIs(t, err, ErrUnavailable)
}
