package store

import (
	"context"
	"errors"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// Filter scopes payment selection for bulk retries. Zero values match all.
type Filter struct {
	TenantID   string
	ResellerID uint
}

type Store interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id uint) (*models.Payment, error)
	// PendingPayments lists every pending payment, overdue ones included.
	// Only the reconciler moves them on, under the payment's lease.
	PendingPayments(ctx context.Context) ([]models.Payment, error)
	PaymentsByStatus(ctx context.Context, status models.PaymentStatus, f Filter) ([]models.Payment, error)

	// UpdateStatus moves a payment to status, failing with ErrInvalidTransition
	// when the current status is not an allowed predecessor.
	UpdateStatus(ctx context.Context, id uint, status models.PaymentStatus, paidAt *time.Time) error

	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	Transactions(ctx context.Context, paymentID uint) ([]models.Transaction, error)

	PanelConfig(ctx context.Context, resellerType, tenantID string) (*models.PanelConfig, error)

	// Package returns an active credit package of tenantID.
	Package(ctx context.Context, tenantID string, id uint) (*models.Package, error)

	GetReseller(ctx context.Context, id uint) (*models.Reseller, error)
	ResellerByApiKeyHash(ctx context.Context, hash string) (*models.Reseller, error)
	SetPanelUserID(ctx context.Context, resellerID uint, panelUserID string) error
}
