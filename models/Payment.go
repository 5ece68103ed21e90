package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

//goland:noinspection ALL
const (
	STATUS_PENDING PaymentStatus = "pending"
	STATUS_PAID    PaymentStatus = "paid"
	STATUS_ERROR   PaymentStatus = "error"
	STATUS_EXPIRED PaymentStatus = "expired"
)

// allowed status edges, keyed by target status
var predecessors = map[PaymentStatus][]PaymentStatus{
	STATUS_PAID:    {STATUS_PENDING, STATUS_ERROR},
	STATUS_ERROR:   {STATUS_PENDING, STATUS_ERROR},
	STATUS_EXPIRED: {STATUS_PENDING},
}

// Predecessors lists the statuses a payment may be in before moving to s.
func (s PaymentStatus) Predecessors() []PaymentStatus {
	return predecessors[s]
}

// CanTransition reports whether a payment in status s may move to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, from := range predecessors[next] {
		if from == s {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Label() string {
	switch s {
	case STATUS_PENDING:
		return "Pending"
	case STATUS_PAID:
		return "Paid"
	case STATUS_ERROR:
		return "Error"
	case STATUS_EXPIRED:
		return "Expired"
	}
	return "Unknown"
}

type Payment struct {
	gorm.Model

	TenantID     string `gorm:"index;size:32"`
	ResellerID   uint   `gorm:"index"`
	ResellerType string `gorm:"size:64"`
	PackageID    uint

	Credits int
	Amount  decimal.Decimal `gorm:"type:decimal(12,2)"`

	ExternalPaymentID string `gorm:"index;size:64"`
	QRCode            string `gorm:"type:text"`
	QRCodeImage       string `gorm:"type:mediumtext"`

	Status    PaymentStatus `gorm:"index;size:16"`
	ExpiresAt time.Time     `gorm:"index"`
	PaidAt    *time.Time
}

func (p *Payment) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
