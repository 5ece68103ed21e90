package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one row per fulfillment call, append only.
type Transaction struct {
	ID         uint `gorm:"primaryKey"`
	PaymentID  uint `gorm:"index"`
	ResellerID uint `gorm:"index"`

	Credits int
	Amount  decimal.Decimal `gorm:"type:decimal(12,2)"`

	Success     bool
	Attempts    int
	RawResponse string `gorm:"type:text"`

	CreatedAt time.Time
}
