package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Package is a priced credit bundle a reseller can buy.
type Package struct {
	gorm.Model

	TenantID string `gorm:"index;size:32"`
	Name     string

	Credits int
	Amount  decimal.Decimal `gorm:"type:decimal(12,2)"`
	Active  bool            `gorm:"index"`
}
