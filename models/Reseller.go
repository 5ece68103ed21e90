package models

import "gorm.io/gorm"

type Reseller struct {
	gorm.Model

	TenantID     string `gorm:"index;size:32"`
	ResellerType string `gorm:"size:64"`
	Name         string

	PanelUsername string
	PanelUserID   string // panel-side target id, filled on first successful fulfillment

	ApiKeyHash string `gorm:"uniqueIndex;size:128"`
}
