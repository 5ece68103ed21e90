package models

import "time"

type Lease struct {
	PaymentID uint   `gorm:"primaryKey;autoIncrement:false"`
	Holder    string `gorm:"size:64"`
	ExpiresAt time.Time
}

func (Lease) TableName() string {
	return "payment_leases"
}

func (l *Lease) Active(now time.Time) bool {
	return l.ExpiresAt.After(now)
}
