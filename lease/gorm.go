package lease

import (
	"context"
	"errors"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTable keeps leases in the payment_leases table so they survive restarts
// and are shared between replicas.
type GormTable struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormTable(db *gorm.DB) *GormTable {
	return &GormTable{db: db, now: time.Now}
}

func (t *GormTable) Acquire(ctx context.Context, paymentID uint, holder string, ttl time.Duration) (bool, error) {
	now := t.now()
	acquired := false

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("payment_id = ? AND expires_at <= ?", paymentID, now).
			Delete(&models.Lease{}).Error; err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Lease{
			PaymentID: paymentID,
			Holder:    holder,
			ExpiresAt: now.Add(ttl),
		})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected == 1
		return nil
	})
	return acquired, err
}

func (t *GormTable) Release(ctx context.Context, paymentID uint, holder string) error {
	return t.db.WithContext(ctx).
		Where("payment_id = ? AND holder = ?", paymentID, holder).
		Delete(&models.Lease{}).Error
}

func (t *GormTable) Get(ctx context.Context, paymentID uint) (*models.Lease, error) {
	var l models.Lease
	err := t.db.WithContext(ctx).
		Where("payment_id = ? AND expires_at > ?", paymentID, t.now()).
		First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
