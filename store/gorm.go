package store

import (
	"context"
	"errors"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p.Status == "" {
		p.Status = models.STATUS_PENDING
	}
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) GetPayment(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) PendingPayments(ctx context.Context) ([]models.Payment, error) {
	var ps []models.Payment
	err := s.db.WithContext(ctx).
		Where("status = ?", models.STATUS_PENDING).
		Order("id").
		Find(&ps).Error
	return ps, err
}

func (s *GormStore) Package(ctx context.Context, tenantID string, id uint) (*models.Package, error) {
	var pkg models.Package
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		First(&pkg, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pkg, nil
}

func (s *GormStore) PaymentsByStatus(ctx context.Context, status models.PaymentStatus, f Filter) ([]models.Payment, error) {
	q := s.db.WithContext(ctx).Where("status = ?", status)
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.ResellerID != 0 {
		q = q.Where("reseller_id = ?", f.ResellerID)
	}

	var ps []models.Payment
	err := q.Order("id").Find(&ps).Error
	return ps, err
}

func (s *GormStore) UpdateStatus(ctx context.Context, id uint, status models.PaymentStatus, paidAt *time.Time) error {
	updates := map[string]any{"status": status}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, status.Predecessors()).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetPayment(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *GormStore) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	return s.db.WithContext(ctx).Create(tx).Error
}

func (s *GormStore) Transactions(ctx context.Context, paymentID uint) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("id").Find(&txs).Error
	return txs, err
}

func (s *GormStore) PanelConfig(ctx context.Context, resellerType, tenantID string) (*models.PanelConfig, error) {
	var pc models.PanelConfig
	err := s.db.WithContext(ctx).
		Where("reseller_type = ? AND tenant_id = ?", resellerType, tenantID).
		First(&pc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pc, nil
}

func (s *GormStore) GetReseller(ctx context.Context, id uint) (*models.Reseller, error) {
	var r models.Reseller
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *GormStore) ResellerByApiKeyHash(ctx context.Context, hash string) (*models.Reseller, error) {
	var r models.Reseller
	if err := s.db.WithContext(ctx).First(&r, "api_key_hash = ?", hash).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *GormStore) SetPanelUserID(ctx context.Context, resellerID uint, panelUserID string) error {
	return s.db.WithContext(ctx).Model(&models.Reseller{}).
		Where("id = ?", resellerID).
		Update("panel_user_id", panelUserID).Error
}
