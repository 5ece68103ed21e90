package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
)

// MemoryStore keeps everything in process memory. Used with STORE_DRIVER=memory
// for local runs and in tests.
type MemoryStore struct {
	mu sync.Mutex

	payments     map[uint]models.Payment
	transactions []models.Transaction
	panels       []models.PanelConfig
	resellers    map[uint]models.Reseller
	packages     map[uint]models.Package

	nextPayment uint
	nextTx      uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:  make(map[uint]models.Payment),
		resellers: make(map[uint]models.Reseller),
		packages:  make(map[uint]models.Package),
	}
}

// CreatePayment stores p. A non-zero p.ID is kept as is.
func (s *MemoryStore) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		s.nextPayment++
		p.ID = s.nextPayment
	} else if p.ID > s.nextPayment {
		s.nextPayment = p.ID
	}
	if p.Status == "" {
		p.Status = models.STATUS_PENDING
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.payments[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, id uint) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) selectPayments(match func(p *models.Payment) bool) []models.Payment {
	out := make([]models.Payment, 0)
	for _, p := range s.payments {
		if match(&p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) PendingPayments(_ context.Context) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectPayments(func(p *models.Payment) bool {
		return p.Status == models.STATUS_PENDING
	}), nil
}

func (s *MemoryStore) PaymentsByStatus(_ context.Context, status models.PaymentStatus, f Filter) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectPayments(func(p *models.Payment) bool {
		if p.Status != status {
			return false
		}
		if f.TenantID != "" && p.TenantID != f.TenantID {
			return false
		}
		return f.ResellerID == 0 || p.ResellerID == f.ResellerID
	}), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uint, status models.PaymentStatus, paidAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return ErrNotFound
	}
	if !p.Status.CanTransition(status) {
		return ErrInvalidTransition
	}
	p.Status = status
	if paidAt != nil {
		t := *paidAt
		p.PaidAt = &t
	}
	p.UpdatedAt = time.Now()
	s.payments[id] = p
	return nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTx++
	tx.ID = s.nextTx
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *MemoryStore) Transactions(_ context.Context, paymentID uint) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.PaymentID == paymentID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddPanelConfig(pc models.PanelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.panels = append(s.panels, pc)
}

func (s *MemoryStore) PanelConfig(_ context.Context, resellerType, tenantID string) (*models.PanelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pc := range s.panels {
		if pc.ResellerType == resellerType && pc.TenantID == tenantID {
			cp := pc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) AddPackage(pkg models.Package) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packages[pkg.ID] = pkg
}

func (s *MemoryStore) Package(_ context.Context, tenantID string, id uint) (*models.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, ok := s.packages[id]
	if !ok || !pkg.Active || pkg.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &pkg, nil
}

func (s *MemoryStore) AddReseller(r models.Reseller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resellers[r.ID] = r
}

func (s *MemoryStore) GetReseller(_ context.Context, id uint) (*models.Reseller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resellers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ResellerByApiKeyHash(_ context.Context, hash string) (*models.Reseller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.resellers {
		if hash != "" && r.ApiKeyHash == hash {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SetPanelUserID(_ context.Context, resellerID uint, panelUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resellers[resellerID]
	if !ok {
		return ErrNotFound
	}
	r.PanelUserID = panelUserID
	s.resellers[resellerID] = r
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
