package lease

import (
	"context"
	"sync"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
)

type MemoryTable struct {
	mu     sync.Mutex
	leases map[uint]models.Lease
	now    func() time.Time
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		leases: make(map[uint]models.Lease),
		now:    time.Now,
	}
}

func (t *MemoryTable) Acquire(_ context.Context, paymentID uint, holder string, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if l, ok := t.leases[paymentID]; ok && l.Active(now) {
		return false, nil
	}
	t.leases[paymentID] = models.Lease{PaymentID: paymentID, Holder: holder, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (t *MemoryTable) Release(_ context.Context, paymentID uint, holder string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.leases[paymentID]; ok && l.Holder == holder {
		delete(t.leases, paymentID)
	}
	return nil
}

func (t *MemoryTable) Get(_ context.Context, paymentID uint) (*models.Lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.leases[paymentID]
	if !ok || !l.Active(t.now()) {
		return nil, nil
	}
	return &l, nil
}
