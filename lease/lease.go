// Package lease guards a payment against concurrent fulfillment. A lease is
// a marker with an expiry: it is released when the work finishes and lapses
// on its own if the holder dies, so a crash never locks a payment forever.
package lease

import (
	"context"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
)

type Table interface {
	// Acquire takes the lease for paymentID unless an unexpired lease exists.
	Acquire(ctx context.Context, paymentID uint, holder string, ttl time.Duration) (bool, error)
	// Release drops the lease if it is still owned by holder.
	Release(ctx context.Context, paymentID uint, holder string) error
	// Get returns the active lease for paymentID, if any.
	Get(ctx context.Context, paymentID uint) (*models.Lease, error)
}
