// Package recovery re-runs fulfillment for payments stuck in the error state.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/fulfillment"
	"git.sr.ht/~aondrejcak/panel-credits/lease"
	"git.sr.ht/~aondrejcak/panel-credits/models"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultBatchDelay = time.Second

var (
	ErrAlreadyPaid  = errors.New("payment already paid")
	ErrNotRetryable = errors.New("payment is not in a retryable state")
	ErrInFlight     = errors.New("payment is being processed")
)

type Fulfiller interface {
	Fulfill(ctx context.Context, p *models.Payment) fulfillment.Outcome
}

type BatchItem struct {
	PaymentID uint   `json:"paymentId"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

type BatchReport struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Details   []BatchItem `json:"details"`
}

type Coordinator struct {
	store     store.Store
	leases    lease.Table
	fulfiller Fulfiller

	holder   string
	leaseTTL time.Duration

	// Delay separates batch items; Sleep is swapped in tests.
	Delay time.Duration
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(st store.Store, leases lease.Table, f Fulfiller, leaseTTL time.Duration) *Coordinator {
	return &Coordinator{
		store:     st,
		leases:    leases,
		fulfiller: f,
		holder:    "recovery-" + uuid.NewString(),
		leaseTTL:  leaseTTL,
		Delay:     DefaultBatchDelay,
		Sleep:     sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetrySingle runs fulfillment again for one payment in the error state.
func (c *Coordinator) RetrySingle(ctx context.Context, paymentID uint) (*fulfillment.Outcome, error) {
	p, err := c.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := retryable(p); err != nil {
		return nil, err
	}

	ok, err := c.leases.Acquire(ctx, p.ID, c.holder, c.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("could not acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrInFlight
	}
	defer func() {
		if err := c.leases.Release(context.WithoutCancel(ctx), p.ID, c.holder); err != nil {
			log.Error().Err(err).Uint("payment_id", p.ID).Msg("could not release lease")
		}
	}()

	// another retry may have finished between the first read and the lease
	if p, err = c.store.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	if err := retryable(p); err != nil {
		return nil, err
	}

	log.Info().Uint("payment_id", p.ID).Msg("retrying fulfillment")
	out := c.fulfiller.Fulfill(ctx, p)
	return &out, nil
}

func retryable(p *models.Payment) error {
	switch p.Status {
	case models.STATUS_ERROR:
		return nil
	case models.STATUS_PAID:
		return ErrAlreadyPaid
	}
	return fmt.Errorf("%w: payment %d is %s", ErrNotRetryable, p.ID, p.Status)
}

// RetryBatch retries every error payment matching f, one at a time. A failing
// item never stops the batch; only listing the payments can fail.
func (c *Coordinator) RetryBatch(ctx context.Context, f store.Filter) (*BatchReport, error) {
	failed, err := c.store.PaymentsByStatus(ctx, models.STATUS_ERROR, f)
	if err != nil {
		return nil, fmt.Errorf("could not list failed payments: %w", err)
	}

	report := &BatchReport{Total: len(failed), Details: make([]BatchItem, 0, len(failed))}
	for i, p := range failed {
		if i > 0 && c.Delay > 0 {
			if err := c.Sleep(ctx, c.Delay); err != nil {
				log.Warn().Err(err).Msg("batch retry interrupted")
			}
		}

		item := BatchItem{PaymentID: p.ID}
		switch out, err := c.RetrySingle(ctx, p.ID); {
		case err != nil:
			item.Message = err.Error()
		default:
			item.Success = out.Success
			item.Message = out.Message
		}

		if item.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Details = append(report.Details, item)
	}

	log.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("batch retry finished")
	return report, nil
}
