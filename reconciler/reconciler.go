// Package reconciler polls the payment provider for pending payments and
// hands approved ones to fulfillment.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/fulfillment"
	"git.sr.ht/~aondrejcak/panel-credits/lease"
	"git.sr.ht/~aondrejcak/panel-credits/models"
	"git.sr.ht/~aondrejcak/panel-credits/provider"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultInterval        = 10 * time.Second
	DefaultLeaseTTL        = 15 * time.Minute
	DefaultProviderTimeout = 30 * time.Second
)

type PaymentProvider interface {
	GetPaymentStatus(ctx context.Context, externalID string) (provider.Status, error)
}

type Fulfiller interface {
	Fulfill(ctx context.Context, p *models.Payment) fulfillment.Outcome
}

type Reconciler struct {
	store     store.Store
	provider  PaymentProvider
	leases    lease.Table
	fulfiller Fulfiller

	holder          string
	interval        time.Duration
	leaseTTL        time.Duration
	providerTimeout time.Duration
	now             func() time.Time

	tracer trace.Tracer
	cron   *cronlib.Cron
	wg     sync.WaitGroup
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLeaseTTL(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.leaseTTL = d
		}
	}
}

func WithProviderTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.providerTimeout = d
		}
	}
}

// WithHolder sets the lease holder id; defaults to a random uuid per process.
func WithHolder(holder string) Option {
	return func(r *Reconciler) { r.holder = holder }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(st store.Store, prov PaymentProvider, leases lease.Table, f Fulfiller, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:           st,
		provider:        prov,
		leases:          leases,
		fulfiller:       f,
		holder:          "reconciler-" + uuid.NewString(),
		interval:        DefaultInterval,
		leaseTTL:        DefaultLeaseTTL,
		providerTimeout: DefaultProviderTimeout,
		now:             time.Now,
		tracer:          otel.Tracer("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Holder is the id this reconciler takes leases under.
func (r *Reconciler) Holder() string {
	return r.holder
}

// Tick spawns one goroutine per pending payment whose lease could be taken.
// It does not wait for them; the number of spawned checks is returned.
func (r *Reconciler) Tick(ctx context.Context) int {
	ctx, span := r.tracer.Start(ctx, "reconciler.tick")
	defer span.End()

	now := r.now()
	pending, err := r.store.PendingPayments(ctx)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("could not list pending payments")
		return 0
	}

	// spawned work must outlive the tick span
	workCtx := trace.ContextWithSpanContext(context.WithoutCancel(ctx), span.SpanContext())

	dispatched := 0
	for i := range pending {
		p := pending[i]
		// without a provider id there is nothing to ask until it is overdue
		if p.ExternalPaymentID == "" && !p.Expired(now) {
			log.Warn().Uint("payment_id", p.ID).Msg("pending payment has no provider id")
			continue
		}

		ok, err := r.leases.Acquire(ctx, p.ID, r.holder, r.leaseTTL)
		if err != nil {
			log.Error().Err(err).Uint("payment_id", p.ID).Msg("could not acquire lease")
			continue
		}
		if !ok {
			log.Debug().Uint("payment_id", p.ID).Msg("payment is leased, skipping")
			continue
		}

		r.wg.Add(1)
		go r.check(workCtx, p.ID)
		dispatched++
	}

	span.SetAttributes(attribute.Int("pending", len(pending)), attribute.Int("dispatched", dispatched))
	return dispatched
}

// check runs under the payment's lease. The payment is read again here since
// the listing may predate another worker finishing it.
func (r *Reconciler) check(ctx context.Context, id uint) {
	defer r.wg.Done()
	defer func() {
		if err := r.leases.Release(ctx, id, r.holder); err != nil {
			log.Error().Err(err).Uint("payment_id", id).Msg("could not release lease")
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Uint("payment_id", id).Msg("payment check panicked")
		}
	}()

	ctx, span := r.tracer.Start(ctx, "reconciler.check", trace.WithAttributes(attribute.Int("payment_id", int(id))))
	defer span.End()

	p, err := r.store.GetPayment(ctx, id)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Uint("payment_id", id).Msg("could not reload payment")
		return
	}
	if p.Status != models.STATUS_PENDING {
		log.Debug().Uint("payment_id", id).Str("status", string(p.Status)).Msg("payment is no longer pending, skipping")
		return
	}

	if p.ExternalPaymentID == "" {
		r.expire(ctx, p, "no provider id")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	status, err := r.provider.GetPaymentStatus(pctx, p.ExternalPaymentID)
	cancel()
	if err != nil {
		span.RecordError(err)
		lvl := log.Error()
		if errors.Is(err, provider.ErrUnavailable) {
			lvl = log.Warn()
		}
		lvl.Err(err).Uint("payment_id", p.ID).Msg("could not query payment status, retrying next tick")
		return
	}
	span.SetAttributes(attribute.String("provider.status", string(status)))

	switch status {
	case provider.StatusApproved:
		// an approval is honoured even when it is noticed after expiresAt
		out := r.fulfiller.Fulfill(ctx, p)
		log.Info().Uint("payment_id", p.ID).Bool("success", out.Success).Str("message", out.Message).Msg("payment fulfilled")
	case provider.StatusCancelled, provider.StatusExpired:
		r.expire(ctx, p, "provider "+string(status))
	default:
		if p.Expired(r.now()) {
			r.expire(ctx, p, "not approved before expiry")
			return
		}
		log.Debug().Uint("payment_id", p.ID).Msg("payment still pending")
	}
}

func (r *Reconciler) expire(ctx context.Context, p *models.Payment, reason string) {
	if err := r.store.UpdateStatus(ctx, p.ID, models.STATUS_EXPIRED, nil); err != nil {
		log.Error().Err(err).Uint("payment_id", p.ID).Msg("could not expire payment")
		return
	}
	log.Info().Uint("payment_id", p.ID).Str("reason", reason).Msg("payment expired")
}

// Wait blocks until every check spawned so far has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Start schedules Tick on the configured interval.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.cron != nil {
		return errors.New("reconciler already started")
	}

	r.cron = cronlib.New(cronlib.WithChain(cronlib.Recover(cronlib.DefaultLogger)))
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), func() {
		if ctx.Err() != nil {
			return
		}
		if n := r.Tick(ctx); n > 0 {
			log.Debug().Int("dispatched", n).Msg("reconciler tick")
		}
	})
	if err != nil {
		r.cron = nil
		return fmt.Errorf("could not schedule reconciler: %w", err)
	}

	r.cron.Start()
	log.Info().Dur("interval", r.interval).Str("holder", r.Holder()).Msg("reconciler started")
	return nil
}

// Stop halts scheduling and waits for in-flight checks.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
		r.cron = nil
	}
	r.wg.Wait()
}
