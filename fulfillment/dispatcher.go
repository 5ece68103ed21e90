// Package fulfillment turns an approved payment into credits on the
// reseller's panel and records the outcome.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/events"
	"git.sr.ht/~aondrejcak/panel-credits/models"
	"git.sr.ht/~aondrejcak/panel-credits/panels"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFulfillable is reported for payments that are neither pending nor
// failed; their credits are never sent again.
var ErrNotFulfillable = errors.New("payment is not awaiting fulfillment")

type Outcome struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

type AdapterFactory interface {
	New(cfg *models.PanelConfig) (panels.Adapter, error)
}

type Dispatcher struct {
	store     store.Store
	factory   AdapterFactory
	retrier   *panels.Retrier
	publisher events.Publisher

	tracer  trace.Tracer
	counter metric.Int64Counter
	now     func() time.Time
}

type Option func(*Dispatcher)

func WithRetrier(r *panels.Retrier) Option {
	return func(d *Dispatcher) { d.retrier = r }
}

func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithMeter counts outcomes in fulfillments_total.
func WithMeter(m metric.Meter) Option {
	return func(d *Dispatcher) {
		c, err := m.Int64Counter("fulfillments_total",
			metric.WithDescription("Fulfillment calls by outcome"))
		if err != nil {
			log.Warn().Err(err).Msg("could not create fulfillment counter")
			return
		}
		d.counter = c
	}
}

func NewDispatcher(st store.Store, factory AdapterFactory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     st,
		factory:   factory,
		retrier:   panels.NewRetrier(),
		publisher: events.Noop{},
		tracer:    otel.Tracer("fulfillment"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fulfill delivers the payment's credits. It never returns an error and never
// panics: every failure ends up as status=error plus a failed transaction.
func (d *Dispatcher) Fulfill(ctx context.Context, p *models.Payment) (out Outcome) {
	ctx, span := d.tracer.Start(ctx, "fulfillment.fulfill", trace.WithAttributes(
		attribute.Int("payment_id", int(p.ID)),
		attribute.String("reseller_type", p.ResellerType),
		attribute.Int("credits", p.Credits),
	))
	defer span.End()

	logger := log.With().Uint("payment_id", p.ID).Str("reseller_type", p.ResellerType).Logger()

	// the caller's copy may be stale; only the stored status decides
	current, err := d.store.GetPayment(ctx, p.ID)
	if err != nil {
		logger.Error().Err(err).Msg("could not reload payment, not fulfilling")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{Success: false, Message: fmt.Sprintf("could not reload payment: %v", err)}
	}
	if !fulfillable(current.Status) {
		logger.Warn().Str("status", string(current.Status)).Msg("payment is not awaiting fulfillment, skipping")
		span.SetStatus(codes.Error, ErrNotFulfillable.Error())
		return Outcome{Success: false, Message: fmt.Sprintf("%s: payment is %s", ErrNotFulfillable, current.Status)}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("fulfillment panicked")
			out = d.failed(ctx, p, 0, fmt.Errorf("fulfillment panicked: %v", r))
		}
		if out.Success {
			span.SetStatus(codes.Ok, out.Message)
		} else {
			span.SetStatus(codes.Error, out.Message)
		}
		d.report(ctx, p, out)
	}()

	cfg, err := d.store.PanelConfig(ctx, p.ResellerType, p.TenantID)
	if err != nil {
		return d.failed(ctx, p, 0, fmt.Errorf("panel configuration for %s: %w", p.ResellerType, err))
	}

	reseller, err := d.store.GetReseller(ctx, p.ResellerID)
	if err != nil {
		return d.failed(ctx, p, 0, fmt.Errorf("reseller %d: %w", p.ResellerID, err))
	}

	adapter, err := d.factory.New(cfg)
	if err != nil {
		return d.failed(ctx, p, 0, fmt.Errorf("panel adapter: %w", err))
	}

	username := reseller.PanelUsername
	if username == "" {
		username = reseller.Name
	}

	res, err := d.retrier.Run(ctx, adapter, panels.Request{
		PaymentID: p.ID,
		Username:  username,
		TargetID:  reseller.PanelUserID,
		Credits:   p.Credits,
	})
	if err != nil {
		span.RecordError(err)
		return d.failed(ctx, p, res.Attempts, err)
	}

	now := d.now()
	if err := d.store.UpdateStatus(ctx, p.ID, models.STATUS_PAID, &now); err != nil {
		// credits were delivered; keep the transaction even if the row moved on
		logger.Error().Err(err).Msg("could not mark payment as paid")
	} else {
		p.Status = models.STATUS_PAID
		p.PaidAt = &now
	}

	d.record(ctx, p, true, res.Attempts, res.Credit.Raw)

	if res.TargetID != "" && res.TargetID != reseller.PanelUserID {
		if err := d.store.SetPanelUserID(ctx, reseller.ID, res.TargetID); err != nil {
			logger.Warn().Err(err).Msg("could not remember panel user id")
		}
	}

	logger.Info().Int("attempts", res.Attempts).Int("credits", p.Credits).Msg("credits delivered")
	return Outcome{Success: true, Message: res.Credit.Message, Attempts: res.Attempts}
}

func fulfillable(s models.PaymentStatus) bool {
	return s == models.STATUS_PENDING || s == models.STATUS_ERROR
}

func (d *Dispatcher) failed(ctx context.Context, p *models.Payment, attempts int, cause error) Outcome {
	logger := log.With().Uint("payment_id", p.ID).Str("reseller_type", p.ResellerType).Logger()
	logger.Error().Err(cause).Int("attempts", attempts).Msg("fulfillment failed")

	if err := d.store.UpdateStatus(ctx, p.ID, models.STATUS_ERROR, nil); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			logger.Error().Err(err).Msg("could not mark payment as failed")
		}
	} else {
		p.Status = models.STATUS_ERROR
	}

	raw := cause.Error()
	var pe *panels.Error
	if errors.As(cause, &pe) && pe.Raw != "" {
		raw += "\n" + pe.Raw
	}
	d.record(ctx, p, false, attempts, raw)

	return Outcome{Success: false, Message: cause.Error(), Attempts: attempts}
}

func (d *Dispatcher) record(ctx context.Context, p *models.Payment, success bool, attempts int, raw string) {
	tx := &models.Transaction{
		PaymentID:   p.ID,
		ResellerID:  p.ResellerID,
		Credits:     p.Credits,
		Amount:      p.Amount,
		Success:     success,
		Attempts:    attempts,
		RawResponse: raw,
		CreatedAt:   d.now(),
	}
	if err := d.store.InsertTransaction(ctx, tx); err != nil {
		log.Error().Err(err).Uint("payment_id", p.ID).Msg("could not record transaction")
	}
}

func (d *Dispatcher) report(ctx context.Context, p *models.Payment, out Outcome) {
	label := "success"
	if !out.Success {
		label = "failure"
	}
	if d.counter != nil {
		d.counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", label),
			attribute.String("reseller_type", p.ResellerType),
		))
	}

	err := d.publisher.PublishFulfillment(ctx, events.FulfillmentEvent{
		PaymentID:    p.ID,
		TenantID:     p.TenantID,
		ResellerID:   p.ResellerID,
		ResellerType: p.ResellerType,
		Credits:      p.Credits,
		Success:      out.Success,
		Message:      out.Message,
		Attempts:     out.Attempts,
		OccurredAt:   d.now(),
	})
	if err != nil {
		log.Warn().Err(err).Uint("payment_id", p.ID).Msg("could not publish fulfillment outcome")
	}
}
