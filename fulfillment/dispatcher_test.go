package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/events"
	"git.sr.ht/~aondrejcak/panel-credits/models"
	"git.sr.ht/~aondrejcak/panel-credits/panels"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePanel struct {
	addErrs []error
	panics  bool

	finds, adds int
	credited    map[string]int
}

func (f *fakePanel) Login(ctx context.Context) (*panels.AuthContext, error) {
	if f.panics {
		panic("selector exploded")
	}
	return &panels.AuthContext{Token: "tok"}, nil
}

func (f *fakePanel) FindTarget(ctx context.Context, auth *panels.AuthContext, username string) (string, error) {
	f.finds++
	if username != "alice" {
		return "", panels.ErrTargetNotFound
	}
	return "7", nil
}

func (f *fakePanel) AddCredits(ctx context.Context, auth *panels.AuthContext, targetID string, credits int) (*panels.CreditResult, error) {
	f.adds++
	if len(f.addErrs) > 0 {
		err := f.addErrs[0]
		f.addErrs = f.addErrs[1:]
		return nil, err
	}
	if f.credited == nil {
		f.credited = map[string]int{}
	}
	f.credited[targetID] += credits
	return &panels.CreditResult{Success: true, Message: "credits added", Raw: `{"success":true}`}, nil
}

func (f *fakePanel) AddCreditsWithRetry(ctx context.Context, username, targetID string, credits int) (*panels.CreditResult, error) {
	return nil, errors.New("not used")
}

type fakeFactory struct {
	panel *fakePanel
	err   error
}

func (f *fakeFactory) New(cfg *models.PanelConfig) (panels.Adapter, error) {
	return f.panel, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.FulfillmentEvent
	err    error
}

func (p *recordingPublisher) PublishFulfillment(_ context.Context, ev events.FulfillmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	store     *store.MemoryStore
	panel     *fakePanel
	publisher *recordingPublisher
	sleeps    []time.Duration
	d         *Dispatcher
}

func newFixture(t *testing.T, panel *fakePanel) *fixture {
	f := &fixture{
		store:     store.NewMemoryStore(),
		panel:     panel,
		publisher: &recordingPublisher{},
	}

	retrier := panels.NewRetrier()
	retrier.Sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}

	f.store.AddPanelConfig(models.PanelConfig{TenantID: "tenant-1", ResellerType: "alpha", BaseURL: "https://alpha.example"})
	f.store.AddReseller(models.Reseller{Model: gorm.Model{ID: 3}, TenantID: "tenant-1", ResellerType: "alpha", PanelUsername: "alice"})

	f.d = NewDispatcher(f.store, &fakeFactory{panel: panel}, WithRetrier(retrier), WithPublisher(f.publisher))
	return f
}

func (f *fixture) payment(t *testing.T, id uint) *models.Payment {
	p := &models.Payment{
		TenantID:     "tenant-1",
		ResellerID:   3,
		ResellerType: "alpha",
		Credits:      30,
		Amount:       decimal.RequireFromString("25.90"),
		Status:       models.STATUS_PENDING,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	p.ID = id
	require.NoError(t, f.store.CreatePayment(context.Background(), p))
	return p
}

func TestFulfillApprovedPayment(t *testing.T) {
	f := newFixture(t, &fakePanel{})
	ctx := context.Background()
	p := f.payment(t, 42)

	out := f.d.Fulfill(ctx, p)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)

	stored, err := f.store.GetPayment(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_PAID, stored.Status)
	require.NotNil(t, stored.PaidAt)

	txs, err := f.store.Transactions(ctx, 42)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Success)
	assert.Equal(t, 30, txs[0].Credits)
	assert.Equal(t, `{"success":true}`, txs[0].RawResponse)
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("25.90")))

	r, err := f.store.GetReseller(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "7", r.PanelUserID)
	assert.Equal(t, 30, f.panel.credited["7"])

	require.Len(t, f.publisher.events, 1)
	assert.True(t, f.publisher.events[0].Success)
	assert.Equal(t, uint(42), f.publisher.events[0].PaymentID)
}

func TestFulfillUsesRememberedTarget(t *testing.T) {
	f := newFixture(t, &fakePanel{})
	require.NoError(t, f.store.SetPanelUserID(context.Background(), 3, "99"))

	out := f.d.Fulfill(context.Background(), f.payment(t, 1))
	assert.True(t, out.Success)
	assert.Zero(t, f.panel.finds)
	assert.Equal(t, 30, f.panel.credited["99"])
}

func TestFulfillExhaustedAttempts(t *testing.T) {
	transport := &panels.Error{Kind: panels.KindTransport, Message: "connection reset", Raw: "<html>502</html>"}
	f := newFixture(t, &fakePanel{addErrs: []error{transport, transport, transport}})
	ctx := context.Background()

	out := f.d.Fulfill(ctx, f.payment(t, 42))
	assert.False(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
	assert.Contains(t, out.Message, "transport_error")
	assert.Equal(t, []time.Duration{panels.DefaultRetryDelay, panels.DefaultRetryDelay}, f.sleeps)

	stored, err := f.store.GetPayment(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ERROR, stored.Status)
	assert.Nil(t, stored.PaidAt)

	txs, err := f.store.Transactions(ctx, 42)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Success)
	assert.Equal(t, 3, txs[0].Attempts)
	assert.Contains(t, txs[0].RawResponse, "<html>502</html>")

	require.Len(t, f.publisher.events, 1)
	assert.False(t, f.publisher.events[0].Success)
}

func TestFulfillWithoutPanelConfig(t *testing.T) {
	f := newFixture(t, &fakePanel{})
	ctx := context.Background()
	p := f.payment(t, 5)
	p.ResellerType = "unknown"

	out := f.d.Fulfill(ctx, p)
	assert.False(t, out.Success)
	assert.Zero(t, out.Attempts)
	assert.Zero(t, f.panel.adds)

	stored, err := f.store.GetPayment(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ERROR, stored.Status)

	txs, _ := f.store.Transactions(ctx, 5)
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Success)
}

func TestFulfillSurvivesPanics(t *testing.T) {
	f := newFixture(t, &fakePanel{panics: true})
	ctx := context.Background()

	var out Outcome
	require.NotPanics(t, func() { out = f.d.Fulfill(ctx, f.payment(t, 8)) })
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "panicked")

	stored, err := f.store.GetPayment(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ERROR, stored.Status)
}

func TestFulfillIgnoresPublisherFailures(t *testing.T) {
	f := newFixture(t, &fakePanel{})
	f.publisher.err = errors.New("kafka down")

	out := f.d.Fulfill(context.Background(), f.payment(t, 9))
	assert.True(t, out.Success)
}

func TestFulfillSkipsSettledPayments(t *testing.T) {
	f := newFixture(t, &fakePanel{})
	ctx := context.Background()

	paid := f.payment(t, 10)
	now := time.Now()
	require.NoError(t, f.store.UpdateStatus(ctx, 10, models.STATUS_PAID, &now))

	expired := f.payment(t, 11)
	require.NoError(t, f.store.UpdateStatus(ctx, 11, models.STATUS_EXPIRED, nil))

	// both copies still say pending
	for _, p := range []*models.Payment{paid, expired} {
		out := f.d.Fulfill(ctx, p)
		assert.False(t, out.Success)
		assert.Contains(t, out.Message, ErrNotFulfillable.Error())

		txs, err := f.store.Transactions(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, txs)
	}

	assert.Zero(t, f.panel.adds)
	assert.Empty(t, f.publisher.events)

	stored, err := f.store.GetPayment(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_EXPIRED, stored.Status)
}

func TestFulfillUnknownPayment(t *testing.T) {
	f := newFixture(t, &fakePanel{})

	p := &models.Payment{TenantID: "tenant-1", ResellerID: 3, ResellerType: "alpha", Credits: 30}
	p.ID = 99

	out := f.d.Fulfill(context.Background(), p)
	assert.False(t, out.Success)
	assert.Zero(t, f.panel.adds)
}

func TestFulfillRetriesFailedPayment(t *testing.T) {
	f := newFixture(t, &fakePanel{})
	ctx := context.Background()

	p := f.payment(t, 12)
	require.NoError(t, f.store.UpdateStatus(ctx, 12, models.STATUS_ERROR, nil))

	out := f.d.Fulfill(ctx, p)
	assert.True(t, out.Success)

	stored, err := f.store.GetPayment(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_PAID, stored.Status)
}
