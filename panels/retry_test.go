package panels

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter fails AddCredits with the queued errors, then succeeds.
type scriptedAdapter struct {
	addErrs  []error
	rejected bool

	logins, finds, adds int
	lastTarget          string
}

func (s *scriptedAdapter) Login(ctx context.Context) (*AuthContext, error) {
	s.logins++
	return &AuthContext{Token: fmt.Sprintf("tok-%d", s.logins)}, nil
}

func (s *scriptedAdapter) FindTarget(ctx context.Context, auth *AuthContext, username string) (string, error) {
	s.finds++
	return "7", nil
}

func (s *scriptedAdapter) AddCredits(ctx context.Context, auth *AuthContext, targetID string, credits int) (*CreditResult, error) {
	s.adds++
	s.lastTarget = targetID
	if len(s.addErrs) > 0 {
		err := s.addErrs[0]
		s.addErrs = s.addErrs[1:]
		return nil, err
	}
	if s.rejected {
		return &CreditResult{Success: false, Message: "limit reached"}, nil
	}
	return &CreditResult{Success: true, Message: "ok"}, nil
}

func (s *scriptedAdapter) AddCreditsWithRetry(ctx context.Context, username, targetID string, credits int) (*CreditResult, error) {
	return NewRetrier().AddCredits(ctx, s, username, targetID, credits)
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	a := &scriptedAdapter{addErrs: []error{
		fail(KindTransport, "connection reset"),
		fail(KindTimeout, "slow panel"),
	}}
	r, sleeps := instantRetrier()

	res, err := r.Run(context.Background(), a, Request{PaymentID: 42, Username: "alice", Credits: 30})
	require.NoError(t, err)
	assert.True(t, res.Credit.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "7", res.TargetID)

	assert.Equal(t, 3, a.logins)
	assert.Equal(t, 1, a.finds)
	assert.Equal(t, "7", a.lastTarget)
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, *sleeps)
}

func TestRetryExhaustedReturnsLastError(t *testing.T) {
	a := &scriptedAdapter{addErrs: []error{
		fail(KindTransport, "attempt 1"),
		fail(KindTransport, "attempt 2"),
		fail(KindTransport, "attempt 3"),
	}}
	r, sleeps := instantRetrier()

	var observed []int
	r.Observe = func(at Attempt, err error) {
		observed = append(observed, at.Number)
		assert.Error(t, err)
	}

	res, err := r.Run(context.Background(), a, Request{Username: "alice", TargetID: "9", Credits: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "attempt 3")
	require.NotNil(t, res)
	assert.Nil(t, res.Credit)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []int{1, 2, 3}, observed)
	assert.Len(t, *sleeps, 2)
	assert.Equal(t, 0, a.finds)
}

func TestRetryTreatsUnsuccessfulResultAsRejection(t *testing.T) {
	a := &scriptedAdapter{rejected: true}
	r, _ := instantRetrier()
	r.MaxAttempts = 2

	_, err := r.Run(context.Background(), a, Request{Username: "alice", TargetID: "9", Credits: 5})
	assert.ErrorIs(t, err, ErrRemoteRejected)
	assert.Contains(t, err.Error(), "limit reached")
	assert.Equal(t, 2, a.adds)
}

func TestRetryStopsWhenSleepIsInterrupted(t *testing.T) {
	a := &scriptedAdapter{addErrs: []error{fail(KindTransport, "down"), fail(KindTransport, "down")}}
	r := NewRetrier()
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		return context.DeadlineExceeded
	}

	res, err := r.Run(context.Background(), a, Request{Username: "alice", TargetID: "9", Credits: 5})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, a.logins)
}

func TestErrorKindsMatch(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindCaptchaTimeout, Message: "x"})
	assert.ErrorIs(t, err, ErrCaptchaTimeout)
	assert.NotErrorIs(t, err, ErrCaptchaFailed)

	assert.ErrorIs(t, classify(context.DeadlineExceeded, "slow"), ErrTimeout)
	assert.ErrorIs(t, classify(fmt.Errorf("boom"), "broken"), ErrTransport)
	assert.Nil(t, classify(nil, "nothing"))
}
