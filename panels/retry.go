package panels

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 10 * time.Second
)

type Request struct {
	PaymentID uint
	Username  string
	TargetID  string
	Credits   int
}

// Attempt describes one login + addCredits cycle. It only lives for the
// duration of the cycle.
type Attempt struct {
	Number    int
	StartedAt time.Time
	Request   Request
}

type Result struct {
	Credit   *CreditResult
	TargetID string
	Attempts int
}

// Retrier is the one retry policy for every panel family. Each attempt logs
// in again; sessions are never reused between attempts.
type Retrier struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error

	// Observe, when set, is called after every attempt.
	Observe func(a Attempt, err error)
}

func NewRetrier() *Retrier {
	return &Retrier{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Sleep:       sleep,
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

// Run performs up to MaxAttempts cycles. The returned Result is non-nil even
// on failure and carries the target id if one was resolved.
func (r *Retrier) Run(ctx context.Context, a Adapter, req Request) (*Result, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleepFn := r.Sleep
	if sleepFn == nil {
		sleepFn = sleep
	}

	res := &Result{TargetID: req.TargetID}
	var lastErr error

	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			if err := sleepFn(ctx, r.Delay); err != nil {
				return res, classify(err, "retry aborted after %d attempts (last: %v)", n-1, lastErr)
			}
		}

		attempt := Attempt{Number: n, StartedAt: time.Now(), Request: req}
		credit, err := r.cycle(ctx, a, &req)
		res.Attempts = n
		res.TargetID = req.TargetID

		if r.Observe != nil {
			r.Observe(attempt, err)
		}

		if err == nil {
			res.Credit = credit
			return res, nil
		}

		lastErr = err
		log.Warn().Err(err).
			Uint("payment_id", req.PaymentID).
			Int("attempt", n).
			Int("max_attempts", maxAttempts).
			Dur("elapsed", time.Since(attempt.StartedAt)).
			Msg("panel attempt failed")
	}

	return res, lastErr
}

func (r *Retrier) cycle(ctx context.Context, a Adapter, req *Request) (*CreditResult, error) {
	var out *CreditResult

	run := func(ctx context.Context) error {
		auth, err := a.Login(ctx)
		if err != nil {
			return err
		}

		if req.TargetID == "" {
			id, err := a.FindTarget(ctx, auth, req.Username)
			if err != nil {
				return err
			}
			req.TargetID = id
		}

		res, err := a.AddCredits(ctx, auth, req.TargetID, req.Credits)
		if err != nil {
			return err
		}
		if !res.Success {
			return &Error{Kind: KindRemoteRejected, Message: res.Message, Raw: res.Raw}
		}
		out = res
		return nil
	}

	var err error
	if ex, ok := a.(Exclusive); ok {
		err = ex.Exclusive(ctx, run)
	} else {
		err = run(ctx)
	}
	return out, err
}

// AddCredits is the body of every adapter's AddCreditsWithRetry.
func (r *Retrier) AddCredits(ctx context.Context, a Adapter, username, targetID string, credits int) (*CreditResult, error) {
	res, err := r.Run(ctx, a, Request{Username: username, TargetID: targetID, Credits: credits})
	if err != nil {
		return nil, err
	}
	return res.Credit, nil
}
