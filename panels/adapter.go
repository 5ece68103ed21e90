// Package panels drives third-party reseller panels. Every panel family is
// reached through the Adapter interface; how a family logs in and adds
// credits is chosen from its PanelConfig (token API, HTML form or a full
// headless browser).
package panels

import (
	"context"
	"net/http"
	"time"
)

// AuthContext is a freshly established panel session. Only the fields the
// strategy needs are set.
type AuthContext struct {
	Token    string
	Client   *http.Client
	CSRF     string
	IssuedAt time.Time
}

type CreditResult struct {
	Success bool
	Message string
	Raw     string
}

type Adapter interface {
	Login(ctx context.Context) (*AuthContext, error)
	FindTarget(ctx context.Context, auth *AuthContext, username string) (string, error)
	AddCredits(ctx context.Context, auth *AuthContext, targetID string, credits int) (*CreditResult, error)

	// AddCreditsWithRetry runs login + credit addition under the shared retry policy.
	AddCreditsWithRetry(ctx context.Context, username, targetID string, credits int) (*CreditResult, error)
}

// Exclusive is implemented by adapters whose whole login/credit cycle has to
// run inside one exclusive session (the browser strategy).
type Exclusive interface {
	Exclusive(ctx context.Context, fn func(ctx context.Context) error) error
}

type CaptchaSolver interface {
	Solve(ctx context.Context, siteKey, pageURL, apiKey string) (string, error)
}
