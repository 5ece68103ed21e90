package panels

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
)

// TokenAdapter talks to panels exposing a JSON API with bearer tokens.
//
// Options: login_path, username_field, password_field, token_field,
// search_path, list_field, id_field, user_field, credits_path, credits_field.
type TokenAdapter struct {
	httpPanel
}

func NewTokenAdapter(cfg *models.PanelConfig, client *http.Client, retrier *Retrier) *TokenAdapter {
	return &TokenAdapter{newHTTPPanel(cfg, client, retrier)}
}

func (a *TokenAdapter) postJSON(ctx context.Context, u, token string, payload any) (*response, error) {
	j, err := json.Marshal(payload)
	if err != nil {
		return nil, classify(err, "could not marshal payload")
	}
	r, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(j))
	if err != nil {
		return nil, classify(err, "could not create request")
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return a.do(ctx, a.client, r)
}

func (a *TokenAdapter) Login(ctx context.Context) (*AuthContext, error) {
	cfg := a.cfg
	rsp, err := a.postJSON(ctx, a.path("login_path", "/api/auth/login", nil), "", map[string]string{
		cfg.Option("username_field", "username"): cfg.Username,
		cfg.Option("password_field", "password"): cfg.Password,
	})
	if err != nil {
		return nil, err
	}
	if rsp.status >= 300 {
		err := statusError(rsp, "login")
		if pe, ok := err.(*Error); ok && (pe.Kind == KindRemoteRejected || pe.Kind == KindTargetNotFound) {
			pe.Kind = KindAuthenticationFailed
		}
		return nil, err
	}

	var body any
	if err := json.Unmarshal(rsp.body, &body); err != nil {
		return nil, fail(KindAuthenticationFailed, "login response is not json")
	}
	tok, ok := lookup(body, cfg.Option("token_field", "token"))
	if !ok || stringify(tok) == "" {
		return nil, &Error{Kind: KindAuthenticationFailed, Message: "no token in login response", Raw: truncate(string(rsp.body), 2048)}
	}

	return &AuthContext{Token: stringify(tok), IssuedAt: time.Now()}, nil
}

func (a *TokenAdapter) FindTarget(ctx context.Context, auth *AuthContext, username string) (string, error) {
	cfg := a.cfg
	u := a.path("search_path", "/api/users?search={username}", map[string]string{"username": url.QueryEscape(username)})

	r, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return "", classify(err, "could not create request")
	}
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Authorization", "Bearer "+auth.Token)

	rsp, err := a.do(ctx, a.client, r)
	if err != nil {
		return "", err
	}
	if rsp.status >= 300 {
		return "", statusError(rsp, "user search")
	}

	var body any
	if err := json.Unmarshal(rsp.body, &body); err != nil {
		return "", classify(err, "could not unmarshal user search")
	}

	items, ok := body.([]any)
	if !ok {
		list, _ := lookup(body, cfg.Option("list_field", "data"))
		items, _ = list.([]any)
	}

	idField := cfg.Option("id_field", "id")
	userField := cfg.Option("user_field", "username")
	for _, item := range items {
		name, _ := lookup(item, userField)
		if !strings.EqualFold(stringify(name), username) {
			continue
		}
		if id, ok := lookup(item, idField); ok && stringify(id) != "" {
			return stringify(id), nil
		}
	}
	return "", fail(KindTargetNotFound, "user %q not found on panel %s", username, cfg.ResellerType)
}

func (a *TokenAdapter) AddCredits(ctx context.Context, auth *AuthContext, targetID string, credits int) (*CreditResult, error) {
	cfg := a.cfg
	u := a.path("credits_path", "/api/users/{id}/credits", map[string]string{"id": url.PathEscape(targetID)})

	rsp, err := a.postJSON(ctx, u, auth.Token, map[string]any{
		cfg.Option("credits_field", "credits"): credits,
	})
	if err != nil {
		return nil, err
	}
	if rsp.status >= 300 {
		return nil, statusError(rsp, "add credits")
	}

	res := &CreditResult{
		Success: true,
		Message: messageOf(rsp.body, "added "+strconv.Itoa(credits)+" credits"),
		Raw:     truncate(string(rsp.body), 4096),
	}

	var body any
	if err := json.Unmarshal(rsp.body, &body); err == nil {
		if ok, found := lookup(body, "success"); found {
			if b, isBool := ok.(bool); isBool && !b {
				res.Success = false
			}
		}
	}
	return res, nil
}

func (a *TokenAdapter) AddCreditsWithRetry(ctx context.Context, username, targetID string, credits int) (*CreditResult, error) {
	return a.retrier.AddCredits(ctx, a, username, targetID, credits)
}
