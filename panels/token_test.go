package panels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type tokenPanel struct {
	logins  atomic.Int32
	credits atomic.Int32
	added   atomic.Int32
}

func (p *tokenPanel) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		p.logins.Add(1)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		if body["login"] != "reseller" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"token": "tok-1"}})
	})
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"id": 7, "username": "alice"},
			{"id": 8, "username": "bob"},
		}})
	})
	mux.HandleFunc("POST /api/users/{id}/credits", func(w http.ResponseWriter, r *http.Request) {
		p.credits.Add(1)
		if r.PathValue("id") != "7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]int
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["credits"] > 1000 {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "insufficient balance"})
			return
		}
		p.added.Add(int32(body["credits"]))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "credits added"})
	})
	return mux
}

func tokenConfig(url string) *models.PanelConfig {
	return &models.PanelConfig{
		ResellerType: "alpha",
		Strategy:     models.STRATEGY_TOKEN,
		BaseURL:      url,
		Username:     "reseller",
		Password:     "secret",
		Options:      datatypes.JSON(`{"username_field": "login", "token_field": "data.token"}`),
	}
}

func instantRetrier() (*Retrier, *[]time.Duration) {
	var sleeps []time.Duration
	r := NewRetrier()
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return r, &sleeps
}

func TestTokenLogin(t *testing.T) {
	p := &tokenPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	a := NewTokenAdapter(tokenConfig(srv.URL), srv.Client(), nil)
	auth, err := a.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", auth.Token)
}

func TestTokenLoginRejected(t *testing.T) {
	p := &tokenPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	cfg := tokenConfig(srv.URL)
	cfg.Password = "wrong"
	_, err := NewTokenAdapter(cfg, srv.Client(), nil).Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestTokenFindTarget(t *testing.T) {
	p := &tokenPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	a := NewTokenAdapter(tokenConfig(srv.URL), srv.Client(), nil)
	auth := &AuthContext{Token: "tok-1"}

	id, err := a.FindTarget(context.Background(), auth, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	_, err = a.FindTarget(context.Background(), auth, "carol")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestTokenAddCredits(t *testing.T) {
	p := &tokenPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	a := NewTokenAdapter(tokenConfig(srv.URL), srv.Client(), nil)
	auth := &AuthContext{Token: "tok-1"}

	res, err := a.AddCredits(context.Background(), auth, "7", 30)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "credits added", res.Message)
	assert.Equal(t, int32(30), p.added.Load())

	res, err = a.AddCredits(context.Background(), auth, "7", 5000)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient balance", res.Message)

	_, err = a.AddCredits(context.Background(), auth, "99", 30)
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestTokenAddCreditsWithRetry(t *testing.T) {
	p := &tokenPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	retrier, sleeps := instantRetrier()
	a := NewTokenAdapter(tokenConfig(srv.URL), srv.Client(), retrier)

	res, err := a.AddCreditsWithRetry(context.Background(), "bob", "7", 12)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), p.logins.Load())
	assert.Empty(t, *sleeps)
}

func TestTokenServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewTokenAdapter(tokenConfig(srv.URL), srv.Client(), nil).Login(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}
