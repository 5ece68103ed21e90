package panels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"git.sr.ht/~aondrejcak/panel-credits/captcha"
	"git.sr.ht/~aondrejcak/panel-credits/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body>
<form method="post" action="/login">
  <input type="hidden" name="_token" value="csrf-1">
  <input name="username"><input type="password" name="password">
  %s
</form></body></html>`

type formPanel struct {
	wantCaptcha string
	lastCredits string
}

func (p *formPanel) handler(t *testing.T) http.Handler {
	authed := func(r *http.Request) bool {
		c, err := r.Cookie("session")
		return err == nil && c.Value == "logged-in"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "guest", Path: "/"})
		_, _ = fmt.Fprintf(w, loginPage, "")
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		assert.NoError(t, err)
		if err == nil {
			assert.Equal(t, "guest", c.Value)
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "csrf-1", r.PostForm.Get("_token"))
		assert.Equal(t, p.wantCaptcha, r.PostForm.Get("g-recaptcha-response"))

		if r.PostForm.Get("username") != "reseller" || r.PostForm.Get("password") != "secret" {
			_, _ = fmt.Fprintf(w, loginPage, `<div class="alert alert-danger">These credentials do not match our records.</div>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "logged-in", Path: "/"})
		_, _ = fmt.Fprint(w, `<html><head><meta name="csrf-token" content="csrf-2"></head><body>Dashboard</body></html>`)
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			_, _ = fmt.Fprintf(w, loginPage, "")
			return
		}
		_, _ = fmt.Fprint(w, `<table><tbody>
<tr data-id="41" data-username="bob"><td>bob</td></tr>
<tr data-id="42" data-username="alice"><td>alice</td></tr>
</tbody></table>`)
	})
	mux.HandleFunc("POST /users/{id}/credits", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			_, _ = fmt.Fprintf(w, loginPage, "")
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "csrf-2", r.PostForm.Get("_token"))
		assert.Equal(t, "csrf-2", r.Header.Get("X-CSRF-TOKEN"))
		p.lastCredits = r.PostForm.Get("credits")
		if r.PathValue("id") != "42" {
			_, _ = fmt.Fprint(w, `<div class="alert alert-danger">Insufficient balance</div>`)
			return
		}
		_, _ = fmt.Fprint(w, `<div class="alert alert-success">Credits added</div>`)
	})
	return mux
}

func formConfig(url string) *models.PanelConfig {
	return &models.PanelConfig{
		ResellerType: "beta",
		Strategy:     models.STRATEGY_FORM,
		BaseURL:      url,
		Username:     "reseller",
		Password:     "secret",
	}
}

type fakeSolver struct {
	token string
	err   error
	calls int
	key   string
}

func (s *fakeSolver) Solve(ctx context.Context, siteKey, pageURL, apiKey string) (string, error) {
	s.calls++
	s.key = apiKey
	return s.token, s.err
}

func TestFormFullCycle(t *testing.T) {
	p := &formPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	a := NewFormAdapter(formConfig(srv.URL), srv.Client(), nil, nil, "")
	ctx := context.Background()

	auth, err := a.Login(ctx)
	require.NoError(t, err)
	assert.Equal(t, "csrf-2", auth.CSRF)
	require.NotNil(t, auth.Client.Jar)

	id, err := a.FindTarget(ctx, auth, "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	res, err := a.AddCredits(ctx, auth, id, 30)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Credits added", res.Message)
	assert.Equal(t, "30", p.lastCredits)

	res, err = a.AddCredits(ctx, auth, "41", 30)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Insufficient balance", res.Message)
}

func TestFormLoginRejected(t *testing.T) {
	p := &formPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	cfg := formConfig(srv.URL)
	cfg.Password = "nope"
	_, err := NewFormAdapter(cfg, srv.Client(), nil, nil, "").Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Contains(t, err.Error(), "do not match")
}

func TestFormLoginWithCaptcha(t *testing.T) {
	p := &formPanel{wantCaptcha: "captcha-token"}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	cfg := formConfig(srv.URL)
	cfg.CaptchaSiteKey = "site-key"
	solver := &fakeSolver{token: "captcha-token"}

	_, err := NewFormAdapter(cfg, srv.Client(), nil, solver, "global-key").Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, solver.calls)
	assert.Equal(t, "global-key", solver.key)
}

func TestFormCaptchaFailures(t *testing.T) {
	p := &formPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	cfg := formConfig(srv.URL)
	cfg.CaptchaSiteKey = "site-key"

	_, err := NewFormAdapter(cfg, srv.Client(), nil, &fakeSolver{err: captcha.ErrTimeout}, "").Login(context.Background())
	assert.ErrorIs(t, err, ErrCaptchaTimeout)

	_, err = NewFormAdapter(cfg, srv.Client(), nil, &fakeSolver{err: errors.New("ERROR_ZERO_BALANCE")}, "").Login(context.Background())
	assert.ErrorIs(t, err, ErrCaptchaFailed)

	_, err = NewFormAdapter(cfg, srv.Client(), nil, nil, "").Login(context.Background())
	assert.ErrorIs(t, err, ErrCaptchaFailed)
}

func TestFormSessionLost(t *testing.T) {
	p := &formPanel{}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	a := NewFormAdapter(formConfig(srv.URL), srv.Client(), nil, nil, "")
	client, err := a.session()
	require.NoError(t, err)

	_, err = a.AddCredits(context.Background(), &AuthContext{Client: client}, "42", 10)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
