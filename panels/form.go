package panels

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"golang.org/x/net/html"
)

// FormAdapter drives server-rendered panels: CSRF token plus session cookies
// from the login page, an optional captcha, then cookie-authenticated forms.
//
// Options: login_path, username_field, password_field, csrf_field,
// captcha_field, captcha_api_key, search_path, row_id_attr, row_user_attr,
// credits_path, credits_field, success_class, error_class.
type FormAdapter struct {
	httpPanel

	captcha    CaptchaSolver
	captchaKey string
}

func NewFormAdapter(cfg *models.PanelConfig, client *http.Client, retrier *Retrier, solver CaptchaSolver, captchaKey string) *FormAdapter {
	return &FormAdapter{
		httpPanel:  newHTTPPanel(cfg, client, retrier),
		captcha:    solver,
		captchaKey: cfg.Option("captcha_api_key", captchaKey),
	}
}

// session returns a client with its own cookie jar.
func (a *FormAdapter) session() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: a.client.Transport,
		Timeout:   a.client.Timeout,
		Jar:       jar,
	}, nil
}

func (a *FormAdapter) get(ctx context.Context, client *http.Client, u string) (*response, *html.Node, error) {
	r, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, classify(err, "could not create request")
	}
	rsp, err := a.do(ctx, client, r)
	if err != nil {
		return nil, nil, err
	}
	if rsp.status >= 300 {
		return rsp, nil, statusError(rsp, "GET "+u)
	}
	doc, err := parseHTML(rsp.body)
	if err != nil {
		return rsp, nil, classify(err, "could not parse %s", u)
	}
	return rsp, doc, nil
}

func (a *FormAdapter) postForm(ctx context.Context, client *http.Client, u, csrf string, form url.Values) (*response, *html.Node, error) {
	r, err := http.NewRequest(http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, classify(err, "could not create request")
	}
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if csrf != "" {
		r.Header.Set("X-CSRF-TOKEN", csrf)
	}
	rsp, err := a.do(ctx, client, r)
	if err != nil {
		return nil, nil, err
	}
	if rsp.status >= 300 {
		return rsp, nil, statusError(rsp, "POST "+u)
	}
	doc, err := parseHTML(rsp.body)
	if err != nil {
		return rsp, nil, classify(err, "could not parse %s", u)
	}
	return rsp, doc, nil
}

func (a *FormAdapter) Login(ctx context.Context) (*AuthContext, error) {
	cfg := a.cfg
	client, err := a.session()
	if err != nil {
		return nil, classify(err, "could not create cookie jar")
	}

	loginURL := a.path("login_path", "/login", nil)
	_, doc, err := a.get(ctx, client, loginURL)
	if err != nil {
		return nil, err
	}

	csrfField := cfg.Option("csrf_field", "_token")
	csrf := csrfToken(doc, csrfField)

	form := url.Values{}
	form.Set(cfg.Option("username_field", "username"), cfg.Username)
	form.Set(cfg.Option("password_field", "password"), cfg.Password)
	if csrf != "" {
		form.Set(csrfField, csrf)
	}

	if cfg.CaptchaSiteKey != "" {
		if a.captcha == nil {
			return nil, fail(KindCaptchaFailed, "panel %s needs a captcha solver", cfg.ResellerType)
		}
		token, err := a.captcha.Solve(ctx, cfg.CaptchaSiteKey, loginURL, a.captchaKey)
		if err != nil {
			return nil, captchaError(err)
		}
		form.Set(cfg.Option("captcha_field", "g-recaptcha-response"), token)
	}

	rsp, doc, err := a.postForm(ctx, client, loginURL, csrf, form)
	if err != nil {
		if pe, ok := err.(*Error); ok && pe.Kind == KindRemoteRejected {
			pe.Kind = KindAuthenticationFailed
		}
		return nil, err
	}

	// a password field on the answer means we are still looking at the login form
	if inputNamed(doc, cfg.Option("password_field", "password")) != nil {
		msg := "credentials rejected"
		if alert := a.alert(doc, cfg.Option("error_class", "alert-danger")); alert != "" {
			msg = alert
		}
		return nil, &Error{Kind: KindAuthenticationFailed, Message: msg, Raw: truncate(string(rsp.body), 2048)}
	}

	// session-bound token issued after login, if the landing page has one
	if fresh := csrfToken(doc, csrfField); fresh != "" {
		csrf = fresh
	}

	return &AuthContext{Client: client, CSRF: csrf, IssuedAt: time.Now()}, nil
}

func (a *FormAdapter) alert(doc *html.Node, class string) string {
	n := find(doc, func(n *html.Node) bool { return hasClass(n, class) })
	if n == nil {
		return ""
	}
	return text(n)
}

func (a *FormAdapter) FindTarget(ctx context.Context, auth *AuthContext, username string) (string, error) {
	cfg := a.cfg
	u := a.path("search_path", "/users?search={username}", map[string]string{"username": url.QueryEscape(username)})

	_, doc, err := a.get(ctx, auth.Client, u)
	if err != nil {
		return "", err
	}

	idAttr := cfg.Option("row_id_attr", "data-id")
	userAttr := cfg.Option("row_user_attr", "data-username")
	row := find(doc, func(n *html.Node) bool {
		v, ok := attr(n, userAttr)
		return ok && strings.EqualFold(strings.TrimSpace(v), username)
	})
	if row != nil {
		if id, _ := attr(row, idAttr); id != "" {
			return id, nil
		}
	}
	return "", fail(KindTargetNotFound, "user %q not found on panel %s", username, cfg.ResellerType)
}

func (a *FormAdapter) AddCredits(ctx context.Context, auth *AuthContext, targetID string, credits int) (*CreditResult, error) {
	cfg := a.cfg
	u := a.path("credits_path", "/users/{id}/credits", map[string]string{"id": url.PathEscape(targetID)})

	form := url.Values{}
	form.Set(cfg.Option("credits_field", "credits"), strconv.Itoa(credits))
	if auth.CSRF != "" {
		form.Set(cfg.Option("csrf_field", "_token"), auth.CSRF)
	}

	rsp, doc, err := a.postForm(ctx, auth.Client, u, auth.CSRF, form)
	if err != nil {
		return nil, err
	}

	raw := truncate(string(rsp.body), 4096)
	if msg := a.alert(doc, cfg.Option("error_class", "alert-danger")); msg != "" {
		return &CreditResult{Success: false, Message: msg, Raw: raw}, nil
	}
	if inputNamed(doc, cfg.Option("password_field", "password")) != nil {
		return nil, &Error{Kind: KindAuthenticationFailed, Message: "session lost while adding credits", Raw: raw}
	}

	msg := a.alert(doc, cfg.Option("success_class", "alert-success"))
	if msg == "" {
		msg = "added " + strconv.Itoa(credits) + " credits"
	}
	return &CreditResult{Success: true, Message: msg, Raw: raw}, nil
}

func (a *FormAdapter) AddCreditsWithRetry(ctx context.Context, username, targetID string, credits int) (*CreditResult, error) {
	return a.retrier.AddCredits(ctx, a, username, targetID, credits)
}
