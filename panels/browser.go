package panels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/automation"
	"git.sr.ht/~aondrejcak/panel-credits/models"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultBrowserBudget     = 6 * time.Minute
)

var errAbandoned = errors.New("caller stopped waiting before the browser task started")

type BrowserOptions struct {
	Headless          bool
	ExecPath          string
	NavigationTimeout time.Duration
	// Budget bounds one whole login + credit cycle inside the browser.
	Budget time.Duration
}

type browserSessionKey struct{}

// BrowserAdapter drives a panel UI through headless Chrome. Every cycle runs
// as a single task on the automation queue, so at most one browser exists.
//
// Options: login_path, username_selector, password_selector, captcha_selector,
// captcha_api_key, submit_selector, dialog_selector, dialog_error_selector,
// dialog_confirm_selector, search_path, search_selector, row_selector,
// row_id_attr, row_user_attr, credit_button_selector, credit_input_selector,
// credit_submit_selector.
type BrowserAdapter struct {
	cfg        *models.PanelConfig
	queue      *automation.Queue
	captcha    CaptchaSolver
	captchaKey string
	retrier    *Retrier
	opts       BrowserOptions

	// swapped in tests
	newBrowser func(ctx context.Context) (context.Context, context.CancelFunc)
	run        func(ctx context.Context, actions ...chromedp.Action) error
}

func NewBrowserAdapter(cfg *models.PanelConfig, queue *automation.Queue, retrier *Retrier, solver CaptchaSolver, captchaKey string, opts BrowserOptions) *BrowserAdapter {
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	if opts.Budget == 0 {
		opts.Budget = DefaultBrowserBudget
	}
	if retrier == nil {
		retrier = NewRetrier()
	}

	a := &BrowserAdapter{
		cfg:        cfg,
		queue:      queue,
		captcha:    solver,
		captchaKey: cfg.Option("captcha_api_key", captchaKey),
		retrier:    retrier,
		opts:       opts,
		run:        chromedp.Run,
	}
	a.newBrowser = a.launch
	return a
}

func (a *BrowserAdapter) launch(ctx context.Context) (context.Context, context.CancelFunc) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1366, 768),
	)
	if a.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(a.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
	}
}

func (a *BrowserAdapter) url(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Exclusive runs fn inside one automation queue task with a fresh browser.
func (a *BrowserAdapter) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	name := "panel:" + a.cfg.ResellerType

	_, err := automation.Run(ctx, a.queue, name, func(qctx context.Context) (struct{}, error) {
		// the queue never cancels a started task; skip the ones nobody waits for
		if ctx.Err() != nil {
			return struct{}{}, errAbandoned
		}

		tctx, cancel := context.WithTimeout(qctx, a.opts.Budget)
		defer cancel()

		bctx, closeBrowser := a.newBrowser(tctx)
		defer closeBrowser()

		started := time.Now()
		err := fn(context.WithValue(bctx, browserSessionKey{}, true))
		log.Debug().Str("task", name).Dur("took", time.Since(started)).Err(err).Msg("browser task finished")
		return struct{}{}, err
	})
	if err != nil {
		return classify(err, "browser task %s", name)
	}
	return nil
}

func (a *BrowserAdapter) session(ctx context.Context) error {
	if ctx.Value(browserSessionKey{}) == nil {
		return fail(KindTransport, "browser adapter used outside of its automation task")
	}
	return nil
}

func (a *BrowserAdapter) step(ctx context.Context, what string, actions ...chromedp.Action) error {
	sctx, cancel := context.WithTimeout(ctx, a.opts.NavigationTimeout)
	defer cancel()
	if err := a.run(sctx, actions...); err != nil {
		return classify(err, "browser step %s", what)
	}
	return nil
}

// dialog waits for the confirmation dialog, reads it and dismisses it.
func (a *BrowserAdapter) dialog(ctx context.Context) (string, bool, error) {
	cfg := a.cfg
	dialogSel := cfg.Option("dialog_selector", ".swal2-popup")
	errorSel := cfg.Option("dialog_error_selector", ".swal2-icon-error")
	confirmSel := cfg.Option("dialog_confirm_selector", ".swal2-confirm")

	var msg string
	var failed bool
	err := a.step(ctx, "read dialog",
		chromedp.WaitVisible(dialogSel, chromedp.ByQuery),
		chromedp.Text(dialogSel, &msg, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(`!!document.querySelector(%q)`, errorSel), &failed),
	)
	if err != nil {
		return "", false, err
	}

	// best effort, some panels close the dialog on their own
	_ = a.step(ctx, "dismiss dialog", chromedp.Click(confirmSel, chromedp.ByQuery, chromedp.AtLeast(0)))

	return strings.Join(strings.Fields(msg), " "), failed, nil
}

func (a *BrowserAdapter) Login(ctx context.Context) (*AuthContext, error) {
	if err := a.session(ctx); err != nil {
		return nil, err
	}
	cfg := a.cfg
	loginURL := a.url(cfg.Option("login_path", "/login"))
	userSel := cfg.Option("username_selector", `input[name="username"]`)
	passSel := cfg.Option("password_selector", `input[name="password"]`)

	err := a.step(ctx, "open login",
		emulation.SetUserAgentOverride(userAgent),
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(userSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(passSel, cfg.Password, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}

	if cfg.CaptchaSiteKey != "" {
		if a.captcha == nil {
			return nil, fail(KindCaptchaFailed, "panel %s needs a captcha solver", cfg.ResellerType)
		}
		token, err := a.captcha.Solve(ctx, cfg.CaptchaSiteKey, loginURL, a.captchaKey)
		if err != nil {
			return nil, captchaError(err)
		}
		captchaSel := cfg.Option("captcha_selector", "#g-recaptcha-response")
		if err := a.step(ctx, "inject captcha", chromedp.SetValue(captchaSel, token, chromedp.ByQuery)); err != nil {
			return nil, err
		}
	}

	if err := a.step(ctx, "submit login", chromedp.Click(cfg.Option("submit_selector", `button[type="submit"]`), chromedp.ByQuery)); err != nil {
		return nil, err
	}

	msg, failed, err := a.dialog(ctx)
	if err != nil {
		return nil, err
	}
	if failed {
		return nil, &Error{Kind: KindAuthenticationFailed, Message: msg, Raw: msg}
	}

	return &AuthContext{IssuedAt: time.Now()}, nil
}

func (a *BrowserAdapter) FindTarget(ctx context.Context, _ *AuthContext, username string) (string, error) {
	if err := a.session(ctx); err != nil {
		return "", err
	}
	cfg := a.cfg
	searchSel := cfg.Option("search_selector", `input[type="search"]`)
	rowSel := cfg.Option("row_selector", "table tbody tr")

	err := a.step(ctx, "search user",
		chromedp.Navigate(a.url(cfg.Option("search_path", "/users"))),
		chromedp.WaitVisible(searchSel, chromedp.ByQuery),
		chromedp.SendKeys(searchSel, username+kb.Enter, chromedp.ByQuery),
		chromedp.WaitVisible(rowSel, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}

	script := fmt.Sprintf(`(() => {
		for (const row of document.querySelectorAll(%q)) {
			const name = (row.getAttribute(%q) || row.textContent || "").trim().toLowerCase();
			if (name === %q || name.split(/\s+/).includes(%q)) {
				return row.getAttribute(%q) || "";
			}
		}
		return "";
	})()`, rowSel, cfg.Option("row_user_attr", "data-username"),
		strings.ToLower(username), strings.ToLower(username), cfg.Option("row_id_attr", "data-id"))

	var id string
	if err := a.step(ctx, "locate user row", chromedp.Evaluate(script, &id)); err != nil {
		return "", err
	}
	if id == "" {
		return "", fail(KindTargetNotFound, "user %q not found on panel %s", username, cfg.ResellerType)
	}
	return id, nil
}

func (a *BrowserAdapter) AddCredits(ctx context.Context, _ *AuthContext, targetID string, credits int) (*CreditResult, error) {
	if err := a.session(ctx); err != nil {
		return nil, err
	}
	cfg := a.cfg
	buttonSel := strings.ReplaceAll(cfg.Option("credit_button_selector", `[data-id="{id}"] .btn-credits`), "{id}", targetID)
	inputSel := cfg.Option("credit_input_selector", `input[name="credits"]`)

	err := a.step(ctx, "enter credits",
		chromedp.Click(buttonSel, chromedp.ByQuery),
		chromedp.WaitVisible(inputSel, chromedp.ByQuery),
		chromedp.SendKeys(inputSel, strconv.Itoa(credits), chromedp.ByQuery),
		chromedp.Click(cfg.Option("credit_submit_selector", `.modal button[type="submit"]`), chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}

	msg, failed, err := a.dialog(ctx)
	if err != nil {
		return nil, err
	}
	return &CreditResult{Success: !failed, Message: msg, Raw: msg}, nil
}

func (a *BrowserAdapter) AddCreditsWithRetry(ctx context.Context, username, targetID string, credits int) (*CreditResult, error) {
	return a.retrier.AddCredits(ctx, a, username, targetID, credits)
}
