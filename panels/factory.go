package panels

import (
	"fmt"
	"net/http"

	"git.sr.ht/~aondrejcak/panel-credits/automation"
	"git.sr.ht/~aondrejcak/panel-credits/models"
)

// Factory builds the adapter matching a panel configuration.
type Factory struct {
	HTTPClient    *http.Client
	Captcha       CaptchaSolver
	CaptchaAPIKey string
	Queue         *automation.Queue
	Browser       BrowserOptions
	Retrier       *Retrier
}

func (f *Factory) New(cfg *models.PanelConfig) (Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing panel configuration")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("panel %s has no base url", cfg.ResellerType)
	}

	retrier := f.Retrier
	if retrier == nil {
		retrier = NewRetrier()
	}

	switch strategy := cfg.EffectiveStrategy(); strategy {
	case models.STRATEGY_TOKEN:
		return NewTokenAdapter(cfg, f.HTTPClient, retrier), nil
	case models.STRATEGY_FORM:
		return NewFormAdapter(cfg, f.HTTPClient, retrier, f.Captcha, f.CaptchaAPIKey), nil
	case models.STRATEGY_BROWSER:
		if f.Queue == nil {
			return nil, fmt.Errorf("panel %s requires a browser but no automation queue is configured", cfg.ResellerType)
		}
		return NewBrowserAdapter(cfg, f.Queue, retrier, f.Captcha, f.CaptchaAPIKey, f.Browser), nil
	default:
		return nil, fmt.Errorf("panel %s has unknown strategy %q", cfg.ResellerType, strategy)
	}
}
