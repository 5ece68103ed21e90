package models

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

//goland:noinspection ALL
const (
	STRATEGY_TOKEN   = "token"
	STRATEGY_FORM    = "form"
	STRATEGY_BROWSER = "browser"
)

type PanelConfig struct {
	gorm.Model

	TenantID     string `gorm:"uniqueIndex:idx_panel_type;size:32"`
	ResellerType string `gorm:"uniqueIndex:idx_panel_type;size:64"`

	Strategy string `gorm:"size:16"`
	BaseURL  string
	Username string
	Password string

	CaptchaSiteKey  string
	RequiresBrowser bool

	// panel specific paths, field names and selectors
	Options datatypes.JSON
}

// Option returns a string option or def when it is not configured.
func (pc *PanelConfig) Option(key, def string) string {
	if len(pc.Options) == 0 {
		return def
	}
	var opts map[string]any
	if err := json.Unmarshal(pc.Options, &opts); err != nil {
		return def
	}
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

// EffectiveStrategy resolves the adapter strategy; RequiresBrowser wins.
func (pc *PanelConfig) EffectiveStrategy() string {
	if pc.RequiresBrowser {
		return STRATEGY_BROWSER
	}
	if pc.Strategy == "" {
		return STRATEGY_TOKEN
	}
	return pc.Strategy
}
