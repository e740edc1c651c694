package config

import (
	"fmt"
	"time"
)

// Probe strategies. Each external system uses exactly one.
const (
	StrategyDirect  = "direct"
	StrategyBrowser = "browser"
)

type ProbeConfig struct {
	ReachabilityTimeout time.Duration       `mapstructure:"reachability_timeout"`
	DirectTimeout       time.Duration       `mapstructure:"direct_timeout"`
	Source              SystemProfileConfig `mapstructure:"source"`
	Target              SystemProfileConfig `mapstructure:"target"`
}

// SelectorConfig is one candidate element locator, tried in declared order.
type SelectorConfig struct {
	Selector    string `mapstructure:"selector"`
	Description string `mapstructure:"description"`
}

// IndicatorConfig lists URL fragments and page phrases that hint at an outcome.
type IndicatorConfig struct {
	URLPatterns        []string `mapstructure:"url_patterns"`
	TextPhrases        []string `mapstructure:"text_phrases"`
	FailOnUnchangedURL bool     `mapstructure:"fail_on_unchanged_url"`
}

// TaxonomyConfig describes how a raw login response body is classified.
type TaxonomyConfig struct {
	Delimiter          string            `mapstructure:"delimiter"`
	SuccessCodes       []string          `mapstructure:"success_codes"`
	FailureCodes       map[string]string `mapstructure:"failure_codes"`
	RedirectMarkers    []string          `mapstructure:"redirect_markers"`
	ProbableSuccessLen int               `mapstructure:"probable_success_len"`
}

// SystemProfileConfig defines how one external system is probed and logged into.
type SystemProfileConfig struct {
	Name              string            `mapstructure:"name"`
	Strategy          string            `mapstructure:"strategy"` // direct, browser
	ReachabilityURLs  []string          `mapstructure:"reachability_urls"`
	LoginEndpoint     string            `mapstructure:"login_endpoint"` // direct strategy
	UsernameField     string            `mapstructure:"username_field"`
	PasswordField     string            `mapstructure:"password_field"`
	ExtraFormFields   map[string]string `mapstructure:"extra_form_fields"`
	Taxonomy          TaxonomyConfig    `mapstructure:"taxonomy"`
	LoginURL          string            `mapstructure:"login_url"` // browser login surface
	UsernameSelectors []SelectorConfig  `mapstructure:"username_selectors"`
	PasswordSelectors []SelectorConfig  `mapstructure:"password_selectors"`
	SubmitSelectors   []SelectorConfig  `mapstructure:"submit_selectors"`
	SuccessIndicators IndicatorConfig   `mapstructure:"success_indicators"`
	FailureIndicators IndicatorConfig   `mapstructure:"failure_indicators"`
	SettleDelay       time.Duration     `mapstructure:"settle_delay"`
}

// Validate checks that the profile carries what its strategy needs.
// Returns an error describing the first validation failure, or nil if valid.
func (c *SystemProfileConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("system profile: name is required")
	}
	if len(c.ReachabilityURLs) == 0 {
		return fmt.Errorf("system %q: at least one reachability url is required", c.Name)
	}
	switch c.Strategy {
	case StrategyDirect:
		if c.LoginEndpoint == "" {
			return fmt.Errorf("system %q: login_endpoint is required for the direct strategy", c.Name)
		}
	case StrategyBrowser:
		if c.LoginURL == "" {
			return fmt.Errorf("system %q: login_url is required for the browser strategy", c.Name)
		}
		if len(c.UsernameSelectors) == 0 || len(c.PasswordSelectors) == 0 {
			return fmt.Errorf("system %q: username and password selectors are required", c.Name)
		}
	default:
		return fmt.Errorf("system %q: unknown strategy %q", c.Name, c.Strategy)
	}
	return nil
}

// withDefaults fills every empty field from def.
func (c SystemProfileConfig) withDefaults(def SystemProfileConfig) SystemProfileConfig {
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if len(c.ReachabilityURLs) == 0 {
		c.ReachabilityURLs = def.ReachabilityURLs
	}
	if c.LoginEndpoint == "" {
		c.LoginEndpoint = def.LoginEndpoint
	}
	if c.UsernameField == "" {
		c.UsernameField = def.UsernameField
	}
	if c.PasswordField == "" {
		c.PasswordField = def.PasswordField
	}
	if c.ExtraFormFields == nil {
		c.ExtraFormFields = def.ExtraFormFields
	}
	if c.Taxonomy.Delimiter == "" {
		c.Taxonomy.Delimiter = def.Taxonomy.Delimiter
	}
	if len(c.Taxonomy.SuccessCodes) == 0 {
		c.Taxonomy.SuccessCodes = def.Taxonomy.SuccessCodes
	}
	if len(c.Taxonomy.FailureCodes) == 0 {
		c.Taxonomy.FailureCodes = def.Taxonomy.FailureCodes
	}
	if len(c.Taxonomy.RedirectMarkers) == 0 {
		c.Taxonomy.RedirectMarkers = def.Taxonomy.RedirectMarkers
	}
	if c.Taxonomy.ProbableSuccessLen == 0 {
		c.Taxonomy.ProbableSuccessLen = def.Taxonomy.ProbableSuccessLen
	}
	if c.LoginURL == "" {
		c.LoginURL = def.LoginURL
	}
	if len(c.UsernameSelectors) == 0 {
		c.UsernameSelectors = def.UsernameSelectors
	}
	if len(c.PasswordSelectors) == 0 {
		c.PasswordSelectors = def.PasswordSelectors
	}
	if len(c.SubmitSelectors) == 0 {
		c.SubmitSelectors = def.SubmitSelectors
	}
	if len(c.SuccessIndicators.URLPatterns) == 0 && len(c.SuccessIndicators.TextPhrases) == 0 {
		c.SuccessIndicators = def.SuccessIndicators
	}
	if len(c.FailureIndicators.URLPatterns) == 0 && len(c.FailureIndicators.TextPhrases) == 0 {
		c.FailureIndicators = def.FailureIndicators
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = def.SettleDelay
	}
	return c
}

var (
	defaultUsernameSelectors = []SelectorConfig{
		{Selector: `input[name="username"]`, Description: "username by name"},
		{Selector: `input[name="email"]`, Description: "email by name"},
		{Selector: `input[type="email"]`, Description: "email input"},
		{Selector: `input[name="login"]`, Description: "login by name"},
		{Selector: `form input[type="text"]`, Description: "first text input in form"},
	}
	defaultPasswordSelectors = []SelectorConfig{
		{Selector: `input[name="password"]`, Description: "password by name"},
		{Selector: `input[name="senha"]`, Description: "localized password by name"},
		{Selector: `input[type="password"]`, Description: "password input"},
	}
	defaultSubmitSelectors = []SelectorConfig{
		{Selector: `button[type="submit"]`, Description: "submit button"},
		{Selector: `input[type="submit"]`, Description: "submit input"},
		{Selector: `form button`, Description: "first button in form"},
	}
	defaultSuccessPhrases = []string{"logout", "sair", "minha conta", "my account", "dashboard", "meus anúncios"}
	defaultFailurePhrases = []string{"senha incorreta", "invalid password", "incorrect password", "usuário ou senha", "invalid credentials", "login inválido"}
)

// DefaultSourceProfile returns the built-in source-system profile. The
// source exposes a non-interactive login endpoint, so it is probed directly.
func DefaultSourceProfile() SystemProfileConfig {
	return SystemProfileConfig{
		Name:             "source",
		Strategy:         StrategyDirect,
		ReachabilityURLs: []string{"https://source.example.com/", "https://app.source.example.com/"},
		LoginEndpoint:    "https://app.source.example.com/login/auth",
		UsernameField:    "email",
		PasswordField:    "senha",
		Taxonomy: TaxonomyConfig{
			Delimiter:    "!-!",
			SuccessCodes: []string{"0"},
			FailureCodes: map[string]string{
				"1": "incorrect password",
				"2": "user not found",
				"3": "access limit exceeded",
				"4": "account blocked",
			},
			RedirectMarkers:    []string{"eval(", "window.open", "window.location", "location.href"},
			ProbableSuccessLen: 200,
		},
		LoginURL:          "https://app.source.example.com/login",
		UsernameSelectors: defaultUsernameSelectors,
		PasswordSelectors: defaultPasswordSelectors,
		SubmitSelectors:   defaultSubmitSelectors,
		SuccessIndicators: IndicatorConfig{URLPatterns: []string{"/painel", "/dashboard", "/imoveis"}, TextPhrases: defaultSuccessPhrases},
		FailureIndicators: IndicatorConfig{TextPhrases: defaultFailurePhrases, FailOnUnchangedURL: true},
		SettleDelay:       3 * time.Second,
	}
}

// DefaultTargetProfile returns the built-in target-system profile. The
// target is a client-rendered application and is probed with the browser.
func DefaultTargetProfile() SystemProfileConfig {
	return SystemProfileConfig{
		Name:              "target",
		Strategy:          StrategyBrowser,
		ReachabilityURLs:  []string{"https://www.target.example.com/", "https://conta.target.example.com/"},
		LoginURL:          "https://conta.target.example.com/acesso",
		UsernameSelectors: defaultUsernameSelectors,
		PasswordSelectors: defaultPasswordSelectors,
		SubmitSelectors:   defaultSubmitSelectors,
		SuccessIndicators: IndicatorConfig{URLPatterns: []string{"/minha-conta", "/anuncios", "/account"}, TextPhrases: defaultSuccessPhrases},
		FailureIndicators: IndicatorConfig{TextPhrases: defaultFailurePhrases, FailOnUnchangedURL: true},
		SettleDelay:       5 * time.Second,
	}
}
