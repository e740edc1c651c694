package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/logger"
	"github.com/timmy/listingsync/internal/verdict"
)

const (
	defaultReachabilityTimeout = 10 * time.Second
	defaultDirectTimeout       = 15 * time.Second
)

// systemProbe is a compiled system profile.
type systemProbe struct {
	profile  config.SystemProfileConfig
	taxonomy *verdict.ResponseTaxonomy
	success  verdict.IndicatorSet
	failure  verdict.IndicatorSet
	form     browser.LoginForm
}

// ConnectivityService verifies that an external system is reachable and,
// when credentials are given, that they are accepted. Each system is probed
// with exactly one strategy from its profile: a direct form POST classified
// by a response taxonomy, or a browser login classified by page indicators.
type ConnectivityService struct {
	systems       map[domain.System]*systemProbe
	client        *resty.Client
	pages         PageOpener
	activity      *ActivityLog
	reachTimeout  time.Duration
	directTimeout time.Duration
}

// NewConnectivityService creates a prober for the configured systems.
// Parameters:
//   - cfg: probe configuration with one profile per system.
//   - pages: opener used by the browser strategy.
//   - activity: audit trail every sub-step is written to.
// Returns:
//   - *ConnectivityService: ready to use prober.
func NewConnectivityService(cfg config.ProbeConfig, pages PageOpener, activity *ActivityLog) *ConnectivityService {
	client := resty.New()
	client.SetLogger(logger.GetDefault())
	client.SetHeader("Accept", "text/html,application/xhtml+xml,*/*")

	s := &ConnectivityService{
		systems: map[domain.System]*systemProbe{
			domain.SystemSource: compileProbe(cfg.Source),
			domain.SystemTarget: compileProbe(cfg.Target),
		},
		client:        client,
		pages:         pages,
		activity:      activity,
		reachTimeout:  cfg.ReachabilityTimeout,
		directTimeout: cfg.DirectTimeout,
	}
	if s.reachTimeout <= 0 {
		s.reachTimeout = defaultReachabilityTimeout
	}
	if s.directTimeout <= 0 {
		s.directTimeout = defaultDirectTimeout
	}
	return s
}

func compileProbe(p config.SystemProfileConfig) *systemProbe {
	return &systemProbe{
		profile:  p,
		taxonomy: verdict.NewResponseTaxonomy(p.Taxonomy),
		success:  verdict.NewIndicatorSet(p.SuccessIndicators),
		failure:  verdict.NewIndicatorSet(p.FailureIndicators),
		form:     browser.FormFromProfile(p),
	}
}

// Test probes one system. It never returns an error and never panics: every
// problem is folded into the result's outcome and message.
func (s *ConnectivityService) Test(ctx context.Context, system domain.System, creds *domain.Credentials) (result domain.ConnectivityResult) {
	ctx = logger.SetSystem(ctx, string(system))

	defer func() {
		if r := recover(); r != nil {
			result = s.technicalError(ctx, system, fmt.Errorf("panic: %v", r))
		}
	}()

	probe, ok := s.systems[system]
	if !ok {
		return s.technicalError(ctx, system, fmt.Errorf("unknown system %q", system))
	}
	name := probe.profile.Name

	s.activity.Info(ctx, fmt.Sprintf("Testing connectivity to the %s system", name), nil)

	start := time.Now()
	endpoint, err := s.checkReachability(ctx, probe.profile.ReachabilityURLs)
	if err != nil {
		return s.finish(ctx, system, domain.OutcomeUnreachable,
			"no endpoint answered",
			fmt.Sprintf("The %s system is unreachable", name),
			domain.RecommendRetryLater,
			domain.JSONMap{"error": err.Error(), "endpoints": probe.profile.ReachabilityURLs})
	}
	s.activity.Info(ctx, fmt.Sprintf("The %s system is reachable", name), domain.JSONMap{
		"endpoint":             endpoint,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	})

	if !creds.Complete() {
		return s.finish(ctx, system, domain.OutcomeReachable,
			"no credentials supplied",
			fmt.Sprintf("The %s system is reachable; sign in manually to verify credentials", name),
			domain.RecommendManualLogin, nil)
	}

	switch probe.profile.Strategy {
	case config.StrategyDirect:
		return s.probeDirect(ctx, system, probe, *creds)
	case config.StrategyBrowser:
		return s.probeBrowser(ctx, system, probe, *creds)
	default:
		return s.technicalError(ctx, system, fmt.Errorf("unknown strategy %q", probe.profile.Strategy))
	}
}

// checkReachability tries each endpoint in order and returns the first that
// answers below 500. HEAD is used first; servers that reject HEAD get a GET.
func (s *ConnectivityService) checkReachability(ctx context.Context, endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", errors.New("no reachability endpoints configured")
	}
	var lastErr error
	for _, endpoint := range endpoints {
		status, err := s.reach(ctx, endpoint)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", endpoint, err)
			logger.FromContext(ctx).WithError(err).WithField("endpoint", endpoint).Debug("Endpoint unreachable")
			continue
		}
		if status < http.StatusInternalServerError {
			return endpoint, nil
		}
		lastErr = fmt.Errorf("%s returned HTTP %d", endpoint, status)
	}
	return "", lastErr
}

func (s *ConnectivityService) reach(ctx context.Context, endpoint string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.reachTimeout)
	defer cancel()

	resp, err := s.client.R().SetContext(reqCtx).Head(endpoint)
	if err != nil {
		return 0, err
	}
	if code := resp.StatusCode(); code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented {
		resp, err = s.client.R().SetContext(reqCtx).Get(endpoint)
		if err != nil {
			return 0, err
		}
	}
	return resp.StatusCode(), nil
}

func (s *ConnectivityService) probeDirect(ctx context.Context, system domain.System, probe *systemProbe, creds domain.Credentials) domain.ConnectivityResult {
	p := probe.profile
	s.activity.Info(ctx, fmt.Sprintf("Submitting credentials to the %s login endpoint", p.Name), nil)

	form := make(map[string]string, len(p.ExtraFormFields)+2)
	for k, v := range p.ExtraFormFields {
		form[k] = v
	}
	form[p.UsernameField] = creds.Username
	form[p.PasswordField] = creds.Password

	reqCtx, cancel := context.WithTimeout(ctx, s.directTimeout)
	defer cancel()

	resp, err := s.client.R().
		SetContext(reqCtx).
		SetFormData(form).
		Post(p.LoginEndpoint)
	if err != nil {
		return s.finish(ctx, system, domain.OutcomeUnreachable,
			"login request failed",
			fmt.Sprintf("The %s login service did not respond", p.Name),
			domain.RecommendRetryLater,
			domain.JSONMap{"error": err.Error()})
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return s.finish(ctx, system, domain.OutcomeUnreachable,
			fmt.Sprintf("login endpoint returned HTTP %d", resp.StatusCode()),
			fmt.Sprintf("The %s login service is unavailable", p.Name),
			domain.RecommendRetryLater, nil)
	}

	// Error pages are HTML and long enough to pass for a success payload.
	if resp.IsError() {
		return s.finish(ctx, system, domain.OutcomeInconclusive,
			fmt.Sprintf("login endpoint returned HTTP %d", resp.StatusCode()),
			fmt.Sprintf("Sign-in to the %s system was inconclusive; verify manually", p.Name),
			domain.RecommendVerifyManually,
			domain.JSONMap{"http_status": resp.StatusCode(), "body_length": len(resp.Body())})
	}

	res := probe.taxonomy.Classify(resp.String())
	meta := domain.JSONMap{"code": res.Code, "http_status": resp.StatusCode(), "body_length": len(resp.Body())}
	return s.finishVerdict(ctx, system, p.Name, res, meta)
}

func (s *ConnectivityService) probeBrowser(ctx context.Context, system domain.System, probe *systemProbe, creds domain.Credentials) domain.ConnectivityResult {
	p := probe.profile
	page, err := s.pages.NewPage(ctx)
	if err != nil {
		return s.technicalError(ctx, system, fmt.Errorf("open page: %w", err))
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to close probe page")
		}
	}()

	s.activity.Info(ctx, fmt.Sprintf("Opening the %s login page", p.Name), domain.JSONMap{"url": p.LoginURL})

	if err := browser.SubmitLogin(ctx, page, probe.form, creds.Username, creds.Password); err != nil {
		var layoutErr *browser.LayoutError
		switch {
		case errors.As(err, &layoutErr):
			return s.finish(ctx, system, domain.OutcomeLayoutChanged,
				layoutErr.Error(),
				fmt.Sprintf("The %s login page changed: the %s field could not be found", p.Name, layoutErr.Element),
				domain.RecommendUpdateLayout, nil)
		case isNetworkError(err):
			return s.finish(ctx, system, domain.OutcomeUnreachable,
				"login page did not load",
				fmt.Sprintf("The %s login page did not load", p.Name),
				domain.RecommendRetryLater,
				domain.JSONMap{"error": err.Error()})
		default:
			return s.technicalError(ctx, system, err)
		}
	}

	s.activity.Info(ctx, fmt.Sprintf("Credentials submitted, waiting for the %s system to respond", p.Name), nil)
	if err := browser.Settle(ctx, p.SettleDelay); err != nil {
		return s.technicalError(ctx, system, err)
	}

	finalURL, err := page.URL(ctx)
	if err != nil {
		return s.technicalError(ctx, system, err)
	}
	text, err := page.Text(ctx)
	if err != nil {
		return s.technicalError(ctx, system, err)
	}

	res := verdict.ClassifyPage(p.LoginURL, finalURL, text, probe.success, probe.failure)
	meta := domain.JSONMap{
		"final_url":          finalURL,
		"success_indicators": res.Successes,
		"failure_indicators": res.Failures,
	}
	if cookies, err := page.CookieCount(ctx); err == nil {
		meta["cookies"] = cookies
	}
	return s.finishVerdict(ctx, system, p.Name, res.Result, meta)
}

func (s *ConnectivityService) finishVerdict(ctx context.Context, system domain.System, name string, res verdict.Result, meta domain.JSONMap) domain.ConnectivityResult {
	switch res.Verdict {
	case verdict.Success:
		return s.finish(ctx, system, domain.OutcomeAuthSuccess, res.Reason,
			fmt.Sprintf("Signed in to the %s system", name), domain.RecommendNone, meta)
	case verdict.Failure:
		return s.finish(ctx, system, domain.OutcomeAuthFailure, res.Reason,
			fmt.Sprintf("Invalid credentials for the %s system: %s", name, res.Reason),
			domain.RecommendCheckCreds, meta)
	default:
		return s.finish(ctx, system, domain.OutcomeInconclusive, res.Reason,
			fmt.Sprintf("Sign-in to the %s system was inconclusive; verify manually", name),
			domain.RecommendVerifyManually, meta)
	}
}

// technicalError reports an unexpected failure. The raw error only goes to
// the log metadata; the message stays generic.
func (s *ConnectivityService) technicalError(ctx context.Context, system domain.System, err error) domain.ConnectivityResult {
	return s.finish(ctx, system, domain.OutcomeTechnicalError,
		"technical error",
		fmt.Sprintf("A technical error occurred while testing the %s system", system),
		domain.RecommendRetryLater,
		domain.JSONMap{"error": err.Error()})
}

func (s *ConnectivityService) finish(ctx context.Context, system domain.System, outcome domain.Outcome, reason, message string, rec domain.Recommendation, meta domain.JSONMap) domain.ConnectivityResult {
	result := domain.ConnectivityResult{
		Success:        outcome.Success(),
		System:         system,
		Outcome:        outcome,
		Reason:         reason,
		Message:        message,
		Recommendation: rec,
		Timestamp:      time.Now(),
	}

	if meta == nil {
		meta = domain.JSONMap{}
	}
	meta[logger.FieldOutcome] = string(outcome)
	if reason != "" {
		meta["reason"] = reason
	}

	switch {
	case outcome == domain.OutcomeAuthSuccess:
		s.activity.Success(ctx, message, meta)
	case outcome == domain.OutcomeReachable, outcome == domain.OutcomeInconclusive:
		s.activity.Warning(ctx, message, meta)
	default:
		s.activity.Error(ctx, message, meta)
	}
	return result
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "net::ERR_") || strings.Contains(msg, "page load error")
}
