package portal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/logger"
	"github.com/timmy/listingsync/internal/verdict"
)

// FormError reports a required listing form element that is missing.
type FormError struct {
	Element string
}

func (e *FormError) Error() string {
	return fmt.Sprintf("listing form %s field not found", e.Element)
}

// TargetPortal publishes listings on the target system.
type TargetPortal struct {
	session session
	cfg     config.TargetPortalConfig
	submit  []browser.Candidate
	success verdict.IndicatorSet
	failure verdict.IndicatorSet
	settle  time.Duration
}

// NewTargetPortal creates a TargetPortal from the target login profile and
// the listing form map.
func NewTargetPortal(profile config.SystemProfileConfig, cfg config.TargetPortalConfig) *TargetPortal {
	return &TargetPortal{
		session: newSession(profile),
		cfg:     cfg,
		submit:  browser.CandidatesFrom(cfg.SubmitSelectors),
		success: verdict.NewIndicatorSet(cfg.SuccessIndicators),
		failure: verdict.NewIndicatorSet(cfg.FailureIndicators),
		settle:  cfg.SettleDelay,
	}
}

// Publish fills the new-listing form under code and submits it. The
// resulting page decides the outcome: domain.ErrPublishRejected on a
// failure indicator, domain.ErrPublishUnconfirmed when nothing matches.
func (p *TargetPortal) Publish(ctx context.Context, page browser.Page, creds domain.Credentials, listing *domain.Listing, media []domain.MediaRef, code string) (*domain.PublishResult, error) {
	if err := p.session.login(ctx, page, creds); err != nil {
		return nil, err
	}
	if err := page.Navigate(ctx, p.cfg.NewListingURL); err != nil {
		return nil, err
	}

	if err := p.fillRequired(ctx, page, "code", p.cfg.CodeFieldSelector, code); err != nil {
		return nil, err
	}
	if err := p.fillFields(ctx, page, listing); err != nil {
		return nil, err
	}
	if err := p.attachPhotos(ctx, page, media); err != nil {
		return nil, err
	}

	submit, err := browser.FindFirstMatch(ctx, page, p.submit)
	switch {
	case errors.Is(err, browser.ErrNoMatch):
		err = page.Press(ctx, "\r")
	case err == nil:
		err = page.Click(ctx, submit.Selector)
	}
	if err != nil {
		return nil, fmt.Errorf("submit listing: %w", err)
	}
	if err := browser.Settle(ctx, p.settle); err != nil {
		return nil, err
	}

	finalURL, err := page.URL(ctx)
	if err != nil {
		return nil, err
	}
	text, err := page.Text(ctx)
	if err != nil {
		return nil, err
	}

	res := verdict.ClassifyPage(p.cfg.NewListingURL, finalURL, text, p.success, p.failure)
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldOutcome: string(res.Verdict),
		"reason":            res.Reason,
		"url":               finalURL,
	}).Info("Listing form submitted")

	switch res.Verdict {
	case verdict.Failure:
		return nil, fmt.Errorf("%w: %s", domain.ErrPublishRejected, res.Reason)
	case verdict.Inconclusive:
		return nil, fmt.Errorf("%w: %s", domain.ErrPublishUnconfirmed, res.Reason)
	}
	return &domain.PublishResult{Code: code, ListingURL: finalURL, Message: res.Reason}, nil
}

func (p *TargetPortal) fillRequired(ctx context.Context, page browser.Page, name, selector, value string) error {
	ok, err := page.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return &FormError{Element: name}
	}
	return page.Fill(ctx, selector, value)
}

// fillFields fills every mapped field the listing has a value for. Fields
// missing from the form are skipped; the title is required.
func (p *TargetPortal) fillFields(ctx context.Context, page browser.Page, listing *domain.Listing) error {
	names := make([]string, 0, len(p.cfg.Fields))
	for name := range p.cfg.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := strings.TrimSpace(listing.Field(name))
		if value == "" {
			continue
		}
		selector := p.cfg.Fields[name]
		if name == "title" {
			if err := p.fillRequired(ctx, page, name, selector, value); err != nil {
				return err
			}
			continue
		}
		ok, err := page.Exists(ctx, selector)
		if err != nil {
			return err
		}
		if !ok {
			logger.FromContext(ctx).WithField("field", name).Debug("Listing form field missing, skipped")
			continue
		}
		if err := page.Fill(ctx, selector, value); err != nil {
			return err
		}
	}
	return nil
}

// attachPhotos uploads the downloaded photos. Photos that were not
// downloaded cannot be attached and are skipped.
func (p *TargetPortal) attachPhotos(ctx context.Context, page browser.Page, media []domain.MediaRef) error {
	var paths []string
	for _, m := range media {
		if m.LocalPath != "" {
			paths = append(paths, m.LocalPath)
		}
	}
	if len(paths) == 0 || p.cfg.PhotoInputSelector == "" {
		return nil
	}
	ok, err := page.Exists(ctx, p.cfg.PhotoInputSelector)
	if err != nil {
		return err
	}
	if !ok {
		logger.FromContext(ctx).WithField(logger.FieldCount, len(paths)).Warn("Photo input missing, photos not attached")
		return nil
	}
	return page.SetFiles(ctx, p.cfg.PhotoInputSelector, paths)
}
