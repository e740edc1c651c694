// Package portal drives the source and target web portals through a
// browser page: logging in, scraping a listing and publishing it.
package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/logger"
	"github.com/timmy/listingsync/internal/verdict"
)

// session logs a page into one system using its probe profile.
type session struct {
	name    string
	form    browser.LoginForm
	success verdict.IndicatorSet
	failure verdict.IndicatorSet
	settle  time.Duration
}

func newSession(p config.SystemProfileConfig) session {
	return session{
		name:    p.Name,
		form:    browser.FormFromProfile(p),
		success: verdict.NewIndicatorSet(p.SuccessIndicators),
		failure: verdict.NewIndicatorSet(p.FailureIndicators),
		settle:  p.SettleDelay,
	}
}

// login submits the credentials and rejects the session only when the
// resulting page shows a failure indicator. An inconclusive page is
// accepted: the connectivity probe already vouched for the credentials.
func (s session) login(ctx context.Context, page browser.Page, creds domain.Credentials) error {
	if err := browser.SubmitLogin(ctx, page, s.form, creds.Username, creds.Password); err != nil {
		return err
	}
	if err := browser.Settle(ctx, s.settle); err != nil {
		return err
	}

	finalURL, err := page.URL(ctx)
	if err != nil {
		return err
	}
	text, err := page.Text(ctx)
	if err != nil {
		return err
	}

	res := verdict.ClassifyPage(s.form.URL, finalURL, text, s.success, s.failure)
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldSystem:  s.name,
		logger.FieldOutcome: string(res.Verdict),
	})
	if res.Verdict == verdict.Failure {
		log.WithField("reason", res.Reason).Warn("Portal login rejected")
		return fmt.Errorf("%w: %s", domain.ErrSessionRejected, res.Reason)
	}
	log.Debug("Portal session established")
	return nil
}
