package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/logger"
	"github.com/timmy/listingsync/internal/portal"
	"github.com/timmy/listingsync/internal/repository"
)

var stepLabels = map[domain.Step]string{
	domain.StepConnectingSource: "Connecting to the source system",
	domain.StepExtractingData:   "Extracting listing data",
	domain.StepDownloadingMedia: "Downloading photos",
	domain.StepConnectingTarget: "Connecting to the target system",
	domain.StepPublishing:       "Publishing the listing",
	domain.StepFinalizing:       "Finalizing",
}

// jobRun is the state carried between the steps of one run.
type jobRun struct {
	automation *domain.Automation
	settings   RunSettings
	job        *activeJob
	step       domain.Step

	sourceCreds *domain.Credentials
	targetCreds *domain.Credentials
	listing     *domain.Listing
	media       []domain.MediaRef
	code        *domain.ExternalCode
	published   *domain.PublishResult
}

// execute drives one automation through every step. It always leaves the
// automation in a terminal status unless a stop won the race.
func (s *AutomationService) execute(ctx context.Context, id uint, job *activeJob) (err error) {
	a, err := s.automations.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrAutomationNotFound, id)
	}
	if job.stopRequested() {
		s.activity.Info(ctx, fmt.Sprintf("Automation %d stopped before it started", id), nil)
		return errStopped
	}
	if err := s.automations.MarkProcessing(ctx, id, s.now()); err != nil {
		if errors.Is(err, repository.ErrStaleAutomation) {
			s.activity.Warning(ctx, fmt.Sprintf("Automation %d cannot start from status %s", id, a.Status), nil)
			return ErrNotStartable
		}
		return fmt.Errorf("mark automation %d processing: %w", id, err)
	}

	run := &jobRun{
		automation: a,
		settings:   s.settings.Snapshot(ctx),
		job:        job,
	}

	s.activity.Info(ctx, fmt.Sprintf("Automation started for listing %s", a.SourceCode), domain.JSONMap{
		"attempt":   a.Attempt,
		"broker_id": a.BrokerID,
	})
	s.publishStatus(id, domain.AutomationStatusProcessing, "")

	defer func() {
		if r := recover(); r != nil {
			err = s.fail(ctx, run, &StepError{
				Kind:    domain.FailureTechnical,
				Message: "Unexpected technical error",
				Err:     fmt.Errorf("panic: %v", r),
			})
		}
	}()

	for i, step := range domain.Steps {
		if job.stopRequested() {
			return s.abandon(ctx, run)
		}
		if err := s.enterStep(ctx, run, step); err != nil {
			return s.fail(ctx, run, err)
		}
		stepCtx := logger.WithField(ctx, logger.FieldStep, string(step))
		if err := s.runStep(stepCtx, run, step); err != nil {
			return s.fail(ctx, run, err)
		}
		if i < len(domain.Steps)-1 {
			if err := s.pause(ctx, job, run.settings.ActionDelay); err != nil {
				return s.fail(ctx, run, err)
			}
		}
	}
	return nil
}

// enterStep is the per-step triad: persist, audit, broadcast.
func (s *AutomationService) enterStep(ctx context.Context, run *jobRun, step domain.Step) error {
	id := run.automation.ID
	if err := s.automations.UpdateStep(ctx, id, step, step.Progress()); err != nil {
		if errors.Is(err, repository.ErrStaleAutomation) {
			return errStopped
		}
		return &StepError{Kind: domain.FailureTechnical, Message: "Could not save automation progress", Err: err}
	}
	run.step = step

	label := stepLabels[step]
	s.activity.Info(ctx, label, domain.JSONMap{
		logger.FieldStep: string(step),
		"progress":       step.Progress(),
	})
	s.publishProgress(id, step, label)
	return nil
}

func (s *AutomationService) runStep(ctx context.Context, run *jobRun, step domain.Step) error {
	switch step {
	case domain.StepConnectingSource:
		return s.stepConnectSource(ctx, run)
	case domain.StepExtractingData:
		return s.stepExtract(ctx, run)
	case domain.StepDownloadingMedia:
		return s.stepDownloadMedia(ctx, run)
	case domain.StepConnectingTarget:
		return s.stepConnectTarget(ctx, run)
	case domain.StepPublishing:
		return s.stepPublish(ctx, run)
	case domain.StepFinalizing:
		return s.stepFinalize(ctx, run)
	}
	return &StepError{Kind: domain.FailureTechnical, Message: "Unknown workflow step", Err: fmt.Errorf("step %q", step)}
}

func (s *AutomationService) stepConnectSource(ctx context.Context, run *jobRun) error {
	creds, err := s.requireCredentials(ctx, domain.SystemSource)
	if err != nil {
		return err
	}
	run.sourceCreds = creds
	return s.probe(ctx, domain.SystemSource, creds)
}

func (s *AutomationService) stepExtract(ctx context.Context, run *jobRun) error {
	code := run.automation.SourceCode
	err := s.withPage(ctx, func(page browser.Page) error {
		listing, err := s.source.Extract(ctx, page, *run.sourceCreds, code)
		if err != nil {
			return err
		}
		run.listing = listing
		return nil
	})
	if err != nil {
		var layoutErr *browser.LayoutError
		switch {
		case errors.Is(err, domain.ErrListingNotFound):
			return &StepError{Kind: domain.FailurePrecondition, Message: fmt.Sprintf("Listing %s was not found on the source system", code), Err: err}
		case errors.Is(err, domain.ErrSessionRejected):
			return &StepError{Kind: domain.FailureAuth, Message: "The source system refused the login", Err: err}
		case errors.As(err, &layoutErr):
			return &StepError{Kind: domain.FailureTechnical, Message: "The source system login form layout changed", Err: err}
		default:
			return &StepError{Kind: domain.FailureTechnical, Message: "Could not extract the listing data", Err: err}
		}
	}

	s.activity.Info(ctx, fmt.Sprintf("Extracted listing %s: %s", code, run.listing.Title), domain.JSONMap{
		"photos": len(run.listing.PhotoURLs),
	})
	return nil
}

func (s *AutomationService) stepDownloadMedia(ctx context.Context, run *jobRun) error {
	urls := run.listing.PhotoURLs
	if !run.settings.DownloadPhotos || len(urls) == 0 || s.media == nil {
		run.media = make([]domain.MediaRef, len(urls))
		for i, u := range urls {
			run.media[i] = domain.MediaRef{SourceURL: u, Location: u}
		}
		s.activity.Info(ctx, "Photo download skipped", domain.JSONMap{logger.FieldCount: len(urls)})
		return nil
	}

	run.media = s.media.FetchAll(ctx, mediaNamespace(run.automation), urls)
	stored := 0
	for _, m := range run.media {
		if m.LocalPath != "" {
			stored++
		}
	}
	level := domain.LogLevelInfo
	if stored < len(urls) {
		level = domain.LogLevelWarning
	}
	s.activity.Record(ctx, level, fmt.Sprintf("Downloaded %d of %d photos", stored, len(urls)), domain.JSONMap{
		logger.FieldCount: stored,
		"total":           len(urls),
	})
	return nil
}

// mediaNamespace keeps each automation's photos apart, so two runs for the
// same listing never write into the same directory or object prefix.
func mediaNamespace(a *domain.Automation) string {
	return fmt.Sprintf("%d-%s", a.ID, a.SourceCode)
}

func (s *AutomationService) stepConnectTarget(ctx context.Context, run *jobRun) error {
	creds, err := s.requireCredentials(ctx, domain.SystemTarget)
	if err != nil {
		return err
	}
	run.targetCreds = creds
	return s.probe(ctx, domain.SystemTarget, creds)
}

func (s *AutomationService) stepPublish(ctx context.Context, run *jobRun) error {
	if run.job.stopRequested() {
		return errStopped
	}
	code, err := s.claimCode(ctx, run.automation)
	if err != nil {
		return err
	}
	run.code = code
	s.activity.Info(ctx, fmt.Sprintf("Claimed code %s for listing %s", code.Code, run.automation.SourceCode), domain.JSONMap{
		"code_id": code.ID,
	})

	err = s.withPage(ctx, func(page browser.Page) error {
		res, err := s.target.Publish(ctx, page, *run.targetCreds, run.listing, run.media, code.Code)
		if err != nil {
			return err
		}
		run.published = res
		return nil
	})
	if err != nil {
		var (
			layoutErr *browser.LayoutError
			formErr   *portal.FormError
		)
		switch {
		case errors.Is(err, domain.ErrPublishUnconfirmed):
			return &StepError{Kind: domain.FailureInconclusive, Message: fmt.Sprintf("Publication under code %s is inconclusive; verify manually", code.Code), Err: err}
		case errors.Is(err, domain.ErrPublishRejected):
			return &StepError{Kind: domain.FailureTechnical, Message: fmt.Sprintf("The target system rejected the listing under code %s", code.Code), Err: err}
		case errors.Is(err, domain.ErrSessionRejected):
			return &StepError{Kind: domain.FailureAuth, Message: "The target system refused the login", Err: err}
		case errors.As(err, &layoutErr):
			return &StepError{Kind: domain.FailureTechnical, Message: "The target system login form layout changed", Err: err}
		case errors.As(err, &formErr):
			return &StepError{Kind: domain.FailureTechnical, Message: fmt.Sprintf("The target system listing form layout changed: %s field not found", formErr.Element), Err: err}
		default:
			return &StepError{Kind: domain.FailureTechnical, Message: "Could not publish the listing", Err: err}
		}
	}
	return nil
}

func (s *AutomationService) stepFinalize(ctx context.Context, run *jobRun) error {
	a := run.automation
	result := domain.JSONMap{
		"source_code": a.SourceCode,
		"target_code": run.code.Code,
		"title":       run.listing.Title,
		"photos":      len(run.media),
	}
	if run.published != nil {
		result["listing_url"] = run.published.ListingURL
		if run.published.Message != "" {
			result["message"] = run.published.Message
		}
	}
	if media, err := domain.ToJSONMap(map[string]interface{}{"items": run.media}); err == nil {
		result["media"] = media["items"]
	}

	if err := s.automations.Complete(ctx, a.ID, result, s.now()); err != nil {
		if errors.Is(err, repository.ErrStaleAutomation) {
			return errStopped
		}
		return &StepError{Kind: domain.FailureTechnical, Message: "Could not save the automation result", Err: err}
	}

	s.activity.Success(ctx, fmt.Sprintf("Listing %s published as %s", a.SourceCode, run.code.Code), result)
	s.publishStatus(a.ID, domain.AutomationStatusCompleted, "")
	return nil
}

// claimCode binds the first available code to the automation. The mutex
// serializes claimers in this process; the conditional update in the store
// protects against other processes.
func (s *AutomationService) claimCode(ctx context.Context, a *domain.Automation) (*domain.ExternalCode, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	held, err := s.heldCode(ctx, a)
	if err != nil {
		return nil, &StepError{Kind: domain.FailureTechnical, Message: "Could not load claimed codes", Err: err}
	}
	if held != nil {
		return held, nil
	}

	codes, err := s.codes.ListAvailable(ctx, a.BrokerID)
	if err != nil {
		return nil, &StepError{Kind: domain.FailureTechnical, Message: "Could not load available codes", Err: err}
	}
	for i := range codes {
		c := codes[i]
		if a.TargetCode != "" && c.Code != a.TargetCode {
			continue
		}
		err := s.codes.Claim(ctx, c.ID, a.ID, a.SourceCode, s.now())
		if errors.Is(err, repository.ErrCodeAlreadyClaimed) {
			continue
		}
		if err != nil {
			return nil, &StepError{Kind: domain.FailureTechnical, Message: "Could not claim a code", Err: err}
		}
		c.IsUsed = true
		return &c, nil
	}

	msg := "No available code for this broker; register more codes"
	if a.TargetCode != "" {
		msg = fmt.Sprintf("No available code matching %s; it is unknown or already used", a.TargetCode)
	}
	return nil, &StepError{Kind: domain.FailurePrecondition, Message: msg, Err: ErrNoAvailableCode}
}

// heldCode returns the code already claimed by this automation or by an
// earlier attempt in its retry chain, so reruns and retries publish under
// the same code instead of consuming a new one. A code held by an earlier
// attempt is reassigned to a.
func (s *AutomationService) heldCode(ctx context.Context, a *domain.Automation) (*domain.ExternalCode, error) {
	holder := a
	for i := 0; i <= a.Attempt; i++ {
		c, err := s.codes.FindClaimed(ctx, holder.ID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			if a.TargetCode != "" && c.Code != a.TargetCode {
				return nil, nil
			}
			if holder.ID != a.ID {
				err := s.codes.Reassign(ctx, c.ID, holder.ID, a.ID, s.now())
				if errors.Is(err, repository.ErrCodeAlreadyClaimed) {
					return nil, nil
				}
				if err != nil {
					return nil, err
				}
				id := a.ID
				c.AutomationID = &id
			}
			s.activity.Info(ctx, fmt.Sprintf("Reusing code %s claimed by automation %d", c.Code, holder.ID), domain.JSONMap{
				"code_id": c.ID,
			})
			return c, nil
		}
		if holder.RetryOfID == nil {
			return nil, nil
		}
		prev, err := s.automations.GetByID(ctx, *holder.RetryOfID)
		if err != nil {
			// The earlier attempt was deleted; its code, if any, stays put.
			return nil, nil
		}
		holder = prev
	}
	return nil, nil
}

func (s *AutomationService) requireCredentials(ctx context.Context, system domain.System) (*domain.Credentials, error) {
	creds, err := s.settings.Credentials(ctx, system)
	if err != nil {
		return nil, &StepError{Kind: domain.FailureTechnical, Message: "Could not read stored credentials", Err: err}
	}
	if creds == nil {
		return nil, &StepError{
			Kind:    domain.FailurePrecondition,
			Message: fmt.Sprintf("Credentials for the %s system are not configured", system),
			Err:     ErrMissingCredentials,
		}
	}
	return creds, nil
}

func (s *AutomationService) probe(ctx context.Context, system domain.System, creds *domain.Credentials) error {
	res := s.prober.Test(ctx, system, creds)
	if res.Success {
		return nil
	}
	return &StepError{
		Kind:    res.Outcome.FailureKind(),
		Message: res.Message,
		Err:     fmt.Errorf("%s probe: %s (%s)", system, res.Outcome, res.Reason),
	}
}

// withPage opens a page for fn and always closes it.
func (s *AutomationService) withPage(ctx context.Context, fn func(browser.Page) error) error {
	page, err := s.pages.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to close page")
		}
	}()
	return fn(page)
}

// pause waits the inter-step delay. A stop request ends the wait early and
// is picked up at the next step boundary.
func (s *AutomationService) pause(ctx context.Context, job *activeJob, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-job.stopCh:
		return nil
	case <-ctx.Done():
		return &StepError{Kind: domain.FailureTechnical, Message: "Automation interrupted", Err: ctx.Err()}
	}
}

// fail records a failed run and applies the auto-retry policy.
func (s *AutomationService) fail(ctx context.Context, run *jobRun, err error) error {
	if errors.Is(err, errStopped) || run.job.stopRequested() {
		return s.abandon(ctx, run)
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		stepErr = &StepError{Kind: domain.FailureTechnical, Message: "Unexpected technical error", Err: err}
	}

	a := run.automation
	persistCtx := context.WithoutCancel(ctx)
	if ferr := s.automations.Fail(persistCtx, a.ID, stepErr.Kind, stepErr.Message); ferr != nil {
		if errors.Is(ferr, repository.ErrStaleAutomation) {
			return s.abandon(ctx, run)
		}
		logger.FromContext(ctx).WithError(ferr).Error("Failed to persist automation failure")
	}

	meta := domain.JSONMap{
		"failure_kind":   string(stepErr.Kind),
		logger.FieldStep: string(run.step),
	}
	if stepErr.Err != nil {
		meta["error"] = stepErr.Err.Error()
	}
	s.activity.Error(ctx, "Automation failed: "+stepErr.Message, meta)
	s.publishStatus(a.ID, domain.AutomationStatusFailed, stepErr.Message)

	s.maybeAutoRetry(ctx, run, stepErr.Kind)
	return stepErr
}

// abandon ends a stopped run. MarkProcessing may have overwritten a stop
// that landed just before it, so the stopped status is written again; the
// update is conditional and a no-op when the row is no longer running.
func (s *AutomationService) abandon(ctx context.Context, run *jobRun) error {
	id := run.automation.ID
	err := s.automations.Stop(context.WithoutCancel(ctx), id, stopMessage)
	switch {
	case err == nil:
		s.publishStatus(id, domain.AutomationStatusStopped, stopMessage)
	case !errors.Is(err, repository.ErrStaleAutomation):
		logger.FromContext(ctx).WithError(err).Error("Failed to persist automation stop")
	}
	s.activity.Info(ctx, fmt.Sprintf("Automation %d abandoned after stop request", id), domain.JSONMap{
		logger.FieldStep: string(run.step),
	})
	return errStopped
}

// maybeAutoRetry re-queues transient connectivity failures. Credential,
// precondition and layout failures need a human and are never retried.
func (s *AutomationService) maybeAutoRetry(ctx context.Context, run *jobRun, kind domain.FailureKind) {
	a := run.automation
	if !run.settings.AutoRetry || kind != domain.FailureUnreachable {
		return
	}
	if a.Attempt >= run.settings.MaxAttempts {
		s.activity.Warning(ctx, fmt.Sprintf("Automation %d reached the maximum of %d attempts", a.ID, run.settings.MaxAttempts), nil)
		return
	}
	if s.baseCtx.Err() != nil {
		return
	}
	if _, err := s.retryOf(ctx, a); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Auto-retry failed")
	}
}
