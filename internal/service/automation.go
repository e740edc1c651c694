package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/events"
	"github.com/timmy/listingsync/internal/logger"
	"github.com/timmy/listingsync/internal/repository"
)

var (
	// ErrAutomationNotFound is returned for unknown automation ids.
	ErrAutomationNotFound = errors.New("automation not found")
	// ErrAlreadyRunning is returned by Run when the automation is active.
	ErrAlreadyRunning = errors.New("automation already running")
	// ErrNotStartable is returned when the automation's status does not allow a run.
	ErrNotStartable = errors.New("automation cannot be started in its current status")
	// ErrNotStoppable is returned when stopping an automation that already finished.
	ErrNotStoppable = errors.New("automation is not running")
	// ErrNotRetryable is returned when retrying an automation that did not fail or stop.
	ErrNotRetryable = errors.New("only failed or stopped automations can be retried")
	// ErrNoAvailableCode is returned when the broker has no unused code to publish under.
	ErrNoAvailableCode = errors.New("no available code")
	// ErrMissingCredentials is returned when a system has no stored credentials.
	ErrMissingCredentials = errors.New("missing credentials")

	errStopped = errors.New("stopped by user")
)

const stopMessage = "Stopped by user"

// StepError is a workflow failure with a message that is safe to show to
// the user. Err keeps the underlying cause for the logs.
type StepError struct {
	Kind    domain.FailureKind
	Message string
	Err     error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AutomationDeps are the collaborators of AutomationService.
type AutomationDeps struct {
	Automations AutomationStore
	Codes       CodeStore
	Settings    *RuntimeSettings
	Prober      Prober
	Pages       PageOpener
	Source      SourcePortal
	Target      TargetPortal
	Media       MediaFetcher
	Events      EventPublisher
	Activity    *ActivityLog
}

// AutomationService runs listing transfers. Each automation walks the fixed
// step sequence in its own goroutine; a registry keeps at most one run per
// automation id.
type AutomationService struct {
	automations AutomationStore
	codes       CodeStore
	settings    *RuntimeSettings
	prober      Prober
	pages       PageOpener
	source      SourcePortal
	target      TargetPortal
	media       MediaFetcher
	events      EventPublisher
	activity    *ActivityLog

	registry *jobRegistry
	claimMu  sync.Mutex

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	now func() time.Time
}

// NewAutomationService creates the orchestrator.
func NewAutomationService(deps AutomationDeps) *AutomationService {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &AutomationService{
		automations: deps.Automations,
		codes:       deps.Codes,
		settings:    deps.Settings,
		prober:      deps.Prober,
		pages:       deps.Pages,
		source:      deps.Source,
		target:      deps.Target,
		media:       deps.Media,
		events:      deps.Events,
		activity:    deps.Activity,
		registry:    newJobRegistry(),
		baseCtx:     baseCtx,
		baseCancel:  cancel,
		now:         time.Now,
	}
}

// Start launches the automation in the background. It returns false when
// the automation is already running; the duplicate request is logged and
// otherwise ignored.
// Parameters:
//   - ctx: request context; only its logger fields are carried into the run.
//   - id: automation to start.
// Returns:
//   - bool: true when a new run was launched.
//   - error: ErrAutomationNotFound or ErrNotStartable.
func (s *AutomationService) Start(ctx context.Context, id uint) (bool, error) {
	ctx = logger.SetAutomationID(ctx, id)
	a, err := s.automations.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: %d", ErrAutomationNotFound, id)
	}
	if a.Status == domain.AutomationStatusCompleted {
		return false, ErrNotStartable
	}

	job, ok := s.registry.add(id)
	if !ok {
		s.activity.Warning(ctx, fmt.Sprintf("Automation %d is already running", id), nil)
		return false, nil
	}

	runCtx := logger.FromContext(ctx).WithContext(s.baseCtx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.registry.remove(id, job)
		_ = s.execute(runCtx, id, job)
	}()
	return true, nil
}

// Run executes the automation synchronously and returns its failure, if any.
func (s *AutomationService) Run(ctx context.Context, id uint) error {
	ctx = logger.SetAutomationID(ctx, id)
	job, ok := s.registry.add(id)
	if !ok {
		s.activity.Warning(ctx, fmt.Sprintf("Automation %d is already running", id), nil)
		return ErrAlreadyRunning
	}
	defer s.registry.remove(id, job)
	return s.execute(ctx, id, job)
}

// Stop requests a running or pending automation to stop. The workflow is
// not interrupted mid-call; it abandons before its next step and never
// overwrites the stopped status.
func (s *AutomationService) Stop(ctx context.Context, id uint) error {
	ctx = logger.SetAutomationID(ctx, id)

	job, running := s.registry.get(id)
	if running {
		job.requestStop()
		s.registry.remove(id, job)
	}

	if err := s.automations.Stop(ctx, id, stopMessage); err != nil {
		if errors.Is(err, repository.ErrStaleAutomation) {
			return ErrNotStoppable
		}
		return fmt.Errorf("stop automation %d: %w", id, err)
	}

	s.activity.Warning(ctx, fmt.Sprintf("Automation %d stopped by user", id), nil)
	s.publishStatus(id, domain.AutomationStatusStopped, stopMessage)
	return nil
}

// Retry creates a new automation for the same listing and starts it.
func (s *AutomationService) Retry(ctx context.Context, id uint) (*domain.Automation, error) {
	prev, err := s.automations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrAutomationNotFound, id)
	}
	if prev.Status != domain.AutomationStatusFailed && prev.Status != domain.AutomationStatusStopped {
		return nil, ErrNotRetryable
	}
	return s.retryOf(ctx, prev)
}

func (s *AutomationService) retryOf(ctx context.Context, prev *domain.Automation) (*domain.Automation, error) {
	prevID := prev.ID
	next := &domain.Automation{
		BrokerID:   prev.BrokerID,
		SourceCode: prev.SourceCode,
		TargetCode: prev.TargetCode,
		Status:     domain.AutomationStatusPending,
		Attempt:    prev.Attempt + 1,
		RetryOfID:  &prevID,
	}
	if err := s.automations.Create(context.WithoutCancel(ctx), next); err != nil {
		return nil, fmt.Errorf("create retry of %d: %w", prev.ID, err)
	}

	s.activity.Info(ctx, fmt.Sprintf("Retrying automation %d as %d (attempt %d)", prev.ID, next.ID, next.Attempt), domain.JSONMap{
		"retry_of_id": prev.ID,
		"attempt":     next.Attempt,
	})
	if _, err := s.Start(ctx, next.ID); err != nil {
		return next, err
	}
	return next, nil
}

// ActiveIDs lists running automations in ascending id order.
func (s *AutomationService) ActiveIDs() []uint {
	return s.registry.ids()
}

// Wait blocks until every background run has finished.
func (s *AutomationService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels background runs and waits for them until ctx expires.
func (s *AutomationService) Shutdown(ctx context.Context) error {
	s.baseCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AutomationService) publishStatus(id uint, status domain.AutomationStatus, message string) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{Type: events.TypeStatus, Data: events.StatusData{
		AutomationID: id,
		Status:       string(status),
		Message:      message,
	}})
}

func (s *AutomationService) publishProgress(id uint, step domain.Step, message string) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{Type: events.TypeProgress, Data: events.ProgressData{
		AutomationID: id,
		Step:         string(step),
		Progress:     step.Progress(),
		Message:      message,
	}})
}
