package service

import (
	"context"
	"time"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/events"
)

// AutomationStore persists automation state. Workflow updates must only
// apply while the automation is processing.
type AutomationStore interface {
	Create(ctx context.Context, a *domain.Automation) error
	GetByID(ctx context.Context, id uint) (*domain.Automation, error)
	MarkProcessing(ctx context.Context, id uint, startedAt time.Time) error
	UpdateStep(ctx context.Context, id uint, step domain.Step, progress int) error
	Complete(ctx context.Context, id uint, result domain.JSONMap, at time.Time) error
	Fail(ctx context.Context, id uint, kind domain.FailureKind, message string) error
	Stop(ctx context.Context, id uint, message string) error
}

// CodeStore hands out publish slots.
type CodeStore interface {
	ListAvailable(ctx context.Context, brokerID uint) ([]domain.ExternalCode, error)
	Claim(ctx context.Context, codeID, automationID uint, sourceCode string, at time.Time) error
	FindClaimed(ctx context.Context, automationID uint) (*domain.ExternalCode, error)
	Reassign(ctx context.Context, codeID, fromAutomationID, toAutomationID uint, at time.Time) error
}

// LogStore appends audit log entries.
type LogStore interface {
	Create(ctx context.Context, entry *domain.LogEntry) error
}

// LogPurger deletes aged audit log entries.
type LogPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsStore reads runtime settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// PageOpener opens isolated browser pages.
type PageOpener interface {
	NewPage(ctx context.Context) (browser.Page, error)
}

// Prober checks connectivity and credentials for an external system.
type Prober interface {
	Test(ctx context.Context, system domain.System, creds *domain.Credentials) domain.ConnectivityResult
}

// SourcePortal logs into the source system and scrapes one listing.
type SourcePortal interface {
	Extract(ctx context.Context, page browser.Page, creds domain.Credentials, sourceCode string) (*domain.Listing, error)
}

// TargetPortal logs into the target system and publishes one listing under
// an already claimed code.
type TargetPortal interface {
	Publish(ctx context.Context, page browser.Page, creds domain.Credentials, listing *domain.Listing, media []domain.MediaRef, code string) (*domain.PublishResult, error)
}

// MediaFetcher stores listing photos. It never fails as a whole: a photo
// that cannot be fetched keeps its original URL.
type MediaFetcher interface {
	FetchAll(ctx context.Context, namespace string, urls []string) []domain.MediaRef
}

// EventPublisher broadcasts live events.
type EventPublisher interface {
	Publish(evt events.Event)
}
