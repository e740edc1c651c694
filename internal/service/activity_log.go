package service

import (
	"context"
	"time"

	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/events"
	"github.com/timmy/listingsync/internal/logger"
)

// ActivityLog writes the user-facing audit trail: every entry is persisted,
// broadcast as a log event and mirrored to the process logger. Persistence
// failures are logged and swallowed so auditing never breaks a workflow.
type ActivityLog struct {
	store  LogStore
	events EventPublisher
}

// NewActivityLog creates an ActivityLog. events may be nil.
func NewActivityLog(store LogStore, pub EventPublisher) *ActivityLog {
	return &ActivityLog{store: store, events: pub}
}

// Record appends one entry. The automation id is taken from ctx.
func (l *ActivityLog) Record(ctx context.Context, level domain.LogLevel, message string, metadata domain.JSONMap) {
	entry := &domain.LogEntry{
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if id := logger.GetAutomationID(ctx); id != 0 {
		entry.AutomationID = &id
	}

	log := logger.FromContext(ctx).WithFields(logger.Fields(metadata))
	switch level {
	case domain.LogLevelError:
		log.Error(message)
	case domain.LogLevelWarning:
		log.Warn(message)
	default:
		log.Info(message)
	}

	if l.store != nil {
		// Audit writes must survive a cancelled workflow context.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.store.Create(storeCtx, entry); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to persist activity log entry")
		}
	}

	if l.events != nil {
		l.events.Publish(events.Event{Type: events.TypeLog, Data: entry, Timestamp: entry.CreatedAt})
	}
}

func (l *ActivityLog) Info(ctx context.Context, message string, metadata domain.JSONMap) {
	l.Record(ctx, domain.LogLevelInfo, message, metadata)
}

func (l *ActivityLog) Success(ctx context.Context, message string, metadata domain.JSONMap) {
	l.Record(ctx, domain.LogLevelSuccess, message, metadata)
}

func (l *ActivityLog) Warning(ctx context.Context, message string, metadata domain.JSONMap) {
	l.Record(ctx, domain.LogLevelWarning, message, metadata)
}

func (l *ActivityLog) Error(ctx context.Context, message string, metadata domain.JSONMap) {
	l.Record(ctx, domain.LogLevelError, message, metadata)
}
