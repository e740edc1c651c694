package logger

import (
	"context"
	"sync"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var loggerKey = contextKey{}

var (
	defaultLogger   *Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger = New(nil)
}

// GetDefault returns the default logger (thread-safe).
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger sets the default logger used when no logger is found in context.
// Parameters:
//   - l: logger to set as default; nil is ignored.
// Returns: none.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns a new context with the logger attached.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Parameters:
//   - ctx: context to inspect; may be nil.
// Returns:
//   - *Logger: logger with injected fields or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithField creates a new context with a single additional logger field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields creates a new context with additional logger fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// SetRequestID sets the request ID field in context.
func SetRequestID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldRequestID, id)
}

// SetAutomationID sets the automation ID field in context.
func SetAutomationID(ctx context.Context, id uint) context.Context {
	return WithField(ctx, FieldAutomationID, id)
}

// SetSystem sets the external system field in context.
func SetSystem(ctx context.Context, system string) context.Context {
	return WithField(ctx, FieldSystem, system)
}

// SetComponent sets the component name field in context.
func SetComponent(ctx context.Context, name string) context.Context {
	return WithField(ctx, FieldComponent, name)
}

// GetField extracts a field value from the context's logger.
func GetField(ctx context.Context, key string) (interface{}, bool) {
	val, ok := FromContext(ctx).Data[key]
	return val, ok
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	val, _ := GetField(ctx, FieldRequestID)
	s, _ := val.(string)
	return s
}

// GetAutomationID extracts the automation ID from context.
// Returns 0 when the context carries none.
func GetAutomationID(ctx context.Context) uint {
	val, _ := GetField(ctx, FieldAutomationID)
	id, _ := val.(uint)
	return id
}
