package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldAutomationID is the listing transfer job ID
	FieldAutomationID = "automation_id"

	// FieldSystem is the external system being talked to (source, target)
	FieldSystem = "system"

	// FieldStep is the workflow step currently executing
	FieldStep = "step"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldOutcome is a classified probe or step outcome
	FieldOutcome = "outcome"
)
