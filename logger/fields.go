package logger

// Standard field names for consistent structured logging across treesync.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldObjectID = "object_id"
	FieldRefID    = "ref_id"
	FieldVersion  = "version"
	FieldKind     = "kind"
	FieldPeer     = "peer"

	// Components
	FieldComponent = "component"

	// Protocol
	FieldMethod    = "method"
	FieldRequestID = "request_id"
	FieldBatch     = "batch"
	FieldBatchSize = "batch_size"
	FieldOps       = "ops"
	FieldState     = "state"
	FieldBaseline  = "baseline"

	// Reference table
	FieldCapacity = "capacity"
	FieldEvicted  = "evicted"
	FieldHeapUsed = "heap_used"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Files and network
	FieldPath    = "path"
	FieldAddress = "address"
)
