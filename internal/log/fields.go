package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldUserID     = "user_id"
	FieldTemplateID = "template_id"
	FieldInterval   = "interval"
	FieldNextDueAt  = "next_due_at"
	FieldMaterialized = "materialized"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentScheduler = "scheduler"
	ComponentTemplate  = "template"
	ComponentStats     = "stats"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpToggle   = "toggle"
	OpTick     = "tick"
	OpValidate = "validate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)
