package domain

// Severity is the type of an activity log entry
type Severity string

// Activity log severities
const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarn    Severity = "warn"
	SeverityInfo    Severity = "info"
)

// Progress bounds
const (
	MinProgress = 0
	MaxProgress = 100
)

// Default queue names
const (
	DefaultSchedulerQueue = "scheduler"
	DefaultTestQueue      = "test-queue"
)
