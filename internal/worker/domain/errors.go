package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrAutomationNotFound is returned when a schedule references an unknown automation
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrInvalidPayload is returned when a message payload fails to decode or validate
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrJobRejected is returned when the store refuses a job record for good,
	// e.g. a payload the database cannot represent. Retrying cannot succeed.
	ErrJobRejected = errors.New("job record rejected by store")

	// ErrQueueAlreadyRegistered is returned when two queues share a name
	ErrQueueAlreadyRegistered = errors.New("queue already registered")

	// ErrDeliveriesClosed is returned when the broker closes a consumer's delivery stream
	ErrDeliveriesClosed = errors.New("delivery channel closed")

	// ErrTriggerRejected is returned when the execution API answers with a non-2xx status
	ErrTriggerRejected = errors.New("execution trigger rejected")
)

// HandlerPanicError wraps a value recovered from a panicking handler
type HandlerPanicError struct {
	Value any
}

func (e *HandlerPanicError) Error() string {
	return "handler panicked: " + stringify(e.Value)
}

func stringify(v any) string {
	switch t := v.(type) {
	case error:
		return t.Error()
	case string:
		return t
	default:
		return "non-error panic value"
	}
}
