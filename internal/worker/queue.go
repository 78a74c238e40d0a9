package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/go-playground/validator/v10"
)

// JobStore persists the state mutations of in-flight jobs
type JobStore interface {
	RecordAttempt(ctx context.Context, job *domain.Job) (*domain.Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress float64, label *string) error
	AppendLog(ctx context.Context, jobID string, entry domain.LogEntry) error
	InsertErroredJob(ctx context.Context, errored *domain.ErroredJob) error
}

// Handler processes the items of one queue. Returning an error (or panicking)
// marks the attempt as failed.
type Handler[P any] interface {
	OnItem(ctx context.Context, item *JobItem[P]) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc[P any] func(ctx context.Context, item *JobItem[P]) error

// OnItem calls f(ctx, item)
func (f HandlerFunc[P]) OnItem(ctx context.Context, item *JobItem[P]) error {
	return f(ctx, item)
}

// NopHandler accepts every item without doing anything
type NopHandler[P any] struct{}

// OnItem does nothing
func (NopHandler[P]) OnItem(context.Context, *JobItem[P]) error {
	return nil
}

// QueueConfig holds the dependencies shared by every queue
type QueueConfig struct {
	Store       JobStore
	Logger      *slog.Logger
	ScratchDir  string
	ConsumerTag string
	Validator   *validator.Validate
	Now         func() time.Time
	// RequeueDelay is the first wait before a message whose attempt could not
	// be recorded goes back to the broker; it doubles per consecutive failure
	// up to MaxRequeueDelay.
	RequeueDelay    time.Duration
	MaxRequeueDelay time.Duration
}

const (
	defaultRequeueDelay    = time.Second
	defaultMaxRequeueDelay = 30 * time.Second
)

// Queue consumes one named durable queue, one message at a time
type Queue[P any] struct {
	name        string
	handler     Handler[P]
	store       JobStore
	logger      *slog.Logger
	scratchDir  string
	consumerTag string
	validate    *validator.Validate
	now         func() time.Time

	requeueDelay    time.Duration
	maxRequeueDelay time.Duration
	// storeFailures counts consecutive attempt-recording failures; only the
	// Listen goroutine touches it
	storeFailures int
}

// NewQueue creates a queue bound to handler. A nil handler behaves like NopHandler.
func NewQueue[P any](name string, handler Handler[P], cfg QueueConfig) *Queue[P] {
	if handler == nil {
		handler = NopHandler[P]{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scratchDir := cfg.ScratchDir
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "automation-worker")
	}

	validate := cfg.Validator
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	requeueDelay := cfg.RequeueDelay
	if requeueDelay <= 0 {
		requeueDelay = defaultRequeueDelay
	}

	maxRequeueDelay := cfg.MaxRequeueDelay
	if maxRequeueDelay < requeueDelay {
		maxRequeueDelay = max(defaultMaxRequeueDelay, requeueDelay)
	}

	consumerTag := ""
	if cfg.ConsumerTag != "" {
		consumerTag = fmt.Sprintf("%s.%s", cfg.ConsumerTag, name)
	}

	return &Queue[P]{
		name:        name,
		handler:     handler,
		store:       cfg.Store,
		logger:      logger.With(slog.String("queue", name)),
		scratchDir:  scratchDir,
		consumerTag: consumerTag,
		validate:    validate,
		now:         now,

		requeueDelay:    requeueDelay,
		maxRequeueDelay: maxRequeueDelay,
	}
}

// Name returns the broker queue name
func (q *Queue[P]) Name() string {
	return q.name
}

// decodePayload unmarshals and validates the job payload for this queue
func (q *Queue[P]) decodePayload(raw json.RawMessage) (P, error) {
	var payload P

	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return payload, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
	}

	if !isStruct(payload) {
		return payload, nil
	}

	if err := q.validate.Struct(payload); err != nil {
		return payload, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	return payload, nil
}

func isStruct(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}
