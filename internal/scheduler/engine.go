package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/automation-worker/internal/execution"
	"github.com/cuongbtq/automation-worker/internal/worker"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Payload is the scheduler queue message: one tick and the shard of
// schedules this invocation evaluates. Limit 0 means to the end.
type Payload struct {
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Skip      int       `json:"skip" validate:"gte=0"`
	Limit     int       `json:"limit" validate:"gte=0"`
}

// ScheduleStore reads schedules and the automations they belong to
type ScheduleStore interface {
	ListSchedules(ctx context.Context, skip, limit int) ([]domain.Schedule, error)
	GetAutomation(ctx context.Context, automationID string) (*domain.Automation, error)
}

// Triggerer starts one execution on the application server
type Triggerer interface {
	Trigger(ctx context.Context, req execution.TriggerRequest) error
}

// ActivityRecorder receives the per-invocation activity log
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, message string, severity domain.Severity) error
}

// Config holds engine configuration
type Config struct {
	Store     ScheduleStore
	Triggerer Triggerer
	Logger    *slog.Logger
	// Guard defaults to NopGuard
	Guard FireGuard
	// TriggerRatePerSecond limits trigger calls; 0 means unlimited
	TriggerRatePerSecond float64
	TriggerBurst         int
	// ActorID replaces the identity generated per invocation
	ActorID string
}

// Result counts the outcome of one invocation
type Result struct {
	Evaluated int
	Fired     int
	Skipped   int
	Failed    int
}

// Engine evaluates a shard of cron schedules against one tick and triggers
// the due automations. It is the handler of the scheduler queue.
type Engine struct {
	store     ScheduleStore
	triggerer Triggerer
	logger    *slog.Logger
	guard     FireGuard
	limiter   *rate.Limiter
	actorID   string
	matcher   *Matcher
	newActor  func() string
}

var _ worker.Handler[Payload] = (*Engine)(nil)

// NewEngine creates a new engine instance
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	guard := cfg.Guard
	if guard == nil {
		guard = NopGuard{}
	}

	e := &Engine{
		store:     cfg.Store,
		triggerer: cfg.Triggerer,
		logger:    logger,
		guard:     guard,
		actorID:   cfg.ActorID,
		matcher:   NewMatcher(),
		newActor:  uuid.NewString,
	}

	if cfg.TriggerRatePerSecond > 0 {
		burst := cfg.TriggerBurst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.TriggerRatePerSecond), burst)
	}

	return e
}

// OnItem runs the engine for the item's tick and shard
func (e *Engine) OnItem(ctx context.Context, item *worker.JobItem[Payload]) error {
	_, err := e.Run(ctx, item.Payload, item)
	return err
}

// Run evaluates every schedule of the shard. A failure of one schedule is
// recorded and does not stop the others; only a failure to read the shard
// is returned.
func (e *Engine) Run(ctx context.Context, p Payload, activity ActivityRecorder) (Result, error) {
	var res Result

	tick := p.Timestamp.UTC()
	schedules, err := e.store.ListSchedules(ctx, p.Skip, p.Limit)
	if err != nil {
		return res, fmt.Errorf("failed to list schedules: %w", err)
	}

	actorID := e.actorID
	if actorID == "" {
		actorID = e.newActor()
	}

	logger := e.logger.With(
		slog.Time("tick", tick),
		slog.Int("skip", p.Skip),
		slog.Int("limit", p.Limit),
	)
	logger.Info("Evaluating schedules", slog.Int("count", len(schedules)))

	for _, s := range schedules {
		res.Evaluated++

		fired, err := e.evaluate(ctx, s, tick, actorID)
		switch {
		case err != nil:
			res.Failed++
			logger.Error("Failed to evaluate schedule",
				slog.String("schedule_id", s.ID),
				slog.String("automation_id", s.AutomationID),
				slog.Any("error", err),
			)
			e.record(ctx, activity, fmt.Sprintf("Schedule %s failed: %v", s.ID, err), domain.SeverityError)
		case fired:
			res.Fired++
		default:
			res.Skipped++
		}
	}

	summary := fmt.Sprintf("Schedules evaluated: %d, fired: %d, skipped: %d, failed: %d",
		res.Evaluated, res.Fired, res.Skipped, res.Failed)
	severity := domain.SeverityInfo
	if res.Failed > 0 {
		severity = domain.SeverityWarn
	}
	e.record(ctx, activity, summary, severity)

	return res, nil
}

// evaluate returns true when the schedule was due and its trigger succeeded
func (e *Engine) evaluate(ctx context.Context, s domain.Schedule, tick time.Time, actorID string) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.HandlerPanicError{Value: r}
		}
	}()

	automation, err := e.store.GetAutomation(ctx, s.AutomationID)
	if err != nil {
		if errors.Is(err, domain.ErrAutomationNotFound) {
			e.logger.Warn("Automation not found, skipping schedule",
				slog.String("schedule_id", s.ID),
				slog.String("automation_id", s.AutomationID),
			)
			return false, nil
		}
		return false, err
	}

	if !automation.TriggerEnabled {
		e.logger.Debug("Automation trigger disabled, skipping schedule",
			slog.String("schedule_id", s.ID),
			slog.String("automation_id", s.AutomationID),
		)
		return false, nil
	}

	due, err := e.matcher.IsDue(s.CronExpression, s.Timezone, tick)
	if err != nil || !due {
		return false, err
	}

	claimed, err := e.guard.Claim(ctx, s.AutomationID, tick)
	if err != nil {
		return false, fmt.Errorf("failed to claim firing: %w", err)
	}
	if !claimed {
		e.logger.Info("Firing already claimed, skipping schedule",
			slog.String("schedule_id", s.ID),
			slog.String("automation_id", s.AutomationID),
		)
		return false, nil
	}

	if err := e.trigger(ctx, s, actorID); err != nil {
		if releaseErr := e.guard.Release(ctx, s.AutomationID, tick); releaseErr != nil {
			e.logger.Error("Failed to release firing claim",
				slog.String("automation_id", s.AutomationID),
				slog.Any("error", releaseErr),
			)
		}
		return false, err
	}

	e.logger.Info("Schedule fired",
		slog.String("schedule_id", s.ID),
		slog.String("automation_id", s.AutomationID),
		slog.String("cron", s.CronExpression),
		slog.String("timezone", s.Timezone),
	)
	return true, nil
}

func (e *Engine) trigger(ctx context.Context, s domain.Schedule, actorID string) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for trigger rate limit: %w", err)
		}
	}

	req := execution.TriggerRequest{
		DID:          actorID,
		AutomationID: s.AutomationID,
		IsScheduled:  true,
	}
	if s.RuntimeEnvironment.Valid && len(s.RuntimeEnvironment.JSONText) > 0 {
		req.ScheduleRuntimeEnvironment = json.RawMessage(s.RuntimeEnvironment.JSONText)
	}

	return e.triggerer.Trigger(ctx, req)
}

func (e *Engine) record(ctx context.Context, activity ActivityRecorder, message string, severity domain.Severity) {
	if activity == nil {
		return
	}
	if err := activity.RecordActivity(ctx, message, severity); err != nil {
		e.logger.Error("Failed to append job log",
			slog.Any("error", err),
		)
	}
}
