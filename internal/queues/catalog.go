package queues

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/automation-worker/internal/counter"
	"github.com/cuongbtq/automation-worker/internal/scheduler"
	"github.com/cuongbtq/automation-worker/internal/worker"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
)

// Module names a handler that can be enabled in a worker process
type Module string

// Available handler modules
const (
	ModuleScheduler Module = "scheduler"
	ModuleCounter   Module = "counter"
)

// Dependencies holds everything the handler modules are built from
type Dependencies struct {
	Logger *slog.Logger
	Queue  worker.QueueConfig

	SchedulerQueueName string
	TestQueueName      string

	ScheduleStore        scheduler.ScheduleStore
	Triggerer            scheduler.Triggerer
	Guard                scheduler.FireGuard
	TriggerRatePerSecond float64
	TriggerBurst         int
	ActorID              string
}

type definition struct {
	module Module
	build  func(deps Dependencies) worker.Listener
}

var definitions = []definition{
	{
		module: ModuleScheduler,
		build: func(deps Dependencies) worker.Listener {
			engine := scheduler.NewEngine(scheduler.Config{
				Store:                deps.ScheduleStore,
				Triggerer:            deps.Triggerer,
				Logger:               deps.Logger.With(slog.String("module", string(ModuleScheduler))),
				Guard:                deps.Guard,
				TriggerRatePerSecond: deps.TriggerRatePerSecond,
				TriggerBurst:         deps.TriggerBurst,
				ActorID:              deps.ActorID,
			})
			return worker.NewQueue[scheduler.Payload](nameOr(deps.SchedulerQueueName, domain.DefaultSchedulerQueue), engine, deps.Queue)
		},
	},
	{
		module: ModuleCounter,
		build: func(deps Dependencies) worker.Listener {
			return worker.NewQueue[counter.Payload](nameOr(deps.TestQueueName, domain.DefaultTestQueue), counter.NewHandler(), deps.Queue)
		},
	},
}

// Modules lists every available module in registration order
func Modules() []Module {
	modules := make([]Module, 0, len(definitions))
	for _, d := range definitions {
		modules = append(modules, d.module)
	}
	return modules
}

// ParseEnabled validates an allow-list of module names. An empty list enables every module.
func ParseEnabled(names []string) (map[Module]bool, error) {
	enabled := make(map[Module]bool)

	if len(names) == 0 {
		for _, d := range definitions {
			enabled[d.module] = true
		}
		return enabled, nil
	}

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		module := Module(name)
		if !known(module) {
			return nil, fmt.Errorf("invalid module name: %q (valid options: %s)", name, validOptions())
		}
		enabled[module] = true
	}

	if len(enabled) == 0 {
		return nil, errors.New("at least one valid module must be enabled")
	}

	return enabled, nil
}

// Load builds the enabled modules and registers their queues. It returns the
// registered queue names.
func Load(registry *worker.Registry, deps Dependencies, enabledNames []string) ([]string, error) {
	enabled, err := ParseEnabled(enabledNames)
	if err != nil {
		return nil, err
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	var names []string
	for _, d := range definitions {
		if !enabled[d.module] {
			deps.Logger.Info("Module disabled", slog.String("module", string(d.module)))
			continue
		}

		listener := d.build(deps)
		if err := registry.Register(listener); err != nil {
			return nil, fmt.Errorf("failed to register module %s: %w", d.module, err)
		}

		deps.Logger.Info("Module registered",
			slog.String("module", string(d.module)),
			slog.String("queue", listener.Name()),
		)
		names = append(names, listener.Name())
	}

	return names, nil
}

func known(module Module) bool {
	for _, d := range definitions {
		if d.module == module {
			return true
		}
	}
	return false
}

func validOptions() string {
	options := make([]string, 0, len(definitions))
	for _, d := range definitions {
		options = append(options, string(d.module))
	}
	return strings.Join(options, ", ")
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
