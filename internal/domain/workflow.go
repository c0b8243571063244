package domain

import (
	"context"
	"errors"
)

// Activity is a named, typed, idempotent operation. Implementations must
// be safe for at-least-once invocation.
type Activity[I any, O any] interface {
	Name() string
	Run(ctx context.Context, in I) (O, error)
}

// DurableRunner is the capability object provided to a running workflow.
// It durably runs activities and provides a context for pure operations
// that need cancellation propagation.
type DurableRunner interface {
	ID() string

	// Context returns the workflow execution context. In a durable
	// engine this is the deterministic replay context; in the
	// synchronous backend it is the caller's context.
	Context() context.Context

	// Run durably runs an activity. The engine provides the activity's
	// context internally; callers should use [RunActivity] for type safety.
	Run(activity Activity[any, any], in any) (any, error)

	// RunAll durably runs one invocation of the activity per input and
	// waits for all of them (fan-out with barrier). Engines that support
	// concurrent activities dispatch the batch concurrently; ordering
	// within the batch is unspecified. Results align with ins, nil on
	// failed slots; the error joins every invocation failure. Callers
	// should use [RunActivityAll] for type safety.
	RunAll(activity Activity[any, any], ins []any) ([]any, error)
}

// RunActivity provides type-safe durable activity execution from within
// a workflow body. It is a thin wrapper around [DurableRunner.Run].
func RunActivity[I any, O any](runner DurableRunner, activity Activity[I, O], in I) (O, error) {
	result, err := runner.Run(&activityAdapter[I, O]{activity: activity}, in)
	if err != nil {
		var zero O
		return zero, err
	}
	return result.(O), nil
}

// RunActivityAll provides type-safe fan-out over [DurableRunner.RunAll].
// The returned slice always has len(ins) entries; slots whose invocation
// failed hold the zero O. The error joins every failure.
func RunActivityAll[I any, O any](runner DurableRunner, activity Activity[I, O], ins []I) ([]O, error) {
	anyIns := make([]any, len(ins))
	for i, in := range ins {
		anyIns[i] = in
	}
	results, err := runner.RunAll(&activityAdapter[I, O]{activity: activity}, anyIns)
	outs := make([]O, len(ins))
	for i, r := range results {
		if r != nil {
			outs[i] = r.(O)
		}
	}
	return outs, err
}

// JoinErrors aggregates a batch's per-slot errors, dropping nils. Engine
// implementations use it to build the RunAll error.
func JoinErrors(errs []error) error {
	return errors.Join(errs...)
}

// WorkflowHandle is a handle to a running or completed workflow execution.
type WorkflowHandle[O any] interface {
	WorkflowID() string
	AwaitResult(ctx context.Context) (O, error)
}

// DeployRunner starts deploy workflows.
type DeployRunner interface {
	Run(ctx context.Context, in DeployInput) (WorkflowHandle[DeployResult], error)
}

// DeleteRunner starts delete workflows.
type DeleteRunner interface {
	Run(ctx context.Context, in DeleteInput) (WorkflowHandle[DeleteResult], error)
}

// UpdateRunner starts update workflows.
type UpdateRunner interface {
	Run(ctx context.Context, in UpdateInput) (WorkflowHandle[UpdateResult], error)
}

// ScaleRunner starts scale workflows.
type ScaleRunner interface {
	Run(ctx context.Context, in ScaleInput) (WorkflowHandle[ScaleResult], error)
}

// ConfigureRunner starts configure workflows.
type ConfigureRunner interface {
	Run(ctx context.Context, in ConfigureInput) (WorkflowHandle[ConfigureResult], error)
}

// WorkflowEngine creates runners for the workflow types known to the
// domain. Infrastructure packages provide engine-specific implementations.
// All five workflows must share one [Activities] library so engines can
// register each activity exactly once.
type WorkflowEngine interface {
	DeployRunner(wf *DeployWorkflow) (DeployRunner, error)
	DeleteRunner(wf *DeleteWorkflow) (DeleteRunner, error)
	UpdateRunner(wf *UpdateWorkflow) (UpdateRunner, error)
	ScaleRunner(wf *ScaleWorkflow) (ScaleRunner, error)
	ConfigureRunner(wf *ConfigureWorkflow) (ConfigureRunner, error)
}

// NewActivity creates an [Activity] from a stable name and a function.
// The activity library uses this to define activities as methods.
func NewActivity[I, O any](name string, fn func(context.Context, I) (O, error)) Activity[I, O] {
	return &activityFunc[I, O]{name: name, fn: fn}
}

type activityFunc[I, O any] struct {
	name string
	fn   func(context.Context, I) (O, error)
}

func (a *activityFunc[I, O]) Name() string                             { return a.name }
func (a *activityFunc[I, O]) Run(ctx context.Context, in I) (O, error) { return a.fn(ctx, in) }

// activityAdapter bridges a typed [Activity] to the any-typed
// [DurableRunner.Run] interface.
type activityAdapter[I any, O any] struct{ activity Activity[I, O] }

func (a *activityAdapter[I, O]) Name() string { return a.activity.Name() }
func (a *activityAdapter[I, O]) Run(ctx context.Context, in any) (any, error) {
	return a.activity.Run(ctx, in.(I))
}
