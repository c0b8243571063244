// Package goworkflows implements [domain.WorkflowEngine] using
// cschleiden/go-workflows for durable workflow execution.
package goworkflows

import (
	"context"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// activityInvoker calls a registered activity from the workflow context
// with the correct generic types. Created at registration time when
// concrete types are known.
type activityInvoker struct {
	one func(wfCtx workflow.Context, in any) (any, error)
	all func(wfCtx workflow.Context, ins []any) ([]any, error)
}

// Engine implements [domain.WorkflowEngine] backed by go-workflows.
// All five lifecycle workflows share one [domain.Activities] library,
// registered once with the worker on first use.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration

	activities *domain.Activities
	invokers   map[string]activityInvoker
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 30 * time.Second
}

func (e *Engine) DeployRunner(wf *domain.DeployWorkflow) (domain.DeployRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run)
}

func (e *Engine) DeleteRunner(wf *domain.DeleteWorkflow) (domain.DeleteRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run)
}

func (e *Engine) UpdateRunner(wf *domain.UpdateWorkflow) (domain.UpdateRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run)
}

func (e *Engine) ScaleRunner(wf *domain.ScaleWorkflow) (domain.ScaleRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run)
}

func (e *Engine) ConfigureRunner(wf *domain.ConfigureWorkflow) (domain.ConfigureRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run)
}

// ensureActivities registers the shared activity library with the worker.
// The worker rejects duplicate names, so registration happens exactly once
// and every workflow must be built from the same library instance.
func (e *Engine) ensureActivities(a *domain.Activities) error {
	if e.invokers != nil {
		if e.activities != a {
			return fmt.Errorf("workflows were built from different activity libraries")
		}
		return nil
	}

	invokers := make(map[string]activityInvoker)
	if err := registerActivity(e.Worker, invokers, a.BeginOperation()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.UpdateStatus()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.CreateNetwork()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.CreateVM()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.PollVMActive()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.DeleteVM()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.PollVMGone()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.DeleteNetwork()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.CleanupOrphans()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.ResizeVM()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.ReplaceSubnet()); err != nil {
		return err
	}
	if err := registerActivity(e.Worker, invokers, a.RunPlaybook()); err != nil {
		return err
	}

	e.activities = a
	e.invokers = invokers
	return nil
}

// registerActivity registers a typed activity with go-workflows and
// creates the corresponding typed invokers for single and fan-out calls.
func registerActivity[I, O any](
	w *worker.Worker,
	invokers map[string]activityInvoker,
	activity domain.Activity[I, O],
) error {
	activityFn := func(ctx context.Context, in I) (O, error) {
		return activity.Run(ctx, in)
	}

	if err := w.RegisterActivity(activityFn, registry.WithName(activity.Name())); err != nil {
		return fmt.Errorf("register activity %q: %w", activity.Name(), err)
	}

	invokers[activity.Name()] = activityInvoker{
		one: func(wfCtx workflow.Context, in any) (any, error) {
			result, err := workflow.ExecuteActivity[O](
				wfCtx, workflow.DefaultActivityOptions, activity.Name(), in,
			).Get(wfCtx)
			return result, err
		},
		all: func(wfCtx workflow.Context, ins []any) ([]any, error) {
			// Dispatch the whole batch before awaiting so the
			// activities run concurrently.
			futures := make([]workflow.Future[O], len(ins))
			for i, in := range ins {
				futures[i] = workflow.ExecuteActivity[O](
					wfCtx, workflow.DefaultActivityOptions, activity.Name(), in,
				)
			}
			results := make([]any, len(ins))
			errs := make([]error, len(ins))
			for i, f := range futures {
				out, err := f.Get(wfCtx)
				if err != nil {
					errs[i] = err
					continue
				}
				results[i] = out
			}
			return results, domain.JoinErrors(errs)
		},
	}

	return nil
}

// registerWorkflow registers a workflow function under its stable name
// and returns a client-side runner for it.
func registerWorkflow[I, O any](e *Engine, name string, run func(domain.DurableRunner, I) (O, error)) (*workflowRunner[I, O], error) {
	wfFunc := func(ctx workflow.Context, in I) (O, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: e.invokers}
		return run(runner, in)
	}

	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(name)); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", name, err)
	}

	return &workflowRunner[I, O]{
		client:  e.Client,
		wfName:  name,
		timeout: e.timeout(),
	}, nil
}

type durableRunner struct {
	wfCtx    workflow.Context
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	return workflow.WorkflowInstance(r.wfCtx).InstanceID
}

func (r *durableRunner) Context() context.Context {
	return context.Background()
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke.one(r.wfCtx, in)
}

func (r *durableRunner) RunAll(activity domain.Activity[any, any], ins []any) ([]any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke.all(r.wfCtx, ins)
}

type workflowRunner[I, O any] struct {
	client  *client.Client
	wfName  string
	timeout time.Duration
}

func (r *workflowRunner[I, O]) Run(ctx context.Context, in I) (domain.WorkflowHandle[O], error) {
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: uuid.NewString(),
	}, r.wfName, in)
	if err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}

	return &workflowHandle[O]{
		client:   r.client,
		instance: instance,
		timeout:  r.timeout,
	}, nil
}

type workflowHandle[O any] struct {
	client   *client.Client
	instance *workflow.Instance
	timeout  time.Duration
}

func (h *workflowHandle[O]) WorkflowID() string {
	return h.instance.InstanceID
}

func (h *workflowHandle[O]) AwaitResult(ctx context.Context) (O, error) {
	return client.GetWorkflowResult[O](ctx, h.client, h.instance, h.timeout)
}
