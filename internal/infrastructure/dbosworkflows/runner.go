// Package dbosworkflows implements [domain.WorkflowEngine] using
// the DBOS Transact Go SDK.
package dbosworkflows

import (
	"context"
	"fmt"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// activityInvoker calls [dbos.RunAsStep] with the correct concrete
// output type. Created at construction time when concrete types are
// known.
type activityInvoker struct {
	one func(ctx dbos.DBOSContext, in any) (any, error)
	all func(ctx dbos.DBOSContext, ins []any) ([]any, error)
}

// Engine implements [domain.WorkflowEngine] backed by DBOS.
//
// The caller must call [dbos.Launch] after creating runners and before
// invoking them.
type Engine struct {
	DBOSCtx dbos.DBOSContext

	activities *domain.Activities
	invokers   map[string]activityInvoker
}

func (e *Engine) DeployRunner(wf *domain.DeployWorkflow) (domain.DeployRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run), nil
}

func (e *Engine) DeleteRunner(wf *domain.DeleteWorkflow) (domain.DeleteRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run), nil
}

func (e *Engine) UpdateRunner(wf *domain.UpdateWorkflow) (domain.UpdateRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run), nil
}

func (e *Engine) ScaleRunner(wf *domain.ScaleWorkflow) (domain.ScaleRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run), nil
}

func (e *Engine) ConfigureRunner(wf *domain.ConfigureWorkflow) (domain.ConfigureRunner, error) {
	if err := e.ensureActivities(wf.Activities); err != nil {
		return nil, err
	}
	return registerWorkflow(e, wf.Name(), wf.Run), nil
}

func (e *Engine) ensureActivities(a *domain.Activities) error {
	if e.invokers != nil {
		if e.activities != a {
			return fmt.Errorf("workflows were built from different activity libraries")
		}
		return nil
	}

	invokers := make(map[string]activityInvoker)
	registerActivity(invokers, a.BeginOperation())
	registerActivity(invokers, a.UpdateStatus())
	registerActivity(invokers, a.CreateNetwork())
	registerActivity(invokers, a.CreateVM())
	registerActivity(invokers, a.PollVMActive())
	registerActivity(invokers, a.DeleteVM())
	registerActivity(invokers, a.PollVMGone())
	registerActivity(invokers, a.DeleteNetwork())
	registerActivity(invokers, a.CleanupOrphans())
	registerActivity(invokers, a.ResizeVM())
	registerActivity(invokers, a.ReplaceSubnet())
	registerActivity(invokers, a.RunPlaybook())

	e.activities = a
	e.invokers = invokers
	return nil
}

// registerActivity creates typed invokers that call [dbos.RunAsStep]
// with the concrete output type O, ensuring correct JSON deserialization
// during workflow replay.
func registerActivity[I, O any](invokers map[string]activityInvoker, activity domain.Activity[I, O]) {
	run := func(ctx dbos.DBOSContext, in any) (any, error) {
		return dbos.RunAsStep(ctx, func(stepCtx context.Context) (O, error) {
			return activity.Run(stepCtx, in.(I))
		}, dbos.WithStepName(activity.Name()))
	}

	invokers[activity.Name()] = activityInvoker{
		one: run,
		all: func(ctx dbos.DBOSContext, ins []any) ([]any, error) {
			// Steps replay by invocation order, so the batch runs
			// sequentially. The barrier only requires every slot to
			// finish before control returns.
			results := make([]any, len(ins))
			errs := make([]error, len(ins))
			for i, in := range ins {
				out, err := run(ctx, in)
				if err != nil {
					errs[i] = err
					continue
				}
				results[i] = out
			}
			return results, domain.JoinErrors(errs)
		},
	}
}

func registerWorkflow[I, O any](e *Engine, name string, run func(domain.DurableRunner, I) (O, error)) *workflowRunner[I, O] {
	wfFunc := func(ctx dbos.DBOSContext, in I) (O, error) {
		runner := &durableRunner{ctx: ctx, invokers: e.invokers}
		return run(runner, in)
	}

	dbos.RegisterWorkflow(e.DBOSCtx, wfFunc, dbos.WithWorkflowName(name))

	return &workflowRunner[I, O]{dbosCtx: e.DBOSCtx, wfFunc: wfFunc}
}

type durableRunner struct {
	ctx      dbos.DBOSContext
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	id, _ := dbos.GetWorkflowID(r.ctx)
	return id
}

func (r *durableRunner) Context() context.Context {
	return r.ctx
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke.one(r.ctx, in)
}

func (r *durableRunner) RunAll(activity domain.Activity[any, any], ins []any) ([]any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke.all(r.ctx, ins)
}

type workflowRunner[I, O any] struct {
	dbosCtx dbos.DBOSContext
	wfFunc  dbos.Workflow[I, O]
}

func (r *workflowRunner[I, O]) Run(ctx context.Context, in I) (domain.WorkflowHandle[O], error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.wfFunc, in)
	if err != nil {
		return nil, fmt.Errorf("run DBOS workflow: %w", err)
	}
	return &workflowHandle[O]{handle: handle}, nil
}

type workflowHandle[O any] struct {
	handle dbos.WorkflowHandle[O]
}

func (h *workflowHandle[O]) WorkflowID() string {
	return h.handle.GetWorkflowID()
}

func (h *workflowHandle[O]) AwaitResult(_ context.Context) (O, error) {
	return h.handle.GetResult()
}
