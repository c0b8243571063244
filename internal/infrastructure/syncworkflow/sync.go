// Package syncworkflow provides a synchronous, in-process [domain.WorkflowEngine].
// Activities execute inline with no persistence or replay; a fan-out batch
// runs its activities on plain goroutines. Used by tests and by the CLI's
// single-shot mode.
package syncworkflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

var runCounter atomic.Int64

// DefaultFanOut bounds a batch's concurrent activities when the engine
// is built with FanOut zero.
const DefaultFanOut = 8

// Engine implements [domain.WorkflowEngine] with synchronous, in-process
// execution. No durable state is kept.
type Engine struct {
	// FanOut caps how many activities of one batch run at once.
	FanOut int
}

func (e *Engine) fanOut() int {
	if e.FanOut > 0 {
		return e.FanOut
	}
	return DefaultFanOut
}

func (e *Engine) DeployRunner(wf *domain.DeployWorkflow) (domain.DeployRunner, error) {
	return &runner[domain.DeployInput, domain.DeployResult]{run: wf.Run, fanOut: e.fanOut()}, nil
}

func (e *Engine) DeleteRunner(wf *domain.DeleteWorkflow) (domain.DeleteRunner, error) {
	return &runner[domain.DeleteInput, domain.DeleteResult]{run: wf.Run, fanOut: e.fanOut()}, nil
}

func (e *Engine) UpdateRunner(wf *domain.UpdateWorkflow) (domain.UpdateRunner, error) {
	return &runner[domain.UpdateInput, domain.UpdateResult]{run: wf.Run, fanOut: e.fanOut()}, nil
}

func (e *Engine) ScaleRunner(wf *domain.ScaleWorkflow) (domain.ScaleRunner, error) {
	return &runner[domain.ScaleInput, domain.ScaleResult]{run: wf.Run, fanOut: e.fanOut()}, nil
}

func (e *Engine) ConfigureRunner(wf *domain.ConfigureWorkflow) (domain.ConfigureRunner, error) {
	return &runner[domain.ConfigureInput, domain.ConfigureResult]{run: wf.Run, fanOut: e.fanOut()}, nil
}

type runner[I, O any] struct {
	run    func(domain.DurableRunner, I) (O, error)
	fanOut int
}

func (r *runner[I, O]) Run(ctx context.Context, in I) (domain.WorkflowHandle[O], error) {
	id := runCounter.Add(1)
	dr := &syncRunner{id: id, ctx: ctx, fanOut: r.fanOut}
	result, err := r.run(dr, in)
	return &handle[O]{id: id, result: result, err: err}, nil
}

type syncRunner struct {
	id     int64
	ctx    context.Context
	fanOut int
}

func (r *syncRunner) ID() string               { return fmt.Sprintf("sync-%d", r.id) }
func (r *syncRunner) Context() context.Context { return r.ctx }

func (r *syncRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

func (r *syncRunner) RunAll(activity domain.Activity[any, any], ins []any) ([]any, error) {
	results := make([]any, len(ins))
	errs := make([]error, len(ins))
	sem := make(chan struct{}, r.fanOut)

	var wg sync.WaitGroup
	for i, in := range ins {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			out, err := activity.Run(r.ctx, in)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = out
		}()
	}
	wg.Wait()

	return results, domain.JoinErrors(errs)
}

type handle[O any] struct {
	id     int64
	result O
	err    error
}

func (h *handle[O]) WorkflowID() string { return fmt.Sprintf("sync-%d", h.id) }

func (h *handle[O]) AwaitResult(_ context.Context) (O, error) {
	return h.result, h.err
}
