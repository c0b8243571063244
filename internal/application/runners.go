package application

import (
	"fmt"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// Runners bundles one started runner per lifecycle workflow.
type Runners struct {
	Deploy    domain.DeployRunner
	Delete    domain.DeleteRunner
	Update    domain.UpdateRunner
	Scale     domain.ScaleRunner
	Configure domain.ConfigureRunner
}

// Options tune the workflows built by BuildRunners.
type Options struct {
	// TransactionalUpdate makes the update workflow revert applied
	// mutations when any mutation fails.
	TransactionalUpdate bool
}

// BuildRunners constructs the five lifecycle workflows over one shared
// activity library and registers them with the engine.
func BuildRunners(engine domain.WorkflowEngine, acts *domain.Activities, opts Options) (Runners, error) {
	var (
		r   Runners
		err error
	)
	if r.Deploy, err = engine.DeployRunner(&domain.DeployWorkflow{Activities: acts}); err != nil {
		return Runners{}, fmt.Errorf("deploy runner: %w", err)
	}
	if r.Delete, err = engine.DeleteRunner(&domain.DeleteWorkflow{Activities: acts}); err != nil {
		return Runners{}, fmt.Errorf("delete runner: %w", err)
	}
	if r.Update, err = engine.UpdateRunner(&domain.UpdateWorkflow{
		Activities:    acts,
		Transactional: opts.TransactionalUpdate,
	}); err != nil {
		return Runners{}, fmt.Errorf("update runner: %w", err)
	}
	if r.Scale, err = engine.ScaleRunner(&domain.ScaleWorkflow{Activities: acts}); err != nil {
		return Runners{}, fmt.Errorf("scale runner: %w", err)
	}
	if r.Configure, err = engine.ConfigureRunner(&domain.ConfigureWorkflow{Activities: acts}); err != nil {
		return Runners{}, fmt.Errorf("configure runner: %w", err)
	}
	return r, nil
}
