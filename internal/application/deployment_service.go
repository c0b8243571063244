package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
	"github.com/Sugu-Inc/modern-onap-so/internal/metrics"
)

// CreateDeploymentInput describes the deployment StartDeploy creates.
type CreateDeploymentInput struct {
	ID          domain.DeploymentID // generated when empty
	Name        string              // defaults to the id
	Template    domain.Template
	Parameters  domain.Parameters
	CloudRegion string
	Metadata    map[string]string
}

// DeleteOptions tune a delete run.
type DeleteOptions struct {
	// CleanupOrphans additionally sweeps backend resources tagged with
	// the deployment id but missing from the manifest.
	CleanupOrphans bool
}

// ScaleRequest moves one VM group to a target count. Group may be empty
// when the template has exactly one group.
type ScaleRequest struct {
	Group       string
	TargetCount int
}

// ConfigureRequest runs a playbook against a deployment's VMs.
type ConfigureRequest struct {
	Playbook  string
	ExtraVars map[string]string
	Limit     string
}

// DeploymentService is the lifecycle trigger and status query surface.
// StartX methods validate the request, check the state-machine
// precondition, and return a handle without awaiting the workflow. The
// precondition check only fails fast: the workflow's atomic claim stays
// the authority when operations race.
type DeploymentService struct {
	Deployments domain.DeploymentRepository
	Runs        domain.ConfigurationRunRepository
	Runners     Runners
	Activities  *domain.Activities
	Log         zerolog.Logger
	Metrics     *metrics.Registry
}

// StartDeploy persists a new PENDING deployment and starts its deploy
// workflow.
func (s *DeploymentService) StartDeploy(ctx context.Context, in CreateDeploymentInput) (domain.Deployment, domain.WorkflowHandle[domain.DeployResult], error) {
	if in.ID == "" {
		in.ID = domain.DeploymentID(uuid.NewString())
	}
	if in.Name == "" {
		in.Name = string(in.ID)
	}

	tpl := in.Template.Normalized()
	if err := tpl.Validate(); err != nil {
		return domain.Deployment{}, nil, err
	}
	if _, err := tpl.WithParameters(in.Parameters); err != nil {
		return domain.Deployment{}, nil, err
	}

	d := domain.Deployment{
		ID:          in.ID,
		Name:        in.Name,
		Status:      domain.StatusPending,
		Template:    tpl,
		Parameters:  in.Parameters,
		CloudRegion: in.CloudRegion,
		Metadata:    in.Metadata,
	}
	if err := s.Deployments.Create(ctx, d); err != nil {
		return domain.Deployment{}, nil, err
	}

	s.Log.Info().
		Str("deployment_id", string(d.ID)).
		Str("name", d.Name).
		Msg("deployment created, starting deploy")

	handle, err := s.Runners.Deploy.Run(ctx, domain.DeployInput{DeploymentID: d.ID})
	if err != nil {
		return domain.Deployment{}, nil, fmt.Errorf("start deploy workflow: %w", err)
	}
	return d, observe(s, "deploy", handle, deployStatus), nil
}

// StartDelete starts a delete workflow for the deployment.
func (s *DeploymentService) StartDelete(ctx context.Context, id domain.DeploymentID, opts DeleteOptions) (domain.WorkflowHandle[domain.DeleteResult], error) {
	if _, err := s.precheck(ctx, id, domain.OpDelete); err != nil {
		return nil, err
	}

	s.Log.Info().Str("deployment_id", string(id)).Msg("starting delete")

	handle, err := s.Runners.Delete.Run(ctx, domain.DeleteInput{
		DeploymentID:   id,
		CleanupOrphans: opts.CleanupOrphans,
	})
	if err != nil {
		return nil, fmt.Errorf("start delete workflow: %w", err)
	}
	return observe(s, "delete", handle, deleteStatus), nil
}

// StartUpdate starts an update workflow applying diff to the deployment's
// live infrastructure.
func (s *DeploymentService) StartUpdate(ctx context.Context, id domain.DeploymentID, diff domain.UpdateDiff) (domain.WorkflowHandle[domain.UpdateResult], error) {
	if err := diff.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.precheck(ctx, id, domain.OpUpdate); err != nil {
		return nil, err
	}

	s.Log.Info().Str("deployment_id", string(id)).Msg("starting update")

	handle, err := s.Runners.Update.Run(ctx, domain.UpdateInput{DeploymentID: id, Diff: diff})
	if err != nil {
		return nil, fmt.Errorf("start update workflow: %w", err)
	}
	return observe(s, "update", handle, updateStatus), nil
}

// StartScale starts a scale workflow moving one VM group to the requested
// count.
func (s *DeploymentService) StartScale(ctx context.Context, id domain.DeploymentID, req ScaleRequest) (domain.WorkflowHandle[domain.ScaleResult], error) {
	if req.TargetCount < 1 || req.TargetCount > domain.MaxVMsPerGroup {
		return nil, fmt.Errorf("%w: target count %d out of range 1..%d",
			domain.ErrInvalidArgument, req.TargetCount, domain.MaxVMsPerGroup)
	}
	if _, err := s.precheck(ctx, id, domain.OpScale); err != nil {
		return nil, err
	}

	s.Log.Info().
		Str("deployment_id", string(id)).
		Str("group", req.Group).
		Int("target", req.TargetCount).
		Msg("starting scale")

	handle, err := s.Runners.Scale.Run(ctx, domain.ScaleInput{
		DeploymentID: id,
		Group:        req.Group,
		TargetCount:  req.TargetCount,
	})
	if err != nil {
		return nil, fmt.Errorf("start scale workflow: %w", err)
	}
	return observe(s, "scale", handle, scaleStatus), nil
}

// StartConfigure starts a configure workflow running the playbook against
// every VM in the deployment.
func (s *DeploymentService) StartConfigure(ctx context.Context, id domain.DeploymentID, req ConfigureRequest) (domain.WorkflowHandle[domain.ConfigureResult], error) {
	if req.Playbook == "" {
		return nil, fmt.Errorf("%w: playbook is required", domain.ErrInvalidArgument)
	}
	if _, err := s.precheck(ctx, id, domain.OpConfigure); err != nil {
		return nil, err
	}

	s.Log.Info().
		Str("deployment_id", string(id)).
		Str("playbook", req.Playbook).
		Msg("starting configure")

	handle, err := s.Runners.Configure.Run(ctx, domain.ConfigureInput{
		DeploymentID: id,
		Playbook:     req.Playbook,
		ExtraVars:    req.ExtraVars,
		Limit:        req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("start configure workflow: %w", err)
	}
	return observe(s, "configure", handle, configureStatus), nil
}

// Get retrieves a deployment by id.
func (s *DeploymentService) Get(ctx context.Context, id domain.DeploymentID) (domain.Deployment, error) {
	return s.Deployments.Get(ctx, id)
}

// List returns all deployments, deleted ones included.
func (s *DeploymentService) List(ctx context.Context) ([]domain.Deployment, error) {
	return s.Deployments.List(ctx)
}

// ConfigurationRuns returns the deployment's playbook execution history,
// oldest first.
func (s *DeploymentService) ConfigurationRuns(ctx context.Context, id domain.DeploymentID) ([]domain.ConfigurationRun, error) {
	if _, err := s.Deployments.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Runs.ListByDeployment(ctx, id)
}

// RunOrphanCleanup sweeps backend resources tagged with the deployment id
// that its manifest no longer accounts for. Busy deployments are refused:
// their in-flight resources are not in the manifest yet and would be
// swept.
func (s *DeploymentService) RunOrphanCleanup(ctx context.Context, id domain.DeploymentID) (domain.CleanupOrphansOutput, error) {
	d, err := s.Deployments.Get(ctx, id)
	if err != nil {
		return domain.CleanupOrphansOutput{}, err
	}
	if d.Status.Busy() {
		return domain.CleanupOrphansOutput{}, fmt.Errorf("%w: cannot sweep orphans of deployment %q while status is %s",
			domain.ErrConflict, id, d.Status)
	}

	in := domain.CleanupOrphansInput{DeploymentID: id}
	if d.Resources != nil {
		in.KeepVMIDs = d.Resources.VMIDs()
		if d.Resources.NetworkID != "" {
			in.KeepNetworkIDs = []string{d.Resources.NetworkID}
		}
	}
	return s.Activities.CleanupOrphans().Run(ctx, in)
}

// precheck fails fast with the same conflict the workflow's claim would
// raise.
func (s *DeploymentService) precheck(ctx context.Context, id domain.DeploymentID, op domain.Operation) (domain.Deployment, error) {
	d, err := s.Deployments.Get(ctx, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	if !op.StartableFrom(d.Status) {
		return domain.Deployment{}, fmt.Errorf("%w: cannot %s deployment %q while status is %s",
			domain.ErrConflict, op, id, d.Status)
	}
	return d, nil
}

func deployStatus(r domain.DeployResult) domain.DeploymentStatus       { return r.Status }
func deleteStatus(r domain.DeleteResult) domain.DeploymentStatus       { return r.Status }
func updateStatus(r domain.UpdateResult) domain.DeploymentStatus       { return r.Status }
func scaleStatus(r domain.ScaleResult) domain.DeploymentStatus         { return r.Status }
func configureStatus(r domain.ConfigureResult) domain.DeploymentStatus { return r.Status }

// observe counts the start and wraps the handle so the first await
// records the workflow's final status and duration.
func observe[O any](s *DeploymentService, workflow string, h domain.WorkflowHandle[O], status func(O) domain.DeploymentStatus) domain.WorkflowHandle[O] {
	s.Metrics.WorkflowStarted(workflow)
	return &observedHandle[O]{
		WorkflowHandle: h,
		workflow:       workflow,
		status:         status,
		started:        time.Now(),
		metrics:        s.Metrics,
	}
}

type observedHandle[O any] struct {
	domain.WorkflowHandle[O]
	workflow string
	status   func(O) domain.DeploymentStatus
	started  time.Time
	metrics  *metrics.Registry
	once     sync.Once
}

func (h *observedHandle[O]) AwaitResult(ctx context.Context) (O, error) {
	out, err := h.WorkflowHandle.AwaitResult(ctx)
	h.once.Do(func() {
		status := "error"
		if err == nil {
			status = string(h.status(out))
		}
		h.metrics.WorkflowFinished(h.workflow, status, time.Since(h.started).Seconds())
	})
	return out, err
}
