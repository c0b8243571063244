package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TagDeployment is the backend tag key tying resources to their owning
// deployment. Orphan cleanup lists by this tag.
const TagDeployment = "deployment_id"

// Timeouts bound the backend interactions of the activity library.
type Timeouts struct {
	// Backend caps each individual backend call attempt.
	Backend time.Duration
	// PollInterval is the delay between status polls.
	PollInterval time.Duration
	// VMActive caps the wait for a created VM to report ACTIVE.
	VMActive time.Duration
	// VMGone caps the wait for a deleted VM to disappear.
	VMGone time.Duration
	// Playbook caps one configuration run.
	Playbook time.Duration
}

func (t Timeouts) backend() time.Duration {
	if t.Backend > 0 {
		return t.Backend
	}
	return 60 * time.Second
}

func (t Timeouts) pollInterval() time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return 5 * time.Second
}

func (t Timeouts) vmActive() time.Duration {
	if t.VMActive > 0 {
		return t.VMActive
	}
	return 5 * time.Minute
}

func (t Timeouts) vmGone() time.Duration {
	if t.VMGone > 0 {
		return t.VMGone
	}
	return 2 * time.Minute
}

func (t Timeouts) playbook() time.Duration {
	if t.Playbook > 0 {
		return t.Playbook
	}
	return 5 * time.Minute
}

// Activities is the activity library shared by every lifecycle workflow.
// Each method returns a named, idempotent [Activity] closed over the
// library's ports. Engines register the full set once; workflows invoke
// activities through their [DurableRunner].
type Activities struct {
	Deployments DeploymentRepository
	Runs        ConfigurationRunRepository
	Compute     ComputeClient
	Network     NetworkClient
	Config      ConfigurationClient

	Retry    RetryPolicy
	Timeouts Timeouts
	Log      zerolog.Logger

	// Now and NewExecutionID exist for tests; nil means wall clock and
	// random UUIDs.
	Now            func() time.Time
	NewExecutionID func() string
}

func (a *Activities) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

func (a *Activities) executionID() string {
	if a.NewExecutionID != nil {
		return a.NewExecutionID()
	}
	return uuid.NewString()
}

func (a *Activities) tags(id DeploymentID) map[string]string {
	return map[string]string{TagDeployment: string(id)}
}

// BeginOperationInput claims a deployment for a lifecycle operation.
type BeginOperationInput struct {
	DeploymentID DeploymentID
	Op           Operation
}

// BeginOperation atomically validates the operation precondition against
// the current status and moves the deployment to the operation's busy
// status, returning the claimed snapshot. Re-running the claim while the
// deployment already holds the operation's busy status is a no-op, so the
// activity stays idempotent under at-least-once dispatch.
func (a *Activities) BeginOperation() Activity[BeginOperationInput, Deployment] {
	return NewActivity("begin-operation", func(ctx context.Context, in BeginOperationInput) (Deployment, error) {
		dep, err := a.Deployments.Update(ctx, in.DeploymentID, func(d *Deployment) error {
			if d.Status == in.Op.ActiveStatus() {
				return nil
			}
			return d.BeginOperation(in.Op)
		})
		if err != nil {
			return Deployment{}, err
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("operation", string(in.Op)).
			Str("status", string(dep.Status)).
			Msg("lifecycle operation claimed")
		return dep, nil
	})
}

// UpdateStatusInput is the single write path for lifecycle outcomes:
// status, manifest, failure payload, metadata, and parameter merges all
// land in one atomic repository update.
type UpdateStatusInput struct {
	DeploymentID   DeploymentID
	Status         DeploymentStatus
	Resources      *ResourceManifest
	ClearResources bool
	Failure        *FailureInfo
	Metadata       map[string]string
	Parameters     *Parameters
	MarkDeleted    bool
}

// UpdateStatus transitions a deployment and persists the accompanying
// state. Writing the current status again is legal so workflows can
// persist manifest progress mid-operation.
func (a *Activities) UpdateStatus() Activity[UpdateStatusInput, struct{}] {
	return NewActivity("update-deployment-status", func(ctx context.Context, in UpdateStatusInput) (struct{}, error) {
		_, err := a.Deployments.Update(ctx, in.DeploymentID, func(d *Deployment) error {
			if in.Status != d.Status && !d.Status.CanTransition(in.Status) {
				return fmt.Errorf("%w: illegal transition %s -> %s for deployment %q",
					ErrConflict, d.Status, in.Status, in.DeploymentID)
			}
			d.Status = in.Status
			if in.ClearResources {
				d.Resources = nil
			} else if in.Resources != nil {
				d.Resources = in.Resources.Clone()
			}
			d.Failure = in.Failure
			d.SetMetadata(in.Metadata)
			if in.Parameters != nil {
				d.Parameters = *in.Parameters
			}
			if in.MarkDeleted {
				now := a.now()
				d.DeletedAt = &now
			}
			return nil
		})
		if err != nil {
			return struct{}{}, err
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("status", string(in.Status)).
			Msg("deployment status updated")
		return struct{}{}, nil
	})
}

// CreateNetworkInput describes the network of one deployment.
type CreateNetworkInput struct {
	DeploymentID DeploymentID
	Name         string
	SubnetName   string
	CIDR         string
	Region       string
	AttachRouter bool
}

// CreateNetwork provisions the deployment network with one subnet and an
// optional router. The name acts as the idempotency token.
func (a *Activities) CreateNetwork() Activity[CreateNetworkInput, NetworkResult] {
	return NewActivity("create-network", func(ctx context.Context, in CreateNetworkInput) (NetworkResult, error) {
		var out NetworkResult
		err := a.Retry.Do(ctx, a.Log, "create-network", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, a.Timeouts.backend())
			defer cancel()
			res, err := a.Network.CreateNetwork(ctx, NetworkRequest{
				Name:         in.Name,
				SubnetName:   in.SubnetName,
				CIDR:         in.CIDR,
				Region:       in.Region,
				AttachRouter: in.AttachRouter,
				Tags:         a.tags(in.DeploymentID),
			})
			if err != nil {
				return err
			}
			out = res
			return nil
		})
		if err != nil {
			return NetworkResult{}, err
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("network", out.NetworkID).
			Msg("network created")
		return out, nil
	})
}

// CreateVMInput describes one VM to provision.
type CreateVMInput struct {
	DeploymentID DeploymentID
	Name         string
	Group        string
	Flavor       string
	Image        string
	NetworkID    string
	Region       string
}

// CreateVMOutput reports the backend id of the created (or found) VM.
type CreateVMOutput struct {
	VMID string
}

// CreateVM provisions one VM. The name acts as the idempotency token:
// re-dispatch finds the existing server instead of creating a duplicate.
func (a *Activities) CreateVM() Activity[CreateVMInput, CreateVMOutput] {
	return NewActivity("create-vm", func(ctx context.Context, in CreateVMInput) (CreateVMOutput, error) {
		var out CreateVMOutput
		err := a.Retry.Do(ctx, a.Log, "create-vm", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, a.Timeouts.backend())
			defer cancel()
			res, err := a.Compute.CreateServer(ctx, ServerRequest{
				Name:      in.Name,
				Flavor:    in.Flavor,
				Image:     in.Image,
				NetworkID: in.NetworkID,
				Region:    in.Region,
				Tags:      a.tags(in.DeploymentID),
			})
			if err != nil {
				return err
			}
			out.VMID = res.ID
			return nil
		})
		if err != nil {
			return CreateVMOutput{}, err
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("vm", out.VMID).
			Str("name", in.Name).
			Msg("vm created")
		return out, nil
	})
}

// PollVMInput addresses one VM of a deployment.
type PollVMInput struct {
	DeploymentID DeploymentID
	VMID         string
}

// PollVMOutput carries the address learned while waiting for ACTIVE.
type PollVMOutput struct {
	IP string
}

// PollVMActive waits for a VM to report ACTIVE, polling at the configured
// interval. A VM reporting ERROR fails permanently; exceeding the overall
// deadline fails with the timeout kind. Transient poll errors are absorbed
// by the loop itself.
func (a *Activities) PollVMActive() Activity[PollVMInput, PollVMOutput] {
	return NewActivity("poll-vm-active", func(ctx context.Context, in PollVMInput) (PollVMOutput, error) {
		ctx, cancel := context.WithTimeout(ctx, a.Timeouts.vmActive())
		defer cancel()

		for {
			info, err := a.Compute.GetServer(ctx, in.VMID)
			switch {
			case err == nil && info.Status == ServerStatusActive:
				return PollVMOutput{IP: info.IP}, nil
			case err == nil && info.Status == ServerStatusError:
				return PollVMOutput{}, NewResourceError("poll-vm-active", in.VMID, "vm entered ERROR state")
			case err != nil && !IsRetryable(err) && !IsNotFound(err):
				// A vm that briefly 404s right after creation is still
				// converging; only non-transient, non-404 errors abort.
				return PollVMOutput{}, err
			}

			select {
			case <-ctx.Done():
				return PollVMOutput{}, NewTimeoutError("poll-vm-active",
					fmt.Sprintf("vm %s not ACTIVE within %s", in.VMID, a.Timeouts.vmActive()), ctx.Err())
			case <-time.After(a.Timeouts.pollInterval()):
			}
		}
	})
}

// DeleteVMOutput echoes the removed VM id so fan-out callers can tell
// succeeded slots from failed ones.
type DeleteVMOutput struct {
	VMID string
}

// DeleteVM removes one VM. Deleting a VM that no longer exists succeeds,
// keeping the activity idempotent and repeated delete workflows safe.
func (a *Activities) DeleteVM() Activity[PollVMInput, DeleteVMOutput] {
	return NewActivity("delete-vm", func(ctx context.Context, in PollVMInput) (DeleteVMOutput, error) {
		err := a.Retry.Do(ctx, a.Log, "delete-vm", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, a.Timeouts.backend())
			defer cancel()
			return a.Compute.DeleteServer(ctx, in.VMID)
		})
		if err != nil && !IsNotFound(err) {
			return DeleteVMOutput{}, err
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("vm", in.VMID).
			Msg("vm deleted")
		return DeleteVMOutput{VMID: in.VMID}, nil
	})
}

// PollVMGone waits for a deleted VM to disappear from the backend.
func (a *Activities) PollVMGone() Activity[PollVMInput, struct{}] {
	return NewActivity("poll-vm-gone", func(ctx context.Context, in PollVMInput) (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, a.Timeouts.vmGone())
		defer cancel()

		for {
			_, err := a.Compute.GetServer(ctx, in.VMID)
			if IsNotFound(err) {
				return struct{}{}, nil
			}
			if err != nil && !IsRetryable(err) {
				return struct{}{}, err
			}

			select {
			case <-ctx.Done():
				return struct{}{}, NewTimeoutError("poll-vm-gone",
					fmt.Sprintf("vm %s still present after %s", in.VMID, a.Timeouts.vmGone()), ctx.Err())
			case <-time.After(a.Timeouts.pollInterval()):
			}
		}
	})
}

// DeleteNetworkInput addresses a deployment's network topology.
type DeleteNetworkInput struct {
	DeploymentID DeploymentID
	NetworkID    string
}

// DeleteNetwork removes the deployment network. Missing networks count
// as deleted; in-use conflicts (ports still releasing) classify as
// transient and ride the retry policy.
func (a *Activities) DeleteNetwork() Activity[DeleteNetworkInput, struct{}] {
	return NewActivity("delete-network", func(ctx context.Context, in DeleteNetworkInput) (struct{}, error) {
		err := a.Retry.Do(ctx, a.Log, "delete-network", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, a.Timeouts.backend())
			defer cancel()
			return a.Network.DeleteNetwork(ctx, in.NetworkID)
		})
		if err != nil && !IsNotFound(err) {
			return struct{}{}, err
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("network", in.NetworkID).
			Msg("network deleted")
		return struct{}{}, nil
	})
}

// CleanupOrphansInput names the resources the manifest still accounts
// for; everything else carrying the deployment tag is an orphan.
type CleanupOrphansInput struct {
	DeploymentID   DeploymentID
	KeepVMIDs      []string
	KeepNetworkIDs []string
}

// CleanupOrphansOutput reports what the sweep removed.
type CleanupOrphansOutput struct {
	DeletedVMIDs      []string
	DeletedNetworkIDs []string
}

// CleanupOrphans deletes backend resources tagged with the deployment id
// that the manifest no longer tracks. The sweep is best-effort per
// resource; any failed deletion fails the activity after the rest ran.
func (a *Activities) CleanupOrphans() Activity[CleanupOrphansInput, CleanupOrphansOutput] {
	return NewActivity("cleanup-orphans", func(ctx context.Context, in CleanupOrphansInput) (CleanupOrphansOutput, error) {
		keepVM := make(map[string]bool, len(in.KeepVMIDs))
		for _, id := range in.KeepVMIDs {
			keepVM[id] = true
		}
		keepNet := make(map[string]bool, len(in.KeepNetworkIDs))
		for _, id := range in.KeepNetworkIDs {
			keepNet[id] = true
		}

		var out CleanupOrphansOutput
		var errs []error

		servers, err := a.Compute.ListServersByTag(ctx, string(in.DeploymentID))
		if err != nil {
			return out, err
		}
		for _, s := range servers {
			if keepVM[s.ID] {
				continue
			}
			if err := a.Compute.DeleteServer(ctx, s.ID); err != nil && !IsNotFound(err) {
				errs = append(errs, fmt.Errorf("orphan vm %s: %w", s.ID, err))
				continue
			}
			out.DeletedVMIDs = append(out.DeletedVMIDs, s.ID)
		}

		networks, err := a.Network.ListNetworksByTag(ctx, string(in.DeploymentID))
		if err != nil {
			return out, err
		}
		for _, id := range networks {
			if keepNet[id] {
				continue
			}
			if err := a.Network.DeleteNetwork(ctx, id); err != nil && !IsNotFound(err) {
				errs = append(errs, fmt.Errorf("orphan network %s: %w", id, err))
				continue
			}
			out.DeletedNetworkIDs = append(out.DeletedNetworkIDs, id)
		}

		if len(errs) > 0 {
			return out, JoinErrors(errs)
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Int("vms", len(out.DeletedVMIDs)).
			Int("networks", len(out.DeletedNetworkIDs)).
			Msg("orphan sweep finished")
		return out, nil
	})
}

// ResizeVMInput asks for one VM flavor change.
type ResizeVMInput struct {
	DeploymentID DeploymentID
	VMID         string
	Flavor       string
}

// ResizeVMOutput echoes the resized VM id so fan-out callers can tell
// succeeded slots from failed ones.
type ResizeVMOutput struct {
	VMID string
}

// ResizeVM changes a VM's flavor in place.
func (a *Activities) ResizeVM() Activity[ResizeVMInput, ResizeVMOutput] {
	return NewActivity("resize-vm", func(ctx context.Context, in ResizeVMInput) (ResizeVMOutput, error) {
		err := a.Retry.Do(ctx, a.Log, "resize-vm", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, a.Timeouts.backend())
			defer cancel()
			return a.Compute.ResizeServer(ctx, in.VMID, in.Flavor)
		})
		if err != nil {
			return ResizeVMOutput{}, err
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("vm", in.VMID).
			Str("flavor", in.Flavor).
			Msg("vm resized")
		return ResizeVMOutput{VMID: in.VMID}, nil
	})
}

// ReplaceSubnetInput asks for the network CIDR mutation.
type ReplaceSubnetInput struct {
	DeploymentID DeploymentID
	NetworkID    string
	SubnetID     string
	CIDR         string
}

// ReplaceSubnetOutput reports the subnet that now backs the network.
type ReplaceSubnetOutput struct {
	SubnetID string
}

// ReplaceSubnet swaps the deployment subnet for one with a new CIDR.
func (a *Activities) ReplaceSubnet() Activity[ReplaceSubnetInput, ReplaceSubnetOutput] {
	return NewActivity("replace-subnet", func(ctx context.Context, in ReplaceSubnetInput) (ReplaceSubnetOutput, error) {
		var out ReplaceSubnetOutput
		err := a.Retry.Do(ctx, a.Log, "replace-subnet", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, a.Timeouts.backend())
			defer cancel()
			id, err := a.Network.ReplaceSubnet(ctx, in.NetworkID, in.SubnetID, in.CIDR)
			if err != nil {
				return err
			}
			out.SubnetID = id
			return nil
		})
		if err != nil {
			return ReplaceSubnetOutput{}, err
		}
		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("subnet", out.SubnetID).
			Str("cidr", in.CIDR).
			Msg("subnet replaced")
		return out, nil
	})
}

// RunPlaybookInput describes one configuration run over a host set.
type RunPlaybookInput struct {
	DeploymentID DeploymentID
	Playbook     string
	Hosts        []string
	ExtraVars    map[string]string
	Limit        string
}

// RunPlaybookOutput reports the run outcome. A failed playbook is a
// result; only failures to execute surface as activity errors.
type RunPlaybookOutput struct {
	Result     PlaybookResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunPlaybook executes the playbook once and records the execution in
// the configuration-run history. A re-dispatched run records a second
// execution; history is append-only by design of the execution id.
func (a *Activities) RunPlaybook() Activity[RunPlaybookInput, RunPlaybookOutput] {
	return NewActivity("run-playbook", func(ctx context.Context, in RunPlaybookInput) (RunPlaybookOutput, error) {
		// The run gets its own deadline so a timed-out playbook still
		// leaves ctx alive for recording the outcome.
		runCtx, cancel := context.WithTimeout(ctx, a.Timeouts.playbook())
		defer cancel()

		started := a.now()
		result, err := a.Config.RunPlaybook(runCtx, PlaybookRequest{
			ExecutionID: a.executionID(),
			Playbook:    in.Playbook,
			Hosts:       in.Hosts,
			ExtraVars:   in.ExtraVars,
			Limit:       in.Limit,
		})
		finished := a.now()
		if err != nil {
			return RunPlaybookOutput{}, err
		}

		run := ConfigurationRun{
			DeploymentID: in.DeploymentID,
			ExecutionID:  result.ExecutionID,
			Playbook:     in.Playbook,
			Hosts:        in.Hosts,
			Status:       result.Status,
			ExitCode:     result.ExitCode,
			Message:      result.Message,
			StartedAt:    started,
			FinishedAt:   finished,
		}
		if err := a.Runs.Put(ctx, run); err != nil {
			return RunPlaybookOutput{}, fmt.Errorf("record configuration run: %w", err)
		}

		a.Log.Info().
			Str("deployment", string(in.DeploymentID)).
			Str("execution", result.ExecutionID).
			Str("status", string(result.Status)).
			Msg("playbook run recorded")
		return RunPlaybookOutput{Result: result, StartedAt: started, FinishedAt: finished}, nil
	})
}
