package domain

import "fmt"

// ScaleInput starts a scale workflow run. Group may be empty when the
// template has exactly one VM group. TargetCount bounds are enforced by
// the service before the claim.
type ScaleInput struct {
	DeploymentID DeploymentID
	Group        string
	TargetCount  int
}

// ScaleResult is the terminal outcome of a scale run.
type ScaleResult struct {
	DeploymentID  DeploymentID
	Status        DeploymentStatus
	Operation     string
	PreviousCount int
	CurrentCount  int
	CreatedVMIDs  []string
	RemovedVMIDs  []string
	Failure       *FailureInfo
}

// Scale operation labels recorded in ScaleResult.
const (
	ScaleOut  = "scale-out"
	ScaleIn   = "scale-in"
	ScaleNoop = "none"
)

// ScaleWorkflow moves one VM group to a target count. Scale-out clones
// the group's spec for the new VMs and rolls back only what this run
// created on failure; scale-in removes the most recently created VMs
// first and never re-creates on failure. VM name tokens continue from
// the manifest's serial watermark so re-used ordinals cannot collide
// with half-deleted predecessors.
type ScaleWorkflow struct {
	Activities *Activities
}

func (w *ScaleWorkflow) Name() string { return "scale" }

func (w *ScaleWorkflow) Run(runner DurableRunner, in ScaleInput) (ScaleResult, error) {
	a := w.Activities

	dep, err := RunActivity(runner, a.BeginOperation(), BeginOperationInput{
		DeploymentID: in.DeploymentID,
		Op:           OpScale,
	})
	if err != nil {
		return ScaleResult{}, err
	}

	tpl, err := dep.EffectiveTemplate()
	if err != nil {
		return w.fail(runner, dep.ID, "begin-operation", err, dep.Resources.Clone(), nil)
	}

	group := in.Group
	if group == "" && len(tpl.VMGroups) == 1 {
		group = tpl.VMGroups[0].Name
	}
	spec, err := tpl.Group(group)
	if err != nil {
		return w.fail(runner, dep.ID, "begin-operation",
			fmt.Errorf("%w: unknown vm group %q", ErrInvalidArgument, group), dep.Resources.Clone(), nil)
	}

	manifest := dep.Resources.Clone()
	if manifest == nil {
		manifest = &ResourceManifest{}
	}
	previous := len(manifest.GroupVMs(group))
	delta := in.TargetCount - previous

	result := ScaleResult{
		DeploymentID:  dep.ID,
		PreviousCount: previous,
	}

	switch {
	case delta == 0:
		if _, err := RunActivity(runner, a.UpdateStatus(), UpdateStatusInput{
			DeploymentID: dep.ID,
			Status:       StatusCompleted,
		}); err != nil {
			return ScaleResult{}, err
		}
		result.Status = StatusCompleted
		result.Operation = ScaleNoop
		result.CurrentCount = previous
		return result, nil

	case delta > 0:
		created, err := w.scaleOut(runner, dep.ID, dep.CloudRegion, spec, manifest, delta)
		result.CreatedVMIDs = created
		if err != nil {
			return w.fail(runner, dep.ID, "create-vm", err, manifest, &result)
		}
		result.Operation = ScaleOut

	default:
		removed, err := w.scaleIn(runner, dep.ID, group, manifest, -delta)
		result.RemovedVMIDs = removed
		if err != nil {
			return w.fail(runner, dep.ID, "delete-vm", err, manifest, &result)
		}
		result.Operation = ScaleIn
	}

	if _, err := RunActivity(runner, a.UpdateStatus(), UpdateStatusInput{
		DeploymentID: dep.ID,
		Status:       StatusCompleted,
		Resources:    manifest,
	}); err != nil {
		return ScaleResult{}, err
	}

	result.Status = StatusCompleted
	result.CurrentCount = len(manifest.GroupVMs(group))
	return result, nil
}

// scaleOut creates delta VMs from the group spec and waits for all of
// them to come up. On any failure it deletes the VMs this call created
// and returns the cause; manifest reflects survivors either way.
func (w *ScaleWorkflow) scaleOut(runner DurableRunner, id DeploymentID, region string, spec VMGroupSpec, manifest *ResourceManifest, delta int) ([]string, error) {
	a := w.Activities

	creates := make([]CreateVMInput, delta)
	for i := 0; i < delta; i++ {
		creates[i] = CreateVMInput{
			DeploymentID: id,
			Name:         VMName(id, spec.Name, manifest.Serial+i),
			Group:        spec.Name,
			Flavor:       spec.Flavor,
			Image:        spec.Image,
			NetworkID:    manifest.NetworkID,
			Region:       region,
		}
	}
	manifest.Serial += delta

	outs, err := RunActivityAll(runner, a.CreateVM(), creates)
	var created []string
	for i, out := range outs {
		if out.VMID != "" {
			manifest.AppendVMs(VMResource{ID: out.VMID, Name: creates[i].Name, Group: creates[i].Group})
			created = append(created, out.VMID)
		}
	}
	if err != nil {
		w.rollbackCreated(runner, id, manifest, created)
		return created, err
	}

	polls := make([]PollVMInput, len(created))
	for i, vmID := range created {
		polls[i] = PollVMInput{DeploymentID: id, VMID: vmID}
	}
	pollOuts, err := RunActivityAll(runner, a.PollVMActive(), polls)
	for i, out := range pollOuts {
		if out.IP == "" {
			continue
		}
		for j := range manifest.VMs {
			if manifest.VMs[j].ID == created[i] {
				manifest.VMs[j].IP = out.IP
			}
		}
	}
	if err != nil {
		w.rollbackCreated(runner, id, manifest, created)
		return created, err
	}

	return created, nil
}

// rollbackCreated removes only the VMs this scale run created, pruning
// the ones the backend confirms from the manifest.
func (w *ScaleWorkflow) rollbackCreated(runner DurableRunner, id DeploymentID, manifest *ResourceManifest, created []string) {
	if len(created) == 0 {
		return
	}
	deletes := make([]PollVMInput, len(created))
	for i, vmID := range created {
		deletes[i] = PollVMInput{DeploymentID: id, VMID: vmID}
	}
	outs, _ := RunActivityAll(runner, w.Activities.DeleteVM(), deletes)
	for _, out := range outs {
		if out.VMID != "" {
			manifest.RemoveVM(out.VMID)
		}
	}
}

// scaleIn deletes the n most recently created VMs of the group, pruning
// confirmed removals. Failed deletions keep their VMs in the manifest.
func (w *ScaleWorkflow) scaleIn(runner DurableRunner, id DeploymentID, group string, manifest *ResourceManifest, n int) ([]string, error) {
	victims := manifest.ScaleInVictims(group, n)
	deletes := make([]PollVMInput, len(victims))
	for i, vm := range victims {
		deletes[i] = PollVMInput{DeploymentID: id, VMID: vm.ID}
	}
	outs, err := RunActivityAll(runner, w.Activities.DeleteVM(), deletes)
	var removed []string
	for _, out := range outs {
		if out.VMID != "" {
			manifest.RemoveVM(out.VMID)
			removed = append(removed, out.VMID)
		}
	}
	return removed, err
}

// fail persists FAILED with whatever the manifest now holds. Scale
// failures never touch resources from before the run.
func (w *ScaleWorkflow) fail(runner DurableRunner, id DeploymentID, activity string, cause error, manifest *ResourceManifest, result *ScaleResult) (ScaleResult, error) {
	failure := NewFailureInfo(activity, cause)

	update := UpdateStatusInput{
		DeploymentID: id,
		Status:       StatusFailed,
		Failure:      failure,
	}
	if manifest != nil {
		update.Resources = manifest
	}
	if _, err := RunActivity(runner, w.Activities.UpdateStatus(), update); err != nil {
		return ScaleResult{}, err
	}

	out := ScaleResult{DeploymentID: id, Status: StatusFailed, Failure: failure}
	if result != nil {
		out = *result
		out.Status = StatusFailed
		out.Failure = failure
	}
	return out, nil
}
