package domain

// DeployInput starts a deploy workflow run.
type DeployInput struct {
	DeploymentID DeploymentID
}

// DeployResult is the terminal outcome of a deploy run. Domain failures
// land in Failure with the record marked FAILED; the workflow error is
// reserved for claims that never started work and for record-store
// failures.
type DeployResult struct {
	DeploymentID DeploymentID
	Status       DeploymentStatus
	Resources    *ResourceManifest
	Failure      *FailureInfo
}

// DeployWorkflow provisions a deployment's stack: the network first, then
// every VM concurrently, then a barrier until all VMs report ACTIVE.
// Deploys are all-or-nothing: any permanent failure tears down everything
// this run created before the record is marked FAILED.
type DeployWorkflow struct {
	Activities *Activities
}

func (w *DeployWorkflow) Name() string { return "deploy" }

func (w *DeployWorkflow) Run(runner DurableRunner, in DeployInput) (DeployResult, error) {
	a := w.Activities

	dep, err := RunActivity(runner, a.BeginOperation(), BeginOperationInput{
		DeploymentID: in.DeploymentID,
		Op:           OpDeploy,
	})
	if err != nil {
		return DeployResult{}, err
	}

	tpl, err := dep.EffectiveTemplate()
	if err != nil {
		// Nothing provisioned yet; fail the record without a teardown.
		return w.fail(runner, dep.ID, "begin-operation", err, &ResourceManifest{})
	}

	manifest := &ResourceManifest{}

	netOut, err := RunActivity(runner, a.CreateNetwork(), CreateNetworkInput{
		DeploymentID: dep.ID,
		Name:         NetworkName(dep.ID),
		SubnetName:   SubnetName(dep.ID),
		CIDR:         tpl.Network.CIDR,
		Region:       dep.CloudRegion,
		AttachRouter: tpl.Network.AttachRouter,
	})
	if err != nil {
		return w.fail(runner, dep.ID, "create-network", err, manifest)
	}
	manifest.NetworkID = netOut.NetworkID
	manifest.SubnetIDs = netOut.SubnetIDs
	manifest.RouterID = netOut.RouterID

	var creates []CreateVMInput
	for _, g := range tpl.VMGroups {
		for i := 0; i < g.Count; i++ {
			creates = append(creates, CreateVMInput{
				DeploymentID: dep.ID,
				Name:         VMName(dep.ID, g.Name, manifest.Serial+i),
				Group:        g.Name,
				Flavor:       g.Flavor,
				Image:        g.Image,
				NetworkID:    manifest.NetworkID,
				Region:       dep.CloudRegion,
			})
		}
		manifest.Serial += g.Count
	}

	vmOuts, err := RunActivityAll(runner, a.CreateVM(), creates)
	for i, out := range vmOuts {
		if out.VMID != "" {
			manifest.AppendVMs(VMResource{ID: out.VMID, Name: creates[i].Name, Group: creates[i].Group})
		}
	}
	if err != nil {
		return w.fail(runner, dep.ID, "create-vm", err, manifest)
	}

	polls := make([]PollVMInput, len(manifest.VMs))
	for i, vm := range manifest.VMs {
		polls[i] = PollVMInput{DeploymentID: dep.ID, VMID: vm.ID}
	}
	pollOuts, err := RunActivityAll(runner, a.PollVMActive(), polls)
	for i, out := range pollOuts {
		manifest.VMs[i].IP = out.IP
	}
	if err != nil {
		return w.fail(runner, dep.ID, "poll-vm-active", err, manifest)
	}

	if _, err := RunActivity(runner, a.UpdateStatus(), UpdateStatusInput{
		DeploymentID: dep.ID,
		Status:       StatusCompleted,
		Resources:    manifest,
	}); err != nil {
		return DeployResult{}, err
	}

	return DeployResult{DeploymentID: dep.ID, Status: StatusCompleted, Resources: manifest}, nil
}

// fail tears down this run's resources and records the failure. Teardown
// is best-effort: anything that refuses to die stays in the manifest for
// a later delete, and RollbackComplete tells callers which case they got.
func (w *DeployWorkflow) fail(runner DurableRunner, id DeploymentID, activity string, cause error, manifest *ResourceManifest) (DeployResult, error) {
	a := w.Activities
	remaining, complete := w.rollback(runner, id, manifest)

	failure := NewFailureInfo(activity, cause)
	failure.RollbackComplete = &complete

	update := UpdateStatusInput{
		DeploymentID: id,
		Status:       StatusFailed,
		Failure:      failure,
	}
	if remaining.Empty() {
		update.ClearResources = true
	} else {
		update.Resources = remaining
	}
	if _, err := RunActivity(runner, a.UpdateStatus(), update); err != nil {
		return DeployResult{}, err
	}

	result := DeployResult{DeploymentID: id, Status: StatusFailed, Failure: failure}
	if !remaining.Empty() {
		result.Resources = remaining
	}
	return result, nil
}

// rollback deletes tracked VMs concurrently, sweeps tagged resources the
// manifest never captured (a create that timed out after the backend
// accepted it), and finally removes the network. Returns the surviving
// manifest and whether everything is gone.
func (w *DeployWorkflow) rollback(runner DurableRunner, id DeploymentID, manifest *ResourceManifest) (*ResourceManifest, bool) {
	a := w.Activities
	remaining := manifest.Clone()

	if len(remaining.VMs) > 0 {
		deletes := make([]PollVMInput, len(remaining.VMs))
		for i, vm := range remaining.VMs {
			deletes[i] = PollVMInput{DeploymentID: id, VMID: vm.ID}
		}
		outs, _ := RunActivityAll(runner, a.DeleteVM(), deletes)
		for _, out := range outs {
			if out.VMID != "" {
				remaining.RemoveVM(out.VMID)
			}
		}
	}

	sweep := CleanupOrphansInput{DeploymentID: id}
	if remaining.NetworkID != "" {
		sweep.KeepNetworkIDs = []string{remaining.NetworkID}
	}
	for _, vm := range remaining.VMs {
		sweep.KeepVMIDs = append(sweep.KeepVMIDs, vm.ID)
	}
	_, sweepErr := RunActivity(runner, a.CleanupOrphans(), sweep)

	if remaining.NetworkID != "" && len(remaining.VMs) == 0 {
		if _, err := RunActivity(runner, a.DeleteNetwork(), DeleteNetworkInput{
			DeploymentID: id,
			NetworkID:    remaining.NetworkID,
		}); err == nil {
			remaining.NetworkID = ""
			remaining.SubnetIDs = nil
			remaining.RouterID = ""
		}
	}

	return remaining, remaining.Empty() && sweepErr == nil
}
