package domain

// DeleteInput starts a delete workflow run. CleanupOrphans additionally
// sweeps backend resources tagged with the deployment id that the
// manifest lost track of; it is off by default because the sweep trusts
// backend tags over the record.
type DeleteInput struct {
	DeploymentID   DeploymentID
	CleanupOrphans bool
}

// DeleteResult is the terminal outcome of a delete run.
type DeleteResult struct {
	DeploymentID DeploymentID
	Status       DeploymentStatus
	Failure      *FailureInfo
}

// DeleteWorkflow tears a deployment down: VMs concurrently, then a
// barrier until the backend confirms they are gone, then the network.
// Confirmed removals are pruned from the manifest and persisted
// mid-workflow, so a re-invoked delete never re-issues them and a
// failed delete leaves an accurate picture of what survived.
type DeleteWorkflow struct {
	Activities *Activities
}

func (w *DeleteWorkflow) Name() string { return "delete" }

func (w *DeleteWorkflow) Run(runner DurableRunner, in DeleteInput) (DeleteResult, error) {
	a := w.Activities

	dep, err := RunActivity(runner, a.BeginOperation(), BeginOperationInput{
		DeploymentID: in.DeploymentID,
		Op:           OpDelete,
	})
	if err != nil {
		return DeleteResult{}, err
	}

	manifest := dep.Resources.Clone()
	if manifest == nil {
		manifest = &ResourceManifest{}
	}

	if len(manifest.VMs) > 0 {
		deletes := make([]PollVMInput, len(manifest.VMs))
		for i, vm := range manifest.VMs {
			deletes[i] = PollVMInput{DeploymentID: dep.ID, VMID: vm.ID}
		}
		outs, delErr := RunActivityAll(runner, a.DeleteVM(), deletes)

		var removed []string
		for _, out := range outs {
			if out.VMID != "" {
				manifest.RemoveVM(out.VMID)
				removed = append(removed, out.VMID)
			}
		}
		if _, err := RunActivity(runner, a.UpdateStatus(), UpdateStatusInput{
			DeploymentID: dep.ID,
			Status:       StatusDeleting,
			Resources:    manifest,
		}); err != nil {
			return DeleteResult{}, err
		}
		if delErr != nil {
			return w.fail(runner, dep.ID, "delete-vm", delErr, manifest)
		}

		gones := make([]PollVMInput, len(removed))
		for i, id := range removed {
			gones[i] = PollVMInput{DeploymentID: dep.ID, VMID: id}
		}
		if _, err := RunActivityAll(runner, a.PollVMGone(), gones); err != nil {
			return w.fail(runner, dep.ID, "poll-vm-gone", err, manifest)
		}
	}

	if manifest.NetworkID != "" {
		if _, err := RunActivity(runner, a.DeleteNetwork(), DeleteNetworkInput{
			DeploymentID: dep.ID,
			NetworkID:    manifest.NetworkID,
		}); err != nil {
			return w.fail(runner, dep.ID, "delete-network", err, manifest)
		}
		manifest.NetworkID = ""
		manifest.SubnetIDs = nil
		manifest.RouterID = ""
	}

	if in.CleanupOrphans {
		if _, err := RunActivity(runner, a.CleanupOrphans(), CleanupOrphansInput{
			DeploymentID: dep.ID,
		}); err != nil {
			return w.fail(runner, dep.ID, "cleanup-orphans", err, manifest)
		}
	}

	if _, err := RunActivity(runner, a.UpdateStatus(), UpdateStatusInput{
		DeploymentID:   dep.ID,
		Status:         StatusDeleted,
		ClearResources: true,
		MarkDeleted:    true,
	}); err != nil {
		return DeleteResult{}, err
	}

	return DeleteResult{DeploymentID: dep.ID, Status: StatusDeleted}, nil
}

// fail records the failure with the pruned manifest, so the next delete
// attempt picks up exactly where this one stopped.
func (w *DeleteWorkflow) fail(runner DurableRunner, id DeploymentID, activity string, cause error, manifest *ResourceManifest) (DeleteResult, error) {
	failure := NewFailureInfo(activity, cause)

	update := UpdateStatusInput{
		DeploymentID: id,
		Status:       StatusFailed,
		Failure:      failure,
	}
	if manifest.Empty() {
		update.ClearResources = true
	} else {
		update.Resources = manifest
	}
	if _, err := RunActivity(runner, w.Activities.UpdateStatus(), update); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{DeploymentID: id, Status: StatusFailed, Failure: failure}, nil
}
