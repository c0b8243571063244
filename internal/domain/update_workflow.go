package domain

// UpdateInput starts an update workflow run.
type UpdateInput struct {
	DeploymentID DeploymentID
	Diff         UpdateDiff
}

// UpdateResult is the terminal outcome of an update run. Applied lists
// the fields whose mutations took effect, which matters most when the
// overall status is FAILED.
type UpdateResult struct {
	DeploymentID DeploymentID
	Status       DeploymentStatus
	Applied      []string
	Failure      *FailureInfo
}

// Update mutation field labels.
const (
	FieldFlavor      = "flavor"
	FieldNetworkCIDR = "network_cidr"
)

// UpdateWorkflow applies in-place mutations to live infrastructure:
// flavor resizes fan out across every VM, a CIDR change replaces the
// deployment subnet. Mutations are best-effort per field; failures are
// collected per mutation and applied mutations persist even when the
// record ends FAILED. With Transactional set, any failure reverts the
// mutations that had already been applied.
type UpdateWorkflow struct {
	Activities    *Activities
	Transactional bool
}

func (w *UpdateWorkflow) Name() string { return "update" }

func (w *UpdateWorkflow) Run(runner DurableRunner, in UpdateInput) (UpdateResult, error) {
	a := w.Activities

	dep, err := RunActivity(runner, a.BeginOperation(), BeginOperationInput{
		DeploymentID: in.DeploymentID,
		Op:           OpUpdate,
	})
	if err != nil {
		return UpdateResult{}, err
	}

	manifest := dep.Resources.Clone()
	if manifest == nil {
		manifest = &ResourceManifest{}
	}

	tpl, err := dep.EffectiveTemplate()
	if err != nil {
		return w.fail(runner, dep.ID, NewFailureInfo("begin-operation", err), manifest, nil)
	}

	var (
		applied   []string
		mutations []MutationFailure
		causes    []error
	)

	var resized []string
	if in.Diff.Flavor != "" && len(manifest.VMs) > 0 {
		resizes := make([]ResizeVMInput, len(manifest.VMs))
		for i, vm := range manifest.VMs {
			resizes[i] = ResizeVMInput{DeploymentID: dep.ID, VMID: vm.ID, Flavor: in.Diff.Flavor}
		}
		outs, err := RunActivityAll(runner, a.ResizeVM(), resizes)
		for i, out := range outs {
			if out.VMID != "" {
				resized = append(resized, out.VMID)
				continue
			}
			mutations = append(mutations, MutationFailure{
				Field:    FieldFlavor,
				Resource: manifest.VMs[i].ID,
				Message:  "resize to " + in.Diff.Flavor + " failed",
			})
		}
		if err != nil {
			causes = append(causes, err)
		} else {
			applied = append(applied, FieldFlavor)
		}
	}

	replacedSubnet := ""
	if in.Diff.NetworkCIDR != "" && manifest.NetworkID != "" {
		oldSubnet := ""
		if len(manifest.SubnetIDs) > 0 {
			oldSubnet = manifest.SubnetIDs[0]
		}
		out, err := RunActivity(runner, a.ReplaceSubnet(), ReplaceSubnetInput{
			DeploymentID: dep.ID,
			NetworkID:    manifest.NetworkID,
			SubnetID:     oldSubnet,
			CIDR:         in.Diff.NetworkCIDR,
		})
		if err != nil {
			mutations = append(mutations, MutationFailure{
				Field:    FieldNetworkCIDR,
				Resource: manifest.NetworkID,
				Message:  err.Error(),
			})
			causes = append(causes, err)
		} else {
			replacedSubnet = out.SubnetID
			manifest.SubnetIDs = []string{out.SubnetID}
			applied = append(applied, FieldNetworkCIDR)
		}
	}

	if len(mutations) == 0 {
		params := dep.Parameters
		if in.Diff.Flavor != "" {
			// Persist the override so later scale-outs clone the new flavor.
			params.Flavor = in.Diff.Flavor
		}
		if _, err := RunActivity(runner, a.UpdateStatus(), UpdateStatusInput{
			DeploymentID: dep.ID,
			Status:       StatusCompleted,
			Resources:    manifest,
			Parameters:   &params,
		}); err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{DeploymentID: dep.ID, Status: StatusCompleted, Applied: applied}, nil
	}

	failure := NewFailureInfo("update-mutations", JoinErrors(causes))
	failure.Mutations = mutations

	if w.Transactional {
		reverted := w.revert(runner, dep.ID, tpl, manifest, resized, replacedSubnet)
		failure.RollbackComplete = &reverted
		if reverted {
			applied = nil
		}
	}

	return w.fail(runner, dep.ID, failure, manifest, applied)
}

// revert undoes applied mutations after a partial failure: resized VMs
// return to their group's flavor and a replaced subnet returns to the
// template CIDR. Reports whether every revert took.
func (w *UpdateWorkflow) revert(runner DurableRunner, id DeploymentID, tpl Template, manifest *ResourceManifest, resized []string, replacedSubnet string) bool {
	a := w.Activities
	ok := true

	if len(resized) > 0 {
		flavorOf := make(map[string]string, len(manifest.VMs))
		for _, vm := range manifest.VMs {
			if spec, err := tpl.Group(vm.Group); err == nil {
				flavorOf[vm.ID] = spec.Flavor
			}
		}
		reverts := make([]ResizeVMInput, 0, len(resized))
		for _, vmID := range resized {
			if flavor := flavorOf[vmID]; flavor != "" {
				reverts = append(reverts, ResizeVMInput{DeploymentID: id, VMID: vmID, Flavor: flavor})
			}
		}
		if _, err := RunActivityAll(runner, a.ResizeVM(), reverts); err != nil {
			ok = false
		}
	}

	if replacedSubnet != "" {
		out, err := RunActivity(runner, a.ReplaceSubnet(), ReplaceSubnetInput{
			DeploymentID: id,
			NetworkID:    manifest.NetworkID,
			SubnetID:     replacedSubnet,
			CIDR:         tpl.Network.CIDR,
		})
		if err != nil {
			ok = false
		} else {
			manifest.SubnetIDs = []string{out.SubnetID}
		}
	}

	return ok
}

func (w *UpdateWorkflow) fail(runner DurableRunner, id DeploymentID, failure *FailureInfo, manifest *ResourceManifest, applied []string) (UpdateResult, error) {
	update := UpdateStatusInput{
		DeploymentID: id,
		Status:       StatusFailed,
		Failure:      failure,
	}
	if !manifest.Empty() {
		update.Resources = manifest
	}
	if _, err := RunActivity(runner, w.Activities.UpdateStatus(), update); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{DeploymentID: id, Status: StatusFailed, Applied: applied, Failure: failure}, nil
}
