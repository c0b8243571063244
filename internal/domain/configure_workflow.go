package domain

import (
	"fmt"
	"strings"
	"time"
)

// ConfigureInput starts a configure workflow run. Limit optionally
// narrows the playbook to a host pattern within the deployment's
// inventory.
type ConfigureInput struct {
	DeploymentID DeploymentID
	Playbook     string
	ExtraVars    map[string]string
	Limit        string
}

// ConfigureResult is the terminal outcome of a configure run.
type ConfigureResult struct {
	DeploymentID    DeploymentID
	Status          DeploymentStatus
	ExecutionID     string
	ConfiguredHosts []string
	Failure         *FailureInfo
}

// Metadata keys stamped by successful configure runs.
const (
	MetadataLastConfiguredAt = "last_configured_at"
	MetadataConfiguredHosts  = "configured_hosts"
)

// ConfigureWorkflow runs one playbook against every VM address in the
// manifest. Configuration never mutates infrastructure: success stamps
// metadata, failure records the execution id and exit code, and the
// manifest is left untouched in both cases.
type ConfigureWorkflow struct {
	Activities *Activities
}

func (w *ConfigureWorkflow) Name() string { return "configure" }

func (w *ConfigureWorkflow) Run(runner DurableRunner, in ConfigureInput) (ConfigureResult, error) {
	a := w.Activities

	dep, err := RunActivity(runner, a.BeginOperation(), BeginOperationInput{
		DeploymentID: in.DeploymentID,
		Op:           OpConfigure,
	})
	if err != nil {
		return ConfigureResult{}, err
	}

	hosts := dep.Resources.IPs()
	if len(hosts) == 0 {
		return w.fail(runner, dep.ID, NewFailureInfo("run-playbook",
			fmt.Errorf("%w: deployment has no VM addresses to configure", ErrInvalidArgument)))
	}

	out, err := RunActivity(runner, a.RunPlaybook(), RunPlaybookInput{
		DeploymentID: dep.ID,
		Playbook:     in.Playbook,
		Hosts:        hosts,
		ExtraVars:    in.ExtraVars,
		Limit:        in.Limit,
	})
	if err != nil {
		return w.fail(runner, dep.ID, NewFailureInfo("run-playbook", err))
	}

	if out.Result.Status != PlaybookSuccessful {
		kind := FailureResource
		if out.Result.Status == PlaybookTimedOut {
			kind = FailureTimeout
		}
		failure := &FailureInfo{
			Activity:    "run-playbook",
			Kind:        kind,
			Message:     out.Result.Message,
			ExecutionID: out.Result.ExecutionID,
			ExitCode:    out.Result.ExitCode,
		}
		res, err := w.fail(runner, dep.ID, failure)
		res.ExecutionID = out.Result.ExecutionID
		return res, err
	}

	if _, err := RunActivity(runner, a.UpdateStatus(), UpdateStatusInput{
		DeploymentID: dep.ID,
		Status:       StatusCompleted,
		Metadata: map[string]string{
			MetadataLastConfiguredAt: out.FinishedAt.UTC().Format(time.RFC3339),
			MetadataConfiguredHosts:  strings.Join(hosts, ","),
		},
	}); err != nil {
		return ConfigureResult{}, err
	}

	return ConfigureResult{
		DeploymentID:    dep.ID,
		Status:          StatusCompleted,
		ExecutionID:     out.Result.ExecutionID,
		ConfiguredHosts: hosts,
	}, nil
}

func (w *ConfigureWorkflow) fail(runner DurableRunner, id DeploymentID, failure *FailureInfo) (ConfigureResult, error) {
	if _, err := RunActivity(runner, w.Activities.UpdateStatus(), UpdateStatusInput{
		DeploymentID: id,
		Status:       StatusFailed,
		Failure:      failure,
	}); err != nil {
		return ConfigureResult{}, err
	}
	return ConfigureResult{DeploymentID: id, Status: StatusFailed, Failure: failure}, nil
}
