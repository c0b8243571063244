package domain_test

import (
	"errors"
	"testing"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

func TestDeploy_ProvisionsNetworkThenVMsAndCompletes(t *testing.T) {
	env := newTestEnv()
	env.createPending(t, "d1", "web", 2)
	wf := &domain.DeployWorkflow{Activities: env.activities}
	runner := env.runner()

	res, err := wf.Run(runner, domain.DeployInput{DeploymentID: "d1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("Status = %q, failure = %+v", res.Status, res.Failure)
	}
	if res.Resources == nil || res.Resources.NetworkID == "" {
		t.Fatalf("Resources = %+v, want a network", res.Resources)
	}
	if len(res.Resources.VMs) != 2 {
		t.Fatalf("VMs = %d, want 2", len(res.Resources.VMs))
	}
	for _, vm := range res.Resources.VMs {
		if vm.IP == "" {
			t.Errorf("vm %s has no IP after deploy", vm.ID)
		}
	}
	if res.Resources.Serial != 2 {
		t.Errorf("Serial = %d, want 2", res.Resources.Serial)
	}

	// The network must exist before any VM is requested on it.
	netAt := runner.firstIndex("create-network")
	vmAt := runner.firstIndex("create-vm")
	if netAt < 0 || vmAt < 0 || netAt > vmAt {
		t.Errorf("create-network at %d, create-vm at %d; network must come first", netAt, vmAt)
	}

	got := env.deployment(t, "d1")
	if got.Status != domain.StatusCompleted {
		t.Errorf("persisted status = %q, want COMPLETED", got.Status)
	}
	if got.Resources == nil || len(got.Resources.VMs) != 2 {
		t.Errorf("persisted Resources = %+v, want 2 VMs", got.Resources)
	}
	if env.cloud.serverCount() != 2 || env.cloud.networkCount() != 1 {
		t.Errorf("backend holds %d servers and %d networks, want 2 and 1",
			env.cloud.serverCount(), env.cloud.networkCount())
	}
}

func TestDeploy_VMNamesCarryDeploymentGroupAndOrdinal(t *testing.T) {
	env := newTestEnv()
	env.createPending(t, "d1", "web", 2)
	wf := &domain.DeployWorkflow{Activities: env.activities}
	runner := env.runner()

	if _, err := wf.Run(runner, domain.DeployInput{DeploymentID: "d1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]bool{"d1-web-0": false, "d1-web-1": false}
	for _, rec := range runner.records {
		if rec.Name == "create-vm" {
			if _, ok := want[rec.VMName]; !ok {
				t.Errorf("unexpected vm name %q", rec.VMName)
			}
			want[rec.VMName] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("vm name %q never requested", name)
		}
	}
}

func TestDeploy_NetworkQuotaFailsBeforeAnyVM(t *testing.T) {
	env := newTestEnv()
	env.createPending(t, "d1", "web", 2)
	env.cloud.failCreateNetwork(domain.NewQuotaError("create-network", "network quota exceeded", nil))
	wf := &domain.DeployWorkflow{Activities: env.activities}
	runner := env.runner()

	res, err := wf.Run(runner, domain.DeployInput{DeploymentID: "d1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want FAILED", res.Status)
	}
	if res.Failure == nil || res.Failure.Kind != domain.FailureQuotaExceeded {
		t.Fatalf("Failure = %+v, want quota_exceeded", res.Failure)
	}
	if res.Failure.Activity != "create-network" {
		t.Errorf("Failure.Activity = %q, want create-network", res.Failure.Activity)
	}
	if res.Failure.RollbackComplete == nil || !*res.Failure.RollbackComplete {
		t.Errorf("RollbackComplete = %v, want true", res.Failure.RollbackComplete)
	}
	if runner.count("create-vm") != 0 {
		t.Errorf("create-vm ran %d times after network failure, want 0", runner.count("create-vm"))
	}
	if env.cloud.serverCount() != 0 {
		t.Errorf("backend holds %d servers, want 0", env.cloud.serverCount())
	}

	got := env.deployment(t, "d1")
	if got.Status != domain.StatusFailed {
		t.Errorf("persisted status = %q, want FAILED", got.Status)
	}
	if !got.Resources.Empty() {
		t.Errorf("persisted Resources = %+v, want empty", got.Resources)
	}
}

func TestDeploy_VMFailureTearsDownEverythingCreated(t *testing.T) {
	env := newTestEnv()
	env.createPending(t, "d1", "web", 3)
	env.cloud.failCreateServer("d1-web-1", domain.NewQuotaError("create-server", "instance quota exceeded", nil))
	wf := &domain.DeployWorkflow{Activities: env.activities}
	runner := env.runner()

	res, err := wf.Run(runner, domain.DeployInput{DeploymentID: "d1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want FAILED", res.Status)
	}
	if res.Failure.Kind != domain.FailureQuotaExceeded || res.Failure.Activity != "create-vm" {
		t.Fatalf("Failure = %+v, want quota_exceeded at create-vm", res.Failure)
	}
	if res.Failure.RollbackComplete == nil || !*res.Failure.RollbackComplete {
		t.Errorf("RollbackComplete = %v, want true", res.Failure.RollbackComplete)
	}

	// All-or-nothing: the two VMs that did come up and the network are gone.
	if env.cloud.serverCount() != 0 || env.cloud.networkCount() != 0 {
		t.Errorf("backend holds %d servers and %d networks after rollback, want none",
			env.cloud.serverCount(), env.cloud.networkCount())
	}
	if runner.firstIndex("delete-vm") < 0 || runner.firstIndex("delete-network") < 0 {
		t.Error("rollback must delete VMs and the network")
	}

	got := env.deployment(t, "d1")
	if got.Status != domain.StatusFailed {
		t.Errorf("persisted status = %q, want FAILED", got.Status)
	}
	if !got.Resources.Empty() {
		t.Errorf("persisted Resources = %+v, want empty after full rollback", got.Resources)
	}
}

func TestDeploy_VMErrorStateFailsAsResourceError(t *testing.T) {
	env := newTestEnv()
	env.createPending(t, "d1", "web", 1)
	env.cloud.serverStatus["d1-web-0"] = domain.ServerStatusError
	wf := &domain.DeployWorkflow{Activities: env.activities}

	res, err := wf.Run(env.runner(), domain.DeployInput{DeploymentID: "d1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want FAILED", res.Status)
	}
	if res.Failure.Kind != domain.FailureResource || res.Failure.Activity != "poll-vm-active" {
		t.Fatalf("Failure = %+v, want resource_error at poll-vm-active", res.Failure)
	}
	if env.cloud.serverCount() != 0 || env.cloud.networkCount() != 0 {
		t.Errorf("backend holds %d servers and %d networks after rollback, want none",
			env.cloud.serverCount(), env.cloud.networkCount())
	}
}

func TestDeploy_SlowVMBecomesActiveWithinDeadline(t *testing.T) {
	env := newTestEnv()
	env.createPending(t, "d1", "web", 1)
	env.cloud.buildPolls["d1-web-0"] = 3
	wf := &domain.DeployWorkflow{Activities: env.activities}

	res, err := wf.Run(env.runner(), domain.DeployInput{DeploymentID: "d1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("Status = %q, failure = %+v", res.Status, res.Failure)
	}
	if res.Resources.VMs[0].IP == "" {
		t.Error("IP not learned from the ACTIVE poll")
	}
}

func TestDeploy_SecondDeployOnCompletedConflicts(t *testing.T) {
	env := newTestEnv()
	env.seedDeployed(t, "d1", "web", 1)
	wf := &domain.DeployWorkflow{Activities: env.activities}

	_, err := wf.Run(env.runner(), domain.DeployInput{DeploymentID: "d1"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Run: got %v, want ErrConflict", err)
	}

	got := env.deployment(t, "d1")
	if got.Status != domain.StatusCompleted {
		t.Errorf("status after refused claim = %q, want COMPLETED untouched", got.Status)
	}
	if env.cloud.serverCount() != 1 {
		t.Errorf("backend servers = %d, want 1 untouched", env.cloud.serverCount())
	}
}

func TestDeploy_UnknownDeploymentFails(t *testing.T) {
	env := newTestEnv()
	wf := &domain.DeployWorkflow{Activities: env.activities}

	_, err := wf.Run(env.runner(), domain.DeployInput{DeploymentID: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Run: got %v, want ErrNotFound", err)
	}
}
