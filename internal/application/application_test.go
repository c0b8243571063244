package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sugu-Inc/modern-onap-so/internal/application"
	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/cloudsim"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/sqlite"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/syncworkflow"
)

type testHarness struct {
	service     *application.DeploymentService
	deployments domain.DeploymentRepository
	runs        domain.ConfigurationRunRepository
	cloud       *cloudsim.Cloud
	playbooks   *cloudsim.PlaybookSim
}

func setup(t *testing.T) testHarness {
	t.Helper()
	db := sqlite.OpenTestDB(t)

	deploymentRepo := &sqlite.DeploymentRepo{DB: db}
	runRepo := &sqlite.ConfigurationRunRepo{DB: db}
	cloud := cloudsim.New()
	playbooks := &cloudsim.PlaybookSim{}

	acts := &domain.Activities{
		Deployments: deploymentRepo,
		Runs:        runRepo,
		Compute:     cloud,
		Network:     cloud,
		Config:      playbooks,
		Retry:       domain.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Factor: 2, MaxDelay: time.Millisecond},
		Timeouts: domain.Timeouts{
			Backend:      time.Second,
			PollInterval: time.Millisecond,
			VMActive:     100 * time.Millisecond,
			VMGone:       100 * time.Millisecond,
			Playbook:     time.Second,
		},
		Log: zerolog.Nop(),
	}

	runners, err := application.BuildRunners(&syncworkflow.Engine{}, acts, application.Options{})
	if err != nil {
		t.Fatalf("BuildRunners: %v", err)
	}

	return testHarness{
		service: &application.DeploymentService{
			Deployments: deploymentRepo,
			Runs:        runRepo,
			Runners:     runners,
			Activities:  acts,
			Log:         zerolog.Nop(),
		},
		deployments: deploymentRepo,
		runs:        runRepo,
		cloud:       cloud,
		playbooks:   playbooks,
	}
}

func webTemplate(count int) domain.Template {
	return domain.Template{
		Network: domain.NetworkSpec{CIDR: "192.168.1.0/24", AttachRouter: true},
		VMGroups: []domain.VMGroupSpec{
			{Name: "web", Flavor: "m1.small", Image: "ubuntu-22.04", Count: count},
		},
	}
}

func deploy(t *testing.T, h testHarness, id domain.DeploymentID, count int) domain.DeployResult {
	t.Helper()
	_, handle, err := h.service.StartDeploy(context.Background(), application.CreateDeploymentInput{
		ID:          id,
		Template:    webTemplate(count),
		CloudRegion: "region-one",
	})
	if err != nil {
		t.Fatalf("StartDeploy: %v", err)
	}
	res, err := handle.AwaitResult(context.Background())
	if err != nil {
		t.Fatalf("deploy AwaitResult: %v", err)
	}
	return res
}

func TestStartDeploy_ProvisionsAndCompletes(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	res := deploy(t, h, "d1", 2)
	if res.Status != domain.StatusCompleted {
		t.Fatalf("Status = %q, want COMPLETED (failure: %+v)", res.Status, res.Failure)
	}

	got, err := h.service.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Errorf("persisted Status = %q, want COMPLETED", got.Status)
	}
	if got.Resources == nil || len(got.Resources.VMs) != 2 {
		t.Fatalf("Resources = %+v, want 2 VMs", got.Resources)
	}
	if h.cloud.ServerCount() != 2 || h.cloud.NetworkCount() != 1 {
		t.Errorf("cloud holds %d servers / %d networks, want 2 / 1",
			h.cloud.ServerCount(), h.cloud.NetworkCount())
	}
}

func TestStartDeploy_GeneratesIDAndName(t *testing.T) {
	h := setup(t)

	d, handle, err := h.service.StartDeploy(context.Background(), application.CreateDeploymentInput{
		Template: webTemplate(1),
	})
	if err != nil {
		t.Fatalf("StartDeploy: %v", err)
	}
	if d.ID == "" {
		t.Fatal("generated ID is empty")
	}
	if d.Name != string(d.ID) {
		t.Errorf("Name = %q, want the id %q", d.Name, d.ID)
	}
	if _, err := handle.AwaitResult(context.Background()); err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
}

func TestStartDeploy_InvalidTemplateRejected(t *testing.T) {
	h := setup(t)

	tpl := webTemplate(1)
	tpl.Network.CIDR = "not-a-cidr"
	_, _, err := h.service.StartDeploy(context.Background(), application.CreateDeploymentInput{
		ID:       "d1",
		Template: tpl,
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("StartDeploy: got %v, want ErrInvalidArgument", err)
	}
	if _, err := h.service.Get(context.Background(), "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("rejected deploy persisted a record: %v", err)
	}
}

func TestStartDeploy_DuplicateIDRejected(t *testing.T) {
	h := setup(t)

	deploy(t, h, "d1", 1)
	_, _, err := h.service.StartDeploy(context.Background(), application.CreateDeploymentInput{
		ID:       "d1",
		Template: webTemplate(1),
	})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("StartDeploy: got %v, want ErrAlreadyExists", err)
	}
}

func TestStartScale_ValidatesTargetBounds(t *testing.T) {
	h := setup(t)
	deploy(t, h, "d1", 1)

	for _, target := range []int{0, -1, domain.MaxVMsPerGroup + 1} {
		_, err := h.service.StartScale(context.Background(), "d1", application.ScaleRequest{TargetCount: target})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("target %d: got %v, want ErrInvalidArgument", target, err)
		}
	}
}

func TestStartScale_GrowsTheGroup(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	deploy(t, h, "d1", 1)

	handle, err := h.service.StartScale(ctx, "d1", application.ScaleRequest{Group: "web", TargetCount: 3})
	if err != nil {
		t.Fatalf("StartScale: %v", err)
	}
	res, err := handle.AwaitResult(ctx)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if res.Status != domain.StatusCompleted || res.CurrentCount != 3 {
		t.Fatalf("scale result = %+v, want COMPLETED with 3 VMs", res)
	}
	if h.cloud.ServerCount() != 3 {
		t.Errorf("cloud holds %d servers, want 3", h.cloud.ServerCount())
	}
}

func TestStartOperations_RefuseWrongStatus(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	deploy(t, h, "d1", 1)

	del, err := h.service.StartDelete(ctx, "d1", application.DeleteOptions{})
	if err != nil {
		t.Fatalf("StartDelete: %v", err)
	}
	if _, err := del.AwaitResult(ctx); err != nil {
		t.Fatalf("delete AwaitResult: %v", err)
	}

	if _, err := h.service.StartScale(ctx, "d1", application.ScaleRequest{TargetCount: 2}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("StartScale on DELETED: got %v, want ErrConflict", err)
	}
	if _, err := h.service.StartConfigure(ctx, "d1", application.ConfigureRequest{Playbook: "site.yml"}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("StartConfigure on DELETED: got %v, want ErrConflict", err)
	}
	if _, err := h.service.StartDelete(ctx, "d1", application.DeleteOptions{}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second StartDelete: got %v, want ErrConflict", err)
	}
}

func TestStartConfigure_RequiresPlaybook(t *testing.T) {
	h := setup(t)
	deploy(t, h, "d1", 1)

	_, err := h.service.StartConfigure(context.Background(), "d1", application.ConfigureRequest{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("StartConfigure: got %v, want ErrInvalidArgument", err)
	}
}

func TestStartDelete_UnknownDeployment(t *testing.T) {
	h := setup(t)
	_, err := h.service.StartDelete(context.Background(), "ghost", application.DeleteOptions{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("StartDelete: got %v, want ErrNotFound", err)
	}
}

func TestConfigurationRuns_ReturnsHistory(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	deploy(t, h, "d1", 1)

	handle, err := h.service.StartConfigure(ctx, "d1", application.ConfigureRequest{Playbook: "site.yml"})
	if err != nil {
		t.Fatalf("StartConfigure: %v", err)
	}
	res, err := handle.AwaitResult(ctx)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("configure result = %+v, want COMPLETED", res)
	}

	runs, err := h.service.ConfigurationRuns(ctx, "d1")
	if err != nil {
		t.Fatalf("ConfigurationRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ExecutionID != res.ExecutionID {
		t.Fatalf("runs = %+v, want the one execution %q", runs, res.ExecutionID)
	}

	if _, err := h.service.ConfigurationRuns(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ConfigurationRuns(ghost): got %v, want ErrNotFound", err)
	}
}

func TestRunOrphanCleanup_SweepsUntrackedResources(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	deploy(t, h, "d1", 1)

	// A stray server tagged for d1 that no manifest accounts for.
	stray, err := h.cloud.CreateServer(ctx, domain.ServerRequest{
		Name: "d1-forgotten",
		Tags: map[string]string{domain.TagDeployment: "d1"},
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	out, err := h.service.RunOrphanCleanup(ctx, "d1")
	if err != nil {
		t.Fatalf("RunOrphanCleanup: %v", err)
	}
	if len(out.DeletedVMIDs) != 1 || out.DeletedVMIDs[0] != stray.ID {
		t.Fatalf("DeletedVMIDs = %v, want [%s]", out.DeletedVMIDs, stray.ID)
	}
	if h.cloud.ServerCount() != 1 {
		t.Errorf("cloud holds %d servers, want the manifest's 1", h.cloud.ServerCount())
	}
}

func TestRunOrphanCleanup_RefusesBusyDeployment(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	deploy(t, h, "d1", 1)

	_, err := h.deployments.Update(ctx, "d1", func(d *domain.Deployment) error {
		d.Status = domain.StatusScaling
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := h.service.RunOrphanCleanup(ctx, "d1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("RunOrphanCleanup: got %v, want ErrConflict", err)
	}
}

func TestLifecycle_EndToEndThroughService(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	deploy(t, h, "d1", 2)

	scale, err := h.service.StartScale(ctx, "d1", application.ScaleRequest{Group: "web", TargetCount: 4})
	if err != nil {
		t.Fatalf("StartScale: %v", err)
	}
	if _, err := scale.AwaitResult(ctx); err != nil {
		t.Fatalf("scale AwaitResult: %v", err)
	}

	update, err := h.service.StartUpdate(ctx, "d1", domain.UpdateDiff{Flavor: "m1.large"})
	if err != nil {
		t.Fatalf("StartUpdate: %v", err)
	}
	upRes, err := update.AwaitResult(ctx)
	if err != nil {
		t.Fatalf("update AwaitResult: %v", err)
	}
	if upRes.Status != domain.StatusCompleted {
		t.Fatalf("update result = %+v, want COMPLETED", upRes)
	}

	configure, err := h.service.StartConfigure(ctx, "d1", application.ConfigureRequest{Playbook: "site.yml"})
	if err != nil {
		t.Fatalf("StartConfigure: %v", err)
	}
	if _, err := configure.AwaitResult(ctx); err != nil {
		t.Fatalf("configure AwaitResult: %v", err)
	}

	if calls := h.playbooks.Calls(); len(calls) != 1 || len(calls[0].Hosts) != 4 {
		t.Fatalf("playbook calls = %+v, want one against 4 hosts", calls)
	}

	del, err := h.service.StartDelete(ctx, "d1", application.DeleteOptions{CleanupOrphans: true})
	if err != nil {
		t.Fatalf("StartDelete: %v", err)
	}
	delRes, err := del.AwaitResult(ctx)
	if err != nil {
		t.Fatalf("delete AwaitResult: %v", err)
	}
	if delRes.Status != domain.StatusDeleted {
		t.Fatalf("delete result = %+v, want DELETED", delRes)
	}

	if h.cloud.ServerCount() != 0 || h.cloud.NetworkCount() != 0 {
		t.Errorf("cloud not empty after delete: %d servers, %d networks",
			h.cloud.ServerCount(), h.cloud.NetworkCount())
	}

	got, err := h.service.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got.Status != domain.StatusDeleted || got.DeletedAt == nil {
		t.Errorf("record after delete = status %q, DeletedAt %v", got.Status, got.DeletedAt)
	}
}
