// Package deploymentrepotest provides contract tests for
// [domain.DeploymentRepository] implementations.
package deploymentrepotest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// Factory creates a fresh [domain.DeploymentRepository] for each test.
type Factory func(t *testing.T) domain.DeploymentRepository

// Run exercises the [domain.DeploymentRepository] contract.
func Run(t *testing.T, factory Factory) {
	sampleDeployment := func() domain.Deployment {
		return domain.Deployment{
			ID:     "d1",
			Name:   "edge-cache",
			Status: domain.StatusPending,
			Template: domain.Template{
				Network: domain.NetworkSpec{CIDR: "10.0.0.0/24", AttachRouter: true},
				VMGroups: []domain.VMGroupSpec{
					{Name: "web", Flavor: "m1.small", Image: "ubuntu-22.04", Count: 2},
				},
			},
			Parameters:  domain.Parameters{Flavor: "m1.medium"},
			CloudRegion: "region-one",
			Metadata:    map[string]string{"owner": "platform"},
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()

		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "d1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != "edge-cache" {
			t.Errorf("Name = %q, want %q", got.Name, "edge-cache")
		}
		if got.Status != domain.StatusPending {
			t.Errorf("Status = %q, want %q", got.Status, domain.StatusPending)
		}
		if got.Template.Network.CIDR != "10.0.0.0/24" {
			t.Errorf("Template.Network.CIDR = %q, want %q", got.Template.Network.CIDR, "10.0.0.0/24")
		}
		if len(got.Template.VMGroups) != 1 || got.Template.VMGroups[0].Count != 2 {
			t.Errorf("Template.VMGroups = %+v, want one group with count 2", got.Template.VMGroups)
		}
		if got.Parameters.Flavor != "m1.medium" {
			t.Errorf("Parameters.Flavor = %q, want %q", got.Parameters.Flavor, "m1.medium")
		}
		if got.Metadata["owner"] != "platform" {
			t.Errorf("Metadata[owner] = %q, want %q", got.Metadata["owner"], "platform")
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt is zero, want it stamped on create")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		_ = repo.Create(ctx, d)
		err := repo.Create(ctx, d)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleDeployment())

		updated, err := repo.Update(ctx, "d1", func(d *domain.Deployment) error {
			d.Status = domain.StatusInProgress
			d.Resources = &domain.ResourceManifest{
				NetworkID: "net-1",
				SubnetIDs: []string{"sub-1"},
				VMs: []domain.VMResource{
					{ID: "vm-1", Name: "d1-web-0", Group: "web", IP: "10.0.0.5"},
				},
				Serial: 1,
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if updated.Status != domain.StatusInProgress {
			t.Errorf("returned Status = %q, want %q", updated.Status, domain.StatusInProgress)
		}

		got, _ := repo.Get(ctx, "d1")
		if got.Status != domain.StatusInProgress {
			t.Errorf("Status after Update = %q, want %q", got.Status, domain.StatusInProgress)
		}
		if got.Resources == nil || got.Resources.NetworkID != "net-1" {
			t.Fatalf("Resources after Update = %+v, want network net-1", got.Resources)
		}
		if len(got.Resources.VMs) != 1 || got.Resources.VMs[0].IP != "10.0.0.5" {
			t.Errorf("Resources.VMs = %+v, want one VM at 10.0.0.5", got.Resources.VMs)
		}
		if got.Resources.Serial != 1 {
			t.Errorf("Resources.Serial = %d, want 1", got.Resources.Serial)
		}
		if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
			t.Errorf("UpdatedAt = %v, want >= CreatedAt %v", got.UpdatedAt, got.CreatedAt)
		}
	})

	t.Run("UpdatePersistsFailure", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		d.Status = domain.StatusInProgress
		_ = repo.Create(ctx, d)

		rolledBack := true
		_, err := repo.Update(ctx, "d1", func(d *domain.Deployment) error {
			d.Status = domain.StatusFailed
			d.Failure = &domain.FailureInfo{
				Activity:         "create-vm",
				Kind:             domain.FailureQuotaExceeded,
				Message:          "quota exceeded for instances",
				RollbackComplete: &rolledBack,
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.Get(ctx, "d1")
		if got.Failure == nil {
			t.Fatal("Failure after Update = nil, want payload")
		}
		if got.Failure.Kind != domain.FailureQuotaExceeded {
			t.Errorf("Failure.Kind = %q, want %q", got.Failure.Kind, domain.FailureQuotaExceeded)
		}
		if got.Failure.Activity != "create-vm" {
			t.Errorf("Failure.Activity = %q, want create-vm", got.Failure.Activity)
		}
		if got.Failure.RollbackComplete == nil || !*got.Failure.RollbackComplete {
			t.Errorf("Failure.RollbackComplete = %v, want true", got.Failure.RollbackComplete)
		}
	})

	t.Run("UpdateMutatorErrorAborts", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleDeployment())

		sentinel := errors.New("claim refused")
		_, err := repo.Update(ctx, "d1", func(d *domain.Deployment) error {
			d.Status = domain.StatusDeleting
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("Update: got %v, want mutator error to surface", err)
		}

		got, _ := repo.Get(ctx, "d1")
		if got.Status != domain.StatusPending {
			t.Errorf("Status after aborted Update = %q, want %q unchanged", got.Status, domain.StatusPending)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Update(context.Background(), "nonexistent", func(d *domain.Deployment) error {
			return nil
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateIsAtomic", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		d.Resources = &domain.ResourceManifest{}
		_ = repo.Create(ctx, d)

		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Update(ctx, "d1", func(d *domain.Deployment) error {
					if d.Resources == nil {
						d.Resources = &domain.ResourceManifest{}
					}
					d.Resources.Serial++
					return nil
				})
				if err != nil {
					t.Errorf("Update: %v", err)
				}
			}()
		}
		wg.Wait()

		got, _ := repo.Get(ctx, "d1")
		if got.Resources == nil || got.Resources.Serial != writers {
			t.Fatalf("Serial after %d concurrent increments = %+v, want %d", writers, got.Resources, writers)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d1 := sampleDeployment()
		d2 := sampleDeployment()
		d2.ID = "d2"
		d2.Name = "edge-cache-2"
		_ = repo.Create(ctx, d1)
		_ = repo.Create(ctx, d2)

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
	})

	t.Run("DeletedRecordSurvives", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		d.Status = domain.StatusDeleting
		_ = repo.Create(ctx, d)

		_, err := repo.Update(ctx, "d1", func(d *domain.Deployment) error {
			d.Status = domain.StatusDeleted
			d.Resources = nil
			now := d.UpdatedAt
			d.DeletedAt = &now
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.Get(ctx, "d1")
		if err != nil {
			t.Fatalf("Get after delete: %v", err)
		}
		if got.Status != domain.StatusDeleted {
			t.Errorf("Status = %q, want %q", got.Status, domain.StatusDeleted)
		}
		if got.Resources != nil && !got.Resources.Empty() {
			t.Errorf("Resources = %+v, want cleared", got.Resources)
		}
		if got.DeletedAt == nil {
			t.Error("DeletedAt = nil, want stamped")
		}
	})
}
