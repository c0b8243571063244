// Package configurationrunrepotest provides contract tests for
// [domain.ConfigurationRunRepository] implementations.
package configurationrunrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// Factory creates a fresh [domain.ConfigurationRunRepository] for each test.
type Factory func(t *testing.T) domain.ConfigurationRunRepository

// Run exercises the [domain.ConfigurationRunRepository] contract.
func Run(t *testing.T, factory Factory) {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	sampleRun := func(execID string) domain.ConfigurationRun {
		return domain.ConfigurationRun{
			DeploymentID: "d1",
			ExecutionID:  execID,
			Playbook:     "site.yml",
			Hosts:        []string{"10.0.0.5", "10.0.0.6"},
			Status:       domain.PlaybookSuccessful,
			ExitCode:     0,
			StartedAt:    started,
			FinishedAt:   started.Add(42 * time.Second),
		}
	}

	t.Run("PutAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Put(ctx, sampleRun("exec-1")); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := repo.Get(ctx, "d1", "exec-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Playbook != "site.yml" {
			t.Errorf("Playbook = %q, want site.yml", got.Playbook)
		}
		if got.Status != domain.PlaybookSuccessful {
			t.Errorf("Status = %q, want %q", got.Status, domain.PlaybookSuccessful)
		}
		if len(got.Hosts) != 2 {
			t.Errorf("Hosts len = %d, want 2", len(got.Hosts))
		}
		if !got.FinishedAt.Equal(started.Add(42 * time.Second)) {
			t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, started.Add(42*time.Second))
		}
	})

	t.Run("PutUpserts", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		run := sampleRun("exec-1")
		run.Status = domain.PlaybookFailed
		run.ExitCode = 2
		run.Message = "unreachable host"
		_ = repo.Put(ctx, run)

		run.Status = domain.PlaybookSuccessful
		run.ExitCode = 0
		run.Message = ""
		if err := repo.Put(ctx, run); err != nil {
			t.Fatalf("second Put: %v", err)
		}

		got, _ := repo.Get(ctx, "d1", "exec-1")
		if got.Status != domain.PlaybookSuccessful {
			t.Errorf("Status after upsert = %q, want %q", got.Status, domain.PlaybookSuccessful)
		}
		if got.ExitCode != 0 {
			t.Errorf("ExitCode after upsert = %d, want 0", got.ExitCode)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "d1", "exec-missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByDeployment", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		first := sampleRun("exec-1")
		second := sampleRun("exec-2")
		second.StartedAt = started.Add(time.Hour)
		second.FinishedAt = started.Add(time.Hour + time.Minute)
		_ = repo.Put(ctx, first)
		_ = repo.Put(ctx, second)

		other := sampleRun("exec-3")
		other.DeploymentID = "d2"
		_ = repo.Put(ctx, other)

		got, err := repo.ListByDeployment(ctx, "d1")
		if err != nil {
			t.Fatalf("ListByDeployment: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByDeployment: got %d, want 2", len(got))
		}
		if got[0].StartedAt.After(got[1].StartedAt) {
			t.Errorf("runs out of order: %v before %v", got[0].StartedAt, got[1].StartedAt)
		}
	})

	t.Run("DeleteByDeployment", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		_ = repo.Put(ctx, sampleRun("exec-1"))
		_ = repo.Put(ctx, sampleRun("exec-2"))

		if err := repo.DeleteByDeployment(ctx, "d1"); err != nil {
			t.Fatalf("DeleteByDeployment: %v", err)
		}

		got, _ := repo.ListByDeployment(ctx, "d1")
		if len(got) != 0 {
			t.Fatalf("after delete: got %d runs, want 0", len(got))
		}
	})
}
