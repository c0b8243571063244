package ansible_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/ansible"
)

// writeStub installs a fake ansible-playbook that records its arguments
// one per line and exits with the given code.
func writeStub(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "ansible-playbook")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func readArgs(t *testing.T, dir string) []string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	if err != nil {
		t.Fatalf("read recorded args: %v", err)
	}
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func TestRunPlaybookSuccess(t *testing.T) {
	dir := t.TempDir()
	bin := writeStub(t, dir, fmt.Sprintf("printf '%%s\\n' \"$@\" > %q\nexit 0\n", filepath.Join(dir, "args.txt")))

	c := ansible.New(ansible.Options{Binary: bin, PlaybookDir: "/opt/playbooks"})
	res, err := c.RunPlaybook(context.Background(), domain.PlaybookRequest{
		ExecutionID: "exec-1",
		Playbook:    "nginx.yaml",
		Hosts:       []string{"10.0.0.5", "10.0.0.6"},
		ExtraVars:   map[string]string{"nginx_port": "8080"},
		Limit:       "web",
	})
	if err != nil {
		t.Fatalf("RunPlaybook: %v", err)
	}
	if res.Status != domain.PlaybookSuccessful {
		t.Errorf("Status = %q, want successful", res.Status)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.ExecutionID != "exec-1" {
		t.Errorf("ExecutionID = %q, want exec-1", res.ExecutionID)
	}

	want := []string{
		"/opt/playbooks/nginx.yaml",
		"-i", "10.0.0.5,10.0.0.6,",
		"--extra-vars", `{"nginx_port":"8080"}`,
		"--limit", "web",
	}
	got := readArgs(t, dir)
	if len(got) != len(want) {
		t.Fatalf("args = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunPlaybookAbsolutePathKept(t *testing.T) {
	dir := t.TempDir()
	bin := writeStub(t, dir, fmt.Sprintf("printf '%%s\\n' \"$@\" > %q\nexit 0\n", filepath.Join(dir, "args.txt")))

	c := ansible.New(ansible.Options{Binary: bin, PlaybookDir: "/opt/playbooks", Verbosity: 2})
	_, err := c.RunPlaybook(context.Background(), domain.PlaybookRequest{
		ExecutionID: "exec-1",
		Playbook:    "/srv/site.yaml",
		Hosts:       []string{"10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("RunPlaybook: %v", err)
	}
	args := readArgs(t, dir)
	if args[0] != "/srv/site.yaml" {
		t.Errorf("playbook arg = %q, want /srv/site.yaml", args[0])
	}
	if last := args[len(args)-1]; last != "-vv" {
		t.Errorf("verbosity arg = %q, want -vv", last)
	}
}

func TestRunPlaybookFailure(t *testing.T) {
	dir := t.TempDir()
	bin := writeStub(t, dir, "echo 'fatal: unreachable host' >&2\nexit 2\n")

	c := ansible.New(ansible.Options{Binary: bin})
	res, err := c.RunPlaybook(context.Background(), domain.PlaybookRequest{
		ExecutionID: "exec-2",
		Playbook:    "nginx.yaml",
		Hosts:       []string{"10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("RunPlaybook: failed run must be a result, got error %v", err)
	}
	if res.Status != domain.PlaybookFailed {
		t.Errorf("Status = %q, want failed", res.Status)
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
	if !strings.Contains(res.Message, "unreachable host") {
		t.Errorf("Message = %q, want stderr tail", res.Message)
	}
}

func TestRunPlaybookDeadlineIsTimeout(t *testing.T) {
	dir := t.TempDir()
	bin := writeStub(t, dir, "sleep 5\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := ansible.New(ansible.Options{Binary: bin})
	res, err := c.RunPlaybook(ctx, domain.PlaybookRequest{
		ExecutionID: "exec-3",
		Playbook:    "slow.yaml",
		Hosts:       []string{"10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("RunPlaybook: timed-out run must be a result, got error %v", err)
	}
	if res.Status != domain.PlaybookTimedOut {
		t.Errorf("Status = %q, want timeout", res.Status)
	}
}

func TestRunPlaybookMissingBinary(t *testing.T) {
	c := ansible.New(ansible.Options{Binary: filepath.Join(t.TempDir(), "nope")})
	_, err := c.RunPlaybook(context.Background(), domain.PlaybookRequest{
		ExecutionID: "exec-4",
		Playbook:    "nginx.yaml",
		Hosts:       []string{"10.0.0.5"},
	})
	if err == nil {
		t.Fatal("RunPlaybook: want error for missing binary")
	}
	if kind := domain.KindOf(err); kind != domain.FailureInvalidSpec {
		t.Errorf("kind = %q, want invalid_spec", kind)
	}
}
