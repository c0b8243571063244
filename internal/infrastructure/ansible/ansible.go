// Package ansible implements the configuration port by shelling out to
// ansible-playbook.
package ansible

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// Options configure the playbook runner.
type Options struct {
	// Binary is the ansible-playbook executable, resolved from PATH
	// when not absolute. Defaults to "ansible-playbook".
	Binary string

	// PlaybookDir is prepended to relative playbook paths.
	PlaybookDir string

	// Verbosity adds -v flags, 0 through 4.
	Verbosity int
}

// Client runs playbooks through the ansible-playbook CLI. It implements
// [domain.ConfigurationClient].
type Client struct {
	binary      string
	playbookDir string
	verbosity   int
}

func New(opts Options) *Client {
	binary := opts.Binary
	if binary == "" {
		binary = "ansible-playbook"
	}
	verbosity := opts.Verbosity
	if verbosity > 4 {
		verbosity = 4
	}
	return &Client{binary: binary, playbookDir: opts.PlaybookDir, verbosity: verbosity}
}

// RunPlaybook executes one playbook over the requested hosts. Playbook
// failures and deadline kills come back as results; an error means the
// playbook could not be executed at all.
func (c *Client) RunPlaybook(ctx context.Context, req domain.PlaybookRequest) (domain.PlaybookResult, error) {
	playbook := req.Playbook
	if !filepath.IsAbs(playbook) && c.playbookDir != "" {
		playbook = filepath.Join(c.playbookDir, playbook)
	}

	// The trailing comma makes ansible read -i as an inline host list
	// instead of an inventory file path.
	inventory := strings.Join(req.Hosts, ",") + ","

	args := []string{playbook, "-i", inventory}
	if len(req.ExtraVars) > 0 {
		vars, err := json.Marshal(req.ExtraVars)
		if err != nil {
			return domain.PlaybookResult{}, fmt.Errorf("marshal extra vars: %w", err)
		}
		args = append(args, "--extra-vars", string(vars))
	}
	if req.Limit != "" {
		args = append(args, "--limit", req.Limit)
	}
	if c.verbosity > 0 {
		args = append(args, "-"+strings.Repeat("v", c.verbosity))
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return domain.PlaybookResult{
			ExecutionID: req.ExecutionID,
			Status:      domain.PlaybookSuccessful,
		}, nil
	}

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.PlaybookResult{
				ExecutionID: req.ExecutionID,
				Status:      domain.PlaybookTimedOut,
				ExitCode:    -1,
				Message:     "killed: playbook deadline exceeded",
			}, nil
		}
		return domain.PlaybookResult{}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return domain.PlaybookResult{
			ExecutionID: req.ExecutionID,
			Status:      domain.PlaybookFailed,
			ExitCode:    exitErr.ExitCode(),
			Message:     lastLine(&stderr, &stdout),
		}, nil
	}

	return domain.PlaybookResult{}, domain.NewInvalidSpecError("run-playbook",
		fmt.Sprintf("cannot execute %s: %v", c.binary, err), err)
}

// lastLine picks the most telling line of output for the run record,
// preferring stderr.
func lastLine(bufs ...*bytes.Buffer) string {
	for _, b := range bufs {
		lines := strings.Split(b.String(), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if line := strings.TrimSpace(lines[i]); line != "" {
				return line
			}
		}
	}
	return ""
}
