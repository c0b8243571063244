package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// ConfigurationRunRepo implements [domain.ConfigurationRunRepository]
// backed by SQLite. Runs are keyed by (deployment, execution) so a
// retried recording overwrites its own row.
type ConfigurationRunRepo struct {
	DB *sql.DB
}

func (r *ConfigurationRunRepo) Put(ctx context.Context, run domain.ConfigurationRun) error {
	hosts, err := json.Marshal(run.Hosts)
	if err != nil {
		return fmt.Errorf("marshal hosts: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO configuration_runs (deployment_id, execution_id, playbook, hosts, status, exit_code, message, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (deployment_id, execution_id) DO UPDATE SET
		   playbook = excluded.playbook,
		   hosts = excluded.hosts,
		   status = excluded.status,
		   exit_code = excluded.exit_code,
		   message = excluded.message,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at`,
		string(run.DeploymentID), run.ExecutionID, run.Playbook, string(hosts),
		string(run.Status), run.ExitCode, run.Message,
		run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put configuration run: %w", err)
	}
	return nil
}

func (r *ConfigurationRunRepo) Get(ctx context.Context, deploymentID domain.DeploymentID, executionID string) (domain.ConfigurationRun, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT deployment_id, execution_id, playbook, hosts, status, exit_code, message, started_at, finished_at
		 FROM configuration_runs WHERE deployment_id = ? AND execution_id = ?`,
		string(deploymentID), executionID,
	)
	return scanConfigurationRun(row)
}

func (r *ConfigurationRunRepo) ListByDeployment(ctx context.Context, deploymentID domain.DeploymentID) ([]domain.ConfigurationRun, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT deployment_id, execution_id, playbook, hosts, status, exit_code, message, started_at, finished_at
		 FROM configuration_runs WHERE deployment_id = ? ORDER BY started_at, execution_id`,
		string(deploymentID),
	)
	if err != nil {
		return nil, fmt.Errorf("list configuration runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ConfigurationRun
	for rows.Next() {
		run, err := scanConfigurationRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *ConfigurationRunRepo) DeleteByDeployment(ctx context.Context, deploymentID domain.DeploymentID) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM configuration_runs WHERE deployment_id = ?`,
		string(deploymentID),
	)
	if err != nil {
		return fmt.Errorf("delete configuration runs: %w", err)
	}
	return nil
}

func scanConfigurationRun(s scanner) (domain.ConfigurationRun, error) {
	var run domain.ConfigurationRun
	var deploymentID, executionID, playbook, hostsJSON, status, message, startedStr, finishedStr string
	var exitCode int

	err := s.Scan(&deploymentID, &executionID, &playbook, &hostsJSON, &status, &exitCode, &message, &startedStr, &finishedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return run, fmt.Errorf("scan configuration run: %w", err)
	}
	run.DeploymentID = domain.DeploymentID(deploymentID)
	run.ExecutionID = executionID
	run.Playbook = playbook
	run.Status = domain.PlaybookStatus(status)
	run.ExitCode = exitCode
	run.Message = message

	if err := json.Unmarshal([]byte(hostsJSON), &run.Hosts); err != nil {
		return run, fmt.Errorf("unmarshal hosts: %w", err)
	}
	if run.StartedAt, err = time.Parse(time.RFC3339, startedStr); err != nil {
		return run, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339, finishedStr); err != nil {
		return run, fmt.Errorf("parse finished_at: %w", err)
	}
	return run, nil
}
