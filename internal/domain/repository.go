package domain

import (
	"context"
	"time"
)

// DeploymentRepository persists and retrieves deployments.
//
// Update is an atomic read-modify-write: implementations load the row,
// apply the mutator, and persist the result under the same transaction
// or lock, so status claims and manifest writes cannot interleave. A
// mutator returning an error aborts the update and surfaces unchanged.
type DeploymentRepository interface {
	Create(ctx context.Context, d Deployment) error
	Get(ctx context.Context, id DeploymentID) (Deployment, error)
	List(ctx context.Context) ([]Deployment, error)
	Update(ctx context.Context, id DeploymentID, mutate func(*Deployment) error) (Deployment, error)
}

// ConfigurationRun is one recorded playbook execution against a
// deployment's hosts.
type ConfigurationRun struct {
	DeploymentID DeploymentID
	ExecutionID  string
	Playbook     string
	Hosts        []string
	Status       PlaybookStatus
	ExitCode     int
	Message      string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ConfigurationRunRepository persists the append-only configuration run
// history of each deployment.
type ConfigurationRunRepository interface {
	Put(ctx context.Context, run ConfigurationRun) error
	Get(ctx context.Context, deploymentID DeploymentID, executionID string) (ConfigurationRun, error)
	ListByDeployment(ctx context.Context, deploymentID DeploymentID) ([]ConfigurationRun, error)
	DeleteByDeployment(ctx context.Context, deploymentID DeploymentID) error
}
