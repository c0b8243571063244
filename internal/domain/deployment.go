package domain

import (
	"fmt"
	"time"
)

// DeploymentID uniquely identifies a deployment.
type DeploymentID string

// DeploymentStatus is the lifecycle status of a deployment. The status
// field doubles as the concurrency mutex: exactly one lifecycle workflow
// may hold a deployment in a busy status at a time.
type DeploymentStatus string

const (
	StatusPending     DeploymentStatus = "PENDING"
	StatusInProgress  DeploymentStatus = "IN_PROGRESS"
	StatusCompleted   DeploymentStatus = "COMPLETED"
	StatusFailed      DeploymentStatus = "FAILED"
	StatusScaling     DeploymentStatus = "SCALING"
	StatusConfiguring DeploymentStatus = "CONFIGURING"
	StatusDeleting    DeploymentStatus = "DELETING"
	StatusDeleted     DeploymentStatus = "DELETED"
)

// Busy reports whether a lifecycle workflow currently owns the deployment.
func (s DeploymentStatus) Busy() bool {
	switch s {
	case StatusInProgress, StatusScaling, StatusConfiguring, StatusDeleting:
		return true
	}
	return false
}

// Terminal reports whether the status ends a lifecycle run. COMPLETED is
// terminal for the run that produced it but remains a legal starting
// point for update, scale, configure, and delete.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

var statusTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:     {StatusInProgress},
	StatusInProgress:  {StatusCompleted, StatusFailed},
	StatusCompleted:   {StatusInProgress, StatusScaling, StatusConfiguring, StatusDeleting},
	StatusFailed:      {StatusDeleting},
	StatusScaling:     {StatusCompleted, StatusFailed},
	StatusConfiguring: {StatusCompleted, StatusFailed},
	StatusDeleting:    {StatusDeleted, StatusFailed},
	StatusDeleted:     nil,
}

// CanTransition reports whether moving from s to next is legal.
func (s DeploymentStatus) CanTransition(next DeploymentStatus) bool {
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Operation names a lifecycle operation over a deployment.
type Operation string

const (
	OpDeploy    Operation = "deploy"
	OpDelete    Operation = "delete"
	OpUpdate    Operation = "update"
	OpScale     Operation = "scale"
	OpConfigure Operation = "configure"
)

var operationStarts = map[Operation][]DeploymentStatus{
	OpDeploy:    {StatusPending},
	OpUpdate:    {StatusCompleted},
	OpScale:     {StatusCompleted},
	OpConfigure: {StatusCompleted},
	OpDelete:    {StatusCompleted, StatusFailed},
}

var operationActive = map[Operation]DeploymentStatus{
	OpDeploy:    StatusInProgress,
	OpUpdate:    StatusInProgress,
	OpScale:     StatusScaling,
	OpConfigure: StatusConfiguring,
	OpDelete:    StatusDeleting,
}

// StartableFrom reports whether the operation may begin while the
// deployment is in status s.
func (op Operation) StartableFrom(s DeploymentStatus) bool {
	for _, from := range operationStarts[op] {
		if from == s {
			return true
		}
	}
	return false
}

// ActiveStatus is the busy status the operation holds while running.
func (op Operation) ActiveStatus() DeploymentStatus {
	return operationActive[op]
}

// FailureInfo is the structured error payload recorded on a FAILED
// deployment. A nil RollbackComplete means no rollback applied to the
// failed operation.
type FailureInfo struct {
	Activity         string
	Kind             FailureKind
	Message          string
	RollbackComplete *bool
	Mutations        []MutationFailure
	ExecutionID      string
	ExitCode         int
}

// MutationFailure records one failed field mutation of an update
// operation, keeping per-mutation granularity in the failure payload.
type MutationFailure struct {
	Field    string
	Resource string
	Message  string
}

// NewFailureInfo builds the payload for a failed activity from the
// classified cause.
func NewFailureInfo(activity string, cause error) *FailureInfo {
	return &FailureInfo{
		Activity: activity,
		Kind:     KindOf(cause),
		Message:  cause.Error(),
	}
}

// Deployment is the persistent record of one deployed stack: its
// effective template, the manifest of backend resources it owns, and the
// lifecycle status that serializes operations over it.
type Deployment struct {
	ID          DeploymentID
	Name        string
	Status      DeploymentStatus
	Template    Template
	Parameters  Parameters
	CloudRegion string
	Resources   *ResourceManifest
	Failure     *FailureInfo
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// EffectiveTemplate is the template with caller parameters merged in.
func (d *Deployment) EffectiveTemplate() (Template, error) {
	return d.Template.WithParameters(d.Parameters)
}

// BeginOperation claims the deployment for op: it validates the
// precondition against the current status and moves to the operation's
// busy status. Callers must apply it inside an atomic repository update
// for the claim to act as a mutex.
func (d *Deployment) BeginOperation(op Operation) error {
	if !op.StartableFrom(d.Status) {
		return fmt.Errorf("%w: cannot %s deployment %q while status is %s", ErrConflict, op, d.ID, d.Status)
	}
	d.Status = op.ActiveStatus()
	d.Failure = nil
	return nil
}

// SetMetadata merges kv pairs into the deployment metadata.
func (d *Deployment) SetMetadata(kv map[string]string) {
	if len(kv) == 0 {
		return
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		d.Metadata[k] = v
	}
}
