package domain

import "context"

// Server statuses reported by the compute backend.
const (
	ServerStatusBuilding = "BUILD"
	ServerStatusActive   = "ACTIVE"
	ServerStatusError    = "ERROR"
)

// ServerRequest asks the compute backend for one VM. Name is the
// idempotency token: a backend already holding a server with this name
// returns it instead of creating a second one.
type ServerRequest struct {
	Name      string
	Flavor    string
	Image     string
	NetworkID string
	Region    string
	Tags      map[string]string
}

// ServerResult is the backend's answer to a create request.
type ServerResult struct {
	ID     string
	Status string
}

// ServerInfo is the observed state of a server.
type ServerInfo struct {
	ID     string
	Name   string
	Status string
	IP     string
}

// ComputeClient is the port to the VM backend. Implementations classify
// failures as [BackendError] and treat deletions of missing servers as
// success.
type ComputeClient interface {
	CreateServer(ctx context.Context, req ServerRequest) (ServerResult, error)
	GetServer(ctx context.Context, id string) (ServerInfo, error)
	DeleteServer(ctx context.Context, id string) error
	ResizeServer(ctx context.Context, id, flavor string) error

	// ListServersByTag returns every server carrying the deployment tag,
	// including ones the manifest lost track of.
	ListServersByTag(ctx context.Context, tag string) ([]ServerInfo, error)
}

// NetworkRequest asks the network backend for a network with one subnet
// and, optionally, a router. Name is the idempotency token.
type NetworkRequest struct {
	Name         string
	SubnetName   string
	CIDR         string
	Region       string
	AttachRouter bool
	Tags         map[string]string
}

// NetworkResult reports the created (or found) network topology.
type NetworkResult struct {
	NetworkID string
	SubnetIDs []string
	RouterID  string
}

// NetworkClient is the port to the network backend.
type NetworkClient interface {
	CreateNetwork(ctx context.Context, req NetworkRequest) (NetworkResult, error)
	DeleteNetwork(ctx context.Context, id string) error

	// ReplaceSubnet swaps the subnet of a network for one with a new
	// CIDR and returns the new subnet id.
	ReplaceSubnet(ctx context.Context, networkID, subnetID, cidr string) (string, error)

	// ListNetworksByTag returns network ids carrying the deployment tag.
	ListNetworksByTag(ctx context.Context, tag string) ([]string, error)
}

// PlaybookStatus is the outcome of a configuration run.
type PlaybookStatus string

const (
	PlaybookSuccessful PlaybookStatus = "successful"
	PlaybookFailed     PlaybookStatus = "failed"
	PlaybookTimedOut   PlaybookStatus = "timeout"
)

// PlaybookRequest describes one playbook execution against a host set.
type PlaybookRequest struct {
	ExecutionID string
	Playbook    string
	Hosts       []string
	ExtraVars   map[string]string
	Limit       string
}

// PlaybookResult is the recorded outcome of a playbook execution. A
// failed playbook is a result, not a client error; errors are reserved
// for failures to execute at all.
type PlaybookResult struct {
	ExecutionID string
	Status      PlaybookStatus
	ExitCode    int
	Message     string
}

// ConfigurationClient is the port to the configuration-management backend.
type ConfigurationClient interface {
	RunPlaybook(ctx context.Context, req PlaybookRequest) (PlaybookResult, error)
}
