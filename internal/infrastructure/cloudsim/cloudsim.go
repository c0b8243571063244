// Package cloudsim provides an in-memory compute and network backend
// with the observable behaviors of a real cloud: servers build before
// they turn active, creates are idempotent by name, and deletes of
// missing resources report not-found. Used by tests and by the CLI's
// simulate mode.
package cloudsim

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

type server struct {
	info   domain.ServerInfo
	tags   map[string]string
	flavor string
	polls  int
}

type network struct {
	result domain.NetworkResult
	name   string
	cidr   string
	tags   map[string]string
}

// Cloud simulates the compute and network backends behind one lock.
type Cloud struct {
	// BuildPolls is how many GetServer calls a new server reports
	// BUILD before it turns ACTIVE. Zero makes servers active at birth.
	BuildPolls int

	mu       sync.Mutex
	servers  map[string]*server
	networks map[string]*network
	failures map[string][]error
	statuses map[string]string
	nextID   int
}

// New returns an empty simulated cloud.
func New() *Cloud {
	return &Cloud{
		servers:  make(map[string]*server),
		networks: make(map[string]*network),
		failures: make(map[string][]error),
		statuses: make(map[string]string),
	}
}

// FailNext scripts the next op call against key to return err. Key is
// the resource name for creates and the resource id otherwise. Repeated
// calls queue in order.
func (c *Cloud) FailNext(op, key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := op + "/" + key
	c.failures[k] = append(c.failures[k], err)
}

// SetServerStatus scripts the status a server named name holds once
// created, e.g. ERROR for a boot failure.
func (c *Cloud) SetServerStatus(name, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[name] = status
}

func (c *Cloud) popFailure(op, key string) error {
	k := op + "/" + key
	q := c.failures[k]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	c.failures[k] = q[1:]
	return err
}

func (c *Cloud) CreateServer(_ context.Context, req domain.ServerRequest) (domain.ServerResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure("create-server", req.Name); err != nil {
		return domain.ServerResult{}, err
	}
	for _, s := range c.servers {
		if s.info.Name == req.Name {
			return domain.ServerResult{ID: s.info.ID, Status: s.info.Status}, nil
		}
	}

	c.nextID++
	id := fmt.Sprintf("sim-vm-%d", c.nextID)
	status := domain.ServerStatusBuilding
	polls := c.BuildPolls
	if scripted, ok := c.statuses[req.Name]; ok {
		status = scripted
		polls = 0
	} else if polls == 0 {
		status = domain.ServerStatusActive
	}
	c.servers[id] = &server{
		info:   domain.ServerInfo{ID: id, Name: req.Name, Status: status, IP: fmt.Sprintf("10.0.0.%d", c.nextID)},
		tags:   cloneTags(req.Tags),
		flavor: req.Flavor,
		polls:  polls,
	}
	return domain.ServerResult{ID: id, Status: status}, nil
}

func (c *Cloud) GetServer(_ context.Context, id string) (domain.ServerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure("get-server", id); err != nil {
		return domain.ServerInfo{}, err
	}
	s, ok := c.servers[id]
	if !ok {
		return domain.ServerInfo{}, domain.NewNotFoundError("get server", id)
	}
	if s.info.Status == domain.ServerStatusBuilding {
		s.polls--
		if s.polls <= 0 {
			s.info.Status = domain.ServerStatusActive
		}
	}
	info := s.info
	// The backend only knows the address once the server is up.
	if info.Status != domain.ServerStatusActive {
		info.IP = ""
	}
	return info, nil
}

func (c *Cloud) DeleteServer(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure("delete-server", id); err != nil {
		return err
	}
	if _, ok := c.servers[id]; !ok {
		return domain.NewNotFoundError("delete server", id)
	}
	delete(c.servers, id)
	return nil
}

func (c *Cloud) ResizeServer(_ context.Context, id, flavor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure("resize-server", id); err != nil {
		return err
	}
	s, ok := c.servers[id]
	if !ok {
		return domain.NewNotFoundError("resize server", id)
	}
	s.flavor = flavor
	return nil
}

func (c *Cloud) ListServersByTag(_ context.Context, tag string) ([]domain.ServerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var infos []domain.ServerInfo
	for _, s := range c.servers {
		if s.tags[domain.TagDeployment] == tag {
			infos = append(infos, s.info)
		}
	}
	return infos, nil
}

func (c *Cloud) CreateNetwork(_ context.Context, req domain.NetworkRequest) (domain.NetworkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure("create-network", req.Name); err != nil {
		return domain.NetworkResult{}, err
	}
	for _, n := range c.networks {
		if n.name == req.Name {
			return n.result, nil
		}
	}

	c.nextID++
	result := domain.NetworkResult{
		NetworkID: fmt.Sprintf("sim-net-%d", c.nextID),
		SubnetIDs: []string{fmt.Sprintf("sim-subnet-%d", c.nextID)},
	}
	if req.AttachRouter {
		result.RouterID = fmt.Sprintf("sim-router-%d", c.nextID)
	}
	c.networks[result.NetworkID] = &network{
		result: result,
		name:   req.Name,
		cidr:   req.CIDR,
		tags:   cloneTags(req.Tags),
	}
	return result, nil
}

func (c *Cloud) DeleteNetwork(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure("delete-network", id); err != nil {
		return err
	}
	if _, ok := c.networks[id]; !ok {
		return domain.NewNotFoundError("delete network", id)
	}
	delete(c.networks, id)
	return nil
}

func (c *Cloud) ReplaceSubnet(_ context.Context, networkID, subnetID, cidr string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure("replace-subnet", networkID); err != nil {
		return "", err
	}
	n, ok := c.networks[networkID]
	if !ok {
		return "", domain.NewNotFoundError("replace subnet", networkID)
	}
	c.nextID++
	newSubnet := fmt.Sprintf("sim-subnet-%d", c.nextID)
	for i, sub := range n.result.SubnetIDs {
		if sub == subnetID {
			n.result.SubnetIDs[i] = newSubnet
		}
	}
	n.cidr = cidr
	return newSubnet, nil
}

func (c *Cloud) ListNetworksByTag(_ context.Context, tag string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, n := range c.networks {
		if n.tags[domain.TagDeployment] == tag {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ServerCount reports how many servers currently exist.
func (c *Cloud) ServerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.servers)
}

// NetworkCount reports how many networks currently exist.
func (c *Cloud) NetworkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.networks)
}

// ServerFlavor reports the flavor a server currently holds.
func (c *Cloud) ServerFlavor(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[id]; ok {
		return s.flavor
	}
	return ""
}

// NetworkCIDR reports the CIDR a network's subnet currently holds.
func (c *Cloud) NetworkCIDR(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.networks[id]; ok {
		return n.cidr
	}
	return ""
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
