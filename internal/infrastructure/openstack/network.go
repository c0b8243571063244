package openstack

import (
	"context"
	"net/http"
	"net/url"
	"sort"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// routerInterfaceOwner is the device_owner Neutron stamps on router
// interface ports.
const routerInterfaceOwner = "network:router_interface"

// Neutron wire types.

type neutronNetwork struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

type networkCreateRequest struct {
	Network networkSpec `json:"network"`
}

type networkSpec struct {
	Name         string `json:"name"`
	AdminStateUp bool   `json:"admin_state_up"`
}

type neutronSubnet struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NetworkID string `json:"network_id"`
	CIDR      string `json:"cidr"`
}

type subnetCreateRequest struct {
	Subnet subnetSpec `json:"subnet"`
}

type subnetSpec struct {
	Name      string `json:"name"`
	NetworkID string `json:"network_id"`
	CIDR      string `json:"cidr"`
	IPVersion int    `json:"ip_version"`
}

type neutronRouter struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type routerCreateRequest struct {
	Router routerSpec `json:"router"`
}

type routerSpec struct {
	Name         string `json:"name"`
	AdminStateUp bool   `json:"admin_state_up"`
}

type neutronPort struct {
	ID          string `json:"id"`
	DeviceID    string `json:"device_id"`
	DeviceOwner string `json:"device_owner"`
	FixedIPs    []struct {
		SubnetID string `json:"subnet_id"`
	} `json:"fixed_ips"`
}

func (p neutronPort) onSubnet(subnetID string) bool {
	for _, ip := range p.FixedIPs {
		if ip.SubnetID == subnetID {
			return true
		}
	}
	return false
}

func routerName(networkName string) string {
	return networkName + "-router"
}

// backendTags flattens the key/value tag map into Neutron's flat tag
// strings ("deployment_id=<id>").
func backendTags(tags map[string]string) []string {
	out := make([]string, 0, len(tags))
	for k, v := range tags {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// CreateNetwork builds the deployment topology: network, one subnet, and
// optionally a router with an interface on the subnet. The network name
// is the idempotency token; a half-created topology found under it is
// completed rather than duplicated.
func (c *Client) CreateNetwork(ctx context.Context, req domain.NetworkRequest) (domain.NetworkResult, error) {
	net, err := c.findNetworkByName(ctx, req.Name)
	if err != nil {
		return domain.NetworkResult{}, err
	}
	if net == nil {
		var created struct {
			Network neutronNetwork `json:"network"`
		}
		payload := networkCreateRequest{Network: networkSpec{Name: req.Name, AdminStateUp: true}}
		if err := c.do(ctx, "create-network", req.Name, http.MethodPost, serviceNetwork, "/v2.0/networks", payload, &created); err != nil {
			return domain.NetworkResult{}, err
		}
		net = &created.Network

		if len(req.Tags) > 0 {
			tagPayload := map[string][]string{"tags": backendTags(req.Tags)}
			if err := c.do(ctx, "tag-network", net.ID, http.MethodPut,
				serviceNetwork, "/v2.0/networks/"+net.ID+"/tags", tagPayload, nil); err != nil {
				return domain.NetworkResult{}, err
			}
		}
	}
	result := domain.NetworkResult{NetworkID: net.ID}

	subnets, err := c.listSubnets(ctx, net.ID)
	if err != nil {
		return domain.NetworkResult{}, err
	}
	var subnetID string
	if len(subnets) > 0 {
		for _, s := range subnets {
			result.SubnetIDs = append(result.SubnetIDs, s.ID)
		}
		subnetID = subnets[0].ID
	} else {
		subnetID, err = c.createSubnet(ctx, req.SubnetName, net.ID, req.CIDR)
		if err != nil {
			return domain.NetworkResult{}, err
		}
		result.SubnetIDs = []string{subnetID}
	}

	if req.AttachRouter {
		result.RouterID, err = c.ensureRouter(ctx, routerName(req.Name), net.ID, subnetID)
		if err != nil {
			return domain.NetworkResult{}, err
		}
	}
	return result, nil
}

// DeleteNetwork tears the topology down: router interfaces are detached
// and their routers deleted before the network itself, which Neutron
// would otherwise refuse with a 409 while ports remain.
func (c *Client) DeleteNetwork(ctx context.Context, id string) error {
	ports, err := c.listPorts(ctx, url.Values{
		"network_id":   {id},
		"device_owner": {routerInterfaceOwner},
	})
	if err != nil {
		return err
	}
	for _, p := range ports {
		detach := map[string]string{"port_id": p.ID}
		if err := c.do(ctx, "detach-router-interface", p.DeviceID, http.MethodPut,
			serviceNetwork, "/v2.0/routers/"+p.DeviceID+"/remove_router_interface", detach, nil); err != nil && !domain.IsNotFound(err) {
			return err
		}
		if err := c.do(ctx, "delete-router", p.DeviceID, http.MethodDelete,
			serviceNetwork, "/v2.0/routers/"+p.DeviceID, nil, nil); err != nil && !domain.IsNotFound(err) {
			return err
		}
	}

	return c.do(ctx, "delete-network", id, http.MethodDelete, serviceNetwork, "/v2.0/networks/"+id, nil, nil)
}

// ReplaceSubnet swaps a network's subnet for one with a new CIDR,
// re-attaching any router interface that sat on the old subnet. A retry
// that finds the replacement already in place returns it unchanged.
func (c *Client) ReplaceSubnet(ctx context.Context, networkID, subnetID, cidr string) (string, error) {
	subnets, err := c.listSubnets(ctx, networkID)
	if err != nil {
		return "", err
	}
	var old *neutronSubnet
	for i := range subnets {
		if subnets[i].ID != subnetID && subnets[i].CIDR == cidr {
			// A previous half-finished attempt already created it.
			return subnets[i].ID, nil
		}
		if subnets[i].ID == subnetID {
			old = &subnets[i]
		}
	}

	var name string
	var routerIDs []string
	if old != nil {
		name = old.Name

		// Router interfaces pin the subnet; detach them first and
		// remember where to re-attach.
		ports, err := c.listPorts(ctx, url.Values{
			"network_id":   {networkID},
			"device_owner": {routerInterfaceOwner},
		})
		if err != nil {
			return "", err
		}
		for _, p := range ports {
			if !p.onSubnet(subnetID) {
				continue
			}
			detach := map[string]string{"port_id": p.ID}
			if err := c.do(ctx, "detach-router-interface", p.DeviceID, http.MethodPut,
				serviceNetwork, "/v2.0/routers/"+p.DeviceID+"/remove_router_interface", detach, nil); err != nil && !domain.IsNotFound(err) {
				return "", err
			}
			routerIDs = append(routerIDs, p.DeviceID)
		}

		if err := c.do(ctx, "delete-subnet", subnetID, http.MethodDelete,
			serviceNetwork, "/v2.0/subnets/"+subnetID, nil, nil); err != nil && !domain.IsNotFound(err) {
			return "", err
		}
	} else {
		// The old subnet is already gone (earlier attempt). Recover
		// naming and any detached router from the network.
		net, err := c.getNetwork(ctx, networkID)
		if err != nil {
			return "", err
		}
		name = net.Name + "-subnet"

		router, err := c.findRouterByName(ctx, routerName(net.Name))
		if err != nil {
			return "", err
		}
		if router != nil {
			ports, err := c.listPorts(ctx, url.Values{"device_id": {router.ID}, "network_id": {networkID}})
			if err != nil {
				return "", err
			}
			if len(ports) == 0 {
				routerIDs = append(routerIDs, router.ID)
			}
		}
	}

	newID, err := c.createSubnet(ctx, name, networkID, cidr)
	if err != nil {
		return "", err
	}
	for _, rid := range routerIDs {
		attach := map[string]string{"subnet_id": newID}
		if err := c.do(ctx, "attach-router-interface", rid, http.MethodPut,
			serviceNetwork, "/v2.0/routers/"+rid+"/add_router_interface", attach, nil); err != nil {
			return "", err
		}
	}
	return newID, nil
}

// ListNetworksByTag returns network ids carrying the deployment tag.
func (c *Client) ListNetworksByTag(ctx context.Context, tag string) ([]string, error) {
	var list struct {
		Networks []neutronNetwork `json:"networks"`
	}
	path := "/v2.0/networks?" + url.Values{"tags": {domain.TagDeployment + "=" + tag}}.Encode()
	if err := c.do(ctx, "list-networks", "", http.MethodGet, serviceNetwork, path, nil, &list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Networks))
	for _, n := range list.Networks {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

func (c *Client) findNetworkByName(ctx context.Context, name string) (*neutronNetwork, error) {
	var list struct {
		Networks []neutronNetwork `json:"networks"`
	}
	path := "/v2.0/networks?" + url.Values{"name": {name}}.Encode()
	if err := c.do(ctx, "list-networks", "", http.MethodGet, serviceNetwork, path, nil, &list); err != nil {
		return nil, err
	}
	for i := range list.Networks {
		if list.Networks[i].Name == name {
			return &list.Networks[i], nil
		}
	}
	return nil, nil
}

func (c *Client) getNetwork(ctx context.Context, id string) (*neutronNetwork, error) {
	var got struct {
		Network neutronNetwork `json:"network"`
	}
	if err := c.do(ctx, "get-network", id, http.MethodGet, serviceNetwork, "/v2.0/networks/"+id, nil, &got); err != nil {
		return nil, err
	}
	return &got.Network, nil
}

func (c *Client) listSubnets(ctx context.Context, networkID string) ([]neutronSubnet, error) {
	var list struct {
		Subnets []neutronSubnet `json:"subnets"`
	}
	path := "/v2.0/subnets?" + url.Values{"network_id": {networkID}}.Encode()
	if err := c.do(ctx, "list-subnets", "", http.MethodGet, serviceNetwork, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Subnets, nil
}

func (c *Client) createSubnet(ctx context.Context, name, networkID, cidr string) (string, error) {
	var created struct {
		Subnet neutronSubnet `json:"subnet"`
	}
	payload := subnetCreateRequest{Subnet: subnetSpec{
		Name:      name,
		NetworkID: networkID,
		CIDR:      cidr,
		IPVersion: 4,
	}}
	if err := c.do(ctx, "create-subnet", name, http.MethodPost, serviceNetwork, "/v2.0/subnets", payload, &created); err != nil {
		return "", err
	}
	return created.Subnet.ID, nil
}

func (c *Client) findRouterByName(ctx context.Context, name string) (*neutronRouter, error) {
	var list struct {
		Routers []neutronRouter `json:"routers"`
	}
	path := "/v2.0/routers?" + url.Values{"name": {name}}.Encode()
	if err := c.do(ctx, "list-routers", "", http.MethodGet, serviceNetwork, path, nil, &list); err != nil {
		return nil, err
	}
	for i := range list.Routers {
		if list.Routers[i].Name == name {
			return &list.Routers[i], nil
		}
	}
	return nil, nil
}

// ensureRouter returns the id of the router named name, creating it and
// attaching an interface on subnetID when missing. An existing router
// with no port on the network gets the interface attached.
func (c *Client) ensureRouter(ctx context.Context, name, networkID, subnetID string) (string, error) {
	router, err := c.findRouterByName(ctx, name)
	if err != nil {
		return "", err
	}
	if router == nil {
		var created struct {
			Router neutronRouter `json:"router"`
		}
		payload := routerCreateRequest{Router: routerSpec{Name: name, AdminStateUp: true}}
		if err := c.do(ctx, "create-router", name, http.MethodPost, serviceNetwork, "/v2.0/routers", payload, &created); err != nil {
			return "", err
		}
		router = &created.Router
	}

	ports, err := c.listPorts(ctx, url.Values{"device_id": {router.ID}, "network_id": {networkID}})
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		attach := map[string]string{"subnet_id": subnetID}
		if err := c.do(ctx, "attach-router-interface", router.ID, http.MethodPut,
			serviceNetwork, "/v2.0/routers/"+router.ID+"/add_router_interface", attach, nil); err != nil {
			return "", err
		}
	}
	return router.ID, nil
}

func (c *Client) listPorts(ctx context.Context, query url.Values) ([]neutronPort, error) {
	var list struct {
		Ports []neutronPort `json:"ports"`
	}
	path := "/v2.0/ports?" + query.Encode()
	if err := c.do(ctx, "list-ports", "", http.MethodGet, serviceNetwork, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Ports, nil
}
