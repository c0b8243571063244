package domain

import "fmt"

// VMResource is one VM owned by a deployment. Name is the idempotency
// token used against the backend; Group ties the VM to its template group.
type VMResource struct {
	ID    string
	Name  string
	Group string
	IP    string
}

// ResourceManifest lists every backend resource a deployment owns. VMs
// keeps creation order: scale-in removes from the tail (most recent
// first), so order is load-bearing. Serial counts VM name tokens ever
// issued for the deployment and never decreases, keeping re-created
// names distinct from half-deleted predecessors.
type ResourceManifest struct {
	NetworkID string
	SubnetIDs []string
	RouterID  string
	VMs       []VMResource
	Serial    int
}

// Empty reports whether no backend resources remain.
func (m *ResourceManifest) Empty() bool {
	return m == nil || (m.NetworkID == "" && m.RouterID == "" && len(m.SubnetIDs) == 0 && len(m.VMs) == 0)
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (m *ResourceManifest) Clone() *ResourceManifest {
	if m == nil {
		return nil
	}
	out := &ResourceManifest{
		NetworkID: m.NetworkID,
		RouterID:  m.RouterID,
		Serial:    m.Serial,
	}
	if m.SubnetIDs != nil {
		out.SubnetIDs = append([]string(nil), m.SubnetIDs...)
	}
	if m.VMs != nil {
		out.VMs = append([]VMResource(nil), m.VMs...)
	}
	return out
}

// AppendVMs adds VMs in creation order. Workflows advance Serial
// separately when they issue name tokens, so a failed create still burns
// its token.
func (m *ResourceManifest) AppendVMs(vms ...VMResource) {
	m.VMs = append(m.VMs, vms...)
}

// VMName builds the idempotency name token for the serial-th VM of a
// deployment group.
func VMName(id DeploymentID, group string, serial int) string {
	return fmt.Sprintf("%s-%s-%d", id, group, serial)
}

// NetworkName builds the idempotency name token for a deployment's network.
func NetworkName(id DeploymentID) string {
	return string(id) + "-network"
}

// SubnetName builds the subnet name derived from the network name.
func SubnetName(id DeploymentID) string {
	return NetworkName(id) + "-subnet"
}

// RemoveVM removes the VM with the given backend id, preserving the
// order of the rest. It reports whether the id was present.
func (m *ResourceManifest) RemoveVM(id string) bool {
	for i, vm := range m.VMs {
		if vm.ID == id {
			m.VMs = append(m.VMs[:i], m.VMs[i+1:]...)
			return true
		}
	}
	return false
}

// GroupVMs returns the VMs of one group in creation order.
func (m *ResourceManifest) GroupVMs(group string) []VMResource {
	if m == nil {
		return nil
	}
	var out []VMResource
	for _, vm := range m.VMs {
		if vm.Group == group {
			out = append(out, vm)
		}
	}
	return out
}

// VMIDs returns all VM backend ids in creation order.
func (m *ResourceManifest) VMIDs() []string {
	if m == nil {
		return nil
	}
	ids := make([]string, len(m.VMs))
	for i, vm := range m.VMs {
		ids[i] = vm.ID
	}
	return ids
}

// IPs returns the known VM addresses in creation order, skipping VMs
// whose address was never learned.
func (m *ResourceManifest) IPs() []string {
	if m == nil {
		return nil
	}
	var ips []string
	for _, vm := range m.VMs {
		if vm.IP != "" {
			ips = append(ips, vm.IP)
		}
	}
	return ips
}

// ScaleInVictims selects the n most recently created VMs of a group,
// most recent first.
func (m *ResourceManifest) ScaleInVictims(group string, n int) []VMResource {
	vms := m.GroupVMs(group)
	if n > len(vms) {
		n = len(vms)
	}
	victims := make([]VMResource, 0, n)
	for i := len(vms) - 1; i >= len(vms)-n; i-- {
		victims = append(victims, vms[i])
	}
	return victims
}
