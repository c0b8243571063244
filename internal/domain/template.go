package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Defaults applied when a template omits optional fields.
const (
	DefaultVMGroupName = "default"
	DefaultFlavor      = "m1.small"
	DefaultImage       = "ubuntu-22.04"
	DefaultNetworkCIDR = "192.168.1.0/24"

	// MaxVMsPerGroup bounds scale targets and template counts.
	MaxVMsPerGroup = 100
)

// NetworkSpec describes the network a deployment's VMs attach to.
type NetworkSpec struct {
	CIDR         string `validate:"omitempty,cidrv4"`
	AttachRouter bool
}

// VMGroupSpec describes one homogeneous group of VMs.
type VMGroupSpec struct {
	Name   string
	Flavor string `validate:"required"`
	Image  string `validate:"required"`
	Count  int    `validate:"min=1,max=100"`
}

// Template is the declarative description of a deployment's desired
// infrastructure.
type Template struct {
	Network  NetworkSpec
	VMGroups []VMGroupSpec `validate:"min=1,dive"`
}

// Normalized returns a copy with defaults filled in for omitted fields.
func (t Template) Normalized() Template {
	if t.Network.CIDR == "" {
		t.Network.CIDR = DefaultNetworkCIDR
	}
	if len(t.VMGroups) == 0 {
		t.VMGroups = []VMGroupSpec{{}}
	}
	groups := make([]VMGroupSpec, len(t.VMGroups))
	copy(groups, t.VMGroups)
	for i := range groups {
		if groups[i].Name == "" {
			groups[i].Name = DefaultVMGroupName
		}
		if groups[i].Flavor == "" {
			groups[i].Flavor = DefaultFlavor
		}
		if groups[i].Image == "" {
			groups[i].Image = DefaultImage
		}
		if groups[i].Count == 0 {
			groups[i].Count = 1
		}
	}
	t.VMGroups = groups
	return t
}

// Validate checks the normalized template against field constraints and
// group-name uniqueness. Violations wrap ErrInvalidArgument.
func (t Template) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: template: %v", ErrInvalidArgument, err)
	}
	seen := make(map[string]bool, len(t.VMGroups))
	for _, g := range t.VMGroups {
		if seen[g.Name] {
			return fmt.Errorf("%w: template: duplicate vm group %q", ErrInvalidArgument, g.Name)
		}
		seen[g.Name] = true
	}
	return nil
}

// Group returns the named VM group spec.
func (t Template) Group(name string) (VMGroupSpec, error) {
	for _, g := range t.VMGroups {
		if g.Name == name {
			return g, nil
		}
	}
	return VMGroupSpec{}, fmt.Errorf("%w: vm group %q", ErrNotFound, name)
}

// Parameters are caller-supplied overrides merged into the template at
// operation time. Zero values leave the template value in place.
type Parameters struct {
	VMCount int
	Flavor  string
	Image   string
}

// Empty reports whether no overrides are set.
func (p Parameters) Empty() bool {
	return p.VMCount == 0 && p.Flavor == "" && p.Image == ""
}

// WithParameters merges overrides into a normalized copy of the template.
// Flavor and image apply to every group; VMCount requires a single group
// since the override cannot name one.
func (t Template) WithParameters(p Parameters) (Template, error) {
	out := t.Normalized()
	if p.VMCount != 0 && len(out.VMGroups) != 1 {
		return Template{}, fmt.Errorf("%w: vm_count override requires exactly one vm group, template has %d",
			ErrInvalidArgument, len(out.VMGroups))
	}
	for i := range out.VMGroups {
		if p.Flavor != "" {
			out.VMGroups[i].Flavor = p.Flavor
		}
		if p.Image != "" {
			out.VMGroups[i].Image = p.Image
		}
		if p.VMCount != 0 {
			out.VMGroups[i].Count = p.VMCount
		}
	}
	if err := out.Validate(); err != nil {
		return Template{}, err
	}
	return out, nil
}

// UpdateDiff describes the mutations an update operation applies to live
// infrastructure. Zero fields are skipped.
type UpdateDiff struct {
	Flavor      string
	NetworkCIDR string `validate:"omitempty,cidrv4"`
}

// Empty reports whether the diff mutates nothing.
func (d UpdateDiff) Empty() bool {
	return d.Flavor == "" && d.NetworkCIDR == ""
}

// Validate checks the diff's field syntax.
func (d UpdateDiff) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: update diff: %v", ErrInvalidArgument, err)
	}
	return nil
}
