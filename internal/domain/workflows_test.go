package domain_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// syncRunnerImpl runs activities synchronously (no durability).
type syncRunnerImpl struct {
	ctx context.Context
}

func (s *syncRunnerImpl) ID() string               { return "test-sync" }
func (s *syncRunnerImpl) Context() context.Context { return s.ctx }

func (s *syncRunnerImpl) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(s.ctx, in)
}

func (s *syncRunnerImpl) RunAll(activity domain.Activity[any, any], ins []any) ([]any, error) {
	results := make([]any, len(ins))
	errs := make([]error, len(ins))
	for i, in := range ins {
		out, err := activity.Run(s.ctx, in)
		if err != nil {
			errs[i] = err
			continue
		}
		results[i] = out
	}
	return results, domain.JoinErrors(errs)
}

// recordingRunner runs activities and records their names and VM-related
// inputs in order so tests can assert execution sequence.
type recordingRunner struct {
	ctx      context.Context
	delegate domain.DurableRunner
	records  []activityRecord
}

type activityRecord struct {
	Name string
	// VMID is set for delete-vm, poll-vm-active, poll-vm-gone, resize-vm.
	VMID string
	// VMName is set for create-vm.
	VMName string
}

func (r *recordingRunner) ID() string               { return r.delegate.ID() }
func (r *recordingRunner) Context() context.Context { return r.ctx }

func (r *recordingRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	r.record(activity.Name(), in)
	return r.delegate.Run(activity, in)
}

func (r *recordingRunner) RunAll(activity domain.Activity[any, any], ins []any) ([]any, error) {
	for _, in := range ins {
		r.record(activity.Name(), in)
	}
	return r.delegate.RunAll(activity, ins)
}

func (r *recordingRunner) record(name string, in any) {
	rec := activityRecord{Name: name}
	switch v := in.(type) {
	case domain.PollVMInput:
		rec.VMID = v.VMID
	case domain.ResizeVMInput:
		rec.VMID = v.VMID
	case domain.CreateVMInput:
		rec.VMName = v.Name
	}
	r.records = append(r.records, rec)
}

// firstIndex returns the position of the first record with the activity
// name, or -1.
func (r *recordingRunner) firstIndex(name string) int {
	for i, rec := range r.records {
		if rec.Name == name {
			return i
		}
	}
	return -1
}

// vmIDsFor returns the recorded VM ids of every invocation of name, in
// dispatch order.
func (r *recordingRunner) vmIDsFor(name string) []string {
	var ids []string
	for _, rec := range r.records {
		if rec.Name == name {
			ids = append(ids, rec.VMID)
		}
	}
	return ids
}

func (r *recordingRunner) count(name string) int {
	n := 0
	for _, rec := range r.records {
		if rec.Name == name {
			n++
		}
	}
	return n
}

// memDeploymentRepo is an in-memory [domain.DeploymentRepository] with the
// atomic read-modify-write Update the contract requires.
type memDeploymentRepo struct {
	mu   sync.Mutex
	byID map[domain.DeploymentID]domain.Deployment
}

func newMemDeploymentRepo() *memDeploymentRepo {
	return &memDeploymentRepo{byID: make(map[domain.DeploymentID]domain.Deployment)}
}

func cloneDeployment(d domain.Deployment) domain.Deployment {
	d.Resources = d.Resources.Clone()
	if d.Metadata != nil {
		md := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			md[k] = v
		}
		d.Metadata = md
	}
	if d.Failure != nil {
		f := *d.Failure
		d.Failure = &f
	}
	return d
}

func (r *memDeploymentRepo) Create(_ context.Context, d domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.byID[d.ID] = cloneDeployment(d)
	return nil
}

func (r *memDeploymentRepo) Get(_ context.Context, id domain.DeploymentID) (domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return domain.Deployment{}, domain.ErrNotFound
	}
	return cloneDeployment(d), nil
}

func (r *memDeploymentRepo) List(_ context.Context) ([]domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Deployment, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, cloneDeployment(d))
	}
	return out, nil
}

func (r *memDeploymentRepo) Update(_ context.Context, id domain.DeploymentID, mutate func(*domain.Deployment) error) (domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return domain.Deployment{}, domain.ErrNotFound
	}
	work := cloneDeployment(d)
	if err := mutate(&work); err != nil {
		return domain.Deployment{}, err
	}
	r.byID[id] = work
	return cloneDeployment(work), nil
}

// memRunRepo is an in-memory [domain.ConfigurationRunRepository].
type memRunRepo struct {
	mu   sync.Mutex
	runs []domain.ConfigurationRun
}

func (r *memRunRepo) Put(_ context.Context, run domain.ConfigurationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.runs {
		if existing.DeploymentID == run.DeploymentID && existing.ExecutionID == run.ExecutionID {
			r.runs[i] = run
			return nil
		}
	}
	r.runs = append(r.runs, run)
	return nil
}

func (r *memRunRepo) Get(_ context.Context, id domain.DeploymentID, exec string) (domain.ConfigurationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.DeploymentID == id && run.ExecutionID == exec {
			return run, nil
		}
	}
	return domain.ConfigurationRun{}, domain.ErrNotFound
}

func (r *memRunRepo) ListByDeployment(_ context.Context, id domain.DeploymentID) ([]domain.ConfigurationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ConfigurationRun
	for _, run := range r.runs {
		if run.DeploymentID == id {
			out = append(out, run)
		}
	}
	return out, nil
}

func (r *memRunRepo) DeleteByDeployment(_ context.Context, id domain.DeploymentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.runs[:0]
	for _, run := range r.runs {
		if run.DeploymentID != id {
			kept = append(kept, run)
		}
	}
	r.runs = kept
	return nil
}

// fakeCloud is an in-memory compute and network backend. Failures are
// scripted as per-key error queues popped one call at a time.
type fakeCloud struct {
	mu sync.Mutex

	nextServer int
	servers    map[string]*fakeServer

	nextNetwork int
	networks    map[string]*fakeNetwork
	nextSubnet  int

	createServerErrs  map[string][]error // keyed by requested name
	deleteServerErrs  map[string][]error // keyed by server id
	resizeServerErrs  map[string][]error // keyed by server id
	createNetworkErrs []error
	deleteNetworkErrs map[string][]error
	replaceSubnetErrs []error

	// serverStatus overrides the initial status of created servers by
	// name; buildPolls makes GetServer report BUILD that many times
	// before turning ACTIVE.
	serverStatus map[string]string
	buildPolls   map[string]int
}

type fakeServer struct {
	id     string
	name   string
	group  string
	flavor string
	image  string
	ip     string
	status string
	tags   map[string]string
}

type fakeNetwork struct {
	id      string
	name    string
	cidr    string
	subnets []string
	router  string
	tags    map[string]string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		servers:           make(map[string]*fakeServer),
		networks:          make(map[string]*fakeNetwork),
		createServerErrs:  make(map[string][]error),
		deleteServerErrs:  make(map[string][]error),
		resizeServerErrs:  make(map[string][]error),
		deleteNetworkErrs: make(map[string][]error),
		serverStatus:      make(map[string]string),
		buildPolls:        make(map[string]int),
	}
}

func popErr(m map[string][]error, key string) error {
	errs := m[key]
	if len(errs) == 0 {
		return nil
	}
	m[key] = errs[1:]
	return errs[0]
}

func (c *fakeCloud) failCreateServer(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createServerErrs[name] = append(c.createServerErrs[name], err)
}

func (c *fakeCloud) failDeleteServer(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteServerErrs[id] = append(c.deleteServerErrs[id], err)
}

func (c *fakeCloud) failResizeServer(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resizeServerErrs[id] = append(c.resizeServerErrs[id], err)
}

func (c *fakeCloud) failCreateNetwork(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createNetworkErrs = append(c.createNetworkErrs, err)
}

func (c *fakeCloud) CreateServer(_ context.Context, req domain.ServerRequest) (domain.ServerResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := popErr(c.createServerErrs, req.Name); err != nil {
		return domain.ServerResult{}, err
	}
	for _, s := range c.servers {
		if s.name == req.Name {
			return domain.ServerResult{ID: s.id, Status: s.status}, nil
		}
	}
	c.nextServer++
	s := &fakeServer{
		id:     fmt.Sprintf("vm-%d", c.nextServer),
		name:   req.Name,
		flavor: req.Flavor,
		image:  req.Image,
		ip:     fmt.Sprintf("10.0.0.%d", c.nextServer),
		status: domain.ServerStatusActive,
		tags:   req.Tags,
	}
	if st := c.serverStatus[req.Name]; st != "" {
		s.status = st
	}
	c.servers[s.id] = s
	return domain.ServerResult{ID: s.id, Status: s.status}, nil
}

func (c *fakeCloud) GetServer(_ context.Context, id string) (domain.ServerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[id]
	if !ok {
		return domain.ServerInfo{}, domain.NewNotFoundError("get-server", id)
	}
	info := domain.ServerInfo{ID: s.id, Name: s.name, Status: s.status}
	if c.buildPolls[s.name] > 0 {
		c.buildPolls[s.name]--
		info.Status = domain.ServerStatusBuilding
		return info, nil
	}
	if info.Status == domain.ServerStatusActive {
		info.IP = s.ip
	}
	return info, nil
}

func (c *fakeCloud) DeleteServer(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := popErr(c.deleteServerErrs, id); err != nil {
		return err
	}
	if _, ok := c.servers[id]; !ok {
		return domain.NewNotFoundError("delete-server", id)
	}
	delete(c.servers, id)
	return nil
}

func (c *fakeCloud) ResizeServer(_ context.Context, id, flavor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := popErr(c.resizeServerErrs, id); err != nil {
		return err
	}
	s, ok := c.servers[id]
	if !ok {
		return domain.NewNotFoundError("resize-server", id)
	}
	s.flavor = flavor
	return nil
}

func (c *fakeCloud) ListServersByTag(_ context.Context, tag string) ([]domain.ServerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.ServerInfo
	for _, s := range c.servers {
		if s.tags[domain.TagDeployment] == tag {
			out = append(out, domain.ServerInfo{ID: s.id, Name: s.name, Status: s.status, IP: s.ip})
		}
	}
	return out, nil
}

func (c *fakeCloud) CreateNetwork(_ context.Context, req domain.NetworkRequest) (domain.NetworkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.createNetworkErrs) > 0 {
		err := c.createNetworkErrs[0]
		c.createNetworkErrs = c.createNetworkErrs[1:]
		return domain.NetworkResult{}, err
	}
	for _, n := range c.networks {
		if n.name == req.Name {
			return domain.NetworkResult{NetworkID: n.id, SubnetIDs: n.subnets, RouterID: n.router}, nil
		}
	}
	c.nextNetwork++
	c.nextSubnet++
	n := &fakeNetwork{
		id:      fmt.Sprintf("net-%d", c.nextNetwork),
		name:    req.Name,
		cidr:    req.CIDR,
		subnets: []string{fmt.Sprintf("sub-%d", c.nextSubnet)},
		tags:    req.Tags,
	}
	if req.AttachRouter {
		n.router = fmt.Sprintf("rtr-%d", c.nextNetwork)
	}
	c.networks[n.id] = n
	return domain.NetworkResult{NetworkID: n.id, SubnetIDs: n.subnets, RouterID: n.router}, nil
}

func (c *fakeCloud) DeleteNetwork(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := popErr(c.deleteNetworkErrs, id); err != nil {
		return err
	}
	if _, ok := c.networks[id]; !ok {
		return domain.NewNotFoundError("delete-network", id)
	}
	delete(c.networks, id)
	return nil
}

func (c *fakeCloud) ReplaceSubnet(_ context.Context, networkID, _ string, cidr string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replaceSubnetErrs) > 0 {
		err := c.replaceSubnetErrs[0]
		c.replaceSubnetErrs = c.replaceSubnetErrs[1:]
		return "", err
	}
	n, ok := c.networks[networkID]
	if !ok {
		return "", domain.NewNotFoundError("replace-subnet", networkID)
	}
	c.nextSubnet++
	sub := fmt.Sprintf("sub-%d", c.nextSubnet)
	n.subnets = []string{sub}
	n.cidr = cidr
	return sub, nil
}

func (c *fakeCloud) ListNetworksByTag(_ context.Context, tag string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, n := range c.networks {
		if n.tags[domain.TagDeployment] == tag {
			out = append(out, n.id)
		}
	}
	return out, nil
}

func (c *fakeCloud) serverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.servers)
}

func (c *fakeCloud) networkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.networks)
}

func (c *fakeCloud) serverFlavor(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[id]; ok {
		return s.flavor
	}
	return ""
}

func (c *fakeCloud) networkCIDR(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.networks[id]; ok {
		return n.cidr
	}
	return ""
}

func (c *fakeCloud) seedServer(dep domain.DeploymentID, name, group, flavor, ip string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextServer++
	id := fmt.Sprintf("vm-%d", c.nextServer)
	c.servers[id] = &fakeServer{
		id: id, name: name, group: group, flavor: flavor, ip: ip,
		status: domain.ServerStatusActive,
		tags:   map[string]string{domain.TagDeployment: string(dep)},
	}
	return id
}

func (c *fakeCloud) seedNetwork(dep domain.DeploymentID, name, cidr string) domain.NetworkResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextNetwork++
	c.nextSubnet++
	n := &fakeNetwork{
		id:      fmt.Sprintf("net-%d", c.nextNetwork),
		name:    name,
		cidr:    cidr,
		subnets: []string{fmt.Sprintf("sub-%d", c.nextSubnet)},
		tags:    map[string]string{domain.TagDeployment: string(dep)},
	}
	c.networks[n.id] = n
	return domain.NetworkResult{NetworkID: n.id, SubnetIDs: n.subnets}
}

// fakeConfig scripts playbook outcomes. The zero value reports success.
type fakeConfig struct {
	mu       sync.Mutex
	status   domain.PlaybookStatus
	exitCode int
	message  string
	err      error
	calls    []domain.PlaybookRequest
}

func (f *fakeConfig) RunPlaybook(_ context.Context, req domain.PlaybookRequest) (domain.PlaybookResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return domain.PlaybookResult{}, f.err
	}
	status := f.status
	if status == "" {
		status = domain.PlaybookSuccessful
	}
	return domain.PlaybookResult{
		ExecutionID: req.ExecutionID,
		Status:      status,
		ExitCode:    f.exitCode,
		Message:     f.message,
	}, nil
}

// testEnv wires the activity library to in-memory fakes with timeouts
// short enough for poll loops to expire inside a test.
type testEnv struct {
	deployments *memDeploymentRepo
	runs        *memRunRepo
	cloud       *fakeCloud
	playbooks   *fakeConfig
	activities  *domain.Activities
}

func newTestEnv() *testEnv {
	env := &testEnv{
		deployments: newMemDeploymentRepo(),
		runs:        &memRunRepo{},
		cloud:       newFakeCloud(),
		playbooks:   &fakeConfig{},
	}
	execN := 0
	env.activities = &domain.Activities{
		Deployments: env.deployments,
		Runs:        env.runs,
		Compute:     env.cloud,
		Network:     env.cloud,
		Config:      env.playbooks,
		Retry:       domain.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Factor: 2, MaxDelay: time.Millisecond},
		Timeouts: domain.Timeouts{
			Backend:      time.Second,
			PollInterval: time.Millisecond,
			VMActive:     100 * time.Millisecond,
			VMGone:       100 * time.Millisecond,
			Playbook:     time.Second,
		},
		Now: func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) },
		NewExecutionID: func() string {
			execN++
			return fmt.Sprintf("exec-%d", execN)
		},
	}
	return env
}

func (e *testEnv) runner() *recordingRunner {
	ctx := context.Background()
	return &recordingRunner{ctx: ctx, delegate: &syncRunnerImpl{ctx: ctx}}
}

// createPending stores a PENDING deployment with a single VM group.
func (e *testEnv) createPending(t *testing.T, id domain.DeploymentID, group string, count int) domain.Deployment {
	t.Helper()
	d := domain.Deployment{
		ID:     id,
		Name:   string(id),
		Status: domain.StatusPending,
		Template: domain.Template{
			Network: domain.NetworkSpec{CIDR: "192.168.1.0/24"},
			VMGroups: []domain.VMGroupSpec{
				{Name: group, Flavor: "m1.small", Image: "ubuntu-22.04", Count: count},
			},
		},
		CloudRegion: "region-one",
	}
	if err := e.deployments.Create(context.Background(), d); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return d
}

// seedDeployed stores a COMPLETED deployment whose network and VMs exist
// in the fake backend, as if a deploy had already run.
func (e *testEnv) seedDeployed(t *testing.T, id domain.DeploymentID, group string, vms int) domain.Deployment {
	t.Helper()
	net := e.cloud.seedNetwork(id, domain.NetworkName(id), "192.168.1.0/24")
	manifest := &domain.ResourceManifest{
		NetworkID: net.NetworkID,
		SubnetIDs: net.SubnetIDs,
		Serial:    vms,
	}
	for i := 0; i < vms; i++ {
		name := domain.VMName(id, group, i)
		ip := fmt.Sprintf("10.0.0.%d", i+1)
		vmID := e.cloud.seedServer(id, name, group, "m1.small", ip)
		manifest.AppendVMs(domain.VMResource{ID: vmID, Name: name, Group: group, IP: ip})
	}
	d := domain.Deployment{
		ID:     id,
		Name:   string(id),
		Status: domain.StatusCompleted,
		Template: domain.Template{
			Network: domain.NetworkSpec{CIDR: "192.168.1.0/24"},
			VMGroups: []domain.VMGroupSpec{
				{Name: group, Flavor: "m1.small", Image: "ubuntu-22.04", Count: vms},
			},
		},
		CloudRegion: "region-one",
		Resources:   manifest,
	}
	if err := e.deployments.Create(context.Background(), d); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return d
}

func (e *testEnv) deployment(t *testing.T, id domain.DeploymentID) domain.Deployment {
	t.Helper()
	d, err := e.deployments.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return d
}

// TestLifecycle_DeployScaleConfigureDelete drives one deployment through
// the full lifecycle and checks that the backend ends empty.
func TestLifecycle_DeployScaleConfigureDelete(t *testing.T) {
	env := newTestEnv()
	env.createPending(t, "d1", "web", 2)

	deploy := &domain.DeployWorkflow{Activities: env.activities}
	if res, err := deploy.Run(env.runner(), domain.DeployInput{DeploymentID: "d1"}); err != nil {
		t.Fatalf("deploy: %v", err)
	} else if res.Status != domain.StatusCompleted {
		t.Fatalf("deploy status = %q, failure = %+v", res.Status, res.Failure)
	}

	scale := &domain.ScaleWorkflow{Activities: env.activities}
	res, err := scale.Run(env.runner(), domain.ScaleInput{DeploymentID: "d1", Group: "web", TargetCount: 4})
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if res.Status != domain.StatusCompleted || res.CurrentCount != 4 {
		t.Fatalf("scale = %+v, want COMPLETED with 4 VMs", res)
	}

	configure := &domain.ConfigureWorkflow{Activities: env.activities}
	cres, err := configure.Run(env.runner(), domain.ConfigureInput{DeploymentID: "d1", Playbook: "site.yml"})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if cres.Status != domain.StatusCompleted || len(cres.ConfiguredHosts) != 4 {
		t.Fatalf("configure = %+v, want COMPLETED over 4 hosts", cres)
	}

	del := &domain.DeleteWorkflow{Activities: env.activities}
	dres, err := del.Run(env.runner(), domain.DeleteInput{DeploymentID: "d1"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if dres.Status != domain.StatusDeleted {
		t.Fatalf("delete status = %q, failure = %+v", dres.Status, dres.Failure)
	}

	final := env.deployment(t, "d1")
	if final.Status != domain.StatusDeleted {
		t.Errorf("final status = %q, want DELETED", final.Status)
	}
	if final.DeletedAt == nil {
		t.Error("DeletedAt = nil, want stamped")
	}
	if !final.Resources.Empty() {
		t.Errorf("Resources = %+v, want empty", final.Resources)
	}
	if env.cloud.serverCount() != 0 || env.cloud.networkCount() != 0 {
		t.Errorf("backend still holds %d servers and %d networks, want none",
			env.cloud.serverCount(), env.cloud.networkCount())
	}
	runs, _ := env.runs.ListByDeployment(context.Background(), "d1")
	if len(runs) != 1 {
		t.Errorf("configuration runs = %d, want 1", len(runs))
	}
}
