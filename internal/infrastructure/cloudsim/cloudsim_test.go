package cloudsim_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
	"github.com/Sugu-Inc/modern-onap-so/internal/infrastructure/cloudsim"
)

func TestCreateServer_IdempotentByName(t *testing.T) {
	cloud := cloudsim.New()
	ctx := context.Background()

	first, err := cloud.CreateServer(ctx, domain.ServerRequest{Name: "d1-web-0", Flavor: "m1.small"})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	second, err := cloud.CreateServer(ctx, domain.ServerRequest{Name: "d1-web-0", Flavor: "m1.small"})
	if err != nil {
		t.Fatalf("second CreateServer: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("re-create returned new server: %q then %q", first.ID, second.ID)
	}
	if cloud.ServerCount() != 1 {
		t.Errorf("ServerCount = %d, want 1", cloud.ServerCount())
	}
}

func TestGetServer_BuildsThenActivates(t *testing.T) {
	cloud := cloudsim.New()
	cloud.BuildPolls = 2
	ctx := context.Background()

	res, err := cloud.CreateServer(ctx, domain.ServerRequest{Name: "d1-web-0"})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	if res.Status != domain.ServerStatusBuilding {
		t.Fatalf("initial status = %q, want BUILD", res.Status)
	}

	info, _ := cloud.GetServer(ctx, res.ID)
	if info.Status != domain.ServerStatusBuilding {
		t.Errorf("after first poll: status = %q, want BUILD", info.Status)
	}
	if info.IP != "" {
		t.Errorf("building server leaked IP %q", info.IP)
	}

	info, _ = cloud.GetServer(ctx, res.ID)
	if info.Status != domain.ServerStatusActive {
		t.Errorf("after second poll: status = %q, want ACTIVE", info.Status)
	}
	if info.IP == "" {
		t.Error("active server has no IP")
	}
}

func TestFailNext_QueuesInOrder(t *testing.T) {
	cloud := cloudsim.New()
	ctx := context.Background()
	scripted := domain.NewTransientError("create server", "compute briefly down", nil)
	cloud.FailNext("create-server", "d1-web-0", scripted)

	if _, err := cloud.CreateServer(ctx, domain.ServerRequest{Name: "d1-web-0"}); !errors.Is(err, scripted) {
		t.Fatalf("first create: got %v, want scripted failure", err)
	}
	if _, err := cloud.CreateServer(ctx, domain.ServerRequest{Name: "d1-web-0"}); err != nil {
		t.Fatalf("second create: %v", err)
	}
}

func TestDeleteServer_MissingReportsNotFound(t *testing.T) {
	cloud := cloudsim.New()
	err := cloud.DeleteServer(context.Background(), "sim-vm-99")
	if !domain.IsNotFound(err) {
		t.Fatalf("DeleteServer: got %v, want not-found", err)
	}
}

func TestListByTag_MatchesDeploymentTag(t *testing.T) {
	cloud := cloudsim.New()
	ctx := context.Background()
	tags := map[string]string{domain.TagDeployment: "d1"}

	cloud.CreateServer(ctx, domain.ServerRequest{Name: "d1-web-0", Tags: tags})
	cloud.CreateServer(ctx, domain.ServerRequest{Name: "other", Tags: map[string]string{domain.TagDeployment: "d2"}})
	cloud.CreateNetwork(ctx, domain.NetworkRequest{Name: "d1-network", CIDR: "10.0.0.0/24", Tags: tags})

	servers, err := cloud.ListServersByTag(ctx, "d1")
	if err != nil {
		t.Fatalf("ListServersByTag: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "d1-web-0" {
		t.Errorf("servers = %+v, want just d1-web-0", servers)
	}

	networks, err := cloud.ListNetworksByTag(ctx, "d1")
	if err != nil {
		t.Fatalf("ListNetworksByTag: %v", err)
	}
	if len(networks) != 1 {
		t.Errorf("networks = %v, want one id", networks)
	}
}

func TestReplaceSubnet_SwapsSubnetAndCIDR(t *testing.T) {
	cloud := cloudsim.New()
	ctx := context.Background()

	net, err := cloud.CreateNetwork(ctx, domain.NetworkRequest{Name: "d1-network", CIDR: "10.0.0.0/24"})
	if err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}

	newSubnet, err := cloud.ReplaceSubnet(ctx, net.NetworkID, net.SubnetIDs[0], "10.1.0.0/24")
	if err != nil {
		t.Fatalf("ReplaceSubnet: %v", err)
	}
	if newSubnet == net.SubnetIDs[0] {
		t.Error("ReplaceSubnet returned the old subnet id")
	}
	if got := cloud.NetworkCIDR(net.NetworkID); got != "10.1.0.0/24" {
		t.Errorf("NetworkCIDR = %q, want 10.1.0.0/24", got)
	}
}
