package openstack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// serverStatusVerifyResize is Nova's holding state between a resize and
// its confirmation.
const serverStatusVerifyResize = "VERIFY_RESIZE"

// resizePollInterval paces the wait for a resized server to reach
// VERIFY_RESIZE.
const resizePollInterval = 2 * time.Second

// Nova wire types.

type novaServer struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name"`
	Status    string                   `json:"status"`
	Flavor    novaFlavor               `json:"flavor"`
	Metadata  map[string]string        `json:"metadata"`
	Addresses map[string][]novaAddress `json:"addresses"`
}

// novaFlavor carries both spellings Nova uses across microversions.
type novaFlavor struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
}

func (f novaFlavor) is(flavor string) bool {
	return f.ID == flavor || f.OriginalName == flavor
}

type novaAddress struct {
	Addr    string `json:"addr"`
	Version int    `json:"version"`
	Type    string `json:"OS-EXT-IPS:type"`
}

func (s novaServer) info() domain.ServerInfo {
	return domain.ServerInfo{ID: s.ID, Name: s.Name, Status: s.Status, IP: s.fixedIP()}
}

// fixedIP picks the server's fixed IPv4 address, scanning networks in
// name order so the result is stable across polls.
func (s novaServer) fixedIP() string {
	names := make([]string, 0, len(s.Addresses))
	for name := range s.Addresses {
		names = append(names, name)
	}
	sort.Strings(names)

	var fallback string
	for _, name := range names {
		for _, addr := range s.Addresses[name] {
			if addr.Version != 0 && addr.Version != 4 {
				continue
			}
			if addr.Type == "" || addr.Type == "fixed" {
				return addr.Addr
			}
			if fallback == "" {
				fallback = addr.Addr
			}
		}
	}
	return fallback
}

type serverCreateRequest struct {
	Server serverSpec `json:"server"`
}

type serverSpec struct {
	Name      string            `json:"name"`
	FlavorRef string            `json:"flavorRef"`
	ImageRef  string            `json:"imageRef"`
	Networks  []networkRef      `json:"networks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type networkRef struct {
	UUID string `json:"uuid"`
}

// CreateServer creates a VM, treating the name as the idempotency token:
// an existing server with the requested name is returned instead of a
// duplicate.
func (c *Client) CreateServer(ctx context.Context, req domain.ServerRequest) (domain.ServerResult, error) {
	existing, err := c.findServerByName(ctx, req.Name)
	if err != nil {
		return domain.ServerResult{}, err
	}
	if existing != nil {
		return domain.ServerResult{ID: existing.ID, Status: existing.Status}, nil
	}

	payload := serverCreateRequest{Server: serverSpec{
		Name:      req.Name,
		FlavorRef: req.Flavor,
		ImageRef:  req.Image,
		Networks:  []networkRef{{UUID: req.NetworkID}},
		Metadata:  req.Tags,
	}}

	var created struct {
		Server novaServer `json:"server"`
	}
	if err := c.do(ctx, "create-server", req.Name, http.MethodPost, serviceCompute, "/servers", payload, &created); err != nil {
		return domain.ServerResult{}, err
	}

	status := created.Server.Status
	if status == "" {
		// Nova's create response carries no status field.
		status = domain.ServerStatusBuilding
	}
	return domain.ServerResult{ID: created.Server.ID, Status: status}, nil
}

// findServerByName returns the server named name, or nil when none
// exists. Nova treats the name filter as a regex, so matching is
// re-checked exactly client-side.
func (c *Client) findServerByName(ctx context.Context, name string) (*novaServer, error) {
	var list struct {
		Servers []novaServer `json:"servers"`
	}
	path := "/servers/detail?" + url.Values{"name": {name}}.Encode()
	if err := c.do(ctx, "list-servers", "", http.MethodGet, serviceCompute, path, nil, &list); err != nil {
		return nil, err
	}
	for i := range list.Servers {
		if list.Servers[i].Name == name {
			return &list.Servers[i], nil
		}
	}
	return nil, nil
}

func (c *Client) GetServer(ctx context.Context, id string) (domain.ServerInfo, error) {
	s, err := c.getServer(ctx, id)
	if err != nil {
		return domain.ServerInfo{}, err
	}
	return s.info(), nil
}

func (c *Client) getServer(ctx context.Context, id string) (novaServer, error) {
	var got struct {
		Server novaServer `json:"server"`
	}
	if err := c.do(ctx, "get-server", id, http.MethodGet, serviceCompute, "/servers/"+id, nil, &got); err != nil {
		return novaServer{}, err
	}
	return got.Server, nil
}

func (c *Client) DeleteServer(ctx context.Context, id string) error {
	return c.do(ctx, "delete-server", id, http.MethodDelete, serviceCompute, "/servers/"+id, nil, nil)
}

// ResizeServer resizes a server and confirms the resize once Nova parks
// it in VERIFY_RESIZE. The caller's context bounds the whole exchange.
// A retried call resumes wherever the previous attempt stopped: an
// ACTIVE server on the wrong flavor posts the resize, a mid-resize
// server just waits, VERIFY_RESIZE confirms.
func (c *Client) ResizeServer(ctx context.Context, id, flavor string) error {
	actionPath := "/servers/" + id + "/action"

	s, err := c.getServer(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == domain.ServerStatusActive {
		if s.Flavor.is(flavor) {
			return nil
		}
		action := map[string]map[string]string{"resize": {"flavorRef": flavor}}
		if err := c.do(ctx, "resize-server", id, http.MethodPost, serviceCompute, actionPath, action, nil); err != nil {
			return err
		}
	}

	for {
		s, err := c.getServer(ctx, id)
		if err != nil {
			return err
		}
		switch s.Status {
		case serverStatusVerifyResize:
			confirm := map[string]any{"confirmResize": nil}
			return c.do(ctx, "resize-server", id, http.MethodPost, serviceCompute, actionPath, confirm, nil)
		case domain.ServerStatusError:
			return domain.NewResourceError("resize-server", id, "server entered ERROR during resize")
		case domain.ServerStatusActive:
			// Confirmed out of band; done once the flavor matches.
			if s.Flavor.is(flavor) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return domain.NewTimeoutError("resize-server",
				fmt.Sprintf("server %s did not reach %s", id, serverStatusVerifyResize), ctx.Err())
		case <-time.After(resizePollInterval):
		}
	}
}

// ListServersByTag lists servers whose metadata ties them to the
// deployment. Nova cannot filter arbitrary metadata server-side, so the
// detail listing is filtered here.
func (c *Client) ListServersByTag(ctx context.Context, tag string) ([]domain.ServerInfo, error) {
	var list struct {
		Servers []novaServer `json:"servers"`
	}
	if err := c.do(ctx, "list-servers", "", http.MethodGet, serviceCompute, "/servers/detail", nil, &list); err != nil {
		return nil, err
	}

	var infos []domain.ServerInfo
	for _, s := range list.Servers {
		if s.Metadata[domain.TagDeployment] == tag {
			infos = append(infos, s.info())
		}
	}
	return infos, nil
}
