// Package openstack implements the compute and network backend ports
// against OpenStack's Keystone, Nova, and Neutron HTTP APIs.
package openstack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// tokenRefreshLead renews the cached Keystone token this long before it
// expires, so in-flight requests never race the expiry.
const tokenRefreshLead = 5 * time.Minute

// Options configure a [Client]. AuthURL is the Keystone v3 root,
// e.g. https://keystone.example:5000/v3.
type Options struct {
	AuthURL     string
	Username    string
	Password    string
	ProjectName string
	// DomainName scopes both the user and the project. Defaults to
	// "Default".
	DomainName string
	// Region selects public endpoints from the service catalog.
	Region string

	// HTTPClient overrides the transport, mainly for tests. The default
	// carries a 30s timeout as a backstop behind per-call contexts.
	HTTPClient *http.Client
}

// Client talks to one OpenStack region. It implements
// [domain.ComputeClient] and [domain.NetworkClient], classifying every
// failure as a [domain.BackendError]. Safe for concurrent use.
type Client struct {
	authURL     string
	username    string
	password    string
	projectName string
	domainName  string
	region      string
	httpClient  *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	catalog   map[string]string
}

// New creates a client. No network traffic happens until the first call.
func New(opts Options) *Client {
	if opts.DomainName == "" {
		opts.DomainName = "Default"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		authURL:     strings.TrimRight(opts.AuthURL, "/"),
		username:    opts.Username,
		password:    opts.Password,
		projectName: opts.ProjectName,
		domainName:  opts.DomainName,
		region:      opts.Region,
		httpClient:  opts.HTTPClient,
	}
}

// Keystone wire types.

type domainRef struct {
	Name string `json:"name"`
}

type authRequest struct {
	Auth authSpec `json:"auth"`
}

type authSpec struct {
	Identity identitySpec `json:"identity"`
	Scope    scopeSpec    `json:"scope"`
}

type identitySpec struct {
	Methods  []string     `json:"methods"`
	Password passwordSpec `json:"password"`
}

type passwordSpec struct {
	User userSpec `json:"user"`
}

type userSpec struct {
	Name     string    `json:"name"`
	Domain   domainRef `json:"domain"`
	Password string    `json:"password"`
}

type scopeSpec struct {
	Project projectSpec `json:"project"`
}

type projectSpec struct {
	Name   string    `json:"name"`
	Domain domainRef `json:"domain"`
}

type tokenResponse struct {
	Token struct {
		ExpiresAt time.Time      `json:"expires_at"`
		Catalog   []catalogEntry `json:"catalog"`
	} `json:"token"`
}

type catalogEntry struct {
	Type      string `json:"type"`
	Endpoints []struct {
		Interface string `json:"interface"`
		Region    string `json:"region"`
		URL       string `json:"url"`
	} `json:"endpoints"`
}

// authToken returns a valid Keystone token, reusing the cached one until
// it is within tokenRefreshLead of expiry.
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt.Add(-tokenRefreshLead)) {
		return c.token, nil
	}

	payload := authRequest{}
	payload.Auth.Identity.Methods = []string{"password"}
	payload.Auth.Identity.Password.User = userSpec{
		Name:     c.username,
		Domain:   domainRef{Name: c.domainName},
		Password: c.password,
	}
	payload.Auth.Scope.Project = projectSpec{
		Name:   c.projectName,
		Domain: domainRef{Name: c.domainName},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/auth/tokens", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError("authenticate", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewTransientError("authenticate", "read response", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return "", domain.NewInvalidSpecError("authenticate", "unauthorized: check credentials", nil)
	}
	if resp.StatusCode >= 400 {
		return "", classify("authenticate", "", resp.StatusCode, respBody)
	}

	token := resp.Header.Get("X-Subject-Token")
	if token == "" {
		return "", domain.NewTransientError("authenticate", "no token in response headers", nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", domain.NewTransientError("authenticate", "decode token response", err)
	}

	c.token = token
	c.expiresAt = tr.Token.ExpiresAt
	c.catalog = map[string]string{}
	for _, svc := range tr.Token.Catalog {
		for _, ep := range svc.Endpoints {
			if ep.Interface == "public" && ep.Region == c.region {
				c.catalog[svc.Type] = strings.TrimRight(ep.URL, "/")
			}
		}
	}
	return token, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Service catalog types the client resolves endpoints for.
const (
	serviceCompute = "compute"
	serviceNetwork = "network"
)

// endpoint prefers the catalog's public endpoint for the service and
// falls back to the conventional Nova/Neutron ports next to Keystone.
// Call after authToken so the catalog is populated.
func (c *Client) endpoint(service string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.catalog[service]; ok {
		return ep
	}
	base := strings.TrimSuffix(c.authURL, "/v3")
	switch service {
	case serviceCompute:
		return strings.Replace(base, ":5000", ":8774", 1) + "/v2.1"
	case serviceNetwork:
		return strings.Replace(base, ":5000", ":9696", 1)
	}
	return base
}

// do issues one authenticated request against a catalog service and
// decodes the response into out when out is non-nil. resource names the
// backend-side id for not-found classification; pass "" when there is
// none.
func (c *Client) do(ctx context.Context, op, resource, method, service, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(service)+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("X-Auth-Token", token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransientError(op, "read response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// The cached token was revoked server-side; drop it so the
		// next attempt re-authenticates.
		c.invalidateToken()
		return domain.NewTransientError(op, "token rejected", nil)
	}
	if resp.StatusCode >= 400 {
		return classify(op, resource, resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return domain.NewTransientError(op, "decode response", err)
		}
	}
	return nil
}

// transportError classifies a request that never produced a status code.
func transportError(op string, err error) error {
	var ue *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ue) && ue.Timeout()) {
		return domain.NewTimeoutError(op, "request deadline exceeded", err)
	}
	return domain.NewTransientError(op, "request failed", err)
}

// classify maps an HTTP error status onto the failure taxonomy: 400 is a
// bad spec, 403 with quota text a quota rejection (other 403s are
// permanent), 404 missing, and 409/429/5xx transient.
func classify(op, resource string, status int, body []byte) error {
	msg := errorMessage(status, body)
	switch {
	case status == http.StatusBadRequest:
		return domain.NewInvalidSpecError(op, msg, nil)
	case status == http.StatusForbidden && strings.Contains(strings.ToLower(string(body)), "quota"):
		return domain.NewQuotaError(op, msg, nil)
	case status == http.StatusForbidden:
		return domain.NewInvalidSpecError(op, msg, nil)
	case status == http.StatusNotFound:
		return domain.NewNotFoundError(op, resource)
	case status == http.StatusConflict || status == http.StatusTooManyRequests || status >= 500:
		return domain.NewTransientError(op, msg, nil)
	}
	return domain.NewResourceError(op, resource, msg)
}

func errorMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return fmt.Sprintf("HTTP %d", status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, text)
}
