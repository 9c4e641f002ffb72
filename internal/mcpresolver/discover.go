package mcpresolver

import (
	"context"
	"fmt"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/agor/agord/internal/model"
	"github.com/agor/agord/internal/repository"
)

// Discoverer implements DiscoverCapabilities (§4.4): it connects to one
// MCP server, lists its tools/resources/prompts, and persists the result.
// Concurrent discovery requests for the same server id are coalesced onto
// a single in-flight connection via singleflight, matching the spec's
// "concurrent discovery on the same server is coalesced" requirement.
//
// Grounded on vanducng-goclaw/internal/mcp/manager_connect.go's
// createClient/Initialize/ListTools sequence (transport-specific client
// construction, explicit Start for non-stdio transports, the MCP
// handshake before any list call), extended here to also list resources
// and prompts and to persist into the Repository instead of an in-memory
// tool registry.
type Discoverer struct {
	repo    MCPServerStore
	group   singleflight.Group
	timeout time.Duration
}

// NewDiscoverer builds a Discoverer. timeout bounds the whole
// connect+handshake+list sequence; zero defaults to 30s.
func NewDiscoverer(repo MCPServerStore, timeout time.Duration) *Discoverer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Discoverer{repo: repo, timeout: timeout}
}

// MCPServerStore is the narrow Repository surface Discoverer needs;
// repository.Repository satisfies this directly via its MCPServers()
// accessor.
type MCPServerStore interface {
	MCPServers() repository.MCPServers
}

// DiscoverCapabilities connects to serverID, lists its tools, resources,
// and prompts, and persists the counts/names plus a discovered_at
// timestamp. A connect, handshake or persist failure is tolerated per §7's
// mcp_discovery_failed: it is returned to the caller and leaves the
// previously-persisted capabilities as they were. A tools, resources or
// prompts list call that fails is not reported; that list is persisted as
// empty.
func (d *Discoverer) DiscoverCapabilities(ctx context.Context, serverID string) (*model.DiscoveredCapabilities, error) {
	v, err, _ := d.group.Do(serverID, func() (any, error) {
		return d.discover(ctx, serverID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.DiscoveredCapabilities), nil
}

func (d *Discoverer) discover(ctx context.Context, serverID string) (*model.DiscoveredCapabilities, error) {
	srv, err := d.repo.MCPServers().FindByID(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("load mcp server: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	client, err := d.newClient(srv)
	if err != nil {
		return nil, mcpDiscoveryFailed(srv.Name, err)
	}
	defer client.Close()

	if srv.Transport != model.TransportStdio {
		if err := client.Start(ctx); err != nil {
			return nil, mcpDiscoveryFailed(srv.Name, fmt.Errorf("start transport: %w", err))
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "agor", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		return nil, mcpDiscoveryFailed(srv.Name, fmt.Errorf("initialize: %w", err))
	}

	caps := &model.DiscoveredCapabilities{DiscoveredAt: time.Now()}

	if toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{}); err == nil {
		for _, t := range toolsResult.Tools {
			caps.Tools = append(caps.Tools, t.Name)
		}
	}
	if resourcesResult, err := client.ListResources(ctx, mcpgo.ListResourcesRequest{}); err == nil {
		for _, res := range resourcesResult.Resources {
			caps.Resources = append(caps.Resources, res.Name)
		}
	}
	if promptsResult, err := client.ListPrompts(ctx, mcpgo.ListPromptsRequest{}); err == nil {
		for _, p := range promptsResult.Prompts {
			caps.Prompts = append(caps.Prompts, p.Name)
		}
	}

	patch := map[string]any{
		"discovered": map[string]any{
			"tools":         caps.Tools,
			"resources":     caps.Resources,
			"prompts":       caps.Prompts,
			"discovered_at": caps.DiscoveredAt,
		},
	}
	if _, err := d.repo.MCPServers().Update(ctx, serverID, patch); err != nil {
		return nil, fmt.Errorf("persist discovered capabilities: %w", err)
	}
	return caps, nil
}

func (d *Discoverer) newClient(srv *model.MCPServer) (*mcpclient.Client, error) {
	switch srv.Transport {
	case model.TransportStdio:
		env := make([]string, 0, len(srv.Env))
		for k, v := range srv.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(srv.Command, env, srv.Args...)
	case model.TransportSSE:
		return mcpclient.NewSSEMCPClient(srv.URL)
	case model.TransportHTTP:
		return mcpclient.NewStreamableHttpClient(srv.URL)
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}
}
