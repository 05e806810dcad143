package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"labelctl/internal/api"
	"labelctl/internal/config"
	"labelctl/internal/errdefs"
	"labelctl/internal/orchestrator"
	"labelctl/internal/store"
)

// CLIClient provides a simplified MCP client for CLI commands
type CLIClient struct {
	endpoint string
	client   client.MCPClient
	timeout  time.Duration
}

// DetectEndpoint finds the control endpoint of the daemon owning cfg's data
// directory. The port comes from the persisted "control" binding, falling
// back to the configured port when the daemon never bound one.
func DetectEndpoint(cfg config.LabelctlConfig) (string, error) {
	host := cfg.Control.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Control.Port

	dbPath := cfg.DatabasePath()
	if _, err := os.Stat(dbPath); err != nil {
		return "", errdefs.Permanent(err, "start the daemon with 'labelctl serve'", "no labelctl state found at %s", dbPath)
	}
	st, err := store.Open(dbPath, store.WithQuietLogger())
	if err != nil {
		return "", fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	b, err := st.GetPortBinding(config.ServiceControl)
	switch {
	case err == nil:
		port = b.BoundPort
	case errdefs.IsNotFound(err):
	default:
		return "", err
	}
	if port == 0 {
		return "", errdefs.Permanent(nil, "start the daemon with 'labelctl serve'", "no control port recorded")
	}
	return fmt.Sprintf("http://%s:%d%s", host, port, api.EndpointPath), nil
}

// NewCLIClient creates a new CLI client for the daemon configured by cfg
func NewCLIClient(cfg config.LabelctlConfig) (*CLIClient, error) {
	endpoint, err := DetectEndpoint(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to detect control endpoint: %w", err)
	}
	return NewCLIClientWithEndpoint(endpoint), nil
}

// NewCLIClientWithEndpoint creates a new CLI client with a specific endpoint
func NewCLIClientWithEndpoint(endpoint string) *CLIClient {
	return &CLIClient{
		endpoint: endpoint,
		timeout:  30 * time.Second,
	}
}

// Endpoint returns the URL the client talks to.
func (c *CLIClient) Endpoint() string { return c.endpoint }

// Connect establishes connection to the daemon
func (c *CLIClient) Connect(ctx context.Context) error {
	// Create streamable-http client
	httpClient, err := client.NewStreamableHttpClient(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to create streamable-http client: %w", err)
	}
	c.client = httpClient

	// Start the streamable-http transport
	if err := httpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start streamable-http client: %w", err)
	}

	// Initialize the session
	if err := c.initialize(ctx); err != nil {
		httpClient.Close()
		c.client = nil
		return errdefs.Transient(err, "failed to reach labelctl daemon at %s (is 'labelctl serve' running?)", c.endpoint)
	}

	return nil
}

// CallTool executes a tool and returns the result
func (c *CLIClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	req := mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.CallTool(timeoutCtx, req)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	return result, nil
}

// CallToolSimple executes a tool and returns the text content as a string
func (c *CLIClient) CallToolSimple(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	result, err := c.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}

	if result.IsError {
		return "", fmt.Errorf("%s", strings.Join(texts(result), "\n"))
	}

	output := texts(result)
	if len(output) == 0 {
		return "", nil
	}
	return output[0], nil
}

// CallToolJSON executes a tool and decodes its JSON text into out
func (c *CLIClient) CallToolJSON(ctx context.Context, name string, args map[string]interface{}, out interface{}) error {
	textResult, err := c.CallToolSimple(ctx, name, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(textResult), out); err != nil {
		return fmt.Errorf("unexpected %s response: %w", name, err)
	}
	return nil
}

// Close closes the connection
func (c *CLIClient) Close() error {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	return nil
}

// initialize performs the MCP protocol handshake
func (c *CLIClient) initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "labelctl-cli",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.Initialize(timeoutCtx, req)
	return err
}

func texts(result *mcp.CallToolResult) []string {
	var out []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			out = append(out, textContent.Text)
		}
	}
	return out
}

// Status fetches the daemon status snapshot.
func (c *CLIClient) Status(ctx context.Context) (orchestrator.Snapshot, error) {
	var snap orchestrator.Snapshot
	err := c.CallToolJSON(ctx, api.ToolStatus, nil, &snap)
	return snap, err
}

// Rescan asks the daemon to rediscover printers.
func (c *CLIClient) Rescan(ctx context.Context) error {
	_, err := c.CallToolSimple(ctx, api.ToolPrinterRescan, nil)
	return err
}
