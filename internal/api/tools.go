package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"labelctl/internal/errdefs"
	"labelctl/internal/tunnel"
	"labelctl/pkg/logging"
)

// Tool names, shared with the CLI.
const (
	ToolStatus          = "status"
	ToolPortsList       = "ports_list"
	ToolPrinterList     = "printer_list"
	ToolPrinterRescan   = "printer_rescan"
	ToolPrinterRemove   = "printer_remove"
	ToolTunnelList      = "tunnel_list"
	ToolTunnelSetDomain = "tunnel_set_domain"
	ToolTunnelConfigure = "tunnel_configure"
	ToolTunnelStart     = "tunnel_start"
	ToolTunnelStop      = "tunnel_stop"
)

// RescanResult is the payload of printer_rescan.
type RescanResult struct {
	Discovered int      `json:"discovered"`
	Created    []string `json:"created"`
	Present    []string `json:"present"`
	Errors     []string `json:"errors,omitempty"`
}

// ActionResult is the payload of the mutating tunnel and printer tools.
type ActionResult struct {
	Message string       `json:"message"`
	Tunnel  *tunnel.Info `json:"tunnel,omitempty"`
}

func providerArg() mcp.ToolOption {
	return mcp.WithString("provider",
		mcp.Required(),
		mcp.Description("Tunnel provider"),
		mcp.Enum(tunnel.Providers()...),
	)
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(ToolStatus,
				mcp.WithDescription("Consolidated status of ports, printers and tunnels"),
			),
			Handler: s.handleStatus,
		},
		{
			Tool: mcp.NewTool(ToolPortsList,
				mcp.WithDescription("List persisted port bindings"),
			),
			Handler: s.handlePortsList,
		},
		{
			Tool: mcp.NewTool(ToolPrinterList,
				mcp.WithDescription("List registered printers with their spooler state"),
			),
			Handler: s.handlePrinterList,
		},
		{
			Tool: mcp.NewTool(ToolPrinterRescan,
				mcp.WithDescription("Discover attached printers and register new ones"),
			),
			Handler: s.handlePrinterRescan,
		},
		{
			Tool: mcp.NewTool(ToolPrinterRemove,
				mcp.WithDescription("Forget a registered printer. Its spooler queue is left in place"),
				mcp.WithString("name",
					mcp.Required(),
					mcp.Description("Printer queue name"),
				),
			),
			Handler: s.handlePrinterRemove,
		},
		{
			Tool: mcp.NewTool(ToolTunnelList,
				mcp.WithDescription("List tunnel providers with their state"),
			),
			Handler: s.handleTunnelList,
		},
		{
			Tool: mcp.NewTool(ToolTunnelSetDomain,
				mcp.WithDescription("Set the public hostname of a tunnel provider"),
				providerArg(),
				mcp.WithString("domain",
					mcp.Required(),
					mcp.Description("Fully qualified hostname, e.g. labels.example.com"),
				),
			),
			Handler: s.handleTunnelSetDomain,
		},
		{
			Tool: mcp.NewTool(ToolTunnelConfigure,
				mcp.WithDescription("Mark a tunnel provider configured"),
				providerArg(),
				mcp.WithString("credential",
					mcp.Description("Credential reference: env:NAME or file:/path. Empty uses the environment default"),
				),
			),
			Handler: s.handleTunnelConfigure,
		},
		{
			Tool: mcp.NewTool(ToolTunnelStart,
				mcp.WithDescription("Start a tunnel and reset its restart budget"),
				providerArg(),
			),
			Handler: s.handleTunnelStart,
		},
		{
			Tool: mcp.NewTool(ToolTunnelStop,
				mcp.WithDescription("Stop a running or failed tunnel"),
				providerArg(),
			),
			Handler: s.handleTunnelStop,
		},
	}
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.backend.Status(ctx)
	if err != nil {
		return toolError("Failed to read status", err), nil
	}
	return jsonResult(snap)
}

func (s *Server) handlePortsList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.backend.Status(ctx)
	if err != nil {
		return toolError("Failed to list ports", err), nil
	}
	return jsonResult(snap.Ports)
}

func (s *Server) handlePrinterList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.backend.Status(ctx)
	if err != nil {
		return toolError("Failed to list printers", err), nil
	}
	return jsonResult(snap.Printers)
}

func (s *Server) handlePrinterRescan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sum, err := s.backend.Rescan(ctx)
	if err != nil {
		return toolError("Printer rescan failed", err), nil
	}
	result := RescanResult{
		Discovered: sum.Discovered,
		Created:    append([]string{}, sum.Created...),
		Present:    append([]string{}, sum.Present...),
	}
	for _, e := range sum.Errors {
		result.Errors = append(result.Errors, e.Error())
	}
	return jsonResult(result)
}

func (s *Server) handlePrinterRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	if err := s.backend.RemovePrinter(ctx, name); err != nil {
		return toolError(fmt.Sprintf("Failed to remove printer %s", name), err), nil
	}
	return jsonResult(ActionResult{Message: fmt.Sprintf("Removed printer '%s'", name)})
}

func (s *Server) handleTunnelList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.backend.TunnelInfos())
}

func (s *Server) handleTunnelSetDomain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError("provider is required"), nil
	}
	domain, err := req.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError("domain is required"), nil
	}
	if err := s.backend.SetTunnelDomain(ctx, provider, domain); err != nil {
		return toolError("Failed to set domain", err), nil
	}
	return s.tunnelResult(provider, fmt.Sprintf("Domain of %s set", provider))
}

func (s *Server) handleTunnelConfigure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError("provider is required"), nil
	}
	credential := req.GetString("credential", "")
	if err := s.backend.ConfigureTunnel(ctx, provider, credential); err != nil {
		return toolError("Failed to configure tunnel", err), nil
	}
	return s.tunnelResult(provider, fmt.Sprintf("Tunnel %s configured", provider))
}

func (s *Server) handleTunnelStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError("provider is required"), nil
	}
	if err := s.backend.StartTunnel(ctx, provider); err != nil {
		return toolError("Failed to start tunnel", err), nil
	}
	return s.tunnelResult(provider, fmt.Sprintf("Tunnel %s started", provider))
}

func (s *Server) handleTunnelStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError("provider is required"), nil
	}
	if err := s.backend.StopTunnel(ctx, provider); err != nil {
		return toolError("Failed to stop tunnel", err), nil
	}
	return s.tunnelResult(provider, fmt.Sprintf("Tunnel %s stopped", provider))
}

func (s *Server) tunnelResult(provider, message string) (*mcp.CallToolResult, error) {
	result := ActionResult{Message: message}
	for _, info := range s.backend.TunnelInfos() {
		if info.Provider == provider {
			info := info
			result.Tunnel = &info
			break
		}
	}
	return jsonResult(result)
}

// toolError renders err as a tool error with its class and remediation hint.
func toolError(prefix string, err error) *mcp.CallToolResult {
	logging.Debug("API", "%s: %v (%s)", prefix, err, errdefs.Class(err))
	text := fmt.Sprintf("%s: %v", prefix, err)
	if hint := errdefs.Hint(err); hint != "" {
		text += "\nhint: " + hint
	}
	return mcp.NewToolResultError(text)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
