// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the execution broker as MCP tools using the
// mark3labs/mcp-go library: execute_code runs code in a workspace session and
// destroy_session tears one down. The sandbox://health resource reports the
// same status as the HTTP health endpoint. The server is reachable over stdio
// or mounted on the HTTP router as a streamable HTTP endpoint.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/config"
	"github.com/isdmx/sandboxd/sandbox"
	"github.com/isdmx/sandboxd/session"
)

// HealthResourceURI identifies the health resource.
const HealthResourceURI = "sandbox://health"

// Broker is the subset of session.Broker the MCP tools need.
type Broker interface {
	Dispatch(ctx context.Context, workspaceID, code string, timeout time.Duration) sandbox.ExecutionResult
	Destroy(ctx context.Context, workspaceID string) error
	Health(ctx context.Context) session.Health
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	broker    Broker
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, broker Broker) *MCPServer {
	s := &MCPServer{
		config: cfg,
		logger: logger.Named("mcp"),
		broker: broker,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.String("server.addr", cfg.Addr()),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.Duration("sandbox.default_timeout", cfg.DefaultTimeout()),
		zap.Duration("sandbox.max_timeout", cfg.MaxTimeout()),
		zap.Strings("sandbox.warmup_libraries", cfg.Sandbox.WarmupLibraries),
		zap.Duration("session.idle_timeout", cfg.IdleTimeout()),
		zap.Duration("session.reap_interval", cfg.ReapInterval()),
	)

	s.mcpServer = server.NewMCPServer("sandboxd", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.registerExecuteCodeTool()
	s.registerDestroySessionTool()
	s.registerHealthResource()

	return s
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute Python code in the workspace's persistent sandbox session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"workspace_id": map[string]any{
					"type":        "string",
					"description": "Workspace whose session runs the code; state persists between calls",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Python source to execute",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Timeout in seconds (default %d, max %d)", s.config.Sandbox.DefaultTimeoutSec, s.config.Sandbox.MaxTimeoutSec),
				},
			},
			Required: []string{"workspace_id", "code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// registerDestroySessionTool registers the destroy_session tool
func (s *MCPServer) registerDestroySessionTool() {
	tool := mcp.Tool{
		Name:        "destroy_session",
		Description: "Tear down the workspace's sandbox session and discard its state",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"workspace_id": map[string]any{
					"type":        "string",
					"description": "Workspace whose session is destroyed",
				},
			},
			Required: []string{"workspace_id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleDestroySession)
}

func (s *MCPServer) registerHealthResource() {
	resource := mcp.NewResource(HealthResourceURI, "health",
		mcp.WithResourceDescription("Sandbox backend availability and active session counts"),
		mcp.WithMIMEType("application/json"),
	)

	s.mcpServer.AddResource(resource, s.handleHealth)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, err := request.RequireString("workspace_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workspace_id parameter is required: %v", err)), nil
	}
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("code parameter is required: %v", err)), nil
	}
	timeout := time.Duration(request.GetInt("timeout", 0)) * time.Second

	result := s.broker.Dispatch(ctx, workspaceID, code, timeout)

	// Text part mirrors the HTTP result without the (separately attached) images.
	summary, err := json.Marshal(struct {
		Success bool   `json:"success"`
		Stdout  string `json:"stdout"`
		Stderr  string `json:"stderr"`
	}{result.Success, result.Stdout, result.Stderr})
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}

	content := []mcp.Content{mcp.NewTextContent(string(summary))}
	for _, artifact := range result.Artifacts {
		if artifact.Type == sandbox.ArtifactTypeImage {
			content = append(content, mcp.NewImageContent(base64.StdEncoding.EncodeToString(artifact.Data), "image/png"))
		}
	}

	return &mcp.CallToolResult{
		Content: content,
		IsError: !result.Success,
	}, nil
}

// handleDestroySession handles the destroy_session tool
func (s *MCPServer) handleDestroySession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, err := request.RequireString("workspace_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workspace_id parameter is required: %v", err)), nil
	}

	if err := s.broker.Destroy(ctx, workspaceID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("destroy failed: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"status":"ok"}`), nil
}

func (s *MCPServer) handleHealth(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(s.broker.Health(ctx))
	if err != nil {
		return nil, fmt.Errorf("encoding health: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// ServeStdio serves MCP on stdio until stdin closes or a termination signal arrives
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// Handler returns the streamable HTTP transport for mounting on a router
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
