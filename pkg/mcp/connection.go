// Package mcp 提供 MCP（Model Context Protocol）工具连接管理
// 通过 stdio 启动外部 MCP 服务器进程，并将其工具暴露给 Agent 调用
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/observability"
)

// Config MCP 服务器进程配置
type Config struct {
	// Command 启动 MCP 服务器的命令，如 "npx"
	Command string `mapstructure:"command"`

	// Args 命令参数，如 ["-y", "@modelcontextprotocol/server-filesystem", "/data"]
	Args []string `mapstructure:"args"`

	// Env 附加环境变量，形如 KEY=VALUE
	Env []string `mapstructure:"env"`
}

// ToolInfo MCP 工具元信息
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// toolClient 抽象底层 mcp-go 客户端，便于测试注入
type toolClient interface {
	Initialize(ctx context.Context, request mcpproto.InitializeRequest) (*mcpproto.InitializeResult, error)
	ListTools(ctx context.Context, request mcpproto.ListToolsRequest) (*mcpproto.ListToolsResult, error)
	CallTool(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error)
	Close() error
}

// DialFunc 创建底层客户端的函数（启动子进程）
type DialFunc func(cfg Config) (toolClient, error)

// stdioDial 默认实现：通过 stdio 启动 MCP 服务器进程
func stdioDial(cfg Config) (toolClient, error) {
	return mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
}

// Connection 到单个 MCP 服务器的长连接
// 整个进程共享一个 Connection，多个任务并发使用；
// Connect 内部串行化，避免两个同时失败的任务各自拉起重复的子进程
type Connection struct {
	cfg    Config
	logger *slog.Logger
	dial   DialFunc

	mu     sync.Mutex
	client toolClient
	ready  bool
}

// NewConnection 创建 MCP 连接（不会立即启动进程，需调用 Connect）
func NewConnection(cfg Config, logger *slog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: logger,
		dial:   stdioDial,
	}
}

// SetDial 覆盖进程启动函数（用于测试）
func (c *Connection) SetDial(dial DialFunc) {
	c.dial = dial
}

// IsReady 返回连接是否可用
func (c *Connection) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Connect 建立连接，已连接时直接返回
// 并发调用时后到者阻塞等待先到者的结果，而不是重复启动进程
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return nil
	}

	// 上一个客户端残留时先清理
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	c.logger.Info("connecting to MCP server",
		"command", c.cfg.Command,
		"args", strings.Join(c.cfg.Args, " "),
	)

	client, err := c.dial(c.cfg)
	if err != nil {
		return fmt.Errorf("failed to start MCP server process: %w", err)
	}

	initReq := mcpproto.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpproto.Implementation{
		Name:    "claude-mcp-scheduler",
		Version: "0.1.0",
	}
	initReq.Params.Capabilities = mcpproto.ClientCapabilities{}

	result, err := client.Initialize(ctx, initReq)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	c.client = client
	c.ready = true

	c.logger.Info("MCP server connected",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
	)

	return nil
}

// Disconnect 关闭连接并结束子进程
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.ready = false

	if err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	c.logger.Info("MCP server disconnected")
	return nil
}

// currentClient 获取当前客户端，未连接时报错
func (c *Connection) currentClient() (toolClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready || c.client == nil {
		return nil, fmt.Errorf("MCP connection not ready")
	}
	return c.client, nil
}

// markBroken 将连接标记为不可用，下一次 Connect 会重建进程
func (c *Connection) markBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
}

// ListTools 列出 MCP 服务器暴露的所有工具
func (c *Connection) ListTools(ctx context.Context) ([]ToolInfo, error) {
	client, err := c.currentClient()
	if err != nil {
		return nil, err
	}

	result, err := client.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		c.markBroken()
		return nil, fmt.Errorf("failed to list MCP tools: %w", err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := map[string]any{
			"type": t.InputSchema.Type,
		}
		if len(t.InputSchema.Properties) > 0 {
			schema["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool 调用指定的 MCP 工具，返回文本结果
// 服务器返回 isError 时，以 error 形式返回文本内容
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	client, err := c.currentClient()
	if err != nil {
		return "", err
	}

	start := time.Now()

	req := mcpproto.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := client.CallTool(ctx, req)
	if err != nil {
		// 传输层错误意味着子进程可能已退出
		c.markBroken()
		observability.ToolCallLog(ctx, name, "error", time.Since(start).Milliseconds())
		return "", fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(mcpproto.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	text := sb.String()

	if result.IsError {
		observability.ToolCallLog(ctx, name, "error", time.Since(start).Milliseconds())
		return "", fmt.Errorf("tool %s returned error: %s", name, text)
	}

	observability.ToolCallLog(ctx, name, "success", time.Since(start).Milliseconds())
	return text, nil
}
