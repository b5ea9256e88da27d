// Package mcp 提供 MCP（Model Context Protocol）工具连接管理
package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// fakeClient 可编程的 MCP 客户端
type fakeClient struct {
	mu         sync.Mutex
	initErr    error
	closed     bool
	tools      []mcpproto.Tool
	listErr    error
	callResult *mcpproto.CallToolResult
	callErr    error
	lastCall   mcpproto.CallToolRequest
}

func (c *fakeClient) Initialize(ctx context.Context, request mcpproto.InitializeRequest) (*mcpproto.InitializeResult, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}
	return &mcpproto.InitializeResult{
		ServerInfo: mcpproto.Implementation{Name: "fake-server", Version: "1.0"},
	}, nil
}

func (c *fakeClient) ListTools(ctx context.Context, request mcpproto.ListToolsRequest) (*mcpproto.ListToolsResult, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return &mcpproto.ListToolsResult{Tools: c.tools}, nil
}

func (c *fakeClient) CallTool(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	c.mu.Lock()
	c.lastCall = request
	c.mu.Unlock()
	if c.callErr != nil {
		return nil, c.callErr
	}
	return c.callResult, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// setupTestConnection 创建带假客户端的连接
func setupTestConnection(t *testing.T, client *fakeClient) (*Connection, *int) {
	t.Helper()
	conn := NewConnection(Config{Command: "fake"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	dials := 0
	conn.SetDial(func(cfg Config) (toolClient, error) {
		dials++
		return client, nil
	})
	return conn, &dials
}

func TestConnection_Connect(t *testing.T) {
	conn, dials := setupTestConnection(t, &fakeClient{})

	if conn.IsReady() {
		t.Error("Connection should not be ready before Connect")
	}

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !conn.IsReady() {
		t.Error("Connection should be ready after Connect")
	}
	if *dials != 1 {
		t.Errorf("Dial count = %d, want 1", *dials)
	}
}

func TestConnection_Connect_Idempotent(t *testing.T) {
	conn, dials := setupTestConnection(t, &fakeClient{})

	for i := 0; i < 3; i++ {
		if err := conn.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() #%d error = %v", i+1, err)
		}
	}

	// 已就绪的连接不重复拉起进程
	if *dials != 1 {
		t.Errorf("Dial count = %d, want 1", *dials)
	}
}

func TestConnection_Connect_Serialized(t *testing.T) {
	conn := NewConnection(Config{Command: "fake"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var dials int32
	var mu sync.Mutex

	conn.SetDial(func(cfg Config) (toolClient, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		entered <- struct{}{}
		<-release
		return &fakeClient{}, nil
	})

	errCh := make(chan error, 2)
	go func() { errCh <- conn.Connect(context.Background()) }()
	<-entered
	// 第一个调用还在连接中，第二个调用必须等待而不是再次拨号
	go func() { errCh <- conn.Connect(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("Dial count = %d, want 1 (second caller should reuse the result)", dials)
	}
}

func TestConnection_Connect_DialFailure(t *testing.T) {
	conn := NewConnection(Config{Command: "fake"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	conn.SetDial(func(cfg Config) (toolClient, error) {
		return nil, errors.New("spawn failed")
	})

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail when the process cannot start")
	}
	if conn.IsReady() {
		t.Error("Connection should not be ready after a failed Connect")
	}
}

func TestConnection_Connect_InitializeFailure(t *testing.T) {
	client := &fakeClient{initErr: errors.New("handshake rejected")}
	conn, _ := setupTestConnection(t, client)

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail when initialization fails")
	}
	// 握手失败的客户端必须被关闭，避免僵尸子进程
	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		t.Error("Client should be closed after a failed initialize")
	}
}

func TestConnection_ListTools(t *testing.T) {
	client := &fakeClient{
		tools: []mcpproto.Tool{
			{
				Name:        "read_file",
				Description: "Read a file",
				InputSchema: mcpproto.ToolInputSchema{
					Type:       "object",
					Properties: map[string]any{"path": map[string]any{"type": "string"}},
					Required:   []string{"path"},
				},
			},
		},
	}
	conn, _ := setupTestConnection(t, client)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	tools, err := conn.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("ListTools() returned %d tools, want 1", len(tools))
	}

	tool := tools[0]
	if tool.Name != "read_file" || tool.Description != "Read a file" {
		t.Errorf("Tool = %+v", tool)
	}
	if tool.InputSchema["type"] != "object" {
		t.Errorf("InputSchema type = %v, want object", tool.InputSchema["type"])
	}
	required, _ := tool.InputSchema["required"].([]string)
	if len(required) != 1 || required[0] != "path" {
		t.Errorf("InputSchema required = %v, want [path]", tool.InputSchema["required"])
	}
}

func TestConnection_ListTools_NotConnected(t *testing.T) {
	conn, _ := setupTestConnection(t, &fakeClient{})

	if _, err := conn.ListTools(context.Background()); err == nil {
		t.Error("ListTools() before Connect should fail")
	}
}

func TestConnection_CallTool(t *testing.T) {
	client := &fakeClient{
		callResult: &mcpproto.CallToolResult{
			Content: []mcpproto.Content{
				mcpproto.TextContent{Type: "text", Text: "line one\n"},
				mcpproto.TextContent{Type: "text", Text: "line two"},
			},
		},
	}
	conn, _ := setupTestConnection(t, client)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	result, err := conn.CallTool(context.Background(), "read_file", map[string]any{"path": "/tmp/x"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	// 多个文本块拼接
	if result != "line one\nline two" {
		t.Errorf("CallTool() = %q", result)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.lastCall.Params.Name != "read_file" {
		t.Errorf("Called tool = %q, want read_file", client.lastCall.Params.Name)
	}
}

func TestConnection_CallTool_ServerError(t *testing.T) {
	client := &fakeClient{
		callResult: &mcpproto.CallToolResult{
			Content: []mcpproto.Content{
				mcpproto.TextContent{Type: "text", Text: "permission denied"},
			},
			IsError: true,
		},
	}
	conn, _ := setupTestConnection(t, client)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_, err := conn.CallTool(context.Background(), "write_file", nil)
	if err == nil {
		t.Fatal("CallTool() should fail when the server reports isError")
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("Error = %v, should carry the tool's message", err)
	}
	// 工具级错误不代表连接坏了
	if !conn.IsReady() {
		t.Error("Connection should stay ready after a tool-level error")
	}
}

func TestConnection_CallTool_TransportErrorMarksBroken(t *testing.T) {
	client := &fakeClient{callErr: errors.New("broken pipe")}
	conn, _ := setupTestConnection(t, client)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if _, err := conn.CallTool(context.Background(), "read_file", nil); err == nil {
		t.Fatal("CallTool() should surface transport errors")
	}
	// 传输层错误后连接标记为不可用，等待下次重连
	if conn.IsReady() {
		t.Error("Connection should be marked not ready after a transport error")
	}
}

func TestConnection_Disconnect(t *testing.T) {
	client := &fakeClient{}
	conn, _ := setupTestConnection(t, client)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if conn.IsReady() {
		t.Error("Connection should not be ready after Disconnect")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		t.Error("Underlying client should be closed")
	}

	// 重复断开是安全的
	if err := conn.Disconnect(); err != nil {
		t.Errorf("Second Disconnect() error = %v", err)
	}
}
