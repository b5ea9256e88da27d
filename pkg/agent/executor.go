// Package agent 提供提示词执行能力
// 负责模型对话与工具调用的多轮循环，直到模型给出最终文本回复
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/llm"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/mcp"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/observability"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/scheduler"
)

// DefaultMaxIterations 单次执行允许的最大模型调用轮数
const DefaultMaxIterations = 10

// DefaultSystemPrompt 默认系统提示词
const DefaultSystemPrompt = "You are a scheduled automation assistant. " +
	"Use the available tools to complete the task, then reply with a concise summary of what you did."

// ToolBroker 工具代理接口
// 执行器通过它发现和调用外部工具；由 mcp.Connection 实现
type ToolBroker interface {
	ListTools(ctx context.Context) ([]mcp.ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Executor 提示词执行器
// 驱动 模型回复 -> 工具调用 -> 结果回传 的循环，
// 在模型停止请求工具或达到轮数上限时结束
type Executor struct {
	provider      llm.Provider
	systemPrompt  string
	maxIterations int
	logger        *slog.Logger
}

// Option 执行器选项
type Option func(*Executor)

// WithSystemPrompt 设置系统提示词
func WithSystemPrompt(prompt string) Option {
	return func(e *Executor) { e.systemPrompt = prompt }
}

// WithMaxIterations 设置最大轮数
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithLogger 设置日志器
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor 创建执行器
func NewExecutor(provider llm.Provider, opts ...Option) *Executor {
	e := &Executor{
		provider:      provider,
		systemPrompt:  DefaultSystemPrompt,
		maxIterations: DefaultMaxIterations,
		logger:        observability.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 执行一次提示词，返回模型的最终文本回复
// conn 实现 ToolBroker 时模型可以调用工具，否则退化为纯对话
func (e *Executor) Execute(ctx context.Context, prompt string, conn scheduler.ToolConnection) (string, error) {
	var tools []llm.ToolDefinition
	broker, _ := conn.(ToolBroker)
	if broker != nil {
		infos, err := broker.ListTools(ctx)
		if err != nil {
			return "", fmt.Errorf("list tools: %w", err)
		}
		tools = convertTools(infos)
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.TextBlock(prompt)}},
	}

	for i := 0; i < e.maxIterations; i++ {
		resp, err := e.provider.CreateMessage(ctx, llm.MessageRequest{
			System:   e.systemPrompt,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return "", fmt.Errorf("model call (round %d): %w", i+1, err)
		}

		toolUses := resp.ToolUses()
		if resp.StopReason != llm.StopReasonToolUse || len(toolUses) == 0 {
			return resp.Text(), nil
		}

		// 模型请求了工具调用，把助手回复原样接入对话
		messages = append(messages, llm.Message{
			Role:    llm.RoleAssistant,
			Content: resp.Content,
		})

		if broker == nil {
			return "", fmt.Errorf("model requested tool %q but no tool connection is available", toolUses[0].Name)
		}

		results := make([]llm.ContentBlock, 0, len(toolUses))
		for _, use := range toolUses {
			results = append(results, e.callTool(ctx, broker, use))
		}
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: results,
		})
	}

	return "", fmt.Errorf("no final reply after %d rounds", e.maxIterations)
}

// callTool 执行单个工具调用
// 工具自身的失败作为结果回传给模型，让模型决定如何继续
func (e *Executor) callTool(ctx context.Context, broker ToolBroker, use llm.ContentBlock) llm.ContentBlock {
	result, err := broker.CallTool(ctx, use.Name, use.Input)
	if err != nil {
		e.logger.Warn("tool call failed", "tool", use.Name, "error", err)
		return llm.ToolResultBlock(use.ID, fmt.Sprintf("tool error: %v", err), true)
	}
	return llm.ToolResultBlock(use.ID, result, false)
}

// convertTools 将 MCP 工具描述转换为模型工具定义
func convertTools(infos []mcp.ToolInfo) []llm.ToolDefinition {
	tools := make([]llm.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		schema := info.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tools = append(tools, llm.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: schema,
		})
	}
	return tools
}
