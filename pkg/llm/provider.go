// Package llm 提供 LLM 适配层接口和实现
package llm

import (
	"context"
)

// Provider LLM 提供商接口
// 所有 LLM 实现（Anthropic 等）都需要实现此接口
type Provider interface {
	// CreateMessage 发送一轮对话请求
	// 请求中可以携带工具定义；返回的响应可能包含 tool_use 内容块，
	// 由调用方执行工具后将结果追加到 messages 再次调用
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)

	// Name 返回提供商名称
	Name() string
}

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息
// Content 是内容块列表，支持文本、工具调用和工具结果
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock 消息内容块
// Type 为 text / tool_use / tool_result 之一，其余字段按类型取用
type ContentBlock struct {
	Type string `json:"type"`

	// text 块
	Text string `json:"text,omitempty"`

	// tool_use 块
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result 块
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock 构造文本内容块
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolResultBlock 构造工具结果内容块
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      "tool_result",
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}
}

// ToolDefinition 提供给模型的工具定义
// InputSchema 是 JSON Schema 格式的参数描述
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// MessageRequest 对话请求
type MessageRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// 模型停止原因
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// MessageResponse 对话响应
type MessageResponse struct {
	Content    []ContentBlock
	StopReason string
	Usage      Usage
}

// Usage Token 使用统计
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text 返回响应中所有文本块拼接后的内容
func (r *MessageResponse) Text() string {
	var out string
	for _, block := range r.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// ToolUses 返回响应中的所有 tool_use 块
func (r *MessageResponse) ToolUses() []ContentBlock {
	var calls []ContentBlock
	for _, block := range r.Content {
		if block.Type == "tool_use" {
			calls = append(calls, block)
		}
	}
	return calls
}
