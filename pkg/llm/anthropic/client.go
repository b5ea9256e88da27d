// Package anthropic 提供 Anthropic Claude API 客户端实现
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/llm"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/observability"
)

const (
	// DefaultModel 默认使用的 Claude 模型
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultBaseURL Anthropic API 地址
	DefaultBaseURL = "https://api.anthropic.com/v1"

	// APIVersion Anthropic API 版本头（必填）
	APIVersion = "2023-06-01"

	// maxRetries 瞬时错误的最大重试次数
	maxRetries = 3
)

// Provider Anthropic 提供商实现
type Provider struct {
	config     *Config
	httpClient *http.Client
}

// Config Anthropic 配置
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		Timeout:     120 * time.Second,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// NewProvider 创建 Anthropic Provider
func NewProvider(cfg *Config) *Provider {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// NewProviderFromLLMConfig 从通用 LLM 配置创建 Provider
func NewProviderFromLLMConfig(cfg llm.Config) *Provider {
	return NewProvider(&Config{
		APIKey:      llm.ResolveAPIKey(cfg.APIKey),
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
}

// Name 返回提供商名称
func (p *Provider) Name() string {
	return "anthropic"
}

// CreateMessage 发送一轮 Messages API 请求
// 瞬时网络错误和 overloaded 响应会自动重试
func (p *Provider) CreateMessage(ctx context.Context, req llm.MessageRequest) (*llm.MessageResponse, error) {
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	start := time.Now()
	observability.LLMRequestLog(ctx, p.Name(), p.config.Model, len(req.Messages), len(req.Tools))

	apiReq := messagesRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		System:      req.System,
		Messages:    convertMessages(req.Messages),
		Tools:       convertTools(req.Tools),
	}

	var resp *messagesResponse
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// 重试前按次数退避
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		resp, err = p.createMessages(ctx, apiReq)
		if err == nil {
			break
		}
		if !isRetryableError(err) {
			return nil, fmt.Errorf("anthropic API error: %w", err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("anthropic API error after %d retries: %w", maxRetries, err)
	}

	observability.LLMResponseLog(ctx, p.Name(), resp.StopReason, time.Since(start).Milliseconds(),
		resp.Usage.InputTokens, resp.Usage.OutputTokens)

	return &llm.MessageResponse{
		Content:    convertContentBlocks(resp.Content),
		StopReason: resp.StopReason,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// createMessages 发送一次 Messages API HTTP 请求
func (p *Provider) createMessages(ctx context.Context, req messagesRequest) (*messagesResponse, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var messagesResp messagesResponse
	if err := json.Unmarshal(respBody, &messagesResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &messagesResp, nil
}

// SetHTTPClient 覆盖 HTTP 客户端（用于测试）
func (p *Provider) SetHTTPClient(client *http.Client) {
	p.httpClient = client
}

// isRetryableError 判断错误是否值得重试
func isRetryableError(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientErrors := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
		"overloaded", // Anthropic 过载
		"status 529", // Anthropic 过载状态码
		"status 429",
	}

	for _, s := range transientErrors {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// convertMessages 转换消息格式
func convertMessages(messages []llm.Message) []apiMessage {
	result := make([]apiMessage, len(messages))
	for i, m := range messages {
		blocks := make([]apiContentBlock, len(m.Content))
		for j, b := range m.Content {
			blocks[j] = apiContentBlock{
				Type:      b.Type,
				Text:      b.Text,
				ID:        b.ID,
				Name:      b.Name,
				Input:     b.Input,
				ToolUseID: b.ToolUseID,
				Content:   b.Content,
				IsError:   b.IsError,
			}
		}
		result[i] = apiMessage{
			Role:    string(m.Role),
			Content: blocks,
		}
	}
	return result
}

// convertTools 转换工具定义格式
func convertTools(tools []llm.ToolDefinition) []apiTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]apiTool, len(tools))
	for i, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		result[i] = apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
	}
	return result
}

// convertContentBlocks 转换响应内容块
func convertContentBlocks(blocks []apiContentBlock) []llm.ContentBlock {
	result := make([]llm.ContentBlock, len(blocks))
	for i, b := range blocks {
		result[i] = llm.ContentBlock{
			Type:  b.Type,
			Text:  b.Text,
			ID:    b.ID,
			Name:  b.Name,
			Input: b.Input,
		}
	}
	return result
}

// API 请求/响应结构

type messagesRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Messages    []apiMessage `json:"messages"`
	System      string       `json:"system,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	Tools       []apiTool    `json:"tools,omitempty"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
