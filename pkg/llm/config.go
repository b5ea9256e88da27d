// Package llm 提供 LLM 适配层接口和实现
package llm

import (
	"os"
	"strings"
)

// Config LLM 通用配置
type Config struct {
	// Provider 提供商类型：anthropic
	Provider string `mapstructure:"provider"`

	// APIKey API 密钥，支持 ${ENV_NAME} 形式引用环境变量
	APIKey string `mapstructure:"api_key"`

	// BaseURL API 基础 URL（用于自定义 endpoint）
	BaseURL string `mapstructure:"base_url"`

	// Model 模型名称
	Model string `mapstructure:"model"`

	// Timeout 单次请求超时时间（秒）
	Timeout int `mapstructure:"timeout"`

	// MaxTokens 最大输出 Token 数
	MaxTokens int `mapstructure:"max_tokens"`

	// Temperature 温度参数（0-1）
	Temperature float64 `mapstructure:"temperature"`

	// MaxIterations Agent 循环的最大轮数（防止无限工具调用）
	MaxIterations int `mapstructure:"max_iterations"`
}

// ResolveAPIKey 解析 API Key（支持环境变量引用）
// 如果值以 ${} 包裹，则从环境变量读取
func ResolveAPIKey(key string) string {
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		envName := key[2 : len(key)-1]
		return os.Getenv(envName)
	}
	return key
}

// MaskAPIKey 脱敏 API Key，用于日志输出
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Validate 验证配置
func (c *Config) Validate() error {
	if ResolveAPIKey(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	return nil
}

// ConfigError 配置相关错误
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

var (
	ErrMissingAPIKey = &ConfigError{Message: "API key is required"}
	ErrMissingModel  = &ConfigError{Message: "model is required"}
)
