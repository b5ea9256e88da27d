// Package app 提供应用装配与生命周期管理
package app

import (
	"time"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/llm"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/mcp"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/notify"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/scheduler"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	LLM       llm.Config                `mapstructure:"llm"`
	MCP       mcp.Config                `mapstructure:"mcp"`
	Scheduler scheduler.Config          `mapstructure:"scheduler"`
	Log       LogConfig                 `mapstructure:"log"`
	Telegram  notify.Config             `mapstructure:"telegram"`
	Jobs      []scheduler.JobDefinition `mapstructure:"jobs"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Enabled 是否启动 HTTP 服务
	Enabled bool `mapstructure:"enabled"`

	// Host 监听地址
	Host string `mapstructure:"host"`

	// Port 监听端口
	Port int `mapstructure:"port"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format 日志格式：text, json
	Format string `mapstructure:"format"`

	// Output 输出目标：stdout, file
	Output string `mapstructure:"output"`

	// FilePath 日志文件路径（当 Output 为 file 时生效）
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Mode:    "release",
		},
		LLM: llm.Config{
			Provider:      "anthropic",
			APIKey:        "${ANTHROPIC_API_KEY}",
			Model:         "claude-sonnet-4-20250514",
			Timeout:       120,
			MaxTokens:     4096,
			MaxIterations: 10,
		},
		MCP: mcp.Config{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "."},
		},
		Scheduler: scheduler.Config{
			RunTimeout:  10 * time.Minute,
			HistorySize: scheduler.DefaultHistorySize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Telegram: notify.Config{
			Enabled: false,
		},
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithServerPort 设置服务器端口
func WithServerPort(port int) Option {
	return func(c *Config) {
		c.Server.Port = port
	}
}

// WithLLMConfig 设置 LLM 配置
func WithLLMConfig(cfg llm.Config) Option {
	return func(c *Config) {
		c.LLM = cfg
	}
}

// WithMCPConfig 设置 MCP 连接配置
func WithMCPConfig(cfg mcp.Config) Option {
	return func(c *Config) {
		c.MCP = cfg
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.Log.Level = level
	}
}

// WithJobs 设置任务定义
func WithJobs(jobs []scheduler.JobDefinition) Option {
	return func(c *Config) {
		c.Jobs = jobs
	}
}

// WithTelegram 设置 Telegram 告警配置
func WithTelegram(cfg notify.Config) Option {
	return func(c *Config) {
		c.Telegram = cfg
	}
}
