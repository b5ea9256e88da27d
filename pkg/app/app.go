// Package app 提供应用装配与生命周期管理
package app

import (
	"context"
	"fmt"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/agent"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/llm"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/llm/anthropic"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/mcp"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/notify"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/observability"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/scheduler"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/server"
)

// App 应用实例
// 这是整个调度服务的入口点
type App struct {
	config     *Config
	provider   llm.Provider
	connection *mcp.Connection
	executor   *agent.Executor
	scheduler  *scheduler.Scheduler
	notifier   *notify.TelegramNotifier
	httpServer *server.Server
}

// New 创建新的 App 实例
func New(opts ...Option) *App {
	// 应用默认配置
	config := DefaultConfig()

	// 应用选项
	for _, opt := range opts {
		opt(config)
	}

	return &App{config: config}
}

// NewFromConfig 从已加载的配置创建 App 实例
func NewFromConfig(config *Config) *App {
	return &App{config: config}
}

// Initialize 初始化应用
// 包括：日志、MCP 连接、LLM Provider、执行器、调度器
func (a *App) Initialize(ctx context.Context) error {
	// 1. 初始化日志
	if err := observability.InitLogger(observability.LogConfig{
		Level:    a.config.Log.Level,
		Format:   a.config.Log.Format,
		Output:   a.config.Log.Output,
		FilePath: a.config.Log.FilePath,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	observability.Info("Initializing scheduler service",
		"llm_provider", a.config.LLM.Provider,
		"llm_model", a.config.LLM.Model,
		"jobs", len(a.config.Jobs),
	)

	// 2. 初始化 LLM Provider
	apiKey := llm.ResolveAPIKey(a.config.LLM.APIKey)
	if apiKey == "" {
		return fmt.Errorf("LLM API key is required")
	}

	switch a.config.LLM.Provider {
	case "anthropic", "":
		a.provider = anthropic.NewProviderFromLLMConfig(a.config.LLM)
	default:
		return fmt.Errorf("unsupported LLM provider: %s", a.config.LLM.Provider)
	}

	observability.Info("LLM Provider initialized",
		"provider", a.provider.Name(),
		"model", a.config.LLM.Model,
		"api_key", llm.MaskAPIKey(apiKey),
	)

	// 3. 建立 MCP 连接
	// 初次连接失败不阻止启动，任务触发时会重连
	a.connection = mcp.NewConnection(a.config.MCP, observability.DefaultLogger())
	if err := a.connection.Connect(ctx); err != nil {
		observability.Warn("Initial MCP connection failed, will retry on first run",
			"command", a.config.MCP.Command,
			"error", err,
		)
	}

	// 4. 创建执行器
	a.executor = agent.NewExecutor(a.provider,
		agent.WithMaxIterations(a.config.LLM.MaxIterations),
	)

	// 5. 初始化失败告警（可选）
	var opts []scheduler.Option
	if a.config.Telegram.Enabled {
		notifier, err := notify.NewTelegramNotifier(a.config.Telegram, observability.DefaultLogger())
		if err != nil {
			return fmt.Errorf("failed to initialize telegram notifier: %w", err)
		}
		a.notifier = notifier
		opts = append(opts, scheduler.WithNotifier(notifier))
	}

	// 6. 创建调度器并启动配置文件中的任务
	a.scheduler = scheduler.New(a.config.Scheduler, a.connection, a.executor, opts...)
	if err := a.scheduler.Start(a.config.Jobs); err != nil {
		return fmt.Errorf("failed to start scheduled jobs: %w", err)
	}

	observability.Info("Scheduler started",
		"active_tasks", len(a.scheduler.GetActiveTasks()),
	)

	// 7. 创建 HTTP 服务（可选，由 Run 启动）
	if a.config.Server.Enabled {
		a.httpServer = server.NewServer(a.scheduler, a.connection, &server.ServerConfig{
			Host: a.config.Server.Host,
			Port: a.config.Server.Port,
			Mode: a.config.Server.Mode,
		})
	}

	return nil
}

// RunServer 启动 HTTP 服务（阻塞）
func (a *App) RunServer() error {
	if a.httpServer == nil {
		return fmt.Errorf("http server is not enabled")
	}
	return a.httpServer.Run()
}

// GetScheduler 获取调度器实例
func (a *App) GetScheduler() *scheduler.Scheduler {
	return a.scheduler
}

// GetConnection 获取 MCP 连接
func (a *App) GetConnection() *mcp.Connection {
	return a.connection
}

// GetProvider 获取 LLM Provider
func (a *App) GetProvider() llm.Provider {
	return a.provider
}

// GetConfig 获取配置
func (a *App) GetConfig() *Config {
	return a.config
}

// GetServer 获取 HTTP 服务实例
func (a *App) GetServer() *server.Server {
	return a.httpServer
}

// Shutdown 关闭应用
func (a *App) Shutdown(ctx context.Context) error {
	observability.Info("Shutting down scheduler service")

	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(ctx); err != nil {
			observability.Error("Scheduler shutdown interrupted", "error", err)
		}
	}

	if a.connection != nil {
		if err := a.connection.Disconnect(); err != nil {
			observability.Error("Failed to disconnect MCP connection", "error", err)
			return err
		}
	}

	observability.Info("Shutdown complete")
	return nil
}
