// Package main 是调度服务的 CLI 入口
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/app"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/observability"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/scheduler"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "claude-mcp-scheduler",
		Short: "Scheduled prompt execution with MCP tool access",
		Long: `claude-mcp-scheduler runs natural-language prompts against Claude on a cron
cadence, with filesystem tools exposed over MCP, and persists results to files.`,
	}

	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	// 添加子命令
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runCmd 启动调度服务
func runCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler service",
		Long:  `Load job definitions from the config file, start all enabled jobs and serve the management API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 加载配置
			config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// 命令行参数覆盖配置
			if port != 0 {
				config.Server.Port = port
			}
			if host != "" {
				config.Server.Host = host
			}

			// 创建应用
			application := app.NewFromConfig(config)

			// 初始化
			ctx := context.Background()
			if err := application.Initialize(ctx); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			// 优雅关闭
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh

				observability.Info("Received shutdown signal")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				application.Shutdown(shutdownCtx)
				os.Exit(0)
			}()

			if config.Server.Enabled {
				return application.RunServer()
			}

			// 无 HTTP 服务时常驻前台，由信号驱动退出
			select {}
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (default 8080)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Server host (default 0.0.0.0)")

	return cmd
}

// validateCmd 校验配置文件中的任务定义，不启动调度
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate job definitions in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			names := make(map[string]struct{}, len(config.Jobs))
			for _, job := range config.Jobs {
				if job.Name == "" {
					return fmt.Errorf("job with empty name")
				}
				if _, dup := names[job.Name]; dup {
					return fmt.Errorf("duplicate job name %q", job.Name)
				}
				names[job.Name] = struct{}{}

				if job.Prompt == "" {
					return fmt.Errorf("job %q: prompt must not be empty", job.Name)
				}
				if err := scheduler.ValidateCadence(job.Cadence); err != nil {
					return fmt.Errorf("job %q: %w", job.Name, err)
				}
			}

			fmt.Printf("config OK: %d jobs defined\n", len(config.Jobs))
			return nil
		},
	}
}

// versionCmd 显示版本信息
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("claude-mcp-scheduler v0.1.0")
		},
	}
}

// loadConfig 加载配置文件
func loadConfig() (*app.Config, error) {
	v := viper.New()

	// 设置默认值
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.api_key", "${ANTHROPIC_API_KEY}")
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.timeout", 120)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_iterations", 10)

	v.SetDefault("mcp.command", "npx")
	v.SetDefault("mcp.args", []string{"-y", "@modelcontextprotocol/server-filesystem", "."})

	v.SetDefault("scheduler.run_timeout", "10m")
	v.SetDefault("scheduler.history_size", scheduler.DefaultHistorySize)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")

	// 配置文件
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.claude-mcp-scheduler")
	}

	// 环境变量
	v.SetEnvPrefix("CMS")
	v.AutomaticEnv()

	// 读取配置文件（如果存在）
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// 配置文件不存在时使用默认值
	}

	// 解析配置
	config := &app.Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	return config, nil
}
