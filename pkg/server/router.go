// Package server 提供 HTTP Server 功能
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/mcp"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/observability"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/scheduler"
)

// ToolLister 工具列表查询接口，由 mcp.Connection 实现
type ToolLister interface {
	IsReady() bool
	ListTools(ctx context.Context) ([]mcp.ToolInfo, error)
}

// Server HTTP 服务器
// 暴露调度器的任务管理与只读查询接口
type Server struct {
	scheduler *scheduler.Scheduler
	tools     ToolLister
	engine    *gin.Engine
	config    *ServerConfig
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// NewServer 创建 HTTP 服务器
func NewServer(sched *scheduler.Scheduler, tools ToolLister, config *ServerConfig) *Server {
	// 设置 Gin 模式
	switch config.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()

	// 添加中间件
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware())
	engine.Use(CORSMiddleware())

	server := &Server{
		scheduler: sched,
		tools:     tools,
		engine:    engine,
		config:    config,
	}

	// 注册路由
	server.setupRoutes()

	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 健康检查
	s.engine.GET("/health", s.healthCheck)

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 任务管理
		v1.GET("/tasks", s.listTasks)
		v1.GET("/tasks/:name", s.getTask)
		v1.DELETE("/tasks/:name", s.stopTask)
		v1.DELETE("/tasks", s.stopAllTasks)

		// 工具查询
		v1.GET("/tools", s.listTools)
	}
}

// Run 启动服务器
func (s *Server) Run() error {
	addr := s.config.Host + ":" + itoa(s.config.Port)
	observability.Info("Starting HTTP server", "address", addr)
	return s.engine.Run(addr)
}

// GetEngine 获取 Gin 引擎（用于测试）
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"tool_connected": s.tools != nil && s.tools.IsReady(),
	})
}

// 列出所有活跃任务
func (s *Server) listTasks(c *gin.Context) {
	tasks := s.scheduler.GetActiveTasks()
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// 获取单个任务及其最近执行记录
func (s *Server) getTask(c *gin.Context) {
	name := c.Param("name")

	if !s.scheduler.IsTaskActive(name) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Task not found: " + name,
		})
		return
	}

	var info scheduler.TaskInfo
	for _, t := range s.scheduler.GetActiveTasks() {
		if t.Name == name {
			info = t
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"task":    info,
		"history": s.scheduler.History(name, 10),
	})
}

// 停止单个任务
func (s *Server) stopTask(c *gin.Context) {
	name := c.Param("name")

	if err := s.scheduler.Stop(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Task not found: " + name,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Task stopped",
	})
}

// 停止全部任务
func (s *Server) stopAllTasks(c *gin.Context) {
	count := s.scheduler.StopAll()
	c.JSON(http.StatusOK, gin.H{
		"message": "All tasks stopped",
		"count":   count,
	})
}

// 列出当前连接可用的工具
func (s *Server) listTools(c *gin.Context) {
	if s.tools == nil || !s.tools.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "tool connection not ready",
		})
		return
	}

	tools, err := s.tools.ListTools(c.Request.Context())
	if err != nil {
		observability.Error("List tools failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "List tools failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tools": tools,
		"count": len(tools),
	})
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		observability.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// itoa 简单的整数转字符串
func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
