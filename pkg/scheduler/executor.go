// Package scheduler 提供定时任务调度功能
package scheduler

import "context"

// PromptExecutor 提示词执行接口
// 用于解耦 scheduler 和 agent 包，避免循环依赖
// 一次 Execute 内部可能包含多轮模型调用和工具调用，
// 调度器只关心最终的成功/失败结果
type PromptExecutor interface {
	// Execute 执行一次提示词，返回模型的最终文本回复
	Execute(ctx context.Context, prompt string, conn ToolConnection) (string, error)
}

// ToolConnection 工具连接接口
// 调度器只需要知道连接是否就绪、如何重连；具体的工具调用由执行器完成
type ToolConnection interface {
	// IsReady 连接是否可用
	IsReady() bool

	// Connect 建立连接，已连接时为幂等操作
	Connect(ctx context.Context) error

	// Disconnect 断开连接
	Disconnect() error
}

// Notifier 失败通知接口（可选）
// 任务执行失败时由调度器调用，用于外部告警渠道
type Notifier interface {
	// NotifyFailure 通知一次执行失败
	// stage 为失败阶段：connection / execution / persistence
	NotifyFailure(jobName, stage string, err error)
}
