// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// JobDefinition 任务定义（由配置文件提供，调度器不修改）
type JobDefinition struct {
	// Name 任务名称，同一个调度器内唯一
	Name string `mapstructure:"name" json:"name"`

	// Cadence cron 表达式，5 字段（分钟级）或 6 字段（秒级）
	Cadence string `mapstructure:"cadence" json:"cadence"`

	// Enabled 是否启用，禁用的任务不会被调度
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Prompt 发送给模型的提示词
	Prompt string `mapstructure:"prompt" json:"prompt"`

	// OutputPath 可选的输出路径模板，支持 {name}、{timestamp}、{date} 占位符
	// 为空时执行结果只记录日志，不落盘
	OutputPath string `mapstructure:"output_path" json:"output_path,omitempty"`
}

// ActiveTask 活跃任务：任务定义与底层 cron entry 的绑定
// 由调度器独占管理；entry 停止后不可复用，重新启用需创建新的 ActiveTask
type ActiveTask struct {
	definition JobDefinition
	entryID    cron.EntryID

	// running 同名任务的执行互斥标记
	// 上一次触发还没结束时，新触发直接跳过
	running atomic.Bool
}

// Definition 返回任务定义
func (t *ActiveTask) Definition() JobDefinition {
	return t.definition
}

// TaskInfo 活跃任务的对外视图
type TaskInfo struct {
	Name    string     `json:"name"`
	Cadence string     `json:"cadence"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// RunStatus 单次执行状态
type RunStatus string

const (
	RunCompleted RunStatus = "completed" // 执行成功
	RunFailed    RunStatus = "failed"    // 执行失败
	RunSkipped   RunStatus = "skipped"   // 上次执行未结束，本次触发被跳过
)

// ExecutionRecord 单次执行记录（仅保存在内存环形缓冲中）
type ExecutionRecord struct {
	JobName    string        `json:"job_name"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Status     RunStatus     `json:"status"`
	Result     string        `json:"result,omitempty"`
	Stage      string        `json:"stage,omitempty"` // 失败阶段，取值为错误类别
	Error      string        `json:"error,omitempty"`
	OutputFile string        `json:"output_file,omitempty"`
	Persisted  bool          `json:"persisted"`
}
