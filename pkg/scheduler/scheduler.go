package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/observability"
)

// DefaultHistorySize 每个任务保留的执行记录条数上限
const DefaultHistorySize = 20

// Config 调度器配置
type Config struct {
	RunTimeout  time.Duration `mapstructure:"run_timeout"`  // 单次执行超时，0 表示不限制
	HistorySize int           `mapstructure:"history_size"` // 每任务执行记录上限
}

// Scheduler 提示词定时调度器
// 按 cron 节奏触发提示词执行，管理任务生命周期与执行记录
// 任何一次执行的失败都不会越过触发边界影响调度器或其他任务
type Scheduler struct {
	cfg      Config
	cron     *cron.Cron
	registry *taskRegistry
	conn     ToolConnection
	executor PromptExecutor
	sink     Sink
	notifier Notifier
	logger   *slog.Logger

	startMu sync.Mutex
	started bool

	histMu  sync.Mutex
	history map[string][]ExecutionRecord

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建调度器
func New(cfg Config, conn ToolConnection, executor PromptExecutor, opts ...Option) *Scheduler {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	s := &Scheduler{
		cfg:      cfg,
		registry: newTaskRegistry(),
		conn:     conn,
		executor: executor,
		sink:     NewOSSink(),
		logger:   observability.DefaultLogger(),
		history:  make(map[string][]ExecutionRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cron = cron.New(
		cron.WithParser(cadenceParser),
		cron.WithChain(cron.Recover(&cronLogger{logger: s.logger})),
	)
	return s
}

// Option 调度器选项
type Option func(*Scheduler)

// WithSink 设置输出写入器
func WithSink(sink Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithNotifier 设置失败通知器
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithLogger 设置日志器
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// Start 批量启动任务
// 两阶段：先校验整批定义，全部通过后才逐个注册；
// 任何一条校验失败整批拒绝，已注册的任务不受影响
func (s *Scheduler) Start(defs []JobDefinition) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	enabled := make([]JobDefinition, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			s.logger.Info("job disabled, skipping", "job", def.Name)
			continue
		}
		if err := s.validateDefinition(def); err != nil {
			return err
		}
		if _, dup := seen[def.Name]; dup {
			return configErrorf("duplicate job name %q in batch", def.Name)
		}
		if s.registry.has(def.Name) {
			return configErrorf("duplicate job name %q", def.Name)
		}
		seen[def.Name] = struct{}{}
		enabled = append(enabled, def)
	}

	registered := make([]string, 0, len(enabled))
	for _, def := range enabled {
		if err := s.register(def); err != nil {
			for _, name := range registered {
				if task, uerr := s.registry.unregister(name); uerr == nil {
					s.cron.Remove(task.entryID)
				}
			}
			return err
		}
		registered = append(registered, def.Name)
	}

	if !s.started {
		s.cron.Start()
		s.started = true
	}

	s.logger.Info("scheduler tasks started",
		"activated", len(registered),
		"defined", len(defs),
		"total_active", s.registry.count(),
	)
	return nil
}

// validateDefinition 校验单条任务定义
func (s *Scheduler) validateDefinition(def JobDefinition) error {
	if def.Name == "" {
		return configErrorf("job name must not be empty")
	}
	if def.Prompt == "" {
		return configErrorf("job %q: prompt must not be empty", def.Name)
	}
	if err := ValidateCadence(def.Cadence); err != nil {
		return configErrorf("job %q: %v", def.Name, err)
	}
	return nil
}

// register 注册单个任务并挂入 cron
func (s *Scheduler) register(def JobDefinition) error {
	task := &ActiveTask{definition: def}
	if err := s.registry.register(def.Name, task); err != nil {
		return err
	}

	entryID, err := s.cron.AddFunc(def.Cadence, func() {
		s.runJob(task)
	})
	if err != nil {
		s.registry.unregister(def.Name)
		return configErrorf("job %q: schedule registration failed: %v", def.Name, err)
	}
	task.entryID = entryID

	s.logger.Info("job registered", "job", def.Name, "cadence", def.Cadence)
	return nil
}

// runJob 一次触发的完整流程：并发保护、执行、记录落账
// 本方法绝不向 cron 回调之外抛出任何错误
func (s *Scheduler) runJob(task *ActiveTask) {
	def := task.Definition()
	ctx := observability.WithJobName(s.ctx, def.Name)

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	// 上一轮未结束则跳过本次触发，同一任务不并发执行
	if !task.running.CompareAndSwap(false, true) {
		now := time.Now()
		s.logger.Warn("previous run still in progress, skipping firing", "job", def.Name)
		s.appendHistory(def.Name, ExecutionRecord{
			JobName:    def.Name,
			StartedAt:  now,
			FinishedAt: now,
			Status:     RunSkipped,
		})
		return
	}
	defer task.running.Store(false)

	record := s.executeOnce(ctx, def)

	// Stop 之后仍在飞行中的残留执行：丢弃结果，仅留日志
	if !s.registry.has(def.Name) {
		observability.InfoContext(ctx, "task no longer registered, discarding run outcome",
			"status", string(record.Status))
		return
	}

	s.appendHistory(def.Name, record)

	if record.Status == RunFailed {
		observability.ErrorContext(ctx, "job run failed",
			"stage", record.Stage,
			"error", record.Error,
			"duration_ms", record.Duration.Milliseconds(),
		)
	} else {
		observability.InfoContext(ctx, "job run finished",
			"status", string(record.Status),
			"duration_ms", record.Duration.Milliseconds(),
			"persisted", record.Persisted,
		)
	}

	if s.notifier != nil && record.Error != "" {
		s.notifier.NotifyFailure(def.Name, record.Stage, fmt.Errorf("%s", record.Error))
	}
}

// executeOnce 单次执行：连接就绪检查、提示词执行、条件持久化
// 持久化失败不推翻已完成的执行，结果仍保留在记录中
func (s *Scheduler) executeOnce(ctx context.Context, def JobDefinition) ExecutionRecord {
	record := ExecutionRecord{
		JobName:   def.Name,
		StartedAt: time.Now(),
	}
	finish := func() ExecutionRecord {
		record.FinishedAt = time.Now()
		record.Duration = record.FinishedAt.Sub(record.StartedAt)
		return record
	}

	if !s.conn.IsReady() {
		observability.WarnContext(ctx, "tool connection not ready, reconnecting")
		if err := s.conn.Connect(ctx); err != nil {
			connErr := newError(KindConnection, "tool connection reconnect failed", err)
			record.Status = RunFailed
			record.Stage = string(KindConnection)
			record.Error = connErr.Error()
			return finish()
		}
	}

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	result, err := s.executor.Execute(runCtx, def.Prompt, s.conn)
	if err != nil {
		execErr := newError(KindExecution, "prompt execution failed", err)
		record.Status = RunFailed
		record.Stage = string(KindExecution)
		record.Error = execErr.Error()
		return finish()
	}
	record.Status = RunCompleted
	record.Result = result

	if def.OutputPath != "" {
		path := ResolveOutputPath(def.OutputPath, def.Name, time.Now())
		record.OutputFile = path
		if err := s.persist(path, result); err != nil {
			persistErr := newError(KindPersistence, "result persistence failed", err)
			record.Stage = string(KindPersistence)
			record.Error = persistErr.Error()
		} else {
			record.Persisted = true
		}
	}
	return finish()
}

// persist 将执行结果写入目标文件，按需创建父目录
func (s *Scheduler) persist(path, content string) error {
	if err := s.sink.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return s.sink.WriteFile(path, []byte(content))
}

// Stop 停止指定任务，不存在时返回 ErrTaskNotFound
// 已在飞行中的执行不被打断，结束后结果被丢弃
func (s *Scheduler) Stop(name string) error {
	task, err := s.registry.unregister(name)
	if err != nil {
		return err
	}
	s.cron.Remove(task.entryID)
	s.logger.Info("task stopped", "job", name)
	return nil
}

// StopAll 停止全部任务，返回停止数量
func (s *Scheduler) StopAll() int {
	tasks := s.registry.list()
	for _, task := range tasks {
		def := task.Definition()
		if t, err := s.registry.unregister(def.Name); err == nil {
			s.cron.Remove(t.entryID)
		}
	}
	s.logger.Info("all tasks stopped", "count", len(tasks))
	return len(tasks)
}

// Shutdown 停机：移除全部任务并等待飞行中的 cron 回调退出
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()
	s.StopAll()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetActiveTasks 按注册顺序返回所有活跃任务的快照
func (s *Scheduler) GetActiveTasks() []TaskInfo {
	tasks := s.registry.list()
	infos := make([]TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		def := task.Definition()
		info := TaskInfo{
			Name:    def.Name,
			Cadence: def.Cadence,
		}
		entry := s.cron.Entry(task.entryID)
		if !entry.Next.IsZero() {
			next := entry.Next
			info.NextRun = &next
		}
		infos = append(infos, info)
	}
	return infos
}

// IsTaskActive 检查任务当前是否在调度中
func (s *Scheduler) IsTaskActive(name string) bool {
	return s.registry.has(name)
}

// History 返回任务最近的执行记录，新记录在前
// limit <= 0 表示返回全部保留记录
func (s *Scheduler) History(name string, limit int) []ExecutionRecord {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	records := s.history[name]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]ExecutionRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = records[len(records)-1-i]
	}
	return out
}

// appendHistory 追加执行记录，超出上限时淘汰最旧的
func (s *Scheduler) appendHistory(name string, record ExecutionRecord) {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	records := append(s.history[name], record)
	if len(records) > s.cfg.HistorySize {
		records = records[len(records)-s.cfg.HistorySize:]
	}
	s.history[name] = records
}

// cronLogger 将 cron 内部日志接入 slog
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
