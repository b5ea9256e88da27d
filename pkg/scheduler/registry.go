// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"sync"
)

// taskRegistry 活跃任务注册表
// 任务名全局唯一；List 按注册顺序返回当前成员
type taskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*ActiveTask
	order []string
}

// newTaskRegistry 创建注册表
func newTaskRegistry() *taskRegistry {
	return &taskRegistry{
		tasks: make(map[string]*ActiveTask),
	}
}

// register 注册任务，同名任务已存在时返回配置错误
// 同名冲突是请求方错误，绝不静默覆盖
func (r *taskRegistry) register(name string, task *ActiveTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[name]; ok {
		return configErrorf("duplicate job name %q", name)
	}
	r.tasks[name] = task
	r.order = append(r.order, name)
	return nil
}

// unregister 移除并返回任务，不存在时返回 ErrTaskNotFound
func (r *taskRegistry) unregister(name string) (*ActiveTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[name]
	if !ok {
		return nil, ErrTaskNotFound
	}
	delete(r.tasks, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return task, nil
}

// get 获取任务
func (r *taskRegistry) get(name string) (*ActiveTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[name]
	return task, ok
}

// has 检查任务是否存在
func (r *taskRegistry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// list 按注册顺序返回所有任务
func (r *taskRegistry) list() []*ActiveTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*ActiveTask, 0, len(r.order))
	for _, name := range r.order {
		tasks = append(tasks, r.tasks[name])
	}
	return tasks
}

// count 返回任务数量
func (r *taskRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
