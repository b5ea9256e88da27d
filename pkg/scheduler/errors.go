// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"errors"
	"fmt"
)

// ErrorKind 调度器错误类别
type ErrorKind string

const (
	// KindConfiguration 配置错误：非法 cron 表达式、任务名冲突等
	// 在 Start 时同步返回给调用方，整批任务不会生效
	KindConfiguration ErrorKind = "configuration"

	// KindConnection 连接错误：MCP 连接不可用且重连失败
	// 只记录日志，等待下一次触发重试
	KindConnection ErrorKind = "connection"

	// KindExecution 执行错误：单次提示词执行失败
	// 只记录日志，不会停用任务
	KindExecution ErrorKind = "execution"

	// KindPersistence 持久化错误：输出文件写入失败
	// 不影响本次执行结果本身，仅该结果未落盘
	KindPersistence ErrorKind = "persistence"
)

// Error 调度器错误，携带类别和可选的底层错误
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// newError 创建调度器错误
func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// configErrorf 创建配置错误
func configErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// IsKind 判断错误是否属于指定类别
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("task not found")
