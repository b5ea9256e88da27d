// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"os"
)

// Sink 输出持久化接口
// 调度器只依赖这两个操作，方便测试替换
type Sink interface {
	// EnsureDir 递归创建目录
	EnsureDir(path string) error

	// WriteFile 写入文件内容
	WriteFile(path string, content []byte) error
}

// osSink 基于本地文件系统的默认实现
type osSink struct{}

// NewOSSink 创建本地文件系统 Sink
func NewOSSink() Sink {
	return osSink{}
}

func (osSink) EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

func (osSink) WriteFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0644)
}
