// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"path/filepath"
	"strings"
	"time"
)

// timestampSanitizer 替换文件名中不安全的字符
var timestampSanitizer = strings.NewReplacer(":", "-", ".", "-")

// ResolveOutputPath 将输出路径模板展开为具体的绝对路径
// 支持的占位符：
//
//	{name}      任务名，原样替换
//	{timestamp} RFC3339 时间戳，: 和 . 替换为 -
//	{date}      日期部分，YYYY-MM-DD
//
// 未识别的占位符原样保留，函数本身不会失败
func ResolveOutputPath(template, jobName string, now time.Time) string {
	resolved := template
	resolved = strings.ReplaceAll(resolved, "{name}", jobName)
	resolved = strings.ReplaceAll(resolved, "{timestamp}", timestampSanitizer.Replace(now.Format(time.RFC3339)))
	resolved = strings.ReplaceAll(resolved, "{date}", now.Format("2006-01-02"))

	abs, err := filepath.Abs(resolved)
	if err != nil {
		// Abs 只在无法获取工作目录时失败，此时保留原路径
		return resolved
	}
	return abs
}
