// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// cadenceParser 统一的 cron 表达式解析器
// 秒字段可选：同时接受 5 字段（分钟级）和 6 字段（秒级）表达式
var cadenceParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ValidateCadence 验证 cron 表达式
// 非法表达式返回配置错误；调度器在创建任何 cron entry 之前调用
func ValidateCadence(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return configErrorf("cadence cannot be empty")
	}
	if _, err := cadenceParser.Parse(expr); err != nil {
		return newError(KindConfiguration, fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return nil
}
