// Package notify 提供任务失败的外部告警渠道
package notify

import (
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/observability"
)

// Config Telegram 告警配置
type Config struct {
	Enabled bool   `mapstructure:"enabled"` // 是否启用 Telegram 告警
	Token   string `mapstructure:"token"`   // Bot Token
	ChatID  int64  `mapstructure:"chat_id"` // 接收告警的会话 ID
}

// Validate 验证配置
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Token == "" {
		return fmt.Errorf("telegram notify: token is required")
	}
	if c.ChatID == 0 {
		return fmt.Errorf("telegram notify: chat_id is required")
	}
	return nil
}

// TelegramNotifier 通过 Telegram Bot 发送任务失败告警
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramNotifier 创建 Telegram 告警器
func NewTelegramNotifier(cfg Config, logger *slog.Logger) (*TelegramNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("telegram notifier created",
		"username", api.Self.UserName,
		"chat_id", cfg.ChatID,
	)

	return &TelegramNotifier{
		api:    api,
		chatID: cfg.ChatID,
		logger: logger,
	}, nil
}

// NotifyFailure 通知一次任务执行失败
// 发送失败只记录日志，告警渠道不可用不能影响调度
func (n *TelegramNotifier) NotifyFailure(jobName, stage string, err error) {
	text := fmt.Sprintf("⚠️ *Job failed*\njob: `%s`\nstage: `%s`\ntime: %s\nerror: %v",
		jobName, stage, time.Now().Format(time.RFC3339), err)

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, sendErr := n.api.Send(msg); sendErr != nil {
		// Markdown 解析失败时退回纯文本
		n.logger.Warn("failed to send markdown notification, retrying as plain text",
			"job", jobName,
			"error", sendErr,
		)
		msg.ParseMode = ""
		if _, sendErr = n.api.Send(msg); sendErr != nil {
			n.logger.Error("failed to send failure notification",
				"job", jobName,
				"error", sendErr,
			)
			return
		}
	}

	n.logger.Debug("failure notification sent", "job", jobName, "stage", stage)
}
