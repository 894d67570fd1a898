package config

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telegram: TelegramConfig{
			APIEndpoint: tgbotapi.APIEndpoint,
			PollTimeout: 30,
			RetryDelay:  3,
			SendRetries: 0,
			SendBurst:   3,
		},
		Journal: JournalConfig{
			Enabled:       false,
			DBPath:        "~/.echobot/echobot.db",
			RetentionDays: 30,
		},
		Status: StatusConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9091,
		},
	}
}
