/**
 * @description
 * Configuration management for the insight-service. Uses viper to load
 * settings from environment variables, with defaults for everything that
 * has a safe local value and explicit errors for what does not.
 */
package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service processes.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`

	OpenRouterAPIKey  string `mapstructure:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `mapstructure:"OPENROUTER_BASE_URL"`
	OpenRouterModel   string `mapstructure:"OPENROUTER_MODEL"`

	PaymentWebhookSecret string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	OperatorJWTSecret    string `mapstructure:"OPERATOR_JWT_SECRET"`

	WorkerPlanet string `mapstructure:"WORKER_PLANET"`

	SweepSchedule   string `mapstructure:"SWEEP_SCHEDULE"`
	SweepBatchLimit int    `mapstructure:"SWEEP_BATCH_LIMIT"`

	ContinueRateLimit    int `mapstructure:"CONTINUE_RATE_LIMIT"`
	ContinueRateWindowMS int `mapstructure:"CONTINUE_RATE_WINDOW_MS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	viper.SetDefault("OPENROUTER_MODEL", "deepseek/deepseek-chat-v3.1:free")
	viper.SetDefault("SWEEP_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("SWEEP_BATCH_LIMIT", 20)
	viper.SetDefault("CONTINUE_RATE_LIMIT", 1)
	viper.SetDefault("CONTINUE_RATE_WINDOW_MS", 3000)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("TELEGRAM_BOT_TOKEN")
	_ = viper.BindEnv("OPENROUTER_API_KEY")
	_ = viper.BindEnv("OPENROUTER_BASE_URL")
	_ = viper.BindEnv("OPENROUTER_MODEL")
	_ = viper.BindEnv("PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("OPERATOR_JWT_SECRET")
	_ = viper.BindEnv("WORKER_PLANET")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("SWEEP_BATCH_LIMIT")
	_ = viper.BindEnv("CONTINUE_RATE_LIMIT")
	_ = viper.BindEnv("CONTINUE_RATE_WINDOW_MS")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if config.DatabaseURL == "" {
		return config, errors.New("DATABASE_URL must be set")
	}
	if config.RabbitMQURL == "" {
		return config, errors.New("RABBITMQ_URL must be set")
	}

	return
}
