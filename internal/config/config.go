package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del backend y del cliente de chat.
type Config struct {
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	LLMAPIKey       string        `env:"LLM_API_KEY"`
	LLMBaseURL      string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMModel        string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMSystemPrompt string        `env:"LLM_SYSTEM_PROMPT"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	SendLockTTL     time.Duration `env:"SEND_LOCK_TTL" envDefault:"2m"`
	HistoryWindow   int           `env:"HISTORY_WINDOW" envDefault:"20"`

	ChatBaseURL               string        `env:"CHAT_BASE_URL" envDefault:"http://localhost:8080"`
	ChatResponseHeaderTimeout time.Duration `env:"CHAT_RESPONSE_HEADER_TIMEOUT" envDefault:"30s"`
	ChatDebug                 bool          `env:"CHAT_DEBUG" envDefault:"false"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
