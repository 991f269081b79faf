// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	AdminToken      string
	AdminChatIDs    []int64
	MaxUndoSequence int
	Telegram        TelegramConfig
}

// TelegramConfig controls the outbound admin notification channel.
type TelegramConfig struct {
	Enabled  bool
	BotToken string
	APIBase  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	adminIDs, err := parseAdminChatIDs(getEnv("ADMIN_CHAT_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/lendops.db"),
		AdminToken:      getEnv("ADMIN_TOKEN", ""),
		AdminChatIDs:    adminIDs,
		MaxUndoSequence: getEnvInt("MAX_UNDO_SEQUENCE", 3),
		Telegram: TelegramConfig{
			Enabled:  getEnvBool("TELEGRAM_NOTIFY_ENABLED", false),
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIBase:  getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxUndoSequence <= 0 {
		return fmt.Errorf("MAX_UNDO_SEQUENCE must be > 0")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN cannot be empty when notifications are enabled")
		}
		if len(c.AdminChatIDs) == 0 {
			return fmt.Errorf("ADMIN_CHAT_IDS cannot be empty when notifications are enabled")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func parseAdminChatIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_CHAT_IDS entry %q is not a chat id", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
