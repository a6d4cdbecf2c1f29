// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 默认值
const (
	DefaultPort        = "8080"
	DefaultDataDir     = "data"
	DefaultLogDir      = "logs"
	DefaultLogLevel    = "info"
	DefaultStore       = "file"
	DefaultTurnTimeout = 3 * time.Minute
)

// Config 存储应用配置
type Config struct {
	Port      string
	DataDir   string
	LogDir    string
	LogLevel  string
	DebugMode bool

	// 存储后端
	StoreBackend string
	RedisURL     string
	DatabaseURL  string

	// LLM 相关配置
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	DefaultModel      string
	TurnTimeout       time.Duration

	// SettingsSecret 非空时 API 密钥加密存储
	SettingsSecret string
}

// Load 从环境变量加载配置，envFiles 为可选的 .env 文件（默认 .env，不存在时忽略）
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	timeout, err := getEnvDuration("TURN_TIMEOUT", DefaultTurnTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		DataDir:           getEnv("DATA_DIR", DefaultDataDir),
		LogDir:            getEnv("LOG_DIR", DefaultLogDir),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DebugMode:         getEnvBool("DEBUG_MODE", false),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", DefaultStore)),
		RedisURL:          getEnv("REDIS_URL", ""),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		DefaultModel:      getEnv("DEFAULT_MODEL", ""),
		TurnTimeout:       timeout,
		SettingsSecret:    getEnv("SETTINGS_SECRET", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查后端相关的必填项
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "file":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("STORE_BACKEND=redis requires REDIS_URL")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be positive")
	}
	return nil
}

// Addr 监听地址
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value == "yes"
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
