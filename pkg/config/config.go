package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
	// Exchange is the topic exchange lifecycle events are published to.
	Exchange string `yaml:"exchange"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// ProviderConfig is the mailbox provider API endpoint.
type ProviderConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
	PageSize int    `yaml:"page_size"`
}

// ScanConfig controls the incremental scan coordinator.
type ScanConfig struct {
	// Interval between scheduled runs.
	IntervalSeconds int `yaml:"interval_seconds"`
	// Wall-clock budget for one run; the hosting environment enforces a
	// ~60s ceiling, so the budget must leave headroom for the final commit.
	BudgetSeconds int `yaml:"budget_seconds"`
	// Accounts per batch. Batches run sequentially, accounts in a batch
	// run concurrently.
	BatchSize int `yaml:"batch_size"`
	// Mailbox folder allow-list, matched case-insensitively by substring.
	Folders []string `yaml:"folders"`
}

type Config struct {
	DB       DBConfig       `yaml:"db"`
	MQ       MQConfig       `yaml:"mq"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Scan     ScanConfig     `yaml:"scan"`
}

func (c ScanConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c ScanConfig) Budget() time.Duration {
	return time.Duration(c.BudgetSeconds) * time.Second
}

// Load reads the yaml config file and applies env overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideDBFromEnv(&cfg.DB)
	overrideMQFromEnv(&cfg.MQ)
	overrideRedisFromEnv(&cfg.Redis)
	overrideServerFromEnv(&cfg.Server)
	overrideProviderFromEnv(&cfg.Provider)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		MQ:     MQConfig{Exchange: "events"},
		Server: ServerConfig{Port: ":8085"},
		Provider: ProviderConfig{
			PageSize: 50,
		},
		Scan: ScanConfig{
			IntervalSeconds: 300,
			BudgetSeconds:   50,
			BatchSize:       10,
			Folders:         []string{"inbox", "archive"},
		},
	}
}

// overrideDBFromEnv 从环境变量覆盖数据库配置
func overrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

func overrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
	if exchange := os.Getenv("MQ_EXCHANGE"); exchange != "" {
		cfg.Exchange = exchange
	}
}

func overrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

func overrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

func overrideProviderFromEnv(cfg *ProviderConfig) {
	if url := os.Getenv("PROVIDER_BASE_URL"); url != "" {
		cfg.BaseURL = url
	}
	if token := os.Getenv("PROVIDER_API_TOKEN"); token != "" {
		cfg.APIToken = token
	}
}
