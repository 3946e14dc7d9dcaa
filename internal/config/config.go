package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// 默认密钥，仅用于本地开发
const defaultAppSecret = "your-secret-key-change-in-production"

// ConfigPathEnvVar 指定配置文件路径的环境变量
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths 配置文件搜索路径（按优先级）
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/flicklog/config.yaml",
}

// Config 应用配置
type Config struct {
	Env         string `koanf:"env"`
	AppSecret   string `koanf:"app_secret"`
	JWTSecret   string `koanf:"jwt_secret"`
	DatabaseURL string `koanf:"database_url"`
	Port        string `koanf:"port"`
	SiteName    string `koanf:"site_name"`
	SiteUrl     string `koanf:"site_url"`

	DB      DBConfig      `koanf:"db"`
	TMDB    TMDBConfig    `koanf:"tmdb"`
	Webhook WebhookConfig `koanf:"webhook"`
	Log     LogConfig     `koanf:"log"`

	StatsCacheTTL   time.Duration `koanf:"stats_cache_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// DBConfig 数据库连接参数（DATABASE_URL 为空时拼接）
type DBConfig struct {
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
	MaxOpen  int    `koanf:"max_open"`
	MaxIdle  int    `koanf:"max_idle"`
}

// TMDBConfig 元数据服务配置
type TMDBConfig struct {
	BaseURL   string        `koanf:"base_url"`
	Token     string        `koanf:"token"`
	Timeout   time.Duration `koanf:"timeout"`
	CacheSize int           `koanf:"cache_size"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
}

// WebhookConfig 通知推送配置
type WebhookConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	RatePerMinute int           `koanf:"rate_per_minute"`
	Burst         int           `koanf:"burst"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func defaultConfig() *Config {
	return &Config{
		Env:       "development",
		AppSecret: defaultAppSecret,
		Port:      "5005",
		SiteName:  "Flicklog",
		SiteUrl:   "http://localhost:5005",
		DB: DBConfig{
			User:     "postgres",
			Password: "postgres",
			Host:     "localhost",
			Port:     "5432",
			Name:     "flicklog",
			SSLMode:  "disable",
			MaxOpen:  25,
			MaxIdle:  5,
		},
		TMDB: TMDBConfig{
			BaseURL:   "https://api.themoviedb.org/3",
			Timeout:   5 * time.Second,
			CacheSize: 2000,
			CacheTTL:  24 * time.Hour,
		},
		Webhook: WebhookConfig{
			Timeout:       5 * time.Second,
			RatePerMinute: 30,
			Burst:         5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		StatsCacheTTL:   time.Minute,
		CleanupInterval: 24 * time.Hour,
	}
}

// Load 加载配置：默认值 -> 配置文件 -> 环境变量
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("加载默认配置失败: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("加载配置文件 %s 失败: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("加载环境变量失败: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.AppSecret
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name, cfg.DB.SSLMode)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.IsProduction() && c.AppSecret == defaultAppSecret {
		return errors.New("生产环境禁止使用默认密钥，请设置 APP_SECRET")
	}
	if c.TMDB.Timeout <= 0 || c.Webhook.Timeout <= 0 {
		return errors.New("TMDB_TIMEOUT 与 WEBHOOK_TIMEOUT 必须大于 0")
	}
	if c.Webhook.RatePerMinute <= 0 {
		return errors.New("WEBHOOK_RATE_PER_MINUTE 必须大于 0")
	}
	if c.TMDB.CacheSize <= 0 {
		return errors.New("TMDB_CACHE_SIZE 必须大于 0")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings 环境变量 -> 配置路径
var envMappings = map[string]string{
	"app_env":                 "env",
	"app_secret":              "app_secret",
	"jwt_secret":              "jwt_secret",
	"database_url":            "database_url",
	"port":                    "port",
	"site_name":               "site_name",
	"site_url":                "site_url",
	"db_user":                 "db.user",
	"db_password":             "db.password",
	"db_host":                 "db.host",
	"db_port":                 "db.port",
	"db_name":                 "db.name",
	"db_sslmode":              "db.sslmode",
	"db_max_open":             "db.max_open",
	"db_max_idle":             "db.max_idle",
	"tmdb_base_url":           "tmdb.base_url",
	"tmdb_token":              "tmdb.token",
	"tmdb_timeout":            "tmdb.timeout",
	"tmdb_cache_size":         "tmdb.cache_size",
	"tmdb_cache_ttl":          "tmdb.cache_ttl",
	"webhook_timeout":         "webhook.timeout",
	"webhook_rate_per_minute": "webhook.rate_per_minute",
	"webhook_burst":           "webhook.burst",
	"log_level":               "log.level",
	"log_format":              "log.format",
	"stats_cache_ttl":         "stats_cache_ttl",
	"cleanup_interval":        "cleanup_interval",
}

// envTransformFunc 未登记的环境变量返回空串，koanf 会忽略
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
