package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	Log       LogConfig
	Agent     AgentConfig
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	Mode        string `mapstructure:"-"`
	MigrateOnly bool   `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	PublicURL     string `mapstructure:"public_url"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioSecure   bool   `mapstructure:"minio_secure"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// CatalogTTL 课时目录缓存时间
	CatalogTTL time.Duration `mapstructure:"catalog_ttl"`
}

type LogConfig struct {
	File string `mapstructure:"file"`
}

// AgentConfig 客户端进度代理
type AgentConfig struct {
	Port           string
	BackendURL     string        `mapstructure:"backend_url"`
	Token          string        `mapstructure:"token"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Queue          QueueConfig   `mapstructure:"queue"`
}

type QueueConfig struct {
	Store string `mapstructure:"store"`
	Path  string `mapstructure:"path"`
	Key   string `mapstructure:"key"`
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("jwt.expire_hours", 72)
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "certificates")
	viper.SetDefault("redis.catalog_ttl", "10m")
	viper.SetDefault("log.file", "logs/app.log")
	viper.SetDefault("rate_limit.max_requests", 6000)
	viper.SetDefault("rate_limit.window_minutes", 1)

	viper.SetDefault("agent.port", "8090")
	viper.SetDefault("agent.backend_url", "http://localhost:8080")
	viper.SetDefault("agent.probe_interval", "15s")
	viper.SetDefault("agent.probe_timeout", "3s")
	viper.SetDefault("agent.tick_interval", "30s")
	viper.SetDefault("agent.request_timeout", "10s")
	viper.SetDefault("agent.queue.store", "file")
	viper.SetDefault("agent.queue.path", "data/offline_progress.json")
	viper.SetDefault("agent.queue.key", "offline_progress_queue")
}

func LoadConfig(path string) (*Config, error) {
	v := viper.GetViper()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CODER_EDU")
	v.AutomaticEnv()
	setDefaults()

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// Storage
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// Agent
	v.BindEnv("agent.backend_url", "AGENT_BACKEND_URL")
	v.BindEnv("agent.token", "AGENT_TOKEN")
	v.BindEnv("agent.queue.store", "AGENT_QUEUE_STORE")
	v.BindEnv("agent.queue.path", "AGENT_QUEUE_PATH")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// Validate 校验配置中的必要约束
func (c *Config) Validate() error {
	// 生产环境校验 JWT Secret 强度
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowMinutes <= 0 {
		return fmt.Errorf("rate_limit.max_requests and rate_limit.window_minutes must be positive")
	}
	if c.Agent.ProbeInterval <= 0 {
		return fmt.Errorf("agent.probe_interval must be positive, got %s", c.Agent.ProbeInterval)
	}
	if c.Agent.TickInterval < time.Second {
		return fmt.Errorf("agent.tick_interval must be at least 1s, got %s", c.Agent.TickInterval)
	}
	switch c.Storage.Type {
	case "", "local", "minio":
	case "oss":
		if c.Storage.OSSEndpoint == "" || c.Storage.OSSBucket == "" {
			return fmt.Errorf("storage.oss_endpoint and storage.oss_bucket are required for oss storage")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}
	switch c.Agent.Queue.Store {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown agent.queue.store %q", c.Agent.Queue.Store)
	}
	return nil
}
