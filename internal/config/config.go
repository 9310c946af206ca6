package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Identity  IdentityConfig  `mapstructure:"identity"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   int64  `mapstructure:"node_id"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 生成 Postgres 连接串
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr Redis 地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// ChatConfig 私信核心参数
type ChatConfig struct {
	FlushDelay        time.Duration `mapstructure:"flush_delay"`
	AutoReadDelay     time.Duration `mapstructure:"auto_read_delay"`
	BufferBackend     string        `mapstructure:"buffer_backend"`
	PresenceBackend   string        `mapstructure:"presence_backend"`
	Transport         string        `mapstructure:"transport"`
	DispatchWorkers   int           `mapstructure:"dispatch_workers"`
	DispatchQueueSize int           `mapstructure:"dispatch_queue_size"`
	PreviewLength     int           `mapstructure:"preview_length"`
}

// SchedulerConfig 时间轮参数
type SchedulerConfig struct {
	Tick    time.Duration `mapstructure:"tick"`
	Slots   int           `mapstructure:"slots"`
	Workers int           `mapstructure:"workers"`
}

type IdentityConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	TransportLocal = "local"
	TransportNATS  = "nats"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "chat")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.node_id", 1)
	v.SetDefault("app.allowed_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "chat")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("chat.flush_delay", 5*time.Second)
	v.SetDefault("chat.auto_read_delay", time.Second)
	v.SetDefault("chat.buffer_backend", BackendRedis)
	v.SetDefault("chat.presence_backend", BackendRedis)
	v.SetDefault("chat.transport", TransportLocal)
	v.SetDefault("chat.dispatch_workers", 16)
	v.SetDefault("chat.dispatch_queue_size", 256)
	v.SetDefault("chat.preview_length", 30)

	v.SetDefault("scheduler.tick", 100*time.Millisecond)
	v.SetDefault("scheduler.slots", 600)
	v.SetDefault("scheduler.workers", 8)

	v.SetDefault("identity.cache_size", 4096)
}

// Load 从指定路径加载配置，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 从环境变量覆盖配置
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Port = getEnvInt("CHAT_PORT", c.App.Port)
	c.App.Mode = getEnv("CHAT_MODE", c.App.Mode)
	c.App.LogLevel = getEnv("CHAT_LOG_LEVEL", c.App.LogLevel)
	c.App.NodeID = int64(getEnvInt("CHAT_NODE_ID", int(c.App.NodeID)))

	// Database
	c.Database.Host = getEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = getEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = getEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("POSTGRES_DB", c.Database.Name)
	c.Database.MaxOpenConns = getEnvInt("POSTGRES_MAX_OPEN_CONNS", c.Database.MaxOpenConns)

	// Redis
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	// NATS
	c.NATS.Enabled = getEnvBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)

	// Chat
	c.Chat.FlushDelay = getEnvDuration("CHAT_FLUSH_DELAY", c.Chat.FlushDelay)
	c.Chat.AutoReadDelay = getEnvDuration("CHAT_AUTO_READ_DELAY", c.Chat.AutoReadDelay)
	c.Chat.BufferBackend = getEnv("CHAT_BUFFER_BACKEND", c.Chat.BufferBackend)
	c.Chat.PresenceBackend = getEnv("CHAT_PRESENCE_BACKEND", c.Chat.PresenceBackend)
	c.Chat.Transport = getEnv("CHAT_TRANSPORT", c.Chat.Transport)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Chat.FlushDelay <= 0 {
		return fmt.Errorf("chat.flush_delay must be positive")
	}
	if c.Chat.AutoReadDelay < 0 {
		return fmt.Errorf("chat.auto_read_delay must not be negative")
	}
	if c.Scheduler.Tick <= 0 || c.Scheduler.Slots <= 0 {
		return fmt.Errorf("scheduler.tick and scheduler.slots must be positive")
	}
	if c.Chat.FlushDelay > c.Scheduler.Tick*time.Duration(c.Scheduler.Slots) {
		return fmt.Errorf("chat.flush_delay %s exceeds scheduler horizon", c.Chat.FlushDelay)
	}
	switch c.Chat.BufferBackend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown chat.buffer_backend %q", c.Chat.BufferBackend)
	}
	switch c.Chat.PresenceBackend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown chat.presence_backend %q", c.Chat.PresenceBackend)
	}
	switch c.Chat.Transport {
	case TransportLocal:
	case TransportNATS:
		if !c.NATS.Enabled {
			return fmt.Errorf("chat.transport nats requires nats.enabled")
		}
	default:
		return fmt.Errorf("unknown chat.transport %q", c.Chat.Transport)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
