package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Session   SessionConfig   `mapstructure:"session"`
	API       APIConfig       `mapstructure:"api"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cart      CartConfig      `mapstructure:"cart"`
	Unread    UnreadConfig    `mapstructure:"unread"`
	EventLoop EventLoopConfig `mapstructure:"event_loop"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// SessionConfig 会话身份；viewer 信息优先从 access_token 中解析
type SessionConfig struct {
	StoreID     string `mapstructure:"store_id"`
	AccessToken string `mapstructure:"access_token"`
	ViewerID    string `mapstructure:"viewer_id"`
	ViewerRole  string `mapstructure:"viewer_role"`
	OwnerID     string `mapstructure:"owner_id"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // memory | file | redis | postgres
	Key      string         `mapstructure:"key"`
	Dir      string         `mapstructure:"dir"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	Prefix   string `mapstructure:"prefix"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type CartConfig struct {
	NoticeDelay time.Duration `mapstructure:"notice_delay"`
	IOTimeout   time.Duration `mapstructure:"io_timeout"`
}

type UnreadConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type EventLoopConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

// Load 从指定路径加载配置，再用环境变量覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Env = GetEnv("APP_ENV", c.App.Env)
	c.App.LogLevel = GetEnv("LOG_LEVEL", c.App.LogLevel)

	// Session
	c.Session.StoreID = GetEnv("STOREFRONT_STORE_ID", c.Session.StoreID)
	c.Session.AccessToken = GetEnv("STOREFRONT_ACCESS_TOKEN", c.Session.AccessToken)
	c.Session.ViewerID = GetEnv("STOREFRONT_VIEWER_ID", c.Session.ViewerID)
	c.Session.ViewerRole = GetEnv("STOREFRONT_VIEWER_ROLE", c.Session.ViewerRole)
	c.Session.OwnerID = GetEnv("STOREFRONT_OWNER_ID", c.Session.OwnerID)

	// API
	c.API.BaseURL = GetEnv("STOREFRONT_API_URL", c.API.BaseURL)
	c.API.Timeout = GetEnvDuration("STOREFRONT_API_TIMEOUT", c.API.Timeout)

	// NATS
	c.NATS.URL = GetEnv("NATS_URL", c.NATS.URL)
	c.NATS.Token = GetEnv("NATS_TOKEN", c.NATS.Token)

	// Storage
	c.Storage.Driver = GetEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Dir = GetEnv("STORAGE_DIR", c.Storage.Dir)
	c.Storage.Redis.Host = GetEnv("REDIS_HOST", c.Storage.Redis.Host)
	c.Storage.Redis.Port = GetEnvInt("REDIS_PORT", c.Storage.Redis.Port)
	c.Storage.Redis.Password = GetEnv("REDIS_PASSWORD", c.Storage.Redis.Password)
	c.Storage.Redis.DB = GetEnvInt("REDIS_DB", c.Storage.Redis.DB)
	c.Storage.Database.Host = GetEnv("POSTGRES_HOST", c.Storage.Database.Host)
	c.Storage.Database.Port = GetEnvInt("POSTGRES_PORT", c.Storage.Database.Port)
	c.Storage.Database.User = GetEnv("POSTGRES_USER", c.Storage.Database.User)
	c.Storage.Database.Password = GetEnv("POSTGRES_PASSWORD", c.Storage.Database.Password)
	c.Storage.Database.Name = GetEnv("POSTGRES_DB", c.Storage.Database.Name)

	// Unread
	c.Unread.PollInterval = GetEnvDuration("UNREAD_POLL_INTERVAL", c.Unread.PollInterval)

	// HTTP
	c.HTTP.Addr = GetEnv("HTTP_ADDR", c.HTTP.Addr)
}

// applyDefaults 为未配置的项填充默认值
func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "storefront-sync"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.API.Breaker.MaxFailures == 0 {
		c.API.Breaker.MaxFailures = 5
	}
	if c.API.Breaker.OpenTimeout <= 0 {
		c.API.Breaker.OpenTimeout = 30 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectWait <= 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Key == "" {
		c.Storage.Key = "cart"
	}
	if c.Storage.Redis.Host == "" {
		c.Storage.Redis.Host = "localhost"
	}
	if c.Storage.Redis.Port == 0 {
		c.Storage.Redis.Port = 6379
	}
	if c.Cart.NoticeDelay <= 0 {
		c.Cart.NoticeDelay = 3 * time.Second
	}
	if c.Cart.IOTimeout <= 0 {
		c.Cart.IOTimeout = 2 * time.Second
	}
	if c.Unread.PollInterval <= 0 {
		c.Unread.PollInterval = 60 * time.Second
	}
	if c.EventLoop.QueueSize <= 0 {
		c.EventLoop.QueueSize = 1024
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8090"
	}
	if c.HTTP.Mode == "" {
		c.HTTP.Mode = "release"
	}
}
