package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"ripple/internal/infra/setup"
)

// 清理任务的调度方式
const (
	SchedulerLocal = "local" // 进程内定时器
	SchedulerAsynq = "asynq" // asynq Scheduler + Worker，需要 Redis
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	AppEnv   string // 应用环境 (development/production)
	LogLevel string

	ServerPort        string
	CORSAllowedOrigin string

	DBDriver string
	DBDSN    string

	RedisAddr     string // 为空时不启用 Redis
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	JWTSecret     string
	JWTExpiry     time.Duration
	CookieHashKey string
	CookieSecure  bool

	SweepInterval  time.Duration
	SweepScheduler string
	ExpiryWarning  time.Duration

	PostRateLimit  int
	PostRateWindow time.Duration
	VoteRateLimit  int
	VoteRateWindow time.Duration
	IPRateLimit    int
	IPRateWindow   time.Duration

	WSSendTimeout time.Duration
	WSSendQueue   int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server_port", "8080")
	v.SetDefault("cors_allowed_origin", "*")
	v.SetDefault("db_driver", setup.DriverSQLite)
	v.SetDefault("db_dsn", "file:ripple.db")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key_prefix", "ripple:")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_expiry", "24h")
	v.SetDefault("cookie_hash_key", "")
	v.SetDefault("cookie_secure", false)
	v.SetDefault("sweep_interval", "300s")
	v.SetDefault("sweep_scheduler", SchedulerLocal)
	v.SetDefault("expiry_warning", "10m")
	v.SetDefault("post_rate_limit", 30)
	v.SetDefault("post_rate_window", "60s")
	v.SetDefault("vote_rate_limit", 100)
	v.SetDefault("vote_rate_window", "60s")
	v.SetDefault("ip_rate_limit", 20)
	v.SetDefault("ip_rate_window", "1s")
	v.SetDefault("ws_send_timeout", "10s")
	v.SetDefault("ws_send_queue", 64)
}

// LoadConfig 从环境变量加载配置，.env 文件存在时优先加载
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		AppEnv:            v.GetString("app_env"),
		LogLevel:          strings.ToLower(v.GetString("log_level")),
		ServerPort:        v.GetString("server_port"),
		CORSAllowedOrigin: v.GetString("cors_allowed_origin"),
		DBDriver:          strings.ToLower(v.GetString("db_driver")),
		DBDSN:             v.GetString("db_dsn"),
		RedisAddr:         v.GetString("redis_addr"),
		RedisPassword:     v.GetString("redis_password"),
		RedisDB:           v.GetInt("redis_db"),
		KeyPrefix:         v.GetString("redis_key_prefix"),
		JWTSecret:         v.GetString("jwt_secret"),
		JWTExpiry:         v.GetDuration("jwt_expiry"),
		CookieHashKey:     v.GetString("cookie_hash_key"),
		CookieSecure:      v.GetBool("cookie_secure"),
		SweepInterval:     v.GetDuration("sweep_interval"),
		SweepScheduler:    strings.ToLower(v.GetString("sweep_scheduler")),
		ExpiryWarning:     v.GetDuration("expiry_warning"),
		PostRateLimit:     v.GetInt("post_rate_limit"),
		PostRateWindow:    v.GetDuration("post_rate_window"),
		VoteRateLimit:     v.GetInt("vote_rate_limit"),
		VoteRateWindow:    v.GetDuration("vote_rate_window"),
		IPRateLimit:       v.GetInt("ip_rate_limit"),
		IPRateWindow:      v.GetDuration("ip_rate_window"),
		WSSendTimeout:     v.GetDuration("ws_send_timeout"),
		WSSendQueue:       v.GetInt("ws_send_queue"),
	}
	if cfg.CookieHashKey == "" {
		cfg.CookieHashKey = cfg.JWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查必填项和取值范围
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	switch c.DBDriver {
	case setup.DriverSQLite, setup.DriverMySQL, setup.DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("environment variable DB_DSN must be set")
	}
	switch c.SweepScheduler {
	case SchedulerLocal:
	case SchedulerAsynq:
		if c.RedisAddr == "" {
			return fmt.Errorf("SWEEP_SCHEDULER=asynq requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unsupported SWEEP_SCHEDULER %q", c.SweepScheduler)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}

	durations := map[string]time.Duration{
		"JWT_EXPIRY":       c.JWTExpiry,
		"SWEEP_INTERVAL":   c.SweepInterval,
		"EXPIRY_WARNING":   c.ExpiryWarning,
		"POST_RATE_WINDOW": c.PostRateWindow,
		"VOTE_RATE_WINDOW": c.VoteRateWindow,
		"IP_RATE_WINDOW":   c.IPRateWindow,
		"WS_SEND_TIMEOUT":  c.WSSendTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	limits := map[string]int{
		"POST_RATE_LIMIT": c.PostRateLimit,
		"VOTE_RATE_LIMIT": c.VoteRateLimit,
		"IP_RATE_LIMIT":   c.IPRateLimit,
		"WS_SEND_QUEUE":   c.WSSendQueue,
	}
	for name, n := range limits {
		if n <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
