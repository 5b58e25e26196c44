package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppCfg struct {
	Env      string `mapstructure:"env"`
	Port     int    `mapstructure:"port"`
	Backend  string `mapstructure:"backend"`
	LogLevel string `mapstructure:"log_level"`
}

type SessionCfg struct {
	CacheFile string `mapstructure:"cache_file"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MongoCfg struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaCfg struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LedgerCfg struct {
	EchoToleranceMs int `mapstructure:"echo_tolerance_ms"`
}

type DispatcherCfg struct {
	WriteTimeoutSeconds int     `mapstructure:"write_timeout_seconds"`
	RetryMaxElapsedMs   int     `mapstructure:"retry_max_elapsed_ms"`
	SendsPerSecond      float64 `mapstructure:"sends_per_second"`
	SendBurst           int     `mapstructure:"send_burst"`
}

type BreakerCfg struct {
	MaxFailures    uint32 `mapstructure:"max_failures"`
	IntervalSec    int    `mapstructure:"interval_sec"`
	TimeoutSec     int    `mapstructure:"timeout_sec"`
	CallTimeoutSec int    `mapstructure:"call_timeout_sec"`
}

type Config struct {
	App        AppCfg        `mapstructure:"app"`
	Session    SessionCfg    `mapstructure:"session"`
	Mongo      MongoCfg      `mapstructure:"mongo"`
	Redis      RedisCfg      `mapstructure:"redis"`
	Kafka      KafkaCfg      `mapstructure:"kafka"`
	Ledger     LedgerCfg     `mapstructure:"ledger"`
	Dispatcher DispatcherCfg `mapstructure:"dispatcher"`
	Breaker    BreakerCfg    `mapstructure:"breaker"`

	// Derived
	EchoTolerance   time.Duration
	WriteTimeout    time.Duration
	RetryMaxElapsed time.Duration
	BreakerInterval time.Duration
	BreakerTimeout  time.Duration
	CallTimeout     time.Duration
}

func (c *Config) Development() bool { return c.App.Env == "" || c.App.Env == "development" }

// Load reads the YAML file at path (optional when empty) and applies
// CHAT_* environment overrides, e.g. CHAT_REDIS_ADDR.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	derive(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8090)
	v.SetDefault("app.backend", "memory")
	v.SetDefault("app.log_level", "")
	v.SetDefault("session.cache_file", "session.yaml")
	v.SetDefault("session.jwt_secret", "")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chatdb")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chat.changes")
	// registered so CHAT_* overrides reach Unmarshal
	for _, k := range []string{
		"ledger.echo_tolerance_ms",
		"dispatcher.write_timeout_seconds", "dispatcher.retry_max_elapsed_ms",
		"dispatcher.sends_per_second", "dispatcher.send_burst",
		"breaker.max_failures", "breaker.interval_sec", "breaker.timeout_sec", "breaker.call_timeout_sec",
	} {
		v.SetDefault(k, 0)
	}
}

func derive(cfg *Config) {
	if cfg.Ledger.EchoToleranceMs == 0 {
		cfg.Ledger.EchoToleranceMs = 10000
	}
	if cfg.Dispatcher.WriteTimeoutSeconds == 0 {
		cfg.Dispatcher.WriteTimeoutSeconds = 10
	}
	if cfg.Dispatcher.RetryMaxElapsedMs == 0 {
		cfg.Dispatcher.RetryMaxElapsedMs = 3000
	}
	if cfg.Dispatcher.SendsPerSecond == 0 {
		cfg.Dispatcher.SendsPerSecond = 5
	}
	if cfg.Dispatcher.SendBurst == 0 {
		cfg.Dispatcher.SendBurst = 10
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = 5
	}
	if cfg.Breaker.IntervalSec == 0 {
		cfg.Breaker.IntervalSec = 60
	}
	if cfg.Breaker.TimeoutSec == 0 {
		cfg.Breaker.TimeoutSec = 15
	}
	if cfg.Breaker.CallTimeoutSec == 0 {
		cfg.Breaker.CallTimeoutSec = 5
	}
	cfg.EchoTolerance = time.Duration(cfg.Ledger.EchoToleranceMs) * time.Millisecond
	cfg.WriteTimeout = time.Duration(cfg.Dispatcher.WriteTimeoutSeconds) * time.Second
	cfg.RetryMaxElapsed = time.Duration(cfg.Dispatcher.RetryMaxElapsedMs) * time.Millisecond
	cfg.BreakerInterval = time.Duration(cfg.Breaker.IntervalSec) * time.Second
	cfg.BreakerTimeout = time.Duration(cfg.Breaker.TimeoutSec) * time.Second
	cfg.CallTimeout = time.Duration(cfg.Breaker.CallTimeoutSec) * time.Second
}
