package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
}

// WorkerConfig tunes the batch loop and its neighbours.
type WorkerConfig struct {
	Hostname               string        `mapstructure:"hostname"`
	BatchSize              int           `mapstructure:"batch_size"`
	BacklogWarnThreshold   int64         `mapstructure:"backlog_warn_threshold"`
	AutoTriggerLimit       int           `mapstructure:"auto_trigger_limit"`
	DeadLetterLimit        int           `mapstructure:"dead_letter_limit"`
	DeadLetterMinInterval  time.Duration `mapstructure:"dead_letter_min_interval"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	StartupJitter          time.Duration `mapstructure:"startup_jitter"`
	OperationTimeout       time.Duration `mapstructure:"operation_timeout"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout"`
	HealthTimeout          time.Duration `mapstructure:"health_timeout"`
	RunHistorySize         int           `mapstructure:"run_history_size"`
}

type ScheduleConfig struct {
	BatchInterval         time.Duration `mapstructure:"batch_interval"`
	MaintenanceInterval   time.Duration `mapstructure:"maintenance_interval"`
	CleanupInterval       time.Duration `mapstructure:"cleanup_interval"`
	MetricsReportInterval time.Duration `mapstructure:"metrics_report_interval"`
}

type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	QueueKey string `mapstructure:"queue_key"`
}

type DeliveryConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxTotalAttempts int           `mapstructure:"max_total_attempts"`
	SigningSecret    string        `mapstructure:"signing_secret"`
	CleanupEnabled   bool          `mapstructure:"cleanup_enabled"`
	ClaimTimeout     time.Duration `mapstructure:"claim_timeout"`
}

type HTTPConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Port    int      `mapstructure:"port"`
	Origins []string `mapstructure:"origins"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

// Addr is the listen address of the optional HTTP surface.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")

	// keys without a real default are still registered so env overrides reach Unmarshal
	v.SetDefault("worker.hostname", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("delivery.signing_secret", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("http.origins", []string{})

	v.SetDefault("worker.batch_size", 200)
	v.SetDefault("worker.backlog_warn_threshold", 500)
	v.SetDefault("worker.auto_trigger_limit", 50)
	v.SetDefault("worker.dead_letter_limit", 20)
	v.SetDefault("worker.dead_letter_min_interval", 30*time.Second)
	v.SetDefault("worker.max_consecutive_failures", 5)
	v.SetDefault("worker.startup_jitter", 2*time.Second)
	v.SetDefault("worker.operation_timeout", 30*time.Second)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)
	v.SetDefault("worker.health_timeout", 3*time.Second)
	v.SetDefault("worker.run_history_size", 20)

	v.SetDefault("schedule.batch_interval", 5*time.Second)
	v.SetDefault("schedule.maintenance_interval", 10*time.Second)
	v.SetDefault("schedule.cleanup_interval", 60*time.Second)
	v.SetDefault("schedule.metrics_report_interval", 300*time.Second)

	v.SetDefault("mysql.dsn", "root:root@tcp(127.0.0.1:3306)/uploadhook?parseTime=true")
	v.SetDefault("mysql.auto_migrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.queue_key", "uploadhook:webhooks")

	v.SetDefault("delivery.timeout", 10*time.Second)
	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.initial_backoff", 500*time.Millisecond)
	v.SetDefault("delivery.max_total_attempts", 15)
	v.SetDefault("delivery.cleanup_enabled", true)
	v.SetDefault("delivery.claim_timeout", 5*time.Minute)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.port", 8090)

	v.SetDefault("ratelimit.requests_per_second", 1)
}

// Load reads config.yaml (optional) and UPLOADHOOK_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("UPLOADHOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Worker.BatchSize <= 0 {
		return errors.New("worker.batch_size must be positive")
	}
	if c.Worker.MaxConsecutiveFailures <= 0 {
		return errors.New("worker.max_consecutive_failures must be positive")
	}
	for name, d := range map[string]time.Duration{
		"schedule.batch_interval":          c.Schedule.BatchInterval,
		"schedule.maintenance_interval":    c.Schedule.MaintenanceInterval,
		"schedule.cleanup_interval":        c.Schedule.CleanupInterval,
		"schedule.metrics_report_interval": c.Schedule.MetricsReportInterval,
	} {
		if d < time.Second {
			return fmt.Errorf("%s must be at least 1s, got %s", name, d)
		}
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	return nil
}
