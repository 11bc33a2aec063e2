package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "MEETSCRIBE"

// Load configuration from defaults, an optional config file and environment
// variables, in increasing order of precedence. configFile may be empty, in
// which case meetscribe.yaml is looked up in the working directory and
// /etc/meetscribe. Returns a populated Config or an error if loading or
// validation fails.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("meetscribe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/meetscribe")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-section requirements of the
// selected backends.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	var errs []error
	switch cfg.Notifications.Transport {
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis notification transport"))
		}
	case "amqp":
		if cfg.AMQP.URL == "" {
			errs = append(errs, errors.New("amqp.url is required for the amqp notification transport"))
		}
	}
	if cfg.Conflicts.Backup == "minio" && (cfg.Minio.Endpoint == "" || cfg.Minio.Bucket == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucket are required for minio conflict backups"))
	}
	if cfg.Speech.Provider == "gemini" && cfg.Speech.Gemini.APIKey == "" {
		errs = append(errs, errors.New("speech.gemini.api_key is required for the gemini speech provider"))
	}
	if cfg.Tracing.Exporter == "otlphttp" && cfg.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required for the otlphttp exporter"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// setDefaults registers every key so environment variables can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "meetscribe")
	v.SetDefault("auth.token_lifetime", 24*time.Hour)

	v.SetDefault("queue.max_size", 100)
	v.SetDefault("queue.mode", "priority")
	v.SetDefault("queue.max_concurrent_jobs", 3)
	v.SetDefault("queue.max_memory_per_job", 256)
	v.SetDefault("queue.max_total_memory", 1024)
	v.SetDefault("queue.max_api_calls", 10)
	v.SetDefault("queue.default_max_retries", 3)
	v.SetDefault("queue.retention_limit", 50)
	v.SetDefault("queue.base_retry_delay", time.Second)
	v.SetDefault("queue.max_retry_delay", 30*time.Second)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.execution_timeout", time.Duration(0))

	v.SetDefault("tracker.progress_update_interval", 5*time.Second)
	v.SetDefault("tracker.default_timeout", 10*time.Minute)
	v.SetDefault("tracker.priority_timeouts", map[string]time.Duration{
		"urgent": 5 * time.Minute,
		"high":   8 * time.Minute,
		"normal": 10 * time.Minute,
		"low":    15 * time.Minute,
		"idle":   30 * time.Minute,
	})
	v.SetDefault("tracker.max_events_per_job", 100)
	v.SetDefault("tracker.retention_ttl", 24*time.Hour)
	v.SetDefault("tracker.fail_timed_out_jobs", false)

	v.SetDefault("notifications.progress_throttle_interval", time.Second)
	v.SetDefault("notifications.disabled_types", []string{})
	v.SetDefault("notifications.broadcast_targets", []string{"popup", "content"})
	v.SetDefault("notifications.transport", "none")

	v.SetDefault("storage.memory_ttl", 5*time.Minute)
	v.SetDefault("storage.sweep_interval", 60*time.Second)
	v.SetDefault("storage.transaction_timeout", 30*time.Second)
	v.SetDefault("storage.layers", map[string]any{})

	v.SetDefault("conflicts.timestamp_tolerance", 5*time.Second)
	v.SetDefault("conflicts.concurrent_window", 10*time.Second)
	v.SetDefault("conflicts.high_severity_age", 24*time.Hour)
	v.SetDefault("conflicts.critical_severity_age", 72*time.Hour)
	v.SetDefault("conflicts.auto_resolve", true)
	v.SetDefault("conflicts.strategies", []string{"last_write_wins", "merge", "prefer_source"})
	v.SetDefault("conflicts.max_resolved", 100)
	v.SetDefault("conflicts.backup", "storage")

	v.SetDefault("schedules.conflict_detection", "*/5 * * * *")
	v.SetDefault("schedules.tracker_cleanup", "0 * * * *")
	v.SetDefault("schedules.health_check", "* * * * *")

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.auto_migrate", true)
	v.SetDefault("pebble.path", "")
	v.SetDefault("sqlite.path", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "meetscribe:notifications")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "meetscribe.notifications")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "meetscribe-conflicts")
	v.SetDefault("minio.use_ssl", true)

	v.SetDefault("speech.provider", "gemini")
	v.SetDefault("speech.pool_size", 3)
	v.SetDefault("speech.max_idle", 2)
	v.SetDefault("speech.gemini.api_key", "")
	v.SetDefault("speech.gemini.model", "gemini-2.0-flash")
	v.SetDefault("speech.gemini.max_retries", 3)
	v.SetDefault("speech.gemini.retry_delay", 2*time.Second)

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "meetscribe")
	v.SetDefault("tracing.sample_ratio", 1.0)
}
