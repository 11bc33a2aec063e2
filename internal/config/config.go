package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server        ServerConfig       `mapstructure:"server" validate:"required"`
	Auth          AuthConfig         `mapstructure:"auth" validate:"required"`
	Queue         QueueConfig        `mapstructure:"queue" validate:"required"`
	Tracker       TrackerConfig      `mapstructure:"tracker" validate:"required"`
	Notifications NotificationConfig `mapstructure:"notifications" validate:"required"`
	Storage       StorageConfig      `mapstructure:"storage" validate:"required"`
	Conflicts     ConflictConfig     `mapstructure:"conflicts" validate:"required"`
	Schedules     ScheduleConfig     `mapstructure:"schedules" validate:"required"`
	Postgres      PostgresConfig     `mapstructure:"postgres"`
	Pebble        PebbleConfig       `mapstructure:"pebble"`
	SQLite        SQLiteConfig       `mapstructure:"sqlite"`
	Redis         RedisConfig        `mapstructure:"redis"`
	AMQP          AMQPConfig         `mapstructure:"amqp"`
	Minio         MinioConfig        `mapstructure:"minio"`
	Speech        SpeechConfig       `mapstructure:"speech" validate:"required"`
	Tracing       TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json text"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// AuthConfig contains the bearer token settings for the HTTP boundary.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	Issuer        string        `mapstructure:"issuer" validate:"required"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// QueueConfig contains job queue sizing, resource ceilings and retry policy.
type QueueConfig struct {
	MaxSize           int           `mapstructure:"max_size" validate:"gt=0"`
	Mode              string        `mapstructure:"mode" validate:"oneof=priority fifo round_robin shortest_job_first"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" validate:"gt=0"`
	MaxMemoryPerJob   int           `mapstructure:"max_memory_per_job" validate:"gt=0"`
	MaxTotalMemory    int           `mapstructure:"max_total_memory" validate:"gtefield=MaxMemoryPerJob"`
	MaxAPICalls       int           `mapstructure:"max_api_calls" validate:"gt=0"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries" validate:"gte=0,lte=20"`
	RetentionLimit    int           `mapstructure:"retention_limit" validate:"gt=0"`
	BaseRetryDelay    time.Duration `mapstructure:"base_retry_delay" validate:"gt=0"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay" validate:"gtefield=BaseRetryDelay"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ExecutionTimeout  time.Duration `mapstructure:"execution_timeout" validate:"gte=0"`
}

// TrackerConfig contains job tracking, timeout and retention settings.
type TrackerConfig struct {
	ProgressUpdateInterval time.Duration            `mapstructure:"progress_update_interval" validate:"gt=0"`
	DefaultTimeout         time.Duration            `mapstructure:"default_timeout" validate:"gt=0"`
	PriorityTimeouts       map[string]time.Duration `mapstructure:"priority_timeouts" validate:"dive,keys,oneof=urgent high normal low idle,endkeys,gt=0"`
	MaxEventsPerJob        int                      `mapstructure:"max_events_per_job" validate:"gt=0"`
	RetentionTTL           time.Duration            `mapstructure:"retention_ttl" validate:"gt=0"`
	FailTimedOutJobs       bool                     `mapstructure:"fail_timed_out_jobs"`
}

// NotificationConfig contains notification delivery settings.
type NotificationConfig struct {
	ProgressThrottleInterval time.Duration `mapstructure:"progress_throttle_interval" validate:"gt=0"`
	DisabledTypes            []string      `mapstructure:"disabled_types"`
	BroadcastTargets         []string      `mapstructure:"broadcast_targets"`
	Transport                string        `mapstructure:"transport" validate:"oneof=none redis amqp"`
}

// LayerSettings configures one storage layer.
type LayerSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Priority int           `mapstructure:"priority" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// StorageConfig contains storage coordinator settings.
type StorageConfig struct {
	MemoryTTL          time.Duration            `mapstructure:"memory_ttl" validate:"gt=0"`
	SweepInterval      time.Duration            `mapstructure:"sweep_interval" validate:"gt=0"`
	TransactionTimeout time.Duration            `mapstructure:"transaction_timeout" validate:"gt=0"`
	Layers             map[string]LayerSettings `mapstructure:"layers" validate:"dive,keys,oneof=memory session local sync indexeddb,endkeys"`
}

// ConflictConfig contains conflict detection and resolution settings.
type ConflictConfig struct {
	TimestampTolerance  time.Duration `mapstructure:"timestamp_tolerance" validate:"gte=0"`
	ConcurrentWindow    time.Duration `mapstructure:"concurrent_window" validate:"gte=0"`
	HighSeverityAge     time.Duration `mapstructure:"high_severity_age" validate:"gt=0"`
	CriticalSeverityAge time.Duration `mapstructure:"critical_severity_age" validate:"gtefield=HighSeverityAge"`
	AutoResolve         bool          `mapstructure:"auto_resolve"`
	Strategies          []string      `mapstructure:"strategies" validate:"dive,oneof=last_write_wins first_write_wins merge prefer_source backup_and_overwrite"`
	MaxResolved         int           `mapstructure:"max_resolved" validate:"gt=0"`
	Backup              string        `mapstructure:"backup" validate:"oneof=storage minio"`
}

// ScheduleConfig holds cron expressions for periodic maintenance. An empty
// expression disables the job.
type ScheduleConfig struct {
	ConflictDetection string `mapstructure:"conflict_detection" validate:"omitempty,cron"`
	TrackerCleanup    string `mapstructure:"tracker_cleanup" validate:"omitempty,cron"`
	HealthCheck       string `mapstructure:"health_check" validate:"omitempty,cron"`
}

// PostgresConfig configures the sync storage tier. An empty URL disables it.
type PostgresConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// PebbleConfig configures the local storage tier. An empty path disables it.
type PebbleConfig struct {
	Path string `mapstructure:"path"`
}

// SQLiteConfig configures the indexeddb storage tier. An empty path disables it.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the Redis broadcast transport.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel"`
}

// AMQPConfig configures the RabbitMQ broadcast transport.
type AMQPConfig struct {
	URL      string `mapstructure:"url" validate:"omitempty,url"`
	Exchange string `mapstructure:"exchange"`
}

// MinioConfig configures the conflict backup bucket.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint" validate:"omitempty,hostname_port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// SpeechConfig configures the transcription backend.
type SpeechConfig struct {
	Provider string       `mapstructure:"provider" validate:"oneof=gemini none"`
	PoolSize int          `mapstructure:"pool_size" validate:"gt=0"`
	MaxIdle  int          `mapstructure:"max_idle" validate:"gte=0,ltefield=PoolSize"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig contains Gemini API settings.
type GeminiConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter" validate:"oneof=none stdout otlphttp"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}
