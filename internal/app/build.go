package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/config"
	"github.com/phrazzld/meetscribe/internal/conflict"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/notify"
	"github.com/phrazzld/meetscribe/internal/platform/amqp"
	"github.com/phrazzld/meetscribe/internal/platform/gemini"
	"github.com/phrazzld/meetscribe/internal/platform/minio"
	"github.com/phrazzld/meetscribe/internal/platform/pebble"
	"github.com/phrazzld/meetscribe/internal/platform/postgres"
	"github.com/phrazzld/meetscribe/internal/platform/redis"
	"github.com/phrazzld/meetscribe/internal/platform/sqlite"
	"github.com/phrazzld/meetscribe/internal/queue"
	"github.com/phrazzld/meetscribe/internal/speech"
	"github.com/phrazzld/meetscribe/internal/storage"
	"github.com/phrazzld/meetscribe/internal/task"
	"github.com/phrazzld/meetscribe/internal/tracker"
)

func queueConfig(c config.QueueConfig) (queue.Config, error) {
	mode, err := queue.ParseSelectionMode(c.Mode)
	if err != nil {
		return queue.Config{}, err
	}
	cfg := queue.DefaultConfig()
	cfg.MaxSize = c.MaxSize
	cfg.Mode = mode
	cfg.MaxConcurrentJobs = c.MaxConcurrentJobs
	cfg.MaxMemoryPerJob = c.MaxMemoryPerJob
	cfg.MaxTotalMemory = c.MaxTotalMemory
	cfg.MaxAPICalls = c.MaxAPICalls
	cfg.RetentionLimit = c.RetentionLimit
	cfg.BaseRetryDelay = c.BaseRetryDelay
	cfg.MaxRetryDelay = c.MaxRetryDelay
	return cfg, nil
}

func trackerConfig(c config.TrackerConfig) (tracker.Config, error) {
	cfg := tracker.Config{
		ProgressUpdateInterval: c.ProgressUpdateInterval,
		DefaultTimeout:         c.DefaultTimeout,
		MaxEventsPerJob:        c.MaxEventsPerJob,
		RetentionTTL:           c.RetentionTTL,
	}
	if len(c.PriorityTimeouts) > 0 {
		cfg.PriorityTimeouts = make(map[domain.Priority]time.Duration, len(c.PriorityTimeouts))
		for name, d := range c.PriorityTimeouts {
			p, err := domain.ParsePriority(name)
			if err != nil {
				return tracker.Config{}, err
			}
			cfg.PriorityTimeouts[p] = d
		}
	}
	return cfg, nil
}

func notifyConfig(c config.NotificationConfig) (notify.Config, error) {
	cfg := notify.DefaultConfig()
	for _, name := range c.DisabledTypes {
		t := notify.Type(name)
		if !slices.Contains(notify.AllTypes, t) {
			return notify.Config{}, fmt.Errorf("unknown notification type %q", name)
		}
		cfg.Enabled[t] = false
	}
	cfg.ProgressThrottleInterval = c.ProgressThrottleInterval
	cfg.BroadcastTargets = c.BroadcastTargets
	return cfg, nil
}

func conflictConfig(c config.ConflictConfig, layers []storage.Layer) (conflict.Config, error) {
	cfg := conflict.Config{
		Layers:              layers,
		TimestampTolerance:  c.TimestampTolerance,
		ConcurrentWindow:    c.ConcurrentWindow,
		HighSeverityAge:     c.HighSeverityAge,
		CriticalSeverityAge: c.CriticalSeverityAge,
		AutoResolve:         c.AutoResolve,
		MaxResolved:         c.MaxResolved,
	}
	for _, name := range c.Strategies {
		s, err := conflict.ParseStrategy(name)
		if err != nil {
			return conflict.Config{}, err
		}
		cfg.Strategies = append(cfg.Strategies, s)
	}
	return cfg, nil
}

// layerConfigs overlays configured layer settings on the built-in ones. A
// configured entry replaces the built-in entry for that layer.
func layerConfigs(settings map[string]config.LayerSettings) (map[storage.Layer]storage.LayerConfig, error) {
	out := storage.DefaultLayerConfigs()
	for name, s := range settings {
		l, err := storage.ParseLayer(name)
		if err != nil {
			return nil, err
		}
		out[l] = storage.LayerConfig{Enabled: s.Enabled, Priority: s.Priority, TTL: s.TTL}
	}
	return out, nil
}

// openLayers opens the adapters for every configured tier. The memory and
// session tiers are always present; the persistent tiers are opened only
// when their backend is configured. The coordinator closes them on Stop.
func openLayers(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) (map[storage.Layer]storage.Adapter, error) {
	layers := map[storage.Layer]storage.Adapter{
		storage.LayerMemory:  storage.NewMemoryAdapter(cfg.Storage.MemoryTTL, clock),
		storage.LayerSession: storage.NewSessionAdapter(),
	}
	closeAll := func() {
		for _, a := range layers {
			if c, ok := a.(storage.Closer); ok {
				_ = c.Close()
			}
		}
	}

	if cfg.Pebble.Path != "" {
		a, err := pebble.Open(pebble.Options{Path: cfg.Pebble.Path}, logger)
		if err != nil {
			return nil, err
		}
		layers[storage.LayerLocal] = a
	}

	if cfg.Postgres.URL != "" {
		db, err := postgres.Open(ctx, postgres.Config{URL: cfg.Postgres.URL, MaxOpenConns: cfg.Postgres.MaxOpenConns}, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, db, "up", logger); err != nil {
				_ = db.Close()
				closeAll()
				return nil, err
			}
		}
		layers[storage.LayerSync] = postgres.NewAdapter(db, clock, logger)
	}

	if cfg.SQLite.Path != "" {
		db, err := sqlite.Open(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		layers[storage.LayerIndexedDB] = sqlite.NewAdapter(db, clock, logger)
	}
	return layers, nil
}

// transportCloser is a notify.Transport holding a connection.
type transportCloser interface {
	notify.Transport
	io.Closer
}

func newTransport(cfg *config.Config, logger *slog.Logger) (transportCloser, error) {
	switch cfg.Notifications.Transport {
	case "redis":
		return redis.NewTransport(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, logger), nil
	case "amqp":
		t, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, nil
	}
}

func newBackupSink(ctx context.Context, cfg *config.Config, writer conflict.Writer, logger *slog.Logger) (conflict.BackupSink, error) {
	if cfg.Conflicts.Backup != "minio" {
		return conflict.NewStorageSink(writer), nil
	}
	sink, err := minio.New(minio.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		UseSSL:    cfg.Minio.UseSSL,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := sink.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// newExecutor builds the transcription executor and the client pool behind
// it. The pool is nil when no speech provider is configured.
func newExecutor(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) (task.Executor, *speech.Pool, error) {
	if cfg.Speech.Provider != "gemini" {
		return unavailableExecutor(), nil, nil
	}

	gcfg := gemini.Config{
		APIKey:     cfg.Speech.Gemini.APIKey,
		Model:      cfg.Speech.Gemini.Model,
		MaxRetries: cfg.Speech.Gemini.MaxRetries,
		RetryDelay: cfg.Speech.Gemini.RetryDelay,
	}
	pool := speech.NewPool(speech.PoolConfig{
		Size:    cfg.Speech.PoolSize,
		MaxIdle: cfg.Speech.MaxIdle,
	}, gemini.Factory(gcfg, logger, gemini.WithClock(clock)), logger)

	exec, err := task.NewTranscriptionExecutor(pool, logger)
	if err != nil {
		return nil, nil, err
	}
	return exec, pool, nil
}

// unavailableExecutor fails every job permanently.
func unavailableExecutor() task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, job *domain.Job, progress task.ProgressFunc) (json.RawMessage, error) {
		return nil, domain.NewJobError(domain.ErrorTypeDependencyFailed, "no speech provider configured", false)
	})
}
