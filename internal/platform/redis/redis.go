// Package redis broadcasts notification envelopes over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/meetscribe/internal/notify"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the channel prefix used when none is configured.
const DefaultChannel = "meetscribe:notifications"

const pingTimeout = 500 * time.Millisecond

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Channel is the prefix; each target publishes to <Channel>:<target>.
	Channel string
}

// publisher is the subset of *goredis.Client the transport uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// Transport publishes envelopes to per-target channels.
type Transport struct {
	client  publisher
	channel string
	logger  *slog.Logger
}

// NewTransport connects a client for cfg. The connection is lazy; Available
// reports whether the server answers.
func NewTransport(cfg Config, logger *slog.Logger) *Transport {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newTransport(client, cfg.Channel, logger)
}

func newTransport(client publisher, channel string, logger *slog.Logger) *Transport {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Transport{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_transport"),
	}
}

// ChannelFor returns the channel a target subscribes to.
func (t *Transport) ChannelFor(target string) string {
	return t.channel + ":" + target
}

// Send publishes env to its target's channel. An envelope that reached no
// subscriber is reported as undelivered.
func (t *Transport) Send(ctx context.Context, env notify.Envelope) (notify.DeliveryResult, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return notify.DeliveryResult{}, fmt.Errorf("failed to encode envelope: %w", err)
	}
	receivers, err := t.client.Publish(ctx, t.ChannelFor(env.Target), body).Result()
	if err != nil {
		t.logger.Warn("failed to publish notification",
			"target", env.Target,
			"message_id", env.MessageID,
			"error", err)
		return notify.DeliveryResult{}, fmt.Errorf("redis publish to %s: %w", env.Target, err)
	}
	res := notify.DeliveryResult{Delivered: receivers > 0, Receivers: int(receivers)}
	if !res.Delivered {
		res.Error = "no subscribers"
	}
	return res, nil
}

// Available pings the server.
func (t *Transport) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return t.client.Ping(ctx).Err() == nil
}

// Close releases the client connections.
func (t *Transport) Close() error {
	return t.client.Close()
}

var _ notify.Transport = (*Transport)(nil)
