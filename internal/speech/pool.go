package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// PoolConfig bounds the pool.
type PoolConfig struct {
	// Size is the maximum number of clients checked out at once.
	Size int
	// MaxIdle is the number of connected clients kept for reuse.
	MaxIdle int
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Size: 3, MaxIdle: 2}
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Size     int   `json:"size"`
	InUse    int   `json:"in_use"`
	Idle     int   `json:"idle"`
	Created  int64 `json:"created"`
	Discards int64 `json:"discards"`
}

// Pool hands out connected clients, at most Size at a time. It is safe for
// concurrent use.
type Pool struct {
	cfg     PoolConfig
	factory Factory
	sem     *semaphore.Weighted
	logger  *slog.Logger

	mu       sync.Mutex
	idle     []Client
	inUse    int
	created  int64
	discards int64
	closed   bool
}

// NewPool creates a Pool. No clients are created until Acquire.
func NewPool(cfg PoolConfig, factory Factory, logger *slog.Logger) *Pool {
	def := DefaultPoolConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.MaxIdle < 0 || cfg.MaxIdle > cfg.Size {
		cfg.MaxIdle = cfg.Size
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		sem:     semaphore.NewWeighted(int64(cfg.Size)),
		logger:  logger.With("component", "speech_pool"),
	}
}

// Acquire blocks until a client is available or ctx is done. The returned
// release function must be called exactly once; pass healthy=false to
// disconnect and discard the client instead of reusing it.
func (p *Pool) Acquire(ctx context.Context) (Client, func(healthy bool), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, nil, ErrPoolClosed
	}
	var c Client
	if n := len(p.idle); n > 0 {
		c = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.inUse++
	p.mu.Unlock()

	if c == nil {
		var err error
		c, err = p.connect(ctx)
		if err != nil {
			p.mu.Lock()
			p.inUse--
			p.mu.Unlock()
			p.sem.Release(1)
			return nil, nil, err
		}
	}

	var once sync.Once
	release := func(healthy bool) {
		once.Do(func() { p.release(c, healthy) })
	}
	return c, release, nil
}

func (p *Pool) connect(ctx context.Context) (Client, error) {
	c, err := p.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect speech client: %w", err)
	}
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	p.logger.Debug("speech client connected")
	return c, nil
}

func (p *Pool) release(c Client, healthy bool) {
	defer p.sem.Release(1)

	p.mu.Lock()
	p.inUse--
	keep := healthy && !p.closed && len(p.idle) < p.cfg.MaxIdle
	if keep {
		p.idle = append(p.idle, c)
	} else {
		p.discards++
	}
	p.mu.Unlock()

	if !keep {
		if err := c.Disconnect(context.Background()); err != nil {
			p.logger.Warn("failed to disconnect speech client", "error", err)
		}
	}
}

// Stats returns pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Size:     p.cfg.Size,
		InUse:    p.inUse,
		Idle:     len(p.idle),
		Created:  p.created,
		Discards: p.discards,
	}
}

// Start implements the lifecycle contract; clients are created lazily.
func (p *Pool) Start(ctx context.Context) error {
	return nil
}

// Stop closes the pool and disconnects idle clients. Checked-out clients are
// disconnected when released.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range idle {
		if err := c.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthCheck fails once the pool is closed.
func (p *Pool) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	return nil
}
