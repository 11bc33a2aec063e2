package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/phrazzld/meetscribe/internal/storage"

// Consistency selects how a write or delete is applied across layers.
type Consistency string

// Consistency modes
const (
	// Eventual applies to all target layers concurrently and succeeds if at
	// least one layer succeeds.
	Eventual Consistency = "eventual"
	// Strong applies to all target layers in one transaction.
	Strong Consistency = "strong"
)

// Config holds coordinator timing settings.
type Config struct {
	// MemoryTTL is the expiry of values copied into the memory layer on read.
	MemoryTTL time.Duration
	// SweepInterval is the period of the memory expiry sweep.
	SweepInterval time.Duration
	// TransactionTimeout is the default transaction deadline.
	TransactionTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		MemoryTTL:          5 * time.Minute,
		SweepInterval:      60 * time.Second,
		TransactionTimeout: 30 * time.Second,
	}
}

// ReadOptions narrow a read.
type ReadOptions struct {
	// Layers overrides the candidate layers; they are still tried fastest first.
	Layers []Layer
	// NoCache disables copying a hit into faster layers.
	NoCache bool
}

// WriteOptions control a write or delete.
type WriteOptions struct {
	// Layers overrides the target layers.
	Layers      []Layer
	Consistency Consistency
	// TTL overrides the layer TTL on layers that support expiry.
	TTL time.Duration
}

// ReadResult is a successful read.
type ReadResult struct {
	Record
	Source Layer `json:"source"`
}

// WriteResult reports per-layer outcomes.
type WriteResult struct {
	Succeeded []Layer         `json:"succeeded"`
	Failed    map[Layer]error `json:"-"`
}

type registeredLayer struct {
	adapter Adapter
	config  LayerConfig
}

// Coordinator routes reads and writes across registered layers. It is safe
// for concurrent use.
type Coordinator struct {
	mu     sync.RWMutex
	cfg    Config
	layers map[Layer]*registeredLayer
	clock  clockwork.Clock
	logger *slog.Logger
	tracer trace.Tracer

	txMu         sync.Mutex
	transactions map[string]*Transaction

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a Coordinator with no layers.
func NewCoordinator(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = def.MemoryTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = def.TransactionTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		cfg:          cfg,
		layers:       make(map[Layer]*registeredLayer),
		clock:        clock,
		logger:       logger.With("component", "storage_coordinator"),
		tracer:       otel.Tracer(tracerName),
		transactions: make(map[string]*Transaction),
	}
}

// RegisterLayer attaches an adapter to a layer, replacing any previous one.
func (c *Coordinator) RegisterLayer(layer Layer, adapter Adapter, cfg LayerConfig) error {
	if !layer.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownLayer, layer)
	}
	c.mu.Lock()
	c.layers[layer] = &registeredLayer{adapter: adapter, config: cfg}
	c.mu.Unlock()
	c.logger.Info("storage layer registered",
		"layer", layer,
		"enabled", cfg.Enabled,
		"priority", cfg.Priority)
	return nil
}

// ConfigureLayer changes a registered layer's settings.
func (c *Coordinator) ConfigureLayer(layer Layer, cfg LayerConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.layers[layer]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLayerNotRegistered, layer)
	}
	reg.config = cfg
	c.logger.Info("storage layer reconfigured",
		"layer", layer,
		"enabled", cfg.Enabled,
		"priority", cfg.Priority,
		"ttl", cfg.TTL)
	return nil
}

// LayerStatus describes a registered layer.
type LayerStatus struct {
	Layer  Layer       `json:"layer"`
	Speed  int         `json:"speed"`
	Config LayerConfig `json:"config"`
}

// Layers lists registered layers fastest first.
func (c *Coordinator) Layers() []LayerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LayerStatus, 0, len(c.layers))
	for l, reg := range c.layers {
		out = append(out, LayerStatus{Layer: l, Speed: l.Speed(), Config: reg.config})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Speed < out[j].Speed })
	return out
}

// Adapter returns the adapter registered for layer.
func (c *Coordinator) Adapter(layer Layer) (Adapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.layers[layer]
	if !ok {
		return nil, false
	}
	return reg.adapter, true
}

// readOrder returns enabled candidate layers fastest first.
func (c *Coordinator) readOrder(override []Layer) []Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Layer
	if len(override) > 0 {
		for _, l := range override {
			if reg, ok := c.layers[l]; ok && reg.config.Enabled {
				out = append(out, l)
			}
		}
	} else {
		for l, reg := range c.layers {
			if reg.config.Enabled {
				out = append(out, l)
			}
		}
	}
	return bySpeed(out)
}

// writeOrder returns enabled target layers by descending priority, ties
// broken by speed.
func (c *Coordinator) writeOrder(override []Layer) []Layer {
	layers := c.readOrder(override)
	c.mu.RLock()
	defer c.mu.RUnlock()
	sort.SliceStable(layers, func(i, j int) bool {
		return c.layers[layers[i]].config.Priority > c.layers[layers[j]].config.Priority
	})
	return layers
}

func (c *Coordinator) layer(l Layer) (*registeredLayer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.layers[l]
	if !ok {
		return nil, false
	}
	copied := *reg
	return &copied, true
}

// Read returns the value for key from the fastest layer holding it and,
// unless opts.NoCache, copies it into every faster enabled layer. Per-layer
// errors and undecodable records count as misses.
func (c *Coordinator) Read(ctx context.Context, key string, opts ReadOptions) (result ReadResult, err error) {
	ctx, span := c.tracer.Start(ctx, "storage.Read", trace.WithAttributes(attribute.String("storage.key", key)))
	defer func() { endSpan(span, err) }()

	order := c.readOrder(opts.Layers)
	if len(order) == 0 {
		return ReadResult{}, ErrNoLayers
	}

	for _, l := range order {
		reg, ok := c.layer(l)
		if !ok {
			continue
		}
		raw, found, getErr := reg.adapter.Get(ctx, key)
		if getErr != nil {
			c.logger.Warn("layer read failed, trying next layer",
				"layer", l,
				"key", key,
				"error", getErr)
			continue
		}
		if !found {
			continue
		}
		rec, decErr := DecodeRecord(raw)
		if decErr != nil {
			c.logger.Warn("undecodable record, trying next layer",
				"layer", l,
				"key", key,
				"error", decErr)
			continue
		}

		span.SetAttributes(attribute.String("storage.source", string(l)))
		if !opts.NoCache {
			c.propagate(ctx, key, raw, l)
		}
		return ReadResult{Record: rec, Source: l}, nil
	}
	return ReadResult{}, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// propagate copies raw into every enabled layer faster than source.
func (c *Coordinator) propagate(ctx context.Context, key string, raw []byte, source Layer) {
	for _, l := range c.readOrder(nil) {
		if l.Speed() >= source.Speed() {
			break
		}
		reg, ok := c.layer(l)
		if !ok {
			continue
		}
		ttl := reg.config.TTL
		if l == LayerMemory {
			ttl = c.cfg.MemoryTTL
		}
		if err := c.setOn(ctx, reg, key, raw, ttl); err != nil {
			c.logger.Warn("failed to cache value in faster layer",
				"layer", l,
				"source_layer", source,
				"key", key,
				"error", err)
		}
	}
}

func (c *Coordinator) setOn(ctx context.Context, reg *registeredLayer, key string, raw []byte, ttl time.Duration) error {
	if ts, ok := reg.adapter.(TTLSetter); ok && ttl > 0 {
		return ts.SetWithTTL(ctx, key, raw, ttl)
	}
	return reg.adapter.Set(ctx, key, raw)
}

// Write stores value under key. Eventual writes succeed if any target layer
// succeeds; strong writes run as one transaction and succeed only if every
// target layer does.
func (c *Coordinator) Write(ctx context.Context, key string, value any, opts WriteOptions) (result WriteResult, err error) {
	ctx, span := c.tracer.Start(ctx, "storage.Write", trace.WithAttributes(
		attribute.String("storage.key", key),
		attribute.String("storage.consistency", string(opts.Consistency))))
	defer func() { endSpan(span, err) }()

	targets := c.writeOrder(opts.Layers)
	if len(targets) == 0 {
		return WriteResult{}, ErrNoLayers
	}

	if opts.Consistency == Strong {
		return c.strong(ctx, OpWrite, key, value, targets)
	}

	rec, err := newRecord(value, c.clock.Now())
	if err != nil {
		return WriteResult{}, err
	}
	raw, err := EncodeRecord(rec)
	if err != nil {
		return WriteResult{}, err
	}

	return c.fanOut(ctx, targets, "write", key, func(ctx context.Context, reg *registeredLayer) error {
		ttl := reg.config.TTL
		if opts.TTL > 0 {
			ttl = opts.TTL
		}
		return c.setOn(ctx, reg, key, raw, ttl)
	})
}

// Delete removes key with the same consistency semantics as Write.
func (c *Coordinator) Delete(ctx context.Context, key string, opts WriteOptions) (result WriteResult, err error) {
	ctx, span := c.tracer.Start(ctx, "storage.Delete", trace.WithAttributes(attribute.String("storage.key", key)))
	defer func() { endSpan(span, err) }()

	targets := c.writeOrder(opts.Layers)
	if len(targets) == 0 {
		return WriteResult{}, ErrNoLayers
	}
	if opts.Consistency == Strong {
		return c.strong(ctx, OpDelete, key, nil, targets)
	}
	return c.fanOut(ctx, targets, "delete", key, func(ctx context.Context, reg *registeredLayer) error {
		return reg.adapter.Remove(ctx, key)
	})
}

// fanOut runs fn on every target concurrently, waiting for all of them.
func (c *Coordinator) fanOut(ctx context.Context, targets []Layer, op, key string, fn func(context.Context, *registeredLayer) error) (WriteResult, error) {
	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, l := range targets {
		reg, ok := c.layer(l)
		if !ok {
			errs[i] = fmt.Errorf("%w: %s", ErrLayerNotRegistered, l)
			continue
		}
		g.Go(func() error {
			errs[i] = fn(ctx, reg)
			return nil
		})
	}
	_ = g.Wait()

	result := WriteResult{Failed: make(map[Layer]error)}
	for i, l := range targets {
		if errs[i] != nil {
			result.Failed[l] = errs[i]
			c.logger.Warn("layer operation failed",
				"operation", op,
				"layer", l,
				"key", key,
				"error", errs[i])
			continue
		}
		result.Succeeded = append(result.Succeeded, l)
	}
	if len(result.Succeeded) == 0 {
		return result, fmt.Errorf("%w: %s %s", ErrAllLayersFailed, op, key)
	}
	return result, nil
}

func (c *Coordinator) strong(ctx context.Context, op OperationType, key string, value any, targets []Layer) (WriteResult, error) {
	txID := c.BeginTransaction(TransactionOptions{})
	for _, l := range targets {
		if err := c.AddOperation(txID, OperationRequest{Type: op, Layer: l, Key: key, Data: value}); err != nil {
			_ = c.AbortTransaction(ctx, txID)
			return WriteResult{}, err
		}
	}
	if err := c.CommitTransaction(ctx, txID); err != nil {
		result := WriteResult{Failed: make(map[Layer]error)}
		if tx, ok := c.GetTransaction(txID); ok {
			for _, o := range tx.Operations {
				if o.Status == OpStatusFailed {
					result.Failed[o.Layer] = errors.New(o.Error)
				}
			}
		}
		return result, err
	}
	return WriteResult{Succeeded: targets, Failed: map[Layer]error{}}, nil
}

// ClearLayers empties the given layers, or every registered layer when none
// are named. It returns the joined per-layer errors.
func (c *Coordinator) ClearLayers(ctx context.Context, layers ...Layer) error {
	if len(layers) == 0 {
		c.mu.RLock()
		for l := range c.layers {
			layers = append(layers, l)
		}
		c.mu.RUnlock()
	}

	var errs []error
	for _, l := range bySpeed(layers) {
		reg, ok := c.layer(l)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrLayerNotRegistered, l))
			continue
		}
		if err := reg.adapter.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", l, err))
			continue
		}
		c.logger.Info("storage layer cleared", "layer", l)
	}
	return errors.Join(errs...)
}

// Sweep purges expired entries from layers that support it and forgets
// finished transactions older than the transaction timeout.
func (c *Coordinator) Sweep() int {
	now := c.clock.Now()
	removed := 0

	c.mu.RLock()
	for _, reg := range c.layers {
		if s, ok := reg.adapter.(Sweeper); ok {
			removed += s.Sweep(now)
		}
	}
	c.mu.RUnlock()

	c.txMu.Lock()
	for id, tx := range c.transactions {
		if tx.Status != TxPending && now.Sub(tx.FinishedAt) > c.cfg.TransactionTimeout {
			delete(c.transactions, id)
		}
	}
	c.txMu.Unlock()

	if removed > 0 {
		c.logger.Debug("expired entries swept", "removed", removed)
	}
	return removed
}

// Start runs the expiry sweep every SweepInterval until Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	ticker := c.clock.NewTicker(c.cfg.SweepInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				c.Sweep()
			}
		}
	}()
	return nil
}

// Stop ends the sweep, aborts pending transactions and closes adapters that
// hold resources.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}

	c.txMu.Lock()
	var pending []string
	for id, tx := range c.transactions {
		if tx.Status == TxPending && !tx.committing {
			pending = append(pending, id)
		}
	}
	c.txMu.Unlock()
	for _, id := range pending {
		_ = c.AbortTransaction(ctx, id)
	}

	var errs []error
	c.mu.RLock()
	for l, reg := range c.layers {
		if cl, ok := reg.adapter.(Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", l, err))
			}
		}
	}
	c.mu.RUnlock()
	return errors.Join(errs...)
}

// HealthCheck pings every enabled remote layer concurrently.
func (c *Coordinator) HealthCheck(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range c.readOrder(nil) {
		reg, ok := c.layer(l)
		if !ok {
			continue
		}
		p, ok := reg.adapter.(Pinger)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("layer %s: %w", l, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
