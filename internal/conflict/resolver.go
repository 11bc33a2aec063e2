package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/phrazzld/meetscribe/internal/conflict"

// LayerSource gives the resolver direct access to layer adapters.
// *storage.Coordinator implements it.
type LayerSource interface {
	Adapter(layer storage.Layer) (storage.Adapter, bool)
}

// BackupSink stores a snapshot of every version of a conflict before it is
// overwritten. Backup returns a reference to the stored snapshot.
type BackupSink interface {
	Backup(ctx context.Context, c *Conflict) (string, error)
}

// Resolver tracks active and resolved conflicts. It is safe for concurrent use.
type Resolver struct {
	mu     sync.Mutex
	cfg    Config
	source LayerSource
	backup BackupSink
	clock  clockwork.Clock
	logger *slog.Logger
	tracer trace.Tracer

	active        map[string]*Conflict
	byKey         map[string]string
	resolved      map[string]*Conflict
	resolvedOrder []string
}

// NewResolver creates a Resolver. backup may be nil, in which case the
// backup_and_overwrite strategy always fails.
func NewResolver(cfg Config, source LayerSource, backup BackupSink, clock clockwork.Clock, logger *slog.Logger) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{
		cfg:      cfg.withDefaults(),
		source:   source,
		backup:   backup,
		clock:    clock,
		logger:   logger.With("component", "conflict_resolver"),
		tracer:   otel.Tracer(tracerName),
		active:   make(map[string]*Conflict),
		byKey:    make(map[string]string),
		resolved: make(map[string]*Conflict),
	}
}

// SetBackupSink replaces the backup sink.
func (r *Resolver) SetBackupSink(sink BackupSink) {
	r.mu.Lock()
	r.backup = sink
	r.mu.Unlock()
}

// DetectConflicts compares the given keys across the configured layers, or
// every key any listable layer holds when none are given. It returns only
// conflicts that were not already active; a key that is still divergent
// refreshes its existing conflict instead. When AutoResolve is set and
// unresolved conflicts remain, automatic resolution runs afterwards.
func (r *Resolver) DetectConflicts(ctx context.Context, keys ...string) (found []*Conflict, err error) {
	ctx, span := r.tracer.Start(ctx, "conflict.Detect")
	defer func() {
		span.SetAttributes(attribute.Int("conflict.new", len(found)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(keys) == 0 {
		keys, err = r.allKeys(ctx)
		if err != nil {
			return nil, err
		}
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		c := r.detectKey(ctx, key)
		if c != nil {
			found = append(found, c)
		}
	}

	if len(found) > 0 {
		r.logger.Info("storage conflicts detected",
			"keys_checked", len(keys),
			"new_conflicts", len(found))
	}

	if r.cfg.AutoResolve && r.hasAutoResolvable() {
		r.AutoResolve(ctx)
	}
	return found, nil
}

func (r *Resolver) allKeys(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	var errs []error
	for _, layer := range r.cfg.Layers {
		a, ok := r.source.Adapter(layer)
		if !ok {
			continue
		}
		lister, ok := a.(storage.KeyLister)
		if !ok {
			continue
		}
		layerKeys, err := lister.Keys(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", layer, err))
			continue
		}
		for _, k := range layerKeys {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return keys, nil
}

// readVersions collects every layer's value for key. Unreadable layers are
// skipped; undecodable records become versions flagged as corrupt.
func (r *Resolver) readVersions(ctx context.Context, key string) []Version {
	var versions []Version
	for _, layer := range r.cfg.Layers {
		a, ok := r.source.Adapter(layer)
		if !ok {
			continue
		}
		raw, found, err := a.Get(ctx, key)
		if err != nil {
			r.logger.Warn("layer unreadable during conflict detection",
				"layer", layer,
				"key", key,
				"error", err)
			continue
		}
		if !found {
			continue
		}

		v := Version{VersionID: uuid.NewString(), SourceLayer: layer}
		rec, err := storage.DecodeRecord(raw)
		if err != nil {
			quoted, _ := json.Marshal(string(raw))
			v.Data = quoted
			v.Timestamp = r.clock.Now()
			v.Metadata = map[string]string{"corrupt": "true"}
		} else {
			v.Data = rec.Data
			v.Timestamp = rec.UpdatedAt
			v.Metadata = rec.Metadata
		}
		v.Checksum = Checksum(v.Data)
		versions = append(versions, v)
	}
	return versions
}

func (r *Resolver) detectKey(ctx context.Context, key string) *Conflict {
	versions := r.readVersions(ctx, key)
	if converged(versions) {
		r.mu.Lock()
		if id, ok := r.byKey[key]; ok {
			if existing, ok := r.active[id]; ok && existing.Status != StatusResolving {
				r.settleLocked(existing, versions)
			}
		}
		r.mu.Unlock()
		return nil
	}

	now := r.clock.Now()
	typ, mixed := r.classify(versions, now)
	sev := r.severity(versions, typ, mixed, now)
	manual := typ == TypeSchemaConflict || typ == TypeDataCorruption || sev == domain.SeverityCritical

	layers := make([]storage.Layer, len(versions))
	for i, v := range versions {
		layers[i] = v.SourceLayer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[key]; ok {
		if existing, ok := r.active[id]; ok && existing.Status != StatusResolving {
			existing.Versions = versions
			existing.Layers = layers
			existing.Type = typ
			existing.Severity = sev
			existing.RequiresManual = manual
			switch {
			case manual:
				existing.Status = StatusManualRequired
			case existing.Status == StatusManualRequired:
				existing.Status = StatusPending
			}
		}
		return nil
	}

	status := StatusPending
	if manual {
		status = StatusManualRequired
	}
	c := &Conflict{
		ID:             uuid.NewString(),
		Type:           typ,
		Key:            key,
		Layers:         layers,
		Severity:       sev,
		Versions:       versions,
		Status:         status,
		DetectedAt:     now,
		RequiresManual: manual,
	}
	r.active[c.ID] = c
	r.byKey[key] = c.ID

	r.logger.Warn("storage conflict detected",
		"conflict_id", c.ID,
		"key", key,
		"conflict_type", typ,
		"severity", sev,
		"versions", len(versions),
		"requires_manual", manual)
	return c.Clone()
}

// converged reports whether versions no longer disagree.
func converged(versions []Version) bool {
	return len(versions) < 2 || allEqual(versions)
}

// sameVersions reports whether both sets hold the same checksum per layer.
func sameVersions(a, b []Version) bool {
	if len(a) != len(b) {
		return false
	}
	sums := make(map[storage.Layer]uint32, len(a))
	for _, v := range a {
		sums[v.SourceLayer] = v.Checksum
	}
	for _, v := range b {
		if sum, ok := sums[v.SourceLayer]; !ok || sum != v.Checksum {
			return false
		}
	}
	return true
}

// settleLocked archives c as resolved without writing anything: its layers
// already agree. r.mu must be held.
func (r *Resolver) settleLocked(c *Conflict, current []Version) {
	res := &Resolution{
		Notes:      []string{"layers converged before resolution"},
		ResolvedAt: r.clock.Now(),
	}
	if len(current) > 0 {
		res.Data = current[0].Data
	}
	c.Versions = current
	c.Status = StatusResolved
	c.LastError = ""
	c.Resolution = res
	delete(r.active, c.ID)
	if r.byKey[c.Key] == c.ID {
		delete(r.byKey, c.Key)
	}
	r.archive(c)
	r.logger.Info("storage conflict settled by converged layers",
		"conflict_id", c.ID,
		"key", c.Key)
}

func allEqual(versions []Version) bool {
	for _, v := range versions[1:] {
		if v.Checksum != versions[0].Checksum {
			return false
		}
	}
	return true
}

// classify returns the conflict type and whether the versions hold values of
// different JSON types.
func (r *Resolver) classify(versions []Version, now time.Time) (Type, bool) {
	valid := usable(versions)
	if len(valid) == 0 {
		return TypeDataCorruption, false
	}
	mixed := false
	for _, v := range valid[1:] {
		if kindOf(v.Data) != kindOf(valid[0].Data) {
			mixed = true
			break
		}
	}

	if len(valid) < len(versions) {
		return TypeDataCorruption, mixed
	}

	oldest, newest := valid[0].Timestamp, valid[0].Timestamp
	recent := 0
	for _, v := range valid {
		if v.Timestamp.Before(oldest) {
			oldest = v.Timestamp
		}
		if v.Timestamp.After(newest) {
			newest = v.Timestamp
		}
		if now.Sub(v.Timestamp) <= r.cfg.ConcurrentWindow {
			recent++
		}
	}

	switch {
	case newest.Sub(oldest) > r.cfg.TimestampTolerance:
		return TypeTimestampConflict, mixed
	case mixed:
		return TypeSchemaConflict, mixed
	case recent >= 2:
		return TypeConcurrentModification, mixed
	default:
		return TypeVersionMismatch, mixed
	}
}

func (r *Resolver) severity(versions []Version, typ Type, mixed bool, now time.Time) domain.Severity {
	oldest := versions[0].Timestamp
	for _, v := range versions[1:] {
		if v.Timestamp.Before(oldest) {
			oldest = v.Timestamp
		}
	}
	age := now.Sub(oldest)

	switch {
	case age > r.cfg.CriticalSeverityAge:
		return domain.SeverityCritical
	case age > r.cfg.HighSeverityAge, mixed, typ == TypeDataCorruption:
		return domain.SeverityHigh
	case len(versions) > 2:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// ResolveConflict applies strategy to an active conflict and writes the result
// to the conflict's layers, or opts.TargetLayers. A conflict whose result
// reached at least one layer is archived as resolved; otherwise it stays
// active with status failed.
func (r *Resolver) ResolveConflict(ctx context.Context, id string, strategy Strategy, opts ResolveOptions) (resolved *Conflict, err error) {
	ctx, span := r.tracer.Start(ctx, "conflict.Resolve", trace.WithAttributes(
		attribute.String("conflict.id", id),
		attribute.String("conflict.strategy", string(strategy))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if _, perr := ParseStrategy(string(strategy)); perr != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if strategy == Manual && !json.Valid(opts.Data) {
		return nil, ErrManualDataRequired
	}

	r.mu.Lock()
	c, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	if c.Status == StatusResolving {
		r.mu.Unlock()
		return nil, fmt.Errorf("conflict %s is already being resolved", id)
	}
	c.Status = StatusResolving
	c.Attempts++
	snapshot := c.Clone()
	backup := r.backup
	r.mu.Unlock()

	// Layers may have changed since detection. Resolve against what they
	// hold now so a stale snapshot never overwrites newer data.
	if strategy != Manual {
		current := r.readVersions(ctx, snapshot.Key)
		if converged(current) {
			r.mu.Lock()
			r.settleLocked(c, current)
			out := c.Clone()
			r.mu.Unlock()
			return out, nil
		}
		if !sameVersions(snapshot.Versions, current) {
			now := r.clock.Now()
			typ, mixed := r.classify(current, now)
			sev := r.severity(current, typ, mixed, now)
			layers := make([]storage.Layer, len(current))
			for i, v := range current {
				layers[i] = v.SourceLayer
			}
			r.mu.Lock()
			c.Versions, c.Layers, c.Type, c.Severity = current, layers, typ, sev
			snapshot = c.Clone()
			r.mu.Unlock()
		}
	}

	res, err := r.apply(ctx, snapshot, strategy, opts, backup)
	if err != nil {
		r.markFailed(id, err)
		return nil, err
	}

	targets := opts.TargetLayers
	if len(targets) == 0 {
		targets = snapshot.Layers
	}
	r.propagate(ctx, snapshot, res, targets)
	if len(res.AppliedLayers) == 0 {
		err := fmt.Errorf("%w: %s", ErrPropagationFailed, snapshot.Key)
		r.markFailed(id, err)
		return nil, err
	}

	r.mu.Lock()
	c.Status = StatusResolved
	c.LastError = ""
	c.Resolution = res
	delete(r.active, id)
	if r.byKey[c.Key] == id {
		delete(r.byKey, c.Key)
	}
	r.archive(c)
	out := c.Clone()
	r.mu.Unlock()

	r.logger.Info("storage conflict resolved",
		"conflict_id", id,
		"key", c.Key,
		"strategy", strategy,
		"applied_layers", len(res.AppliedLayers),
		"failed_layers", len(res.FailedLayers))
	return out, nil
}

// ForceManualResolution resolves a conflict with caller-supplied data. It is
// the only way out for conflicts that require manual intervention, though it
// works on any active conflict.
func (r *Resolver) ForceManualResolution(ctx context.Context, id string, data json.RawMessage, targets ...storage.Layer) (*Conflict, error) {
	return r.ResolveConflict(ctx, id, Manual, ResolveOptions{Data: data, TargetLayers: targets})
}

func (r *Resolver) apply(ctx context.Context, c *Conflict, strategy Strategy, opts ResolveOptions, backup BackupSink) (*Resolution, error) {
	res := &Resolution{Strategy: strategy}
	if strategy == Manual {
		res.Data = opts.Data
		return res, nil
	}

	versions := usable(c.Versions)
	if len(versions) == 0 {
		return nil, ErrNoVersions
	}

	var out outcome
	switch strategy {
	case LastWriteWins:
		out = lastWriteWins(versions)
	case FirstWriteWins:
		out = firstWriteWins(versions)
	case PreferSource:
		out = preferSource(versions)
	case Merge:
		var err error
		out, err = mergeVersions(versions)
		if err != nil {
			return nil, err
		}
		for _, note := range out.notes {
			r.logger.Debug("merge note", "conflict_id", c.ID, "note", note)
		}
	case BackupAndOverwrite:
		if backup == nil {
			return nil, fmt.Errorf("%w: no backup sink configured", ErrBackupFailed)
		}
		ref, err := backup.Backup(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
		}
		res.BackupRef = ref
		out = lastWriteWins(versions)
	}

	res.Data = out.data
	res.WinningLayer = out.winner
	res.Notes = out.notes
	return res, nil
}

// propagate writes the resolved value to every target layer, recording
// per-layer outcomes on res.
func (r *Resolver) propagate(ctx context.Context, c *Conflict, res *Resolution, targets []storage.Layer) {
	now := r.clock.Now()
	res.ResolvedAt = now
	res.FailedLayers = make(map[storage.Layer]string)

	raw, err := storage.EncodeRecord(storage.Record{
		Data:      res.Data,
		UpdatedAt: now,
		Metadata: map[string]string{
			"conflict_id":         c.ID,
			"resolution_strategy": string(res.Strategy),
		},
	})
	if err != nil {
		for _, l := range targets {
			res.FailedLayers[l] = err.Error()
		}
		return
	}

	for _, l := range targets {
		a, ok := r.source.Adapter(l)
		if !ok {
			res.FailedLayers[l] = storage.ErrLayerNotRegistered.Error()
			continue
		}
		if err := a.Set(ctx, c.Key, raw); err != nil {
			r.logger.Warn("failed to write resolved value",
				"conflict_id", c.ID,
				"layer", l,
				"key", c.Key,
				"error", err)
			res.FailedLayers[l] = err.Error()
			continue
		}
		res.AppliedLayers = append(res.AppliedLayers, l)
	}
}

func (r *Resolver) markFailed(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.active[id]
	if !ok {
		return
	}
	c.Status = StatusFailed
	c.LastError = err.Error()
	r.logger.Warn("storage conflict resolution failed",
		"conflict_id", id,
		"key", c.Key,
		"attempts", c.Attempts,
		"error", err)
}

func (r *Resolver) archive(c *Conflict) {
	r.resolved[c.ID] = c
	r.resolvedOrder = append(r.resolvedOrder, c.ID)
	for len(r.resolvedOrder) > r.cfg.MaxResolved {
		delete(r.resolved, r.resolvedOrder[0])
		r.resolvedOrder = r.resolvedOrder[1:]
	}
}

func (r *Resolver) hasAutoResolvable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.active {
		if autoEligible(c) {
			return true
		}
	}
	return false
}

func autoEligible(c *Conflict) bool {
	return !c.RequiresManual && (c.Status == StatusPending || c.Status == StatusFailed)
}

// AutoResolve tries each configured strategy in order on every active
// conflict that does not require manual intervention. Conflicts no strategy
// could resolve go back to pending for the next pass. It returns how many
// conflicts were resolved.
func (r *Resolver) AutoResolve(ctx context.Context) int {
	r.mu.Lock()
	var ids []string
	for _, c := range sortedByDetection(r.active) {
		if autoEligible(c) {
			ids = append(ids, c.ID)
		}
	}
	r.mu.Unlock()

	resolved := 0
	for _, id := range ids {
		ok := false
		for _, strategy := range r.cfg.Strategies {
			if strategy == Manual {
				continue
			}
			if _, err := r.ResolveConflict(ctx, id, strategy, ResolveOptions{}); err == nil {
				ok = true
				break
			}
		}
		if ok {
			resolved++
			continue
		}
		r.mu.Lock()
		if c, exists := r.active[id]; exists && c.Status == StatusFailed {
			c.Status = StatusPending
		}
		r.mu.Unlock()
	}

	if len(ids) > 0 {
		r.logger.Info("automatic conflict resolution finished",
			"attempted", len(ids),
			"resolved", resolved)
	}
	return resolved
}

// GetConflict returns an active or resolved conflict.
func (r *Resolver) GetConflict(id string) (*Conflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.active[id]; ok {
		return c.Clone(), true
	}
	if c, ok := r.resolved[id]; ok {
		return c.Clone(), true
	}
	return nil, false
}

// GetActiveConflicts lists unresolved conflicts, oldest first.
func (r *Resolver) GetActiveConflicts() []*Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := sortedByDetection(r.active)
	for i, c := range out {
		out[i] = c.Clone()
	}
	return out
}

// GetResolvedConflicts lists archived conflicts, most recently resolved first.
func (r *Resolver) GetResolvedConflicts() []*Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conflict, 0, len(r.resolvedOrder))
	for i := len(r.resolvedOrder) - 1; i >= 0; i-- {
		out = append(out, r.resolved[r.resolvedOrder[i]].Clone())
	}
	return out
}

func sortedByDetection(m map[string]*Conflict) []*Conflict {
	out := make([]*Conflict, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Start implements the lifecycle contract; detection is scheduled by the owner.
func (r *Resolver) Start(ctx context.Context) error {
	return nil
}

// Stop implements the lifecycle contract.
func (r *Resolver) Stop(ctx context.Context) error {
	return nil
}

// HealthCheck reports an error when a configured layer has no adapter.
func (r *Resolver) HealthCheck(ctx context.Context) error {
	var missing []storage.Layer
	for _, l := range r.cfg.Layers {
		if _, ok := r.source.Adapter(l); !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) == len(r.cfg.Layers) {
		return fmt.Errorf("no conflict detection layers registered: %v", missing)
	}
	return nil
}
