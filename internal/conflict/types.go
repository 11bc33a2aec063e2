package conflict

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/storage"
)

// Common errors returned by the Resolver
var (
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrUnknownStrategy    = errors.New("unknown resolution strategy")
	ErrManualDataRequired = errors.New("manual resolution requires resolved data")
	ErrPropagationFailed  = errors.New("resolved value could not be written to any layer")
	ErrBackupFailed       = errors.New("conflict backup failed")
	ErrNoVersions         = errors.New("conflict has no versions")
)

// Type classifies how versions of a key diverge.
type Type string

// Conflict types
const (
	TypeVersionMismatch        Type = "version_mismatch"
	TypeTimestampConflict      Type = "timestamp_conflict"
	TypeSchemaConflict         Type = "schema_conflict"
	TypeDataCorruption         Type = "data_corruption"
	TypeConcurrentModification Type = "concurrent_modification"
)

// Status is the resolution state of a conflict.
type Status string

// Conflict statuses
const (
	StatusPending        Status = "pending"
	StatusResolving      Status = "resolving"
	StatusResolved       Status = "resolved"
	StatusFailed         Status = "failed"
	StatusManualRequired Status = "manual_required"
)

// Strategy selects the winning value.
type Strategy string

// Resolution strategies
const (
	LastWriteWins      Strategy = "last_write_wins"
	FirstWriteWins     Strategy = "first_write_wins"
	Merge              Strategy = "merge"
	PreferSource       Strategy = "prefer_source"
	Manual             Strategy = "manual"
	BackupAndOverwrite Strategy = "backup_and_overwrite"
)

// ParseStrategy converts a string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case LastWriteWins, FirstWriteWins, Merge, PreferSource, Manual, BackupAndOverwrite:
		return st, nil
	}
	return "", ErrUnknownStrategy
}

// Version is one layer's value for a conflicting key.
type Version struct {
	VersionID   string            `json:"version_id"`
	SourceLayer storage.Layer     `json:"source_layer"`
	Data        json.RawMessage   `json:"data"`
	Timestamp   time.Time         `json:"timestamp"`
	Checksum    uint32            `json:"checksum"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Conflict is a key whose layers disagree.
type Conflict struct {
	ID         string          `json:"conflict_id"`
	Type       Type            `json:"type"`
	Key        string          `json:"key"`
	Layers     []storage.Layer `json:"layers"`
	Severity   domain.Severity `json:"severity"`
	Versions   []Version       `json:"conflicting_data"`
	Status     Status          `json:"status"`
	DetectedAt time.Time       `json:"detected_at"`
	// RequiresManual excludes the conflict from automatic resolution.
	RequiresManual bool        `json:"requires_manual"`
	Attempts       int         `json:"attempts"`
	LastError      string      `json:"last_error,omitempty"`
	Resolution     *Resolution `json:"resolution,omitempty"`
}

// Clone returns a deep copy of c.
func (c *Conflict) Clone() *Conflict {
	out := *c
	out.Layers = append([]storage.Layer(nil), c.Layers...)
	out.Versions = append([]Version(nil), c.Versions...)
	if c.Resolution != nil {
		r := *c.Resolution
		r.Notes = append([]string(nil), c.Resolution.Notes...)
		r.AppliedLayers = append([]storage.Layer(nil), c.Resolution.AppliedLayers...)
		out.Resolution = &r
	}
	return &out
}

// Resolution records how a conflict was resolved.
type Resolution struct {
	Strategy      Strategy                 `json:"strategy"`
	Data          json.RawMessage          `json:"data"`
	WinningLayer  storage.Layer            `json:"winning_layer,omitempty"`
	Notes         []string                 `json:"notes,omitempty"`
	AppliedLayers []storage.Layer          `json:"applied_layers"`
	FailedLayers  map[storage.Layer]string `json:"failed_layers,omitempty"`
	BackupRef     string                   `json:"backup_ref,omitempty"`
	ResolvedAt    time.Time                `json:"resolved_at"`
}

// ResolveOptions tune ResolveConflict.
type ResolveOptions struct {
	// Data is the caller's value for the manual strategy.
	Data json.RawMessage
	// TargetLayers overrides the layers the result is written to.
	TargetLayers []storage.Layer
}
