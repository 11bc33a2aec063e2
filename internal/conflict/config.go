package conflict

import (
	"time"

	"github.com/phrazzld/meetscribe/internal/storage"
)

// Config controls detection and resolution.
type Config struct {
	// Layers are compared during detection.
	Layers []storage.Layer

	// TimestampTolerance is the largest timestamp spread between versions
	// that is not itself a timestamp conflict.
	TimestampTolerance time.Duration

	// ConcurrentWindow is how recent two modifications must be to count as
	// concurrent.
	ConcurrentWindow time.Duration

	HighSeverityAge     time.Duration
	CriticalSeverityAge time.Duration

	// AutoResolve runs automatic resolution after a detection pass that
	// leaves unresolved conflicts.
	AutoResolve bool

	// Strategies are tried in order by automatic resolution.
	Strategies []Strategy

	// MaxResolved bounds the resolved archive.
	MaxResolved int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Layers: []storage.Layer{
			storage.LayerMemory,
			storage.LayerSession,
			storage.LayerLocal,
			storage.LayerSync,
		},
		TimestampTolerance:  5 * time.Second,
		ConcurrentWindow:    10 * time.Second,
		HighSeverityAge:     24 * time.Hour,
		CriticalSeverityAge: 72 * time.Hour,
		AutoResolve:         true,
		Strategies:          []Strategy{LastWriteWins, Merge, PreferSource},
		MaxResolved:         100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Layers) == 0 {
		c.Layers = def.Layers
	}
	if c.TimestampTolerance <= 0 {
		c.TimestampTolerance = def.TimestampTolerance
	}
	if c.ConcurrentWindow <= 0 {
		c.ConcurrentWindow = def.ConcurrentWindow
	}
	if c.HighSeverityAge <= 0 {
		c.HighSeverityAge = def.HighSeverityAge
	}
	if c.CriticalSeverityAge <= 0 {
		c.CriticalSeverityAge = def.CriticalSeverityAge
	}
	if len(c.Strategies) == 0 {
		c.Strategies = def.Strategies
	}
	if c.MaxResolved <= 0 {
		c.MaxResolved = def.MaxResolved
	}
	return c
}
