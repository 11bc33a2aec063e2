package storage

import (
	"fmt"
	"sort"
	"time"
)

// Layer names a storage tier.
type Layer string

// Storage layers, fastest first
const (
	LayerMemory    Layer = "memory"
	LayerSession   Layer = "session"
	LayerLocal     Layer = "local"
	LayerSync      Layer = "sync"
	LayerIndexedDB Layer = "indexeddb"
)

var layerSpeed = map[Layer]int{
	LayerMemory:    1,
	LayerSession:   2,
	LayerLocal:     3,
	LayerSync:      4,
	LayerIndexedDB: 5,
}

// AllLayers lists every layer in speed order.
var AllLayers = []Layer{LayerMemory, LayerSession, LayerLocal, LayerSync, LayerIndexedDB}

// Speed returns the fixed speed rank of l; lower is faster. Unknown layers
// rank after every known one.
func (l Layer) Speed() int {
	if s, ok := layerSpeed[l]; ok {
		return s
	}
	return len(layerSpeed) + 1
}

// Valid reports whether l is a known layer.
func (l Layer) Valid() bool {
	_, ok := layerSpeed[l]
	return ok
}

// ParseLayer converts a string to a Layer.
func ParseLayer(s string) (Layer, error) {
	l := Layer(s)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayer, s)
	}
	return l, nil
}

// LayerConfig controls a registered layer. Priority orders writes (higher
// first) independently of speed. TTL applies to layers that support expiry.
type LayerConfig struct {
	Enabled  bool          `json:"enabled"`
	Priority int           `json:"priority"`
	TTL      time.Duration `json:"ttl"`
}

// DefaultLayerConfigs returns the built-in per-layer settings.
func DefaultLayerConfigs() map[Layer]LayerConfig {
	return map[Layer]LayerConfig{
		LayerMemory:    {Enabled: true, Priority: 1, TTL: 5 * time.Minute},
		LayerSession:   {Enabled: true, Priority: 2},
		LayerLocal:     {Enabled: true, Priority: 5},
		LayerSync:      {Enabled: true, Priority: 4},
		LayerIndexedDB: {Enabled: true, Priority: 3},
	}
}

// bySpeed sorts layers fastest first.
func bySpeed(layers []Layer) []Layer {
	out := append([]Layer(nil), layers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Speed() < out[j].Speed() })
	return out
}
