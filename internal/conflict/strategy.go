package conflict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/phrazzld/meetscribe/internal/storage"
)

// sourcePreference is the layer order used by PreferSource, most trusted first.
var sourcePreference = []storage.Layer{
	storage.LayerSync,
	storage.LayerLocal,
	storage.LayerSession,
	storage.LayerMemory,
}

// outcome is the value a strategy picked.
type outcome struct {
	data   json.RawMessage
	winner storage.Layer
	notes  []string
}

// usable drops versions whose stored bytes could not be decoded.
func usable(versions []Version) []Version {
	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		if v.Metadata["corrupt"] != "true" {
			out = append(out, v)
		}
	}
	return out
}

// latest returns the version with the newest timestamp; ties go to the
// faster layer.
func latest(versions []Version) Version {
	best := versions[0]
	for _, v := range versions[1:] {
		if v.Timestamp.After(best.Timestamp) ||
			(v.Timestamp.Equal(best.Timestamp) && v.SourceLayer.Speed() < best.SourceLayer.Speed()) {
			best = v
		}
	}
	return best
}

// earliest returns the version with the oldest timestamp; ties go to the
// faster layer.
func earliest(versions []Version) Version {
	best := versions[0]
	for _, v := range versions[1:] {
		if v.Timestamp.Before(best.Timestamp) ||
			(v.Timestamp.Equal(best.Timestamp) && v.SourceLayer.Speed() < best.SourceLayer.Speed()) {
			best = v
		}
	}
	return best
}

func lastWriteWins(versions []Version) outcome {
	v := latest(versions)
	return outcome{data: v.Data, winner: v.SourceLayer}
}

func firstWriteWins(versions []Version) outcome {
	v := earliest(versions)
	return outcome{data: v.Data, winner: v.SourceLayer}
}

func preferSource(versions []Version) outcome {
	for _, layer := range sourcePreference {
		for _, v := range versions {
			if v.SourceLayer == layer {
				return outcome{data: v.Data, winner: v.SourceLayer}
			}
		}
	}
	out := lastWriteWins(versions)
	out.notes = []string{"no preferred layer held the key; used last write"}
	return out
}

// mergeVersions shallow-merges object versions field by field. Fields are
// applied oldest version first, so a field present in several versions with
// different values takes the newest value; each such field gets one note.
// Non-object data falls back to the latest version.
func mergeVersions(versions []Version) (outcome, error) {
	for _, v := range versions {
		if kindOf(v.Data) != kindObject {
			out := lastWriteWins(versions)
			out.notes = []string{fmt.Sprintf("%s data from %s cannot be merged; used last write", kindOf(v.Data), v.SourceLayer)}
			return out, nil
		}
	}

	ordered := append([]Version(nil), versions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.SourceLayer.Speed() > b.SourceLayer.Speed()
	})

	merged := make(map[string]json.RawMessage)
	from := make(map[string]storage.Layer)
	contested := make(map[string]bool)
	for _, v := range ordered {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(v.Data, &fields); err != nil {
			return outcome{}, fmt.Errorf("failed to decode %s version: %w", v.SourceLayer, err)
		}
		for k, val := range fields {
			if prev, ok := merged[k]; ok && !bytes.Equal(canonical(prev), canonical(val)) {
				contested[k] = true
			}
			merged[k] = val
			from[k] = v.SourceLayer
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to encode merged value: %w", err)
	}

	keys := make([]string, 0, len(contested))
	for k := range contested {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	notes := make([]string, 0, len(keys))
	for _, k := range keys {
		notes = append(notes, fmt.Sprintf("field %q differed across versions; kept latest from %s", k, from[k]))
	}
	return outcome{data: data, winner: latest(versions).SourceLayer, notes: notes}, nil
}
