// Package completion decides when a scene's marker tag is added.
package completion

import "slices"

// Tracker maintains the marker tag that records a finished subtitle pass.
// The zero value, or a marker of "0", disables tracking.
type Tracker struct {
	marker string
}

func NewTracker(marker string) Tracker {
	if marker == "0" {
		marker = ""
	}
	return Tracker{marker: marker}
}

func (t Tracker) Enabled() bool {
	return t.marker != ""
}

func (t Tracker) Marker() string {
	return t.marker
}

// Decision is the tag set to write and whether a write is needed.
type Decision struct {
	Tags    []string
	Persist bool
}

// Decide computes the new tag set for a scene with current tags where
// materialized subtitle tracks exist on disk. The marker is added once, and
// only when at least one track materialized. A scene without subtitles stays
// unmarked so a later pass tests it again.
func (t Tracker) Decide(current []string, materialized int) Decision {
	tags := slices.Clone(current)
	if !t.Enabled() || materialized <= 0 || slices.Contains(tags, t.marker) {
		return Decision{Tags: tags}
	}

	tags = append(tags, t.marker)
	return Decision{
		Tags:    tags,
		Persist: len(tags) != len(current),
	}
}

// IsMarked reports whether tags already carry the marker.
func (t Tracker) IsMarked(tags []string) bool {
	return t.Enabled() && slices.Contains(tags, t.marker)
}
