package overlay

import "sort"

// Identity is the stable cache key of a video: "{namespace}.{parent}/{leaf}".
// The empty Identity means caching is disabled for that reference.
type Identity string

// SourceKind tells whether a record points at an uploaded file or a URL.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
)

// Cue is one timed sign-language overlay. Pointer fields are optional on the
// wire and keep their absence.
type Cue struct {
	StartTime       *float64 `json:"st,omitempty"`
	EndTime         *float64 `json:"et,omitempty"`
	AssetURL        *string  `json:"vu,omitempty"`
	DisplayDuration *float64 `json:"vd,omitempty"`
	Label           *string  `json:"s,omitempty"`
	Priority        int      `json:"q"`
}

// Dwell returns the cue's display duration in seconds, 0 when absent.
func (c Cue) Dwell() float64 {
	if c.DisplayDuration == nil {
		return 0
	}
	return *c.DisplayDuration
}

// CueSet is the resolution payload for a video. Cues are unordered.
type CueSet struct {
	Cues   []Cue `json:"data"`
	Status bool  `json:"status"`
}

// Record is one resolved or resolving video in the cache.
type Record struct {
	Kind              SourceKind `json:"videoType"`
	Location          string     `json:"videoPath"`
	OriginalReference string     `json:"videoURL"`
	Identity          Identity   `json:"videoBundleId"`
	CueSet            *CueSet    `json:"signModel,omitempty"`
}

// WithCueSet returns a copy of r carrying cs.
func (r Record) WithCueSet(cs *CueSet) Record {
	r.CueSet = cs
	return r
}

// Cues returns the record's cues, nil when none were resolved.
func (r Record) Cues() []Cue {
	if r.CueSet == nil {
		return nil
	}
	return r.CueSet.Cues
}

// SortCues returns a copy of cues ordered by Priority ascending. Equal
// priorities keep their arrival order; start and end times never reorder.
func SortCues(cues []Cue) []Cue {
	sorted := make([]Cue, len(cues))
	copy(sorted, cues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}
