package overlay

import (
	"fmt"
	"math"
	"strings"
)

const cueTrackContentType = "text/vtt; charset=utf-8"

// BuildCueTrack renders cues, in display order, as a WebVTT metadata track.
// Each block carries the priority as its identifier, the start/end times and
// the asset URL plus label as payload. Cues without a start time are listed
// at 00:00:00.000; a missing end time falls back to start plus dwell.
func BuildCueTrack(cues []Cue) string {
	var b strings.Builder

	b.WriteString("WEBVTT - sign overlay cues\n")

	for _, c := range SortCues(cues) {
		start := 0.0
		if c.StartTime != nil {
			start = *c.StartTime
		}
		end := start + c.Dwell()
		if c.EndTime != nil {
			end = *c.EndTime
		}
		if end < start {
			end = start
		}

		b.WriteString("\n")
		fmt.Fprintf(&b, "q%d\n", c.Priority)
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(start), formatTimestamp(end))
		if c.AssetURL != nil {
			b.WriteString(*c.AssetURL)
			b.WriteString("\n")
		}
		if c.Label != nil && *c.Label != "" {
			b.WriteString(*c.Label)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// formatTimestamp formats seconds as HH:MM:SS.mmm.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
