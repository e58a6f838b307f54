package monitor

import "math"

// DefaultSkipThreshold is the position jump, in seconds, above which a seek counts as a skip.
const DefaultSkipThreshold = 10.0

// SkipEvent is a position jump larger than the skip threshold.
type SkipEvent struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Skipped float64 `json:"skipped"`
}

// SkipDetector turns playback position changes of seekable media into skip events.
// Counts are unbounded here; thresholds only apply at completion.
type SkipDetector struct {
	Threshold float64 // seconds
	Enabled   bool
}

func (d SkipDetector) OnPositionChange(previous, current float64) (SkipEvent, bool) {
	if !d.Enabled {
		return SkipEvent{}, false
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultSkipThreshold
	}
	jump := math.Abs(current - previous)
	if jump <= threshold {
		return SkipEvent{}, false
	}
	return SkipEvent{From: previous, To: current, Skipped: jump}, true
}
