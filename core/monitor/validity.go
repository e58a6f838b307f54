package monitor

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Reason explains why a session is not valid. Values are listed in precedence order.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonCameraOff
	ReasonFaceMissing
	ReasonTabAway
	ReasonWindowBlurred
	ReasonPlaybackPaused
	ReasonTimeLimitReached
)

var reasonNames = [...]string{
	"none",
	"camera_off",
	"face_missing",
	"tab_away",
	"window_blurred",
	"playback_paused",
	"time_limit_reached",
}

var reasonMessages = [...]string{
	"",
	"Turn your camera on to continue.",
	"We can't see you. Face the camera to continue.",
	"Come back to this tab to continue.",
	"Focus this window to continue.",
	"Playback is paused.",
	"The time limit has been reached.",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return "unknown"
	}
	return reasonNames[r]
}

// Message is the human readable explanation shown to the learner.
func (r Reason) Message() string {
	if r < 0 || int(r) >= len(reasonMessages) {
		return ""
	}
	return reasonMessages[r]
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(text []byte) error {
	for i, name := range reasonNames {
		if name == string(text) {
			*r = Reason(i)
			return nil
		}
	}
	return errors.Errorf("unknown validity reason %q", text)
}

// Validity tells whether elapsed time currently counts toward progress.
type Validity struct {
	Valid  bool
	Reason Reason
}

func (v Validity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Valid   bool   `json:"valid"`
		Reason  Reason `json:"reason"`
		Message string `json:"message,omitempty"`
	}{v.Valid, v.Reason, v.Reason.Message()})
}

// Debounced is the debounced state fed to Evaluate next to the raw Snapshot.
type Debounced struct {
	FaceMissing      DebouncedSignal `json:"face_missing"`
	TabAway          DebouncedSignal `json:"tab_away"`
	WindowBlurred    DebouncedSignal `json:"window_blurred"`
	TimeLimitReached bool            `json:"time_limit_reached"`
}

// Evaluate returns the validity for the given signals, reporting the first failing condition in precedence order.
func Evaluate(s Snapshot, d Debounced) Validity {
	var r Reason
	switch {
	case !s.CameraActive:
		r = ReasonCameraOff
	case d.FaceMissing.Confirmed():
		r = ReasonFaceMissing
	case !s.TabVisible:
		r = ReasonTabAway
	case !s.WindowFocused:
		r = ReasonWindowBlurred
	case !s.PlaybackActive:
		r = ReasonPlaybackPaused
	case d.TimeLimitReached:
		r = ReasonTimeLimitReached
	default:
		return Validity{Valid: true}
	}
	return Validity{Reason: r}
}
