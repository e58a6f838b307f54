package monitor

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrSignalUnavailable means a signal source (camera, permission) could not be acquired.
	ErrSignalUnavailable = errors.New("signal unavailable")
	// ErrDetectorFailure is a transient face detection error.
	ErrDetectorFailure = errors.New("face detector failure")
	// ErrSinkCommand means the media sink rejected a pause/play command.
	ErrSinkCommand = errors.New("media sink command failed")
)

// Snapshot is the set of raw signals sampled during one tick.
type Snapshot struct {
	FacePresent    bool      `json:"face_present"`
	Confidence     float64   `json:"confidence"`
	TabVisible     bool      `json:"tab_visible"`
	WindowFocused  bool      `json:"window_focused"`
	CameraActive   bool      `json:"camera_active"`
	PlaybackActive bool      `json:"playback_active"`
	Timestamp      time.Time `json:"timestamp"`
}

// Detection is the result of one face detection.
type Detection struct {
	Present    bool    `json:"present"`
	Confidence float64 `json:"confidence"`
}

// FocusState is the tab visibility and window focus of the learner's page.
type FocusState struct {
	TabVisible    bool `json:"tab_visible"`
	WindowFocused bool `json:"window_focused"`
}

type (
	// FacePresenceSource detects whether the learner's face is in front of the camera.
	FacePresenceSource interface {
		Detect(ctx context.Context) (Detection, error)
	}

	// FocusSource reports the current tab visibility and window focus.
	FocusSource interface {
		Focus() FocusState
	}

	// PlaybackSource is the media player: it reports whether it plays and accepts pause/play commands.
	// Commands are idempotent.
	PlaybackSource interface {
		IsPlaying() bool
		Pause() error
		Play() error
	}

	// Camera is the handle on the learner's camera.
	Camera interface {
		// Acquire blocks until the camera is available or ctx is done.
		Acquire(ctx context.Context) error
		Active() bool
		Release()
	}
)

// Sources groups the signal sources of a Session. Playback is nil for non-media sessions (quizzes).
type Sources struct {
	Face     FacePresenceSource
	Focus    FocusSource
	Playback PlaybackSource
	Camera   Camera
}
