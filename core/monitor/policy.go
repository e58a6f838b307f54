package monitor

import (
	"time"

	"github.com/pkg/errors"
)

// Kind is the kind of content a session monitors.
type Kind string

const (
	KindVideo Kind = "video" // lecture video
	KindQuiz  Kind = "quiz"  // timed quiz / test
	KindPanel Kind = "panel" // dashboard monitoring panel
)

func (k Kind) Valid() bool {
	switch k {
	case KindVideo, KindQuiz, KindPanel:
		return true
	}
	return false
}

// Seekable tells whether the content has a playback position skips can be detected on.
func (k Kind) Seekable() bool { return k == KindVideo }

// Policy holds the per-context enforcement settings.
type Policy struct {
	FaceGrace   time.Duration
	TabGrace    time.Duration
	WindowGrace time.Duration
	// TerminateOnFocusLoss ends the attempt on the first confirmed tab switch or window blur.
	TerminateOnFocusLoss bool
	// EndOnTimeLimit ends the attempt once the time limit is reached.
	EndOnTimeLimit bool
	SkipDetection  bool
	SkipThreshold  float64 // seconds
}

// LecturePolicy: focus loss pauses the video until the learner comes back,
// the "eyes not detected" flow waits 25s before pausing.
func LecturePolicy() Policy {
	return Policy{
		FaceGrace:     25 * time.Second,
		SkipDetection: true,
		SkipThreshold: DefaultSkipThreshold,
	}
}

// QuizPolicy: any focus loss terminates the attempt, a missing face pauses it after 5s.
func QuizPolicy() Policy {
	return Policy{
		FaceGrace:            5 * time.Second,
		TerminateOnFocusLoss: true,
		EndOnTimeLimit:       true,
	}
}

// PanelPolicy is the posture check of the dashboard panel: 3s grace.
func PanelPolicy() Policy {
	return Policy{
		FaceGrace: 3 * time.Second,
	}
}

// PolicyFor returns the default Policy of the given kind.
func PolicyFor(kind Kind) (Policy, error) {
	switch kind {
	case KindVideo:
		return LecturePolicy(), nil
	case KindQuiz:
		return QuizPolicy(), nil
	case KindPanel:
		return PanelPolicy(), nil
	}
	return Policy{}, errors.Errorf("unknown session kind %q", kind)
}
