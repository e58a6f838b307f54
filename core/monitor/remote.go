package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	errNoReport     = errors.New("no face report received")
	errStaleReport  = errors.New("face report is stale")
	errSinkNotReady = errors.New("media player not connected")
)

// Remote adapts the signals pushed by the learner's browser (face detection results,
// focus state, camera state, playback state) to the signal source interfaces,
// and queues the pause/play commands the browser drains.
//
// Reports older than staleAfter count as negative: a browser that stops reporting
// is treated as gone even if it never sent a blur or visibility event.
type Remote struct {
	mu         sync.Mutex
	staleAfter time.Duration

	face    Detection
	faceErr string
	faceAt  time.Time

	focus   FocusState
	focusAt time.Time

	cameraActive bool
	cameraUp     chan struct{} // closed while the camera is active
	released     bool

	playing   bool
	connected bool
	commands  []string
}

func NewRemote(staleAfter time.Duration) *Remote {
	now := nowFunc()
	return &Remote{
		staleAfter: staleAfter,
		focus:      FocusState{TabVisible: true, WindowFocused: true},
		focusAt:    now,
		cameraUp:   make(chan struct{}),
	}
}

func (r *Remote) fresh(at time.Time) bool {
	return r.staleAfter <= 0 || nowFunc().Sub(at) <= r.staleAfter
}

// ReportFace records a face detection result; a non-empty detErr reports a detector failure.
func (r *Remote) ReportFace(det Detection, detErr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.face, r.faceErr, r.faceAt = det, detErr, nowFunc()
	r.connected = true
}

func (r *Remote) ReportFocus(f FocusState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.focus, r.focusAt = f, nowFunc()
	r.connected = true
}

func (r *Remote) ReportCamera(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.connected = true
	if active == r.cameraActive {
		return
	}
	r.cameraActive = active
	if active {
		close(r.cameraUp)
	} else {
		r.cameraUp = make(chan struct{})
	}
}

func (r *Remote) ReportPlayback(playing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.playing = playing
	r.connected = true
}

// DrainCommands returns and forgets the queued player commands.
func (r *Remote) DrainCommands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmds := r.commands
	r.commands = nil
	if cmds == nil {
		cmds = []string{}
	}
	return cmds
}

// FacePresenceSource

func (r *Remote) Detect(_ context.Context) (Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.faceAt.IsZero():
		return Detection{}, errNoReport
	case !r.fresh(r.faceAt):
		return Detection{}, errStaleReport
	case r.faceErr != "":
		return Detection{}, errors.New(r.faceErr)
	}
	return r.face, nil
}

// FocusSource

func (r *Remote) Focus() FocusState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fresh(r.focusAt) {
		return FocusState{}
	}
	return r.focus
}

// Camera

func (r *Remote) Acquire(ctx context.Context) error {
	r.mu.Lock()
	if r.cameraActive {
		r.mu.Unlock()
		return nil
	}
	up := r.cameraUp
	r.mu.Unlock()

	select {
	case <-up:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for camera")
	}
}

func (r *Remote) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cameraActive && !r.released
}

func (r *Remote) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.commands = append(r.commands, "release_camera")
}

// PlaybackSource

func (r *Remote) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

func (r *Remote) Pause() error {
	return r.enqueue(cmdPause)
}

func (r *Remote) Play() error {
	return r.enqueue(cmdPlay)
}

func (r *Remote) enqueue(cmd command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return errSinkNotReady
	}
	name := cmd.String()
	if n := len(r.commands); n > 0 && r.commands[n-1] == name {
		return nil
	}
	r.commands = append(r.commands, name)
	// optimistic until the next playback report
	r.playing = cmd == cmdPlay
	return nil
}
