package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

var t0 = time.Date(2021, 1, 10, 9, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type fakeFace struct {
	mu      sync.Mutex
	present bool
	err     error
}

func (f *fakeFace) set(present bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present, f.err = present, err
}

func (f *fakeFace) Detect(context.Context) (Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Detection{}, f.err
	}
	conf := 0.0
	if f.present {
		conf = 0.9
	}
	return Detection{Present: f.present, Confidence: conf}, nil
}

type fakeFocus struct {
	mu    sync.Mutex
	state FocusState
}

func (f *fakeFocus) set(visible, focused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = FocusState{TabVisible: visible, WindowFocused: focused}
}

func (f *fakeFocus) Focus() FocusState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type fakeCamera struct {
	mu         sync.Mutex
	active     bool
	acquireErr error
	released   int

	// when set, Acquire signals waiting then blocks until gate is closed
	waiting chan struct{}
	gate    chan struct{}
}

func (c *fakeCamera) Acquire(context.Context) error {
	if c.gate != nil {
		close(c.waiting)
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acquireErr != nil {
		return c.acquireErr
	}
	c.active = true
	return nil
}

func (c *fakeCamera) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *fakeCamera) setActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = active
}

func (c *fakeCamera) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.released++
}

var errSinkBusy = errors.New("player busy")

type fakeSink struct {
	mu      sync.Mutex
	playing bool
	fail    bool
	pauses  int
	plays   int
}

func (s *fakeSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *fakeSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkBusy
	}
	s.pauses++
	s.playing = false
	return nil
}

func (s *fakeSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkBusy
	}
	s.plays++
	s.playing = true
	return nil
}

func (s *fakeSink) setPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = playing
}

func (s *fakeSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// harness is a session wired to fake sources, all signals good.
type harness struct {
	sess   *Session
	face   *fakeFace
	focus  *fakeFocus
	camera *fakeCamera
	sink   *fakeSink
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.ID == "" {
		opts.ID = "s1"
	}
	if opts.LearnerID == "" {
		opts.LearnerID = "learner"
	}
	if opts.Kind == "" {
		opts.Kind = KindVideo
	}
	if opts.TotalDurationSeconds == 0 {
		opts.TotalDurationSeconds = 1800
	}
	h := &harness{
		face:   &fakeFace{present: true},
		focus:  &fakeFocus{state: FocusState{TabVisible: true, WindowFocused: true}},
		camera: &fakeCamera{},
		sink:   &fakeSink{playing: true},
	}
	sources := Sources{Face: h.face, Focus: h.focus, Camera: h.camera}
	if opts.Kind != KindQuiz {
		sources.Playback = h.sink
	}
	h.sess = NewSession(opts, sources, nopLogger{})
	return h
}

// start starts the session at t0.
func (h *harness) start(t *testing.T) {
	t.Helper()
	nowFunc = func() time.Time { return t0 }
	t.Cleanup(func() { nowFunc = time.Now })
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// tick ticks the session at t0+sec.
func (h *harness) tick(sec int) {
	h.sess.Tick(context.Background(), at(float64(sec)))
}

// run ticks the session every second in [from, to].
func (h *harness) run(from, to int) {
	for sec := from; sec <= to; sec++ {
		h.tick(sec)
	}
}
