package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-focus/core"
)

var (
	nowFunc = time.Now // mockable

	ErrSessionStarted = errors.New("session already started")
)

const (
	DefaultTickInterval  = time.Second
	DefaultCameraTimeout = 2 * time.Second
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateStarting
	stateRunning
	stateEnded // terminated or time limit reached: no more ticks, not finalized yet
	stateStopped
)

// Options configure a Session. They are immutable once the session is created.
type Options struct {
	ID                   string          `json:"id"`
	LearnerID            string          `json:"learner_id" validate:"required"`
	Kind                 Kind            `json:"kind" validate:"required,oneof=video quiz panel"`
	TotalDurationSeconds float64         `json:"total_duration_seconds" validate:"gt=0"`
	TimeLimit            time.Duration   `json:"time_limit" validate:"min=0"`
	Rules                CompletionRules `json:"rules"`
	Policy               Policy          `json:"-"`
	TickInterval         time.Duration   `json:"-"`
	CameraTimeout        time.Duration   `json:"-"`
}

type transition struct {
	old, new Validity
}

// Session is the attention-gated validity engine of one video or quiz session.
// Every state change happens under mu, one tick at a time.
type Session struct {
	mu      sync.Mutex
	opts    Options
	sources Sources
	logger  core.Logger

	face, tab, window *Debouncer
	skip              SkipDetector
	coord             *Coordinator

	state       sessionState
	validity    Validity
	snapshot    Snapshot
	ledger      Ledger
	pending     []Violation
	seq         int
	tick        uint64
	startedAt   time.Time
	lastTick    time.Time
	elapsed     float64
	valid       float64
	position    float64
	hasPosition bool
	termination Reason
	result      *CompletionResult
	finalizedAt time.Time

	listeners []func(old, new Validity)
	tickHooks []func()

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSession creates a Session. Options are expected to be validated (see Service).
func NewSession(opts Options, sources Sources, logger core.Logger) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.CameraTimeout <= 0 {
		opts.CameraTimeout = DefaultCameraTimeout
	}
	return &Session{
		opts:    opts,
		sources: sources,
		logger:  logger,
		face:    NewDebouncer(FaceMissing, opts.Policy.FaceGrace),
		tab:     NewDebouncer(TabAway, opts.Policy.TabGrace),
		window:  NewDebouncer(WindowBlurred, opts.Policy.WindowGrace),
		skip: SkipDetector{
			Threshold: opts.Policy.SkipThreshold,
			Enabled:   opts.Policy.SkipDetection && opts.Kind.Seekable(),
		},
		coord:     NewCoordinator(sources.Playback, logger),
		validity:  Validity{Valid: true},
		startedAt: nowFunc(), // creation time until Start
		stop:      make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.opts.ID }

func (s *Session) Options() Options { return s.opts }

// Start acquires the camera (bounded by Options.CameraTimeout) and evaluates the initial validity.
// A camera that cannot be acquired does not fail the session: it runs degraded with ReasonCameraOff.
// The initial evaluation counts as a tick for the OnTick callbacks.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.state = stateStarting
	s.mu.Unlock()

	cam := s.sources.Camera
	acquired := false
	if cam != nil {
		actx, cancel := context.WithTimeout(ctx, s.opts.CameraTimeout)
		err := cam.Acquire(actx)
		cancel()
		if err != nil {
			s.logger.Warn("camera unavailable, session degraded", errors.Wrap(ErrSignalUnavailable, err.Error()))
		}
		acquired = err == nil
	}

	now := nowFunc()
	s.mu.Lock()
	if s.state != stateStarting { // stopped while acquiring
		s.mu.Unlock()
		if acquired {
			cam.Release() // Stop released it before it was acquired
		}
		return nil
	}
	s.state = stateRunning
	s.startedAt = now
	s.lastTick = now
	trans := s.process(ctx, now)
	listeners := s.listeners
	hooks := s.tickHooks
	s.mu.Unlock()

	notify(listeners, trans)
	for _, hook := range hooks {
		hook()
	}
	return nil
}

// Run ticks the session every Options.TickInterval until ctx is done or the session is stopped.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case t := <-ticker.C:
			s.Tick(ctx, t)
		}
	}
}

// Tick samples the signal sources and updates the session as of `now`.
// Extra ticks (e.g. on a focus event) are harmless: time is accounted from timestamps.
func (s *Session) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	trans := s.process(ctx, now)
	listeners := s.listeners
	hooks := s.tickHooks
	s.mu.Unlock()

	notify(listeners, trans)
	for _, hook := range hooks {
		hook()
	}
}

func notify(listeners []func(old, new Validity), trans *transition) {
	if trans == nil {
		return
	}
	for _, l := range listeners {
		l(trans.old, trans.new)
	}
}

// process must be called with mu held.
func (s *Session) process(ctx context.Context, now time.Time) *transition {
	if now.Before(s.lastTick) {
		now = s.lastTick
	}
	dt := now.Sub(s.lastTick).Seconds()
	s.lastTick = now
	s.tick++
	s.elapsed += dt

	snap := s.sample(ctx, now)
	s.snapshot = snap

	if snap.CameraActive {
		if _, confirmed := s.face.Update(!snap.FacePresent, now); confirmed {
			s.record(ViolationFaceMissing, 0, now)
		}
	} else {
		// nothing can be detected without a camera: CameraOff covers it
		s.face.Reset(now)
	}

	alreadyLost := s.tab.Signal().Confirmed() || s.window.Signal().Confirmed()
	_, tabConfirmed := s.tab.Update(!snap.TabVisible, now)
	_, winConfirmed := s.window.Update(!snap.WindowFocused, now)
	if (tabConfirmed || winConfirmed) && !alreadyLost {
		s.record(ViolationTabSwitch, 0, now)
	}

	limitReached := s.opts.TimeLimit > 0 && s.elapsed >= s.opts.TimeLimit.Seconds()
	old := s.validity
	s.validity = Evaluate(snap, s.debounced(limitReached))
	if s.validity.Valid {
		s.valid += dt
	}

	switch {
	case s.opts.Policy.TerminateOnFocusLoss && (s.tab.Signal().Confirmed() || s.window.Signal().Confirmed()):
		s.termination = s.focusLossReason()
		s.state = stateEnded
		s.coord.Halt()
		s.logger.Info("attempt terminated", map[string]interface{}{"session": s.opts.ID, "reason": s.termination.String()})
	case s.tick == 1:
		// initial evaluation at start: not a transition
		s.coord.Hold(s.validity)
	case old.Valid != s.validity.Valid:
		if s.coord.OnValidityChange(old, s.validity) {
			s.record(ViolationAutoPause, 0, now)
		}
	default:
		s.coord.Enforce(s.validity)
	}
	if s.opts.Policy.EndOnTimeLimit && limitReached && s.state == stateRunning {
		s.state = stateEnded
	}

	if old == s.validity {
		return nil
	}
	return &transition{old: old, new: s.validity}
}

func (s *Session) focusLossReason() Reason {
	if s.validity.Reason == ReasonTabAway || s.validity.Reason == ReasonWindowBlurred {
		return s.validity.Reason
	}
	if s.tab.Signal().Confirmed() {
		return ReasonTabAway
	}
	return ReasonWindowBlurred
}

func (s *Session) sample(ctx context.Context, now time.Time) Snapshot {
	snap := Snapshot{
		FacePresent:    true,
		TabVisible:     true,
		WindowFocused:  true,
		PlaybackActive: true,
		Timestamp:      now,
	}
	if cam := s.sources.Camera; cam != nil {
		snap.CameraActive = cam.Active()
	}
	if s.sources.Face != nil && snap.CameraActive {
		dctx, cancel := context.WithTimeout(ctx, s.opts.TickInterval)
		det, err := s.sources.Face.Detect(dctx)
		cancel()
		if err != nil {
			// a failed detection counts as "no face" for this tick only; the grace period absorbs it
			s.logger.Debug("face detection failed", errors.Wrap(ErrDetectorFailure, err.Error()))
			det = Detection{}
		}
		snap.FacePresent = det.Present
		snap.Confidence = det.Confidence
	}
	if s.sources.Focus != nil {
		f := s.sources.Focus.Focus()
		snap.TabVisible = f.TabVisible
		snap.WindowFocused = f.WindowFocused
	}
	if p := s.sources.Playback; p != nil {
		// held by the coordinator: the learner did not pause
		snap.PlaybackActive = p.IsPlaying() || s.coord.PausedByPolicy()
	}
	return snap
}

func (s *Session) debounced(limitReached bool) Debounced {
	return Debounced{
		FaceMissing:      s.face.Signal(),
		TabAway:          s.tab.Signal(),
		WindowBlurred:    s.window.Signal(),
		TimeLimitReached: limitReached,
	}
}

// record must be called with mu held.
func (s *Session) record(kind ViolationKind, amount float64, now time.Time) {
	s.seq++
	v := Violation{Seq: s.seq, Tick: s.tick, Kind: kind, Amount: amount, OccurredAt: now}
	s.ledger.apply(v)
	s.pending = append(s.pending, v)
}

// ReportPosition feeds the current playback position to the skip detector.
func (s *Session) ReportPosition(position float64, now time.Time) (SkipEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return SkipEvent{}, false
	}
	prev, had := s.position, s.hasPosition
	s.position, s.hasPosition = position, true
	if !had {
		return SkipEvent{}, false
	}
	ev, ok := s.skip.OnPositionChange(prev, position)
	if ok {
		s.record(ViolationSkip, ev.Skipped, now)
	}
	return ev, ok
}

// OnValidityChange registers a callback invoked, outside the session lock, after each validity change.
func (s *Session) OnValidityChange(cb func(old, new Validity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, cb)
}

// OnTick registers a callback invoked, outside the session lock, after each tick and after the initial evaluation.
func (s *Session) OnTick(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickHooks = append(s.tickHooks, cb)
}

func (s *Session) Validity() Validity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validity
}

func (s *Session) Ledger() Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Session) Debounced() Debounced {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debounced(s.validity.Reason == ReasonTimeLimitReached)
}

// Ended tells whether monitoring ended on its own (terminated attempt or time limit) and awaits finalization.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateEnded && s.result == nil
}

// DrainViolations returns and forgets the violations recorded since the last drain, in order.
func (s *Session) DrainViolations() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.pending
	s.pending = nil
	return vs
}

// RequeueViolations puts back violations that could not be persisted, ahead of newer ones.
func (s *Session) RequeueViolations(vs []Violation) {
	if len(vs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(append(make([]Violation, 0, len(vs)+len(s.pending)), vs...), s.pending...)
}

// Stop stops monitoring: pending grace periods are dropped without recording anything and the camera is released.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)

		s.mu.Lock()
		now := s.lastTick
		s.face.Reset(now)
		s.tab.Reset(now)
		s.window.Reset(now)
		s.state = stateStopped
		s.mu.Unlock()

		if cam := s.sources.Camera; cam != nil {
			cam.Release()
		}
	})
}

// Record returns the current progress of the session.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() Record {
	rec := Record{
		ID:                   s.opts.ID,
		LearnerID:            s.opts.LearnerID,
		Kind:                 s.opts.Kind,
		TotalDurationSeconds: s.opts.TotalDurationSeconds,
		ValidWatchSeconds:    s.valid,
		ElapsedSeconds:       s.elapsed,
		Ledger:               s.ledger,
		TerminationReason:    s.termination,
		Rules:                s.opts.Rules,
		StartedAt:            s.startedAt,
		UpdatedAt:            s.lastTick,
		FinalizedAt:          s.finalizedAt,
	}
	if s.result != nil {
		res := CompletionResult{Accepted: s.result.Accepted, Reasons: append([]string(nil), s.result.Reasons...)}
		rec.Result = &res
		rec.Completed = res.Accepted
	}
	return rec
}

// Finalize stops the session and evaluates it against its CompletionRules.
// The verdict is computed once: later calls return the same result.
func (s *Session) Finalize() (CompletionResult, Record) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		res := EvaluateCompletion(s.recordLocked(), s.opts.Rules)
		s.result = &res
		s.finalizedAt = nowFunc()
	}
	rec := s.recordLocked()
	return *rec.Result, rec
}
