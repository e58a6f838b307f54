package monitor

import (
	"encoding/json"
	"time"
)

// Condition is a monitored negative condition.
type Condition int

const (
	FaceMissing Condition = iota
	TabAway
	WindowBlurred
)

var conditionNames = [...]string{"face_missing", "tab_away", "window_blurred"}

func (c Condition) String() string {
	if c < 0 || int(c) >= len(conditionNames) {
		return "unknown"
	}
	return conditionNames[c]
}

// DebounceState is the state of a DebouncedSignal.
type DebounceState int

const (
	// StateRaw: the condition does not hold.
	StateRaw DebounceState = iota
	// StateGrace: the condition holds but for less than the grace period.
	StateGrace
	// StateConfirmed: the condition held for the whole grace period.
	StateConfirmed
)

var debounceStateNames = [...]string{"raw", "grace", "confirmed"}

func (s DebounceState) String() string {
	if s < 0 || int(s) >= len(debounceStateNames) {
		return "unknown"
	}
	return debounceStateNames[s]
}

func (s DebounceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// DebouncedSignal is a read-only view of a Debouncer.
type DebouncedSignal struct {
	Condition Condition     `json:"-"`
	State     DebounceState `json:"state"`
	Grace     time.Duration `json:"grace"`
	Remaining time.Duration `json:"remaining"`
	Since     time.Time     `json:"since"`
}

func (d DebouncedSignal) Confirmed() bool { return d.State == StateConfirmed }

// Debouncer is the grace-period state machine of one condition: Raw -> Grace -> Confirmed.
// It resets to Raw the moment the condition stops holding.
// Not safe for concurrent use; the owning Session serializes updates.
type Debouncer struct {
	cond  Condition
	grace time.Duration

	state DebounceState
	since time.Time // start of the current state
	left  time.Duration
	// armed is cleared when a confirmation is reported and set again only on recovery,
	// so that one negative occurrence yields at most one confirmation.
	armed bool
}

func NewDebouncer(cond Condition, grace time.Duration) *Debouncer {
	if grace < 0 {
		grace = 0
	}
	return &Debouncer{cond: cond, grace: grace, left: grace, armed: true}
}

// Update feeds the raw condition observed at `now`.
// It reports true exactly once per occurrence: on the update where the grace period runs out.
func (d *Debouncer) Update(holds bool, now time.Time) (DebouncedSignal, bool) {
	if !holds {
		d.reset(now)
		return d.Signal(), false
	}

	if d.state == StateRaw {
		d.state = StateGrace
		d.since = now
	}
	if d.state == StateGrace {
		elapsed := now.Sub(d.since)
		if elapsed < 0 {
			elapsed = 0
		}
		d.left = d.grace - elapsed
		if d.left <= 0 {
			d.left = 0
			d.state = StateConfirmed
		}
	}

	var confirmed bool
	if d.state == StateConfirmed && d.armed {
		d.armed = false
		confirmed = true
	}
	return d.Signal(), confirmed
}

// Reset drops any running grace period without reporting a confirmation.
func (d *Debouncer) Reset(now time.Time) {
	d.reset(now)
}

func (d *Debouncer) reset(now time.Time) {
	d.state = StateRaw
	d.since = now
	d.left = d.grace
	d.armed = true
}

func (d *Debouncer) Signal() DebouncedSignal {
	return DebouncedSignal{
		Condition: d.cond,
		State:     d.state,
		Grace:     d.grace,
		Remaining: d.left,
		Since:     d.since,
	}
}
