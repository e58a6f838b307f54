package monitor

import (
	"encoding/json"
	"time"
)

// ViolationKind is a kind of integrity-relevant event.
type ViolationKind string

const (
	ViolationTabSwitch   ViolationKind = "tab_switch"
	ViolationFaceMissing ViolationKind = "face_missing"
	ViolationAutoPause   ViolationKind = "auto_pause"
	ViolationSkip        ViolationKind = "skip"
)

// Ledger counts the violations of a session. Counters never decrease.
type Ledger struct {
	TabSwitches       int     `json:"tab_switches"`
	FaceMissingEvents int     `json:"face_missing_events"`
	AutoPauses        int     `json:"auto_pauses"`
	SkipCount         int     `json:"skip_count"`
	SkippedSeconds    float64 `json:"skipped_seconds"`
}

// Violation is one ledger increment, ordered by Seq within its session.
type Violation struct {
	Seq        int           `json:"seq"`
	Tick       uint64        `json:"tick"`
	Kind       ViolationKind `json:"kind"`
	Amount     float64       `json:"amount,omitempty"` // skipped seconds for ViolationSkip
	OccurredAt time.Time     `json:"occurred_at"`
}

func (l Ledger) Empty() bool {
	return l == Ledger{}
}

func (l *Ledger) apply(v Violation) {
	switch v.Kind {
	case ViolationTabSwitch:
		l.TabSwitches++
	case ViolationFaceMissing:
		l.FaceMissingEvents++
	case ViolationAutoPause:
		l.AutoPauses++
	case ViolationSkip:
		l.SkipCount++
		l.SkippedSeconds += v.Amount
	}
}

// Replay rebuilds a Ledger from its violations.
func Replay(violations []Violation) Ledger {
	var l Ledger
	for _, v := range violations {
		l.apply(v)
	}
	return l
}

func (l Ledger) String() string {
	b, _ := json.Marshal(l)
	return string(b)
}
