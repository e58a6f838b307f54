package monitor

import (
	"testing"
	"time"
)

func TestDebouncer_Update(t *testing.T) {
	type step struct {
		sec       float64
		holds     bool
		wantState DebounceState
		wantConf  bool
	}
	tests := []struct {
		name  string
		grace time.Duration
		steps []step
	}{
		{
			name:  "recovers within grace",
			grace: 5 * time.Second,
			steps: []step{
				{0, true, StateGrace, false},
				{2, true, StateGrace, false},
				{4, true, StateGrace, false},
				{5, false, StateRaw, false},
			},
		},
		{
			name:  "confirmed once at expiry",
			grace: 5 * time.Second,
			steps: []step{
				{0, true, StateGrace, false},
				{4, true, StateGrace, false},
				{5, true, StateConfirmed, true},
				{6, true, StateConfirmed, false},
				{30, true, StateConfirmed, false},
			},
		},
		{
			name:  "new occurrence after recovery",
			grace: 2 * time.Second,
			steps: []step{
				{0, true, StateGrace, false},
				{2, true, StateConfirmed, true},
				{3, false, StateRaw, false},
				{4, true, StateGrace, false},
				{6, true, StateConfirmed, true},
			},
		},
		{
			name:  "zero grace confirms immediately",
			grace: 0,
			steps: []step{
				{0, false, StateRaw, false},
				{1, true, StateConfirmed, true},
				{2, true, StateConfirmed, false},
			},
		},
		{
			name:  "flapping restarts grace",
			grace: 3 * time.Second,
			steps: []step{
				{0, true, StateGrace, false},
				{2, true, StateGrace, false},
				{3, false, StateRaw, false},
				{4, true, StateGrace, false},
				{6, true, StateGrace, false},
				{7, true, StateConfirmed, true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(FaceMissing, tt.grace)
			for _, s := range tt.steps {
				sig, conf := d.Update(s.holds, at(s.sec))
				if sig.State != s.wantState {
					t.Errorf("t=%v: Update() state = %v, want %v", s.sec, sig.State, s.wantState)
				}
				if conf != s.wantConf {
					t.Errorf("t=%v: Update() confirmed = %v, want %v", s.sec, conf, s.wantConf)
				}
			}
		})
	}
}

func TestDebouncer_Remaining(t *testing.T) {
	d := NewDebouncer(TabAway, 5*time.Second)
	d.Update(true, at(10))
	sig, _ := d.Update(true, at(12))
	if sig.Remaining != 3*time.Second {
		t.Errorf("Remaining = %v, want %v", sig.Remaining, 3*time.Second)
	}
	if !sig.Since.Equal(at(10)) {
		t.Errorf("Since = %v, want %v", sig.Since, at(10))
	}

	d.Reset(at(13))
	sig = d.Signal()
	if sig.State != StateRaw || sig.Remaining != 5*time.Second {
		t.Errorf("after Reset: state = %v, remaining = %v", sig.State, sig.Remaining)
	}
	if _, conf := d.Update(true, at(14)); conf {
		t.Error("Update() right after Reset confirmed")
	}
}
