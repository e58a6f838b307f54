package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-focus/core"
)

func lenientRules() CompletionRules {
	return CompletionRules{
		MaxTabSwitches:           10,
		MaxFaceMissingEvents:     10,
		MaxAutoPauses:            10,
		MaxSkips:                 10,
		MinWatchTimePercentage:   0.9,
		MaxSkippedTimePercentage: 0.1,
	}
}

func TestEvaluateCompletion(t *testing.T) {
	tests := []struct {
		name         string
		rec          Record
		rules        func(r *CompletionRules)
		wantAccepted bool
		wantReasons  []string
	}{
		{
			name:         "accepted",
			rec:          Record{TotalDurationSeconds: 600, ValidWatchSeconds: 600},
			wantAccepted: true,
			wantReasons:  []string{},
		},
		{
			name: "watch time shortfall",
			rec:  Record{TotalDurationSeconds: 600, ValidWatchSeconds: 500},
			wantReasons: []string{
				"valid watch time too low: 500s < 540s (90% of 600s)",
			},
		},
		{
			name:         "exactly the minimum",
			rec:          Record{TotalDurationSeconds: 600, ValidWatchSeconds: 540},
			wantAccepted: true,
			wantReasons:  []string{},
		},
		{
			name: "every reason",
			rec: Record{
				TotalDurationSeconds: 100,
				ValidWatchSeconds:    10,
				TerminationReason:    ReasonTabAway,
				Ledger: Ledger{
					TabSwitches:       2,
					FaceMissingEvents: 3,
					AutoPauses:        4,
					SkipCount:         5,
					SkippedSeconds:    50,
				},
			},
			rules: func(r *CompletionRules) {
				r.MaxTabSwitches, r.MaxFaceMissingEvents, r.MaxAutoPauses, r.MaxSkips = 1, 2, 3, 4
			},
			wantReasons: []string{
				"attempt terminated: tab_away",
				"valid watch time too low: 10s < 90s (90% of 100s)",
				"too many tab switches: 2 > 1",
				"face missing too often: 3 > 2",
				"too many automatic pauses: 4 > 3",
				"too many skips: 5 > 4",
				"too much content skipped: 50% > 10%",
			},
		},
		{
			name: "limits are inclusive",
			rec: Record{
				TotalDurationSeconds: 100,
				ValidWatchSeconds:    100,
				Ledger:               Ledger{TabSwitches: 10, SkipCount: 10, SkippedSeconds: 10},
			},
			wantAccepted: true,
			wantReasons:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := lenientRules()
			if tt.rules != nil {
				tt.rules(&rules)
			}
			got := EvaluateCompletion(tt.rec, rules)
			assert.Equal(t, tt.wantAccepted, got.Accepted)
			assert.Equal(t, tt.wantReasons, got.Reasons)
		})
	}
}

func TestValidateRules(t *testing.T) {
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)

	assert.NoError(t, ValidateRules(lenientRules(), validate, translator))

	rules := lenientRules()
	rules.MaxTabSwitches = -1
	rules.MinWatchTimePercentage = 1.5
	err := ValidateRules(rules, validate, translator)
	vErr, ok := err.(*core.ValidationError)
	if !assert.True(t, ok, "ValidateRules() error = %T, want *core.ValidationError", err) {
		return
	}
	assert.Equal(t, ErrConfiguration, vErr.Err)
	assert.ElementsMatch(t, []core.FieldError{
		{Field: "max_tab_switches", Error: "max_tab_switches must be 0 or greater"},
		{Field: "min_watch_time_percentage", Error: "min_watch_time_percentage must be a ratio between 0 and 1"},
	}, vErr.Fields)
}
