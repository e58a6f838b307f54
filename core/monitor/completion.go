package monitor

import (
	"fmt"
	"math"
	"strconv"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-focus/core"
)

// ErrConfiguration is the cause of the *core.ValidationError returned for invalid session settings.
var ErrConfiguration = errors.New("invalid session configuration")

// CompletionRules are the thresholds deciding whether a finished session is accepted.
// They are fixed for the lifetime of a session.
type CompletionRules struct {
	MaxTabSwitches           int     `json:"max_tab_switches" validate:"min=0"`
	MaxFaceMissingEvents     int     `json:"max_face_missing_events" validate:"min=0"`
	MaxAutoPauses            int     `json:"max_auto_pauses" validate:"min=0"`
	MaxSkips                 int     `json:"max_skips" validate:"min=0"`
	MinWatchTimePercentage   float64 `json:"min_watch_time_percentage" validate:"ratio"`
	MaxSkippedTimePercentage float64 `json:"max_skipped_time_percentage" validate:"ratio"`
}

// ValidateRules returns a *core.ValidationError caused by ErrConfiguration if rules are invalid.
func ValidateRules(rules CompletionRules, validate *validator.Validate, translator ut.Translator) error {
	if err := validate.Struct(rules); err != nil {
		return core.TranslateValidationError(err, ErrConfiguration, translator)
	}
	return nil
}

// Record is the progress of one video or quiz session. It is read-only once finalized.
type Record struct {
	ID                   string            `json:"id"`
	LearnerID            string            `json:"learner_id"`
	Kind                 Kind              `json:"kind"`
	TotalDurationSeconds float64           `json:"total_duration_seconds"`
	ValidWatchSeconds    float64           `json:"valid_watch_seconds"`
	ElapsedSeconds       float64           `json:"elapsed_seconds"`
	Ledger               Ledger            `json:"ledger"`
	Completed            bool              `json:"completed"`
	TerminationReason    Reason            `json:"termination_reason"`
	Rules                CompletionRules   `json:"rules"`
	Result               *CompletionResult `json:"result,omitempty"`
	StartedAt            time.Time         `json:"started_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	FinalizedAt          time.Time         `json:"finalized_at"`
}

func (r Record) Terminated() bool { return r.TerminationReason != ReasonNone }

func (r Record) Finalized() bool { return r.Result != nil }

// CompletionResult is the verdict on a finished session.
type CompletionResult struct {
	Accepted bool     `json:"accepted"`
	Reasons  []string `json:"reasons"`
}

// EvaluateCompletion decides whether a finished session is accepted.
// Every failing check adds a reason; the session is accepted only when none fails.
func EvaluateCompletion(rec Record, rules CompletionRules) CompletionResult {
	reasons := make([]string, 0)

	if rec.Terminated() {
		reasons = append(reasons, fmt.Sprintf("attempt terminated: %s", rec.TerminationReason))
	}

	minWatch := rec.TotalDurationSeconds * rules.MinWatchTimePercentage
	if rec.ValidWatchSeconds < minWatch {
		reasons = append(reasons, fmt.Sprintf(
			"valid watch time too low: %ss < %ss (%s%% of %ss)",
			secs(rec.ValidWatchSeconds), secs(minWatch),
			secs(rules.MinWatchTimePercentage*100), secs(rec.TotalDurationSeconds),
		))
	}

	l := rec.Ledger
	if l.TabSwitches > rules.MaxTabSwitches {
		reasons = append(reasons, fmt.Sprintf("too many tab switches: %d > %d", l.TabSwitches, rules.MaxTabSwitches))
	}
	if l.FaceMissingEvents > rules.MaxFaceMissingEvents {
		reasons = append(reasons, fmt.Sprintf("face missing too often: %d > %d", l.FaceMissingEvents, rules.MaxFaceMissingEvents))
	}
	if l.AutoPauses > rules.MaxAutoPauses {
		reasons = append(reasons, fmt.Sprintf("too many automatic pauses: %d > %d", l.AutoPauses, rules.MaxAutoPauses))
	}
	if l.SkipCount > rules.MaxSkips {
		reasons = append(reasons, fmt.Sprintf("too many skips: %d > %d", l.SkipCount, rules.MaxSkips))
	}
	if rec.TotalDurationSeconds > 0 {
		ratio := l.SkippedSeconds / rec.TotalDurationSeconds
		if ratio > rules.MaxSkippedTimePercentage {
			reasons = append(reasons, fmt.Sprintf(
				"too much content skipped: %s%% > %s%%",
				secs(ratio*100), secs(rules.MaxSkippedTimePercentage*100),
			))
		}
	}

	return CompletionResult{Accepted: len(reasons) == 0, Reasons: reasons}
}

// secs formats a number of seconds (or a percentage) with at most 2 decimals.
func secs(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}
