package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/masomo-focus/core"
	"github.com/trezcool/masomo-focus/core/monitor"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errInteractiveStdin = errors.New("simulate reads its tick script from stdin: pipe a file in")
)

type simulateParams struct {
	kind      monitor.Kind
	duration  float64
	timeLimit float64
	tick      time.Duration
	rules     monitor.CompletionRules
}

// tickLine is one line of a tick script: `face,visible,focused,playing[,position]`.
type tickLine struct {
	face     bool
	focus    monitor.FocusState
	playing  bool
	position *float64
}

func parseTickLine(s string) (tickLine, error) {
	fields := strings.Split(s, ",")
	if len(fields) < 4 || len(fields) > 5 {
		return tickLine{}, errors.Errorf("want face,visible,focused,playing[,position] (got %q)", s)
	}
	flags := make([]bool, 4)
	for i, f := range fields[:4] {
		b, err := strconv.ParseBool(strings.TrimSpace(f))
		if err != nil {
			return tickLine{}, errors.Errorf("field %d must be a boolean (got %q)", i+1, f)
		}
		flags[i] = b
	}
	line := tickLine{
		face:    flags[0],
		focus:   monitor.FocusState{TabVisible: flags[1], WindowFocused: flags[2]},
		playing: flags[3],
	}
	if len(fields) == 5 {
		pos, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
		if err != nil || pos < 0 {
			return tickLine{}, errors.Errorf("position must be a number of seconds (got %q)", fields[4])
		}
		line.position = &pos
	}
	return line, nil
}

// simulate replays a tick script through a session: line N holds the signals observed
// N ticks after the start. It prints the validity changes, the ledger and the verdict.
func (cli *commandLine) simulate(p simulateParams) error {
	if f, ok := cli.in.(*os.File); ok && isTerminalFunc(int(f.Fd())) {
		return errInteractiveStdin
	}

	opts := monitor.Options{
		ID:                   uuid.New().String(),
		LearnerID:            "simulation",
		Kind:                 p.kind,
		TotalDurationSeconds: p.duration,
		TimeLimit:            core.SecondsDuration(p.timeLimit),
		Rules:                p.rules,
		TickInterval:         p.tick,
		CameraTimeout:        cli.conf.Monitor.CameraTimeout,
	}
	if err := cli.validate.Struct(opts); err != nil {
		return core.TranslateValidationError(err, monitor.ErrConfiguration, cli.translator)
	}
	policy, err := monitor.PolicyFor(opts.Kind)
	if err != nil {
		return err
	}
	opts.Policy = policy

	remote := monitor.NewRemote(0 /* never stale */)
	sources := monitor.Sources{Face: remote, Focus: remote, Camera: remote}
	if opts.Kind.Seekable() {
		sources.Playback = remote
	}
	sess := monitor.NewSession(opts, sources, cli.logger)

	var elapsed time.Duration
	sess.OnValidityChange(func(old, new monitor.Validity) {
		fmt.Fprintf(cli.out, "%8s  %s -> %s\n", elapsed, validityStr(old), validityStr(new))
	})

	apply := func(line tickLine, now time.Time) {
		conf := 0.0
		if line.face {
			conf = 1
		}
		remote.ReportFace(monitor.Detection{Present: line.face, Confidence: conf}, "")
		remote.ReportFocus(line.focus)
		remote.ReportPlayback(line.playing)
		if line.position != nil {
			if ev, ok := sess.ReportPosition(*line.position, now); ok {
				fmt.Fprintf(cli.out, "%8s  skip %ss -> %ss\n", elapsed, fmtSecs(ev.From), fmtSecs(ev.To))
			}
		}
	}

	ctx := context.Background()
	scanner := bufio.NewScanner(cli.in)
	var startedAt time.Time
	for n := 0; scanner.Scan() && !sess.Ended(); {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		line, err := parseTickLine(text)
		if err != nil {
			return errors.Wrapf(err, "line %d", n+1)
		}

		if n == 0 {
			remote.ReportCamera(true)
			apply(line, time.Now())
			if err = sess.Start(ctx); err != nil {
				return err
			}
			startedAt = sess.Record().StartedAt
		} else {
			elapsed = time.Duration(n) * p.tick
			now := startedAt.Add(elapsed)
			apply(line, now)
			sess.Tick(ctx, now)
		}
		n++
	}
	if err = scanner.Err(); err != nil {
		return errors.Wrap(err, "reading tick script")
	}
	if startedAt.IsZero() {
		return errors.New("empty tick script")
	}

	res, rec := sess.Finalize()
	cli.printReport(res, rec)
	return nil
}

func (cli *commandLine) printReport(res monitor.CompletionResult, rec monitor.Record) {
	l := rec.Ledger
	fmt.Fprintln(cli.out)
	fmt.Fprintf(cli.out, "valid watch time: %ss / %ss\n", fmtSecs(rec.ValidWatchSeconds), fmtSecs(rec.TotalDurationSeconds))
	fmt.Fprintf(cli.out, "elapsed:          %ss\n", fmtSecs(rec.ElapsedSeconds))
	fmt.Fprintf(cli.out, "tab switches:     %d\n", l.TabSwitches)
	fmt.Fprintf(cli.out, "face missing:     %d\n", l.FaceMissingEvents)
	fmt.Fprintf(cli.out, "auto pauses:      %d\n", l.AutoPauses)
	fmt.Fprintf(cli.out, "skips:            %d (%ss)\n", l.SkipCount, fmtSecs(l.SkippedSeconds))
	if rec.Terminated() {
		fmt.Fprintf(cli.out, "terminated:       %s\n", rec.TerminationReason)
	}
	if res.Accepted {
		fmt.Fprintln(cli.out, "verdict:          accepted")
		return
	}
	fmt.Fprintln(cli.out, "verdict:          rejected")
	for _, reason := range res.Reasons {
		fmt.Fprintf(cli.out, "  - %s\n", reason)
	}
}

func validityStr(v monitor.Validity) string {
	if v.Valid {
		return "valid"
	}
	return "invalid (" + v.Reason.String() + ")"
}

func fmtSecs(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
