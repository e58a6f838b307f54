package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-focus/core"
	"github.com/trezcool/masomo-focus/core/monitor"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf       *core.Config
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
	in         io.Reader
	out        io.Writer

	// set for the commands needing the DB
	db   *sqlx.DB
	repo monitor.Repository
}

func newCommandLine(conf *core.Config, logger core.Logger, in io.Reader, out io.Writer) *commandLine {
	translator := core.NewTranslator()
	return &commandLine{
		conf:       conf,
		logger:     logger,
		validate:   core.NewValidator(translator),
		translator: translator,
		in:         in,
		out:        out,
	}
}

// needsDB tells whether the command in args reads or writes the DB.
func needsDB(args []string) bool {
	if len(args) < 2 {
		return false
	}
	switch args[1] {
	case "migrate", "purge":
		return true
	}
	return false
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  simulate -kind video|quiz -duration SECONDS [-tick DURATION] < SCRIPT - replay a tick script")
	fmt.Fprintln(cli.out, "  purge -before RFC3339 - delete the session records started before the given time")
	fmt.Fprintln(cli.out, "  token -learner ID [-name NAME] [-email EMAIL] [-admin] - print an API token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	simulateCmd := flag.NewFlagSet("simulate", flag.ContinueOnError)
	simulateCmd.SetOutput(cli.out)
	simulateKind := simulateCmd.String("kind", string(monitor.KindVideo), "The kind of session: video, quiz or panel.")
	simulateDuration := simulateCmd.Float64("duration", 0, "The total duration of the content, in seconds.")
	simulateTimeLimit := simulateCmd.Float64("time-limit", 0, "The time limit of the session, in seconds (0: none).")
	simulateTick := simulateCmd.Duration("tick", time.Second, "The time between two script lines.")
	rules := monitor.CompletionRules{}
	simulateCmd.IntVar(&rules.MaxTabSwitches, "max-tab-switches", 3, "Maximum number of tab switches.")
	simulateCmd.IntVar(&rules.MaxFaceMissingEvents, "max-face-missing", 3, "Maximum number of face missing events.")
	simulateCmd.IntVar(&rules.MaxAutoPauses, "max-auto-pauses", 5, "Maximum number of automatic pauses.")
	simulateCmd.IntVar(&rules.MaxSkips, "max-skips", 2, "Maximum number of skips.")
	simulateCmd.Float64Var(&rules.MinWatchTimePercentage, "min-watch", 0.9, "Minimum ratio of valid watch time.")
	simulateCmd.Float64Var(&rules.MaxSkippedTimePercentage, "max-skipped", 0.1, "Maximum ratio of skipped content.")

	purgeCmd := flag.NewFlagSet("purge", flag.ContinueOnError)
	purgeCmd.SetOutput(cli.out)
	purgeBefore := purgeCmd.String("before", "", "Delete the records of the sessions started before this time (RFC3339).")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenCmd.SetOutput(cli.out)
	tokenLearner := tokenCmd.String("learner", "", "The learner ID (token subject).")
	tokenName := tokenCmd.String("name", "", "The learner's name.")
	tokenEmail := tokenCmd.String("email", "", "The learner's email.")
	tokenAdmin := tokenCmd.Bool("admin", false, "Grant access to every learner's records.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "simulate":
		if err := simulateCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *simulateDuration <= 0 || *simulateTick <= 0 {
			simulateCmd.Usage()
			return errHelp
		}
		return cli.simulate(simulateParams{
			kind:      monitor.Kind(core.CleanString(*simulateKind, true /* lower */)),
			duration:  *simulateDuration,
			timeLimit: *simulateTimeLimit,
			tick:      *simulateTick,
			rules:     rules,
		})
	case "purge":
		if err := purgeCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *purgeBefore == "" {
			purgeCmd.Usage()
			return errHelp
		}
		before, err := time.Parse(time.RFC3339, *purgeBefore)
		if err != nil {
			return fmt.Errorf("before must be an RFC3339 time (got '%s')", *purgeBefore)
		}
		return cli.purge(before)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		learner := core.CleanString(*tokenLearner)
		if learner == "" {
			tokenCmd.Usage()
			return errHelp
		}
		person := core.Person{ID: learner, Name: core.CleanString(*tokenName), Email: core.CleanString(*tokenEmail, true /* lower */)}
		return cli.token(person, *tokenAdmin)
	default:
		cli.printUsage()
		return errHelp
	}
}
