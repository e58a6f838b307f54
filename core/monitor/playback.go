package monitor

import (
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-focus/core"
)

type command int

const (
	cmdNone command = iota
	cmdPause
	cmdPlay
)

func (c command) String() string {
	switch c {
	case cmdPause:
		return "pause"
	case cmdPlay:
		return "play"
	}
	return "none"
}

// Coordinator pauses and resumes the media sink on validity transitions.
// It only resumes playback it paused itself: pauses made by the learner are left alone.
// While it holds playback the player is paused already, so a learner pause in that window
// cannot be told apart from the hold: playback resumes once the session is valid again.
type Coordinator struct {
	sink   PlaybackSource
	logger core.Logger

	pausedByPolicy bool
	pending        command // last command the sink rejected
}

func NewCoordinator(sink PlaybackSource, logger core.Logger) *Coordinator {
	return &Coordinator{sink: sink, logger: logger}
}

// PausedByPolicy tells whether playback is currently held by the coordinator.
func (c *Coordinator) PausedByPolicy() bool { return c.pausedByPolicy }

// OnValidityChange reacts to a validity transition.
// It returns true when the transition is an automatic pause to record in the ledger.
func (c *Coordinator) OnValidityChange(old, new Validity) bool {
	switch {
	case old.Valid && !new.Valid:
		if new.Reason == ReasonPlaybackPaused {
			return false // paused by the learner
		}
		c.pausedByPolicy = true
		c.send(cmdPause)
		return new.Reason != ReasonTimeLimitReached
	case !old.Valid && new.Valid:
		if c.pausedByPolicy {
			c.pausedByPolicy = false
			c.send(cmdPlay)
		}
	}
	return false
}

// Hold pauses playback when a session starts invalid, without it counting as an automatic pause.
func (c *Coordinator) Hold(current Validity) {
	if current.Valid || current.Reason == ReasonPlaybackPaused {
		return
	}
	c.pausedByPolicy = true
	c.send(cmdPause)
}

// Enforce runs on every tick: it retries a rejected command and
// pauses again if playback was restarted while held.
func (c *Coordinator) Enforce(current Validity) {
	if c.sink == nil {
		return
	}
	if c.pending != cmdNone {
		c.send(c.pending)
		return
	}
	if c.pausedByPolicy && !current.Valid && c.sink.IsPlaying() {
		c.send(cmdPause)
	}
}

// Halt pauses playback for good, e.g. on a terminated attempt.
func (c *Coordinator) Halt() {
	c.pausedByPolicy = true
	c.send(cmdPause)
}

func (c *Coordinator) send(cmd command) {
	if c.sink == nil {
		return
	}
	var err error
	switch cmd {
	case cmdPause:
		err = c.sink.Pause()
	case cmdPlay:
		err = c.sink.Play()
	default:
		return
	}
	if err != nil {
		c.pending = cmd
		c.logger.Warn("playback command failed, retrying next tick", errors.Wrapf(ErrSinkCommand, "%s: %v", cmd, err))
		return
	}
	c.pending = cmdNone
}
